// Package handler exposes the order and coupon services over HTTP with chi.
// Caller identity is trusted from the gateway headers X-User-ID and
// X-User-Role.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/paging"
)

const (
	userIDHeader   = "X-User-ID"
	userRoleHeader = "X-User-Role"
	roleAdmin      = "admin"

	maxBodyBytes = 1 << 20
)

// Orders is the order lifecycle surface used by the handlers.
type Orders interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	Get(ctx context.Context, id string, opts order.GetOptions) (*order.Order, error)
	List(ctx context.Context, q order.ListQuery) ([]order.Order, paging.Info, error)
	TransitionStatus(ctx context.Context, id string, next order.Status, actorID string) (*order.Order, error)
	Archive(ctx context.Context, id, actorID, reason string) (*order.Order, error)
}

// Coupons is the promotion ledger surface used by the handlers.
type Coupons interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal, userID string) (*coupon.ValidationResult, error)
	Redeem(ctx context.Context, id, userID string) (*coupon.Coupon, error)
	Unredeem(ctx context.Context, id, userID string) error
	Create(ctx context.Context, def coupon.Definition, actorID string) (*coupon.Coupon, error)
	Update(ctx context.Context, id string, def coupon.Definition) (*coupon.Coupon, error)
	Delete(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) (*coupon.Coupon, error)
	Get(ctx context.Context, id string) (*coupon.Coupon, error)
	List(ctx context.Context, f coupon.ListFilter) ([]coupon.Coupon, paging.Info, error)
	ListAvailable(ctx context.Context) ([]coupon.Coupon, error)
}

var (
	_ Orders  = (*order.Manager)(nil)
	_ Coupons = (*coupon.Ledger)(nil)
)

// Handler serves the storefront API.
type Handler struct {
	orders  Orders
	coupons Coupons
}

// New returns a Handler serving orders and coupons.
func New(orders Orders, coupons Coupons) *Handler {
	return &Handler{orders: orders, coupons: coupons}
}

// Routes mounts the API under /api on a new chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route_not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", h.createOrder)
		r.Get("/orders/{id}", h.getOrder)
		r.With(requireUser).Get("/me/orders", h.listMyOrders)

		r.Post("/coupons/validate", h.validateCoupon)
		r.Get("/coupons/available", h.availableCoupons)

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)

			r.Get("/orders", h.adminListOrders)
			r.Get("/orders/{id}", h.adminGetOrder)
			r.Patch("/orders/{id}/status", h.adminUpdateStatus)
			r.Delete("/orders/{id}", h.adminArchiveOrder)

			r.Get("/coupons", h.adminListCoupons)
			r.Post("/coupons", h.adminCreateCoupon)
			r.Get("/coupons/{id}", h.adminGetCoupon)
			r.Put("/coupons/{id}", h.adminUpdateCoupon)
			r.Delete("/coupons/{id}", h.adminDeleteCoupon)
			r.Post("/coupons/{id}/deactivate", h.adminDeactivateCoupon)
			r.Post("/coupons/{id}/redeem", h.adminRedeemCoupon)
			r.Post("/coupons/{id}/unredeem", h.adminUnredeemCoupon)
		})
	})
	return r
}

type caller struct {
	UserID string
	Role   string
}

func callerFrom(r *http.Request) caller {
	return caller{
		UserID: r.Header.Get(userIDHeader),
		Role:   r.Header.Get(userRoleHeader),
	}
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if callerFrom(r).UserID == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := callerFrom(r)
		switch {
		case c.UserID == "":
			writeError(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
		case c.Role != roleAdmin:
			writeError(w, http.StatusForbidden, "forbidden", "admin role required")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type pageResponse[T any] struct {
	Data       []T         `json:"data"`
	Pagination paging.Info `json:"pagination"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// fail maps a domain error to its HTTP status. Unclassified errors are
// logged and answered with a generic 500.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := fault.KindOf(err)
	code := fault.CodeOf(err)
	if code == "" {
		code = kind.String()
	}

	var status int
	switch kind {
	case fault.KindValidation:
		status = http.StatusBadRequest
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindConflict:
		status = http.StatusConflict
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}

var errMalformedBody = fault.Validation("malformed_body", "request body is not valid JSON")

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errMalformedBody
	}
	return nil
}

func pageFrom(r *http.Request) (paging.Request, error) {
	var (
		p   paging.Request
		err error
	)
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		if p.Page, err = strconv.Atoi(v); err != nil {
			return p, fault.Validation("invalid_page", "page must be an integer")
		}
	}
	if v := q.Get("limit"); v != "" {
		if p.Limit, err = strconv.Atoi(v); err != nil {
			return p, fault.Validation("invalid_limit", "limit must be an integer")
		}
	}
	return p, nil
}

func boolQuery(r *http.Request, name string) (*bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fault.Validationf("invalid_"+name, "%s must be true or false", name)
	}
	return &b, nil
}
