package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
)

type createOrderRequest struct {
	Items         []order.LineRequest `json:"items"`
	PaymentMethod string              `json:"paymentMethod"`
	Customer      order.Customer      `json:"customerInfo"`
	ShippingFee   *decimal.Decimal    `json:"shippingFee"`
	CouponCode    string              `json:"couponCode"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type archiveRequest struct {
	Reason string `json:"reason"`
}

// createOrder places an order. The response carries the access token a
// guest needs to read the order back. Only admins may override the
// shipping fee.
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	who := callerFrom(r)
	if req.ShippingFee != nil && who.Role != roleAdmin {
		writeError(w, http.StatusForbidden, "shipping_fee_forbidden", "only admins may set the shipping fee")
		return
	}
	o, err := h.orders.Create(r.Context(), order.CreateRequest{
		Items:         req.Items,
		PaymentMethod: req.PaymentMethod,
		Customer:      req.Customer,
		UserID:        who.UserID,
		ShippingFee:   req.ShippingFee,
		CouponCode:    req.CouponCode,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// getOrder lets the owner read the order by id, or anyone holding the
// access token.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	token := r.URL.Query().Get("token")
	uid := callerFrom(r).UserID

	if token == "" && uid == "" {
		fail(w, r, order.ErrOrderNotFound)
		return
	}
	o, err := h.orders.Get(r.Context(), id, order.GetOptions{AccessToken: token})
	if err != nil {
		fail(w, r, err)
		return
	}
	if token == "" && o.UserID != uid {
		fail(w, r, order.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.listOrders(w, r, order.ListQuery{
		Page:   page,
		Status: r.URL.Query().Get("status"),
		UserID: callerFrom(r).UserID,
	})
}

func (h *Handler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	withDeleted, err := boolQuery(r, "includeDeleted")
	if err != nil {
		fail(w, r, err)
		return
	}
	q := r.URL.Query()
	h.listOrders(w, r, order.ListQuery{
		Page:           page,
		Status:         q.Get("status"),
		UserID:         q.Get("userId"),
		IncludeDeleted: withDeleted != nil && *withDeleted,
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, q order.ListQuery) {
	orders, info, err := h.orders.List(r.Context(), q)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse[order.Order]{Data: orders, Pagination: info})
}

func (h *Handler) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"), order.GetOptions{IncludeDeleted: true})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) adminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	next, err := order.ParseStatus(req.Status)
	if err != nil {
		fail(w, r, err)
		return
	}
	o, err := h.orders.TransitionStatus(r.Context(), chi.URLParam(r, "id"), next, callerFrom(r).UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// adminArchiveOrder soft-deletes an order. The reason comes from the JSON
// body or, for clients that cannot send a DELETE body, the reason query.
func (h *Handler) adminArchiveOrder(w http.ResponseWriter, r *http.Request) {
	req := archiveRequest{Reason: r.URL.Query().Get("reason")}
	if req.Reason == "" && r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			fail(w, r, err)
			return
		}
	}
	o, err := h.orders.Archive(r.Context(), chi.URLParam(r, "id"), callerFrom(r).UserID, req.Reason)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
