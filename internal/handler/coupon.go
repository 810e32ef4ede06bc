package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
)

// publicCoupon is the shopper view of a coupon. It hides counters and the
// list of redeeming users.
type publicCoupon struct {
	Code               string              `json:"code"`
	Name               string              `json:"name"`
	Description        string              `json:"description"`
	DiscountType       coupon.DiscountType `json:"discountType"`
	DiscountValue      decimal.Decimal     `json:"discountValue"`
	MaximumDiscount    *decimal.Decimal    `json:"maximumDiscount,omitempty"`
	MinimumOrderAmount decimal.Decimal     `json:"minimumOrderAmount"`
	ValidUntil         *time.Time          `json:"validUntil,omitempty"`
}

func toPublicCoupon(c *coupon.Coupon) publicCoupon {
	return publicCoupon{
		Code:               c.Code,
		Name:               c.Name,
		Description:        c.Description,
		DiscountType:       c.DiscountType,
		DiscountValue:      c.DiscountValue,
		MaximumDiscount:    c.MaximumDiscount,
		MinimumOrderAmount: c.MinimumOrderAmount,
		ValidUntil:         c.ValidUntil,
	}
}

type validateCouponRequest struct {
	Code     string          `json:"code"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type validateCouponResponse struct {
	Valid          bool            `json:"valid"`
	Coupon         publicCoupon    `json:"coupon"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
}

type redemptionRequest struct {
	UserID string `json:"userId"`
}

// validateCoupon previews the discount for a subtotal without consuming a
// use.
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	res, err := h.coupons.Validate(r.Context(), req.Code, req.Subtotal, callerFrom(r).UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validateCouponResponse{
		Valid:          res.Valid,
		Coupon:         toPublicCoupon(res.Coupon),
		DiscountAmount: res.DiscountAmount,
	})
}

func (h *Handler) availableCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.ListAvailable(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]publicCoupon, len(coupons))
	for i := range coupons {
		out[i] = toPublicCoupon(&coupons[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) adminListCoupons(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	active, err := boolQuery(r, "active")
	if err != nil {
		fail(w, r, err)
		return
	}
	coupons, info, err := h.coupons.List(r.Context(), coupon.ListFilter{Page: page, Active: active})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse[coupon.Coupon]{Data: coupons, Pagination: info})
}

func (h *Handler) adminCreateCoupon(w http.ResponseWriter, r *http.Request) {
	var def coupon.Definition
	if err := decode(w, r, &def); err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.coupons.Create(r.Context(), def, callerFrom(r).UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) adminGetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) adminUpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var def coupon.Definition
	if err := decode(w, r, &def); err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.coupons.Update(r.Context(), chi.URLParam(r, "id"), def)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) adminDeleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.coupons.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// adminDeactivateCoupon retires a coupon without deleting it, for codes
// that were already used.
func (h *Handler) adminDeactivateCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Deactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// adminRedeemCoupon consumes one use on behalf of userId, for manual
// adjustments.
func (h *Handler) adminRedeemCoupon(w http.ResponseWriter, r *http.Request) {
	var req redemptionRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			fail(w, r, err)
			return
		}
	}
	c, err := h.coupons.Redeem(r.Context(), chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) adminUnredeemCoupon(w http.ResponseWriter, r *http.Request) {
	var req redemptionRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			fail(w, r, err)
			return
		}
	}
	id := chi.URLParam(r, "id")
	if err := h.coupons.Unredeem(r.Context(), id, req.UserID); err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.coupons.Get(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
