package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/paging"
)

// PaymentMethod is how the customer settles the order.
type PaymentMethod string

const (
	// PaymentCOD is cash on delivery.
	PaymentCOD PaymentMethod = "cod"
	// PaymentMoMo is a wallet payment, treated as settled at checkout.
	PaymentMoMo PaymentMethod = "momo"
)

// ParsePaymentMethod returns the PaymentMethod named by s.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case PaymentCOD, PaymentMoMo:
		return m, nil
	default:
		return "", ErrInvalidPaymentMethod
	}
}

// InitialStatus is the status an order paid with m starts in.
func (m PaymentMethod) InitialStatus() Status {
	if m == PaymentMoMo {
		return StatusPaid
	}
	return StatusPending
}

var (
	ErrInvalidID            = fault.Validation("invalid_order_id", "invalid order id")
	ErrOrderNotFound        = fault.NotFound("order_not_found", "order not found")
	ErrEmptyItems           = fault.Validation("order_items_required", "order must contain at least one item")
	ErrInvalidShippingFee   = fault.Validation("invalid_shipping_fee", "shipping fee must be a non-negative amount with at most 2 decimal places")
	ErrInvalidPaymentMethod = fault.Validation("invalid_payment_method", "payment method must be one of: cod, momo")
	ErrReasonRequired       = fault.Validation("delete_reason_required", "a reason is required to delete an order")
	ErrStatusConflict       = fault.Conflict("order_status_conflict", "order status was changed by another request, reload and try again")

	// ErrDuplicateIdentity is returned by a Repository when the generated
	// order number or access token collides with an existing order.
	ErrDuplicateIdentity = errors.New("order number or access token already in use")

	// ErrPreconditionFailed is returned by a Repository when a conditional
	// write matched no order.
	ErrPreconditionFailed = errors.New("order write precondition not met")
)

// ProductNotFoundError indicates a requested product cannot be resolved.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return "product " + e.ProductID + " not found"
}

// FaultKind implements fault.Classified.
func (e *ProductNotFoundError) FaultKind() fault.Kind { return fault.KindValidation }

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return "quantity must be greater than 0 for product " + e.ProductID
}

// FaultKind implements fault.Classified.
func (e *InvalidQuantityError) FaultKind() fault.Kind { return fault.KindValidation }

// LineItem is a product snapshot taken when the order was priced.
type LineItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

// LineTotal is Price × Quantity.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Customer is the contact and delivery address block.
type Customer struct {
	FullName string `json:"fullName" validate:"required,max=120"`
	Phone    string `json:"phone" validate:"required,max=20"`
	Province string `json:"province" validate:"required,max=100"`
	District string `json:"district" validate:"required,max=100"`
	Ward     string `json:"ward" validate:"required,max=100"`
	Address  string `json:"address" validate:"required,max=255"`
	Notes    string `json:"notes,omitempty" validate:"max=500"`
}

// Normalize trims every field.
func (c *Customer) Normalize() {
	c.FullName = strings.TrimSpace(c.FullName)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Province = strings.TrimSpace(c.Province)
	c.District = strings.TrimSpace(c.District)
	c.Ward = strings.TrimSpace(c.Ward)
	c.Address = strings.TrimSpace(c.Address)
	c.Notes = strings.TrimSpace(c.Notes)
}

// Validate checks the required fields after Normalize.
func (c *Customer) Validate() error {
	return fault.CheckStruct("invalid_customer", c)
}

// Promotion records the coupon redeemed at checkout.
type Promotion struct {
	CouponID       string              `json:"couponId"`
	Code           string              `json:"code"`
	DiscountType   coupon.DiscountType `json:"discountType"`
	DiscountAmount decimal.Decimal     `json:"discountAmount"`
}

// Order is an immutable priced snapshot plus its lifecycle state.
type Order struct {
	ID            string          `json:"id"`
	Number        string          `json:"orderNumber"`
	AccessToken   string          `json:"accessToken"`
	UserID        string          `json:"userId,omitempty"`
	Items         []LineItem      `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	ShippingFee   decimal.Decimal `json:"shippingFee"`
	Total         decimal.Decimal `json:"total"`
	Promotion     *Promotion      `json:"promotion,omitempty"`
	AmountDue     decimal.Decimal `json:"amountDue"`
	Customer      Customer        `json:"customerInfo"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	Status        Status          `json:"status"`
	History       StatusHistory   `json:"statusHistory"`
	DeletedAt     *time.Time      `json:"deletedAt,omitempty"`
	DeletedBy     string          `json:"deletedBy,omitempty"`
	DeleteReason  string          `json:"deleteReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Archived reports whether the order has been soft-deleted.
func (o *Order) Archived() bool {
	return o.DeletedAt != nil
}

// Deletion is the soft-delete metadata written by Archive.
type Deletion struct {
	At     time.Time
	By     string
	Reason string
}

// ListFilter selects orders for listing. Archived orders are excluded unless
// IncludeDeleted is set.
type ListFilter struct {
	Page           paging.Request
	Status         *Status
	UserID         string
	IncludeDeleted bool
}

// Repository persists orders. Orders are never physically deleted.
type Repository interface {
	// Create inserts o with a single write. It fails with
	// ErrDuplicateIdentity when o.Number or o.AccessToken is taken.
	Create(ctx context.Context, o *Order) error

	// Get returns the order with the given id, archived or not.
	Get(ctx context.Context, id string) (*Order, error)

	// List returns a page of orders, newest first, and the total match count.
	List(ctx context.Context, f ListFilter) ([]Order, int64, error)

	// UpdateStatus sets the status to entry.To and appends entry to the
	// history only if the order is not archived and its status is still
	// from. Otherwise it fails with ErrPreconditionFailed.
	UpdateStatus(ctx context.Context, id string, from Status, entry HistoryEntry) (*Order, error)

	// Archive sets the deletion metadata only if the order exists and is not
	// archived yet. Otherwise it fails with ErrPreconditionFailed.
	Archive(ctx context.Context, id string, d Deletion) (*Order, error)
}
