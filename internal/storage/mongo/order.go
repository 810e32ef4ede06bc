package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

type lineItemDoc struct {
	ProductID string               `bson:"productId"`
	Name      string               `bson:"name"`
	Price     primitive.Decimal128 `bson:"price"`
	Quantity  int                  `bson:"quantity"`
	Image     string               `bson:"image,omitempty"`
}

type customerDoc struct {
	FullName string `bson:"fullName"`
	Phone    string `bson:"phone"`
	Province string `bson:"province"`
	District string `bson:"district"`
	Ward     string `bson:"ward"`
	Address  string `bson:"address"`
	Notes    string `bson:"notes,omitempty"`
}

type promotionDoc struct {
	CouponID       string               `bson:"couponId"`
	Code           string               `bson:"code"`
	DiscountType   string               `bson:"discountType"`
	DiscountAmount primitive.Decimal128 `bson:"discountAmount"`
}

type historyDoc struct {
	From      *string   `bson:"from"`
	To        string    `bson:"to"`
	ChangedAt time.Time `bson:"changedAt"`
	ChangedBy *string   `bson:"changedBy"`
	Note      string    `bson:"note"`
}

type orderDoc struct {
	ID            string               `bson:"_id"`
	Number        string               `bson:"orderNumber"`
	AccessToken   string               `bson:"accessToken"`
	UserID        *string              `bson:"userId"`
	Items         []lineItemDoc        `bson:"items"`
	Subtotal      primitive.Decimal128 `bson:"subtotal"`
	ShippingFee   primitive.Decimal128 `bson:"shippingFee"`
	Total         primitive.Decimal128 `bson:"total"`
	AmountDue     primitive.Decimal128 `bson:"amountDue"`
	Promotion     *promotionDoc        `bson:"promotion,omitempty"`
	Customer      customerDoc          `bson:"customerInfo"`
	PaymentMethod string               `bson:"paymentMethod"`
	Status        string               `bson:"status"`
	StatusHistory []historyDoc         `bson:"statusHistory"`
	DeletedAt     *time.Time           `bson:"deletedAt"`
	DeletedBy     *string              `bson:"deletedBy"`
	DeleteReason  *string              `bson:"deleteReason"`
	CreatedAt     time.Time            `bson:"createdAt"`
	UpdatedAt     time.Time            `bson:"updatedAt"`
}

func newHistoryDoc(e order.HistoryEntry) historyDoc {
	d := historyDoc{
		To:        string(e.To),
		ChangedAt: e.At,
		ChangedBy: optString(e.ActorID),
		Note:      e.Note,
	}
	if e.From != nil {
		from := string(*e.From)
		d.From = &from
	}
	return d
}

func newOrderDoc(o *order.Order) (orderDoc, error) {
	var enc decimalEncoder
	d := orderDoc{
		ID:          o.ID,
		Number:      o.Number,
		AccessToken: o.AccessToken,
		UserID:      optString(o.UserID),
		Items:       make([]lineItemDoc, len(o.Items)),
		Subtotal:    enc.encode(o.Subtotal),
		ShippingFee: enc.encode(o.ShippingFee),
		Total:       enc.encode(o.Total),
		AmountDue:   enc.encode(o.AmountDue),
		Customer: customerDoc{
			FullName: o.Customer.FullName,
			Phone:    o.Customer.Phone,
			Province: o.Customer.Province,
			District: o.Customer.District,
			Ward:     o.Customer.Ward,
			Address:  o.Customer.Address,
			Notes:    o.Customer.Notes,
		},
		PaymentMethod: string(o.PaymentMethod),
		Status:        string(o.Status),
		DeletedAt:     o.DeletedAt,
		DeletedBy:     optString(o.DeletedBy),
		DeleteReason:  optString(o.DeleteReason),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	for i, item := range o.Items {
		d.Items[i] = lineItemDoc{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     enc.encode(item.Price),
			Quantity:  item.Quantity,
			Image:     item.Image,
		}
	}
	if p := o.Promotion; p != nil {
		d.Promotion = &promotionDoc{
			CouponID:       p.CouponID,
			Code:           p.Code,
			DiscountType:   string(p.DiscountType),
			DiscountAmount: enc.encode(p.DiscountAmount),
		}
	}
	entries := o.History.Entries()
	d.StatusHistory = make([]historyDoc, len(entries))
	for i, e := range entries {
		d.StatusHistory[i] = newHistoryDoc(e)
	}
	if enc.err != nil {
		return orderDoc{}, fmt.Errorf("encoding order %q: %w", o.ID, enc.err)
	}
	return d, nil
}

func (d *orderDoc) toOrder() (*order.Order, error) {
	o := &order.Order{
		ID:          d.ID,
		Number:      d.Number,
		AccessToken: d.AccessToken,
		UserID:      derefString(d.UserID),
		Items:       make([]order.LineItem, len(d.Items)),
		Customer: order.Customer{
			FullName: d.Customer.FullName,
			Phone:    d.Customer.Phone,
			Province: d.Customer.Province,
			District: d.Customer.District,
			Ward:     d.Customer.Ward,
			Address:  d.Customer.Address,
			Notes:    d.Customer.Notes,
		},
		PaymentMethod: order.PaymentMethod(d.PaymentMethod),
		Status:        order.Status(d.Status),
		DeletedAt:     d.DeletedAt,
		DeletedBy:     derefString(d.DeletedBy),
		DeleteReason:  derefString(d.DeleteReason),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}

	var err error
	if o.Subtotal, err = fromDecimal128(d.Subtotal); err != nil {
		return nil, err
	}
	if o.ShippingFee, err = fromDecimal128(d.ShippingFee); err != nil {
		return nil, err
	}
	if o.Total, err = fromDecimal128(d.Total); err != nil {
		return nil, err
	}
	if o.AmountDue, err = fromDecimal128(d.AmountDue); err != nil {
		return nil, err
	}
	for i, item := range d.Items {
		price, err := fromDecimal128(item.Price)
		if err != nil {
			return nil, err
		}
		o.Items[i] = order.LineItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     price,
			Quantity:  item.Quantity,
			Image:     item.Image,
		}
	}
	if p := d.Promotion; p != nil {
		amount, err := fromDecimal128(p.DiscountAmount)
		if err != nil {
			return nil, err
		}
		o.Promotion = &order.Promotion{
			CouponID:       p.CouponID,
			Code:           p.Code,
			DiscountType:   coupon.DiscountType(p.DiscountType),
			DiscountAmount: amount,
		}
	}

	entries := make([]order.HistoryEntry, len(d.StatusHistory))
	for i, h := range d.StatusHistory {
		entries[i] = order.HistoryEntry{
			To:      order.Status(h.To),
			At:      h.ChangedAt,
			ActorID: derefString(h.ChangedBy),
			Note:    h.Note,
		}
		if h.From != nil {
			from := order.Status(*h.From)
			entries[i].From = &from
		}
	}
	o.History = order.RestoreHistory(entries)
	return o, nil
}

// OrderRepository implements order.Repository on the orders collection.
type OrderRepository struct {
	coll *mongo.Collection
}

// NewOrderRepository returns an OrderRepository for db.
func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{coll: db.Collection(ordersCollection)}
}

// Create inserts the order document. A unique index violation on the order
// number or access token is reported as order.ErrDuplicateIdentity.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	d, err := newOrderDoc(o)
	if err != nil {
		return err
	}
	if _, err := r.coll.InsertOne(ctx, d); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return order.ErrDuplicateIdentity
		}
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var d orderDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("finding order %q: %w", id, err)
	}
	return d.toOrder()
}

// List runs the page query and the count concurrently.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) ([]order.Order, int64, error) {
	filter := orderListFilter(f)
	page := f.Page.Normalize()

	var (
		docs  []orderDoc
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := r.coll.CountDocuments(gctx, filter)
		if err != nil {
			return fmt.Errorf("counting orders: %w", err)
		}
		total = n
		return nil
	})
	g.Go(func() error {
		cur, err := r.coll.Find(gctx, filter, options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
			SetSkip(page.Offset()).
			SetLimit(int64(page.Limit)))
		if err != nil {
			return fmt.Errorf("finding orders: %w", err)
		}
		if err := cur.All(gctx, &docs); err != nil {
			return fmt.Errorf("decoding orders: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	out := make([]order.Order, 0, len(docs))
	for i := range docs {
		o, err := docs[i].toOrder()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *o)
	}
	return out, total, nil
}

// UpdateStatus applies the transition only while the stored status is still
// from and the order is not archived.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from order.Status, entry order.HistoryEntry) (*order.Order, error) {
	filter, update := statusUpdate(id, from, entry)
	return r.findOneAndUpdate(ctx, filter, update)
}

// Archive sets the deletion fields only on an order that is not archived yet.
func (r *OrderRepository) Archive(ctx context.Context, id string, del order.Deletion) (*order.Order, error) {
	filter := bson.M{"_id": id, "deletedAt": nil}
	update := bson.M{"$set": bson.M{
		"deletedAt":    del.At,
		"deletedBy":    optString(del.By),
		"deleteReason": del.Reason,
		"updatedAt":    del.At,
	}}
	return r.findOneAndUpdate(ctx, filter, update)
}

func (r *OrderRepository) findOneAndUpdate(ctx context.Context, filter, update any) (*order.Order, error) {
	var d orderDoc
	err := r.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, order.ErrPreconditionFailed
		}
		return nil, fmt.Errorf("updating order: %w", err)
	}
	return d.toOrder()
}

func orderListFilter(f order.ListFilter) bson.M {
	filter := bson.M{}
	if !f.IncludeDeleted {
		filter["deletedAt"] = nil
	}
	if f.Status != nil {
		filter["status"] = string(*f.Status)
	}
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	return filter
}

func statusUpdate(id string, from order.Status, entry order.HistoryEntry) (bson.M, bson.M) {
	filter := bson.M{
		"_id":       id,
		"status":    string(from),
		"deletedAt": nil,
	}
	update := bson.M{
		"$set": bson.M{
			"status":    string(entry.To),
			"updatedAt": entry.At,
		},
		"$push": bson.M{"statusHistory": newHistoryDoc(entry)},
	}
	return filter, update
}
