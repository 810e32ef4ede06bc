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
)

var _ coupon.Repository = (*CouponRepository)(nil)

type couponDoc struct {
	ID                 string                `bson:"_id"`
	Code               string                `bson:"code"`
	Name               string                `bson:"name"`
	Description        string                `bson:"description"`
	DiscountType       string                `bson:"discountType"`
	DiscountValue      primitive.Decimal128  `bson:"discountValue"`
	MaximumDiscount    *primitive.Decimal128 `bson:"maximumDiscount"`
	MinimumOrderAmount primitive.Decimal128  `bson:"minimumOrderAmount"`
	UsageLimit         *int                  `bson:"usageLimit"`
	UsageCount         int                   `bson:"usageCount"`
	PerUserLimit       int                   `bson:"perUserLimit"`
	RedeemedBy         []string              `bson:"redeemedBy"`
	Active             bool                  `bson:"active"`
	ValidFrom          *time.Time            `bson:"validFrom"`
	ValidUntil         *time.Time            `bson:"validUntil"`
	CreatedBy          string                `bson:"createdBy"`
	CreatedAt          time.Time             `bson:"createdAt"`
	UpdatedAt          time.Time             `bson:"updatedAt"`
}

func newCouponDoc(c *coupon.Coupon) (couponDoc, error) {
	var enc decimalEncoder
	d := couponDoc{
		ID:                 c.ID,
		Code:               c.Code,
		Name:               c.Name,
		Description:        c.Description,
		DiscountType:       string(c.DiscountType),
		DiscountValue:      enc.encode(c.DiscountValue),
		MinimumOrderAmount: enc.encode(c.MinimumOrderAmount),
		UsageLimit:         c.UsageLimit,
		UsageCount:         c.UsageCount,
		PerUserLimit:       c.PerUserLimit,
		RedeemedBy:         c.RedeemedBy,
		Active:             c.Active,
		ValidFrom:          c.ValidFrom,
		ValidUntil:         c.ValidUntil,
		CreatedBy:          c.CreatedBy,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
	if d.RedeemedBy == nil {
		d.RedeemedBy = []string{}
	}
	if c.MaximumDiscount != nil {
		v := enc.encode(*c.MaximumDiscount)
		d.MaximumDiscount = &v
	}
	if enc.err != nil {
		return couponDoc{}, fmt.Errorf("encoding coupon %q: %w", c.Code, enc.err)
	}
	return d, nil
}

func (d *couponDoc) toCoupon() (*coupon.Coupon, error) {
	c := &coupon.Coupon{
		ID:           d.ID,
		Code:         d.Code,
		Name:         d.Name,
		Description:  d.Description,
		DiscountType: coupon.DiscountType(d.DiscountType),
		UsageLimit:   d.UsageLimit,
		UsageCount:   d.UsageCount,
		PerUserLimit: d.PerUserLimit,
		RedeemedBy:   d.RedeemedBy,
		Active:       d.Active,
		ValidFrom:    d.ValidFrom,
		ValidUntil:   d.ValidUntil,
		CreatedBy:    d.CreatedBy,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if c.RedeemedBy == nil {
		c.RedeemedBy = []string{}
	}
	var err error
	if c.DiscountValue, err = fromDecimal128(d.DiscountValue); err != nil {
		return nil, err
	}
	if c.MinimumOrderAmount, err = fromDecimal128(d.MinimumOrderAmount); err != nil {
		return nil, err
	}
	if d.MaximumDiscount != nil {
		v, err := fromDecimal128(*d.MaximumDiscount)
		if err != nil {
			return nil, err
		}
		c.MaximumDiscount = &v
	}
	return c, nil
}

// CouponRepository implements coupon.Repository on the coupons collection.
type CouponRepository struct {
	coll *mongo.Collection
}

// NewCouponRepository returns a CouponRepository for db.
func NewCouponRepository(db *mongo.Database) *CouponRepository {
	return &CouponRepository{coll: db.Collection(couponsCollection)}
}

func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	d, err := newCouponDoc(c)
	if err != nil {
		return err
	}
	if _, err := r.coll.InsertOne(ctx, d); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("inserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func (r *CouponRepository) Get(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.findOne(ctx, bson.M{"code": code})
}

func (r *CouponRepository) findOne(ctx context.Context, filter bson.M) (*coupon.Coupon, error) {
	var d couponDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, fmt.Errorf("finding coupon: %w", err)
	}
	return d.toCoupon()
}

func (r *CouponRepository) List(ctx context.Context, f coupon.ListFilter) ([]coupon.Coupon, int64, error) {
	filter := bson.M{}
	if f.Active != nil {
		filter["active"] = *f.Active
	}
	page := f.Page.Normalize()

	var (
		docs  []couponDoc
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := r.coll.CountDocuments(gctx, filter)
		if err != nil {
			return fmt.Errorf("counting coupons: %w", err)
		}
		total = n
		return nil
	})
	g.Go(func() error {
		var err error
		docs, err = r.find(gctx, filter, options.Find().
			SetSort(couponSort()).
			SetSkip(page.Offset()).
			SetLimit(int64(page.Limit)))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	out, err := toCoupons(docs)
	return out, total, err
}

func (r *CouponRepository) ListAvailable(ctx context.Context, now time.Time) ([]coupon.Coupon, error) {
	filter := bson.M{"active": true, "$and": availabilityConds(now)}
	docs, err := r.find(ctx, filter, options.Find().SetSort(couponSort()))
	if err != nil {
		return nil, err
	}
	return toCoupons(docs)
}

func (r *CouponRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]couponDoc, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("finding coupons: %w", err)
	}
	var docs []couponDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding coupons: %w", err)
	}
	return docs, nil
}

// Update rewrites the admin-editable fields. The usage counters are not part
// of the update, and a new usage limit below the stored count matches nothing.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) (*coupon.Coupon, error) {
	filter := bson.M{"_id": c.ID}
	if c.UsageLimit != nil {
		filter["usageCount"] = bson.M{"$lte": *c.UsageLimit}
	}
	d, err := newCouponDoc(c)
	if err != nil {
		return nil, err
	}
	update := bson.M{"$set": bson.M{
		"code":               d.Code,
		"name":               d.Name,
		"description":        d.Description,
		"discountType":       d.DiscountType,
		"discountValue":      d.DiscountValue,
		"maximumDiscount":    d.MaximumDiscount,
		"minimumOrderAmount": d.MinimumOrderAmount,
		"usageLimit":         d.UsageLimit,
		"perUserLimit":       d.PerUserLimit,
		"active":             d.Active,
		"validFrom":          d.ValidFrom,
		"validUntil":         d.ValidUntil,
		"updatedAt":          d.UpdatedAt,
	}}
	updated, err := r.findOneAndUpdate(ctx, filter, update)
	if mongo.IsDuplicateKeyError(err) {
		return nil, coupon.ErrDuplicateCode
	}
	return updated, err
}

// Delete removes the coupon only while its usage count is zero.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id, "usageCount": 0})
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return coupon.ErrPreconditionFailed
	}
	return nil
}

// Redeem is a single conditional update: the filter re-checks every usage
// precondition at write time.
func (r *CouponRepository) Redeem(ctx context.Context, id, userID string, now time.Time) (*coupon.Coupon, error) {
	filter, update := redeemUpdate(id, userID, now)
	return r.findOneAndUpdate(ctx, filter, update)
}

// Unredeem releases one use with an update pipeline so the decrement and the
// removal of a single redeemedBy entry are computed from the same document.
func (r *CouponRepository) Unredeem(ctx context.Context, id, userID string, now time.Time) (*coupon.Coupon, error) {
	c, err := r.findOneAndUpdate(ctx, bson.M{"_id": id}, unredeemPipeline(userID, now))
	if errors.Is(err, coupon.ErrPreconditionFailed) {
		return nil, coupon.ErrCouponNotFound
	}
	return c, err
}

func (r *CouponRepository) findOneAndUpdate(ctx context.Context, filter, update any) (*coupon.Coupon, error) {
	var d couponDoc
	err := r.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, coupon.ErrPreconditionFailed
		}
		if mongo.IsDuplicateKeyError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("updating coupon: %w", err)
	}
	return d.toCoupon()
}

func couponSort() bson.D {
	return bson.D{{Key: "createdAt", Value: -1}, {Key: "code", Value: 1}}
}

func toCoupons(docs []couponDoc) ([]coupon.Coupon, error) {
	out := make([]coupon.Coupon, 0, len(docs))
	for i := range docs {
		c, err := docs[i].toCoupon()
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// availabilityConds matches coupons inside their validity window at now and
// below their total usage limit.
func availabilityConds(now time.Time) bson.A {
	return bson.A{
		bson.M{"$or": bson.A{
			bson.M{"validFrom": nil},
			bson.M{"validFrom": bson.M{"$lte": now}},
		}},
		bson.M{"$or": bson.A{
			bson.M{"validUntil": nil},
			bson.M{"validUntil": bson.M{"$gte": now}},
		}},
		bson.M{"$or": bson.A{
			bson.M{"usageLimit": nil},
			bson.M{"$expr": bson.M{"$lt": bson.A{"$usageCount", "$usageLimit"}}},
		}},
	}
}

// redeemUpdate builds the conditional redeem. With a user the filter also
// requires fewer than perUserLimit occurrences of userID in redeemedBy.
func redeemUpdate(id, userID string, now time.Time) (bson.M, bson.M) {
	conds := availabilityConds(now)
	if userID != "" {
		conds = append(conds, bson.M{"$expr": bson.M{"$lt": bson.A{
			bson.M{"$size": bson.M{"$filter": bson.M{
				"input": bson.M{"$ifNull": bson.A{"$redeemedBy", bson.A{}}},
				"cond":  bson.M{"$eq": bson.A{"$$this", userID}},
			}}},
			"$perUserLimit",
		}}})
	}
	filter := bson.M{"_id": id, "active": true, "$and": conds}

	update := bson.M{
		"$inc": bson.M{"usageCount": 1},
		"$set": bson.M{"updatedAt": now},
	}
	if userID != "" {
		update["$push"] = bson.M{"redeemedBy": userID}
	}
	return filter, update
}

// unredeemPipeline decrements usageCount without going below zero and drops
// the first occurrence of userID from redeemedBy. A coupon with no recorded
// uses is left unchanged apart from updatedAt.
func unredeemPipeline(userID string, now time.Time) mongo.Pipeline {
	redeemed := bson.M{"$ifNull": bson.A{"$redeemedBy", bson.A{}}}
	hasUses := bson.M{"$gt": bson.A{"$usageCount", 0}}

	set := bson.D{
		{Key: "usageCount", Value: bson.M{"$max": bson.A{0, bson.M{"$subtract": bson.A{"$usageCount", 1}}}}},
		{Key: "updatedAt", Value: now},
	}
	if userID != "" {
		withoutFirst := bson.M{"$let": bson.M{
			"vars": bson.M{
				"list": redeemed,
				"idx":  bson.M{"$indexOfArray": bson.A{redeemed, userID}},
			},
			"in": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{hasUses, bson.M{"$gte": bson.A{"$$idx", 0}}}},
				bson.M{"$map": bson.M{
					"input": bson.M{"$filter": bson.M{
						"input": bson.M{"$range": bson.A{0, bson.M{"$size": "$$list"}}},
						"as":    "i",
						"cond":  bson.M{"$ne": bson.A{"$$i", "$$idx"}},
					}},
					"as": "i",
					"in": bson.M{"$arrayElemAt": bson.A{"$$list", "$$i"}},
				}},
				"$$list",
			}},
		}}
		set = append(set, bson.E{Key: "redeemedBy", Value: withoutFirst})
	}
	return mongo.Pipeline{{{Key: "$set", Value: set}}}
}
