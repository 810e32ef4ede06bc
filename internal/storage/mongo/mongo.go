// Package mongo implements the order, coupon and catalog repositories on
// MongoDB. Every state change is a single-document conditional write.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	ordersCollection   = "orders"
	couponsCollection  = "coupons"
	productsCollection = "products"
)

// Connect opens a client for uri and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	return client, nil
}

type collectionIndexes struct {
	collection string
	models     []mongo.IndexModel
}

func indexSpecs() []collectionIndexes {
	return []collectionIndexes{
		{
			collection: ordersCollection,
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "orderNumber", Value: 1}},
					Options: options.Index().SetName("orderNumber_unique").SetUnique(true),
				},
				{
					Keys:    bson.D{{Key: "accessToken", Value: 1}},
					Options: options.Index().SetName("accessToken_unique").SetUnique(true),
				},
				{
					Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
					Options: options.Index().SetName("userId_createdAt"),
				},
				{
					Keys:    bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}},
					Options: options.Index().SetName("status_createdAt"),
				},
				{
					Keys:    bson.D{{Key: "deletedAt", Value: 1}, {Key: "createdAt", Value: -1}},
					Options: options.Index().SetName("deletedAt_createdAt"),
				},
			},
		},
		{
			collection: couponsCollection,
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "code", Value: 1}},
					Options: options.Index().SetName("code_unique").SetUnique(true),
				},
				{
					Keys:    bson.D{{Key: "active", Value: 1}, {Key: "createdAt", Value: -1}},
					Options: options.Index().SetName("active_createdAt"),
				},
			},
		},
		{
			collection: productsCollection,
			models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "isActive", Value: 1}},
					Options: options.Index().SetName("isActive_index"),
				},
			},
		},
	}
}

// EnsureIndexes creates the indexes the repositories rely on. The unique
// indexes back ErrDuplicateIdentity and ErrDuplicateCode.
func EnsureIndexes(ctx context.Context, db *mongo.Database, lg *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, spec := range indexSpecs() {
		names, err := db.Collection(spec.collection).Indexes().CreateMany(ctx, spec.models)
		if err != nil {
			return fmt.Errorf("creating %s indexes: %w", spec.collection, err)
		}
		lg.Debug("Indexes ensured", zap.String("collection", spec.collection), zap.Strings("names", names))
	}
	return nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("converting %s to decimal128: %w", d, err)
	}
	return v, nil
}

// decimalEncoder converts a run of amounts and keeps the first failure.
type decimalEncoder struct {
	err error
}

func (e *decimalEncoder) encode(d decimal.Decimal) primitive.Decimal128 {
	v, err := toDecimal128(d)
	if err != nil && e.err == nil {
		e.err = err
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing decimal128 %s: %w", v, err)
	}
	return d, nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
