package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/storefront/internal/domain/product"
)

var _ product.Resolver = (*ProductResolver)(nil)

type productDoc struct {
	ID        string               `bson:"_id"`
	Name      string               `bson:"name"`
	Price     primitive.Decimal128 `bson:"price"`
	ImagePath string               `bson:"imagePath,omitempty"`
	IsActive  bool                 `bson:"isActive"`
	IsDeleted bool                 `bson:"isDeleted"`
}

// ProductResolver reads product snapshots from the catalog collection owned
// by the catalog service.
type ProductResolver struct {
	coll *mongo.Collection
}

// NewProductResolver returns a ProductResolver for db.
func NewProductResolver(db *mongo.Database) *ProductResolver {
	return &ProductResolver{coll: db.Collection(productsCollection)}
}

// Resolve fetches all ids in one query. Inactive and deleted products are
// left out of the result.
func (r *ProductResolver) Resolve(ctx context.Context, ids []string) (map[string]product.Snapshot, error) {
	cur, err := r.coll.Find(ctx, bson.M{
		"_id":       bson.M{"$in": ids},
		"isActive":  true,
		"isDeleted": bson.M{"$ne": true},
	})
	if err != nil {
		return nil, fmt.Errorf("finding products: %w", err)
	}
	var docs []productDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding products: %w", err)
	}

	out := make(map[string]product.Snapshot, len(docs))
	for _, d := range docs {
		price, err := fromDecimal128(d.Price)
		if err != nil {
			return nil, err
		}
		out[d.ID] = product.Snapshot{ID: d.ID, Name: d.Name, Price: price, Image: d.ImagePath}
	}
	return out, nil
}

// UpsertProducts writes catalog entries as active products. It is used to
// seed development databases.
func (r *ProductResolver) UpsertProducts(ctx context.Context, products []product.Snapshot) error {
	if len(products) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, len(products))
	for i, p := range products {
		price, err := toDecimal128(p.Price)
		if err != nil {
			return fmt.Errorf("encoding product %q: %w", p.ID, err)
		}
		models[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": p.ID}).
			SetReplacement(productDoc{
				ID:        p.ID,
				Name:      p.Name,
				Price:     price,
				ImagePath: p.Image,
				IsActive:  true,
			}).
			SetUpsert(true)
	}
	if _, err := r.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("upserting products: %w", err)
	}
	return nil
}
