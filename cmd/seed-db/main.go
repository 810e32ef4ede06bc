// Command seed-db loads the product catalog and a set of demo coupons into
// the configured store.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/mongo"
	"github.com/xenking/storefront/internal/storage/postgres"
)

// catalogWriter is implemented by the product resolvers of both stores.
type catalogWriter interface {
	UpsertProducts(ctx context.Context, products []product.Snapshot) error
}

type target struct {
	products catalogWriter
	coupons  coupon.Repository
	close    func()
}

func main() {
	var (
		store        string
		databaseURL  string
		mongoURI     string
		mongoDB      string
		productsFile string
		skipCoupons  bool
	)

	flag.StringVar(&store, "store", "mongo", "storage backend: mongo or postgres")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&mongoURI, "mongo-uri", "", "MongoDB connection URI (or MONGO_URI env)")
	flag.StringVar(&mongoDB, "mongo-database", "storefront", "MongoDB database name")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.BoolVar(&skipCoupons, "skip-coupons", false, "do not seed demo coupons")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	tgt, err := open(ctx, store, databaseURL, mongoURI, mongoDB)
	if err != nil {
		slog.Error("open store failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer tgt.close()

	if err := run(ctx, tgt, productsFile, !skipCoupons); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func open(ctx context.Context, store, databaseURL, mongoURI, mongoDB string) (*target, error) {
	switch store {
	case "postgres":
		if databaseURL == "" {
			databaseURL = os.Getenv("DATABASE_URL")
		}
		if databaseURL == "" {
			return nil, errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		slog.Info("connecting to database")
		pool, err := postgres.NewPool(ctx, databaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "connect to database")
		}
		slog.Info("running migrations")
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		return &target{
			products: postgres.NewProductResolver(pool),
			coupons:  postgres.NewCouponRepository(pool),
			close:    pool.Close,
		}, nil
	case "mongo":
		if mongoURI == "" {
			mongoURI = os.Getenv("MONGO_URI")
		}
		if mongoURI == "" {
			return nil, errors.New("mongo URI is required: set --mongo-uri or MONGO_URI")
		}
		slog.Info("connecting to mongo")
		client, err := mongo.Connect(ctx, mongoURI)
		if err != nil {
			return nil, err
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		db := client.Database(mongoDB)
		if err := mongo.EnsureIndexes(ctx, db, zap.NewNop()); err != nil {
			closeFn()
			return nil, errors.Wrap(err, "ensure indexes")
		}
		return &target{
			products: mongo.NewProductResolver(db),
			coupons:  mongo.NewCouponRepository(db),
			close:    closeFn,
		}, nil
	default:
		return nil, errors.Errorf("unknown store %q", store)
	}
}

func run(ctx context.Context, tgt *target, productsFile string, withCoupons bool) error {
	if err := seedProducts(ctx, tgt.products, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if !withCoupons {
		return nil
	}
	ledger, err := coupon.NewLedger(tgt.coupons)
	if err != nil {
		return errors.Wrap(err, "create ledger")
	}
	if err := seedCoupons(ctx, ledger); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	return nil
}

func seedProducts(ctx context.Context, w catalogWriter, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	f, err := os.Open(productsFile)
	if err != nil {
		return errors.Wrap(err, "open products file")
	}
	defer func() { _ = f.Close() }()

	products, err := product.LoadCatalog(f)
	if err != nil {
		return err
	}

	slog.Info("upserting products", slog.Int("count", len(products)))
	if err := w.UpsertProducts(ctx, products); err != nil {
		return errors.Wrap(err, "upsert products")
	}
	return nil
}

func demoCoupons() []coupon.Definition {
	maxDiscount := decimal.NewFromInt(50000)
	limit := 100
	return []coupon.Definition{
		{
			Code:            "WELCOME10",
			Name:            "Welcome 10%",
			Description:     "10% off your first order, capped at 50,000",
			DiscountType:    coupon.DiscountPercentage,
			DiscountValue:   decimal.NewFromInt(10),
			MaximumDiscount: &maxDiscount,
			PerUserLimit:    1,
		},
		{
			Code:               "FLAT20K",
			Name:               "20,000 off",
			Description:        "20,000 off orders from 200,000",
			DiscountType:       coupon.DiscountFixedAmount,
			DiscountValue:      decimal.NewFromInt(20000),
			MinimumOrderAmount: decimal.NewFromInt(200000),
			UsageLimit:         &limit,
			PerUserLimit:       2,
		},
		{
			Code:         "FREESHIP",
			Name:         "Free shipping",
			Description:  "Shipping on us",
			DiscountType: coupon.DiscountFreeShipping,
			PerUserLimit: 3,
		},
	}
}

// seedCoupons creates the demo coupons. Codes that already exist are left
// untouched so reseeding never resets usage counters.
func seedCoupons(ctx context.Context, ledger *coupon.Ledger) error {
	slog.Info("seeding demo coupons")
	for _, def := range demoCoupons() {
		c, err := ledger.Create(ctx, def, "seed-db")
		switch {
		case errors.Is(err, coupon.ErrDuplicateCode):
			slog.Info("coupon exists", slog.String("code", def.Code))
		case err != nil:
			return errors.Wrapf(err, "create coupon %s", def.Code)
		default:
			slog.Info("created coupon", slog.String("code", c.Code), slog.String("name", c.Name))
		}
	}
	return nil
}
