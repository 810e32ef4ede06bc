package app

import (
	"context"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/cache/couponcache"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/events/kafkaevents"
	"github.com/xenking/storefront/internal/storage/memory"
	"github.com/xenking/storefront/internal/storage/mongo"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/pkg/health"
)

// backend bundles the repositories of the selected store together with the
// functions that release its connections.
type backend struct {
	products  product.Resolver
	orders    order.Repository
	coupons   coupon.Repository
	publisher order.Publisher
	closers   []func(context.Context) error
}

func (b *backend) onClose(fn func(context.Context) error) {
	b.closers = append(b.closers, fn)
}

// close releases resources in reverse order of acquisition.
func (b *backend) close(ctx context.Context, lg *zap.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			lg.Warn("Close backend resource", zap.Error(err))
		}
	}
}

// openBackend connects the configured store, the optional coupon cache and
// the optional event publisher, registering a readiness check for each.
func openBackend(ctx context.Context, lg *zap.Logger, cfg *Config, hs *health.Health) (*backend, error) {
	b := &backend{publisher: order.NopPublisher{}}
	if err := b.openStore(ctx, lg, cfg, hs); err != nil {
		b.close(context.Background(), lg)
		return nil, err
	}

	if cfg.Redis.Enabled() {
		client, err := newRedisClient(cfg.Redis)
		if err != nil {
			b.close(context.Background(), lg)
			return nil, err
		}
		b.onClose(func(context.Context) error { return client.Close() })
		hs.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(client))
		b.coupons = couponcache.New(b.coupons, client, cfg.Redis.TTL)
		lg.Info("Coupon cache enabled", zap.Duration("ttl", cfg.Redis.TTL))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		if cfg.Kafka.CreateTopic {
			if err := kafkaevents.EnsureTopic(ctx, cfg.Kafka.Brokers[0], cfg.Kafka.Topic, cfg.Kafka.Partitions); err != nil {
				lg.Warn("Ensure order events topic", zap.String("topic", cfg.Kafka.Topic), zap.Error(err))
			}
		}
		p := kafkaevents.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.PublishTimeout)
		b.onClose(func(context.Context) error { return p.Close() })
		b.publisher = p
		lg.Info("Order events enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}
	return b, nil
}

func (b *backend) openStore(ctx context.Context, lg *zap.Logger, cfg *Config, hs *health.Health) error {
	lg.Info("Opening store", zap.String("store", cfg.Store))
	switch cfg.Store {
	case StoreMongo:
		client, err := mongo.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			return errors.Wrap(err, "connect mongo")
		}
		b.onClose(client.Disconnect)

		db := client.Database(cfg.Mongo.Database)
		if err := mongo.EnsureIndexes(ctx, db, lg); err != nil {
			return errors.Wrap(err, "ensure indexes")
		}
		hs.AddReadinessCheck("mongo", 5*time.Second, health.MongoCheck(client))

		b.products = mongo.NewProductResolver(db)
		b.orders = mongo.NewOrderRepository(db)
		b.coupons = mongo.NewCouponRepository(db)
	case StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		b.onClose(func(context.Context) error {
			pool.Close()
			return nil
		})

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		hs.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))

		b.products = postgres.NewProductResolver(pool)
		b.orders = postgres.NewOrderRepository(pool)
		b.coupons = postgres.NewCouponRepository(pool)
	case StoreMemory:
		catalog, err := loadCatalogFile(cfg.Memory.CatalogFile)
		if err != nil {
			return err
		}
		lg.Info("Loaded catalog", zap.Int("products", len(catalog)))

		b.products = memory.NewCatalog(catalog...)
		b.orders = memory.NewOrders()
		b.coupons = memory.NewCoupons()
	default:
		return errors.Errorf("unknown store %q", cfg.Store)
	}
	return nil
}

func loadCatalogFile(path string) ([]product.Snapshot, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	defer func() { _ = f.Close() }()

	products, err := product.LoadCatalog(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load catalog %s", path)
	}
	return products, nil
}

func newRedisClient(cfg RedisConfig) (redis.UniversalClient, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.Addr}), nil
}
