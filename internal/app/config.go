package app

import (
	"os"
	"slices"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Storage backends.
const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

const (
	defaultAddr     = "0.0.0.0:8080"
	defaultMongoURI = "mongodb://localhost:27017"
)

// Config holds the complete application configuration, loadable from
// environment variables (STORE_ prefix), flags, a .env file or YAML config
// files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Store       string `default:"mongo" usage:"Storage backend: mongo, postgres or memory"`
	DatabaseURL string `usage:"PostgreSQL connection URL (STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Mongo       MongoConfig
	Memory      MemoryConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Orders      OrdersConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// MongoConfig selects the MongoDB deployment used by the mongo backend.
type MongoConfig struct {
	URI      string `usage:"MongoDB connection URI (STORE_MONGO_URI or MONGO_URI)" flag:"mongo-uri"`
	Database string `default:"storefront" usage:"MongoDB database name" flag:"mongo-database"`
}

// MemoryConfig configures the in-process backend.
type MemoryConfig struct {
	CatalogFile string `usage:"JSON product catalog loaded into the memory backend" flag:"catalog-file"`
}

// RedisConfig enables the coupon lookup cache when Addr or URL is set.
type RedisConfig struct {
	Addr string        `usage:"Redis address (host:port)" flag:"redis-addr"`
	URL  string        `usage:"Redis URL (STORE_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	TTL  time.Duration `default:"30s" usage:"Coupon cache TTL" flag:"redis-ttl"`
}

// Enabled reports whether a Redis endpoint is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" || c.URL != "" }

// KafkaConfig enables order event publishing when Brokers is set.
type KafkaConfig struct {
	Brokers     []string `usage:"Kafka bootstrap brokers" flag:"kafka-brokers"`
	Topic       string   `default:"storefront.orders" usage:"Order events topic" flag:"kafka-topic"`
	CreateTopic bool     `default:"false" usage:"Create the topic on startup" flag:"kafka-create-topic"`
	Partitions  int      `default:"3" usage:"Partitions for a created topic" flag:"kafka-partitions"`
	// PublishTimeout bounds each event write.
	PublishTimeout time.Duration `default:"2s" usage:"Timeout for a single event publish" flag:"kafka-publish-timeout"`
}

// OrdersConfig tunes order creation.
type OrdersConfig struct {
	ShippingFee      string `default:"30000" usage:"Shipping fee applied when a request carries none" flag:"shipping-fee"`
	AccessTokenBytes int    `default:"24" usage:"Random bytes in a guest access token" flag:"access-token-bytes"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from a .env file, environment variables,
// flags and YAML config files, then applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	// A missing .env file is the normal case outside local development.
	_ = godotenv.Load()

	return load(aconfig.Config{
		EnvPrefix: "STORE",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func load(acfg aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, acfg).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STORE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = os.Getenv("MONGO_URI")
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = defaultMongoURI
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	if !slices.Contains([]string{StoreMongo, StorePostgres, StoreMemory}, c.Store) {
		return errors.Errorf("unknown store %q: want mongo, postgres or memory", c.Store)
	}
	if c.Store == StorePostgres && c.DatabaseURL == "" {
		return errors.New("database URL is required: set STORE_DATABASE_URL or DATABASE_URL")
	}
	fee, err := c.shippingFee()
	if err != nil {
		return err
	}
	if fee.IsNegative() {
		return errors.New("shipping fee must not be negative")
	}
	if c.Orders.AccessTokenBytes < 16 {
		return errors.Errorf("access token bytes must be at least 16, got %d", c.Orders.AccessTokenBytes)
	}
	return nil
}

func (c *Config) shippingFee() (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(c.Orders.ShippingFee)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse shipping fee %q", c.Orders.ShippingFee)
	}
	return fee, nil
}
