package app

import (
	"testing"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoad(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	for _, k := range []string{"PORT", "DATABASE_URL", "MONGO_URI", "REDIS_URL"} {
		t.Setenv(k, "")
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
	return load(aconfig.Config{
		EnvPrefix: "STORE",
		SkipFlags: true,
		SkipFiles: true,
	})
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := testLoad(t, nil)
	require.NoError(t, err)

	assert.Equal(t, defaultAddr, cfg.Addr)
	assert.Equal(t, StoreMongo, cfg.Store)
	assert.Equal(t, defaultMongoURI, cfg.Mongo.URI)
	assert.Equal(t, "storefront", cfg.Mongo.Database)
	assert.False(t, cfg.Redis.Enabled())
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "storefront.orders", cfg.Kafka.Topic)
	assert.Equal(t, 2*time.Second, cfg.Kafka.PublishTimeout)
	assert.Equal(t, 24, cfg.Orders.AccessTokenBytes)

	fee, err := cfg.shippingFee()
	require.NoError(t, err)
	assert.Equal(t, "30000", fee.String())
}

func TestLoadPlatformDefaults(t *testing.T) {
	cfg, err := testLoad(t, map[string]string{
		"PORT":        "9000",
		"MONGO_URI":   "mongodb://mongo:27017",
		"REDIS_URL":   "redis://cache:6379/0",
		"STORE_STORE": StoreMemory,
	})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, "mongodb://mongo:27017", cfg.Mongo.URI)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, StoreMemory, cfg.Store)
}

func TestLoadInvalid(t *testing.T) {
	for _, tt := range []struct {
		name string
		env  map[string]string
		msg  string
	}{
		{
			name: "UnknownStore",
			env:  map[string]string{"STORE_STORE": "sqlite"},
			msg:  "unknown store",
		},
		{
			name: "PostgresWithoutURL",
			env:  map[string]string{"STORE_STORE": StorePostgres},
			msg:  "database URL is required",
		},
		{
			name: "BadShippingFee",
			env:  map[string]string{"STORE_ORDERS_SHIPPING_FEE": "free"},
			msg:  "parse shipping fee",
		},
		{
			name: "NegativeShippingFee",
			env:  map[string]string{"STORE_ORDERS_SHIPPING_FEE": "-1"},
			msg:  "must not be negative",
		},
		{
			name: "ShortToken",
			env:  map[string]string{"STORE_ORDERS_ACCESS_TOKEN_BYTES": "8"},
			msg:  "at least 16",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testLoad(t, tt.env)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestPostgresFromPlatformURL(t *testing.T) {
	cfg, err := testLoad(t, map[string]string{
		"STORE_STORE":  StorePostgres,
		"DATABASE_URL": "postgres://store:store@db:5432/store",
	})
	require.NoError(t, err)
	assert.Equal(t, "postgres://store:store@db:5432/store", cfg.DatabaseURL)
}
