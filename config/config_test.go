package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"SERVICE_NAME", "SERVICE_HOST", "SERVICE_PORT", "GRPC_PORT", "STORE_DRIVER", "MONGO_URI",
	"MONGO_DATABASE", "MONGO_TRANSACTIONS", "JWT_SECRET", "JWT_TTL", "BCRYPT_COST",
	"PAYMENT_GATEWAY", "RAZORPAY_KEY_ID", "RAZORPAY_KEY_SECRET", "RAZORPAY_BASE_URL",
	"PAYMENT_CURRENCY", "KAFKA_BOOTSTRAP_SERVERS", "SCHEMA_REGISTRY_URL", "KAFKA_TOPIC",
	"OUTBOX_INTERVAL", "RECONCILE_INTERVAL", "CONSUL_ADDRESS", "OTEL_EXPORTER_ENDPOINT",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "CORS_ALLOWED_ORIGINS", "LOG_FILE", "LOG_LEVEL",
	"ADMIN_NAME", "ADMIN_EMAIL", "ADMIN_PASSWORD",
}

func cleanEnv(t *testing.T, set map[string]string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
	for k, v := range set {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cleanEnv(t, map[string]string{
		"JWT_SECRET":          "secret",
		"RAZORPAY_KEY_ID":     "rzp_test",
		"RAZORPAY_KEY_SECRET": "shh",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.ServicePort)
	assert.Equal(t, 50051, cfg.GRPCPort)
	assert.Equal(t, StoreMongo, cfg.StoreDriver)
	assert.True(t, cfg.MongoTransactions)
	assert.Equal(t, 7*24*time.Hour, cfg.JWTTTL)
	assert.Equal(t, GatewayRazorpay, cfg.PaymentGateway)
	assert.Equal(t, "INR", cfg.PaymentCurrency)
	assert.Equal(t, 5*time.Second, cfg.OutboxInterval)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Empty(t, cfg.KafkaBootstrapServers)
}

func TestLoad_Overrides(t *testing.T) {
	cleanEnv(t, map[string]string{
		"JWT_SECRET":           "secret",
		"STORE_DRIVER":         "Memory",
		"PAYMENT_GATEWAY":      "sandbox",
		"RAZORPAY_KEY_SECRET":  "shh",
		"RECONCILE_INTERVAL":   "30s",
		"RATE_LIMIT_RPS":       "2.5",
		"CORS_ALLOWED_ORIGINS": "https://a.example, https://b.example,",
		"ADMIN_EMAIL":          "admin@example.com",
		"ADMIN_PASSWORD":       "adminpass",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, GatewaySandbox, cfg.PaymentGateway)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "admin@example.com", cfg.AdminEmail)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]struct {
		env  map[string]string
		want string
	}{
		"missing jwt secret": {
			env:  map[string]string{"RAZORPAY_KEY_ID": "id", "RAZORPAY_KEY_SECRET": "s"},
			want: "JWT_SECRET",
		},
		"bad port": {
			env:  map[string]string{"JWT_SECRET": "x", "RAZORPAY_KEY_ID": "id", "RAZORPAY_KEY_SECRET": "s", "SERVICE_PORT": "eighty"},
			want: "SERVICE_PORT",
		},
		"bad duration": {
			env:  map[string]string{"JWT_SECRET": "x", "RAZORPAY_KEY_ID": "id", "RAZORPAY_KEY_SECRET": "s", "JWT_TTL": "forever"},
			want: "JWT_TTL",
		},
		"unknown store": {
			env:  map[string]string{"JWT_SECRET": "x", "RAZORPAY_KEY_ID": "id", "RAZORPAY_KEY_SECRET": "s", "STORE_DRIVER": "redis"},
			want: "STORE_DRIVER",
		},
		"razorpay without keys": {
			env:  map[string]string{"JWT_SECRET": "x"},
			want: "RAZORPAY_KEY_ID",
		},
		"admin email without password": {
			env:  map[string]string{"JWT_SECRET": "x", "RAZORPAY_KEY_ID": "id", "RAZORPAY_KEY_SECRET": "s", "ADMIN_EMAIL": "a@example.com"},
			want: "ADMIN_PASSWORD",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cleanEnv(t, tc.env)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
