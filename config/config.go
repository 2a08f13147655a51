package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName string
	ServiceHost string
	ServicePort int
	GRPCPort    int

	StoreDriver       string
	MongoURI          string
	MongoDatabase     string
	MongoTransactions bool

	JWTSecret  string
	JWTTTL     time.Duration
	BcryptCost int

	PaymentGateway    string
	RazorpayKeyID     string
	RazorpayKeySecret string
	RazorpayBaseURL   string
	PaymentCurrency   string

	KafkaBootstrapServers string
	SchemaRegistryURL     string
	KafkaTopic            string
	OutboxInterval        time.Duration
	ReconcileInterval     time.Duration

	ConsulAddress        string
	OTelExporterEndpoint string

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	LogFile  string
	LogLevel string

	AdminName     string
	AdminEmail    string
	AdminPassword string
}

const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"

	GatewayRazorpay = "razorpay"
	GatewaySandbox  = "sandbox"
)

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	p := &parser{}
	cfg := &Config{
		ServiceName: str("SERVICE_NAME", "roadassist"),
		ServiceHost: str("SERVICE_HOST", "roadassist"),
		ServicePort: p.integer("SERVICE_PORT", 5000),
		GRPCPort:    p.integer("GRPC_PORT", 50051),

		StoreDriver:       strings.ToLower(str("STORE_DRIVER", StoreMongo)),
		MongoURI:          str("MONGO_URI", "mongodb://mongodb:27017/?replicaSet=rs0"),
		MongoDatabase:     str("MONGO_DATABASE", "roadassist"),
		MongoTransactions: p.flag("MONGO_TRANSACTIONS", true),

		JWTSecret:  os.Getenv("JWT_SECRET"),
		JWTTTL:     p.duration("JWT_TTL", 7*24*time.Hour),
		BcryptCost: p.integer("BCRYPT_COST", 0),

		PaymentGateway:    strings.ToLower(str("PAYMENT_GATEWAY", GatewayRazorpay)),
		RazorpayKeyID:     os.Getenv("RAZORPAY_KEY_ID"),
		RazorpayKeySecret: os.Getenv("RAZORPAY_KEY_SECRET"),
		RazorpayBaseURL:   os.Getenv("RAZORPAY_BASE_URL"),
		PaymentCurrency:   str("PAYMENT_CURRENCY", "INR"),

		KafkaBootstrapServers: os.Getenv("KAFKA_BOOTSTRAP_SERVERS"),
		SchemaRegistryURL:     str("SCHEMA_REGISTRY_URL", "http://schema-registry:8081"),
		KafkaTopic:            str("KAFKA_TOPIC", "service-request-events"),
		OutboxInterval:        p.duration("OUTBOX_INTERVAL", 5*time.Second),
		ReconcileInterval:     p.duration("RECONCILE_INTERVAL", time.Minute),

		ConsulAddress:        os.Getenv("CONSUL_ADDRESS"),
		OTelExporterEndpoint: os.Getenv("OTEL_EXPORTER_ENDPOINT"),

		RateLimitRPS:       p.number("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     p.integer("RATE_LIMIT_BURST", 20),
		CORSAllowedOrigins: list("CORS_ALLOWED_ORIGINS", []string{"*"}),

		LogFile:  os.Getenv("LOG_FILE"),
		LogLevel: str("LOG_LEVEL", "info"),

		AdminName:     str("ADMIN_NAME", "Administrator"),
		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}
	switch c.StoreDriver {
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %s or %s, got %q", StoreMongo, StoreMemory, c.StoreDriver))
	}
	switch c.PaymentGateway {
	case GatewayRazorpay:
		if c.RazorpayKeyID == "" || c.RazorpayKeySecret == "" {
			errs = append(errs, errors.New("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required for the razorpay gateway"))
		}
	case GatewaySandbox:
		if c.RazorpayKeySecret == "" {
			errs = append(errs, errors.New("RAZORPAY_KEY_SECRET signs sandbox callbacks and is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("PAYMENT_GATEWAY must be %s or %s, got %q", GatewayRazorpay, GatewaySandbox, c.PaymentGateway))
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set together"))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	return errors.Join(errs...)
}

func str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func list(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parser collects every malformed value so startup reports them together
type parser struct {
	errs []error
}

func (p *parser) integer(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (p *parser) number(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return def
	}
	return f
}

func (p *parser) flag(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}
