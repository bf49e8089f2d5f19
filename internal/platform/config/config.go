package config

import (
	"context"
	"time"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultShutdownTimeout    = 20 * time.Second
	defaultLogLevel           = "info"
	defaultMongoDatabase      = "storefront"
	defaultCartCacheTTL       = 5 * time.Minute
	defaultEventsTopic        = "order-events"
	defaultRoleClaim          = "roles"
	defaultIdempotencyHeader  = "Idempotency-Key"
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultCartTTL            = 30 * 24 * time.Hour
	defaultCartSweepSchedule  = "@every 1h"
	defaultCartSweepBatch     = 200
	defaultOIDCJWKSURL        = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer         = "https://accounts.google.com"
	defaultWebhookClockSkew   = 5 * time.Minute
	defaultSecretCacheTTL     = 10 * time.Minute
	defaultSecretFallbackFile = ".secrets.local"
)

// Storage, event and idempotency backends.
const (
	BackendFirestore = "firestore"
	BackendMongo     = "mongo"
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendPubSub    = "pubsub"
	BackendKafka     = "kafka"
	BackendNone      = "none"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Storage     StorageConfig
	Firestore   FirestoreConfig
	Mongo       MongoConfig
	Redis       RedisConfig
	Events      EventsConfig
	Firebase    FirebaseConfig
	Auth        AuthConfig
	Idempotency IdempotencyConfig
	Cart        CartConfig
	Internal    InternalConfig
	Webhooks    WebhookConfig
	Secrets     SecretsConfig
}

type ServerConfig struct {
	Port            string
	BaseURL         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level string
}

// StorageConfig selects the document store behind the repositories.
type StorageConfig struct {
	Backend string
}

type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

type MongoConfig struct {
	URI      string
	Database string
	// Transactions requires a replica set.
	Transactions bool
}

// RedisConfig is optional. An empty Addr disables the cart cache.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	CartCacheTTL time.Duration
}

type EventsConfig struct {
	Backend   string
	Topic     string
	ProjectID string
	Brokers   []string
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	RoleClaim       string
}

// AuthConfig configures first-party HS256 tokens. An empty JWTSecret disables them.
type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

type IdempotencyConfig struct {
	Backend string
	Header  string
	TTL     time.Duration
}

type CartConfig struct {
	TTL           time.Duration
	SweepSchedule string
	SweepBatch    int
	SweepEnabled  bool
}

// InternalConfig guards /internal endpoints called by Cloud Scheduler with Google-signed tokens.
type InternalConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

type WebhookConfig struct {
	PaymentSecret string
	ClockSkew     time.Duration
}

type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
	CacheTTL     time.Duration
}

// Load assembles the configuration from defaults, the .env file, the environment and secret
// references, then validates it.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	src, err := options.source()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{}
	cfg.Server = ServerConfig{
		Port:            src.str("API_SERVER_PORT", defaultPort),
		BaseURL:         src.str("API_SERVER_BASE_URL", ""),
		ReadTimeout:     src.dur("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
		WriteTimeout:    src.dur("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
		IdleTimeout:     src.dur("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		ShutdownTimeout: src.dur("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
	}
	cfg.Log.Level = src.lower("API_LOG_LEVEL", defaultLogLevel)
	cfg.Storage.Backend = src.lower("API_STORAGE_BACKEND", BackendFirestore)
	cfg.Firestore = FirestoreConfig{
		ProjectID:    src.str("API_FIRESTORE_PROJECT_ID", ""),
		EmulatorHost: src.str("API_FIRESTORE_EMULATOR_HOST", ""),
	}
	cfg.Mongo = MongoConfig{
		URI:          src.str("API_MONGO_URI", ""),
		Database:     src.str("API_MONGO_DATABASE", defaultMongoDatabase),
		Transactions: src.flag("API_MONGO_TRANSACTIONS", false),
	}
	cfg.Redis = RedisConfig{
		Addr:         src.str("API_REDIS_ADDR", ""),
		Password:     src.str("API_REDIS_PASSWORD", ""),
		DB:           src.num("API_REDIS_DB", 0),
		CartCacheTTL: src.dur("API_REDIS_CART_CACHE_TTL", defaultCartCacheTTL),
	}
	cfg.Events = EventsConfig{
		Backend:   src.lower("API_EVENTS_BACKEND", BackendNone),
		Topic:     src.str("API_EVENTS_TOPIC", defaultEventsTopic),
		ProjectID: src.str("API_EVENTS_PROJECT_ID", ""),
		Brokers:   src.list("API_EVENTS_KAFKA_BROKERS"),
	}
	cfg.Firebase = FirebaseConfig{
		ProjectID:       src.str("API_FIREBASE_PROJECT_ID", ""),
		CredentialsFile: src.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		RoleClaim:       src.str("API_FIREBASE_ROLE_CLAIM", defaultRoleClaim),
	}
	cfg.Auth = AuthConfig{
		JWTSecret:   src.str("API_AUTH_JWT_SECRET", ""),
		JWTIssuer:   src.str("API_AUTH_JWT_ISSUER", ""),
		JWTAudience: src.str("API_AUTH_JWT_AUDIENCE", ""),
	}
	cfg.Idempotency = IdempotencyConfig{
		Backend: src.lower("API_IDEMPOTENCY_BACKEND", ""),
		Header:  src.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
		TTL:     src.dur("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
	}
	cfg.Cart = CartConfig{
		TTL:           src.dur("API_CART_TTL", defaultCartTTL),
		SweepSchedule: src.str("API_CART_SWEEP_SCHEDULE", defaultCartSweepSchedule),
		SweepBatch:    src.num("API_CART_SWEEP_BATCH", defaultCartSweepBatch),
		SweepEnabled:  src.flag("API_CART_SWEEP_ENABLED", true),
	}
	cfg.Internal = InternalConfig{
		JWKSURL:  src.str("API_INTERNAL_OIDC_JWKS_URL", defaultOIDCJWKSURL),
		Audience: src.str("API_INTERNAL_OIDC_AUDIENCE", ""),
		Issuers:  src.list("API_INTERNAL_OIDC_ISSUERS"),
	}
	cfg.Webhooks = WebhookConfig{
		PaymentSecret: src.str("API_WEBHOOK_PAYMENT_SECRET", ""),
		ClockSkew:     src.dur("API_WEBHOOK_CLOCK_SKEW", defaultWebhookClockSkew),
	}
	cfg.Secrets = SecretsConfig{
		ProjectID:    src.str("API_SECRETS_PROJECT_ID", ""),
		FallbackFile: src.str("API_SECRETS_FALLBACK_FILE", defaultSecretFallbackFile),
		CacheTTL:     src.dur("API_SECRETS_CACHE_TTL", defaultSecretCacheTTL),
	}
	cfg.applyDerivedDefaults()

	resolved, err := cfg.resolveSecrets(ctx, options.secret)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if missing := missingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

// applyDerivedDefaults cascades project ids from Firebase and picks an idempotency backend:
// Redis when configured, then Firestore when it is the storage backend, else memory.
func (c *Config) applyDerivedDefaults() {
	if c.Firestore.ProjectID == "" {
		c.Firestore.ProjectID = c.Firebase.ProjectID
	}
	if c.Events.ProjectID == "" {
		c.Events.ProjectID = c.Firestore.ProjectID
	}
	if c.Secrets.ProjectID == "" {
		c.Secrets.ProjectID = c.Firestore.ProjectID
	}
	if len(c.Internal.Issuers) == 0 {
		c.Internal.Issuers = []string{defaultOIDCIssuer}
	}
	if c.Idempotency.Backend != "" {
		return
	}
	switch {
	case c.Redis.Addr != "":
		c.Idempotency.Backend = BackendRedis
	case c.Storage.Backend == BackendFirestore:
		c.Idempotency.Backend = BackendFirestore
	default:
		c.Idempotency.Backend = BackendMemory
	}
}
