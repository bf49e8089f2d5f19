package di

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/storefront/api/internal/handlers"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/cache"
	"github.com/storefront/api/internal/platform/config"
	"github.com/storefront/api/internal/platform/events"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/idempotency"
	"github.com/storefront/api/internal/platform/jobs"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/repositories"
	firestoreRepo "github.com/storefront/api/internal/repositories/firestore"
	"github.com/storefront/api/internal/repositories/memory"
	mongoRepo "github.com/storefront/api/internal/repositories/mongo"
	"github.com/storefront/api/internal/services"
)

const meterName = "storefront/api"

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Cart       services.CartService
	Checkout   services.CheckoutService
	Orders     services.OrderService
	Counters   services.CounterService
	Sweeper    services.CartSweeper
	Identities *services.IdentityResolver
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Logger       *zap.Logger
	Repositories repositories.Registry
	Services     Services
	Scheduler    *jobs.Scheduler
	Router       http.Handler

	closers []func(context.Context) error
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	logger    *zap.Logger
	registry  repositories.Registry
	publisher services.OrderEventPublisher
	build     handlers.BuildInfo
	probes    []repositories.DependencyProbe
	clock     func() time.Time
}

// WithLogger sets the base logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) { o.logger = logger }
}

// WithRegistry bypasses the storage backend selection. Tests pass an in-memory registry.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *containerOptions) { o.registry = reg }
}

// WithEventPublisher bypasses the events backend selection.
func WithEventPublisher(publisher services.OrderEventPublisher) Option {
	return func(o *containerOptions) { o.publisher = publisher }
}

// WithBuildInfo is reported by /healthz.
func WithBuildInfo(info handlers.BuildInfo) Option {
	return func(o *containerOptions) { o.build = info }
}

// WithProbes adds readiness probes owned by the caller, such as Secret Manager.
func WithProbes(probes ...repositories.DependencyProbe) Option {
	return func(o *containerOptions) { o.probes = append(o.probes, probes...) }
}

// WithClock overrides the service clock.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) { o.clock = clock }
}

// NewContainer constructs the runtime dependencies from cfg. On failure every resource opened so
// far is released.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (c *Container, err error) {
	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	logger := options.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c = &Container{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
			c = nil
		}
	}()

	b := &builder{c: c, cfg: cfg, logger: logger, opts: options}

	if err := b.redis(); err != nil {
		return c, err
	}
	if err := b.registry(ctx); err != nil {
		return c, err
	}
	publisher, err := b.events(ctx)
	if err != nil {
		return c, err
	}
	svc, err := b.services(publisher)
	if err != nil {
		return c, err
	}
	c.Services = svc

	if cfg.Cart.SweepEnabled {
		scheduler := jobs.NewScheduler(logger.Named("jobs"))
		if err := scheduler.RegisterCartSweep(svc.Sweeper, cfg.Cart.SweepSchedule, cfg.Cart.SweepBatch); err != nil {
			return c, fmt.Errorf("register cart sweep: %w", err)
		}
		c.Scheduler = scheduler
	}

	router, err := b.router(ctx)
	if err != nil {
		return c, err
	}
	c.Router = router
	return c, nil
}

// Close releases resources in reverse acquisition order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Scheduler != nil {
		if err := c.Scheduler.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) onClose(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

type builder struct {
	c      *Container
	cfg    config.Config
	logger *zap.Logger
	opts   containerOptions

	redisClient *redis.Client
	cartCache   *cache.RedisCartCache
	firestore   *pfirestore.Provider
	health      repositories.HealthRepository
}

func (b *builder) redis() error {
	addr := strings.TrimSpace(b.cfg.Redis.Addr)
	if addr == "" {
		return nil
	}
	b.redisClient = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: b.cfg.Redis.Password,
		DB:       b.cfg.Redis.DB,
	})
	b.c.onClose(func(context.Context) error { return b.redisClient.Close() })
	b.cartCache = cache.NewRedisCartCache(b.redisClient, cache.WithTTL(b.cfg.Redis.CartCacheTTL))
	return nil
}

// firestoreProvider is shared by the Firestore registry and the Firestore idempotency store.
func (b *builder) firestoreProvider() *pfirestore.Provider {
	if b.firestore == nil {
		b.firestore = pfirestore.NewProvider(b.cfg.Firestore)
		provider := b.firestore
		b.c.onClose(provider.Close)
	}
	return b.firestore
}

func (b *builder) healthRepository(storage repositories.DependencyProbe) (repositories.HealthRepository, error) {
	probes := make([]repositories.DependencyProbe, 0, len(b.opts.probes)+2)
	if storage.Check != nil {
		probes = append(probes, storage)
	}
	if b.cartCache != nil {
		probes = append(probes, repositories.DependencyProbe{Name: "redis", Check: b.cartCache.Ping})
	}
	probes = append(probes, b.opts.probes...)
	return repositories.NewProbeHealthRepository(probes)
}

func (b *builder) registry(ctx context.Context) error {
	if b.opts.registry != nil {
		b.c.Repositories = b.opts.registry
		b.c.onClose(b.opts.registry.Close)
		return nil
	}

	switch b.cfg.Storage.Backend {
	case config.BackendMemory:
		health, err := b.healthRepository(repositories.DependencyProbe{})
		if err != nil {
			return err
		}
		b.logger.Warn("using in-memory storage; data is lost on restart")
		b.c.Repositories = memory.NewRegistry(health)
	case config.BackendFirestore:
		provider := b.firestoreProvider()
		health, err := b.healthRepository(repositories.DependencyProbe{
			Name:     "firestore",
			Required: true,
			Check:    provider.Ping,
		})
		if err != nil {
			return err
		}
		reg, err := firestoreRepo.NewRegistry(provider, health)
		if err != nil {
			return fmt.Errorf("firestore registry: %w", err)
		}
		b.c.Repositories = reg
	case config.BackendMongo:
		client, err := mongoRepo.Connect(ctx, b.cfg.Mongo)
		if err != nil {
			return err
		}
		health, err := b.healthRepository(repositories.DependencyProbe{
			Name:     "mongo",
			Required: true,
			Check:    func(ctx context.Context) error { return client.Ping(ctx, nil) },
		})
		if err != nil {
			_ = client.Disconnect(context.Background())
			return err
		}
		reg, err := mongoRepo.NewRegistry(ctx, client, b.cfg.Mongo.Database,
			mongoRepo.WithTransactions(b.cfg.Mongo.Transactions),
			mongoRepo.WithHealth(health),
		)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return fmt.Errorf("mongo registry: %w", err)
		}
		b.c.Repositories = reg
		b.c.onClose(reg.Close)
	default:
		return fmt.Errorf("unsupported storage backend %q", b.cfg.Storage.Backend)
	}
	return nil
}

func (b *builder) events(ctx context.Context) (services.OrderEventPublisher, error) {
	if b.opts.publisher != nil {
		return b.opts.publisher, nil
	}
	switch b.cfg.Events.Backend {
	case "", config.BackendNone:
		return nil, nil
	case config.BackendPubSub:
		client, err := pubsub.NewClient(ctx, b.cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		b.c.onClose(func(context.Context) error { return client.Close() })
		publisher, err := events.NewPubSubPublisher(client.Topic(b.cfg.Events.Topic))
		if err != nil {
			return nil, err
		}
		b.c.onClose(func(context.Context) error { return publisher.Close() })
		return publisher, nil
	case config.BackendKafka:
		publisher, err := events.NewKafkaPublisher(b.cfg.Events.Brokers, b.cfg.Events.Topic)
		if err != nil {
			return nil, err
		}
		b.c.onClose(func(context.Context) error { return publisher.Close() })
		return publisher, nil
	default:
		return nil, fmt.Errorf("unsupported events backend %q", b.cfg.Events.Backend)
	}
}

func (b *builder) services(publisher services.OrderEventPublisher) (Services, error) {
	reg := b.c.Repositories
	metrics, err := services.NewMetrics(otel.GetMeterProvider().Meter(meterName))
	if err != nil {
		return Services{}, err
	}
	eventLog := observability.EventLogger(b.logger.Named("services"))
	newID := func() string { return ulid.Make().String() }

	// A typed nil *RedisCartCache must not reach the services as a non-nil interface.
	var cartCache services.CartCache
	if b.cartCache != nil {
		cartCache = b.cartCache
	}

	var svc Services
	svc.Identities = services.NewIdentityResolver(rand.Reader)

	if svc.Counters, err = services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      b.opts.clock,
	}); err != nil {
		return Services{}, err
	}

	if svc.Cart, err = services.NewCartService(services.CartServiceDeps{
		Carts:       reg.Carts(),
		Products:    reg.Products(),
		Cache:       cartCache,
		Metrics:     metrics,
		Clock:       b.opts.clock,
		IDGenerator: newID,
		TTL:         b.cfg.Cart.TTL,
		Logger:      eventLog,
	}); err != nil {
		return Services{}, err
	}

	uow, _ := reg.(repositories.UnitOfWork)
	if svc.Checkout, err = services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:       reg.Carts(),
		Orders:      reg.Orders(),
		Products:    reg.Products(),
		Counters:    svc.Counters,
		UnitOfWork:  uow,
		Cache:       cartCache,
		Events:      publisher,
		Metrics:     metrics,
		Clock:       b.opts.clock,
		IDGenerator: newID,
		Logger:      eventLog,
	}); err != nil {
		return Services{}, err
	}

	if svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:  reg.Orders(),
		Events:  publisher,
		Metrics: metrics,
		Clock:   b.opts.clock,
		Logger:  eventLog,
	}); err != nil {
		return Services{}, err
	}

	if svc.Sweeper, err = services.NewCartSweeper(services.CartSweeperDeps{
		Carts:  reg.Carts(),
		Cache:  cartCache,
		Clock:  b.opts.clock,
		Logger: eventLog,
	}); err != nil {
		return Services{}, err
	}
	return svc, nil
}

func (b *builder) verifier(ctx context.Context) (auth.TokenVerifier, error) {
	var chain auth.VerifierChain
	if strings.TrimSpace(b.cfg.Firebase.ProjectID) != "" {
		firebase, err := auth.NewFirebaseVerifier(ctx, b.cfg.Firebase)
		if err != nil {
			return nil, err
		}
		chain = append(chain, firebase)
	}
	if strings.TrimSpace(b.cfg.Auth.JWTSecret) != "" {
		jwtVerifier, err := auth.NewJWTVerifier(b.cfg.Auth.JWTSecret, b.cfg.Auth.JWTIssuer, b.cfg.Auth.JWTAudience)
		if err != nil {
			return nil, err
		}
		chain = append(chain, jwtVerifier)
	}
	if len(chain) == 0 {
		b.logger.Warn("auth: no token verifier configured; every bearer token will be rejected")
	}
	return chain, nil
}

func (b *builder) idempotencyStore() (idempotency.Store, error) {
	switch b.cfg.Idempotency.Backend {
	case config.BackendRedis:
		if b.redisClient == nil {
			return nil, errors.New("idempotency: redis backend requires API_REDIS_ADDR")
		}
		return idempotency.NewRedisStore(b.redisClient)
	case config.BackendFirestore:
		return idempotency.NewFirestoreStore(b.firestoreProvider())
	case "", config.BackendMemory:
		return idempotency.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported idempotency backend %q", b.cfg.Idempotency.Backend)
	}
}

func (b *builder) router(ctx context.Context) (http.Handler, error) {
	verifier, err := b.verifier(ctx)
	if err != nil {
		return nil, err
	}
	authn := auth.NewAuthenticator(verifier, b.logger.Named("auth"))
	svc := b.c.Services

	store, err := b.idempotencyStore()
	if err != nil {
		return nil, err
	}
	idem := idempotency.Middleware(store,
		idempotency.WithHeader(b.cfg.Idempotency.Header),
		idempotency.WithTTL(b.cfg.Idempotency.TTL),
		idempotency.WithLogger(b.logger.Named("idempotency")),
		idempotency.WithRequester(idempotency.AuthenticatedRequester(handlers.GuestTokenHeader)),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.TraceMiddleware(traceProjectID(b.cfg)),
			observability.RequestLogger(b.logger),
			observability.Recoverer(b.logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(b.opts.build),
			handlers.WithHealthReporter(b.c.Repositories.Health()),
		)),
		handlers.WithCartRoutes(handlers.NewCartHandlers(authn, svc.Identities, svc.Cart).Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(authn, svc.Identities, svc.Checkout,
			handlers.WithCheckoutIdempotency(idem)).Routes),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(authn, svc.Orders).Routes),
		handlers.WithAdminRoutes(handlers.NewAdminOrderHandlers(authn, svc.Orders).Routes),
	}

	if secret := strings.TrimSpace(b.cfg.Webhooks.PaymentSecret); secret != "" {
		validator := auth.NewHMACValidator(secret, auth.WithClockSkew(b.cfg.Webhooks.ClockSkew))
		opts = append(opts,
			handlers.WithWebhookMiddlewares(validator.RequireHMAC()),
			handlers.WithWebhookRoutes(handlers.NewWebhookHandlers(svc.Orders).Routes),
		)
	} else {
		b.logger.Warn("webhooks: payment secret not configured; webhook routes disabled")
	}

	if audience := strings.TrimSpace(b.cfg.Internal.Audience); audience != "" {
		keys := auth.NewJWKSCache(b.cfg.Internal.JWKSURL, &http.Client{Timeout: 5 * time.Second})
		validator := auth.NewOIDCValidator(keys, b.logger.Named("oidc"))
		opts = append(opts,
			handlers.WithInternalMiddlewares(validator.RequireOIDC(audience, b.cfg.Internal.Issuers)),
			handlers.WithInternalRoutes(handlers.NewInternalHandlers(svc.Sweeper).Routes),
		)
	} else {
		b.logger.Warn("auth: OIDC audience not configured; internal routes disabled")
	}

	return handlers.NewRouter(opts...), nil
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
