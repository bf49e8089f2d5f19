package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/storefront/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

// routeGroup is one storefront surface under the API prefix. Groups that own colon actions on
// their collection (POST /cart:merge, GET /orders:lookup) register against the API router itself
// and list those actions in colonActions so they can be stubbed when absent.
type routeGroup struct {
	name         string
	prefix       string
	atRoot       bool
	colonActions []string
	registrar    RouteRegistrar
	middlewares  []middlewareFunc
}

type routerConfig struct {
	basePath    string
	middlewares []middlewareFunc
	health      *HealthHandlers
	groups      []*routeGroup
}

func (c *routerConfig) group(name string) *routeGroup {
	for _, g := range c.groups {
		if g.name == name {
			return g
		}
	}
	panic(fmt.Sprintf("handlers: unknown route group %q", name))
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

func defaultGroups() []*routeGroup {
	return []*routeGroup{
		{name: "cart", prefix: "/cart", atRoot: true, colonActions: []string{"/cart:merge"}},
		{name: "orders", prefix: "/orders", atRoot: true, colonActions: []string{"/orders:lookup"}},
		{name: "checkout", prefix: "/checkout"},
		{name: "admin", prefix: "/admin"},
		{name: "webhooks", prefix: "/webhooks"},
		{name: "internal", prefix: "/internal"},
	}
}

// NewRouter builds the chi router: probes at the root, storefront groups under /api/v1. A group
// without a registrar answers 501 on every path it would own.
func NewRouter(opts ...Option) chi.Router {
	cfg := &routerConfig{
		basePath: apiPrefix,
		middlewares: []middlewareFunc{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
		groups: defaultGroups(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	useAll(r, cfg.middlewares)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found",
			fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed",
			fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})
	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, g := range cfg.groups {
			mountGroup(api, g)
		}
	})
	return r
}

func mountGroup(api chi.Router, g *routeGroup) {
	if g.registrar != nil && g.atRoot {
		api.Group(func(sub chi.Router) {
			useAll(sub, g.middlewares)
			g.registrar(sub)
		})
		return
	}
	api.Route(g.prefix, func(sub chi.Router) {
		useAll(sub, g.middlewares)
		if g.registrar != nil {
			g.registrar(sub)
			return
		}
		stub := notImplemented(g.name)
		sub.HandleFunc("/", stub)
		sub.HandleFunc("/*", stub)
		sub.NotFound(stub)
		sub.MethodNotAllowed(stub)
	})
	if g.registrar == nil {
		for _, action := range g.colonActions {
			api.HandleFunc(action, notImplemented(g.name))
		}
	}
}

func useAll(r chi.Router, mws []middlewareFunc) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

func notImplemented(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented",
			fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
}

func withGroup(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(name).registrar = reg }
}

func withGroupMiddlewares(name string, mw []middlewareFunc) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(name)
		g.middlewares = append(g.middlewares, mw...)
	}
}

// WithMiddlewares appends global middleware, applied after request id, real ip and timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers replaces the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithCartRoutes mounts /cart and /cart:merge.
func WithCartRoutes(reg RouteRegistrar) Option { return withGroup("cart", reg) }

// WithOrderRoutes mounts /orders and /orders:lookup.
func WithOrderRoutes(reg RouteRegistrar) Option { return withGroup("orders", reg) }

func WithCheckoutRoutes(reg RouteRegistrar) Option { return withGroup("checkout", reg) }

func WithAdminRoutes(reg RouteRegistrar) Option { return withGroup("admin", reg) }

func WithWebhookRoutes(reg RouteRegistrar) Option { return withGroup("webhooks", reg) }

// WithWebhookMiddlewares guards /webhooks, typically with signature validation.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares("webhooks", mw)
}

func WithInternalRoutes(reg RouteRegistrar) Option { return withGroup("internal", reg) }

// WithInternalMiddlewares guards /internal, typically with OIDC verification.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares("internal", mw)
}
