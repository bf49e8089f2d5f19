package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

// problems collects invalid field names in first-seen order.
type problems []string

func (p *problems) flag(field string, bad bool) {
	if bad && !slices.Contains(*p, field) {
		*p = append(*p, field)
	}
}

func (p *problems) blank(field, value string) {
	p.flag(field, strings.TrimSpace(value) == "")
}

func (c Config) validate() error {
	var p problems

	p.blank("Server.Port", c.Server.Port)
	p.flag("Server.ShutdownTimeout", c.Server.ShutdownTimeout <= 0)
	p.flag("Log.Level", !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level))

	switch c.Storage.Backend {
	case BackendFirestore:
		p.blank("Firestore.ProjectID", c.Firestore.ProjectID)
	case BackendMongo:
		p.blank("Mongo.URI", c.Mongo.URI)
		p.blank("Mongo.Database", c.Mongo.Database)
	case BackendMemory:
	default:
		p.flag("Storage.Backend", true)
	}
	p.flag("Redis.CartCacheTTL", c.Redis.Addr != "" && c.Redis.CartCacheTTL <= 0)

	switch c.Events.Backend {
	case BackendPubSub:
		p.blank("Events.ProjectID", c.Events.ProjectID)
		p.blank("Events.Topic", c.Events.Topic)
	case BackendKafka:
		p.flag("Events.Brokers", len(c.Events.Brokers) == 0)
		p.blank("Events.Topic", c.Events.Topic)
	case BackendNone:
	default:
		p.flag("Events.Backend", true)
	}

	switch c.Idempotency.Backend {
	case BackendRedis:
		p.blank("Redis.Addr", c.Redis.Addr)
	case BackendFirestore:
		p.blank("Firestore.ProjectID", c.Firestore.ProjectID)
	case BackendMemory:
	default:
		p.flag("Idempotency.Backend", true)
	}
	p.blank("Idempotency.Header", c.Idempotency.Header)
	p.flag("Idempotency.TTL", c.Idempotency.TTL <= 0)

	p.flag("Cart.TTL", c.Cart.TTL <= 0)
	if c.Cart.SweepEnabled {
		p.blank("Cart.SweepSchedule", c.Cart.SweepSchedule)
		p.flag("Cart.SweepBatch", c.Cart.SweepBatch <= 0)
	}
	p.flag("Webhooks.ClockSkew", c.Webhooks.ClockSkew <= 0)

	if len(p) > 0 {
		return &ValidationError{fields: p}
	}
	return nil
}
