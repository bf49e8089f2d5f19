package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/storefront/api/internal/repositories"
)

// maxDailyOrders is the largest sequence the four-digit order number suffix can render.
const maxDailyOrders = 9999

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo  repositories.CounterRepository
	clock func() time.Time

	// applied remembers the settings last written per counter so Configure runs once per
	// process rather than on every allocation.
	mu      sync.Mutex
	applied map[string]repositories.CounterConfig
}

func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &counterService{
		repo:    deps.Repository,
		clock:   clock,
		applied: make(map[string]repositories.CounterConfig),
	}, nil
}

func (s *counterService) Next(ctx context.Context, seq Sequence) (CounterValue, error) {
	scope, name := strings.TrimSpace(seq.Scope), strings.TrimSpace(seq.Name)
	switch {
	case scope == "" || name == "":
		return CounterValue{}, fmt.Errorf("%w: scope and name are required", ErrCounterInvalid)
	case seq.Step < 0 || seq.Max < 0:
		return CounterValue{}, fmt.Errorf("%w: step and max must not be negative", ErrCounterInvalid)
	}
	id := scope + ":" + name

	if err := s.apply(ctx, id, seq); err != nil {
		return CounterValue{}, err
	}
	value, err := s.repo.Next(ctx, id, seq.Step)
	if err != nil {
		return CounterValue{}, counterFailure(id, err)
	}

	formatted := strconv.FormatInt(value, 10)
	if seq.Format != nil {
		formatted = seq.Format(value)
	}
	return CounterValue{Value: value, Formatted: formatted}, nil
}

// NextOrderNumber allocates ORD + YYMMDD + a four digit daily sequence. Days are UTC calendar
// days, so the sequence resets at 00:00 UTC.
func (s *counterService) NextOrderNumber(ctx context.Context, at time.Time) (string, error) {
	if at.IsZero() {
		at = s.clock()
	}
	day := at.UTC()
	value, err := s.Next(ctx, Sequence{
		Scope:  "orders",
		Name:   day.Format("20060102"),
		Step:   1,
		Max:    maxDailyOrders,
		Format: func(n int64) string { return FormatOrderNumber(day, n) },
	})
	if err != nil {
		return "", err
	}
	return value.Formatted, nil
}

// FormatOrderNumber renders the order number of the n-th order of day (UTC).
func FormatOrderNumber(day time.Time, n int64) string {
	return fmt.Sprintf("ORD%s%04d", day.UTC().Format("060102"), n)
}

func (s *counterService) apply(ctx context.Context, id string, seq Sequence) error {
	if seq.Step == 0 && seq.Max == 0 {
		return nil
	}
	want := repositories.CounterConfig{Step: seq.Step}
	if seq.Max > 0 {
		limit := seq.Max
		want.MaxValue = &limit
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if have, ok := s.applied[id]; ok && sameCounterConfig(have, want) {
		return nil
	}
	if err := s.repo.Configure(ctx, id, want); err != nil {
		return translateRepoError("counter", id, err)
	}
	s.applied[id] = want
	return nil
}

func sameCounterConfig(a, b repositories.CounterConfig) bool {
	if a.Step != b.Step || (a.MaxValue == nil) != (b.MaxValue == nil) {
		return false
	}
	return a.MaxValue == nil || *a.MaxValue == *b.MaxValue
}

func counterFailure(id string, err error) error {
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		switch counterErr.Code {
		case repositories.CounterErrorExhausted:
			return fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
		case repositories.CounterErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrCounterInvalid, counterErr.Message)
		}
	}
	return translateRepoError("counter", id, err)
}
