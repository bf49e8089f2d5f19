package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/storefront/api/internal/repositories"
	"github.com/storefront/api/internal/repositories/memory"
)

type stubCounterRepository struct {
	mu             sync.Mutex
	nextFn         func(context.Context, string, int64) (int64, error)
	configureFn    func(context.Context, string, repositories.CounterConfig) error
	nextCalls      []counterCall
	configureCalls []configureCall
}

type counterCall struct {
	ID   string
	Step int64
}

type configureCall struct {
	ID  string
	Cfg repositories.CounterConfig
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	s.mu.Lock()
	s.nextCalls = append(s.nextCalls, counterCall{ID: counterID, Step: step})
	s.mu.Unlock()
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 0, nil
}

func (s *stubCounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	s.mu.Lock()
	s.configureCalls = append(s.configureCalls, configureCall{ID: counterID, Cfg: cfg})
	s.mu.Unlock()
	if s.configureFn != nil {
		return s.configureFn(ctx, counterID, cfg)
	}
	return nil
}

func TestCounterServiceNextFormatsAndConfiguresOnce(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(context.Context, string, int64) (int64, error) {
		return 42, nil
	}
	svc := mustCounterService(t, repo, nil)

	seq := Sequence{
		Scope:  "refunds",
		Name:   "2025",
		Step:   2,
		Max:    500,
		Format: func(n int64) string { return fmt.Sprintf("RF-%05d", n) },
	}
	value, err := svc.Next(context.Background(), seq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value.Value != 42 || value.Formatted != "RF-00042" {
		t.Fatalf("unexpected value %+v", value)
	}
	if len(repo.configureCalls) != 1 {
		t.Fatalf("expected one configure call, got %d", len(repo.configureCalls))
	}
	cfg := repo.configureCalls[0]
	if cfg.ID != "refunds:2025" || cfg.Cfg.Step != 2 || cfg.Cfg.MaxValue == nil || *cfg.Cfg.MaxValue != 500 {
		t.Fatalf("unexpected configure call %+v", cfg)
	}
	if len(repo.nextCalls) != 1 || repo.nextCalls[0].Step != 2 {
		t.Fatalf("unexpected next calls %+v", repo.nextCalls)
	}

	seq.Format = nil
	plain, err := svc.Next(context.Background(), seq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plain.Formatted != "42" {
		t.Fatalf("expected plain decimal rendering, got %q", plain.Formatted)
	}
	if len(repo.configureCalls) != 1 {
		t.Fatalf("expected unchanged settings not to be rewritten, got %d calls", len(repo.configureCalls))
	}

	seq.Max = 600
	if _, err := svc.Next(context.Background(), seq); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.configureCalls) != 2 {
		t.Fatalf("expected changed settings to be written, got %d calls", len(repo.configureCalls))
	}
}

func TestCounterServiceNextValidatesInput(t *testing.T) {
	svc := mustCounterService(t, &stubCounterRepository{}, nil)
	for _, seq := range []Sequence{
		{Scope: " ", Name: "name"},
		{Scope: "scope", Name: "name", Step: -1},
		{Scope: "scope", Name: "name", Max: -5},
	} {
		if _, err := svc.Next(context.Background(), seq); !errors.Is(err, ErrCounterInvalid) {
			t.Fatalf("%+v: expected ErrCounterInvalid, got %v", seq, err)
		}
	}
}

func TestCounterServiceMapsRepositoryErrors(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(context.Context, string, int64) (int64, error) {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, "full", nil)
	}
	svc := mustCounterService(t, repo, nil)
	seq := Sequence{Scope: "orders", Name: "20250601"}

	_, err := svc.Next(context.Background(), seq)
	if !errors.Is(err, ErrCounterExhausted) || !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrCounterExhausted, got %v", err)
	}

	repo.nextFn = func(context.Context, string, int64) (int64, error) {
		return 0, &repositoryErrorStub{unavailable: true}
	}
	if _, err := svc.Next(context.Background(), seq); !errors.Is(err, ErrInfrastructure) {
		t.Fatalf("expected ErrInfrastructure, got %v", err)
	}
}

func TestCounterServiceNextOrderNumber(t *testing.T) {
	reg := memory.NewRegistry(nil)
	svc := mustCounterService(t, reg.Counters(), nil)
	ctx := context.Background()

	day := time.Date(2024, 1, 5, 23, 59, 0, 0, time.UTC)
	first, err := svc.NextOrderNumber(ctx, day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.NextOrderNumber(ctx, day.Add(30*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != "ORD2401050001" || second != "ORD2401050002" {
		t.Fatalf("unexpected order numbers %q %q", first, second)
	}

	nextDay, err := svc.NextOrderNumber(ctx, day.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nextDay != "ORD2401060001" {
		t.Fatalf("expected sequence reset at UTC midnight, got %q", nextDay)
	}
}

func TestCounterServiceNextOrderNumberUsesUTCDay(t *testing.T) {
	reg := memory.NewRegistry(nil)
	svc := mustCounterService(t, reg.Counters(), nil)

	hanoi := time.FixedZone("ICT", 7*60*60)
	number, err := svc.NextOrderNumber(context.Background(), time.Date(2024, 1, 6, 3, 0, 0, 0, hanoi))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if number != "ORD2401050001" {
		t.Fatalf("expected UTC calendar day 240105, got %q", number)
	}
}

func TestCounterServiceNextOrderNumberExhausted(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(_ context.Context, _ string, _ int64) (int64, error) {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, "daily limit reached", nil)
	}
	svc := mustCounterService(t, repo, nil)

	_, err := svc.NextOrderNumber(context.Background(), time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrCounterExhausted) {
		t.Fatalf("expected ErrCounterExhausted, got %v", err)
	}
	if len(repo.configureCalls) != 1 || repo.configureCalls[0].Cfg.MaxValue == nil || *repo.configureCalls[0].Cfg.MaxValue != 9999 {
		t.Fatalf("expected daily counter capped at 9999, got %+v", repo.configureCalls)
	}
}

func TestFormatOrderNumber(t *testing.T) {
	got := FormatOrderNumber(time.Date(2031, 12, 31, 0, 0, 0, 0, time.UTC), 42)
	if got != "ORD3112310042" {
		t.Fatalf("unexpected order number %q", got)
	}
}
