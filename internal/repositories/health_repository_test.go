package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/storefront/api/internal/domain"
)

func TestProbeHealthRepositoryAllHealthy(t *testing.T) {
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)
	repo, err := NewProbeHealthRepository([]DependencyProbe{
		{Name: "firestore", Required: true, Check: func(context.Context) error { return nil }},
		{Name: "redis", Check: func(context.Context) error { return nil }},
	}, WithHealthClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestProbeHealthRepositoryOptionalFailureDegrades(t *testing.T) {
	repo, err := NewProbeHealthRepository([]DependencyProbe{
		{Name: "mongo", Required: true, Check: func(context.Context) error { return nil }},
		{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	})
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	redis := report.Checks["redis"]
	if redis.Status != domain.HealthStatusError || redis.Detail != "unreachable" {
		t.Fatalf("unexpected redis check %#v", redis)
	}
	if redis.Error != "connection refused" {
		t.Fatalf("expected error message, got %q", redis.Error)
	}
}

func TestProbeHealthRepositoryRequiredTimeout(t *testing.T) {
	repo, err := NewProbeHealthRepository([]DependencyProbe{
		{
			Name:     "firestore",
			Required: true,
			Timeout:  5 * time.Millisecond,
			Check: func(ctx context.Context) error {
				select {
				case <-time.After(200 * time.Millisecond):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		},
	})
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error, got %s", report.Status)
	}
	if detail := report.Checks["firestore"].Detail; detail != "timeout" {
		t.Fatalf("expected timeout detail, got %q", detail)
	}
}

func TestNewProbeHealthRepositoryRejectsInvalidProbes(t *testing.T) {
	if _, err := NewProbeHealthRepository([]DependencyProbe{{Name: " "}}); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if _, err := NewProbeHealthRepository([]DependencyProbe{{Name: "redis"}}); err == nil {
		t.Fatalf("expected error for missing check")
	}
	ok := func(context.Context) error { return nil }
	if _, err := NewProbeHealthRepository([]DependencyProbe{{Name: "a", Check: ok}, {Name: "a", Check: ok}}); err == nil {
		t.Fatalf("expected error for duplicate probe")
	}
}
