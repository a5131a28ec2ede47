package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// Drivers.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// ResultStore is an appendable, closable result sink.
type ResultStore interface {
	Append(ctx context.Context, results []core.ProbeResult) (bool, error)
	Recent(ctx context.Context, n int) ([]core.ProbeResult, error)
	Close() error
}

// Config selects and configures a driver.
type Config struct {
	Driver          string
	PostgresDSN     string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
}

// Open connects the configured driver.
func Open(ctx context.Context, cfg Config) (ResultStore, error) {
	switch cfg.Driver {
	case DriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, core.NewConfigurationError("POSTGRES_DSN is required for the postgres result store.", nil)
		}
		return NewPostgres(ctx, cfg.PostgresDSN)
	case DriverMongo:
		return NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	default:
		return nil, core.NewConfigurationError(
			fmt.Sprintf("Unknown result store %q.", cfg.Driver),
			map[string]any{"supported": []string{DriverPostgres, DriverMongo}},
		)
	}
}

// appendEach stores results one at a time and keeps going past failures.
// It reports false with the joined errors when any row was not stored.
func appendEach(ctx context.Context, logger *slog.Logger, results []core.ProbeResult, insert func(context.Context, core.ProbeResult) error) (bool, error) {
	var errs []error
	for i, r := range results {
		if err := insert(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("insert result %d (%s): %w", i, r.Kind, err))
			continue
		}
		logger.Debug("stored result", "stamp", r.Stamp, "kind", r.Kind, "amount", r.Amount)
	}
	if len(errs) > 0 {
		logger.Warn("results partially stored", "stored", len(results)-len(errs), "failed", len(errs))
		return false, errors.Join(errs...)
	}
	return true, nil
}
