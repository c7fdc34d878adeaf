// Package cmd holds the wiring shared by the flowgate binaries.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/persistence/file"
	"github.com/dukex/flowgate/pkg/persistence/postgresql"
)

// ErrFileStoreNotShared is returned when a standalone worker is pointed at the file store,
// which keeps its state in the memory of the process that opened it.
var ErrFileStoreNotShared = errors.New("file persistence cannot be shared between processes, use postgresql or the API --embedded-workers mode")

// PersistenceProvider returns "postgresql" for postgres URLs and "file" for anything else.
func PersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return "postgresql"
	default:
		return "file"
	}
}

// NewPersistence opens the store selected by databaseURL.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch PersistenceProvider(databaseURL) {
	case "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgresql persistence: %w", err)
		}

		return p, nil
	default:
		p, err := file.NewPersistence(databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create file persistence: %w", err)
		}

		return p, nil
	}
}

// NewSharedPersistence opens a store that other processes write to concurrently.
// Only postgresql qualifies.
func NewSharedPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	if PersistenceProvider(databaseURL) != "postgresql" {
		return nil, ErrFileStoreNotShared
	}

	return NewPersistence(ctx, logger, databaseURL)
}
