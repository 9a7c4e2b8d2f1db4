package merger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/c360studio/storewatch/collect"
	"github.com/c360studio/storewatch/merge"
	"github.com/c360studio/storewatch/storage"
)

// appStore is the subset of the catalog store the merger needs.
type appStore interface {
	GetApp(ctx context.Context, id string) (*merge.Record, error)
	PutApp(ctx context.Context, rec *merge.Record) error
}

// BatchOutcome summarizes merging one record batch.
type BatchOutcome struct {
	Merged    int
	Changed   int
	Conflicts int
	Skipped   int

	// Records are the post-merge catalog records that changed.
	Records []*merge.Record
}

// Handler folds record batches into the catalog. Re-merging the same
// batch leaves the catalog unchanged, so redeliveries are safe.
type Handler struct {
	resolver *merge.Resolver
	store    appStore
	logger   *slog.Logger
}

// NewHandler creates a merge handler.
func NewHandler(resolver *merge.Resolver, store appStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		resolver: resolver,
		store:    store,
		logger:   logger,
	}
}

// MergeBatch applies every record in the batch to the catalog. A
// record that fails to merge is counted and skipped.
func (h *Handler) MergeBatch(ctx context.Context, batch *collect.RecordBatchPayload) (*BatchOutcome, error) {
	outcome := &BatchOutcome{}

	for i := range batch.Records {
		incoming := batch.Records[i]

		current, err := h.store.GetApp(ctx, incoming.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return outcome, fmt.Errorf("load app %s: %w", incoming.ID, err)
		}

		merged, result, err := h.resolver.Apply(current, incoming)
		if err != nil {
			h.logger.Warn("Skipping unmergeable record",
				"app_id", incoming.ID,
				"source", incoming.Source,
				"error", err)
			outcome.Skipped++
			continue
		}

		outcome.Merged++
		outcome.Conflicts += result.Conflicts

		if !result.Changed {
			continue
		}

		if err := h.store.PutApp(ctx, merged); err != nil {
			return outcome, fmt.Errorf("store app %s: %w", incoming.ID, err)
		}
		outcome.Changed++
		outcome.Records = append(outcome.Records, merged)
	}

	return outcome, nil
}
