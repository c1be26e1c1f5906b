package index

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	syncerrors "github.com/kadragon/notesync/internal/errors"
	"github.com/kadragon/notesync/internal/retryq"
)

// Report summarizes a bulk reindex run.
type Report struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"` // records with no embeddable text
}

// Reindexer walks every source record and re-runs the embedding pass.
// Pages are fetched with one batch read each and processed fan-out/fan-in;
// one record's failure never aborts the run.
type Reindexer struct {
	proc        *Processor
	queue       *retryq.Queue
	logger      *slog.Logger
	parallelism int
}

// NewReindexer creates a bulk reindexer. queue may be nil, in which case
// retryable failures are only logged.
func NewReindexer(proc *Processor, queue *retryq.Queue, parallelism int, logger *slog.Logger) *Reindexer {
	if parallelism <= 0 {
		parallelism = proc.parallelism
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reindexer{
		proc:        proc,
		queue:       queue,
		logger:      logger.With(slog.String("component", "reindex")),
		parallelism: parallelism,
	}
}

// ReindexAll embeds every record, batchSize records per page.
// Retryable failures are enqueued for the sweep; unembeddable records are
// skipped without a retry item.
func (r *Reindexer) ReindexAll(ctx context.Context, batchSize int) (*Report, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	report := &Report{}
	cursor := ""
	for {
		ids, next, err := r.proc.records.ListIDPage(ctx, cursor, batchSize)
		if err != nil {
			return report, err
		}
		if len(ids) == 0 {
			break
		}

		if err := r.processPage(ctx, ids, report); err != nil {
			return report, err
		}

		if next == "" {
			break
		}
		cursor = next
	}

	r.logger.Info("reindex_complete",
		slog.Int("processed", report.Processed),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped))
	return report, nil
}

// processPage embeds one page of records concurrently. Snapshots for the
// whole page come from a single batch read.
func (r *Reindexer) processPage(ctx context.Context, ids []string, report *Report) error {
	snaps, err := r.proc.records.GetSnapshotsBatch(ctx, ids)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	for _, id := range ids {
		snap, found := snaps[id]
		if !found {
			// Deleted between the id listing and the batch read.
			continue
		}
		g.Go(func() error {
			embedErr := r.proc.EmbedSnapshot(gctx, snap)

			mu.Lock()
			defer mu.Unlock()
			report.Processed++
			switch {
			case embedErr == nil:
				report.Succeeded++
			case syncerrors.GetCode(embedErr) == syncerrors.ErrCodeEmptyText:
				report.Skipped++
			default:
				report.Failed++
				r.logger.Warn("reindex_record_failed",
					slog.String("work_id", snap.WorkID),
					slog.String("error", embedErr.Error()))
				if r.queue != nil && syncerrors.IsRetryable(embedErr) {
					if qErr := r.queue.Enqueue(gctx, snap.WorkID, retryq.OperationUpdate, embedErr); qErr != nil {
						r.logger.Error("reindex_enqueue_failed",
							slog.String("work_id", snap.WorkID),
							slog.String("error", qErr.Error()))
					}
				}
			}
			// Individual failures are recorded, not propagated; only
			// context cancellation stops the page.
			return gctx.Err()
		})
	}
	return g.Wait()
}
