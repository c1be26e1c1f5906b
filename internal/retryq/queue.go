package retryq

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	syncerrors "github.com/kadragon/notesync/internal/errors"
)

// Options configures the queue's retry schedule.
type Options struct {
	// Base is the backoff base interval.
	Base time.Duration

	// MaxInterval caps the backoff delay.
	MaxInterval time.Duration

	// MaxAttempts is how many failed sweeps move an item to dead_letter.
	MaxAttempts int

	// StaleClaimAge bounds how long an item may sit in 'retrying'. A sweep
	// that crashes after claiming leaves its item there; items older than
	// this go back to pending on the next sweep.
	StaleClaimAge time.Duration
}

// DefaultOptions returns the default retry schedule.
func DefaultOptions() Options {
	return Options{
		Base:          30 * time.Second,
		MaxInterval:   time.Hour,
		MaxAttempts:   5,
		StaleClaimAge: 10 * time.Minute,
	}
}

// Queue is the durable retry queue. All state lives in the engine
// database, so items survive process restarts.
type Queue struct {
	db      *sql.DB
	runner  Runner
	opts    Options
	backoff Backoff
	logger  *slog.Logger

	now func() time.Time // test hook
}

// New creates a Queue over db and initializes its schema. runner replays
// failed operations during sweeps.
func New(db *sql.DB, runner Runner, opts Options, logger *slog.Logger) (*Queue, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if opts.Base <= 0 {
		opts.Base = DefaultOptions().Base
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = DefaultOptions().MaxInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if opts.StaleClaimAge <= 0 {
		opts.StaleClaimAge = DefaultOptions().StaleClaimAge
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		db:      db,
		runner:  runner,
		opts:    opts,
		backoff: Backoff{Base: opts.Base, Max: opts.MaxInterval},
		logger:  logger.With(slog.String("component", "retryq")),
		now:     time.Now,
	}
	if err := q.initSchema(); err != nil {
		return nil, fmt.Errorf("init retry queue schema: %w", err)
	}
	return q, nil
}

func (q *Queue) initSchema() error {
	// The partial unique index enforces at most one active item per
	// (work_id, operation_type); dead-lettered items don't count.
	schema := `
	CREATE TABLE IF NOT EXISTS retry_queue (
		id             TEXT PRIMARY KEY,
		work_id        TEXT NOT NULL,
		operation_type TEXT NOT NULL,
		attempt_count  INTEGER NOT NULL DEFAULT 0,
		max_attempts   INTEGER NOT NULL,
		next_retry_at  INTEGER,
		status         TEXT NOT NULL DEFAULT 'pending',
		error_message  TEXT NOT NULL DEFAULT '',
		error_details  TEXT NOT NULL DEFAULT '',
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL,
		dead_letter_at INTEGER
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_retry_active
		ON retry_queue(work_id, operation_type)
		WHERE status IN ('pending', 'retrying');

	CREATE INDEX IF NOT EXISTS idx_retry_due
		ON retry_queue(status, next_retry_at);
	`
	_, err := q.db.Exec(schema)
	return err
}

// Enqueue records a failed embedding operation. If an active item already
// exists for (workID, op), only its error fields are refreshed; the backoff
// schedule is left untouched so duplicate failure reports don't reset it.
func (q *Queue) Enqueue(ctx context.Context, workID string, op Operation, cause error) error {
	if !op.Valid() {
		return syncerrors.New(syncerrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown operation type: %s", op), nil)
	}

	now := q.now()
	message := ""
	details := ""
	if cause != nil {
		message = cause.Error()
		details = syncerrors.GetCode(cause)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return syncerrors.StoreError("begin enqueue transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE retry_queue
		SET error_message = ?, error_details = ?, updated_at = ?
		WHERE work_id = ? AND operation_type = ? AND status IN ('pending', 'retrying')
	`, message, details, now.UnixNano(), workID, string(op))
	if err != nil {
		return syncerrors.StoreError("refresh queue item", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return syncerrors.StoreError("refresh queue item", err)
	}

	if affected == 0 {
		first := q.backoff.NextRetryAt(now, 0)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO retry_queue
				(id, work_id, operation_type, attempt_count, max_attempts,
				 next_retry_at, status, error_message, error_details,
				 created_at, updated_at)
			VALUES (?, ?, ?, 0, ?, ?, 'pending', ?, ?, ?, ?)
		`, uuid.NewString(), workID, string(op), q.opts.MaxAttempts,
			first.UnixNano(), message, details, now.UnixNano(), now.UnixNano())
		if err != nil {
			return syncerrors.StoreError("insert queue item", err)
		}
		q.logger.Info("retry_item_enqueued",
			slog.String("work_id", workID),
			slog.String("operation", string(op)),
			slog.String("error_code", details))
	}

	if err := tx.Commit(); err != nil {
		return syncerrors.StoreError("commit enqueue transaction", err)
	}
	return nil
}

// ProcessDue sweeps up to limit due items and replays them through the
// runner. Safe under overlapping invocations: each item is claimed with an
// atomic status transition, so two sweeps never process the same item.
func (q *Queue) ProcessDue(ctx context.Context, limit int) (*SweepReport, error) {
	if limit <= 0 {
		limit = 50
	}
	now := q.now()

	if err := q.reclaimStale(ctx, now); err != nil {
		return nil, err
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id FROM retry_queue
		WHERE status = 'pending' AND next_retry_at <= ?
		ORDER BY next_retry_at
		LIMIT ?
	`, now.UnixNano(), limit)
	if err != nil {
		return nil, syncerrors.StoreError("select due items", err)
	}
	var due []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, syncerrors.StoreError("scan due item", err)
		}
		due = append(due, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, syncerrors.StoreError("iterate due items", err)
	}

	report := &SweepReport{}
	for _, id := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		item, claimed, err := q.claim(ctx, id)
		if err != nil {
			return report, err
		}
		if !claimed {
			// Another sweep got there first.
			continue
		}
		report.Claimed++
		q.processItem(ctx, item, report)
	}
	return report, nil
}

// reclaimStale returns items stuck in 'retrying' longer than StaleClaimAge
// to pending. Their next_retry_at is untouched, so an item that was due when
// its sweep crashed is picked up again by the current one.
func (q *Queue) reclaimStale(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-q.opts.StaleClaimAge)
	res, err := q.db.ExecContext(ctx, `
		UPDATE retry_queue SET status = 'pending', updated_at = ?
		WHERE status = 'retrying' AND updated_at < ?
	`, now.UnixNano(), cutoff.UnixNano())
	if err != nil {
		return syncerrors.StoreError("reclaim stale items", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		q.logger.Warn("retry_items_reclaimed", slog.Int64("count", affected))
	}
	return nil
}

// claim atomically transitions one item pending -> retrying and returns it.
// Returns claimed=false when a concurrent sweep already took the item.
func (q *Queue) claim(ctx context.Context, id string) (*Item, bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE retry_queue SET status = 'retrying', updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, q.now().UnixNano(), id)
	if err != nil {
		return nil, false, syncerrors.StoreError("claim queue item", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, syncerrors.StoreError("claim queue item", err)
	}
	if affected == 0 {
		return nil, false, nil
	}

	item, err := q.get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return item, true, nil
}

func (q *Queue) processItem(ctx context.Context, item *Item, report *SweepReport) {
	var runErr error
	switch item.Operation {
	case OperationDelete:
		runErr = q.runner.Remove(ctx, item.WorkID)
	default:
		runErr = q.runner.Embed(ctx, item.WorkID)
	}

	now := q.now()
	switch {
	case runErr == nil:
		if err := q.delete(ctx, item.ID); err != nil {
			q.logger.Error("retry_item_delete_failed",
				slog.String("id", item.ID), slog.String("error", err.Error()))
			return
		}
		report.Succeeded++
		q.logger.Info("retry_item_succeeded",
			slog.String("work_id", item.WorkID),
			slog.String("operation", string(item.Operation)),
			slog.Int("attempt", item.AttemptCount+1))

	case !syncerrors.IsRetryable(runErr):
		// Permanent failures will never succeed on replay; drop the item
		// so it doesn't churn until dead-letter.
		if err := q.delete(ctx, item.ID); err != nil {
			q.logger.Error("retry_item_delete_failed",
				slog.String("id", item.ID), slog.String("error", err.Error()))
			return
		}
		report.Dropped++
		q.logger.Warn("retry_item_dropped_permanent",
			slog.String("work_id", item.WorkID),
			slog.String("operation", string(item.Operation)),
			slog.String("error", runErr.Error()))

	default:
		attempts := item.AttemptCount + 1
		if attempts >= item.MaxAttempts {
			if err := q.deadLetter(ctx, item.ID, attempts, runErr, now); err != nil {
				q.logger.Error("retry_item_dead_letter_failed",
					slog.String("id", item.ID), slog.String("error", err.Error()))
				return
			}
			report.DeadLettered++
			q.logger.Warn("retry_item_dead_lettered",
				slog.String("work_id", item.WorkID),
				slog.String("operation", string(item.Operation)),
				slog.Int("attempts", attempts),
				slog.String("error", runErr.Error()))
		} else {
			next := q.backoff.NextRetryAt(now, attempts)
			if err := q.reschedule(ctx, item.ID, attempts, next, runErr, now); err != nil {
				q.logger.Error("retry_item_reschedule_failed",
					slog.String("id", item.ID), slog.String("error", err.Error()))
				return
			}
			report.Rescheduled++
			q.logger.Info("retry_item_rescheduled",
				slog.String("work_id", item.WorkID),
				slog.String("operation", string(item.Operation)),
				slog.Int("attempt", attempts),
				slog.Time("next_retry_at", next))
		}
	}
}

func (q *Queue) delete(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM retry_queue WHERE id = ?`, id)
	if err != nil {
		return syncerrors.StoreError("delete queue item", err)
	}
	return nil
}

func (q *Queue) reschedule(ctx context.Context, id string, attempts int, next time.Time, cause error, now time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE retry_queue
		SET status = 'pending', attempt_count = ?, next_retry_at = ?,
		    error_message = ?, error_details = ?, updated_at = ?
		WHERE id = ?
	`, attempts, next.UnixNano(), cause.Error(), syncerrors.GetCode(cause), now.UnixNano(), id)
	if err != nil {
		return syncerrors.StoreError("reschedule queue item", err)
	}
	return nil
}

func (q *Queue) deadLetter(ctx context.Context, id string, attempts int, cause error, now time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE retry_queue
		SET status = 'dead_letter', attempt_count = ?, next_retry_at = NULL,
		    dead_letter_at = ?, error_message = ?, error_details = ?, updated_at = ?
		WHERE id = ?
	`, attempts, now.UnixNano(), cause.Error(), syncerrors.GetCode(cause), now.UnixNano(), id)
	if err != nil {
		return syncerrors.StoreError("dead-letter queue item", err)
	}
	return nil
}

// ListDeadLetters returns parked items, newest first.
func (q *Queue) ListDeadLetters(ctx context.Context) ([]*Item, error) {
	rows, err := q.db.QueryContext(ctx, itemColumns+`
		FROM retry_queue
		WHERE status = 'dead_letter'
		ORDER BY dead_letter_at DESC
	`)
	if err != nil {
		return nil, syncerrors.StoreError("list dead letters", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerrors.StoreError("iterate dead letters", err)
	}
	return items, nil
}

// RetryDeadLetter resurrects one dead-lettered item: attempt count resets,
// status goes back to pending, and it becomes immediately due. Returns a
// not-found error when id doesn't exist or isn't dead-lettered.
func (q *Queue) RetryDeadLetter(ctx context.Context, id string) error {
	now := q.now()
	res, err := q.db.ExecContext(ctx, `
		UPDATE retry_queue
		SET status = 'pending', attempt_count = 0, next_retry_at = ?,
		    dead_letter_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'dead_letter'
	`, now.UnixNano(), now.UnixNano(), id)
	if err != nil {
		return syncerrors.StoreError("retry dead letter", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return syncerrors.StoreError("retry dead letter", err)
	}
	if affected == 0 {
		return syncerrors.New(syncerrors.ErrCodeRecordNotFound,
			fmt.Sprintf("no dead-letter item with id %s", id), nil)
	}
	q.logger.Info("dead_letter_retried", slog.String("id", id))
	return nil
}

// Get returns one item by id.
func (q *Queue) Get(ctx context.Context, id string) (*Item, error) {
	return q.get(ctx, id)
}

func (q *Queue) get(ctx context.Context, id string) (*Item, error) {
	row := q.db.QueryRowContext(ctx, itemColumns+` FROM retry_queue WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, syncerrors.New(syncerrors.ErrCodeRecordNotFound,
			fmt.Sprintf("no queue item with id %s", id), nil)
	}
	return item, err
}

// ActiveItem returns the active (pending or retrying) item for a record and
// operation, or nil when none exists.
func (q *Queue) ActiveItem(ctx context.Context, workID string, op Operation) (*Item, error) {
	row := q.db.QueryRowContext(ctx, itemColumns+`
		FROM retry_queue
		WHERE work_id = ? AND operation_type = ? AND status IN ('pending', 'retrying')
	`, workID, string(op))
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

const itemColumns = `
	SELECT id, work_id, operation_type, attempt_count, max_attempts,
	       next_retry_at, status, error_message, error_details,
	       created_at, updated_at, dead_letter_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	var op, status string
	var nextRetry, deadLetter sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(&item.ID, &item.WorkID, &op, &item.AttemptCount,
		&item.MaxAttempts, &nextRetry, &status, &item.ErrorMessage,
		&item.ErrorDetails, &createdAt, &updatedAt, &deadLetter)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, syncerrors.StoreError("scan queue item", err)
	}
	item.Operation = Operation(op)
	item.Status = Status(status)
	item.CreatedAt = time.Unix(0, createdAt).UTC()
	item.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if nextRetry.Valid {
		t := time.Unix(0, nextRetry.Int64).UTC()
		item.NextRetryAt = &t
	}
	if deadLetter.Valid {
		t := time.Unix(0, deadLetter.Int64).UTC()
		item.DeadLetterAt = &t
	}
	return &item, nil
}
