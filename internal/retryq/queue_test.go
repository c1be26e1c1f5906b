package retryq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "github.com/kadragon/notesync/internal/errors"
	"github.com/kadragon/notesync/internal/store"
)

// fakeRunner records replayed operations and fails on demand.
type fakeRunner struct {
	mu          sync.Mutex
	embedErr    error
	removeErr   error
	embedCalls  []string
	removeCalls []string
}

func (f *fakeRunner) Embed(ctx context.Context, workID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedCalls = append(f.embedCalls, workID)
	return f.embedErr
}

func (f *fakeRunner) Remove(ctx context.Context, workID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeCalls = append(f.removeCalls, workID)
	return f.removeErr
}

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T, runner *fakeRunner) (*Queue, *time.Time) {
	t.Helper()
	db, err := store.OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q, err := New(db, runner, Options{
		Base:        time.Minute,
		MaxInterval: time.Hour,
		MaxAttempts: 3,
	}, nil)
	require.NoError(t, err)

	now := testEpoch
	q.now = func() time.Time { return now }
	return q, &now
}

func TestQueue_EnqueueCreatesPendingItem(t *testing.T) {
	q, _ := newTestQueue(t, &fakeRunner{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "note-1", OperationUpdate, syncerrors.ProviderError("timeout", nil)))

	item, err := q.ActiveItem(ctx, "note-1", OperationUpdate)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, StatusPending, item.Status)
	assert.Equal(t, 0, item.AttemptCount)
	assert.Equal(t, 3, item.MaxAttempts)
	require.NotNil(t, item.NextRetryAt)
	assert.True(t, item.NextRetryAt.Equal(testEpoch.Add(time.Minute)))
	assert.Contains(t, item.ErrorMessage, "timeout")
}

func TestQueue_DuplicateEnqueueRefreshesErrorOnly(t *testing.T) {
	q, now := newTestQueue(t, &fakeRunner{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "note-1", OperationUpdate, syncerrors.ProviderError("first", nil)))
	first, err := q.ActiveItem(ctx, "note-1", OperationUpdate)
	require.NoError(t, err)

	*now = now.Add(20 * time.Second)
	require.NoError(t, q.Enqueue(ctx, "note-1", OperationUpdate, syncerrors.VectorError("second", nil)))

	second, err := q.ActiveItem(ctx, "note-1", OperationUpdate)
	require.NoError(t, err)

	// At most one active item per (work_id, operation): same item, the
	// schedule untouched, only the error fields refreshed.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.AttemptCount, second.AttemptCount)
	assert.True(t, second.NextRetryAt.Equal(*first.NextRetryAt))
	assert.Contains(t, second.ErrorMessage, "second")
}

func TestQueue_DifferentOperationsCoexist(t *testing.T) {
	q, _ := newTestQueue(t, &fakeRunner{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "note-1", OperationUpdate, syncerrors.ProviderError("x", nil)))
	require.NoError(t, q.Enqueue(ctx, "note-1", OperationDelete, syncerrors.VectorError("y", nil)))

	update, err := q.ActiveItem(ctx, "note-1", OperationUpdate)
	require.NoError(t, err)
	deleteItem, err := q.ActiveItem(ctx, "note-1", OperationDelete)
	require.NoError(t, err)
	assert.NotEqual(t, update.ID, deleteItem.ID)
}

func TestQueue_EnqueueRejectsUnknownOperation(t *testing.T) {
	q, _ := newTestQueue(t, &fakeRunner{})

	err := q.Enqueue(context.Background(), "note-1", Operation("compact"), nil)
	require.Error(t, err)
	assert.Equal(t, syncerrors.ErrCodeInvalidInput, syncerrors.GetCode(err))
}

func TestQueue_SweepSkipsItemsNotYetDue(t *testing.T) {
	runner := &fakeRunner{}
	q, _ := newTestQueue(t, runner)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "note-1", OperationUpdate, syncerrors.ProviderError("x", nil)))

	report, err := q.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Claimed)
	assert.Empty(t, runner.embedCalls)
}

func TestQueue_SweepSuccessDeletesItem(t *testing.T) {
	runner := &fakeRunner{}
	q, now := newTestQueue(t, runner)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "note-1", OperationUpdate, syncerrors.ProviderError("x", nil)))
	*now = now.Add(2 * time.Minute)

	report, err := q.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, []string{"note-1"}, runner.embedCalls)

	item, err := q.ActiveItem(ctx, "note-1", OperationUpdate)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestQueue_DeleteOperationRoutesToRemove(t *testing.T) {
	runner := &fakeRunner{}
	q, now := newTestQueue(t, runner)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "note-1", OperationDelete, syncerrors.VectorError("x", nil)))
	*now = now.Add(2 * time.Minute)

	_, err := q.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"note-1"}, runner.removeCalls)
	assert.Empty(t, runner.embedCalls)
}

func TestQueue_BackoffMonotonicityAcrossSweeps(t *testing.T) {
	runner := &fakeRunner{embedErr: syncerrors.ProviderError("still down", nil)}
	q, now := newTestQueue(t, runner)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "note-1", OperationUpdate, runner.embedErr))

	var prevNext time.Time
	for attempt := 1; attempt < 3; attempt++ {
		item, err := q.ActiveItem(ctx, "note-1", OperationUpdate)
		require.NoError(t, err)
		*now = item.NextRetryAt.Add(time.Second)

		report, err := q.ProcessDue(ctx, 10)
		require.NoError(t, err)
		require.Equal(t, 1, report.Claimed)
		require.Equal(t, 1, report.Rescheduled)

		item, err = q.ActiveItem(ctx, "note-1", OperationUpdate)
		require.NoError(t, err)
		require.NotNil(t, item)

		// Each claimed pass bumps attempt_count by exactly one and pushes
		// next_retry_at strictly later.
		assert.Equal(t, attempt, item.AttemptCount)
		assert.True(t, item.NextRetryAt.After(prevNext))
		prevNext = *item.NextRetryAt
	}
}

func TestQueue_ExhaustionDeadLetters(t *testing.T) {
	runner := &fakeRunner{embedErr: syncerrors.ProviderError("still down", nil)}
	q, now := newTestQueue(t, runner)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "note-1", OperationUpdate, runner.embedErr))

	// MaxAttempts is 3: two reschedules, then the third failure parks it.
	for i := 0; i < 3; i++ {
		*now = now.Add(2 * time.Hour)
		_, err := q.ProcessDue(ctx, 10)
		require.NoError(t, err)
	}

	active, err := q.ActiveItem(ctx, "note-1", OperationUpdate)
	require.NoError(t, err)
	assert.Nil(t, active)

	dead, err := q.ListDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, StatusDeadLetter, dead[0].Status)
	assert.Equal(t, 3, dead[0].AttemptCount)
	assert.Nil(t, dead[0].NextRetryAt)
	assert.NotNil(t, dead[0].DeadLetterAt)

	// Dead-lettered items are excluded from future sweeps.
	*now = now.Add(2 * time.Hour)
	report, err := q.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Claimed)
}

func TestQueue_PermanentFailureDropsItem(t *testing.T) {
	runner := &fakeRunner{embedErr: syncerrors.EmptyTextError("note-1")}
	q, now := newTestQueue(t, runner)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "note-1", OperationUpdate, syncerrors.ProviderError("x", nil)))
	*now = now.Add(2 * time.Minute)

	report, err := q.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dropped)

	active, err := q.ActiveItem(ctx, "note-1", OperationUpdate)
	require.NoError(t, err)
	assert.Nil(t, active)

	dead, err := q.ListDeadLetters(ctx)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestQueue_RetryDeadLetterResurrects(t *testing.T) {
	runner := &fakeRunner{embedErr: syncerrors.ProviderError("down", nil)}
	q, now := newTestQueue(t, runner)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "note-1", OperationUpdate, runner.embedErr))
	for i := 0; i < 3; i++ {
		*now = now.Add(2 * time.Hour)
		_, err := q.ProcessDue(ctx, 10)
		require.NoError(t, err)
	}
	dead, err := q.ListDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)

	require.NoError(t, q.RetryDeadLetter(ctx, dead[0].ID))

	item, err := q.Get(ctx, dead[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, item.Status)
	assert.Equal(t, 0, item.AttemptCount)
	assert.Nil(t, item.DeadLetterAt)
	require.NotNil(t, item.NextRetryAt)

	// The provider recovered; the resurrected item succeeds on the next sweep.
	runner.mu.Lock()
	runner.embedErr = nil
	runner.mu.Unlock()
	*now = now.Add(time.Second)
	report, err := q.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
}

func TestQueue_RetryDeadLetterRejectsActiveOrUnknown(t *testing.T) {
	q, _ := newTestQueue(t, &fakeRunner{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "note-1", OperationUpdate, syncerrors.ProviderError("x", nil)))
	active, err := q.ActiveItem(ctx, "note-1", OperationUpdate)
	require.NoError(t, err)

	err = q.RetryDeadLetter(ctx, active.ID)
	require.Error(t, err)
	assert.Equal(t, syncerrors.ErrCodeRecordNotFound, syncerrors.GetCode(err))

	err = q.RetryDeadLetter(ctx, "no-such-id")
	require.Error(t, err)
	assert.Equal(t, syncerrors.ErrCodeRecordNotFound, syncerrors.GetCode(err))
}

func TestQueue_ClaimIsExclusive(t *testing.T) {
	q, now := newTestQueue(t, &fakeRunner{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "note-1", OperationUpdate, syncerrors.ProviderError("x", nil)))
	item, err := q.ActiveItem(ctx, "note-1", OperationUpdate)
	require.NoError(t, err)
	*now = now.Add(2 * time.Minute)

	// First claim wins the pending -> retrying transition.
	_, claimed, err := q.claim(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim on the same item loses, as an overlapping sweep would.
	_, claimed, err = q.claim(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestQueue_ReclaimsStaleClaims(t *testing.T) {
	runner := &fakeRunner{}
	q, now := newTestQueue(t, runner)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "note-1", OperationUpdate, syncerrors.ProviderError("x", nil)))
	item, err := q.ActiveItem(ctx, "note-1", OperationUpdate)
	require.NoError(t, err)

	// A sweep claims the item and then dies before finishing.
	*now = now.Add(2 * time.Minute)
	_, claimed, err := q.claim(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	// Not yet stale: the next sweep leaves it in retrying.
	*now = now.Add(time.Minute)
	report, err := q.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Claimed)

	// Past StaleClaimAge the item returns to pending and gets swept.
	*now = now.Add(q.opts.StaleClaimAge)
	report, err = q.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, []string{"note-1"}, runner.embedCalls)
}

func TestQueue_SweepRespectsLimit(t *testing.T) {
	runner := &fakeRunner{}
	q, now := newTestQueue(t, runner)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, q.Enqueue(ctx, id, OperationUpdate, syncerrors.ProviderError("x", nil)))
	}
	*now = now.Add(2 * time.Minute)

	report, err := q.ProcessDue(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Claimed)
	assert.Len(t, runner.embedCalls, 2)
}
