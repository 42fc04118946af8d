package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/MiniBodegas/Quarto-sub001/billing"
	"github.com/MiniBodegas/Quarto-sub001/store/memory"
)

type brokenRuns struct{}

func (brokenRuns) SaveRun(context.Context, billing.RunRecord) error { return errors.New("disk full") }
func (brokenRuns) ListRuns(context.Context, int) ([]billing.RunRecord, error) {
	return nil, errors.New("disk full")
}

func TestRunner_Completed_RecordsCounts(t *testing.T) {
	// GIVEN: one due booking and one not yet due
	store := memory.New()
	seed(t, store, activeBooking("bk-1", 5, 147000), activeBooking("bk-2", 20, 147000))
	runner := billing.NewRunner(newTestGenerator(t, store, defaultOptions()), store, zaptest.NewLogger(t))

	// WHEN
	record, result, err := runner.Run(context.Background(), march5, billing.TriggerManual)

	// THEN: one completed record with matching counts
	require.NoError(t, err)
	assert.Len(t, result.Created, 1)
	assert.Equal(t, billing.RunCompleted, record.Status)
	assert.Equal(t, 1, record.Created)
	assert.Equal(t, 1, record.Skipped)
	assert.Equal(t, billing.TriggerManual, record.Trigger)
	require.NotNil(t, record.CompletedAt)

	runs, err := store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, record.ID, runs[0].ID)
	assert.Equal(t, billing.RunCompleted, runs[0].Status)
	assert.Equal(t, "2024-03-05", runs[0].RunDate.String())
}

func TestRunner_ListingFailure_RecordsFailedRun(t *testing.T) {
	store := memory.New()
	gen := billing.NewGenerator(billing.Stores{
		Bookings:  failingBookings{err: errors.New("connection refused")},
		Inventory: store,
		Payments:  store,
	}, defaultOptions(), zaptest.NewLogger(t))
	runner := billing.NewRunner(gen, store, zaptest.NewLogger(t))

	record, _, err := runner.Run(context.Background(), march5, billing.TriggerScheduler)

	assert.ErrorIs(t, err, billing.ErrListBookings)
	assert.Equal(t, billing.RunFailed, record.Status)
	assert.Contains(t, record.Error, "connection refused")

	runs, _ := store.ListRuns(context.Background(), 0)
	require.Len(t, runs, 1)
	assert.Equal(t, billing.RunFailed, runs[0].Status)
}

func TestRunner_RunStoreFailure_DoesNotFailRun(t *testing.T) {
	store := memory.New()
	seed(t, store, activeBooking("bk-1", 5, 147000))
	runner := billing.NewRunner(newTestGenerator(t, store, defaultOptions()), brokenRuns{}, zaptest.NewLogger(t))

	record, result, err := runner.Run(context.Background(), march5, billing.TriggerJob)

	require.NoError(t, err)
	assert.Len(t, result.Created, 1)
	assert.Equal(t, billing.RunCompleted, record.Status)
}

func TestRunner_WithoutRunStore(t *testing.T) {
	store := memory.New()
	seed(t, store, activeBooking("bk-1", 5, 147000))
	runner := billing.NewRunner(newTestGenerator(t, store, defaultOptions()), nil, nil)

	_, result, err := runner.Run(context.Background(), march5, billing.TriggerJob)

	require.NoError(t, err)
	assert.Len(t, result.Created, 1)
}

func TestRunner_EachRunGetsItsOwnRecord(t *testing.T) {
	store := memory.New()
	seed(t, store, activeBooking("bk-1", 5, 147000))
	runner := billing.NewRunner(newTestGenerator(t, store, defaultOptions()), store, nil)
	ctx := context.Background()

	first, _, err := runner.Run(ctx, march5, billing.TriggerScheduler)
	require.NoError(t, err)
	second, _, err := runner.Run(ctx, march5, billing.TriggerManual)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 0, second.Created)

	runs, _ := store.ListRuns(ctx, 1)
	require.Len(t, runs, 1)
	assert.Equal(t, second.ID, runs[0].ID)
}
