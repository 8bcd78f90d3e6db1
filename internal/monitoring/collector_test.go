package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxbill-cli/internal/model"
	"github.com/sells-group/taxbill-cli/internal/resilience"
	"github.com/sells-group/taxbill-cli/internal/store"
)

// monStore serves canned runs and DLQ entries for collector tests.
type monStore struct {
	runs    []model.Run
	dlq     []resilience.DLQEntry
	runsErr error
	dlqErr  error
}

func (s *monStore) ListRuns(_ context.Context, _ store.RunFilter) ([]model.Run, error) {
	return s.runs, s.runsErr
}

func (s *monStore) ListDLQ(_ context.Context, _ resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	return s.dlq, s.dlqErr
}

func (s *monStore) CreateRun(context.Context, string) (*model.Run, error) { return nil, nil }
func (s *monStore) UpdateRunStatus(context.Context, string, model.RunStatus) error {
	return nil
}
func (s *monStore) CompleteRun(context.Context, string, model.RunStatus, *model.RunReport) error {
	return nil
}
func (s *monStore) GetRun(context.Context, string) (*model.Run, error) { return nil, nil }
func (s *monStore) SaveResults(context.Context, string, []model.ExtractionResult) error {
	return nil
}
func (s *monStore) ListResults(context.Context, string, store.ResultFilter) ([]model.ExtractionResult, error) {
	return nil, nil
}
func (s *monStore) CompletedItemIDs(context.Context, string, ...model.ResultStatus) (map[string]model.ResultStatus, error) {
	return nil, nil
}
func (s *monStore) SaveDLQEntry(context.Context, *resilience.DLQEntry) error { return nil }
func (s *monStore) DeleteDLQEntry(context.Context, string) error             { return nil }
func (s *monStore) IncrementDLQRetry(context.Context, string) error          { return nil }
func (s *monStore) Migrate(context.Context) error                            { return nil }
func (s *monStore) Close() error                                             { return nil }

func reportWith(total, failed, skipped int) *model.RunReport {
	return &model.RunReport{
		TotalItems: total,
		ByStatus: map[model.ResultStatus]int{
			model.StatusSuccess: total - failed - skipped,
			model.StatusFailed:  failed,
			model.StatusSkipped: skipped,
		},
	}
}

func TestCollectorAggregatesRecentRuns(t *testing.T) {
	now := time.Now()
	st := &monStore{
		runs: []model.Run{
			{ID: "r1", Status: model.RunStatusComplete, CreatedAt: now.Add(-time.Hour), Report: reportWith(100, 10, 5)},
			{ID: "r2", Status: model.RunStatusAborted, CreatedAt: now.Add(-2 * time.Hour), Report: reportWith(40, 2, 0)},
			{ID: "r3", Status: model.RunStatusRunning, CreatedAt: now.Add(-time.Minute)},
		},
		dlq: make([]resilience.DLQEntry, 7),
	}

	snap, err := NewCollector(st, 24*time.Hour).Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsAborted)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.Equal(t, 140, snap.ItemsTotal)
	assert.Equal(t, 12, snap.ItemsFailed)
	assert.Equal(t, 5, snap.ItemsSkipped)
	assert.InDelta(t, 12.0/140.0, snap.ItemFailRate, 1e-9)
	assert.Equal(t, 7, snap.DLQDepth)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollectorExcludesRunsOutsideLookback(t *testing.T) {
	now := time.Now()
	st := &monStore{
		runs: []model.Run{
			{ID: "recent", Status: model.RunStatusComplete, CreatedAt: now.Add(-time.Hour), Report: reportWith(10, 0, 0)},
			{ID: "stale", Status: model.RunStatusComplete, CreatedAt: now.Add(-48 * time.Hour), Report: reportWith(500, 500, 0)},
		},
	}

	snap, err := NewCollector(st, 24*time.Hour).Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, snap.RunsTotal)
	assert.Equal(t, 10, snap.ItemsTotal)
	assert.Zero(t, snap.ItemsFailed)
}

func TestCollectorEmptyStore(t *testing.T) {
	snap, err := NewCollector(&monStore{}, 24*time.Hour).Collect(context.Background())
	require.NoError(t, err)

	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.ItemsTotal)
	assert.Zero(t, snap.ItemFailRate)
	assert.Zero(t, snap.DLQDepth)
}

func TestCollectorPropagatesStoreErrors(t *testing.T) {
	_, err := NewCollector(&monStore{runsErr: eris.New("db down")}, time.Hour).Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list runs")

	_, err = NewCollector(&monStore{dlqErr: eris.New("db down")}, time.Hour).Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list dlq")
}

func TestNewCollectorDefaultsLookback(t *testing.T) {
	c := NewCollector(&monStore{}, 0)
	assert.Equal(t, 24*time.Hour, c.lookback)
}
