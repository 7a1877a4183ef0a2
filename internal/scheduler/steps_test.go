package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanFor(t *testing.T) {
	table := DefaultStepTable()
	testCases := []struct {
		depth int
		want  Plan
	}{
		{depth: 1, want: Plan{Interval: 10 * time.Second, BatchSize: 20, MaxBatches: 4}},
		{depth: 50, want: Plan{Interval: 10 * time.Second, BatchSize: 20, MaxBatches: 4}},
		{depth: 80, want: Plan{Interval: 10 * time.Second, BatchSize: 20, MaxBatches: 4}},
		{depth: 81, want: Plan{Interval: 7250 * time.Millisecond, BatchSize: 40, MaxBatches: 10}},
		{depth: 800, want: Plan{Interval: 7250 * time.Millisecond, BatchSize: 40, MaxBatches: 10}},
		{depth: 801, want: Plan{Interval: 4750 * time.Millisecond, BatchSize: 200, MaxBatches: 10}},
		{depth: 8000, want: Plan{Interval: 4750 * time.Millisecond, BatchSize: 200, MaxBatches: 10}},
		{depth: 16000, want: Plan{Interval: 7500 * time.Millisecond, BatchSize: 1000, MaxBatches: 16}},
		{depth: 80000, want: Plan{Interval: 1500 * time.Millisecond, BatchSize: 1000, MaxBatches: 80}},
		{depth: 200000, want: Plan{Interval: time.Second, BatchSize: 1000, MaxBatches: 100}},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, table.PlanFor(tc.depth), "depth %d", tc.depth)
	}
}

func TestPlanForOverflowBatchSizeBelowCap(t *testing.T) {
	plan := DefaultStepTable().PlanFor(9000)
	assert.Equal(t, 900, plan.BatchSize)
	assert.Equal(t, 10, plan.MaxBatches)
	assert.Equal(t, time.Duration(int64(15*time.Second)*8000/9000), plan.Interval)
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultStepTable().Validate())

	empty := DefaultStepTable()
	empty.Tiers = nil
	assert.Error(t, empty.Validate())

	unordered := DefaultStepTable()
	unordered.Tiers[1].MaxDepth = 10
	assert.Error(t, unordered.Validate())

	zeroBatch := DefaultStepTable()
	zeroBatch.Tiers[0].BatchSize = 0
	assert.Error(t, zeroBatch.Validate())

	badOverflow := DefaultStepTable()
	badOverflow.Overflow.BatchDivisor = 0
	assert.Error(t, badOverflow.Validate())
}

func TestLoadStepTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	doc := `tiers:
  - max_depth: 10
    interval: 2s
    batch_size: 5
    max_batches: 2
  - max_depth: 100
    interval: 500ms
    batch_size: 50
    max_batches: 4
overflow:
  threshold: 100
  base_interval: 4s
  min_interval: 250ms
  batch_divisor: 5
  max_batch_size: 200
  max_batches: 20
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	table, err := LoadStepTable(path)
	require.NoError(t, err)
	require.Len(t, table.Tiers, 2)
	assert.Equal(t, Plan{Interval: 2 * time.Second, BatchSize: 5, MaxBatches: 2}, table.PlanFor(7))
	assert.Equal(t, Plan{Interval: time.Second, BatchSize: 80, MaxBatches: 5}, table.PlanFor(400))
}

func TestLoadStepTableRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiers: []\n"), 0o600))

	_, err := LoadStepTable(path)
	assert.Error(t, err)

	_, err = LoadStepTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
