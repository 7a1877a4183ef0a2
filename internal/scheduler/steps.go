package scheduler

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Plan is what the response scheduler does on one tick.
type Plan struct {
	Interval   time.Duration
	BatchSize  int
	MaxBatches int
}

// Tier applies to queue depths up to and including MaxDepth.
type Tier struct {
	MaxDepth   int           `yaml:"max_depth"`
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxBatches int           `yaml:"max_batches"`
}

// Overflow applies beyond the last tier. The interval shrinks in proportion
// to depth/Threshold and never goes below MinInterval.
type Overflow struct {
	Threshold    int           `yaml:"threshold"`
	BaseInterval time.Duration `yaml:"base_interval"`
	MinInterval  time.Duration `yaml:"min_interval"`
	BatchDivisor int           `yaml:"batch_divisor"`
	MaxBatchSize int           `yaml:"max_batch_size"`
	MaxBatches   int           `yaml:"max_batches"`
}

type StepTable struct {
	Tiers    []Tier   `yaml:"tiers"`
	Overflow Overflow `yaml:"overflow"`
}

func DefaultStepTable() StepTable {
	return StepTable{
		Tiers: []Tier{
			{MaxDepth: 80, Interval: 10 * time.Second, BatchSize: 20, MaxBatches: 4},
			{MaxDepth: 800, Interval: 7250 * time.Millisecond, BatchSize: 40, MaxBatches: 10},
			{MaxDepth: 8000, Interval: 4750 * time.Millisecond, BatchSize: 200, MaxBatches: 10},
		},
		Overflow: Overflow{
			Threshold:    8000,
			BaseInterval: 15 * time.Second,
			MinInterval:  time.Second,
			BatchDivisor: 10,
			MaxBatchSize: 1000,
			MaxBatches:   100,
		},
	}
}

// LoadStepTable reads a YAML step table from path.
func LoadStepTable(path string) (StepTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return StepTable{}, fmt.Errorf("failed to read step table: %w", err)
	}

	var table StepTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return StepTable{}, fmt.Errorf("failed to parse step table: %w", err)
	}
	if err := table.Validate(); err != nil {
		return StepTable{}, err
	}
	return table, nil
}

func (t StepTable) Validate() error {
	if len(t.Tiers) == 0 {
		return errors.New("step table: at least one tier is required")
	}
	prev := 0
	for i, tier := range t.Tiers {
		if tier.MaxDepth <= prev {
			return fmt.Errorf("step table: tier %d max_depth must be greater than %d", i, prev)
		}
		if tier.Interval <= 0 || tier.BatchSize <= 0 || tier.MaxBatches <= 0 {
			return fmt.Errorf("step table: tier %d needs a positive interval, batch_size and max_batches", i)
		}
		prev = tier.MaxDepth
	}

	o := t.Overflow
	if o.Threshold <= 0 || o.BaseInterval <= 0 || o.MinInterval <= 0 {
		return errors.New("step table: overflow threshold, base_interval and min_interval must be positive")
	}
	if o.BatchDivisor <= 0 || o.MaxBatchSize <= 0 || o.MaxBatches <= 0 {
		return errors.New("step table: overflow batch_divisor, max_batch_size and max_batches must be positive")
	}
	return nil
}

// PlanFor maps a queue depth to a Plan.
func (t StepTable) PlanFor(depth int) Plan {
	for _, tier := range t.Tiers {
		if depth <= tier.MaxDepth {
			return Plan{Interval: tier.Interval, BatchSize: tier.BatchSize, MaxBatches: tier.MaxBatches}
		}
	}

	o := t.Overflow
	interval := time.Duration(int64(o.BaseInterval) * int64(o.Threshold) / int64(depth))
	interval = max(interval, o.MinInterval)

	batch := max(min(o.MaxBatchSize, depth/o.BatchDivisor), 1)
	batches := max(min(o.MaxBatches, depth/batch), 1)

	return Plan{Interval: interval, BatchSize: batch, MaxBatches: batches}
}
