// Package monitoring computes run-health snapshots and raises webhook
// alerts when extraction quality degrades.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxbill-cli/internal/model"
	"github.com/sells-group/taxbill-cli/internal/resilience"
	"github.com/sells-group/taxbill-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of extraction health.
type MetricsSnapshot struct {
	// Run metrics within the lookback window.
	RunsTotal    int `json:"runs_total"`
	RunsComplete int `json:"runs_complete"`
	RunsAborted  int `json:"runs_aborted"`
	RunsRunning  int `json:"runs_running"`

	// Item metrics aggregated from completed run reports.
	ItemsTotal   int     `json:"items_total"`
	ItemsFailed  int     `json:"items_failed"`
	ItemsSkipped int     `json:"items_skipped"`
	ItemFailRate float64 `json:"item_fail_rate"`

	// DLQ depth.
	DLQDepth int `json:"dlq_depth"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector builds health snapshots from the run store.
type Collector struct {
	store    store.Store
	lookback time.Duration
}

// NewCollector creates a Collector with the given lookback window.
func NewCollector(st store.Store, lookback time.Duration) *Collector {
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &Collector{store: st, lookback: lookback}
}

// Collect queries recent runs and the dead letter queue and aggregates
// a snapshot.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: 1000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	cutoff := time.Now().Add(-c.lookback)
	snap := &MetricsSnapshot{
		LookbackHours: int(c.lookback.Hours()),
		CollectedAt:   time.Now().UTC(),
	}

	for _, r := range runs {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusAborted:
			snap.RunsAborted++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		if r.Report != nil {
			snap.ItemsTotal += r.Report.TotalItems
			snap.ItemsFailed += r.Report.ByStatus[model.StatusFailed]
			snap.ItemsSkipped += r.Report.ByStatus[model.StatusSkipped]
		}
	}

	if snap.ItemsTotal > 0 {
		snap.ItemFailRate = float64(snap.ItemsFailed) / float64(snap.ItemsTotal)
	}

	dlq, err := c.store.ListDLQ(ctx, resilience.DLQFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list dlq")
	}
	snap.DLQDepth = len(dlq)

	return snap, nil
}
