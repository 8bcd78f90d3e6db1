package model

import "time"

// RunStatus represents the current state of an extraction run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusAborted  RunStatus = "aborted"
)

// Run represents a single batch extraction run.
type Run struct {
	ID        string     `json:"id"`
	Label     string     `json:"label,omitempty"`
	Status    RunStatus  `json:"status"`
	Report    *RunReport `json:"report,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SourceStats aggregates per-source outcomes for the run report.
type SourceStats struct {
	SourceKey   string  `json:"source_key"`
	Total       int     `json:"total"`
	Success     int     `json:"success"`
	Partial     int     `json:"partial"`
	Failed      int     `json:"failed"`
	Skipped     int     `json:"skipped"`
	SuccessRate float64 `json:"success_rate"`
}

// RunReport is the aggregate batch summary emitted at run completion.
type RunReport struct {
	TotalItems int                  `json:"total_items"`
	ByStatus   map[ResultStatus]int `json:"by_status"`
	BySource   []SourceStats        `json:"by_source"`
	Resumed    int                  `json:"resumed,omitempty"`
	Duration   time.Duration        `json:"duration_ns"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
}

// BuildReport aggregates results into a RunReport. Resumed counts items
// carried over from a prior checkpoint rather than processed this run.
func BuildReport(results []ExtractionResult, resumed int, start, end time.Time) *RunReport {
	rep := &RunReport{
		TotalItems: len(results),
		ByStatus:   make(map[ResultStatus]int),
		Resumed:    resumed,
		Duration:   end.Sub(start),
		StartedAt:  start,
		FinishedAt: end,
	}

	perSource := make(map[string]*SourceStats)
	var order []string
	for _, r := range results {
		rep.ByStatus[r.Status]++

		ss, ok := perSource[r.SourceKey]
		if !ok {
			ss = &SourceStats{SourceKey: r.SourceKey}
			perSource[r.SourceKey] = ss
			order = append(order, r.SourceKey)
		}
		ss.Total++
		switch r.Status {
		case StatusSuccess:
			ss.Success++
		case StatusPartial:
			ss.Partial++
		case StatusFailed:
			ss.Failed++
		case StatusSkipped:
			ss.Skipped++
		}
	}

	for _, key := range order {
		ss := perSource[key]
		if ss.Total > 0 {
			ss.SuccessRate = float64(ss.Success) / float64(ss.Total)
		}
		rep.BySource = append(rep.BySource, *ss)
	}
	return rep
}
