package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pumpcast/internal/model"
	"github.com/sells-group/pumpcast/internal/store"
)

// RunSnapshot summarizes the run log over a lookback window.
type RunSnapshot struct {
	Total    int     `json:"total"`
	Done     int     `json:"done"`
	Degraded int     `json:"degraded"`
	Failed   int     `json:"failed"`
	Running  int     `json:"running"`
	FailRate float64 `json:"fail_rate"`

	// Newest finished run in the window.
	LastStatus   model.RunStatus `json:"last_status,omitempty"`
	LastExitCode int             `json:"last_exit_code"`
	LastError    string          `json:"last_error,omitempty"`
	LastSuccess  *time.Time      `json:"last_success,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector reads the run log.
type Collector struct {
	store store.Store
	now   func() time.Time
}

// NewCollector creates a run log collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of runs created within lookbackHours.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*RunSnapshot, error) {
	now := c.now().UTC()
	snap := &RunSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.Total = len(runs)
	seenFinished := false
	// Runs are newest first.
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusDone:
			snap.Done++
			if r.Result != nil && r.Result.ExitCode != 0 {
				snap.Degraded++
			}
		case model.RunStatusFailed:
			snap.Failed++
		default:
			snap.Running++
			continue
		}
		if !seenFinished {
			seenFinished = true
			snap.LastStatus = r.Status
			if r.Result != nil {
				snap.LastExitCode = r.Result.ExitCode
				snap.LastError = r.Result.Error
			}
		}
	}
	if finished := snap.Done + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}

	last, err := c.store.LastRun(ctx, model.RunStatusDone)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last successful run")
	}
	if last != nil {
		t := last.UpdatedAt
		snap.LastSuccess = &t
	}
	return snap, nil
}
