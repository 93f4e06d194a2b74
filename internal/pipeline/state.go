package pipeline

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pumpcast/internal/model"
	"github.com/sells-group/pumpcast/internal/store"
)

// transitions lists the legal next states of each non-terminal state.
// Gold-only runs enter at gold_running and validate-only runs at validating.
var transitions = map[model.RunStatus][]model.RunStatus{
	model.RunStatusIdle: {
		model.RunStatusBronzeRunning,
		model.RunStatusGoldRunning,
		model.RunStatusValidating,
		model.RunStatusFailed,
	},
	model.RunStatusBronzeRunning: {model.RunStatusSilverRunning, model.RunStatusFailed},
	model.RunStatusSilverRunning: {model.RunStatusGoldRunning, model.RunStatusFailed},
	model.RunStatusGoldRunning:   {model.RunStatusValidating, model.RunStatusFailed},
	model.RunStatusValidating:    {model.RunStatusDone, model.RunStatusFailed},
}

// CanTransition reports whether a run may move from one state to another.
func CanTransition(from, to model.RunStatus) bool {
	return slices.Contains(transitions[from], to)
}

// machine tracks one run's state and mirrors every transition to the run log.
type machine struct {
	runs   store.Store
	run    *model.Run
	status model.RunStatus
	log    *zap.Logger
}

func newMachine(runs store.Store, run *model.Run, log *zap.Logger) *machine {
	return &machine{runs: runs, run: run, status: run.Status, log: log}
}

// advance moves to the next state. A failed write to the run log is logged
// and does not stop the run.
func (m *machine) advance(ctx context.Context, to model.RunStatus) error {
	if !CanTransition(m.status, to) {
		return eris.Errorf("pipeline: illegal transition %s -> %s", m.status, to)
	}
	m.log.Debug("pipeline: transition", zap.String("from", string(m.status)), zap.String("to", string(to)))
	m.status = to
	m.run.Status = to
	if to.Terminal() {
		return nil
	}
	if err := m.runs.UpdateRunStatus(ctx, m.run.ID, to); err != nil {
		m.log.Warn("pipeline: failed to update status", zap.String("status", string(to)), zap.Error(err))
	}
	return nil
}
