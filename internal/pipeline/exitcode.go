package pipeline

import (
	"context"
	"errors"

	"github.com/sells-group/pumpcast/internal/model"
)

// Process exit codes. A higher code is a worse condition.
const (
	ExitOK         = 0
	ExitOther      = 1
	ExitConfig     = 2
	ExitBronze     = 10
	ExitSilver     = 20
	ExitGold       = 30
	ExitValidation = 40
)

// ExitCodeFor maps an error to the exit code of the stage that raised it.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ExitOther
	}
	stage, ok := model.StageOf(err)
	if !ok {
		return ExitOther
	}
	return exitCodeForStage(stage)
}

func exitCodeForStage(stage model.Stage) int {
	switch stage {
	case model.StageBronze:
		return ExitBronze
	case model.StageSilver:
		return ExitSilver
	case model.StageGold:
		return ExitGold
	case model.StageValidation:
		return ExitValidation
	default:
		return ExitOther
	}
}

// worst keeps the highest exit code.
func worst(codes ...int) int {
	w := ExitOK
	for _, c := range codes {
		if c > w {
			w = c
		}
	}
	return w
}
