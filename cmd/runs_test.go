//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/pumpcast/internal/model"
)

func testRuns() []model.Run {
	now := time.Date(2024, 3, 6, 18, 30, 0, 0, time.UTC)
	return []model.Run{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Mode:      model.RunModeFull,
			Status:    model.RunStatusDone,
			Result:    &model.RunResult{ExitCode: 0, TotalSeconds: 90},
			CreatedAt: now,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Mode:      model.RunModeFull,
			Status:    model.RunStatusDone,
			Result:    &model.RunResult{ExitCode: 10, TotalSeconds: 30},
			CreatedAt: now.Add(-24 * time.Hour),
		},
		{
			ID:     "0a012345-6789-0000-0000-000000000000",
			Mode:   model.RunModeGold,
			Status: model.RunStatusFailed,
			Result: &model.RunResult{
				ExitCode:     40,
				FailedStage:  model.StageValidation,
				Error:        "gold validation failed",
				TotalSeconds: 60,
			},
			CreatedAt: now.Add(-48 * time.Hour),
		},
		{
			ID:        "fff12345-6789-0000-0000-000000000000",
			Mode:      model.RunModeFull,
			Status:    model.RunStatusSilverRunning,
			CreatedAt: now.Add(time.Minute),
		},
	}
}

func TestFormatRunsList(t *testing.T) {
	var buf bytes.Buffer
	formatRunsList(&buf, testRuns())
	out := buf.String()

	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "FAILED_STAGE")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "2024-03-06 18:30")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "validation")
	assert.Contains(t, out, "silver_running")
}

func TestComputeRunStats(t *testing.T) {
	s := computeRunStats(testRuns())

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Done)
	assert.Equal(t, 1, s.Degraded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.InProgress)
	assert.Equal(t, 1, s.ByStage[model.StageValidation])
	assert.InDelta(t, 60.0, s.AvgDurSecs, 1e-9)
}

func TestComputeRunStats_Empty(t *testing.T) {
	s := computeRunStats(nil)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.AvgDurSecs)
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, computeRunStats(testRuns()))
	out := buf.String()

	assert.Contains(t, out, "Total runs:")
	assert.Contains(t, out, "Degraded:")
	assert.Contains(t, out, "validation:")
	assert.NotContains(t, out, "bronze:")
	assert.Contains(t, out, "60.0s")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
