package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineError_Chain(t *testing.T) {
	t.Parallel()

	root := errors.New("dial tcp: i/o timeout")
	pe := NewError(KindSourceUnavailable, StageBronze, "eia", root)
	wrapped := fmt.Errorf("ingest: %w", pe)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindSourceUnavailable, kind)

	stage, ok := StageOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, StageBronze, stage)

	assert.ErrorIs(t, wrapped, root)
	assert.Equal(t, "bronze: source_unavailable (eia): dial tcp: i/o timeout", pe.Error())
}

func TestKindOf_Plain(t *testing.T) {
	t.Parallel()

	_, ok := KindOf(errors.New("boom"))
	assert.False(t, ok)
	_, ok = StageOf(nil)
	assert.False(t, ok)
}

func TestValidationReport_Passed(t *testing.T) {
	t.Parallel()

	r := &ValidationReport{Subject: "x"}
	r.Add(Check{Name: "a", Severity: SeverityWarning, Passed: false})
	assert.True(t, r.Passed())
	assert.Len(t, r.Failures(SeverityWarning), 1)

	r.Add(Check{Name: "b", Severity: SeverityError, Passed: false})
	assert.False(t, r.Passed())
	assert.Len(t, r.Failures(SeverityError), 1)
}
