package model

import (
	"errors"
	"fmt"
)

// Stage identifies a pipeline stage.
type Stage string

const (
	StageBronze     Stage = "bronze"
	StageSilver     Stage = "silver"
	StageGold       Stage = "gold"
	StageValidation Stage = "validation"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	// KindSourceUnavailable: network, auth or quota failure after retries.
	KindSourceUnavailable ErrorKind = "source_unavailable"
	// KindSchemaViolation: a payload did not have the expected shape.
	KindSchemaViolation ErrorKind = "schema_violation"
	// KindRangeViolation: values outside domain bounds.
	KindRangeViolation ErrorKind = "range_violation"
	// KindJoinGap: a Gold date with no contributing source.
	KindJoinGap ErrorKind = "join_gap"
	// KindStaleArtifact: a layer older than its freshness threshold.
	KindStaleArtifact ErrorKind = "stale_artifact"
	// KindEmptyInput: a stage found nothing to work from.
	KindEmptyInput ErrorKind = "empty_input"
)

// PipelineError is a classified failure raised by a stage.
type PipelineError struct {
	Kind    ErrorKind
	Stage   Stage
	Subject string
	Err     error
}

// NewError builds a PipelineError.
func NewError(kind ErrorKind, stage Stage, subject string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Subject: subject, Err: err}
}

func (e *PipelineError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s): %v", e.Stage, e.Kind, e.Subject, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first PipelineError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// StageOf returns the stage of the first PipelineError in err's chain.
func StageOf(err error) (Stage, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage, true
	}
	return "", false
}
