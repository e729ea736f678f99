// Package runstate persists one run ledger and its per-node checkpoints
// per pipeline run, so a later invocation can tell which nodes a prior
// run already completed against an unchanged cache state. It is a
// supplement beyond spec.md's explicit content (see SPEC_FULL.md §12),
// not a replacement for the Cache Store's own hit/miss validation —
// runstate only ever shortens scheduling, never substitutes for it.
package runstate

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is a run's terminal or in-progress state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is the persistent metadata for one pipeline invocation.
type Run struct {
	RunID         string    `json:"runId"`
	PipelineHash  string    `json:"pipelineHash"`
	StartTime     time.Time `json:"startTime"`
	Status        Status    `json:"status"`
	PreviousRunID *string   `json:"previousRunId,omitempty"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("runId is required"))
	}
	if strings.TrimSpace(r.PipelineHash) == "" {
		errs = append(errs, errors.New("pipelineHash is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("startTime is required"))
	}
	switch r.Status {
	case StatusRunning, StatusCompleted, StatusFailed:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Checkpoint records that one node completed successfully within a run,
// and what it would take to recognize the same state again.
type Checkpoint struct {
	NodeName        string    `json:"nodeName"`
	Timestamp       time.Time `json:"timestamp"`
	CacheKeys       []string  `json:"cacheKeys"`
	OutputSignature string    `json:"outputSignature"`
}

func (c Checkpoint) Validate() error {
	var errs []error
	if strings.TrimSpace(c.NodeName) == "" {
		errs = append(errs, errors.New("nodeName is required"))
	}
	if c.Timestamp.IsZero() {
		errs = append(errs, errors.New("timestamp is required"))
	}
	if c.CacheKeys == nil {
		errs = append(errs, errors.New("cacheKeys must be an array (not null)"))
	}
	if strings.TrimSpace(c.OutputSignature) == "" {
		errs = append(errs, errors.New("outputSignature is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Failure records why a run terminated early.
type Failure struct {
	NodeName     *string `json:"nodeName,omitempty"`
	ErrorMessage string  `json:"errorMessage"`
	Resumable    bool    `json:"resumable"`
}

func (f Failure) Validate() error {
	if strings.TrimSpace(f.ErrorMessage) == "" {
		return errors.New("errorMessage is required")
	}
	return nil
}
