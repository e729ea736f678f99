package runstate

import (
	"errors"
	"fmt"
	"strings"
)

// ResumeEligibility reports, for a candidate run resuming from
// previousRunID, which node names the prior run completed and whose
// checkpoints are still safe to trust — i.e. every node the caller may
// skip re-running and instead let the Cache Store's own Validate confirm
// on first touch.
//
// This is a narrower guarantee than the teacher's resume-eligibility
// rule (spec.md has no invalidation-plan concept to check against, and
// this module never reconstructs the teacher's own missing
// internal/incremental graph-invalidation machinery — see DESIGN.md):
// it only verifies the pipeline definition is byte-for-byte unchanged
// and the previous run's failure, if any, was marked resumable. The
// real safety net remains the Cache Store's per-node Validate, which
// every resumed node still goes through normally; runstate only decides
// which nodes are worth attempting a cache hit for first.
type ResumeEligibility struct {
	Store *Store
}

// Check validates that previousRunID may seed a new run whose pipeline
// hashes to currentPipelineHash, returning the checkpointed node names
// eligible for a first-touch cache check.
func (r *ResumeEligibility) Check(previousRunID, currentPipelineHash string) ([]string, error) {
	if r == nil || r.Store == nil {
		return nil, errors.New("runstate: ResumeEligibility.Store is required")
	}
	if strings.TrimSpace(previousRunID) == "" {
		return nil, errors.New("runstate: previousRunID is required")
	}

	prevRun, err := r.Store.LoadRun(previousRunID)
	if err != nil {
		return nil, fmt.Errorf("runstate: loading previous run %q: %w", previousRunID, err)
	}
	if prevRun.PipelineHash != currentPipelineHash {
		return nil, fmt.Errorf("runstate: pipeline definition changed since run %q (prev=%s current=%s)", previousRunID, prevRun.PipelineHash, currentPipelineHash)
	}

	if prevRun.Status == StatusFailed {
		failure, err := r.Store.LoadFailure(previousRunID)
		if err != nil {
			return nil, fmt.Errorf("runstate: run %q failed but has no failure record: %w", previousRunID, err)
		}
		if !failure.Resumable {
			return nil, fmt.Errorf("runstate: run %q failed with a non-resumable error: %s", previousRunID, failure.ErrorMessage)
		}
	}

	checkpoints, err := r.Store.LoadAllCheckpoints(previousRunID)
	if err != nil {
		return nil, fmt.Errorf("runstate: loading checkpoints for %q: %w", previousRunID, err)
	}
	names := make([]string, 0, len(checkpoints))
	for name := range checkpoints {
		names = append(names, name)
	}
	return names, nil
}
