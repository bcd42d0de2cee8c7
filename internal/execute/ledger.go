package execute

import (
	"context"
	"fmt"
	"time"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
	"github.com/taskrelay-labs/taskrelay-go/internal/repo"
)

const maxNoteLen = 200

func truncateNote(s string) string {
	if len(s) <= maxNoteLen {
		return s
	}
	return s[:maxNoteLen]
}

// ledger writes the per-step record triples. Each call lands its outcome,
// run-step and action-log writes as one atomic unit.
type ledger struct {
	tx    repo.Tx
	newID func() string
	now   func() time.Time
}

// stepRef identifies the run/delegation/step a record belongs to.
type stepRef struct {
	RequestID    string
	RunID        string
	DelegationID string
	StepID       string
}

// skip records a skipped step: SKIPPED run-step, SKIPPED outcome and an
// EXECUTION_SKIPPED log entry.
func (l ledger) skip(ctx context.Context, ref stepRef, reason domain.ReasonCode, note, logMessage string) error {
	now := l.now().UTC()
	return l.tx.Within(ctx, func(stores repo.Stores) error {
		runStep := domain.ExecutionRunStep{
			ID:        l.newID(),
			RunID:     ref.RunID,
			StepID:    ref.StepID,
			Status:    domain.RunStepSkipped,
			Reason:    reason,
			Message:   note,
			CreatedAt: now,
		}
		if err := stores.Runs.AppendRunStep(ctx, runStep); err != nil {
			return fmt.Errorf("append run step: %w", err)
		}
		outcome := domain.Outcome{
			StepID:    ref.StepID,
			Result:    domain.OutcomeSkipped,
			Notes:     note,
			UpdatedAt: now,
		}
		if err := stores.Outcomes.Upsert(ctx, outcome); err != nil {
			return fmt.Errorf("upsert outcome: %w", err)
		}
		return l.append(ctx, stores, ref, domain.LogExecutionSkipped, logMessage, nil, now)
	})
}

// attempt records the step as ATTEMPTED and returns the run-step id the
// final success or failure record will update.
func (l ledger) attempt(ctx context.Context, ref stepRef, logMessage string) (string, error) {
	now := l.now().UTC()
	runStepID := l.newID()
	err := l.tx.Within(ctx, func(stores repo.Stores) error {
		runStep := domain.ExecutionRunStep{
			ID:        runStepID,
			RunID:     ref.RunID,
			StepID:    ref.StepID,
			Status:    domain.RunStepAttempted,
			CreatedAt: now,
		}
		if err := stores.Runs.AppendRunStep(ctx, runStep); err != nil {
			return fmt.Errorf("append run step: %w", err)
		}
		return l.append(ctx, stores, ref, domain.LogExecutionAttempted, logMessage, nil, now)
	})
	if err != nil {
		return "", err
	}
	return runStepID, nil
}

// success finalizes an attempted step: SUCCEEDED run-step, DONE outcome with
// the redacted output, EXECUTION_SUCCEEDED log entry.
func (l ledger) success(ctx context.Context, ref stepRef, runStepID, output, logMessage string) error {
	now := l.now().UTC()
	return l.tx.Within(ctx, func(stores repo.Stores) error {
		if err := stores.Runs.UpdateRunStep(ctx, runStepID, domain.RunStepSucceeded, "", ""); err != nil {
			return fmt.Errorf("update run step: %w", err)
		}
		outcome := domain.Outcome{
			StepID:    ref.StepID,
			Result:    domain.OutcomeDone,
			Output:    output,
			UpdatedAt: now,
		}
		if err := stores.Outcomes.Upsert(ctx, outcome); err != nil {
			return fmt.Errorf("upsert outcome: %w", err)
		}
		return l.append(ctx, stores, ref, domain.LogExecutionSucceeded, logMessage, nil, now)
	})
}

// failure finalizes an attempted step: FAILED run-step with the reason,
// ERROR outcome with a truncated note, EXECUTION_FAILED log entry.
func (l ledger) failure(ctx context.Context, ref stepRef, runStepID string, reason domain.ReasonCode, message string, payload domain.Metadata) error {
	now := l.now().UTC()
	return l.tx.Within(ctx, func(stores repo.Stores) error {
		if err := stores.Runs.UpdateRunStep(ctx, runStepID, domain.RunStepFailed, reason, message); err != nil {
			return fmt.Errorf("update run step: %w", err)
		}
		outcome := domain.Outcome{
			StepID:    ref.StepID,
			Result:    domain.OutcomeError,
			Notes:     truncateNote(message),
			UpdatedAt: now,
		}
		if err := stores.Outcomes.Upsert(ctx, outcome); err != nil {
			return fmt.Errorf("upsert outcome: %w", err)
		}
		return l.append(ctx, stores, ref, domain.LogExecutionFailed, message, payload, now)
	})
}

func (l ledger) append(ctx context.Context, stores repo.Stores, ref stepRef, action domain.LogAction, message string, payload domain.Metadata, now time.Time) error {
	entry := domain.ActionLogEntry{
		OccurredAt:     now,
		Action:         action,
		RequestID:      ref.RequestID,
		StepID:         ref.StepID,
		DelegationID:   ref.DelegationID,
		Message:        message,
		PayloadPreview: payload,
	}
	if _, err := stores.ActionLog.Append(ctx, entry); err != nil {
		return fmt.Errorf("append action log: %w", err)
	}
	return nil
}
