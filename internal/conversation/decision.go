package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/reverie-voice/reverie/internal/observe"
	"github.com/reverie-voice/reverie/pkg/memory"
	"github.com/reverie-voice/reverie/pkg/types"
)

// Outcome is the resolution state of a [Decision].
type Outcome int

const (
	// OutcomePending means the user has not chosen yet.
	OutcomePending Outcome = iota

	// OutcomeConfirmed means the user chose to keep the transcript.
	OutcomeConfirmed

	// OutcomeDiscarded means the user chose to drop the transcript.
	OutcomeDiscarded
)

// String returns a human-readable name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Feedback plays a short audible cue. Implementations must be fire-and-forget
// and never block the save flow.
type Feedback interface {
	Play(ctx context.Context)
}

// Decision mediates the user's one-time choice to persist or discard a
// finished conversation's transcript. It is created by the [Controller] when
// a session ends with a non-empty transcript and holds a frozen snapshot of
// that transcript.
//
// Confirm and Discard are mutually exclusive and resolve the decision at
// most once. The single exception is a failed persistence attempt: the
// outcome stays confirmed but Confirm may be called again to retry the
// write. All methods are safe for concurrent use.
type Decision struct {
	mu        sync.Mutex
	outcome   Outcome
	persisted bool

	sessionID  string
	agentID    string
	transcript types.Transcript
	startedAt  time.Time
	endedAt    time.Time

	store   memory.Store
	chime   Feedback
	metrics *observe.Metrics
}

// SessionID returns the identifier of the session this decision belongs to.
func (d *Decision) SessionID() string { return d.sessionID }

// Transcript returns the frozen transcript for display. The caller must not
// modify the returned slice.
func (d *Decision) Transcript() types.Transcript { return d.transcript }

// Outcome returns the current resolution state.
func (d *Decision) Outcome() Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outcome
}

// Persisted reports whether the transcript has been written to the store.
func (d *Decision) Persisted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.persisted
}

// Confirm resolves the decision to confirmed and persists the transcript.
// On successful persistence the audio cue plays best-effort. When the store
// write fails the error wraps [ErrPersistenceFailed] and Confirm may be
// called again to retry; Discard is no longer possible at that point.
//
// Returns [ErrAlreadyResolved] when the decision was discarded or the
// transcript is already persisted.
func (d *Decision) Confirm(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "conversation.Confirm",
		trace.WithAttributes(attribute.String("session.id", d.sessionID)))
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.outcome == OutcomeDiscarded || (d.outcome == OutcomeConfirmed && d.persisted) {
		return fmt.Errorf("%w (outcome=%s)", ErrAlreadyResolved, d.outcome)
	}

	retry := d.outcome == OutcomeConfirmed
	d.outcome = OutcomeConfirmed

	if d.store == nil {
		return fmt.Errorf("%w: no memory store configured", ErrPersistenceFailed)
	}

	mem := memory.Memory{
		ID:         d.sessionID,
		AgentID:    d.agentID,
		Transcript: d.transcript,
		StartedAt:  d.startedAt,
		EndedAt:    d.endedAt,
		SavedAt:    time.Now().UTC(),
	}
	if err := d.store.SaveMemory(ctx, mem); err != nil {
		d.metrics.RecordPersistenceError(ctx)
		slog.Error("save decision: persistence failed",
			"session_id", d.sessionID, "retry", retry, "err", err)
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	d.persisted = true
	d.metrics.RecordSaveOutcome(ctx, "confirmed")

	if d.chime != nil {
		d.chime.Play(ctx)
	}

	slog.Info("save decision: transcript persisted",
		"session_id", d.sessionID, "utterances", len(d.transcript))
	return nil
}

// Discard resolves the decision to discarded. No side effects beyond
// freeing the transcript. Returns [ErrAlreadyResolved] unless the decision
// is still pending.
func (d *Decision) Discard(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.outcome != OutcomePending {
		return fmt.Errorf("%w (outcome=%s)", ErrAlreadyResolved, d.outcome)
	}
	d.outcome = OutcomeDiscarded
	d.transcript = nil
	d.metrics.RecordSaveOutcome(ctx, "discarded")

	slog.Info("save decision: transcript discarded", "session_id", d.sessionID)
	return nil
}

// abandon auto-resolves a still-pending decision to discarded. Called by the
// controller when a new session starts over an unresolved decision.
func (d *Decision) abandon(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.outcome != OutcomePending {
		return
	}
	d.outcome = OutcomeDiscarded
	d.transcript = nil
	d.metrics.RecordSaveOutcome(ctx, "discarded")
	slog.Warn("save decision: abandoned pending decision auto-discarded", "session_id", d.sessionID)
}
