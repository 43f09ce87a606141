package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/reverie-voice/reverie/internal/observe"
	"github.com/reverie-voice/reverie/pkg/audio"
	"github.com/reverie-voice/reverie/pkg/memory"
	"github.com/reverie-voice/reverie/pkg/provider/realtime"
	"github.com/reverie-voice/reverie/pkg/types"
)

// Session is a read-only snapshot of the controller's current session.
type Session struct {
	// ID is the opaque session identifier, assigned at Start.
	ID string

	// AgentID identifies the remote voice agent for this session.
	AgentID string

	// Status is the lifecycle state at snapshot time.
	Status Status

	// Transcript is a copy of the utterances accumulated so far.
	Transcript types.Transcript

	// StartedAt is when the session entered Connecting. Zero before that.
	StartedAt time.Time

	// EndedAt is when the session reached Ended or Failed. Zero before that.
	EndedAt time.Time

	// Err carries the failure cause. Non-nil only when Status is Failed.
	Err error
}

// Update is published on the controller's update channel whenever the
// session state observably changes. Each Update carries a full snapshot so
// consumers that miss intermediate updates still converge on current state.
type Update struct {
	Session Session

	// Decision is the pending save decision, non-nil only once the session
	// has ended with a non-empty transcript and the decision is unresolved.
	Decision *Decision
}

// updateBuffer sizes the update channel. Consumers are expected to drain
// promptly; when the buffer is full the oldest pending update is dropped in
// favour of the newer snapshot.
const updateBuffer = 64

// ControllerConfig holds all dependencies for a [Controller].
type ControllerConfig struct {
	// Tokens exchanges an agent ID for a connection credential. Required.
	Tokens realtime.TokenProvider

	// Provider opens the live connection. Required.
	Provider realtime.Provider

	// Gate mediates microphone permission. Required.
	Gate audio.CaptureGate

	// Store persists confirmed transcripts. May be nil; Confirm then fails
	// with a persistence error.
	Store memory.Store

	// Chime plays the save confirmation cue. May be nil.
	Chime Feedback

	// Metrics records session telemetry. May be nil.
	Metrics *observe.Metrics
}

// Controller orchestrates the full connect, converse, terminate lifecycle
// for exactly one conversation session at a time. Events from the live
// connection and user-initiated calls are serialised onto a single mutex so
// state transitions never interleave inconsistently.
//
// All exported methods are safe for concurrent use.
type Controller struct {
	mu         sync.Mutex
	status     Status
	id         string
	agentID    string
	startedAt  time.Time
	endedAt    time.Time
	sessErr    error
	epoch      int
	handle     realtime.SessionHandle
	transcript *Accumulator
	decision   *Decision

	tokens   realtime.TokenProvider
	provider realtime.Provider
	gate     audio.CaptureGate
	store    memory.Store
	chime    Feedback
	metrics  *observe.Metrics

	updates chan Update
}

// NewController creates a Controller with the given dependencies.
func NewController(cfg ControllerConfig) *Controller {
	return &Controller{
		status:     StatusIdle,
		transcript: NewAccumulator(),
		tokens:     cfg.Tokens,
		provider:   cfg.Provider,
		gate:       cfg.Gate,
		store:      cfg.Store,
		chime:      cfg.Chime,
		metrics:    cfg.Metrics,
		updates:    make(chan Update, updateBuffer),
	}
}

// Updates returns the channel of state-change snapshots. The channel is
// never closed; consumers stop reading when they shut down.
func (c *Controller) Updates() <-chan Update {
	return c.updates
}

// SetChime replaces the save-confirmation cue player. Takes effect for
// decisions created after the call.
func (c *Controller) SetChime(f Feedback) {
	c.mu.Lock()
	c.chime = f
	c.mu.Unlock()
}

// Start begins a brand-new conversation session with the given agent. It
// requests microphone permission, exchanges the signed token, and opens the
// live connection, transitioning through the corresponding states. A still
// pending save decision from a previous session is auto-discarded.
//
// Returns an error wrapping [ErrAlreadyActive] while another session is
// live, [ErrPermissionDenied], [ErrTokenUnavailable] or [ErrConnection] when
// the respective step fails. Failures are terminal for this attempt; a later
// Start begins a fresh session with a new ID.
func (c *Controller) Start(ctx context.Context, agentID string) error {
	ctx, span := observe.StartSpan(ctx, "conversation.Start",
		trace.WithAttributes(attribute.String("agent.id", agentID)))
	defer span.End()

	c.mu.Lock()
	if c.status != StatusIdle && !c.status.Terminal() {
		id := c.id
		c.mu.Unlock()
		return fmt.Errorf("%w (id=%s)", ErrAlreadyActive, id)
	}
	if c.decision != nil {
		c.decision.abandon(ctx)
		c.decision = nil
	}

	c.epoch++
	epoch := c.epoch
	now := time.Now().UTC()
	c.id = fmt.Sprintf("conv-%s-%s", sanitizeAgentID(agentID), now.Format("20060102T150405.000Z"))
	c.agentID = agentID
	c.startedAt = time.Time{}
	c.endedAt = time.Time{}
	c.sessErr = nil
	c.transcript.Clear()
	c.status = StatusRequestingPermission
	id := c.id
	c.emitLocked()
	c.mu.Unlock()

	slog.Info("conversation: session starting", "session_id", id, "agent_id", agentID)

	granted, err := c.gate.Request(ctx)
	if err != nil {
		return c.fail(ctx, epoch, fmt.Errorf("%w: %v", ErrPermissionDenied, err))
	}
	if granted != audio.Granted {
		return c.fail(ctx, epoch, ErrPermissionDenied)
	}

	c.mu.Lock()
	if c.epoch != epoch || c.status != StatusRequestingPermission {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusConnecting
	c.startedAt = time.Now().UTC()
	c.emitLocked()
	c.mu.Unlock()

	tokenStart := time.Now()
	cred, err := c.tokens.RequestToken(ctx, agentID)
	c.metrics.RecordTokenRequest(ctx, time.Since(tokenStart).Seconds())
	if err != nil {
		return c.fail(ctx, epoch, fmt.Errorf("%w: %v", ErrTokenUnavailable, err))
	}

	// An explicit End while the token exchange was in flight wins; the
	// credential is discarded.
	c.mu.Lock()
	if c.epoch != epoch || c.status != StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	handle, err := c.provider.Connect(ctx, realtime.SessionConfig{AgentID: agentID, Credential: cred})
	if err != nil {
		return c.fail(ctx, epoch, fmt.Errorf("%w: %v", ErrConnection, err))
	}

	c.mu.Lock()
	if c.epoch != epoch || c.status != StatusConnecting {
		c.mu.Unlock()
		_ = handle.Close()
		return nil
	}
	c.handle = handle
	c.status = StatusConnected
	c.transcript.Open()
	c.metrics.AddActiveSessions(ctx, 1)
	c.emitLocked()
	c.mu.Unlock()

	go c.pump(epoch, handle)

	slog.Info("conversation: session connected", "session_id", id, "agent_id", agentID)
	return nil
}

// End terminates the active session. Valid while Connecting, Connected,
// Speaking or Listening; the live connection is closed, the session
// transitions to Ended, and a pending save decision is created when the
// transcript is non-empty. Ending with an empty transcript discards the
// session without a decision.
//
// Returns an error wrapping [ErrNoActiveSession] in any other state.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.status {
	case StatusConnecting, StatusConnected, StatusSpeaking, StatusListening:
		c.finishLocked(ctx)
		return nil
	default:
		return fmt.Errorf("%w (status=%s)", ErrNoActiveSession, c.status)
	}
}

// SendAudio forwards one microphone PCM chunk to the live connection.
// Returns an error wrapping [ErrNotAcceptingInput] while the session is not
// live.
func (c *Controller) SendAudio(chunk []byte) error {
	c.mu.Lock()
	handle := c.handle
	status := c.status
	c.mu.Unlock()

	if !status.Live() || handle == nil {
		return fmt.Errorf("%w (status=%s)", ErrNotAcceptingInput, status)
	}
	return handle.SendAudio(chunk)
}

// Session returns a read-only snapshot of the current session.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Status returns the current lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Decision returns the save decision created when the last session ended
// with a non-empty transcript, or nil when there is none.
func (c *Controller) Decision() *Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decision
}

// pump consumes the live connection's event stream and drives the session
// state machine. It exits when the stream closes. The epoch guards against
// a stale pump mutating a newer session.
func (c *Controller) pump(epoch int, handle realtime.SessionHandle) {
	ctx := context.Background()
	disconnected := false
	for ev := range handle.Events() {
		switch e := ev.(type) {
		case realtime.AgentSpeaking:
			c.setLiveStatus(epoch, StatusSpeaking)
		case realtime.AgentListening:
			c.setLiveStatus(epoch, StatusListening)
		case realtime.Utterance:
			c.appendUtterance(ctx, epoch, e.Utterance)
		case realtime.Disconnected:
			disconnected = true
			c.remoteDisconnect(ctx, epoch, e.Err)
		}
	}
	if !disconnected {
		// Stream closed without a terminal event, e.g. after an explicit End.
		c.remoteDisconnect(ctx, epoch, nil)
	}
}

// setLiveStatus applies a remote speaking-state transition. Ignored once the
// session is no longer live or a newer session has started.
func (c *Controller) setLiveStatus(epoch int, s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || !c.status.Live() || c.status == s {
		return
	}
	c.status = s
	c.emitLocked()
}

// appendUtterance adds one finalised transcript turn in arrival order.
func (c *Controller) appendUtterance(ctx context.Context, epoch int, u types.Utterance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || !c.status.Live() {
		return
	}
	if err := c.transcript.Append(u); err != nil {
		slog.Warn("conversation: dropped utterance", "session_id", c.id, "err", err)
		return
	}
	c.metrics.RecordUtterance(ctx, string(u.Speaker))
	c.emitLocked()
}

// remoteDisconnect handles an abrupt disconnect from the remote side. It is
// routed through the same Ended transition as an explicit End.
func (c *Controller) remoteDisconnect(ctx context.Context, epoch int, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.status.Terminal() {
		return
	}
	if cause != nil {
		slog.Warn("conversation: remote disconnect", "session_id", c.id, "err", cause)
	}
	c.finishLocked(ctx)
}

// finishLocked transitions the session to Ended, closes the live connection
// and creates the save decision when the transcript is non-empty. Caller
// must hold c.mu.
func (c *Controller) finishLocked(ctx context.Context) {
	wasLive := c.handle != nil
	if wasLive {
		if err := c.handle.Close(); err != nil {
			slog.Warn("conversation: close live connection", "session_id", c.id, "err", err)
		}
		c.handle = nil
	}

	c.status = StatusEnded
	c.endedAt = time.Now().UTC()
	c.transcript.Freeze()

	if wasLive {
		c.metrics.AddActiveSessions(ctx, -1)
	}
	var seconds float64
	if !c.startedAt.IsZero() {
		seconds = c.endedAt.Sub(c.startedAt).Seconds()
	}
	c.metrics.RecordSessionEnd(ctx, "ended", seconds)

	transcript := c.transcript.Snapshot()
	if len(transcript) > 0 {
		c.decision = &Decision{
			sessionID:  c.id,
			agentID:    c.agentID,
			transcript: transcript,
			startedAt:  c.startedAt,
			endedAt:    c.endedAt,
			store:      c.store,
			chime:      c.chime,
			metrics:    c.metrics,
		}
	} else {
		c.decision = nil
	}
	c.emitLocked()

	slog.Info("conversation: session ended",
		"session_id", c.id, "utterances", len(transcript), "decision_pending", c.decision != nil)
}

// fail transitions the session to Failed unless a newer session has started
// or the session already reached a terminal state. Returns err for the
// caller to surface.
func (c *Controller) fail(ctx context.Context, epoch int, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.status.Terminal() {
		return err
	}
	c.status = StatusFailed
	c.sessErr = err
	c.endedAt = time.Now().UTC()

	var seconds float64
	if !c.startedAt.IsZero() {
		seconds = c.endedAt.Sub(c.startedAt).Seconds()
	}
	c.metrics.RecordSessionEnd(ctx, "failed", seconds)
	c.emitLocked()

	slog.Error("conversation: session failed", "session_id", c.id, "err", err)
	return err
}

// snapshotLocked builds a Session snapshot. Caller must hold c.mu.
func (c *Controller) snapshotLocked() Session {
	return Session{
		ID:         c.id,
		AgentID:    c.agentID,
		Status:     c.status,
		Transcript: c.transcript.Snapshot(),
		StartedAt:  c.startedAt,
		EndedAt:    c.endedAt,
		Err:        c.sessErr,
	}
}

// emitLocked publishes the current snapshot on the update channel without
// blocking. When the buffer is full the oldest pending update is dropped.
// Caller must hold c.mu.
func (c *Controller) emitLocked() {
	var decision *Decision
	if c.decision != nil && c.decision.Outcome() == OutcomePending {
		decision = c.decision
	}
	u := Update{Session: c.snapshotLocked(), Decision: decision}
	for {
		select {
		case c.updates <- u:
			return
		default:
		}
		select {
		case <-c.updates:
		default:
		}
	}
}

// sanitizeAgentID lowercases an agent ID and replaces spaces with hyphens
// for use in session IDs.
func sanitizeAgentID(id string) string {
	id = strings.ToLower(id)
	id = strings.ReplaceAll(id, " ", "-")
	return id
}
