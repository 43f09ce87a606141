package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	memmock "github.com/reverie-voice/reverie/pkg/memory/mock"
	"github.com/reverie-voice/reverie/pkg/types"
)

// fakeChime records Play calls.
type fakeChime struct {
	mu    sync.Mutex
	plays int
}

func (f *fakeChime) Play(_ context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays++
}

func (f *fakeChime) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays
}

func newTestDecision(store *memmock.Store, chime *fakeChime) *Decision {
	now := time.Now().UTC()
	d := &Decision{
		sessionID: "conv-test-1",
		agentID:   "agent-1",
		transcript: types.Transcript{
			utt(types.SpeakerUser, "hello"),
			utt(types.SpeakerAgent, "hi there"),
		},
		startedAt: now.Add(-time.Minute),
		endedAt:   now,
	}
	// Assign through locals so a nil *mock.Store never becomes a non-nil
	// interface value.
	if store != nil {
		d.store = store
	}
	if chime != nil {
		d.chime = chime
	}
	return d
}

func TestDecision_ConfirmPersistsAndChimes(t *testing.T) {
	store := &memmock.Store{}
	chime := &fakeChime{}
	d := newTestDecision(store, chime)

	if err := d.Confirm(context.Background()); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if got := d.Outcome(); got != OutcomeConfirmed {
		t.Errorf("outcome = %s, want confirmed", got)
	}
	if !d.Persisted() {
		t.Error("Persisted = false, want true")
	}
	if len(store.Saved) != 1 {
		t.Fatalf("saved memories = %d, want 1", len(store.Saved))
	}
	mem := store.Saved[0]
	if mem.ID != "conv-test-1" || mem.AgentID != "agent-1" {
		t.Errorf("saved memory = id %q agent %q, want conv-test-1/agent-1", mem.ID, mem.AgentID)
	}
	if len(mem.Transcript) != 2 {
		t.Errorf("saved transcript length = %d, want 2", len(mem.Transcript))
	}
	if chime.count() != 1 {
		t.Errorf("chime plays = %d, want 1", chime.count())
	}
}

func TestDecision_ConfirmTwiceIsAlreadyResolved(t *testing.T) {
	store := &memmock.Store{}
	d := newTestDecision(store, nil)

	if err := d.Confirm(context.Background()); err != nil {
		t.Fatalf("first Confirm: %v", err)
	}
	err := d.Confirm(context.Background())
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second Confirm: err = %v, want ErrAlreadyResolved", err)
	}
	if store.SaveAttempts != 1 {
		t.Errorf("save attempts = %d, want 1", store.SaveAttempts)
	}
}

func TestDecision_Discard(t *testing.T) {
	store := &memmock.Store{}
	chime := &fakeChime{}
	d := newTestDecision(store, chime)

	if err := d.Discard(context.Background()); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if got := d.Outcome(); got != OutcomeDiscarded {
		t.Errorf("outcome = %s, want discarded", got)
	}
	if store.SaveAttempts != 0 {
		t.Errorf("save attempts = %d, want 0", store.SaveAttempts)
	}
	if chime.count() != 0 {
		t.Errorf("chime plays = %d, want 0", chime.count())
	}

	if err := d.Discard(context.Background()); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("second Discard: err = %v, want ErrAlreadyResolved", err)
	}
	if err := d.Confirm(context.Background()); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("Confirm after Discard: err = %v, want ErrAlreadyResolved", err)
	}
}

func TestDecision_PersistenceFailureKeepsOutcomeAndAllowsRetry(t *testing.T) {
	store := &memmock.Store{SaveErr: errors.New("database unreachable")}
	chime := &fakeChime{}
	d := newTestDecision(store, chime)

	err := d.Confirm(context.Background())
	if !errors.Is(err, ErrPersistenceFailed) {
		t.Fatalf("Confirm with failing store: err = %v, want ErrPersistenceFailed", err)
	}
	if got := d.Outcome(); got != OutcomeConfirmed {
		t.Errorf("outcome = %s, want confirmed", got)
	}
	if d.Persisted() {
		t.Error("Persisted = true, want false")
	}
	if chime.count() != 0 {
		t.Errorf("chime plays = %d, want 0", chime.count())
	}
	if store.SaveAttempts != 1 {
		t.Errorf("save attempts = %d, want 1", store.SaveAttempts)
	}

	// Once confirmed, discarding is no longer possible.
	if err := d.Discard(context.Background()); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("Discard after failed Confirm: err = %v, want ErrAlreadyResolved", err)
	}

	// Retrying Confirm after the store recovers persists the transcript.
	store.SaveErr = nil
	if err := d.Confirm(context.Background()); err != nil {
		t.Fatalf("retry Confirm: %v", err)
	}
	if !d.Persisted() {
		t.Error("Persisted after retry = false, want true")
	}
	if chime.count() != 1 {
		t.Errorf("chime plays after retry = %d, want 1", chime.count())
	}

	// A third Confirm is now rejected.
	if err := d.Confirm(context.Background()); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("Confirm after successful retry: err = %v, want ErrAlreadyResolved", err)
	}
}

func TestDecision_ConfirmWithoutStore(t *testing.T) {
	d := newTestDecision(nil, nil)

	err := d.Confirm(context.Background())
	if !errors.Is(err, ErrPersistenceFailed) {
		t.Fatalf("Confirm without store: err = %v, want ErrPersistenceFailed", err)
	}
}
