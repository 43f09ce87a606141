package conversation

import "errors"

// Sentinel errors for the session lifecycle. Callers should match them with
// [errors.Is]; most are returned wrapped with additional context.
var (
	// ErrAlreadyActive is returned by Start while another session is live.
	ErrAlreadyActive = errors.New("conversation: a session is already active")

	// ErrPermissionDenied is returned when the host denies microphone access.
	ErrPermissionDenied = errors.New("conversation: microphone permission denied")

	// ErrTokenUnavailable is returned when the signed session token exchange
	// fails.
	ErrTokenUnavailable = errors.New("conversation: session token unavailable")

	// ErrConnection is returned when opening the live connection fails.
	ErrConnection = errors.New("conversation: live connection failed")

	// ErrNotAcceptingInput is returned when an utterance or audio frame
	// arrives while the session is not live.
	ErrNotAcceptingInput = errors.New("conversation: session is not accepting input")

	// ErrNoActiveSession is returned by End when there is nothing to end.
	ErrNoActiveSession = errors.New("conversation: no active session")

	// ErrAlreadyResolved is returned when confirming or discarding a save
	// decision that has already been resolved.
	ErrAlreadyResolved = errors.New("conversation: save decision already resolved")

	// ErrPersistenceFailed is returned when the memory store rejects the
	// transcript. The decision stays confirmed and Confirm may be retried.
	ErrPersistenceFailed = errors.New("conversation: transcript persistence failed")
)
