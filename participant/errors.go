package participant

import "errors"

// Sentinel errors observed at the package boundary (spec section 7). Like
// the rest of this codebase — and relaydns itself, which reaches for the
// standard "errors" package directly rather than a third-party wrapper —
// these are built with errors.New/fmt.Errorf and %w, not a wrapping
// library.
var (
	// ErrStreamClosed is returned by StreamHandle.Send once send_closed is
	// set, either because the stream or the whole Participant is closing.
	ErrStreamClosed = errors.New("participant: stream send closed")

	// ErrShuttingDown is returned by OpenStream/AttachChannel once shutdown
	// has begun and the corresponding input queue has been closed.
	ErrShuttingDown = errors.New("participant: participant is shutting down")

	// ErrNoChannel is logged (not returned to callers) when an iteration of
	// the Send Manager has no registered channel to act on.
	ErrNoChannel = errors.New("participant: no channel registered")
)

// ParticipantError is returned by Shutdown when no channel has ever been
// attached (the channel table is empty). Whether the attach input was closed
// first is not checked. A shutdown that reaches the timeout path still returns nil — per
// spec section 7 item 4, the teardown itself succeeds even though data was
// lost; data loss is implicit in the timeout having happened at all, not
// surfaced as an error.
type ParticipantError struct {
	Reason string
}

func (e *ParticipantError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return "participant: shutdown precondition failed: " + e.Reason
}
