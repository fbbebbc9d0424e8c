package pbft

import (
	"errors"

	"github.com/bftengine/pbftcore/internal/metrics"
)

// Sentinel errors realizing the error taxonomy of spec §7. Call sites wrap
// these with fmt.Errorf("...: %w", ...) for context, matching the
// teacher's error-wrapping idiom throughout manager.go.
var (
	ErrSerialization      = errors.New("pbft: serialization error")
	ErrInvalidMessage     = errors.New("pbft: invalid message")
	ErrNotFromPrimary     = errors.New("pbft: message not from primary")
	ErrNotReadyForMessage = errors.New("pbft: not ready for message")
	ErrNoWorkingBlock     = errors.New("pbft: no working block")
	ErrMismatchedBlocks   = errors.New("pbft: mismatched blocks")
	ErrWrongNumMessages   = errors.New("pbft: wrong number of messages")
	ErrInternal           = errors.New("pbft: internal error")
)

// FatalError signals a condition §7 marks fatal: f has fallen to zero, or
// persisted state could not be loaded at startup. The event loop exits
// without attempting recovery when it sees one.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return "pbft: fatal: " + e.Reason + ": " + e.Err.Error()
	}
	return "pbft: fatal: " + e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatalf(reason string, err error) *FatalError {
	return &FatalError{Reason: reason, Err: err}
}

// classifyDropReason maps an error to the metrics label used in
// messages_dropped_total (spec §7 error taxonomy).
func classifyDropReason(err error) string {
	switch {
	case errors.Is(err, ErrSerialization):
		return "serialization"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid_message"
	case errors.Is(err, ErrNotFromPrimary):
		return "not_from_primary"
	default:
		return "other"
	}
}

// RecordMessageDropped increments the dropped-message counter for reason.
func RecordMessageDropped(reason string) {
	metrics.RecordDropped(reason)
}
