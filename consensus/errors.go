package consensus

import (
	"fmt"

	"synnergy-node/synnid"
)

// Error is the closed taxonomy of validation failures
// ViewChangeCollector.HandleMessage can return (spec section 7). None
// of these mutate collector state.
type Error struct {
	Kind ErrorKind
	// context fields, populated depending on Kind
	Got, Want   uint64
	GotHash     synnid.Hash
	WantHash    synnid.Hash
	ValidatorID uint32
}

// ErrorKind enumerates the distinct rejection reasons.
type ErrorKind int

const (
	// ErrInvalidValidatorID: the message's validator_id does not index
	// a current validator.
	ErrInvalidValidatorID ErrorKind = iota
	// ErrInvalidViewChangeSignature: the signature fails to verify.
	ErrInvalidViewChangeSignature
	// ErrInvalidViewChangeHeight: message height differs from the tip.
	ErrInvalidViewChangeHeight
	// ErrInvalidLastBlockHash: message's last_block differs from the
	// chain view's current tip hash.
	ErrInvalidLastBlockHash
	// ErrInvalidViewChangeCounter: message's view_change differs from
	// the chain view's current counter. Catch-up for messages
	// referring to a different view_change is explicitly future work
	// (spec section 9) — such messages are rejected, not buffered.
	ErrInvalidViewChangeCounter
)

func (e *Error) Error() string {
	switch e.Kind {
	case ErrInvalidValidatorID:
		return fmt.Sprintf("consensus: invalid validator id %d", e.ValidatorID)
	case ErrInvalidViewChangeSignature:
		return "consensus: invalid view-change signature"
	case ErrInvalidViewChangeHeight:
		return fmt.Sprintf("consensus: invalid view-change height: got %d want %d", e.Got, e.Want)
	case ErrInvalidLastBlockHash:
		return "consensus: invalid last-block hash"
	case ErrInvalidViewChangeCounter:
		return fmt.Sprintf("consensus: invalid view-change counter: got %d want %d", e.Got, e.Want)
	default:
		return "consensus: unknown view-change error"
	}
}

// Is allows errors.Is(err, consensus.ErrInvalidValidatorIDSentinel)
// style sentinel comparisons against the Kind alone.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Sentinel errors for errors.Is comparisons that don't need context.
var (
	ErrInvalidValidatorIDSentinel        = &Error{Kind: ErrInvalidValidatorID}
	ErrInvalidViewChangeSignatureSentinel = &Error{Kind: ErrInvalidViewChangeSignature}
	ErrInvalidViewChangeHeightSentinel    = &Error{Kind: ErrInvalidViewChangeHeight}
	ErrInvalidLastBlockHashSentinel       = &Error{Kind: ErrInvalidLastBlockHash}
	ErrInvalidViewChangeCounterSentinel   = &Error{Kind: ErrInvalidViewChangeCounter}
)
