package core

import "errors"

// Error taxonomy for the ICN core, grouped by the abstract kind each
// belongs to (validation, authorization, resource, consistency, transient,
// programmer). Components return these sentinels (or errors wrapping them
// via fmt.Errorf("...: %w",...)) rather than ad-hoc strings, so callers at
// every boundary (Host ABI, gossip, governance) can branch on kind.
var (
	// Validation errors: malformed input, no state change.
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrDagValidation = errors.New("dag validation failed: cid does not match block contents")
	ErrDeserialization = errors.New("deserialization failed")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrUnknownJobSpec = errors.New("unknown job spec variant")
	ErrUnknownProposal = errors.New("unknown proposal type")

	// Authorization errors: caller lacks rights, no state change, retryable
	// after obtaining rights.
	ErrNotEligible = errors.New("caller not eligible")
	ErrPolicyDenied = errors.New("policy denied")
	ErrNotOwner = errors.New("caller is not the resource owner")

	// Resource errors: caller lacks capacity, no state change, retryable
	// after regeneration/unfreeze.
	ErrInsufficientMana = errors.New("insufficient mana")
	ErrAccountNotActive = errors.New("account not active")

	// Consistency errors: blocked by Byzantine gating, audited.
	ErrInsufficientConsensus = errors.New("insufficient validator consensus")
	ErrGamingDetected = errors.New("gaming detected")

	// Transient errors: infrastructure failure, retry with backoff,
	// operations must be idempotent under retry.
	ErrStorageError = errors.New("storage error")
	ErrNetworkError = errors.New("network error")
	ErrTimeout = errors.New("operation timed out")

	// Programmer errors: indicates a bug, never silently recovered from.
	ErrInternal = errors.New("internal error")

	// Not-found / state errors that don't fit neatly above but are used
	// pervasively across components.
	ErrNotFound = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidState = errors.New("invalid state for operation")
	ErrAlreadyVoted = errors.New("voter has already cast a vote")
	ErrExpired = errors.New("deadline has passed")
	ErrStillOpen = errors.New("voting period still open")
	ErrNotAccepted = errors.New("proposal was not accepted")
)

// HostAbiError is the structured error type returned across the Host ABI
// boundary. It preserves the originating kind so HTTP-adjacent embedding
// layers (out of scope here) can map it to a status code, while carrying
// enough context for logs.
type HostAbiError struct {
	Kind string
	Message string
	Cause error
}

func (e *HostAbiError) Error() string {
	if e.Cause != nil {
		return e.Kind + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Kind + ": " + e.Message
}

func (e *HostAbiError) Unwrap() error { return e.Cause }

// newHostAbiError constructs a HostAbiError of the given kind.
func newHostAbiError(kind, msg string, cause error) *HostAbiError {
	return &HostAbiError{Kind: kind, Message: msg, Cause: cause}
}

// translateToHostAbiError classifies a sentinel/wrapped error into a
// HostAbiError, translating transient storage failures into InternalError
// at the boundary while preserving the original message.
func translateToHostAbiError(err error) *HostAbiError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidParameters), errors.Is(err, ErrDagValidation),
		errors.Is(err, ErrDeserialization), errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrUnknownJobSpec), errors.Is(err, ErrUnknownProposal):
		return newHostAbiError("InvalidParameters", err.Error(), err)
	case errors.Is(err, ErrNotEligible):
		return newHostAbiError("NotEligible", err.Error(), err)
	case errors.Is(err, ErrPolicyDenied), errors.Is(err, ErrNotOwner):
		return newHostAbiError("PolicyDenied", err.Error(), err)
	case errors.Is(err, ErrInsufficientMana):
		return newHostAbiError("InsufficientMana", err.Error(), err)
	case errors.Is(err, ErrAccountNotActive):
		return newHostAbiError("AccountNotActive", err.Error(), err)
	case errors.Is(err, ErrInsufficientConsensus):
		return newHostAbiError("InsufficientConsensus", err.Error(), err)
	case errors.Is(err, ErrGamingDetected):
		return newHostAbiError("GamingDetected", err.Error(), err)
	case errors.Is(err, ErrNotFound):
		return newHostAbiError("NotFound", err.Error(), err)
	case errors.Is(err, ErrAlreadyVoted):
		return newHostAbiError("AlreadyVoted", err.Error(), err)
	case errors.Is(err, ErrStillOpen):
		return newHostAbiError("StillOpen", err.Error(), err)
	case errors.Is(err, ErrNotAccepted):
		return newHostAbiError("NotAccepted", err.Error(), err)
	case errors.Is(err, ErrStorageError), errors.Is(err, ErrNetworkError), errors.Is(err, ErrTimeout):
		// Transient infra errors surface as InternalError at the Host ABI
		// boundary but keep the original message.
		return newHostAbiError("InternalError", err.Error(), err)
	default:
		return newHostAbiError("InternalError", err.Error(), err)
	}
}
