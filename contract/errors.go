package contract

import "errors"

// Error kinds raised by the registry. Every entry point wraps one of these via
// fmt.Errorf("...: %w", ...) so callers and tests can classify failures with
// errors.Is without parsing messages. A failed precondition aborts the whole
// transaction; no partial state change survives.
var (
	// ErrUnauthorized means the caller lacks the role required by a
	// privileged operation. Raised before any state is touched.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrDuplicateIdentity means the target wallet already owns an identity.
	ErrDuplicateIdentity = errors.New("identity already exists for owner")

	// ErrDuplicateFingerprint means the fingerprint is already bound to a
	// minted identity.
	ErrDuplicateFingerprint = errors.New("fingerprint already registered")

	// ErrDuplicatePendingRequest means the caller already has an unresolved
	// request carrying the same fingerprint.
	ErrDuplicatePendingRequest = errors.New("pending request with same fingerprint already exists")

	// ErrNotFound means the referenced request or identity does not exist,
	// including the zero-sentinel id.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means the operation is not valid for the entity's
	// current state, e.g. approving a resolved request.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrInvalidArgument means a structurally invalid input, e.g. an empty
	// address or a malformed fingerprint.
	ErrInvalidArgument = errors.New("invalid argument")
)
