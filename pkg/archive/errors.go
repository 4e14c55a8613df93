package archive

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes that callers branch on. Errors
// wrapping these are matched with errors.Is.
var (
	// ErrNotFound indicates the requested record, file, or backup never
	// existed (as far as the index knows).
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied is returned uniformly for an unknown token, an
	// inactive token, or a token lacking the required permission. The
	// individual cause is deliberately not distinguishable by the caller.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrDuplicateName indicates a token with the given name already exists.
	ErrDuplicateName = errors.New("name already exists")

	// ErrOrphanedMetadata indicates a metadata record exists but the backing
	// content file is missing on disk. Surfaced distinctly from ErrNotFound
	// so operators can tell "never existed" apart from a data integrity
	// problem.
	ErrOrphanedMetadata = errors.New("metadata exists but content file is missing")

	// ErrCorruptSidecar indicates a sidecar record could not be decoded.
	ErrCorruptSidecar = errors.New("corrupt sidecar record")
)

// ValidationError reports a malformed request rejected before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
