package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Vertias error code.
type ErrorCode string

const (
	ErrValidation          ErrorCode = "VALIDATION"            // malformed or incomplete snapshot
	ErrChecksumMismatch    ErrorCode = "CHECKSUM_MISMATCH"     // advisory, triggers backup fallback
	ErrMissingCatalogEntry ErrorCode = "MISSING_CATALOG_ENTRY" // identifier not in catalog
	ErrMissingPrefab       ErrorCode = "MISSING_PREFAB"        // catalog entry not creatable
	ErrPlacementConflict   ErrorCode = "PLACEMENT_CONFLICT"    // grid cell occupied
	ErrIOFailure           ErrorCode = "IO_FAILURE"            // store read/write error
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrCollectionDeferred  ErrorCode = "COLLECTION_DEFERRED" // collect requested mid-restore
	ErrRestoreInProgress   ErrorCode = "RESTORE_IN_PROGRESS"
	ErrNotReady            ErrorCode = "NOT_READY" // dependency not initialized yet
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrInternal            ErrorCode = "INTERNAL"
)

// VertiasError represents a structured error with code and details.
type VertiasError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *VertiasError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *VertiasError) Unwrap() error {
	return e.Cause
}

// NewValidation creates an error for a snapshot that fails structural checks.
func NewValidation(msg string) *VertiasError {
	return &VertiasError{
		Code:    ErrValidation,
		Message: msg,
	}
}

// NewChecksumMismatch creates an error for an envelope whose stored checksum
// does not match the recomputed one.
func NewChecksumMismatch(file, key, want, got string) *VertiasError {
	return &VertiasError{
		Code:    ErrChecksumMismatch,
		Message: fmt.Sprintf("checksum mismatch for %s in %s", key, file),
		Details: map[string]any{"file": file, "key": key, "stored": want, "computed": got},
	}
}

// NewMissingCatalogEntry creates an error for a global id the catalog does not know.
func NewMissingCatalogEntry(globalID int64) *VertiasError {
	return &VertiasError{
		Code:    ErrMissingCatalogEntry,
		Message: fmt.Sprintf("no catalog entry for global id %d", globalID),
		Details: map[string]any{"global_id": globalID},
	}
}

// NewMissingPrefab creates an error for a catalog entry the factory cannot instantiate.
func NewMissingPrefab(itemID int, category string) *VertiasError {
	return &VertiasError{
		Code:    ErrMissingPrefab,
		Message: fmt.Sprintf("cannot create item %d in category %q", itemID, category),
		Details: map[string]any{"item_id": itemID, "category": category},
	}
}

// NewPlacementConflict creates an error for a grid cell that is already taken.
func NewPlacementConflict(container string, x, y int) *VertiasError {
	return &VertiasError{
		Code:    ErrPlacementConflict,
		Message: fmt.Sprintf("cell (%d,%d) in %s is occupied", x, y, container),
		Details: map[string]any{"container": container, "x": x, "y": y},
	}
}

// NewIOFailure wraps a storage error.
func NewIOFailure(op, path string, err error) *VertiasError {
	msg := fmt.Sprintf("%s %s failed", op, path)
	if err != nil {
		msg = fmt.Sprintf("%s %s: %v", op, path, err)
	}
	return &VertiasError{
		Code:    ErrIOFailure,
		Message: msg,
		Details: map[string]any{"op": op, "path": path},
		Cause:   err,
	}
}

// NewNotFound creates an error for a missing key or file.
func NewNotFound(identifier string) *VertiasError {
	return &VertiasError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewCollectionDeferred signals that a snapshot cannot be taken while a
// restore is running.
func NewCollectionDeferred() *VertiasError {
	return &VertiasError{
		Code:    ErrCollectionDeferred,
		Message: "restore in progress; collection deferred",
	}
}

// NewRestoreInProgress creates an error for a second restore started on top of a running one.
func NewRestoreInProgress() *VertiasError {
	return &VertiasError{
		Code:    ErrRestoreInProgress,
		Message: "restore already in progress",
	}
}

// NewNotReady creates an error for an operation attempted before its trigger fired.
func NewNotReady(msg string) *VertiasError {
	return &VertiasError{
		Code:    ErrNotReady,
		Message: msg,
	}
}

// NewInvalidRequest creates an error for invalid request parameters.
func NewInvalidRequest(msg string) *VertiasError {
	return &VertiasError{
		Code:    ErrInvalidRequest,
		Message: msg,
	}
}

// NewInternal creates an error for unexpected internal errors.
func NewInternal(err error) *VertiasError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &VertiasError{
		Code:    ErrInternal,
		Message: msg,
		Cause:   err,
	}
}

// Is checks if err (or anything it wraps) is a VertiasError with the given code.
func Is(err error, code ErrorCode) bool {
	var vErr *VertiasError
	if stderrors.As(err, &vErr) {
		return vErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first VertiasError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var vErr *VertiasError
	if stderrors.As(err, &vErr) {
		return vErr.Code
	}
	return ""
}
