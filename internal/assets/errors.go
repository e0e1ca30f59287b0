package assets

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates the submission was rejected before any I/O.
	ErrValidation = errors.New("asset validation failed")
	// ErrTransfer indicates an upload or delete against a remote store failed.
	ErrTransfer = errors.New("asset transfer failed")
	// ErrServiceUnreachable indicates the metadata service could not give an answer.
	ErrServiceUnreachable = errors.New("metadata service unreachable")
	// ErrProcessingTimeout is the diagnostic recorded on timed out records.
	ErrProcessingTimeout = errors.New("processing did not finish within the polling window")
	// ErrPartialFailure indicates exactly one of the remote deletes failed.
	ErrPartialFailure = errors.New("asset partially deleted")
	// ErrDuplicateID indicates a record with the same id is already tracked.
	ErrDuplicateID = errors.New("asset id already exists")
)

// ValidationError describes a rejected submission field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Store names a remote store touched by the deletion coordinator.
type Store string

const (
	StoreBlob     Store = "blob"
	StoreMetadata Store = "metadata"
)

// PartialFailureError reports which remote store failed to delete an asset
// while the other succeeded.
type PartialFailureError struct {
	ID     string
	Failed Store
	Err    error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("delete asset %s: %s store failed: %v", e.ID, e.Failed, e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrPartialFailure.
func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialFailure
}
