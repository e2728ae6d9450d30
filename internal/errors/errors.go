package errors

import (
	"errors"
	"fmt"
)

var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Unwrap = errors.Unwrap
)

type Category string

const (
	CategoryNetwork    Category = "NETWORK"    // Request timeouts, unreachable paths
	CategoryIO         Category = "IO"         // Local persistence failures
	CategoryDescriptor Category = "DESCRIPTOR" // Structurally invalid torrent/manifest segments
	CategoryResource   Category = "RESOURCE"   // Names that resolve to nothing we hold
	CategoryUnknown    Category = "UNKNOWN"    // Unclassified errors
)

// Common sentinel errors
var (
	ErrNoPathsAvailable    = New("no forwarding paths available")
	ErrMalformedDescriptor = New("malformed descriptor segment")
	ErrUnknownSegment      = New("name does not belong to any held descriptor")
	ErrTimeout             = New("request timed out")
	ErrQueueEmpty          = New("pending queue is empty")
	ErrShuttingDown        = New("manager is shutting down")
)

// TransferError represents an error that occurred while retrieving or
// persisting named content.
type TransferError struct {
	Err       error    // Original error
	Category  Category // General category
	Retryable bool     // Whether retry against another path is recommended
	Name      string   // Content or path name involved
	Reason    string   // Short human-readable reason
}

// Error implements the error interface
func (e *TransferError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Category, e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Name, e.Err)
}

// Unwrap provides the underlying cause for error unwrapping (compatible with errors.As)
func (e *TransferError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a network-related error
func NewNetworkError(err error, name string, retryable bool) *TransferError {
	return &TransferError{
		Err:       err,
		Category:  CategoryNetwork,
		Retryable: retryable,
		Name:      name,
	}
}

// NewIOError creates an I/O related error. A network retry cannot fix a disk
// fault, so these are never retryable.
func NewIOError(err error, name string) *TransferError {
	return &TransferError{
		Err:      err,
		Category: CategoryIO,
		Name:     name,
	}
}

// NewDescriptorError creates an error for a structurally invalid descriptor
// segment. Re-fetching identical bytes will not fix a structural defect.
func NewDescriptorError(err error, name string) *TransferError {
	return &TransferError{
		Err:      err,
		Category: CategoryDescriptor,
		Name:     name,
	}
}

// NewResourceError creates an error for a name that cannot be associated with
// any held descriptor.
func NewResourceError(err error, name string) *TransferError {
	return &TransferError{
		Err:      err,
		Category: CategoryResource,
		Name:     name,
	}
}

// IsRetryable determines if an error should be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var transferErr *TransferError
	if As(err, &transferErr) {
		return transferErr.Retryable
	}

	return false
}

// IsIOError determines if the error is I/O related
func IsIOError(err error) bool {
	var transferErr *TransferError
	return As(err, &transferErr) && transferErr.Category == CategoryIO
}

// IsNetworkError determines if the error is network-related
func IsNetworkError(err error) bool {
	var transferErr *TransferError
	return As(err, &transferErr) && transferErr.Category == CategoryNetwork
}

// IsDescriptorError determines if the error indicates a malformed descriptor
func IsDescriptorError(err error) bool {
	var transferErr *TransferError
	return As(err, &transferErr) && transferErr.Category == CategoryDescriptor
}

// WithReason attaches a short human-readable reason to a TransferError
func WithReason(err error, reason string) error {
	var transferErr *TransferError
	if !As(err, &transferErr) {
		return err
	}

	transferErr.Reason = reason

	return transferErr
}
