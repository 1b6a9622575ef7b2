package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrInvalidRole            = errors.New("invalid role")
	ErrInvalidConfig          = errors.New("invalid data sync configuration")
	ErrUnknownDataSyncType    = errors.New("unknown data sync type")
	ErrPropertyNotFound       = errors.New("data sync property not found")
	ErrNoUniqueIdentity       = errors.New("data sync has no unique primary property")
	ErrSchema                 = errors.New("data sync schema invariant violated")
	ErrCannotDeletePrimary    = errors.New("cannot delete unique primary field")
	ErrSyncAlreadyRunning     = errors.New("data sync is already running")
	ErrReadOnlyField          = errors.New("field is read only")
	ErrCredentialsKeyMismatch = errors.New("data sync credentials were encrypted with a different key")
)

// SyncError is the recoverable failure an adapter reports when the external
// source could not deliver its rows. The message is shown to users, so it
// must not carry secrets.
type SyncError struct {
	Message string
	Err     error
}

func (e *SyncError) Error() string {
	return e.Message
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewSyncError creates a SyncError with the given user-facing message.
func NewSyncError(format string, args ...any) *SyncError {
	return &SyncError{Message: fmt.Sprintf(format, args...)}
}

// WrapSyncError creates a SyncError that keeps the underlying cause for logging.
func WrapSyncError(err error, message string) *SyncError {
	return &SyncError{Message: message, Err: err}
}

// AsSyncError reports whether err is (or wraps) a SyncError.
func AsSyncError(err error) (*SyncError, bool) {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr, true
	}
	return nil, false
}
