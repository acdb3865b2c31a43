package tour

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the tour package.
var (
	// ErrTourNotFound is returned when no snapshot exists for an identity.
	ErrTourNotFound = errors.New("tour not found")

	// ErrSceneNotFound is returned when an operation references a scene
	// that does not exist in the tour.
	ErrSceneNotFound = errors.New("scene not found")

	// ErrDefaultSceneDelete is returned when deleting the scene currently
	// referenced by the tour defaults.
	ErrDefaultSceneDelete = errors.New("cannot delete the default scene")

	// ErrInvalidTourID is returned for identities that are empty after
	// sanitizing to the restricted character set.
	ErrInvalidTourID = errors.New("invalid tour identity")

	// ErrPatchRejected is returned when a patch cannot be applied to the
	// current document, e.g. because it references a stale path.
	ErrPatchRejected = errors.New("patch rejected")

	// ErrHubClosed is returned when operations are attempted on a closed hub.
	ErrHubClosed = errors.New("session hub is closed")

	// ErrNotConnected is returned by client operations that require a
	// bootstrap snapshot before any has been received.
	ErrNotConnected = errors.New("no snapshot received yet")
)

// PatchErrorType categorizes patch failures.
type PatchErrorType int

const (
	// PatchErrorTypeUnknown is an unclassified patch error.
	PatchErrorTypeUnknown PatchErrorType = iota
	// PatchErrorTypeDecode indicates the patch payload is malformed.
	PatchErrorTypeDecode
	// PatchErrorTypeApply indicates an operation referenced a stale path
	// or could not take effect against the current document.
	PatchErrorTypeApply
)

// PatchError provides detailed information about a rejected patch.
type PatchError struct {
	Type    PatchErrorType
	Message string
	Cause   error
}

func (e *PatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *PatchError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for PatchError.
func (e *PatchError) Is(target error) bool {
	return target == ErrPatchRejected
}

func newPatchError(errType PatchErrorType, message string, cause error) *PatchError {
	return &PatchError{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// StoreErrorType categorizes store failures.
type StoreErrorType int

const (
	// StoreErrorTypeUnknown is an unclassified store error.
	StoreErrorTypeUnknown StoreErrorType = iota
	// StoreErrorTypeNotFound indicates no snapshot exists for the key.
	StoreErrorTypeNotFound
	// StoreErrorTypeDecode indicates a snapshot exists but could not be
	// decoded. Callers treat this the same as not-found and fall back to
	// the default seed; the corrupt snapshot is an accepted loss.
	StoreErrorTypeDecode
	// StoreErrorTypeRead indicates a backend read failure.
	StoreErrorTypeRead
	// StoreErrorTypeWrite indicates a backend write failure.
	StoreErrorTypeWrite
)

// StoreError provides detailed information about store failures.
type StoreError struct {
	Type    StoreErrorType
	Message string
	Key     string
	Cause   error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s [%s]: %v", e.Message, e.Key, e.Cause)
		}
		return fmt.Sprintf("%s [%s]", e.Message, e.Key)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for StoreError. Decode failures match
// ErrTourNotFound so that callers fall back to the default seed.
func (e *StoreError) Is(target error) bool {
	switch e.Type {
	case StoreErrorTypeNotFound, StoreErrorTypeDecode:
		return target == ErrTourNotFound
	}
	return false
}

func newStoreError(errType StoreErrorType, message, key string, cause error) *StoreError {
	return &StoreError{
		Type:    errType,
		Message: message,
		Key:     key,
		Cause:   cause,
	}
}
