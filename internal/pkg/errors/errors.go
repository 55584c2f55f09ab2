package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalid         = errors.New("invalid")
	ErrConflict        = errors.New("conflict")
	ErrTooMany         = errors.New("too many requests")
	ErrInternal        = errors.New("internal")
	ErrPersistence     = errors.New("persistence fault")
	ErrUnavailable     = errors.New("generator unavailable")
	ErrGeneratorFailed = errors.New("generator failed")
)

// ConflictError reports an expected-version mismatch together with the head that won.
type ConflictError struct {
	ExpectedVersion int    `json:"expected_version"`
	CurrentVersion  int    `json:"current_version"`
	LastEditor      string `json:"last_editor"`
	LastModified    int64  `json:"last_modified"`
	ChangeSummary   string `json:"change_summary"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, current %d (last edited by %s)", e.ExpectedVersion, e.CurrentVersion, e.LastEditor)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// PersistenceFault marks err as a backing store failure. Nil stays nil.
func PersistenceFault(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// AsConflict extracts the conflict details from err, if any.
func AsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}
