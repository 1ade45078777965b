package gazodb

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateImage is returned when the same source post attachment was already added.
	ErrDuplicateImage = errors.New("image already added")

	// ErrInvalidReason is returned when an image is rejected without a reason.
	ErrInvalidReason = errors.New("rejecting an image requires a reason")

	// ErrNoEligibleImage means there is currently nothing to post. This is a normal condition, not a fault.
	ErrNoEligibleImage = errors.New("no image eligible for posting")

	ErrImageNotFound = errors.New("image not found")

	ErrSnapshotUnsupported = errors.New("snapshots are only supported for sqlite databases")
)

// StorageError wraps a failure of the database or the blob directory.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %s", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// wrapStorage passes the package's own errors through and wraps everything else in a StorageError.
func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	switch {
	case errors.As(err, &se),
		errors.Is(err, ErrDuplicateImage),
		errors.Is(err, ErrInvalidReason),
		errors.Is(err, ErrNoEligibleImage),
		errors.Is(err, ErrImageNotFound):
		return err
	}
	return &StorageError{Op: op, Err: err}
}
