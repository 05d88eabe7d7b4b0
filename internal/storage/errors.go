package storage

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("object not found")
	ErrTransient = errors.New("object store unavailable")
)

// ObjectError reports a failed fetch. Kind is ErrNotFound or ErrTransient;
// Cause is the backend error, if any.
type ObjectError struct {
	Key   string
	Kind  error
	Cause error
}

func (e *ObjectError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("fetch object %q: %v", e.Key, e.Kind)
	}
	return fmt.Sprintf("fetch object %q: %v: %v", e.Key, e.Kind, e.Cause)
}

func (e *ObjectError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func notFound(key string, cause error) error {
	return &ObjectError{Key: key, Kind: ErrNotFound, Cause: cause}
}

func transient(key string, cause error) error {
	return &ObjectError{Key: key, Kind: ErrTransient, Cause: cause}
}
