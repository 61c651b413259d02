package library

import "fmt"

// ErrNameTooShort reports a candidate bundle name below MinNameLength.
type ErrNameTooShort struct {
	Name string
	Min  int
}

func (e *ErrNameTooShort) Error() string {
	return fmt.Sprintf("name %q is too short: at least %d characters required", e.Name, e.Min)
}

// ErrNameExists reports that a bundle with the candidate name is already
// present next to the source bundle.
type ErrNameExists struct {
	Name string
	Path string
}

func (e *ErrNameExists) Error() string {
	return fmt.Sprintf("a bundle named %q already exists at %s", e.Name, e.Path)
}

// ErrNameInvalid reports a candidate name that cannot be used as a
// single path component.
type ErrNameInvalid struct {
	Name   string
	Reason string
}

func (e *ErrNameInvalid) Error() string {
	return fmt.Sprintf("invalid name %q: %s", e.Name, e.Reason)
}

// ErrMutation wraps a filesystem failure from a structural operation.
type ErrMutation struct {
	Op    string
	Path  string
	Cause error
}

func (e *ErrMutation) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Cause)
}

func (e *ErrMutation) Unwrap() error { return e.Cause }
