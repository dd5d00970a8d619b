package silo

import (
	"fmt"
	"strings"
)

// InvalidSpecError means a resource specification is malformed.
type InvalidSpecError struct {
	Resource string
	Field    string
	Reason   string
}

func (e InvalidSpecError) Error() string {
	return fmt.Sprintf("invalid resource spec %q: field %q: %s", e.Resource, e.Field, e.Reason)
}

// DuplicateResourceError means the name is already registered.
type DuplicateResourceError struct {
	Resource string
}

func (e DuplicateResourceError) Error() string {
	return fmt.Sprintf("duplicate resource: %q", e.Resource)
}

// ReservedNameError means the name collides with a container operation.
type ReservedNameError struct {
	Resource string
}

func (e ReservedNameError) Error() string {
	return fmt.Sprintf("resource name %q collides with a container operation", e.Resource)
}

// MissingDependencyError means a declared dependency is not registered.
type MissingDependencyError struct {
	Resource   string
	Dependency string
}

func (e MissingDependencyError) Error() string {
	return fmt.Sprintf("resource %q depends on unregistered resource %q", e.Resource, e.Dependency)
}

// UnloadableDependencyError means an external requirement failed its probe.
type UnloadableDependencyError struct {
	Resource    string
	Requirement string
	Err         error
}

func (e UnloadableDependencyError) Error() string {
	return fmt.Sprintf("resource %q requirement %q is not loadable: %v", e.Resource, e.Requirement, e.Err)
}

func (e UnloadableDependencyError) Unwrap() error {
	return e.Err
}

// UnknownResourceError means an access referenced an unregistered name.
type UnknownResourceError struct {
	Resource string
}

func (e UnknownResourceError) Error() string {
	return fmt.Sprintf("unknown resource: %q", e.Resource)
}

// ArgumentTypeError means the supplied argument is not a scalar.
type ArgumentTypeError struct {
	Resource string
	Got      string
}

func (e ArgumentTypeError) Error() string {
	return fmt.Sprintf("resource %q argument must be a scalar, got %s", e.Resource, e.Got)
}

// ArgumentValidationError means the argument was rejected by the
// resource's validator.
type ArgumentValidationError struct {
	Resource string
	Argument string
}

func (e ArgumentValidationError) Error() string {
	return fmt.Sprintf("resource %q rejects argument %q", e.Resource, e.Argument)
}

// CircularDependencyError means a resolution chain re-entered a key
// already being resolved on the same chain.
type CircularDependencyError struct {
	Key     string
	Pending []string // sorted keys in flight when the cycle was detected
}

func (e CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency on resource %s (pending: %s)",
		e.Key, strings.Join(e.Pending, ", "))
}

// LockedModeError means a non-derived, non-overridden resource was
// requested while the container is locked.
type LockedModeError struct {
	Resource string
}

func (e LockedModeError) Error() string {
	return fmt.Sprintf("resource %q requested while container is locked", e.Resource)
}

// TeardownInProgressError means instantiation was attempted after
// cleanup had begun.
type TeardownInProgressError struct {
	Resource string
}

func (e TeardownInProgressError) Error() string {
	return fmt.Sprintf("resource %q requested after container teardown began", e.Resource)
}

// InvalidCacheValueError means a SetCache payload had an unsupported shape.
type InvalidCacheValueError struct {
	Resource string
	Reason   string
}

func (e InvalidCacheValueError) Error() string {
	return fmt.Sprintf("invalid cache payload for resource %q: %s", e.Resource, e.Reason)
}

// TypeMismatchError means GetAs/FreshAs failed to cast the instance.
type TypeMismatchError struct {
	Resource string
	Expected string
	Actual   string
}

func (e TypeMismatchError) Error() string {
	return fmt.Sprintf("resource type mismatch for %q: expected=%s actual=%s",
		e.Resource, e.Expected, e.Actual)
}
