// Package provider defines the abstraction the engine provisions
// through. Implementations must be idempotent: applying the same
// resource or role assignment twice with identical inputs converges on
// the same remote state.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// ResourceRef identifies a resource by declaration type and name.
type ResourceRef struct {
	Type string
	Name string
}

func (r ResourceRef) String() string {
	return fmt.Sprintf("%s/%s", r.Type, r.Name)
}

// Outputs are the computed properties a resource exposes once applied:
// endpoints, generated identifiers, identity principal IDs.
type Outputs map[string]any

// AssignmentStatus is the outcome of an EnsureRoleAssignment call.
type AssignmentStatus string

const (
	// StatusCreated means the role assignment did not exist and was created
	StatusCreated AssignmentStatus = "created"

	// StatusAlreadyExists means an identical assignment was already in place
	StatusAlreadyExists AssignmentStatus = "already-exists"
)

// Assignment is a fully resolved role grant. ID is deterministic over
// (scope, principal, role), so re-applying an unchanged declaration
// addresses the same remote assignment.
type Assignment struct {
	// ID is the deterministic assignment identifier
	ID string

	// ScopeID is the resource identifier the role is granted over
	ScopeID string

	// PrincipalID is the object ID of the principal receiving the role
	PrincipalID string

	// PrincipalType is User, Group or ServicePrincipal
	PrincipalType string

	// RoleDefinitionID is the built-in role definition identifier
	RoleDefinitionID string
}

// Provider applies resources and role assignments. Both operations are
// idempotent given identical inputs and classify their failures as
// transient or permanent via *Error.
type Provider interface {
	// ApplyResource materializes a resource and returns its outputs
	ApplyResource(ctx context.Context, ref ResourceRef, config map[string]any) (Outputs, error)

	// EnsureRoleAssignment creates the assignment if absent
	EnsureRoleAssignment(ctx context.Context, a Assignment) (AssignmentStatus, error)
}

// Error is a classified provider failure. Transient errors (throttling,
// timeouts, server faults) are retried with backoff; permanent errors
// (invalid configuration, quota denials) fail the node immediately.
type Error struct {
	Code      string
	Message   string
	Transient bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewTransient creates a retryable provider error.
func NewTransient(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Transient: true, Cause: cause}
}

// NewPermanent creates a non-retryable provider error.
func NewPermanent(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// IsTransient reports whether err is a provider error classified as
// transient. Unclassified errors are treated as permanent.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}
