// Package binding reconciles declared role grants against the provider:
// it derives a stable identifier per (scope, principal, role) triple and
// ensures the assignment exists, never duplicating one that already does.
package binding

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bollard-dev/bollard/pkg/declaration"
	"github.com/bollard-dev/bollard/pkg/provider"
)

// grantNamespace is the fixed namespace for grant identifiers. Grant
// IDs must be stable across runs and across engine implementations, so
// both the namespace and the encoding below are part of the contract
// and must never change.
var grantNamespace = uuid.MustParse("5a1bda3f-86b2-4b60-a742-3e1bfa5c4d9e")

// GrantID derives the deterministic identifier for a role assignment.
// The encoding is a name-based UUID (RFC 4122, SHA-1) over the
// lowercased canonical tuple "scope|principal|roleDefinition". Any
// change to scope, principal or role yields a different identifier;
// identical triples always produce the same one, which is what makes
// re-application converge instead of accumulating duplicates.
func GrantID(scopeID, principalID, roleDefinitionID string) string {
	canonical := strings.ToLower(scopeID) + "|" + strings.ToLower(principalID) + "|" + strings.ToLower(roleDefinitionID)
	return uuid.NewSHA1(grantNamespace, []byte(canonical)).String()
}

// Resolver turns grant specs into provider role assignments.
type Resolver struct {
	provider provider.Provider
	logger   *zap.Logger
}

// NewResolver creates a binding resolver.
func NewResolver(p provider.Provider, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{provider: p, logger: logger}
}

// Resolve builds the fully resolved assignment for a grant: role name
// mapped to its definition ID, grant ID derived from the canonical
// triple.
func (r *Resolver) Resolve(name, principalID, principalType, roleName, scopeID string) (provider.Assignment, error) {
	if principalID == "" {
		return provider.Assignment{}, fmt.Errorf("grant %q: principal is empty", name)
	}
	if scopeID == "" {
		return provider.Assignment{}, fmt.Errorf("grant %q: scope has no id", name)
	}

	switch declaration.PrincipalType(principalType) {
	case declaration.PrincipalTypeUser, declaration.PrincipalTypeGroup, declaration.PrincipalTypeServicePrincipal:
	default:
		return provider.Assignment{}, fmt.Errorf("grant %q: invalid principal type %q", name, principalType)
	}

	role, err := RoleByName(roleName)
	if err != nil {
		return provider.Assignment{}, fmt.Errorf("grant %q: %w", name, err)
	}

	return provider.Assignment{
		ID:               GrantID(scopeID, principalID, role.ID),
		ScopeID:          scopeID,
		PrincipalID:      principalID,
		PrincipalType:    principalType,
		RoleDefinitionID: role.ID,
	}, nil
}

// Ensure reconciles one assignment: create if absent, confirm if
// present. Idempotent by construction of the assignment ID.
func (r *Resolver) Ensure(ctx context.Context, a provider.Assignment) (provider.AssignmentStatus, error) {
	status, err := r.provider.EnsureRoleAssignment(ctx, a)
	if err != nil {
		return "", err
	}
	r.logger.Debug("role assignment ensured",
		zap.String("assignment", a.ID),
		zap.String("scope", a.ScopeID),
		zap.String("principal", a.PrincipalID),
		zap.String("status", string(status)))
	return status, nil
}

// ValidateRoles checks every grant's role name and, where statically
// known, its principal type. Runs before any provider call.
func ValidateRoles(decl *declaration.Declaration) error {
	for i := range decl.Grants {
		if _, err := RoleByName(decl.Grants[i].Role); err != nil {
			return fmt.Errorf("grant %q: %w", decl.Grants[i].Name, err)
		}
	}
	return nil
}
