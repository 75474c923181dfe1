package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/memorymesh/integrations/core"
)

var ErrOrgNotResolved = errors.New("identity: org not resolved")

type OrgNotResolvedError struct {
	Cause error
}

func (e *OrgNotResolvedError) Error() string {
	if e == nil || e.Cause == nil {
		return ErrOrgNotResolved.Error()
	}
	return ErrOrgNotResolved.Error() + ": " + e.Cause.Error()
}

func (e *OrgNotResolvedError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Cause == nil {
		return ErrOrgNotResolved
	}
	return errors.Join(ErrOrgNotResolved, e.Cause)
}

func (e *OrgNotResolvedError) ToEngineError() *goerrors.Error {
	message := ErrOrgNotResolved.Error()
	if e != nil && e.Cause != nil {
		message = e.Error()
	}
	return goerrors.New(message, goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(core.EngineErrorNotFound)
}

func orgNotResolved(cause error) error {
	return &OrgNotResolvedError{Cause: cause}
}

// MembershipResolver maps a connection scope to the organization that synced
// content should be attributed to. Org scopes resolve to themselves; user
// scopes resolve through the user's first organization membership and fall
// back to empty, meaning personal-only content.
type MembershipResolver struct {
	memberships core.MembershipStore
}

func NewMembershipResolver(memberships core.MembershipStore) *MembershipResolver {
	return &MembershipResolver{memberships: memberships}
}

func (r *MembershipResolver) ResolveOrg(ctx context.Context, scope core.ScopeRef) (string, error) {
	if r == nil {
		return "", fmt.Errorf("identity: resolver is not configured")
	}
	if err := scope.Validate(); err != nil {
		return "", err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	switch core.ScopeType(strings.TrimSpace(strings.ToLower(scope.Type))) {
	case core.ScopeTypeOrg:
		return strings.TrimSpace(scope.ID), nil
	case core.ScopeTypeUser:
		if r.memberships == nil {
			return "", nil
		}
		orgID, found, err := r.memberships.FirstOrgForUser(ctx, strings.TrimSpace(scope.ID))
		if err != nil {
			return "", orgNotResolved(err)
		}
		if !found {
			return "", nil
		}
		return strings.TrimSpace(orgID), nil
	default:
		return "", fmt.Errorf("%w: %q", core.ErrInvalidScopeType, scope.Type)
	}
}

var _ core.OrgResolver = (*MembershipResolver)(nil)
