package dispatch

import (
	"context"
	"fmt"
	"sync"

	wsErrors "github.com/studyroomhq/workspace-kit/errors"
)

// Authorizer answers "may this caller mutate this workspace". Authorization
// mechanics live outside the engine; the dispatcher only needs a yes or a
// typed no.
type Authorizer interface {
	Authorize(ctx context.Context, userID, workspaceID string) error
}

// Role is a collaborator's access level on a workspace.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// canMutate reports whether the role permits workspace mutation.
func (r Role) canMutate() bool {
	return r == RoleOwner || r == RoleEditor
}

// AllowAll authorizes any identified caller. Used in local single-user mode
// and tests; it still rejects anonymous calls.
type AllowAll struct{}

func (AllowAll) Authorize(_ context.Context, userID, _ string) error {
	if userID == "" {
		return wsErrors.NewAuthenticationError(wsErrors.OpAuthorize, fmt.Errorf("caller identity is required"))
	}
	return nil
}

// ACL is an in-memory role table: workspace id to user id to role.
type ACL struct {
	mu     sync.RWMutex
	grants map[string]map[string]Role
}

var _ Authorizer = (*ACL)(nil)

// NewACL creates an empty ACL.
func NewACL() *ACL {
	return &ACL{grants: make(map[string]map[string]Role)}
}

// Grant records a user's role on a workspace, replacing any previous role.
func (a *ACL) Grant(workspaceID, userID string, role Role) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.grants[workspaceID] == nil {
		a.grants[workspaceID] = make(map[string]Role)
	}
	a.grants[workspaceID][userID] = role
}

// Authorize implements Authorizer. Anonymous callers fail authentication;
// unknown users and viewers fail authorization.
func (a *ACL) Authorize(_ context.Context, userID, workspaceID string) error {
	if userID == "" {
		return wsErrors.NewAuthenticationError(wsErrors.OpAuthorize, fmt.Errorf("caller identity is required"))
	}

	a.mu.RLock()
	role, ok := a.grants[workspaceID][userID]
	a.mu.RUnlock()

	if !ok {
		return wsErrors.NewAuthorizationError(wsErrors.OpAuthorize, fmt.Errorf("user %q has no access to workspace %q", userID, workspaceID))
	}
	if !role.canMutate() {
		return wsErrors.NewAuthorizationError(wsErrors.OpAuthorize, fmt.Errorf("user %q has %s access to workspace %q, editor or owner is required", userID, role, workspaceID))
	}
	return nil
}
