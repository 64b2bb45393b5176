package authz

import (
	"slices"
	"sync"

	"github.com/xbcsmith/xzepr/internal/authz/opa"
)

const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionList   = "list"
)

const (
	RoleNameAdmin        = "admin"
	RoleNameEventManager = "event_manager"
	RoleNameEventViewer  = "event_viewer"
	RoleNameUser         = "user"
)

// Permission is "<resource_type>:<action>".
type Permission string

func PermissionFor(resourceType, action string) Permission {
	return Permission(resourceType + ":" + action)
}

type Role struct {
	Name        string
	Permissions []Permission
}

func permissions(resourceTypes []string, actions ...string) []Permission {
	var out []Permission
	for _, rt := range resourceTypes {
		for _, a := range actions {
			out = append(out, PermissionFor(rt, a))
		}
	}
	return out
}

var resourceTypes = []string{
	opa.ResourceTypeEventReceiver,
	opa.ResourceTypeEventReceiverGroup,
	opa.ResourceTypeEvent,
}

var (
	RoleAdmin = Role{
		Name:        RoleNameAdmin,
		Permissions: permissions(resourceTypes, ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionList),
	}

	RoleEventManager = Role{
		Name: RoleNameEventManager,
		Permissions: append(
			permissions(resourceTypes[:2], ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionList),
			permissions(resourceTypes[2:], ActionCreate, ActionRead, ActionDelete, ActionList)...,
		),
	}

	RoleEventViewer = Role{
		Name:        RoleNameEventViewer,
		Permissions: permissions(resourceTypes, ActionRead, ActionList),
	}

	RoleUser = Role{
		Name:        RoleNameUser,
		Permissions: permissions(resourceTypes, ActionCreate, ActionList),
	}
)

// RBAC is the static role table used when the policy service is disabled or
// unreachable.
type RBAC struct {
	mu    sync.RWMutex
	roles map[string]Role
}

func NewRBAC() *RBAC {
	r := &RBAC{roles: make(map[string]Role)}
	for _, role := range []Role{RoleAdmin, RoleEventManager, RoleEventViewer, RoleUser} {
		r.roles[role.Name] = role
	}
	return r
}

func (r *RBAC) DefineRole(role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role.Name] = role
}

func (r *RBAC) RoleNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *RBAC) IsRole(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.roles[name]
	return ok
}

func (r *RBAC) HasPermission(roles []string, permission Permission) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range roles {
		role, ok := r.roles[name]
		if !ok {
			continue
		}
		if slices.Contains(role.Permissions, permission) {
			return true
		}
	}
	return false
}

// Decide applies the role table plus the owner and group-member shortcuts.
func (r *RBAC) Decide(user opa.UserContext, action string, res opa.ResourceContext) (bool, string) {
	if r.HasPermission(user.Roles, PermissionFor(res.ResourceType, action)) {
		return true, "granted by role"
	}

	if res.OwnerID != "" && res.OwnerID == user.UserID {
		switch action {
		case ActionRead, ActionUpdate, ActionDelete:
			if r.HasPermission(user.Roles, PermissionFor(res.ResourceType, ActionCreate)) {
				return true, "resource owner"
			}
		}
	}

	if slices.Contains(res.Members, user.UserID) {
		switch {
		case action == ActionRead:
			return true, "group member"
		case res.ResourceType == opa.ResourceTypeEvent && action == ActionCreate:
			return true, "group member"
		}
	}

	return false, "no matching permission"
}
