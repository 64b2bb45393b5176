package users

import "errors"

// Permissions is what the service stores about a user beyond the token:
// granted roles and receiver group memberships.
type Permissions struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	Groups []string `json:"groups"`
}

type RoleRequest struct {
	Role string `json:"role"`
}

func (r *RoleRequest) Validate() error {
	if r.Role == "" {
		return errors.New("role is required")
	}
	return nil
}

type GroupRequest struct {
	GroupID string `json:"group_id"`
}

func (r *GroupRequest) Validate() error {
	if r.GroupID == "" {
		return errors.New("group_id is required")
	}
	return nil
}
