package opa

type UserContext struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Groups   []string `json:"groups"`
}

type ResourceContext struct {
	ResourceType    string   `json:"resource_type"`
	ResourceID      string   `json:"resource_id,omitempty"`
	OwnerID         string   `json:"owner_id,omitempty"`
	GroupID         string   `json:"group_id,omitempty"`
	Members         []string `json:"members"`
	ResourceVersion int64    `json:"resource_version"`
}

type PolicyInput struct {
	User     UserContext     `json:"user"`
	Action   string          `json:"action"`
	Resource ResourceContext `json:"resource"`
}

// Decision is the policy outcome. Allow=false is a successful evaluation.
type Decision struct {
	Allow    bool           `json:"allow"`
	Reason   string         `json:"reason,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Cached is set when the decision was served from the authorization cache.
	Cached bool `json:"-"`
}

const cachedDecisionReason = "Cached decision"

type evaluateRequest struct {
	Input PolicyInput `json:"input"`
}

type evaluateResponse struct {
	Result *Decision `json:"result"`
}
