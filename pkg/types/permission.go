package types

// PermissionDecision is the UI's verdict on a permission request.
type PermissionDecision string

const (
	DecisionAllow PermissionDecision = "allow"
	DecisionDeny  PermissionDecision = "deny"
)

// Suggestion is a rule addition or mode change offered alongside a
// permission request, either synthesized by the broker (e.g. the
// ExitPlanMode setMode injection) or proposed by the SDK.
type Suggestion struct {
	Type        string  `json:"type"` // "addRules" | "setMode"
	Behavior    string  `json:"behavior,omitempty"` // "allow" | "deny", for addRules
	Rules       []Rule  `json:"rules,omitempty"`
	Mode        string  `json:"mode,omitempty"`
	Destination string  `json:"destination,omitempty"` // "session" | "minion"
}

// Rule is one concrete tool/ruleContent pair, persisted as the literal
// string "toolName(ruleContent)" in a session's allowed-tools set.
type Rule struct {
	ToolName   string `json:"toolName"`
	RuleContent string `json:"ruleContent"`
}

// String renders the rule in its persisted wildcard-pattern form.
func (r Rule) String() string {
	return r.ToolName + "(" + r.RuleContent + ")"
}

// PermissionRequest is emitted when the SDK invokes its tool-permission
// hook.
type PermissionRequest struct {
	RequestID   string         `json:"requestID"`
	SessionID   string         `json:"sessionID"`
	ToolName    string         `json:"toolName"`
	Input       map[string]any `json:"input"`
	Suggestions []Suggestion   `json:"suggestions,omitempty"`
	Timestamp   float64        `json:"timestamp"`
}

// PermissionResponse is the correlated reply from the UI.
type PermissionResponse struct {
	RequestID            string         `json:"requestID"`
	Decision             PermissionDecision `json:"decision"`
	ClarificationMessage *string        `json:"clarificationMessage,omitempty"`
	Interrupt            bool           `json:"interrupt,omitempty"`
	SelectedSuggestions  []Suggestion   `json:"selectedSuggestions,omitempty"`
	UpdatedInput         map[string]any `json:"updatedInput,omitempty"`
	LatencyMS            int64          `json:"latencyMS"`
}

// SDKDecision is what the broker hands back to the SDK's permission hook.
type SDKDecision struct {
	Behavior        string         `json:"behavior"` // "allow" | "deny"
	Message         string         `json:"message,omitempty"`
	Interrupt       *bool          `json:"interrupt,omitempty"`
	UpdatedInput    map[string]any `json:"updatedInput,omitempty"`
	UpdatedPermissions any         `json:"updatedPermissions,omitempty"`
}
