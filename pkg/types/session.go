package types

// State is a session's position in the lifecycle state machine.
type State string

const (
	StateCreated    State = "created"
	StateStarting   State = "starting"
	StateActive     State = "active"
	StatePaused     State = "paused"
	StateError      State = "error"
	StateTerminated State = "terminated"
)

// PermissionMode governs automatic tool-use approval for a session.
type PermissionMode string

const (
	ModeDefault           PermissionMode = "default"
	ModeAcceptEdits       PermissionMode = "acceptEdits"
	ModePlan              PermissionMode = "plan"
	ModeBypassPermissions PermissionMode = "bypassPermissions"
)

// SandboxConfig carries opaque sandbox hints passed through to the SDK.
type SandboxConfig struct {
	Enabled     bool     `json:"enabled"`
	AllowedDirs []string `json:"allowedDirs,omitempty"`
	NetworkMode string   `json:"networkMode,omitempty"`
}

// Session is one long-running minion conversation.
type Session struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectID"`
	Directory string `json:"directory"`
	Name      string `json:"name"`

	State State `json:"state"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`

	ResumeToken *string `json:"resumeToken,omitempty"`

	PermissionMode  PermissionMode `json:"permissionMode"`
	AllowedTools    []string       `json:"allowedTools,omitempty"`
	DisallowedTools []string       `json:"disallowedTools,omitempty"`

	SystemPrompt         string `json:"systemPrompt,omitempty"`
	SystemPromptOverride bool   `json:"systemPromptOverride"`
	Model                string `json:"model,omitempty"`

	Processing bool `json:"processing"`

	ParentID      *string  `json:"parentID,omitempty"`
	OverseerLevel int      `json:"overseerLevel"`
	IsOverseer    bool     `json:"isOverseer"`
	ChildIDs      []string `json:"childIDs,omitempty"`
	HordeID       *string  `json:"hordeID,omitempty"`

	Capabilities []string `json:"capabilities,omitempty"`
	ChannelIDs   []string `json:"channelIDs,omitempty"`

	Sandbox       SandboxConfig `json:"sandbox"`
	SettingSource string        `json:"settingSource,omitempty"`
}

// HasCapability reports whether the session advertises keyword.
func (s *Session) HasCapability(keyword string) bool {
	for _, c := range s.Capabilities {
		if c == keyword {
			return true
		}
	}
	return false
}

// InChannel reports whether the session belongs to channelID.
func (s *Session) InChannel(channelID string) bool {
	for _, c := range s.ChannelIDs {
		if c == channelID {
			return true
		}
	}
	return false
}
