package types

// CommType classifies a Comm's intent.
type CommType string

const (
	CommTask     CommType = "task"
	CommQuestion CommType = "question"
	CommReport   CommType = "report"
	CommInfo     CommType = "info"
	CommHalt     CommType = "halt"
	CommPivot    CommType = "pivot"
	CommThought  CommType = "thought"
	CommSpawn    CommType = "spawn"
	CommDispose  CommType = "dispose"
	CommSystem   CommType = "system"
)

// CommPriority is the interrupt priority carried by a Comm.
type CommPriority string

const (
	PriorityRoutine  CommPriority = "routine"
	PriorityImportant CommPriority = "important"
	PriorityPivot    CommPriority = "pivot"
	PriorityCritical CommPriority = "critical"
)

// SystemSenderID is the reserved sender used for synthetic error comms
// emitted by the router itself.
const SystemSenderID = "system"

// UserDestination is the reserved destination/source value denoting the
// human user rather than a minion or channel.
const UserDestination = "user"

// Comm is a single high-level inter-agent or user<->agent message.
// Source holds either a minion sid or UserDestination, and exactly one
// of ToMinionID/ToChannelID/ToUser is set.
type Comm struct {
	ID string `json:"id"`

	// Source is either UserDestination or a minion sid.
	Source     string  `json:"source"`
	SourceName *string `json:"sourceName,omitempty"`

	// Destination is one of: UserDestination, a minion sid (ToMinionID),
	// or a channel (ToChannelID). Exactly one is set at a time.
	ToMinionID   *string `json:"toMinionID,omitempty"`
	ToChannelID  *string `json:"toChannelID,omitempty"`
	ToUser       bool    `json:"toUser,omitempty"`
	RecipientName *string `json:"recipientName,omitempty"`

	Summary string   `json:"summary"`
	Content string   `json:"content"`
	Type    CommType `json:"type"`

	Priority CommPriority `json:"priority"`

	InReplyTo *string        `json:"inReplyTo,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	VisibleToUser bool `json:"visibleToUser"`

	Timestamp float64 `json:"timestamp"`
}

// IsChannelBroadcast reports whether the comm targets a channel.
func (c *Comm) IsChannelBroadcast() bool {
	return c.ToChannelID != nil
}
