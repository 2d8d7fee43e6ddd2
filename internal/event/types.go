package event

import "github.com/minionctl/orchestrator/pkg/types"

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	Info *types.Session `json:"info"`
}

// SessionUpdatedData is the data for session.updated events.
type SessionUpdatedData struct {
	Info *types.Session `json:"info"`
}

// SessionDeletedData is the data for session.deleted events.
type SessionDeletedData struct {
	Info *types.Session `json:"info"`
}

// SessionStateChangedData is the data for session.state_changed events.
type SessionStateChangedData struct {
	SessionID string     `json:"sessionID"`
	From      types.State `json:"from"`
	To        types.State `json:"to"`
}

// MessageAppendedData is the data for message.appended events, carrying
// a single transcript record as it is persisted to a session's log.
type MessageAppendedData struct {
	SessionID string              `json:"sessionID"`
	Record    *types.MessageRecord `json:"record"`
}

// PermissionRequiredData is the data for permission.required events.
type PermissionRequiredData struct {
	Request *types.PermissionRequest `json:"request"`
}

// PermissionResolvedData is the data for permission.resolved events.
type PermissionResolvedData struct {
	RequestID string                  `json:"requestID"`
	SessionID string                  `json:"sessionID"`
	Decision  types.PermissionDecision `json:"decision"`
}

// CommSentData is the data for comm.sent events.
type CommSentData struct {
	Comm *types.Comm `json:"comm"`
}

// QueueItemAddedData is the data for queue.item_added events.
type QueueItemAddedData struct {
	Item *types.QueueItem `json:"item"`
}

// QueueItemUpdatedData is the data for queue.item_updated events.
type QueueItemUpdatedData struct {
	Item *types.QueueItem `json:"item"`
}

// ChannelUpdatedData is the data for channel.updated events.
type ChannelUpdatedData struct {
	Channel *types.Channel `json:"channel"`
}

// ScheduleFiredData is the data for schedule.fired events.
type ScheduleFiredData struct {
	Execution *types.ScheduleExecution `json:"execution"`
}

// ScheduleUpdatedData is the data for schedule.updated events.
type ScheduleUpdatedData struct {
	Schedule *types.Schedule `json:"schedule"`
}

// ToolCallUpdatedData is the data for tool_call.updated events. The
// Message Processor emits one with state pending when it classifies a
// tool_use, and one with state completed or failed when the matching
// tool_result arrives; the awaiting_permission, running and denied
// states are not emitted.
type ToolCallUpdatedData struct {
	ToolCall *types.ToolCall `json:"toolCall"`
}
