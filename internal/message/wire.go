package message

import "encoding/json"

// ContentBlock is one block of an assistant/user message's content
// array: free text, a tool use, a tool result, or a thinking block.
type ContentBlock struct {
	Type string `json:"type"`

	Text      string `json:"text,omitempty"`
	Thinking  string `json:"thinking,omitempty"`

	// tool_use fields.
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result fields.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Payload is the inner "message" object of an assistant/user wire
// message.
type Payload struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// AssistantMessage is the SDK's free-text-plus-tool-uses turn.
type AssistantMessage struct {
	Type      string  `json:"type"`
	Message   Payload `json:"message"`
	SessionID string  `json:"session_id"`
}

// Text concatenates every text block in the message.
func (a *AssistantMessage) Text() string {
	var out string
	for _, b := range a.Message.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns every tool_use block in the message.
func (a *AssistantMessage) ToolUses() []ContentBlock {
	var out []ContentBlock
	for _, b := range a.Message.Content {
		if b.Type == "tool_use" {
			out = append(out, b)
		}
	}
	return out
}

// UserMessage is either plain text echoed by the SDK, or a transport
// shell for one or more tool_result entries.
type UserMessage struct {
	Type      string  `json:"type"`
	Message   Payload `json:"message"`
	SessionID string  `json:"session_id"`
}

// ToolResults returns every tool_result block in the message.
func (u *UserMessage) ToolResults() []ContentBlock {
	var out []ContentBlock
	for _, b := range u.Message.Content {
		if b.Type == "tool_result" {
			out = append(out, b)
		}
	}
	return out
}

// Result is the turn terminator the SDK emits once per prompt.
type Result struct {
	Type          string  `json:"type"`
	Subtype       string  `json:"subtype"`
	DurationMS    int64   `json:"duration_ms"`
	DurationAPIMS int64   `json:"duration_api_ms"`
	IsError       bool    `json:"is_error"`
	NumTurns      int     `json:"num_turns"`
	Result        string  `json:"result"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
	SessionID     string  `json:"session_id"`
}

// SystemMessage carries out-of-band status: session init, CLI version,
// tool inventory, permission mode snapshot.
type SystemMessage struct {
	Type              string   `json:"type"`
	Subtype           string   `json:"subtype"` // "init" | "status" | ...
	SessionID         string   `json:"session_id"`
	CWD               string   `json:"cwd,omitempty"`
	Model             string   `json:"model,omitempty"`
	Tools             []string `json:"tools,omitempty"`
	PermissionMode    string   `json:"permission_mode,omitempty"`
	ClaudeCodeVersion string   `json:"claude_code_version,omitempty"`
}

// discriminator peeks at a raw line's "type" field without committing to
// a concrete shape.
type discriminator struct {
	Type string `json:"type"`
}

// Event is the union the SDK Adapter decodes every stdout line into
// before handing it to the Processor. Exactly one of the typed fields
// is set, matching discriminator.Type; Raw is always set.
type Event struct {
	Type      string
	Assistant *AssistantMessage
	User      *UserMessage
	Result    *Result
	System    *SystemMessage
	Raw       json.RawMessage
}

// ParseLine decodes one JSONL line from the SDK subprocess into an
// Event, dispatching on its "type" discriminator.
func ParseLine(line []byte) (Event, error) {
	var d discriminator
	if err := json.Unmarshal(line, &d); err != nil {
		return Event{}, err
	}
	ev := Event{Type: d.Type, Raw: append(json.RawMessage(nil), line...)}
	switch d.Type {
	case "assistant":
		var a AssistantMessage
		if err := json.Unmarshal(line, &a); err != nil {
			return Event{}, err
		}
		ev.Assistant = &a
	case "user":
		var u UserMessage
		if err := json.Unmarshal(line, &u); err != nil {
			return Event{}, err
		}
		ev.User = &u
	case "result":
		var r Result
		if err := json.Unmarshal(line, &r); err != nil {
			return Event{}, err
		}
		ev.Result = &r
	case "system":
		var s SystemMessage
		if err := json.Unmarshal(line, &s); err != nil {
			return Event{}, err
		}
		ev.System = &s
	}
	return ev, nil
}
