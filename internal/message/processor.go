// Package message implements the Message Processor half of the message
// pipeline: it classifies raw SDK wire events into storage/transport
// projections, tracks tool calls across their life cycle, and resets a
// session out of plan mode once ExitPlanMode completes without a
// setMode suggestion having taken hold.
package message

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/minionctl/orchestrator/internal/event"
	"github.com/minionctl/orchestrator/pkg/types"
)

// ModeGateway is the narrow session-mutation slice the processor needs
// to reset a session's permission mode off ExitPlanMode completion.
// *internal/session.Manager satisfies this without modification.
type ModeGateway interface {
	Get(sid string) (*types.Session, error)
	Mutate(ctx context.Context, sid string, fn func(*types.Session)) (*types.Session, error)
}

type pendingTool struct {
	name  string
	input map[string]any
}

// Processor classifies raw SDK events into MessageRecord projections,
// maintaining a per-session tool-use-id -> tool-name dictionary so a
// later tool_result can be matched back to the call it answers.
type Processor struct {
	mu      sync.Mutex
	pending map[string]map[string]pendingTool // sessionID -> toolUseID -> pendingTool
	gateway ModeGateway
}

// NewProcessor creates an empty Processor.
func NewProcessor() *Processor {
	return &Processor{pending: make(map[string]map[string]pendingTool)}
}

// SetModeGateway wires the session-state dependency; nil disables the
// ExitPlanMode mode-reset side effect.
func (p *Processor) SetModeGateway(g ModeGateway) { p.gateway = g }

// Classify projects one raw SDK event belonging to session sid into its
// storage shape, driving tool-call tracking and the plan-mode reset as
// a side effect.
func (p *Processor) Classify(ctx context.Context, sid string, ev Event) *types.MessageRecord {
	ts := nowSeconds()
	switch ev.Type {
	case "assistant":
		return p.classifyAssistant(sid, ts, ev.Assistant)
	case "user":
		return p.classifyUser(ctx, sid, ts, ev.User)
	case "result":
		return p.classifyResult(sid, ts, ev.Result)
	case "system":
		return p.classifySystem(sid, ts, ev.System)
	default:
		return &types.MessageRecord{Type: types.MessageSystem, SessionID: sid, Timestamp: ts, Content: string(ev.Raw)}
	}
}

func (p *Processor) classifyAssistant(sid string, ts float64, a *AssistantMessage) *types.MessageRecord {
	meta := map[string]any{}
	var toolUses []map[string]any
	for _, tu := range a.ToolUses() {
		p.rememberTool(sid, tu.ID, tu.Name, tu.Input)
		toolUses = append(toolUses, map[string]any{"id": tu.ID, "name": tu.Name, "input": tu.Input})
		p.emitToolCall(sid, tu.ID, tu.Name, tu.Input, types.ToolCallPending, nil, false)
	}
	if len(toolUses) > 0 {
		meta["tool_uses"] = toolUses
	}
	return &types.MessageRecord{
		Type:      types.MessageAssistant,
		Content:   a.Text(),
		Timestamp: ts,
		SessionID: sid,
		Metadata:  meta,
	}
}

func (p *Processor) classifyUser(ctx context.Context, sid string, ts float64, u *UserMessage) *types.MessageRecord {
	results := u.ToolResults()
	if len(results) == 0 {
		return &types.MessageRecord{Type: types.MessageUser, Content: textOf(u.Message), Timestamp: ts, SessionID: sid}
	}

	var projected []map[string]any
	for _, tr := range results {
		name, input, ok := p.recallTool(sid, tr.ToolUseID)
		state := types.ToolCallCompleted
		if tr.IsError {
			state = types.ToolCallFailed
		}
		p.emitToolCall(sid, tr.ToolUseID, name, input, state, contentString(tr.Content), tr.IsError)
		projected = append(projected, map[string]any{"tool_use_id": tr.ToolUseID, "is_error": tr.IsError})

		if ok && name == "ExitPlanMode" && !tr.IsError {
			p.maybeResetPlanMode(ctx, sid)
		}
	}
	return &types.MessageRecord{
		Type:      types.MessageUser,
		Timestamp: ts,
		SessionID: sid,
		Metadata:  map[string]any{"tool_results": projected},
	}
}

func (p *Processor) classifyResult(sid string, ts float64, r *Result) *types.MessageRecord {
	meta := map[string]any{
		"duration_ms":    r.DurationMS,
		"duration_api_ms": r.DurationAPIMS,
		"num_turns":      r.NumTurns,
		"total_cost_usd": r.TotalCostUSD,
		"is_error":       r.IsError,
	}
	return &types.MessageRecord{
		Type:      types.MessageResult,
		Content:   r.Result,
		Subtype:   r.Subtype,
		Timestamp: ts,
		SessionID: sid,
		Metadata:  meta,
	}
}

func (p *Processor) classifySystem(sid string, ts float64, s *SystemMessage) *types.MessageRecord {
	subtype := s.Subtype
	if subtype == "" {
		subtype = types.SystemInit
	}
	meta := map[string]any{}
	if subtype == types.SystemInit {
		meta["cwd"] = s.CWD
		meta["model"] = s.Model
		meta["tools"] = s.Tools
		meta["permission_mode"] = s.PermissionMode
		meta["claude_code_version"] = s.ClaudeCodeVersion
	}
	return &types.MessageRecord{
		Type:      types.MessageSystem,
		Subtype:   subtype,
		Timestamp: ts,
		SessionID: sid,
		Metadata:  meta,
	}
}

// Synthetic projects an orchestrator-generated system message (e.g.
// interrupt, client_launched) that never passed through the SDK, using
// the same shape an SDK-originated system message would get.
func (p *Processor) Synthetic(sid, subtype, content string) *types.MessageRecord {
	return &types.MessageRecord{
		Type:      types.MessageSystem,
		Subtype:   subtype,
		Content:   content,
		Timestamp: nowSeconds(),
		SessionID: sid,
	}
}

// ToEnvelope wraps a storage projection in its transport shape.
func ToEnvelope(r *types.MessageRecord) types.Envelope {
	return types.Envelope{
		Type:      "message",
		SessionID: r.SessionID,
		Data:      *r,
		Timestamp: time.UnixMilli(int64(r.Timestamp * 1000)).UTC().Format(time.RFC3339),
	}
}

// Replay projects a persisted record for transport. A record already
// carrying classified metadata is wrapped as-is; an older record with
// no metadata is reparsed from its raw content for consistency.
func (p *Processor) Replay(ctx context.Context, r *types.MessageRecord) types.Envelope {
	if r.Metadata != nil {
		return ToEnvelope(r)
	}
	ev, err := ParseLine([]byte(r.Content))
	if err != nil {
		return ToEnvelope(r)
	}
	reparsed := p.Classify(ctx, r.SessionID, ev)
	reparsed.Timestamp = r.Timestamp
	return ToEnvelope(reparsed)
}

// ClearSession drops a session's pending tool-use tracking, e.g. on
// disposal.
func (p *Processor) ClearSession(sid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, sid)
}

func (p *Processor) rememberTool(sid, toolUseID, name string, input map[string]any) {
	if toolUseID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending[sid] == nil {
		p.pending[sid] = make(map[string]pendingTool)
	}
	p.pending[sid][toolUseID] = pendingTool{name: name, input: input}
}

func (p *Processor) recallTool(sid, toolUseID string) (name string, input map[string]any, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.pending[sid]
	if m == nil {
		return "", nil, false
	}
	t, ok := m[toolUseID]
	if ok {
		delete(m, toolUseID)
	}
	return t.name, t.input, ok
}

func (p *Processor) maybeResetPlanMode(ctx context.Context, sid string) {
	if p.gateway == nil {
		return
	}
	sess, err := p.gateway.Get(sid)
	if err != nil || sess.PermissionMode != types.ModePlan {
		return
	}
	_, _ = p.gateway.Mutate(ctx, sid, func(s *types.Session) { s.PermissionMode = types.ModeDefault })
}

func (p *Processor) emitToolCall(sid, toolUseID, name string, input map[string]any, state types.ToolCallState, result *string, isError bool) {
	if toolUseID == "" {
		return
	}
	event.Publish(event.Event{Type: event.ToolCallUpdated, Data: event.ToolCallUpdatedData{
		ToolCall: &types.ToolCall{
			ToolUseID: toolUseID,
			SessionID: sid,
			Name:      name,
			Input:     input,
			State:     state,
			Result:    result,
			IsError:   isError,
		},
	}})
}

func textOf(p Payload) string {
	var out string
	for _, b := range p.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

func contentString(v any) *string {
	switch c := v.(type) {
	case nil:
		return nil
	case string:
		return &c
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return nil
		}
		s := string(b)
		return &s
	}
}

func nowSeconds() float64 { return float64(time.Now().UnixMilli()) / 1000 }
