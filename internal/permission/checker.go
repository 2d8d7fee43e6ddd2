package permission

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/minionctl/orchestrator/internal/event"
	"github.com/minionctl/orchestrator/pkg/types"
)

// pendingAsk tracks one outstanding rendezvous so an interrupt can find
// and resolve every ask belonging to a session.
type pendingAsk struct {
	sessionID string
	respond   chan types.PermissionResponse
}

// decidedRule pairs a persisted rule with the decision it was added
// under (an "addRules" suggestion's Behavior).
type decidedRule struct {
	types.Rule
	decision types.PermissionDecision
}

// SessionGateway is the subset of internal/session.Manager the broker
// needs to pause a session while a tool call awaits a decision, restore
// it afterward, and apply a setMode suggestion to its stored permission
// mode. *session.Manager satisfies this without modification.
type SessionGateway interface {
	Get(sid string) (*types.Session, error)
	Transition(ctx context.Context, sid string, to types.State) error
	Mutate(ctx context.Context, sid string, fn func(*types.Session)) (*types.Session, error)
}

// Broker is the permission rendezvous: it evaluates a tool call against
// a session's persisted rules and, failing that, blocks the calling
// goroutine until an overseer (or the user, via the server) answers or
// the session is interrupted.
type Broker struct {
	mu      sync.RWMutex
	rules   map[string][]decidedRule   // sessionID -> persisted rules
	pending map[string]*pendingAsk     // requestID -> rendezvous
	uploads map[string]map[string]bool // sessionID -> uploaded file paths
	doom    *DoomLoopDetector
	gateway SessionGateway
}

// NewChecker creates a new permission broker.
func NewChecker() *Broker {
	return &Broker{
		rules:   make(map[string][]decidedRule),
		pending: make(map[string]*pendingAsk),
		uploads: make(map[string]map[string]bool),
		doom:    NewDoomLoopDetector(),
	}
}

// RegisterUpload records that path was uploaded by the user for session,
// so a subsequent tool call reading or editing it skips the rule-match
// and ask flow entirely.
func (b *Broker) RegisterUpload(sessionID, path string) {
	if path == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.uploads[sessionID]
	if !ok {
		set = make(map[string]bool)
		b.uploads[sessionID] = set
	}
	set[path] = true
}

// isUploaded reports whether path was uploaded by the user for session.
func (b *Broker) isUploaded(sessionID, path string) bool {
	if path == "" {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.uploads[sessionID][path]
}

// SetSessionGateway wires the session-state dependency; nil disables the
// pause/resume and setMode side effects (useful for tests that only
// care about rule/doom-loop evaluation).
func (b *Broker) SetSessionGateway(g SessionGateway) {
	b.gateway = g
}

// Evaluate decides a tool call: a persisted rule answers it immediately,
// a doom loop forces a deny, otherwise it blocks in Ask until resolved.
func (b *Broker) Evaluate(ctx context.Context, req types.PermissionRequest) (types.SDKDecision, error) {
	if b.doom.Check(req.SessionID, req.ToolName, req.Input) {
		return types.SDKDecision{}, &RejectedError{
			SessionID: req.SessionID,
			ToolName:  req.ToolName,
			RequestID: req.RequestID,
			Message:   "denied: repeated identical tool call (doom loop)",
		}
	}

	if b.isUploaded(req.SessionID, inputFilePath(req.Input)) {
		return types.SDKDecision{Behavior: "allow"}, nil
	}

	if decision, ok := b.matchRule(req); ok {
		if decision == types.DecisionAllow {
			return types.SDKDecision{Behavior: "allow"}, nil
		}
		return types.SDKDecision{}, &RejectedError{
			SessionID: req.SessionID,
			ToolName:  req.ToolName,
			RequestID: req.RequestID,
			Message:   "denied by persisted rule",
		}
	}

	b.injectExitPlanModeSuggestion(&req)
	b.pauseForAsk(ctx, req.SessionID)
	resp, err := b.Ask(ctx, req)
	b.resumeAfterAsk(ctx, req.SessionID)
	if err != nil {
		return types.SDKDecision{}, err
	}

	if resp.Decision == types.DecisionDeny {
		return types.SDKDecision{}, &RejectedError{
			SessionID: req.SessionID,
			ToolName:  req.ToolName,
			RequestID: req.RequestID,
			Message:   "denied by response",
		}
	}

	for _, s := range resp.SelectedSuggestions {
		switch {
		case s.Type == "addRules" && s.Behavior == "allow":
			b.addRules(req.SessionID, s.Rules)
		case s.Type == "setMode":
			b.applyModeChange(ctx, req.SessionID, s.Mode)
		}
	}

	decision := types.SDKDecision{Behavior: "allow", UpdatedInput: resp.UpdatedInput}
	if resp.Interrupt {
		interrupt := true
		decision.Interrupt = &interrupt
	}
	return decision, nil
}

// injectExitPlanModeSuggestion prepends a setMode->acceptEdits suggestion
// when a minion in plan mode calls ExitPlanMode, so accepting the exit
// also leaves plan mode rather than re-asking on the next edit.
func (b *Broker) injectExitPlanModeSuggestion(req *types.PermissionRequest) {
	if b.gateway == nil || req.ToolName != "ExitPlanMode" {
		return
	}
	sess, err := b.gateway.Get(req.SessionID)
	if err != nil || sess.PermissionMode != types.ModePlan {
		return
	}
	synthetic := types.Suggestion{Type: "setMode", Mode: string(types.ModeAcceptEdits), Destination: "session"}
	req.Suggestions = append([]types.Suggestion{synthetic}, req.Suggestions...)
}

// pauseForAsk moves a session to Paused while a tool call awaits a
// decision. Best-effort: a nil gateway or an illegal transition (the
// session already moved on, e.g. to Terminated) is not fatal to the ask.
func (b *Broker) pauseForAsk(ctx context.Context, sessionID string) {
	if b.gateway == nil {
		return
	}
	_ = b.gateway.Transition(ctx, sessionID, types.StatePaused)
}

// resumeAfterAsk restores Active once a decision has been made.
func (b *Broker) resumeAfterAsk(ctx context.Context, sessionID string) {
	if b.gateway == nil {
		return
	}
	_ = b.gateway.Transition(ctx, sessionID, types.StateActive)
}

// applyModeChange persists a setMode suggestion's new mode immediately,
// matching the SDK's own in-process mode switch.
func (b *Broker) applyModeChange(ctx context.Context, sessionID, mode string) {
	if b.gateway == nil || mode == "" {
		return
	}
	_, _ = b.gateway.Mutate(ctx, sessionID, func(s *types.Session) {
		s.PermissionMode = types.PermissionMode(mode)
	})
}

// Ask registers the rendezvous, publishes permission.required, and
// blocks until Respond or InterruptSession resolves the request ID, or
// ctx is canceled. There is no timeout: a minion's tool call waits
// however long it takes for a human or overseer to answer.
func (b *Broker) Ask(ctx context.Context, req types.PermissionRequest) (types.PermissionResponse, error) {
	if req.RequestID == "" {
		req.RequestID = ulid.Make().String()
	}

	ch := make(chan types.PermissionResponse, 1)
	b.mu.Lock()
	b.pending[req.RequestID] = &pendingAsk{sessionID: req.SessionID, respond: ch}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, req.RequestID)
		b.mu.Unlock()
	}()

	event.Publish(event.Event{
		Type: event.PermissionRequired,
		Data: event.PermissionRequiredData{Request: &req},
	})

	select {
	case <-ctx.Done():
		return types.PermissionResponse{}, ctx.Err()
	case resp := <-ch:
		return resp, nil
	}
}

// Respond resolves a pending ask with the given decision.
func (b *Broker) Respond(requestID string, resp types.PermissionResponse) {
	resp.RequestID = requestID

	b.mu.RLock()
	ask, ok := b.pending[requestID]
	b.mu.RUnlock()

	if !ok {
		return
	}

	ask.respond <- resp

	event.Publish(event.Event{
		Type: event.PermissionResolved,
		Data: event.PermissionResolvedData{
			RequestID: requestID,
			SessionID: ask.sessionID,
			Decision:  resp.Decision,
		},
	})
}

// InterruptSession resolves every pending ask for a session with deny,
// as required when a session is interrupted or terminated while a tool
// call is awaiting a decision.
func (b *Broker) InterruptSession(sessionID string) {
	b.mu.RLock()
	var toDeny []string
	for requestID, ask := range b.pending {
		if ask.sessionID == sessionID {
			toDeny = append(toDeny, requestID)
		}
	}
	b.mu.RUnlock()

	for _, requestID := range toDeny {
		b.Respond(requestID, types.PermissionResponse{Decision: types.DecisionDeny})
	}
}

// matchRule reports the decision for a tool call if any persisted rule
// covers it, trying patterns in BuildRulePatterns' most-specific-first
// order so e.g. a "Bash(git commit *)" deny wins over a "Bash(*)" allow.
func (b *Broker) matchRule(req types.PermissionRequest) (types.PermissionDecision, bool) {
	b.mu.RLock()
	rules := append([]decidedRule(nil), b.rules[req.SessionID]...)
	b.mu.RUnlock()

	patterns := BuildRulePatterns(commandText(req.ToolName, req.Input))
	for _, pattern := range patterns {
		for _, r := range rules {
			if r.ToolName != req.ToolName || r.RuleContent != pattern {
				continue
			}
			return r.decision, true
		}
	}
	return "", false
}

// AddRule persists a rule for a session with its decision.
func (b *Broker) AddRule(sessionID string, rule types.Rule, decision types.PermissionDecision) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules[sessionID] = append(b.rules[sessionID], decidedRule{Rule: rule, decision: decision})
}

// addRules persists rules as allow, the only behavior a selected
// "addRules" suggestion carries today.
func (b *Broker) addRules(sessionID string, rules []types.Rule) {
	for _, r := range rules {
		b.AddRule(sessionID, r, types.DecisionAllow)
	}
}

// Rules returns the persisted rules for a session.
func (b *Broker) Rules(sessionID string) []types.Rule {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rules := make([]types.Rule, 0, len(b.rules[sessionID]))
	for _, r := range b.rules[sessionID] {
		rules = append(rules, r.Rule)
	}
	return rules
}

// ClearSession drops all persisted rules and doom-loop history for a
// session, e.g. on disposal.
func (b *Broker) ClearSession(sessionID string) {
	b.mu.Lock()
	delete(b.rules, sessionID)
	delete(b.uploads, sessionID)
	b.mu.Unlock()
	b.doom.Clear(sessionID)
}
