package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/minionctl/orchestrator/internal/event"
	"github.com/minionctl/orchestrator/internal/mcp"
	"github.com/minionctl/orchestrator/internal/orcherr"
	"github.com/minionctl/orchestrator/internal/permission"
	"github.com/minionctl/orchestrator/pkg/types"
)

// SDKAdapter is the subset of internal/sdkagent.Adapter the Coordinator
// drives. onRecord receives already-classified transcript records (the
// Message Processor's job, done inside the adapter before the callback
// fires) so the Coordinator only ever handles types.MessageRecord.
type SDKAdapter interface {
	Start(ctx context.Context, sess *types.Session, onRecord func(*types.MessageRecord)) error
	Send(ctx context.Context, sid, text string) error
	Interrupt(ctx context.Context, sid string) error
	SetPermissionMode(ctx context.Context, sid string, mode types.PermissionMode) error
	Stop(ctx context.Context, sid string) error
}

// Queue is the subset of internal/queue.Manager the Coordinator drives to
// implement the scheduled-prompt and comm-delivery inflight pickup loop.
type Queue interface {
	PeekNext(ctx context.Context, sid string) (*types.QueueItem, bool, error)
	MarkSent(ctx context.Context, sid, queueID string) error
	MarkFailed(ctx context.Context, sid, queueID string, reason string) error
}

// OverseerController is the subset of internal/overseer.Controller the
// Coordinator delegates spawn_minion/dispose_minion MCP calls to.
type OverseerController interface {
	Spawn(ctx context.Context, parentID string, args mcp.SpawnMinionArgs) (*types.Session, error)
	Dispose(ctx context.Context, requesterID, sid string) error
}

// CommRouter is the subset of internal/comm.Router the Coordinator
// delegates send_comm MCP calls and UI comm-send requests to.
type CommRouter interface {
	Route(ctx context.Context, fromSessionID string, args mcp.SendCommArgs) (*types.Comm, error)
}

// ProjectMembership is the subset of internal/project.Service the
// Coordinator needs for session<->project bookkeeping.
type ProjectMembership interface {
	AddSession(ctx context.Context, projectID, sessionID string) error
	RemoveSession(ctx context.Context, projectID, sessionID string) error
}

// ScheduleCanceller is the subset of internal/schedule.Manager the
// Coordinator needs to cancel a deleted minion's schedules.
type ScheduleCanceller interface {
	CancelByMinion(ctx context.Context, minionID string) error
}

// ChannelLeaver is the subset of internal/channel.Manager the
// Coordinator needs to detach a deleted minion from every channel it
// belongs to.
type ChannelLeaver interface {
	RemoveFromAll(ctx context.Context, sid string) error
}

// Observer is a SessionObserver callback: fired for every transcript
// record appended to any session, fanning out to storage-independent
// consumers (the SSE transport, primarily).
type Observer func(sid string, record *types.MessageRecord)

// Coordinator is the composition root wiring Manager + SDK Adapter +
// Permission Broker + Queue + Comm Router, per the Session Coordinator
// component. It owns SessionObserver fan-out, enforces the invariants
// the bare Manager can't (cascading delete, inflight checks), and
// implements mcp.Toolbox so every minion's MCP server can reach it.
type Coordinator struct {
	manager  *Manager
	perm     *permission.Broker
	sdk      SDKAdapter
	queue    Queue
	overseer  OverseerController
	comms     CommRouter
	projects  ProjectMembership
	schedules ScheduleCanceller
	channels  ChannelLeaver

	mu        sync.Mutex
	observers []Observer
}

// NewCoordinator wires the always-present dependencies. The cyclic
// collaborators (overseer, comm router) are injected afterward via
// SetOverseer/SetCommRouter once the composition root constructs them,
// since both of those packages depend on the Coordinator in turn.
func NewCoordinator(manager *Manager, perm *permission.Broker, sdk SDKAdapter, queue Queue, projects ProjectMembership) *Coordinator {
	perm.SetSessionGateway(manager)
	return &Coordinator{manager: manager, perm: perm, sdk: sdk, queue: queue, projects: projects}
}

func (c *Coordinator) SetOverseer(oc OverseerController) { c.overseer = oc }
func (c *Coordinator) SetCommRouter(cr CommRouter)       { c.comms = cr }
func (c *Coordinator) SetSchedules(sc ScheduleCanceller) { c.schedules = sc }
func (c *Coordinator) SetChannels(cl ChannelLeaver)      { c.channels = cl }

// Subscribe registers a SessionObserver, returning an unsubscribe func.
func (c *Coordinator) Subscribe(fn Observer) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
	idx := len(c.observers) - 1
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.observers[idx] = nil
	}
}

func (c *Coordinator) notify(sid string, record *types.MessageRecord) {
	c.mu.Lock()
	obs := append([]Observer{}, c.observers...)
	c.mu.Unlock()
	for _, fn := range obs {
		if fn != nil {
			fn(sid, record)
		}
	}
}

// Start spawns sid's SDK instance, or no-ops if it's already live
// (detected by state: Starting/Active/Paused all mean the handle
// exists). On Terminated -> Starting the adapter resumes the stored
// token if one is known; on Created -> Starting it begins fresh.
func (c *Coordinator) Start(ctx context.Context, sid string) error {
	return c.start(ctx, sid)
}

func (c *Coordinator) start(ctx context.Context, sid string) error {
	sess, err := c.manager.Get(sid)
	if err != nil {
		return err
	}
	if sess.State == types.StateStarting || sess.State == types.StateActive || sess.State == types.StatePaused {
		return nil
	}
	if err := c.manager.Transition(ctx, sid, types.StateStarting); err != nil {
		return err
	}

	onRecord := func(record *types.MessageRecord) {
		c.onRecord(ctx, sid, record)
	}

	if err := c.sdk.Start(ctx, sess, onRecord); err != nil {
		_, _ = c.manager.Mutate(ctx, sid, func(s *types.Session) { s.Processing = false })
		_ = c.manager.Transition(ctx, sid, types.StateError)
		c.emitSynthetic(ctx, sid, types.SystemSessionFailed, sanitizeSDKError(err))
		return orcherr.Wrap(orcherr.KindSDK, "failed to start SDK session", err).WithSession(sid)
	}

	if err := c.manager.Transition(ctx, sid, types.StateActive); err != nil {
		return err
	}
	c.emitSynthetic(ctx, sid, types.SystemClientLaunched, "client launched")
	return nil
}

// onRecord is the adapter callback: persist, fan out, and on a "result"
// message flip processing off and pick up the next queued item.
func (c *Coordinator) onRecord(ctx context.Context, sid string, record *types.MessageRecord) {
	if err := c.manager.Messages(sid).Append(ctx, record); err != nil {
		log.Error().Err(err).Str("session_id", sid).Msg("failed to persist message record")
	}
	event.Publish(event.Event{Type: event.MessageAppended, Data: event.MessageAppendedData{SessionID: sid, Record: record}})
	c.notify(sid, record)

	if record.Type != types.MessageResult {
		return
	}
	if _, err := c.manager.Mutate(ctx, sid, func(s *types.Session) { s.Processing = false }); err != nil {
		log.Error().Err(err).Str("session_id", sid).Msg("failed to clear processing flag")
		return
	}
	c.pumpQueue(ctx, sid)
}

// pumpQueue delivers the next pending queue item, if any, now that sid
// has gone idle.
func (c *Coordinator) pumpQueue(ctx context.Context, sid string) {
	if c.queue == nil {
		return
	}
	item, ok, err := c.queue.PeekNext(ctx, sid)
	if err != nil || !ok {
		return
	}
	if item.ResetSession {
		if err := c.Reset(ctx, sid); err != nil {
			_ = c.queue.MarkFailed(ctx, sid, item.QueueID, err.Error())
			return
		}
	}
	if err := c.SendMessage(ctx, sid, item.Content); err != nil {
		_ = c.queue.MarkFailed(ctx, sid, item.QueueID, err.Error())
		return
	}
	_ = c.queue.MarkSent(ctx, sid, item.QueueID)
}

// SendMessage hands text to sid's SDK. Precondition: Active and not
// already processing.
func (c *Coordinator) SendMessage(ctx context.Context, sid, text string) error {
	sess, err := c.manager.Get(sid)
	if err != nil {
		return err
	}
	if sess.State != types.StateActive || sess.Processing {
		return orcherr.New(orcherr.KindSession, "session is not ready to receive a message").WithSession(sid)
	}
	if _, err := c.manager.Mutate(ctx, sid, func(s *types.Session) { s.Processing = true }); err != nil {
		return err
	}
	if err := c.sdk.Send(ctx, sid, text); err != nil {
		_, _ = c.manager.Mutate(ctx, sid, func(s *types.Session) { s.Processing = false })
		return orcherr.Wrap(orcherr.KindSDK, "failed to send message", err).WithSession(sid)
	}
	return nil
}

// Interrupt cancels sid's in-flight SDK turn, denies every pending
// permission ask owned by the session, and emits the synthetic
// interrupt message.
func (c *Coordinator) Interrupt(ctx context.Context, sid string) error {
	sess, err := c.manager.Get(sid)
	if err != nil {
		return err
	}
	if sess.State != types.StateActive && sess.State != types.StatePaused && !sess.Processing {
		return orcherr.New(orcherr.KindSession, "session is not active or processing").WithSession(sid)
	}

	if err := c.sdk.Interrupt(ctx, sid); err != nil {
		return orcherr.Wrap(orcherr.KindSDK, "failed to interrupt", err).WithSession(sid)
	}
	c.perm.InterruptSession(sid)

	if _, err := c.manager.Mutate(ctx, sid, func(s *types.Session) { s.Processing = false }); err != nil {
		return err
	}
	c.emitSynthetic(ctx, sid, types.SystemInterrupt, "user interrupted processing")
	c.emitSynthetic(ctx, sid, types.SystemInterruptSuccess, "interrupt acknowledged")
	return nil
}

// Pause stops pumping sid's SDK loop without stopping its process,
// independent of the permission broker's own Active<->Paused toggle
// around a blocking ask. A paused session keeps its live handle idle
// until Resume.
func (c *Coordinator) Pause(ctx context.Context, sid string) error {
	if err := c.manager.Transition(ctx, sid, types.StatePaused); err != nil {
		return err
	}
	c.emitSynthetic(ctx, sid, types.SystemPaused, "session paused")
	return nil
}

// Resume reactivates a session paused via Pause, letting queued and new
// messages reach the SDK again.
func (c *Coordinator) Resume(ctx context.Context, sid string) error {
	if err := c.manager.Transition(ctx, sid, types.StateActive); err != nil {
		return err
	}
	c.emitSynthetic(ctx, sid, types.SystemResumed, "session resumed")
	return nil
}

// Terminate stops sid's SDK process and moves it to Terminated without
// archiving or cascading to children, unlike DeleteCascade. The record,
// its comm history, and its channel memberships are left intact so it
// can still be inspected or restarted later.
func (c *Coordinator) Terminate(ctx context.Context, sid string) error {
	_ = c.sdk.Stop(ctx, sid)
	c.perm.InterruptSession(sid)
	if err := c.manager.Transition(ctx, sid, types.StateTerminated); err != nil {
		return err
	}
	c.emitSynthetic(ctx, sid, types.SystemTerminated, "session terminated")
	return nil
}

// SetPermissionMode validates and forwards mode, persisting it on
// success.
func (c *Coordinator) SetPermissionMode(ctx context.Context, sid string, mode types.PermissionMode) error {
	switch mode {
	case types.ModeDefault, types.ModeAcceptEdits, types.ModePlan, types.ModeBypassPermissions:
	default:
		return orcherr.New(orcherr.KindValidation, "unknown permission mode").WithSession(sid)
	}
	if err := c.sdk.SetPermissionMode(ctx, sid, mode); err != nil {
		return orcherr.Wrap(orcherr.KindSDK, "failed to set permission mode", err).WithSession(sid)
	}
	_, err := c.manager.Mutate(ctx, sid, func(s *types.Session) { s.PermissionMode = mode })
	return err
}

// Restart gracefully disconnects and recreates sid's SDK handle, resuming
// its stored token. Conversation and queue survive.
func (c *Coordinator) Restart(ctx context.Context, sid string) error {
	_ = c.sdk.Stop(ctx, sid)
	if err := c.manager.Transition(ctx, sid, types.StateTerminated); err != nil {
		return err
	}
	return c.start(ctx, sid)
}

// Reset is Restart but first clears the resume token and truncates the
// messages log, so the next start produces a brand-new conversation.
// Tools, model, and prompt are preserved.
func (c *Coordinator) Reset(ctx context.Context, sid string) error {
	_ = c.sdk.Stop(ctx, sid)
	if _, err := c.manager.Mutate(ctx, sid, func(s *types.Session) { s.ResumeToken = nil }); err != nil {
		return err
	}
	if err := c.manager.Messages(sid).Truncate(ctx); err != nil {
		return orcherr.Wrap(orcherr.KindStorage, "failed to truncate messages", err).WithSession(sid)
	}
	if err := c.manager.Transition(ctx, sid, types.StateTerminated); err != nil {
		return err
	}
	return c.start(ctx, sid)
}

// DeleteCascade recursively deletes sid depth-first through its
// children before removing sid itself, per the cascading delete
// invariant. Cancels every schedule sid owns and detaches it from every
// channel it belongs to before the record is removed. reason is
// recorded in each node's disposal metadata. internal/overseer's
// Dispose delegates to this same method, so both delete and dispose
// paths get the schedule/channel cleanup.
func (c *Coordinator) DeleteCascade(ctx context.Context, sid, reason string) error {
	sess, err := c.manager.Get(sid)
	if err != nil {
		return err
	}

	for _, childID := range append([]string{}, sess.ChildIDs...) {
		if err := c.DeleteCascade(ctx, childID, reason); err != nil {
			log.Error().Err(err).Str("session_id", childID).Msg("failed to delete child session during cascade")
		}
	}

	_ = c.sdk.Stop(ctx, sid)
	c.perm.InterruptSession(sid)
	c.perm.ClearSession(sid)

	if c.schedules != nil {
		if err := c.schedules.CancelByMinion(ctx, sid); err != nil {
			log.Warn().Err(err).Str("session_id", sid).Msg("failed to cancel schedules during delete")
		}
	}
	if c.channels != nil {
		if err := c.channels.RemoveFromAll(ctx, sid); err != nil {
			log.Warn().Err(err).Str("session_id", sid).Msg("failed to remove from channels during delete")
		}
	}

	if sess.ParentID != nil {
		if _, err := c.manager.Mutate(ctx, *sess.ParentID, func(parent *types.Session) {
			parent.ChildIDs = removeString(parent.ChildIDs, sid)
			parent.IsOverseer = len(parent.ChildIDs) > 0
		}); err != nil {
			log.Warn().Err(err).Str("session_id", sid).Msg("failed to detach from parent during delete")
		}
	}

	if c.projects != nil {
		if err := c.projects.RemoveSession(ctx, sess.ProjectID, sid); err != nil {
			log.Warn().Err(err).Str("session_id", sid).Msg("failed to remove session from project during delete")
		}
	}

	return c.manager.Delete(ctx, sid, reason, len(sess.ChildIDs))
}

// SweepOrphans walks every registered session at startup and detaches
// dangling parent/child references to sessions that no longer exist on
// disk.
func (c *Coordinator) SweepOrphans(ctx context.Context) error {
	for _, sess := range c.manager.List("") {
		var live []string
		changed := false
		for _, cid := range sess.ChildIDs {
			if _, err := c.manager.Get(cid); err == nil {
				live = append(live, cid)
			} else {
				changed = true
			}
		}
		if sess.ParentID != nil {
			if _, err := c.manager.Get(*sess.ParentID); err != nil {
				sess.ParentID = nil
				changed = true
			}
		}
		if changed {
			if _, err := c.manager.Mutate(ctx, sess.ID, func(s *types.Session) {
				s.ChildIDs = live
				s.IsOverseer = len(live) > 0
				if sess.ParentID == nil {
					s.ParentID = nil
				}
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Coordinator) emitSynthetic(ctx context.Context, sid, subtype, content string) {
	c.onRecord(ctx, sid, &types.MessageRecord{
		Type:      types.MessageSystem,
		Subtype:   subtype,
		Content:   content,
		SessionID: sid,
		Timestamp: float64(time.Now().UnixMilli()) / 1000,
	})
}

func removeString(ss []string, target string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// sanitizeSDKError extracts a human-friendly sentence from a raw SDK
// startup error, stripping stack-trace noise and recognizing common
// failure patterns.
func sanitizeSDKError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid-uuid") || strings.Contains(msg, "invalid uuid"):
		return "session failed to start: the stored resume token is not a valid identifier"
	case strings.Contains(msg, "missing-resume-id") || strings.Contains(msg, "missing resume"):
		return "session failed to start: no resumable conversation was found for this session"
	default:
		return "session failed to start: " + firstLine(err.Error())
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

var _ mcp.Toolbox = (*Coordinator)(nil)

// --- mcp.Toolbox ---

// SendComm implements mcp.Toolbox, delegating to the injected CommRouter.
func (c *Coordinator) SendComm(ctx context.Context, fromSessionID string, args mcp.SendCommArgs) (*types.Comm, error) {
	if c.comms == nil {
		return nil, orcherr.New(orcherr.KindSystem, "comm router not wired")
	}
	return c.comms.Route(ctx, fromSessionID, args)
}

// SpawnMinion implements mcp.Toolbox, delegating to the injected
// OverseerController.
func (c *Coordinator) SpawnMinion(ctx context.Context, fromSessionID string, args mcp.SpawnMinionArgs) (*types.Session, error) {
	if c.overseer == nil {
		return nil, orcherr.New(orcherr.KindSystem, "overseer controller not wired")
	}
	return c.overseer.Spawn(ctx, fromSessionID, args)
}

// DisposeMinion implements mcp.Toolbox, delegating to the injected
// OverseerController.
func (c *Coordinator) DisposeMinion(ctx context.Context, fromSessionID string, sid string) error {
	if c.overseer == nil {
		return orcherr.New(orcherr.KindSystem, "overseer controller not wired")
	}
	return c.overseer.Dispose(ctx, fromSessionID, sid)
}
