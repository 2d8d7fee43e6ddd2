// Package comm implements the Comm Router: validates, persists, and
// delivers inter-agent and user<->agent "comms" to minions, channels,
// or the user, per spec §4.5.
package comm

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/minionctl/orchestrator/internal/event"
	"github.com/minionctl/orchestrator/internal/formatter"
	"github.com/minionctl/orchestrator/internal/mcp"
	"github.com/minionctl/orchestrator/internal/orcherr"
	"github.com/minionctl/orchestrator/internal/session"
	"github.com/minionctl/orchestrator/internal/storage"
	"github.com/minionctl/orchestrator/pkg/types"
)

// ChannelLookup is the subset of internal/channel.Manager the Comm
// Router needs to resolve a channel's member roster.
type ChannelLookup interface {
	Get(ctx context.Context, channelID string) (*types.Channel, error)
}

var typeEmoji = map[types.CommType]string{
	types.CommTask:     "📋",
	types.CommQuestion: "❓",
	types.CommReport:   "📊",
	types.CommInfo:     "ℹ️",
	types.CommHalt:     "🛑",
	types.CommPivot:    "🔀",
	types.CommThought:  "💭",
	types.CommSpawn:    "🐣",
	types.CommDispose:  "💤",
	types.CommSystem:   "⚠️",
}

var typeLabel = map[types.CommType]string{
	types.CommTask:     "Task",
	types.CommQuestion: "Question",
	types.CommReport:   "Report",
	types.CommInfo:     "Info",
	types.CommHalt:     "Halt",
	types.CommPivot:    "Pivot",
	types.CommThought:  "Thought",
	types.CommSpawn:    "Spawn",
	types.CommDispose:  "Dispose",
	types.CommSystem:   "System",
}

const replyHintForUser = "Reply using the send_comm tool, addressed back to the user."

// Router is the Comm Router.
type Router struct {
	storage     *storage.Storage
	manager     *session.Manager
	coordinator *session.Coordinator
	channels    ChannelLookup

	// StartPollInterval governs how often an inactive recipient's state
	// is re-checked after a start attempt; overridable in tests.
	StartPollInterval time.Duration
	StartPollTimeout  time.Duration
}

// NewRouter wires a Router.
func NewRouter(store *storage.Storage, manager *session.Manager, coordinator *session.Coordinator, channels ChannelLookup) *Router {
	return &Router{
		storage:           store,
		manager:           manager,
		coordinator:       coordinator,
		channels:          channels,
		StartPollInterval: 200 * time.Millisecond,
		StartPollTimeout:  30 * time.Second,
	}
}

// Route implements mcp.Toolbox-facing comm sends: fromSessionID is
// always the source minion.
func (r *Router) Route(ctx context.Context, fromSessionID string, args mcp.SendCommArgs) (*types.Comm, error) {
	c := &types.Comm{
		Source:        fromSessionID,
		Summary:       args.Summary,
		Content:       args.Content,
		Type:          types.CommTask,
		Priority:      types.PriorityRoutine,
		VisibleToUser: args.VisibleToUser,
	}
	if args.Priority != "" {
		c.Priority = types.CommPriority(args.Priority)
	}
	if args.ToMinionID != "" {
		c.ToMinionID = &args.ToMinionID
	}
	if args.ToChannelID != "" {
		c.ToChannelID = &args.ToChannelID
	}
	c.ToUser = args.ToUser
	return r.Send(ctx, c)
}

// SendFromUser is the UI-facing entry point for a user-originated comm.
func (r *Router) SendFromUser(ctx context.Context, c *types.Comm) (*types.Comm, error) {
	c.Source = types.UserDestination
	return r.Send(ctx, c)
}

// Send validates, persists, broadcasts, and delivers c.
func (r *Router) Send(ctx context.Context, c *types.Comm) (*types.Comm, error) {
	if err := r.validate(c); err != nil {
		return nil, err
	}

	c.ID = ulid.Make().String()
	c.Timestamp = float64(time.Now().UnixMilli()) / 1000
	r.captureNames(c)

	projectID := r.projectIDFor(c)
	r.persist(ctx, projectID, c)

	event.Publish(event.Event{Type: event.CommSent, Data: event.CommSentData{Comm: c}})

	if err := r.deliver(ctx, c); err != nil {
		r.sendSystemError(ctx, c, err)
		return c, nil
	}
	return c, nil
}

func (r *Router) validate(c *types.Comm) error {
	if c.Source == "" {
		return orcherr.New(orcherr.KindValidation, "comm must have exactly one source")
	}

	destCount := 0
	if c.ToMinionID != nil {
		destCount++
	}
	if c.ToChannelID != nil {
		destCount++
	}
	if c.ToUser {
		destCount++
	}
	if destCount != 1 {
		return orcherr.New(orcherr.KindValidation, "comm must have exactly one destination")
	}
	if c.Summary == "" {
		return orcherr.New(orcherr.KindValidation, "comm must have a summary")
	}
	return nil
}

func (r *Router) captureNames(c *types.Comm) {
	if c.Source != types.UserDestination {
		if sess, err := r.manager.Get(c.Source); err == nil {
			name := sess.Name
			c.SourceName = &name
		}
	}
	if c.ToMinionID != nil {
		if sess, err := r.manager.Get(*c.ToMinionID); err == nil {
			name := sess.Name
			c.RecipientName = &name
		}
	}
}

func (r *Router) projectIDFor(c *types.Comm) string {
	if c.Source != types.UserDestination {
		if sess, err := r.manager.Get(c.Source); err == nil {
			return sess.ProjectID
		}
	}
	if c.ToMinionID != nil {
		if sess, err := r.manager.Get(*c.ToMinionID); err == nil {
			return sess.ProjectID
		}
	}
	return ""
}

func (r *Router) persist(ctx context.Context, projectID string, c *types.Comm) {
	if projectID != "" {
		if err := r.storage.Log([]string{"project", projectID, "timeline"}).Append(ctx, c); err != nil {
			log.Warn().Err(err).Msg("failed to append legion timeline record")
		}
	}
	if c.Source != types.UserDestination {
		if err := r.storage.Log([]string{"session", c.Source, "comms"}).Append(ctx, c); err != nil {
			log.Warn().Err(err).Msg("failed to append sender comm log")
		}
	}
	if c.ToMinionID != nil {
		if err := r.storage.Log([]string{"session", *c.ToMinionID, "comms"}).Append(ctx, c); err != nil {
			log.Warn().Err(err).Msg("failed to append recipient comm log")
		}
	}
	if c.ToChannelID != nil {
		if err := r.storage.Log([]string{"channel", *c.ToChannelID, "comms"}).Append(ctx, c); err != nil {
			log.Warn().Err(err).Msg("failed to append channel comm log")
		}
	}
}

func (r *Router) deliver(ctx context.Context, c *types.Comm) error {
	switch {
	case c.ToMinionID != nil:
		return r.deliverToMinion(ctx, c)
	case c.ToChannelID != nil:
		return r.deliverToChannel(ctx, c)
	case c.ToUser:
		return nil // broadcast via event already happened; no SDK involvement
	}
	return orcherr.New(orcherr.KindValidation, "comm has no deliverable destination")
}

func (r *Router) deliverToMinion(ctx context.Context, c *types.Comm) error {
	sid := *c.ToMinionID
	sess, err := r.waitActive(ctx, sid)
	if err != nil {
		return err
	}

	senderLabel := "User"
	if c.Source != types.UserDestination {
		senderLabel = "Minion #" + c.Source
		if c.SourceName != nil {
			senderLabel = fmt.Sprintf("Minion #%s (%s)", c.Source, *c.SourceName)
		}
	}

	replyHint := ""
	if c.Source == types.UserDestination {
		replyHint = replyHintForUser
	}

	text := typeEmoji[c.Type] + " " + formatter.CommDelivery(typeLabel[c.Type], senderLabel, c.Summary, c.Content, replyHint)
	if err := r.coordinator.SendMessage(ctx, sid, text); err != nil {
		return orcherr.Wrap(orcherr.KindSDK, "failed to deliver comm to minion", err).WithSession(sid)
	}
	_ = sess
	return nil
}

func (r *Router) waitActive(ctx context.Context, sid string) (*types.Session, error) {
	sess, err := r.manager.Get(sid)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindValidation, "recipient minion does not exist", err).WithSession(sid)
	}
	if sess.State == types.StateActive && !sess.Processing {
		return sess, nil
	}

	if sess.State != types.StateActive {
		if err := r.coordinator.Start(ctx, sid); err != nil {
			return nil, orcherr.Wrap(orcherr.KindSDK, "failed to start recipient minion", err).WithSession(sid)
		}
	}

	deadline := time.Now().Add(r.StartPollTimeout)
	for time.Now().Before(deadline) {
		sess, err = r.manager.Get(sid)
		if err != nil {
			return nil, err
		}
		if sess.State == types.StateActive && !sess.Processing {
			return sess, nil
		}
		if sess.State == types.StateError {
			return nil, orcherr.New(orcherr.KindSDK, "recipient minion failed to start").WithSession(sid)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.StartPollInterval):
		}
	}
	return nil, orcherr.New(orcherr.KindSDK, "timed out waiting for recipient minion to become active").WithSession(sid)
}

func (r *Router) deliverToChannel(ctx context.Context, c *types.Comm) error {
	ch, err := r.channels.Get(ctx, *c.ToChannelID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindValidation, "channel does not exist", err)
	}

	var firstErr error
	for _, memberID := range ch.MemberIDs {
		if memberID == c.Source {
			continue
		}
		recipientID := memberID
		perRecipient := &types.Comm{
			ID:            c.ID,
			Source:        c.Source,
			SourceName:    c.SourceName,
			ToMinionID:    &recipientID,
			Summary:       c.Summary,
			Content:       c.Content,
			Type:          c.Type,
			Priority:      c.Priority,
			InReplyTo:     c.InReplyTo,
			VisibleToUser: c.VisibleToUser,
			Timestamp:     c.Timestamp,
			Metadata:      mergeMetadata(c.Metadata, "channel_name", ch.Name),
		}
		r.captureNames(perRecipient)
		if err := r.storage.Log([]string{"session", recipientID, "comms"}).Append(ctx, perRecipient); err != nil {
			log.Warn().Err(err).Str("session_id", recipientID).Msg("failed to append recipient comm log for channel broadcast")
		}
		if err := r.deliverToMinion(ctx, perRecipient); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func mergeMetadata(existing map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(existing)+1)
	for k, v := range existing {
		out[k] = v
	}
	out[key] = value
	return out
}

func (r *Router) sendSystemError(ctx context.Context, original *types.Comm, deliveryErr error) {
	errComm := &types.Comm{
		ID:        ulid.Make().String(),
		Source:    types.SystemSenderID,
		ToUser:    original.Source == types.UserDestination,
		Summary:   "comm delivery failed",
		Content:   deliveryErr.Error(),
		Type:      types.CommSystem,
		Priority:  types.PriorityImportant,
		InReplyTo: &original.ID,
		Timestamp: float64(time.Now().UnixMilli()) / 1000,
	}
	if original.Source != types.UserDestination {
		errComm.ToUser = false
		srcID := original.Source
		errComm.ToMinionID = &srcID
	}

	projectID := r.projectIDFor(original)
	r.persist(ctx, projectID, errComm)
	event.Publish(event.Event{Type: event.CommSent, Data: event.CommSentData{Comm: errComm}})
}

var _ session.CommRouter = (*Router)(nil)
