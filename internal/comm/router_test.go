package comm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minionctl/orchestrator/internal/channel"
	"github.com/minionctl/orchestrator/internal/event"
	"github.com/minionctl/orchestrator/internal/permission"
	"github.com/minionctl/orchestrator/internal/session"
	"github.com/minionctl/orchestrator/internal/storage"
	"github.com/minionctl/orchestrator/pkg/types"
)

type fakeSDK struct{ sent []string }

func (f *fakeSDK) Start(ctx context.Context, sess *types.Session, onRecord func(*types.MessageRecord)) error {
	return nil
}
func (f *fakeSDK) Send(ctx context.Context, sid, text string) error {
	f.sent = append(f.sent, sid+":"+text)
	return nil
}
func (f *fakeSDK) Interrupt(ctx context.Context, sid string) error { return nil }
func (f *fakeSDK) SetPermissionMode(ctx context.Context, sid string, mode types.PermissionMode) error {
	return nil
}
func (f *fakeSDK) Stop(ctx context.Context, sid string) error { return nil }

type fakeProjects struct{}

func (f *fakeProjects) AddSession(ctx context.Context, projectID, sessionID string) error { return nil }
func (f *fakeProjects) RemoveSession(ctx context.Context, projectID, sessionID string) error {
	return nil
}

func newTestRouter(t *testing.T) (*Router, *session.Manager, *session.Coordinator, *channel.Manager, *fakeSDK) {
	t.Helper()
	store := storage.New(t.TempDir())
	manager := session.NewManager(store)
	sdk := &fakeSDK{}
	coord := session.NewCoordinator(manager, permission.NewChecker(), sdk, nil, &fakeProjects{})
	channels := channel.NewManager(store, manager)
	r := NewRouter(store, manager, coord, channels)
	r.StartPollInterval = time.Millisecond
	r.StartPollTimeout = 200 * time.Millisecond
	return r, manager, coord, channels, sdk
}

func TestRouter_Send_RejectsMultipleDestinations(t *testing.T) {
	ctx := context.Background()
	r, manager, _, _, _ := newTestRouter(t)
	sender, err := manager.Create(ctx, "proj-1", "/tmp/work", "sender")
	require.NoError(t, err)

	toMinion := "m1"
	_, err = r.Send(ctx, &types.Comm{Source: sender.ID, Summary: "hi", ToMinionID: &toMinion, ToUser: true})
	assert.Error(t, err)
}

func TestRouter_Send_RejectsMissingSource(t *testing.T) {
	ctx := context.Background()
	r, _, _, _, _ := newTestRouter(t)
	toMinion := "m1"
	_, err := r.Send(ctx, &types.Comm{Summary: "hi", ToMinionID: &toMinion})
	assert.Error(t, err)
}

func TestRouter_Send_DeliversToActiveMinion(t *testing.T) {
	ctx := context.Background()
	r, manager, coord, _, sdk := newTestRouter(t)
	sender, err := manager.Create(ctx, "proj-1", "/tmp/work", "sender")
	require.NoError(t, err)
	recipient, err := manager.Create(ctx, "proj-1", "/tmp/work", "recipient")
	require.NoError(t, err)
	require.NoError(t, coord.Start(ctx, recipient.ID))

	toMinion := recipient.ID
	c, err := r.Send(ctx, &types.Comm{Source: sender.ID, Summary: "ship it", Content: "deploy v2", Type: types.CommTask, ToMinionID: &toMinion})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	require.Len(t, sdk.sent, 1)
	assert.Contains(t, sdk.sent[0], recipient.ID+":")
	assert.Contains(t, sdk.sent[0], "ship it")
	assert.Contains(t, sdk.sent[0], "deploy v2")
}

func TestRouter_Send_AutoStartsInactiveRecipient(t *testing.T) {
	ctx := context.Background()
	r, manager, _, _, sdk := newTestRouter(t)
	sender, err := manager.Create(ctx, "proj-1", "/tmp/work", "sender")
	require.NoError(t, err)
	recipient, err := manager.Create(ctx, "proj-1", "/tmp/work", "recipient")
	require.NoError(t, err)

	toMinion := recipient.ID
	_, err = r.Send(ctx, &types.Comm{Source: sender.ID, Summary: "wake up", ToMinionID: &toMinion})
	require.NoError(t, err)

	got, err := manager.Get(recipient.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, got.State)
	require.Len(t, sdk.sent, 1)
}

func TestRouter_Send_ChannelBroadcastSkipsSender(t *testing.T) {
	ctx := context.Background()
	r, manager, coord, channels, sdk := newTestRouter(t)
	sender, err := manager.Create(ctx, "proj-1", "/tmp/work", "sender")
	require.NoError(t, err)
	memberA, err := manager.Create(ctx, "proj-1", "/tmp/work", "member-a")
	require.NoError(t, err)
	memberB, err := manager.Create(ctx, "proj-1", "/tmp/work", "member-b")
	require.NoError(t, err)
	require.NoError(t, coord.Start(ctx, memberA.ID))
	require.NoError(t, coord.Start(ctx, memberB.ID))

	ch, err := channels.Create(ctx, "proj-1", "general", "", "", sender.ID, nil)
	require.NoError(t, err)
	require.NoError(t, channels.AddMember(ctx, ch.ID, sender.ID))
	require.NoError(t, channels.AddMember(ctx, ch.ID, memberA.ID))
	require.NoError(t, channels.AddMember(ctx, ch.ID, memberB.ID))

	toChannel := ch.ID
	_, err = r.Send(ctx, &types.Comm{Source: sender.ID, Summary: "standup", Content: "status please", ToChannelID: &toChannel})
	require.NoError(t, err)

	require.Len(t, sdk.sent, 2)
	var sawA, sawB bool
	for _, s := range sdk.sent {
		if s[:len(memberA.ID)] == memberA.ID {
			sawA = true
		}
		if s[:len(memberB.ID)] == memberB.ID {
			sawB = true
		}
	}
	assert.True(t, sawA)
	assert.True(t, sawB)
}

func TestRouter_Send_ChannelBroadcastPersistsToRecipientLogs(t *testing.T) {
	ctx := context.Background()
	r, manager, coord, channels, _ := newTestRouter(t)
	sender, err := manager.Create(ctx, "proj-1", "/tmp/work", "sender")
	require.NoError(t, err)
	memberA, err := manager.Create(ctx, "proj-1", "/tmp/work", "member-a")
	require.NoError(t, err)
	memberB, err := manager.Create(ctx, "proj-1", "/tmp/work", "member-b")
	require.NoError(t, err)
	require.NoError(t, coord.Start(ctx, memberA.ID))
	require.NoError(t, coord.Start(ctx, memberB.ID))

	ch, err := channels.Create(ctx, "proj-1", "general", "", "", sender.ID, nil)
	require.NoError(t, err)
	require.NoError(t, channels.AddMember(ctx, ch.ID, sender.ID))
	require.NoError(t, channels.AddMember(ctx, ch.ID, memberA.ID))
	require.NoError(t, channels.AddMember(ctx, ch.ID, memberB.ID))

	toChannel := ch.ID
	_, err = r.Send(ctx, &types.Comm{Source: sender.ID, Summary: "standup", Content: "status please", ToChannelID: &toChannel})
	require.NoError(t, err)

	for _, memberID := range []string{memberA.ID, memberB.ID} {
		var got []*types.Comm
		err := r.storage.Log([]string{"session", memberID, "comms"}).Replay(ctx, func() any { return &types.Comm{} }, func(record any) error {
			got = append(got, record.(*types.Comm))
			return nil
		})
		require.NoError(t, err)
		require.Lenf(t, got, 1, "expected the broadcast to be persisted to %s's own comm log", memberID)
		assert.Equal(t, "standup", got[0].Summary)
	}
}

func TestRouter_Send_EmitsSystemCommOnDeliveryFailure(t *testing.T) {
	ctx := context.Background()
	r, manager, _, _, _ := newTestRouter(t)
	sender, err := manager.Create(ctx, "proj-1", "/tmp/work", "sender")
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []event.EventType
	unsub := event.Subscribe(event.CommSent, func(e event.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})
	defer unsub()

	missing := "does-not-exist"
	c, err := r.Send(ctx, &types.Comm{Source: sender.ID, Summary: "ping", ToMinionID: &missing})
	require.NoError(t, err, "delivery failures are reported via a system comm, not returned")
	assert.NotEmpty(t, c.ID)
	// event.Publish delivers asynchronously, so wait for both events.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond, "expect the original comm.sent plus the system error comm.sent")
}

func TestRouter_SendFromUser_SetsUserSource(t *testing.T) {
	ctx := context.Background()
	r, manager, coord, _, sdk := newTestRouter(t)
	recipient, err := manager.Create(ctx, "proj-1", "/tmp/work", "recipient")
	require.NoError(t, err)
	require.NoError(t, coord.Start(ctx, recipient.ID))

	toMinion := recipient.ID
	c, err := r.SendFromUser(ctx, &types.Comm{Summary: "from the user", ToMinionID: &toMinion})
	require.NoError(t, err)
	assert.Equal(t, types.UserDestination, c.Source)
	require.Len(t, sdk.sent, 1)
	assert.Contains(t, sdk.sent[0], "send_comm")
}
