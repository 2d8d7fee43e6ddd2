package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minionctl/orchestrator/internal/mcp"
	"github.com/minionctl/orchestrator/internal/permission"
	"github.com/minionctl/orchestrator/internal/storage"
	"github.com/minionctl/orchestrator/pkg/types"
)

type fakeSDK struct {
	startErr    error
	started     map[string]func(*types.MessageRecord)
	sent        []string
	interrupted []string
	stopped     []string
	modes       map[string]types.PermissionMode
}

func newFakeSDK() *fakeSDK {
	return &fakeSDK{started: map[string]func(*types.MessageRecord){}, modes: map[string]types.PermissionMode{}}
}

func (f *fakeSDK) Start(ctx context.Context, sess *types.Session, onRecord func(*types.MessageRecord)) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started[sess.ID] = onRecord
	return nil
}
func (f *fakeSDK) Send(ctx context.Context, sid, text string) error {
	f.sent = append(f.sent, text)
	if onRecord, ok := f.started[sid]; ok {
		onRecord(&types.MessageRecord{Type: types.MessageResult, SessionID: sid})
	}
	return nil
}
func (f *fakeSDK) Interrupt(ctx context.Context, sid string) error {
	f.interrupted = append(f.interrupted, sid)
	return nil
}
func (f *fakeSDK) SetPermissionMode(ctx context.Context, sid string, mode types.PermissionMode) error {
	f.modes[sid] = mode
	return nil
}
func (f *fakeSDK) Stop(ctx context.Context, sid string) error {
	f.stopped = append(f.stopped, sid)
	return nil
}

type fakeProjects struct{ removed []string }

func (f *fakeProjects) AddSession(ctx context.Context, projectID, sessionID string) error { return nil }
func (f *fakeProjects) RemoveSession(ctx context.Context, projectID, sessionID string) error {
	f.removed = append(f.removed, sessionID)
	return nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *Manager, *fakeSDK) {
	t.Helper()
	m := NewManager(storage.New(t.TempDir()))
	sdk := newFakeSDK()
	perm := permission.NewChecker()
	return NewCoordinator(m, perm, sdk, nil, &fakeProjects{}), m, sdk
}

func TestCoordinator_StartAndSendMessage(t *testing.T) {
	ctx := context.Background()
	c, m, sdk := newTestCoordinator(t)

	sess, err := m.Create(ctx, "proj-1", "/tmp/work", "helper")
	require.NoError(t, err)

	var recorded []*types.MessageRecord
	unsub := c.Subscribe(func(sid string, record *types.MessageRecord) {
		recorded = append(recorded, record)
	})
	defer unsub()

	require.NoError(t, c.start(ctx, sess.ID))
	got, err := m.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, got.State)

	require.NoError(t, c.SendMessage(ctx, sess.ID, "hello"))
	assert.Equal(t, []string{"hello"}, sdk.sent)

	got, _ = m.Get(sess.ID)
	assert.False(t, got.Processing, "result message should clear processing flag")
	assert.NotEmpty(t, recorded)
}

func TestCoordinator_SendMessage_RejectsWhenNotActive(t *testing.T) {
	ctx := context.Background()
	c, m, _ := newTestCoordinator(t)
	sess, err := m.Create(ctx, "proj-1", "/tmp/work", "helper")
	require.NoError(t, err)

	err = c.SendMessage(ctx, sess.ID, "hello")
	assert.Error(t, err)
}

func TestCoordinator_Interrupt_DeniesPendingPermissions(t *testing.T) {
	ctx := context.Background()
	c, m, sdk := newTestCoordinator(t)
	sess, err := m.Create(ctx, "proj-1", "/tmp/work", "helper")
	require.NoError(t, err)
	require.NoError(t, c.start(ctx, sess.ID))
	_, err = m.Mutate(ctx, sess.ID, func(s *types.Session) { s.Processing = true })
	require.NoError(t, err)

	require.NoError(t, c.Interrupt(ctx, sess.ID))
	assert.Equal(t, []string{sess.ID}, sdk.interrupted)

	got, _ := m.Get(sess.ID)
	assert.False(t, got.Processing)
}

func TestCoordinator_PauseAndResume(t *testing.T) {
	ctx := context.Background()
	c, m, sdk := newTestCoordinator(t)
	sess, err := m.Create(ctx, "proj-1", "/tmp/work", "helper")
	require.NoError(t, err)
	require.NoError(t, c.start(ctx, sess.ID))

	require.NoError(t, c.Pause(ctx, sess.ID))
	got, _ := m.Get(sess.ID)
	assert.Equal(t, types.StatePaused, got.State)
	assert.Empty(t, sdk.stopped, "pause should not stop the SDK process")

	require.NoError(t, c.Resume(ctx, sess.ID))
	got, _ = m.Get(sess.ID)
	assert.Equal(t, types.StateActive, got.State)
}

func TestCoordinator_Terminate_StopsWithoutArchiving(t *testing.T) {
	ctx := context.Background()
	c, m, sdk := newTestCoordinator(t)
	sess, err := m.Create(ctx, "proj-1", "/tmp/work", "helper")
	require.NoError(t, err)
	require.NoError(t, c.start(ctx, sess.ID))

	require.NoError(t, c.Terminate(ctx, sess.ID))
	assert.Equal(t, []string{sess.ID}, sdk.stopped)

	got, err := m.Get(sess.ID)
	require.NoError(t, err, "terminate should leave the record in place")
	assert.Equal(t, types.StateTerminated, got.State)
}

func TestCoordinator_SetPermissionMode_RejectsUnknownMode(t *testing.T) {
	ctx := context.Background()
	c, m, _ := newTestCoordinator(t)
	sess, err := m.Create(ctx, "proj-1", "/tmp/work", "helper")
	require.NoError(t, err)

	err = c.SetPermissionMode(ctx, sess.ID, types.PermissionMode("bogus"))
	assert.Error(t, err)

	require.NoError(t, c.SetPermissionMode(ctx, sess.ID, types.ModeAcceptEdits))
	got, _ := m.Get(sess.ID)
	assert.Equal(t, types.ModeAcceptEdits, got.PermissionMode)
}

func TestCoordinator_DeleteCascade_RecursesIntoChildren(t *testing.T) {
	ctx := context.Background()
	c, m, sdk := newTestCoordinator(t)
	parent, err := m.Create(ctx, "proj-1", "/tmp/work", "overseer")
	require.NoError(t, err)
	child, err := m.Create(ctx, "proj-1", "/tmp/work", "child", WithParent(parent.ID, 1))
	require.NoError(t, err)
	_, err = m.Mutate(ctx, parent.ID, func(s *types.Session) {
		s.ChildIDs = []string{child.ID}
		s.IsOverseer = true
	})
	require.NoError(t, err)

	require.NoError(t, c.DeleteCascade(ctx, parent.ID, "test teardown"))

	_, err = m.Get(parent.ID)
	assert.Error(t, err)
	_, err = m.Get(child.ID)
	assert.Error(t, err)
	assert.Contains(t, sdk.stopped, child.ID)
	assert.Contains(t, sdk.stopped, parent.ID)
}

type fakeSchedules struct{ cancelled []string }

func (f *fakeSchedules) CancelByMinion(ctx context.Context, minionID string) error {
	f.cancelled = append(f.cancelled, minionID)
	return nil
}

type fakeChannelLeaver struct{ removed []string }

func (f *fakeChannelLeaver) RemoveFromAll(ctx context.Context, sid string) error {
	f.removed = append(f.removed, sid)
	return nil
}

func TestCoordinator_DeleteCascade_CancelsSchedulesAndLeavesChannels(t *testing.T) {
	ctx := context.Background()
	c, m, _ := newTestCoordinator(t)
	scheds := &fakeSchedules{}
	channels := &fakeChannelLeaver{}
	c.SetSchedules(scheds)
	c.SetChannels(channels)

	sess, err := m.Create(ctx, "proj-1", "/tmp/work", "helper")
	require.NoError(t, err)

	require.NoError(t, c.DeleteCascade(ctx, sess.ID, "test teardown"))

	assert.Equal(t, []string{sess.ID}, scheds.cancelled)
	assert.Equal(t, []string{sess.ID}, channels.removed)
}

func TestCoordinator_SweepOrphans_DetachesDanglingRefs(t *testing.T) {
	ctx := context.Background()
	c, m, _ := newTestCoordinator(t)
	parent, err := m.Create(ctx, "proj-1", "/tmp/work", "overseer")
	require.NoError(t, err)
	_, err = m.Mutate(ctx, parent.ID, func(s *types.Session) {
		s.ChildIDs = []string{"ghost-child"}
		s.IsOverseer = true
	})
	require.NoError(t, err)

	require.NoError(t, c.SweepOrphans(ctx))

	got, err := m.Get(parent.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ChildIDs)
	assert.False(t, got.IsOverseer)
}

type fakeOverseer struct {
	spawned  *types.Session
	disposed string
}

func (f *fakeOverseer) Spawn(ctx context.Context, parentID string, args mcp.SpawnMinionArgs) (*types.Session, error) {
	f.spawned = &types.Session{ID: "child-1", Name: args.Name, ParentID: &parentID}
	return f.spawned, nil
}
func (f *fakeOverseer) Dispose(ctx context.Context, requesterID, sid string) error {
	f.disposed = sid
	return nil
}

type fakeComms struct{ lastArgs mcp.SendCommArgs }

func (f *fakeComms) Route(ctx context.Context, fromSessionID string, args mcp.SendCommArgs) (*types.Comm, error) {
	f.lastArgs = args
	return &types.Comm{ID: "comm-1", Summary: args.Summary}, nil
}

func TestCoordinator_ImplementsMCPToolbox(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	overseer := &fakeOverseer{}
	comms := &fakeComms{}
	c.SetOverseer(overseer)
	c.SetCommRouter(comms)

	sess, err := c.SpawnMinion(ctx, "parent-1", mcp.SpawnMinionArgs{Name: "helper"})
	require.NoError(t, err)
	assert.Equal(t, "helper", sess.Name)

	require.NoError(t, c.DisposeMinion(ctx, "parent-1", "child-1"))
	assert.Equal(t, "child-1", overseer.disposed)

	comm, err := c.SendComm(ctx, "s1", mcp.SendCommArgs{Summary: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", comm.Summary)
}
