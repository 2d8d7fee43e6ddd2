package message

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minionctl/orchestrator/internal/event"
	"github.com/minionctl/orchestrator/pkg/types"
)

type fakeGateway struct {
	sess *types.Session
}

func (g *fakeGateway) Get(sid string) (*types.Session, error) { return g.sess, nil }
func (g *fakeGateway) Mutate(ctx context.Context, sid string, fn func(*types.Session)) (*types.Session, error) {
	fn(g.sess)
	return g.sess, nil
}

func TestProcessor_ClassifyAssistant_ExtractsTextAndToolUses(t *testing.T) {
	event.Reset()
	p := NewProcessor()
	ev, err := ParseLine([]byte(`{"type":"assistant","session_id":"s1","message":{"role":"assistant","content":[{"type":"text","text":"hi"},{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`))
	require.NoError(t, err)

	rec := p.Classify(context.Background(), "s1", ev)
	assert.Equal(t, types.MessageAssistant, rec.Type)
	assert.Equal(t, "hi", rec.Content)
	toolUses, ok := rec.Metadata["tool_uses"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, toolUses, 1)
	assert.Equal(t, "Bash", toolUses[0]["name"])
}

func TestProcessor_ClassifyUser_MatchesToolResultToRememberedUse(t *testing.T) {
	event.Reset()
	p := NewProcessor()

	var mu sync.Mutex
	var seen []event.ToolCallUpdatedData
	unsub := event.Subscribe(event.ToolCallUpdated, func(e event.Event) {
		mu.Lock()
		seen = append(seen, e.Data.(event.ToolCallUpdatedData))
		mu.Unlock()
	})
	defer unsub()

	assistantEv, _ := ParseLine([]byte(`{"type":"assistant","session_id":"s1","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Read","input":{"file":"a.go"}}]}}`))
	p.Classify(context.Background(), "s1", assistantEv)

	userEv, _ := ParseLine([]byte(`{"type":"user","session_id":"s1","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"file contents","is_error":false}]}}`))
	rec := p.Classify(context.Background(), "s1", userEv)

	assert.Equal(t, types.MessageUser, rec.Type)
	// event.Publish delivers asynchronously, so wait for both updates.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond, "pending (from assistant) + completed (from user)")

	mu.Lock()
	defer mu.Unlock()
	var completed *types.ToolCall
	for _, d := range seen {
		if d.ToolCall.State == types.ToolCallCompleted {
			completed = d.ToolCall
		}
	}
	require.NotNil(t, completed)
	assert.Equal(t, "Read", completed.Name)
}

func TestProcessor_ClassifyUser_ExitPlanModeResetsPlanMode(t *testing.T) {
	event.Reset()
	p := NewProcessor()
	sess := &types.Session{ID: "s1", PermissionMode: types.ModePlan}
	p.SetModeGateway(&fakeGateway{sess: sess})

	assistantEv, _ := ParseLine([]byte(`{"type":"assistant","session_id":"s1","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"ExitPlanMode","input":{}}]}}`))
	p.Classify(context.Background(), "s1", assistantEv)

	userEv, _ := ParseLine([]byte(`{"type":"user","session_id":"s1","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"ok","is_error":false}]}}`))
	p.Classify(context.Background(), "s1", userEv)

	assert.Equal(t, types.ModeDefault, sess.PermissionMode)
}

func TestProcessor_ClassifyUser_ExitPlanModeLeavesAlreadyChangedMode(t *testing.T) {
	event.Reset()
	p := NewProcessor()
	sess := &types.Session{ID: "s1", PermissionMode: types.ModeAcceptEdits}
	p.SetModeGateway(&fakeGateway{sess: sess})

	assistantEv, _ := ParseLine([]byte(`{"type":"assistant","session_id":"s1","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"ExitPlanMode","input":{}}]}}`))
	p.Classify(context.Background(), "s1", assistantEv)
	userEv, _ := ParseLine([]byte(`{"type":"user","session_id":"s1","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"ok","is_error":false}]}}`))
	p.Classify(context.Background(), "s1", userEv)

	assert.Equal(t, types.ModeAcceptEdits, sess.PermissionMode)
}

func TestProcessor_ClassifyResult(t *testing.T) {
	p := NewProcessor()
	ev, err := ParseLine([]byte(`{"type":"result","subtype":"success","session_id":"s1","duration_ms":120,"num_turns":1,"total_cost_usd":0.01,"result":"done","is_error":false}`))
	require.NoError(t, err)
	rec := p.Classify(context.Background(), "s1", ev)
	assert.Equal(t, types.MessageResult, rec.Type)
	assert.Equal(t, "done", rec.Content)
	assert.Equal(t, "success", rec.Subtype)
}

func TestProcessor_ClassifySystem_InitCarriesEnvironment(t *testing.T) {
	p := NewProcessor()
	ev, err := ParseLine([]byte(`{"type":"system","subtype":"init","session_id":"s1","cwd":"/work","model":"claude","permission_mode":"default","claude_code_version":"1.2.3"}`))
	require.NoError(t, err)
	rec := p.Classify(context.Background(), "s1", ev)
	assert.Equal(t, types.MessageSystem, rec.Type)
	assert.Equal(t, types.SystemInit, rec.Subtype)
	assert.Equal(t, "/work", rec.Metadata["cwd"])
	assert.Equal(t, "1.2.3", rec.Metadata["claude_code_version"])
}

func TestProcessor_Replay_ReusesExistingMetadataWithoutReparsing(t *testing.T) {
	p := NewProcessor()
	rec := &types.MessageRecord{Type: types.MessageAssistant, Content: "hi", SessionID: "s1", Timestamp: 42, Metadata: map[string]any{"tool_uses": []string{}}}
	env := p.Replay(context.Background(), rec)
	assert.Equal(t, "message", env.Type)
	assert.Equal(t, rec.Content, env.Data.Content)
}

func TestProcessor_Replay_ReparsesWhenMetadataMissing(t *testing.T) {
	p := NewProcessor()
	raw := `{"type":"system","subtype":"init","session_id":"s1","cwd":"/work"}`
	rec := &types.MessageRecord{Type: types.MessageSystem, Content: raw, SessionID: "s1", Timestamp: 7}
	env := p.Replay(context.Background(), rec)
	assert.Equal(t, "/work", env.Data.Metadata["cwd"])
	assert.Equal(t, float64(7), env.Data.Timestamp)
}

func TestProcessor_ClearSession_DropsPendingTools(t *testing.T) {
	p := NewProcessor()
	assistantEv, _ := ParseLine([]byte(`{"type":"assistant","session_id":"s1","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Bash","input":{}}]}}`))
	p.Classify(context.Background(), "s1", assistantEv)

	p.ClearSession("s1")

	name, _, ok := p.recallTool("s1", "t1")
	assert.False(t, ok)
	assert.Empty(t, name)
}

func TestParseLine_UnknownTypeParsesWithoutError(t *testing.T) {
	ev, err := ParseLine([]byte(`{"type":"control_request","request_id":"r1"}`))
	require.NoError(t, err)
	assert.Equal(t, "control_request", ev.Type)
	assert.Nil(t, ev.Assistant)
}
