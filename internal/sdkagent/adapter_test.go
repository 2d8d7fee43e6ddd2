package sdkagent

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minionctl/orchestrator/internal/message"
	"github.com/minionctl/orchestrator/internal/permission"
	"github.com/minionctl/orchestrator/pkg/types"
)

// fakeClaude writes a minimal but real JSONL protocol implementation: it
// acks initialize/interrupt control_requests and answers every "user"
// message with one assistant text block followed by a result. It stands
// in for the real claude binary, which these tests cannot build or
// invoke.
const fakeClaudeScript = `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    *'"subtype":"initialize"'*|*'"subtype":"interrupt"'*|*'"subtype":"set_permission_mode"'*)
      reqid=$(printf '%s' "$line" | sed -n 's/.*"request_id":"\([^"]*\)".*/\1/p')
      printf '{"type":"control_response","request_id":"%s","response":{"subtype":"success"}}\n' "$reqid"
      ;;
    *'"type":"user"'*)
      printf '{"type":"assistant","session_id":"s1","message":{"role":"assistant","content":[{"type":"text","text":"hi there"}]}}\n'
      printf '{"type":"result","subtype":"success","session_id":"s1","duration_ms":10,"num_turns":1,"total_cost_usd":0.001,"result":"done","is_error":false}\n'
      ;;
  esac
done
`

func writeFakeClaude(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-claude.sh")
	require.NoError(t, os.WriteFile(path, []byte(fakeClaudeScript), 0o755))
	return path
}

func newTestAdapter(t *testing.T) (*Adapter, *[]*types.MessageRecord, *sync.Mutex) {
	t.Helper()
	a := New(message.NewProcessor(), permission.NewChecker())
	a.ClaudeExecutable = writeFakeClaude(t)
	records := &[]*types.MessageRecord{}
	mu := &sync.Mutex{}
	return a, records, mu
}

func recorder(records *[]*types.MessageRecord, mu *sync.Mutex) func(*types.MessageRecord) {
	return func(r *types.MessageRecord) {
		mu.Lock()
		*records = append(*records, r)
		mu.Unlock()
	}
}

func waitForRecordType(t *testing.T, records *[]*types.MessageRecord, mu *sync.Mutex, kind types.MessageKind) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		for _, r := range *records {
			if r.Type == kind {
				mu.Unlock()
				return
			}
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for a %s record", kind)
}

func TestAdapter_StartSend_StreamsClassifiedRecords(t *testing.T) {
	a, records, mu := newTestAdapter(t)
	sess := &types.Session{ID: "s1", Directory: t.TempDir(), PermissionMode: types.ModeDefault}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Start(ctx, sess, recorder(records, mu)))
	require.NoError(t, a.Send(ctx, "s1", "hello"))

	waitForRecordType(t, records, mu, types.MessageResult)

	mu.Lock()
	defer mu.Unlock()
	var sawAssistant bool
	for _, r := range *records {
		if r.Type == types.MessageAssistant {
			sawAssistant = true
			assert.Equal(t, "hi there", r.Content)
		}
	}
	assert.True(t, sawAssistant)

	require.NoError(t, a.Stop(context.Background(), "s1"))
}

func TestAdapter_Send_WithoutStart_Errors(t *testing.T) {
	a, records, mu := newTestAdapter(t)
	err := a.Send(context.Background(), "never-started", "hi")
	assert.Error(t, err)
	_ = records
	_ = mu
}

func TestAdapter_Interrupt_LeavesSubprocessUsable(t *testing.T) {
	a, records, mu := newTestAdapter(t)
	sess := &types.Session{ID: "s1", Directory: t.TempDir(), PermissionMode: types.ModeDefault}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Start(ctx, sess, recorder(records, mu)))
	require.NoError(t, a.Interrupt(ctx, "s1"))

	// the subprocess must still be alive: a Send after Interrupt should
	// succeed rather than error as it would against a torn-down process.
	require.NoError(t, a.Send(ctx, "s1", "still here?"))
	waitForRecordType(t, records, mu, types.MessageResult)

	require.NoError(t, a.Stop(context.Background(), "s1"))
}

func TestAdapter_Interrupt_OnUnknownSession_IsNoop(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	assert.NoError(t, a.Interrupt(context.Background(), "nope"))
}

func TestAdapter_Stop_ThenSend_Errors(t *testing.T) {
	a, records, mu := newTestAdapter(t)
	sess := &types.Session{ID: "s1", Directory: t.TempDir(), PermissionMode: types.ModeDefault}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Start(ctx, sess, recorder(records, mu)))
	require.NoError(t, a.Stop(ctx, "s1"))

	err := a.Send(context.Background(), "s1", "hello again")
	assert.Error(t, err)
}

func TestAdapter_ResumeGating_TracksReportedVersion(t *testing.T) {
	a := New(message.NewProcessor(), permission.NewChecker())
	assert.True(t, a.resumable("s1")) // no version seen yet: assume resumable

	a.noteVersion("s1", "0.5.0")
	assert.False(t, a.resumable("s1"))

	a.noteVersion("s1", "2.0.0")
	assert.True(t, a.resumable("s1"))
}
