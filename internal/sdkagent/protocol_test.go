package sdkagent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minionctl/orchestrator/pkg/types"
)

func TestBuildArgs_AppliesModelResumeAndToolFilters(t *testing.T) {
	token := "tok-123"
	sess := &types.Session{
		Model:           "claude-opus",
		ResumeToken:     &token,
		AllowedTools:    []string{"Bash", "Read"},
		DisallowedTools: []string{"WebFetch"},
	}
	args := buildArgs(sess, true)
	assert.Contains(t, args, "--model")
	assert.Contains(t, args, "claude-opus")
	assert.Contains(t, args, "--resume")
	assert.Contains(t, args, "tok-123")
	assert.Contains(t, args, "--allowedTools")
	assert.Contains(t, args, "Bash,Read")
	assert.Contains(t, args, "--disallowedTools")
	assert.Contains(t, args, "WebFetch")
}

func TestBuildArgs_OmitsResumeWhenNotResumable(t *testing.T) {
	token := "tok-123"
	sess := &types.Session{ResumeToken: &token}
	args := buildArgs(sess, false)
	assert.NotContains(t, args, "--resume")
}

func TestBuildEnv_StripsClaudeCodeMarkersAndAppliesEntrypoint(t *testing.T) {
	t.Setenv("CLAUDECODE", "1")
	t.Setenv("CLAUDE_CODE_ENTRYPOINT", "cli")
	env := buildEnv(map[string]string{"FOO": "bar"})

	for _, e := range env {
		assert.NotContains(t, e, "CLAUDECODE=1")
	}
	assert.Contains(t, env, "CLAUDE_CODE_ENTRYPOINT=minionctl-go")
	assert.Contains(t, env, "FOO=bar")
}

func TestInitializeMsg_CarriesSystemPromptAndMCPServer(t *testing.T) {
	sess := &types.Session{SystemPrompt: "be helpful", PermissionMode: types.ModeDefault}
	msg := initializeMsg(sess, "http://127.0.0.1:9999")
	b, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded struct {
		Type    string `json:"type"`
		Request struct {
			Subtype      string         `json:"subtype"`
			SystemPrompt string         `json:"systemPrompt"`
			SDKMcpServers map[string]any `json:"sdkMcpServers"`
		} `json:"request"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "control_request", decoded.Type)
	assert.Equal(t, "initialize", decoded.Request.Subtype)
	assert.Equal(t, "be helpful", decoded.Request.SystemPrompt)
	assert.Contains(t, decoded.Request.SDKMcpServers, "minionctl")
}

func TestUserMsg_WrapsPromptAsUserRole(t *testing.T) {
	msg := userMsg("hello")
	b, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded struct {
		Type    string `json:"type"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "user", decoded.Type)
	assert.Equal(t, "user", decoded.Message.Role)
	assert.Equal(t, "hello", decoded.Message.Content)
}

func TestNewRequestID_ProducesDistinctUUIDShapedIDs(t *testing.T) {
	a := newRequestID()
	b := newRequestID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}

func TestCanUseToolEnvelope_ParsesRequestFields(t *testing.T) {
	raw := `{"type":"control_request","request_id":"r1","request":{"subtype":"can_use_tool","tool_name":"Bash","tool_use_id":"t1","input":{"command":"ls"},"permission_suggestions":[{"type":"setMode","mode":"plan"}]}}`
	var env canUseToolEnvelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	assert.Equal(t, "r1", env.RequestID)
	assert.Equal(t, "can_use_tool", env.Request.Subtype)
	assert.Equal(t, "Bash", env.Request.ToolName)
	require.Len(t, env.Request.Suggestions, 1)
	assert.Equal(t, "setMode", env.Request.Suggestions[0].Type)
}
