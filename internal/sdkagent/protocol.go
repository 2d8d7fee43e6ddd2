package sdkagent

import (
	"crypto/rand"
	"fmt"
	"os"
	"strings"

	"github.com/minionctl/orchestrator/pkg/types"
)

// buildArgs constructs the claude CLI's bidirectional-mode flags. No
// --print flag is used: the subprocess stays alive on stdin/stdout
// between turns.
func buildArgs(sess *types.Session, resumable bool) []string {
	args := []string{"--input-format", "stream-json", "--output-format", "stream-json", "--verbose"}
	if sess.Model != "" {
		args = append(args, "--model", sess.Model)
	}
	if resumable && sess.ResumeToken != nil && *sess.ResumeToken != "" {
		args = append(args, "--resume", *sess.ResumeToken)
	}
	if len(sess.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(sess.AllowedTools, ","))
	}
	if len(sess.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(sess.DisallowedTools, ","))
	}
	return args
}

// buildEnv returns the subprocess environment: the parent's own env,
// with CLAUDECODE/CLAUDE_CODE_ENTRYPOINT stripped so the subprocess can
// launch cleanly even from inside another agent session, plus our own
// entrypoint tag and any caller-supplied overrides.
func buildEnv(extra map[string]string) []string {
	parent := os.Environ()
	out := make([]string, 0, len(parent)+1+len(extra))
	for _, e := range parent {
		if strings.HasPrefix(e, "CLAUDECODE=") || strings.HasPrefix(e, "CLAUDE_CODE_ENTRYPOINT=") {
			continue
		}
		if idx := strings.IndexByte(e, '='); idx > 0 {
			if _, overridden := extra[e[:idx]]; overridden {
				continue
			}
		}
		out = append(out, e)
	}
	out = append(out, "CLAUDE_CODE_ENTRYPOINT=minionctl-go")
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}

// initializeMsg builds the control_request that configures the
// subprocess: system prompt, the in-process MCP server bridging
// send_comm/spawn_minion/dispose_minion, and the starting permission
// mode.
func initializeMsg(sess *types.Session, mcpServerURL string) any {
	servers := map[string]any{}
	if mcpServerURL != "" {
		servers["minionctl"] = map[string]any{"type": "http", "url": mcpServerURL}
	}
	req := map[string]any{
		"subtype":           "initialize",
		"systemPrompt":      sess.SystemPrompt,
		"sdkMcpServers":      servers,
		"permissionMode":    string(sess.PermissionMode),
		"promptSuggestions": false,
	}
	if sess.Sandbox.Enabled {
		req["sandbox"] = sess.Sandbox
	}
	return map[string]any{
		"type":       "control_request",
		"request_id": newRequestID(),
		"request":    req,
	}
}

// userMsg builds the "user" message carrying the prompt text.
func userMsg(prompt string) any {
	return map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": prompt,
		},
		"parent_tool_use_id": nil,
	}
}

// canUseToolEnvelope is the shape of a "can_use_tool" control_request.
type canUseToolEnvelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Request   struct {
		Subtype     string             `json:"subtype"`
		ToolName    string             `json:"tool_name"`
		ToolUseID   string             `json:"tool_use_id"`
		Input       map[string]any     `json:"input"`
		Suggestions []types.Suggestion `json:"permission_suggestions,omitempty"`
	} `json:"request"`
}

// newRequestID generates a random v4-shaped UUID string for correlating
// control_request/control_response pairs.
func newRequestID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}
