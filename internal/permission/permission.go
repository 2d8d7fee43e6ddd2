// Package permission implements the permission broker: the rendezvous
// point between a minion's SDK adapter asking "can I run this tool?"
// and either a persisted rule, an overseer's live response, or a
// session interrupt that forces every outstanding ask to deny.
package permission

import "github.com/minionctl/orchestrator/pkg/types"

// RejectedError is returned when a tool call is denied, either by a
// persisted rule, an explicit user response, or a session interrupt.
type RejectedError struct {
	SessionID string
	ToolName  string
	RequestID string
	Message   string
}

func (e *RejectedError) Error() string {
	return e.Message
}

// IsRejectedError checks if an error is a permission rejection.
func IsRejectedError(err error) bool {
	_, ok := err.(*RejectedError)
	return ok
}

// commandText extracts the text a wildcard rule is matched against from
// a tool call's input. Bash-shaped tools carry their command under a
// "command" key; everything else matches against the tool name alone,
// so non-bash rules degenerate to exact-or-wildcard matching on name.
func commandText(toolName string, input map[string]any) string {
	if cmd, ok := input["command"].(string); ok && cmd != "" {
		return cmd
	}
	return toolName
}

// inputFilePath extracts the filesystem path a tool call reads or edits,
// trying the key names the built-in file tools use in turn. Returns ""
// for tool calls that don't carry one (e.g. Bash).
func inputFilePath(input map[string]any) string {
	for _, key := range []string{"file_path", "path", "notebook_path"} {
		if p, ok := input[key].(string); ok && p != "" {
			return p
		}
	}
	return ""
}

// matchesRule reports whether a persisted rule covers this tool call.
func matchesRule(rule types.Rule, toolName string, input map[string]any) bool {
	if rule.ToolName != toolName {
		return false
	}
	return MatchRule(rule.RuleContent, commandText(toolName, input))
}
