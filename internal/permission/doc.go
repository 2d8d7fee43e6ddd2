// Package permission implements the orchestrator's permission broker:
// the rendezvous between a minion's tool-permission hook and whatever
// resolves it — a persisted wildcard rule, a doom-loop guard, or a live
// response relayed from an overseer or the server's API.
//
// # Overview
//
// Every tool call a minion's SDK wants to make passes through Evaluate.
// A persisted rule for the session answers immediately; a repeated
// identical call trips the doom-loop guard and is denied outright;
// anything else blocks in Ask until Respond or InterruptSession resolves
// it. There is no timeout — an ask waits however long it takes.
//
//	broker := NewChecker()
//	decision, err := broker.Evaluate(ctx, types.PermissionRequest{
//		SessionID: sid,
//		ToolName:  "Bash",
//		Input:     map[string]any{"command": "git commit -m fix"},
//	})
//
// # Rule Matching
//
// Rules are persisted as the literal string "toolName(ruleContent)" and
// matched against a tool call's command text with wildcard patterns,
// most specific first:
//
//	"git commit *" -> "git *" -> "git" -> "*"
//
// # Session Interrupt
//
// InterruptSession resolves every ask still pending for a session with
// deny, satisfying the invariant that interrupting or terminating a
// session never leaves a minion's tool call blocked forever.
//
// # Doom Loop Detection
//
// DoomLoopDetector tracks the last few tool calls per session and flags
// three identical calls in a row, independent of rule matching.
package permission
