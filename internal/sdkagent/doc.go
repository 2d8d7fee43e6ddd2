// Package sdkagent is the SDK Adapter: it spawns one coding-agent
// subprocess per minion session in bidirectional JSONL mode, classifies
// its output through internal/message before handing records to the
// Session Coordinator, and answers its tool-permission hook via
// internal/permission.
//
// # Wire protocol
//
// The subprocess speaks newline-delimited JSON on stdin/stdout. On
// launch, an "initialize" control_request carries the system prompt,
// an in-process MCP server URL (send_comm/spawn_minion/dispose_minion),
// and the session's permission mode, followed by a "user" message
// carrying the prompt. The subprocess in turn issues its own
// control_requests — "can_use_tool" for every tool call, answered by
// the Permission Broker — which must never reach the Coordinator as
// ordinary transcript output.
//
// # Process lifetime
//
// One subprocess is kept alive per Active session (Start spawns it;
// Send writes another user message to the same stdin without
// respawning). Interrupt sends an "interrupt" control_request and leaves
// the process running. Stop closes stdin and sends SIGTERM, escalating
// to SIGKILL after a grace period if the process lingers.
package sdkagent
