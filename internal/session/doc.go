// Package session implements the Session Lifecycle Engine.
//
// Manager owns the authoritative session registry: one *types.Session
// per sid, persisted as a JSON snapshot plus a messages.jsonl transcript
// under storage path ["session", sid, ...], with an explicit state
// machine (state.go) instead of implicit field writes.
//
// Coordinator is the composition root: it drives Manager together with
// an SDK Adapter, a Permission Broker, a per-session Queue, and a Comm
// Router, fans out every appended transcript record to registered
// observers, and implements internal/mcp.Toolbox so a minion's own MCP
// server can reach send_comm/spawn_minion/dispose_minion back into this
// process. Cascading delete and startup orphan sweeps live on the
// Coordinator, since they cross into project/permission/schedule/channel
// bookkeeping the Manager deliberately knows nothing about; the archival
// move to archives/minions/<sid>/<timestamp>/ itself is done by
// Manager.Delete.
package session
