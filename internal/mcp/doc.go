/*
Package mcp attaches three cross-minion primitives to every minion's SDK
launch via an in-process Model Context Protocol server:

  - send_comm: route a comm to another minion, a channel, or the user
  - spawn_minion: create a child minion under the calling session
  - dispose_minion: tear down a child minion

NewServer builds an *mcp.Server bound to one session ID and backed by a
Toolbox (implemented by the session coordinator). The session's SDK
adapter starts this server in-process and passes its address into the
subprocess's MCP server configuration, the same in-process-HTTP-server
pattern the agent SDK's own examples use for exposing Go-native tools.

Tool calls never cross a process boundary beyond the one the minion's
subprocess already makes to reach this server's HTTP endpoint — there is
no separate MCP client role in this package, since the orchestrator is
always the tool provider here, never a consumer of external MCP servers.
*/
package mcp
