// Package server provides the HTTP transport for the orchestrator.
//
// It exposes a REST + SSE surface over the session, queue, comm,
// channel, overseer, schedule, and permission components: session
// lifecycle management and messaging, inter-minion comm routing,
// channel membership, cron-driven schedules, the permission-request
// protocol, and real-time event streaming.
//
// # Core Components
//
//   - HTTP Server: chi-based router with middleware for request IDs,
//     logging, recovery, and CORS
//   - Session Lifecycle: create/start/interrupt/reset/restart/delete a
//     minion, send it a message, replay its transcript
//   - Comm Routing: user-originated comms addressed to a minion or
//     channel
//   - Channel and Schedule CRUD: membership and cron-driven prompts
//     scoped to a legion
//   - Permission Protocol: deliver permission requests and accept
//     decisions
//   - Event Streaming: three SSE surfaces — per-session, per-legion,
//     and a server-wide control stream
//
// # API Endpoints
//
//   - /project/*: legion listing and resolution by working directory
//   - /session/*: session lifecycle, messaging, and its SSE stream
//   - /channel/*: channel CRUD and membership
//   - /schedule/*: schedule CRUD and pause/resume/cancel
//   - /comm: post a user-originated comm
//   - /legion/{projectID}/event: comm stream scoped to one legion
//   - /event: server-wide control stream
//
// File browsing, git status, provider/config management, and TUI
// remote control are handled by separate collaborators and are out of
// scope for this package.
package server
