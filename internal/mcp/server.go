// Package mcp exposes the orchestrator's cross-minion primitives —
// send_comm, spawn_minion, and dispose_minion — as an in-process Model
// Context Protocol server attached to every minion's SDK launch.
package mcp

import (
	"context"
	"encoding/json"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/minionctl/orchestrator/pkg/types"
)

// Toolbox is implemented by the session coordinator: the handlers below
// are thin adapters from MCP tool-call arguments onto it.
type Toolbox interface {
	SendComm(ctx context.Context, fromSessionID string, args SendCommArgs) (*types.Comm, error)
	SpawnMinion(ctx context.Context, fromSessionID string, args SpawnMinionArgs) (*types.Session, error)
	DisposeMinion(ctx context.Context, fromSessionID string, sessionID string) error
}

// SendCommArgs is the send_comm tool's input schema.
type SendCommArgs struct {
	ToMinionID    string `json:"toMinionID,omitempty" jsonschema:"ID of the minion to message, if sending directly to one minion"`
	ToChannelID   string `json:"toChannelID,omitempty" jsonschema:"ID of the channel to broadcast to, if sending to a channel"`
	ToUser        bool   `json:"toUser,omitempty" jsonschema:"true to send this comm to the human user instead of a minion or channel"`
	Summary       string `json:"summary" jsonschema:"one-line summary of the comm, shown in overviews"`
	Content       string `json:"content" jsonschema:"full comm body"`
	Priority      string `json:"priority,omitempty" jsonschema:"routine, important, pivot, or critical; defaults to routine"`
	VisibleToUser bool   `json:"visibleToUser,omitempty" jsonschema:"true to also surface this comm in the user-facing transcript"`
}

// SpawnMinionArgs is the spawn_minion tool's input schema.
type SpawnMinionArgs struct {
	Name         string   `json:"name" jsonschema:"human-readable name for the new minion"`
	Directory    string   `json:"directory,omitempty" jsonschema:"working directory for the new minion; defaults to the caller's own directory"`
	SystemPrompt string   `json:"systemPrompt,omitempty" jsonschema:"system prompt override for the new minion"`
	Capabilities []string `json:"capabilities,omitempty" jsonschema:"capability keywords the new minion should register under"`
}

// DisposeMinionArgs is the dispose_minion tool's input schema.
type DisposeMinionArgs struct {
	SessionID string `json:"sessionID" jsonschema:"ID of the minion to dispose of; must be a descendant of the caller"`
}

// NewServer builds the MCP server exposing send_comm, spawn_minion, and
// dispose_minion on behalf of sessionID — the minion whose SDK launch
// this server instance is attached to.
func NewServer(tb Toolbox, sessionID string) *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "minionctl",
		Version: "1.0.0",
	}, nil)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "send_comm",
		Description: "Send a comm to another minion, a channel, or the user.",
	}, sendCommHandler(tb, sessionID))

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "spawn_minion",
		Description: "Spawn a new minion as a child of this session.",
	}, spawnMinionHandler(tb, sessionID))

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "dispose_minion",
		Description: "Dispose of a child minion spawned by this session.",
	}, disposeMinionHandler(tb, sessionID))

	return srv
}

func sendCommHandler(tb Toolbox, sessionID string) func(context.Context, *mcpsdk.CallToolRequest, *SendCommArgs) (*mcpsdk.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, args *SendCommArgs) (*mcpsdk.CallToolResult, any, error) {
		comm, err := tb.SendComm(ctx, sessionID, *args)
		if err != nil {
			return errorResult(err), nil, nil
		}
		return jsonResult(comm), nil, nil
	}
}

func spawnMinionHandler(tb Toolbox, sessionID string) func(context.Context, *mcpsdk.CallToolRequest, *SpawnMinionArgs) (*mcpsdk.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, args *SpawnMinionArgs) (*mcpsdk.CallToolResult, any, error) {
		session, err := tb.SpawnMinion(ctx, sessionID, *args)
		if err != nil {
			return errorResult(err), nil, nil
		}
		return jsonResult(session), nil, nil
	}
}

func disposeMinionHandler(tb Toolbox, sessionID string) func(context.Context, *mcpsdk.CallToolRequest, *DisposeMinionArgs) (*mcpsdk.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, args *DisposeMinionArgs) (*mcpsdk.CallToolResult, any, error) {
		if err := tb.DisposeMinion(ctx, sessionID, args.SessionID); err != nil {
			return errorResult(err), nil, nil
		}
		return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "disposed"}}}, nil, nil
	}
}

func jsonResult(v any) *mcpsdk.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(err)
	}
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}}}
}

func errorResult(err error) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
	}
}
