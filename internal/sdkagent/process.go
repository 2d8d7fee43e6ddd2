package sdkagent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/minionctl/orchestrator/internal/message"
	"github.com/minionctl/orchestrator/internal/permission"
	"github.com/minionctl/orchestrator/pkg/types"
)

// shutdownGrace is how long Stop waits after SIGTERM before escalating
// to SIGKILL.
const shutdownGrace = 5 * time.Second

type controlAck struct {
	success bool
	errMsg  string
}

// proc is one minion's live subprocess handle.
type proc struct {
	sessionID string
	cmd       *exec.Cmd

	stdinMu sync.Mutex
	stdin   io.WriteCloser

	pendingMu sync.Mutex
	pending   map[string]chan controlAck

	mcpShutdown func()

	interruptOnce sync.Once
	interruptCh   chan struct{}
	procDone      chan struct{}
}

func (p *proc) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	_, err = p.stdin.Write(b)
	return err
}

func (p *proc) closeStdin() {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	_ = p.stdin.Close()
}

// shutdown closes stdin, sends SIGTERM, and escalates to SIGKILL after
// shutdownGrace if the process hasn't exited.
func (p *proc) shutdown() {
	p.interruptOnce.Do(func() { close(p.interruptCh) })
	p.closeStdin()
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-time.After(shutdownGrace):
		_ = p.cmd.Process.Kill()
	case <-p.procDone:
	}
	if p.mcpShutdown != nil {
		p.mcpShutdown()
	}
}

// sendControlRequest writes a control_request and blocks for its
// correlated control_response.
func (p *proc) sendControlRequest(ctx context.Context, subtype string, extras map[string]any) error {
	reqID := newRequestID()
	ch := make(chan controlAck, 1)
	p.pendingMu.Lock()
	p.pending[reqID] = ch
	p.pendingMu.Unlock()

	req := map[string]any{"subtype": subtype}
	for k, v := range extras {
		req[k] = v
	}
	if err := p.write(map[string]any{"type": "control_request", "request_id": reqID, "request": req}); err != nil {
		p.pendingMu.Lock()
		delete(p.pending, reqID)
		p.pendingMu.Unlock()
		return err
	}

	select {
	case ack := <-ch:
		if !ack.success {
			return fmt.Errorf("sdkagent: %s: %s", subtype, ack.errMsg)
		}
		return nil
	case <-ctx.Done():
		p.pendingMu.Lock()
		delete(p.pending, reqID)
		p.pendingMu.Unlock()
		return ctx.Err()
	case <-p.procDone:
		return fmt.Errorf("sdkagent: %s: subprocess exited", subtype)
	}
}

// launch starts the claude subprocess for sess in bidirectional JSONL
// mode, sends the initialize control_request, and begins the reader
// loop that classifies output through processor and hands records to
// onRecord.
func (a *Adapter) launch(ctx context.Context, sess *types.Session, onRecord func(*types.MessageRecord)) (*proc, error) {
	mcpServerURL, mcpShutdown, err := a.startMCPBridge(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("sdkagent: mcp bridge: %w", err)
	}

	executable := a.ClaudeExecutable
	if executable == "" {
		executable = "claude"
	}
	cmd := exec.Command(executable, buildArgs(sess, a.resumable(sess.ID))...)
	cmd.Dir = sess.Directory
	cmd.Env = buildEnv(a.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		mcpShutdown()
		return nil, fmt.Errorf("sdkagent: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		mcpShutdown()
		return nil, fmt.Errorf("sdkagent: stdout pipe: %w", err)
	}
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		mcpShutdown()
		return nil, fmt.Errorf("sdkagent: start %q: %w", executable, err)
	}

	p := &proc{
		sessionID:   sess.ID,
		cmd:         cmd,
		stdin:       stdin,
		pending:     make(map[string]chan controlAck),
		mcpShutdown: mcpShutdown,
		interruptCh: make(chan struct{}),
		procDone:    make(chan struct{}),
	}

	if err := p.write(initializeMsg(sess, mcpServerURL)); err != nil {
		_ = cmd.Process.Kill()
		mcpShutdown()
		return nil, fmt.Errorf("sdkagent: initialize: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			p.interruptOnce.Do(func() { close(p.interruptCh) })
		case <-p.interruptCh:
		case <-p.procDone:
			return
		}
		p.closeStdin()
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-time.After(shutdownGrace):
			_ = cmd.Process.Kill()
		case <-p.procDone:
		}
	}()

	go a.readLoop(ctx, p, stdout, &stderrBuf, onRecord)

	return p, nil
}

// readLoop scans the subprocess's stdout line by line, intercepting
// control_request/control_response frames and classifying everything
// else through the message processor before invoking onRecord.
func (a *Adapter) readLoop(ctx context.Context, p *proc, stdout io.Reader, stderrBuf *bytes.Buffer, onRecord func(*types.MessageRecord)) {
	defer close(p.procDone)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 4*1024*1024), 4*1024*1024)

	gotResult := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var d struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(line, &d); err != nil {
			continue
		}

		switch d.Type {
		case "control_request":
			a.handleControlRequest(ctx, p, line)
			continue
		case "control_response":
			routeControlResponse(p, line)
			continue
		}

		ev, err := message.ParseLine(line)
		if err != nil {
			continue
		}
		record := a.processor.Classify(ctx, p.sessionID, ev)
		if record.Type == types.MessageSystem && record.Subtype == types.SystemInit {
			if v, ok := record.Metadata["claude_code_version"].(string); ok {
				a.noteVersion(p.sessionID, v)
			}
		}
		onRecord(record)
		if ev.Type == "result" {
			gotResult = true
		}
	}

	if err := scanner.Err(); err != nil {
		onRecord(a.processor.Synthetic(p.sessionID, "error", fmt.Sprintf("stdout read error: %v", err)))
	}
	if err := p.cmd.Wait(); err != nil && !gotResult {
		msg := err.Error()
		if stderr := strings.TrimSpace(stderrBuf.String()); stderr != "" {
			msg = stderr
		}
		onRecord(a.processor.Synthetic(p.sessionID, "error", msg))
	}
	if p.mcpShutdown != nil {
		p.mcpShutdown()
	}
}

// handleControlRequest answers a can_use_tool request via the
// permission broker; every other subtype (set_permission_mode acks,
// hook callbacks this orchestrator doesn't register any of, etc.) is
// acknowledged silently, matching the CLI's own read-only notifications.
func (a *Adapter) handleControlRequest(ctx context.Context, p *proc, line []byte) {
	var env canUseToolEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return
	}

	if env.Request.Subtype != "can_use_tool" {
		_ = p.write(map[string]any{
			"type": "control_response",
			"response": map[string]any{
				"subtype":    "success",
				"request_id": env.RequestID,
			},
		})
		return
	}

	req := types.PermissionRequest{
		SessionID:   p.sessionID,
		ToolName:    env.Request.ToolName,
		Input:       env.Request.Input,
		Suggestions: env.Request.Suggestions,
	}
	decision, err := a.perm.Evaluate(ctx, req)
	allowed := err == nil
	resp := map[string]any{"allowed": allowed, "toolUseID": env.Request.ToolUseID}
	if allowed {
		if decision.UpdatedInput != nil {
			resp["updatedInput"] = decision.UpdatedInput
		}
		if decision.Interrupt != nil && *decision.Interrupt {
			resp["interrupt"] = true
		}
	} else if rejected, ok := err.(*permission.RejectedError); ok {
		resp["message"] = rejected.Message
	} else {
		log.Warn().Err(err).Str("sessionID", p.sessionID).Msg("permission evaluation failed")
		resp["message"] = "permission evaluation failed"
	}

	_ = p.write(map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "success",
			"request_id": env.RequestID,
			"response":   resp,
		},
	})
}

// routeControlResponse resolves a pending outbound control_request
// (set_permission_mode, interrupt) by request id.
func routeControlResponse(p *proc, line []byte) {
	var env struct {
		RequestID string `json:"request_id"`
		Response  struct {
			Subtype string `json:"subtype"`
			Error   string `json:"error,omitempty"`
		} `json:"response"`
	}
	if err := json.Unmarshal(line, &env); err != nil || env.RequestID == "" {
		return
	}
	p.pendingMu.Lock()
	ch, ok := p.pending[env.RequestID]
	if ok {
		delete(p.pending, env.RequestID)
	}
	p.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- controlAck{success: env.Response.Subtype != "error", errMsg: env.Response.Error}:
	default:
	}
}
