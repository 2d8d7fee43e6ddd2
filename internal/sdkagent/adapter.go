package sdkagent

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/minionctl/orchestrator/internal/mcp"
	"github.com/minionctl/orchestrator/internal/message"
	"github.com/minionctl/orchestrator/internal/permission"
	"github.com/minionctl/orchestrator/pkg/types"
)

// minResumableVersion is the lowest claude CLI version whose --resume
// token format this adapter trusts. A session reporting an older version
// on its init message is still launched, but without --resume on any
// later relaunch: it starts a fresh conversation rather than risk an
// incompatible token.
var minResumableVersion = semver.MustParse("1.0.0")

// Adapter is the SDK Adapter (spec §4.1/§4.2): it owns one subprocess
// per Active session, classifies its output through a message.Processor,
// and answers its tool-permission hook through a permission.Broker.
type Adapter struct {
	ClaudeExecutable string
	Env              map[string]string

	processor *message.Processor
	perm      *permission.Broker

	toolbox mcp.Toolbox

	mu    sync.Mutex
	procs map[string]*proc
	// versions records the last-seen ClaudeCodeVersion per session so a
	// relaunch can decide whether --resume is safe to pass.
	versions map[string]*semver.Version
}

// New builds an Adapter. SetToolbox must be called before the first
// Start, since every launched subprocess needs a Toolbox to bridge its
// MCP server onto.
func New(processor *message.Processor, perm *permission.Broker) *Adapter {
	return &Adapter{
		processor: processor,
		perm:      perm,
		procs:     make(map[string]*proc),
		versions:  make(map[string]*semver.Version),
	}
}

// SetToolbox wires the cross-minion primitives (send_comm/spawn_minion/
// dispose_minion) exposed to every subprocess via its in-process MCP
// server. Resolves the same construction-order cycle as
// session.Coordinator's SetOverseer/SetCommRouter: the toolbox is
// usually the Coordinator itself.
func (a *Adapter) SetToolbox(tb mcp.Toolbox) { a.toolbox = tb }

// startMCPBridge starts the in-process MCP HTTP server for sessionID and
// returns its loopback URL and a shutdown func. Grounded on the
// StartInProcessMCPServer pattern: bind 127.0.0.1:0, serve
// NewStreamableHTTPHandler, tear down on ctx cancellation or explicit
// shutdown.
func (a *Adapter) startMCPBridge(ctx context.Context, sessionID string) (string, func(), error) {
	if a.toolbox == nil {
		return "", func() {}, nil
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("sdkagent: mcp listen: %w", err)
	}

	srv := mcp.NewServer(a.toolbox, sessionID)
	handler := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return srv
	}, nil)

	httpServer := &http.Server{Handler: handler}
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Debug().Err(err).Str("sessionID", sessionID).Msg("mcp bridge server stopped")
		}
	}()

	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		})
	}
	go func() {
		<-ctx.Done()
		shutdown()
	}()

	return "http://" + listener.Addr().String(), shutdown, nil
}

// newRetryBackoff bounds the launch retry curve: a few quick retries for
// a subprocess that fails to start (missing executable, bad args), never
// longer than the caller's own context allows.
func newRetryBackoff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 3 * time.Second
	b.MaxElapsedTime = 15 * time.Second
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	return backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx)
}

// Start spawns sess's subprocess and begins streaming classified
// records to onRecord. It retries a handful of times on launch failure
// (the executable briefly unavailable, a transient fork/exec error) but
// does not retry a launch that fails after the subprocess has already
// started talking.
func (a *Adapter) Start(ctx context.Context, sess *types.Session, onRecord func(*types.MessageRecord)) error {
	var p *proc
	operation := func() error {
		launched, err := a.launch(ctx, sess, onRecord)
		if err != nil {
			return err
		}
		p = launched
		return nil
	}

	if err := backoff.Retry(operation, newRetryBackoff(ctx)); err != nil {
		return fmt.Errorf("sdkagent: launch %s: %w", sess.ID, err)
	}

	a.mu.Lock()
	a.procs[sess.ID] = p
	a.mu.Unlock()
	return nil
}

// Send writes a user message to sid's running subprocess. If none is
// registered or it has exited (e.g. after Stop or a crash), Send returns
// an error; it does not relaunch the subprocess.
func (a *Adapter) Send(ctx context.Context, sid, text string) error {
	a.mu.Lock()
	p := a.procs[sid]
	a.mu.Unlock()

	if p == nil || isDone(p) {
		return fmt.Errorf("sdkagent: send %s: no running subprocess (call Start first)", sid)
	}

	return p.write(userMsg(text))
}

// Interrupt cancels sid's in-flight turn without tearing down the
// subprocess: it sends an "interrupt" control_request and waits for the
// CLI to acknowledge it, so a subsequent Send can continue the same
// conversation without a relaunch. This is a deliberate departure from
// a bare SDK client's Interrupt, which closes the whole process — that
// would strand the session, since the Coordinator's SendMessage never
// restarts a process on its own and a session that is merely interrupted
// (not terminated) is expected to stay Active.
func (a *Adapter) Interrupt(ctx context.Context, sid string) error {
	a.mu.Lock()
	p := a.procs[sid]
	a.mu.Unlock()

	if p == nil || isDone(p) {
		return nil
	}
	return p.sendControlRequest(ctx, "interrupt", nil)
}

// SetPermissionMode pushes a live mode change to a running subprocess via
// a set_permission_mode control_request.
func (a *Adapter) SetPermissionMode(ctx context.Context, sid string, mode types.PermissionMode) error {
	a.mu.Lock()
	p := a.procs[sid]
	a.mu.Unlock()

	if p == nil || isDone(p) {
		return fmt.Errorf("sdkagent: set permission mode %s: no running subprocess", sid)
	}
	return p.sendControlRequest(ctx, "set_permission_mode", map[string]any{"mode": string(mode)})
}

// Stop gracefully shuts down sid's subprocess (close stdin, SIGTERM,
// SIGKILL after a grace period) and forgets it. Unlike Interrupt, this
// is the process-terminating operation — used on session termination,
// restart, and disposal.
func (a *Adapter) Stop(ctx context.Context, sid string) error {
	a.mu.Lock()
	p := a.procs[sid]
	delete(a.procs, sid)
	a.mu.Unlock()

	if p == nil {
		return nil
	}
	p.shutdown()
	a.processor.ClearSession(sid)
	return nil
}

func isDone(p *proc) bool {
	select {
	case <-p.procDone:
		return true
	default:
		return false
	}
}

// noteVersion records a session's reported CLI version off its init
// system message, gating whether a later relaunch may pass --resume.
func (a *Adapter) noteVersion(sid, reported string) {
	v, err := semver.NewVersion(reported)
	if err != nil {
		return
	}
	a.mu.Lock()
	a.versions[sid] = v
	a.mu.Unlock()
}

// resumable reports whether sid's last-seen CLI version is new enough to
// trust --resume's token format.
func (a *Adapter) resumable(sid string) bool {
	a.mu.Lock()
	v, ok := a.versions[sid]
	a.mu.Unlock()
	return !ok || !v.LessThan(minResumableVersion)
}
