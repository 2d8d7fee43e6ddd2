package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minionctl/orchestrator/internal/event"
	"github.com/minionctl/orchestrator/pkg/types"
)

type mockResponseWriter struct {
	*httptest.ResponseRecorder
	flushed int
}

func (m *mockResponseWriter) Flush() { m.flushed++ }

func newMockResponseWriter() *mockResponseWriter {
	return &mockResponseWriter{ResponseRecorder: httptest.NewRecorder()}
}

type noFlushWriter struct{}

func (n *noFlushWriter) Header() http.Header       { return http.Header{} }
func (n *noFlushWriter) Write([]byte) (int, error) { return 0, nil }
func (n *noFlushWriter) WriteHeader(int)            {}

func TestNewSSEWriter(t *testing.T) {
	w := newMockResponseWriter()
	sse, err := newSSEWriter(w)
	if err != nil {
		t.Fatalf("newSSEWriter failed: %v", err)
	}
	if sse == nil {
		t.Fatal("SSE writer should not be nil")
	}
}

func TestNewSSEWriterNoFlusher(t *testing.T) {
	_, err := newSSEWriter(&noFlushWriter{})
	if err == nil {
		t.Error("expected error for writer without Flusher")
	}
}

func TestSSEWriterWriteEvent(t *testing.T) {
	w := newMockResponseWriter()
	sse, _ := newSSEWriter(w)

	if err := sse.writeEvent("test", map[string]string{"message": "hello"}); err != nil {
		t.Fatalf("writeEvent failed: %v", err)
	}

	body := w.Body.String()
	if !strings.Contains(body, "event: test\n") {
		t.Error("expected event line")
	}
	if !strings.Contains(body, `"message":"hello"`) {
		t.Error("expected data to contain message")
	}
	if w.flushed == 0 {
		t.Error("expected Flush to be called")
	}
}

func TestSSEWriterWriteHeartbeat(t *testing.T) {
	w := newMockResponseWriter()
	sse, _ := newSSEWriter(w)

	sse.writeHeartbeat()

	body := w.Body.String()
	if !strings.Contains(body, ": heartbeat\n") {
		t.Errorf("expected heartbeat comment, got: %s", body)
	}
	if w.flushed == 0 {
		t.Error("expected Flush to be called")
	}
}

func TestSSEEventFormat(t *testing.T) {
	w := newMockResponseWriter()
	sse, _ := newSSEWriter(w)

	sse.writeEvent("message", struct {
		Type string `json:"type"`
		ID   int    `json:"id"`
	}{Type: "test", ID: 123})

	lines := strings.Split(w.Body.String(), "\n")
	if len(lines) < 3 {
		t.Fatalf("expected at least 3 lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "event: ") {
		t.Errorf("first line should be event, got: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "data: ") {
		t.Errorf("second line should be data, got: %s", lines[1])
	}
	if lines[2] != "" {
		t.Errorf("third line should be empty, got: %s", lines[2])
	}
}

func TestSessionEventBelongsTo(t *testing.T) {
	tests := []struct {
		name      string
		event     event.Event
		sessionID string
		expected  bool
	}{
		{
			name:      "message appended matches",
			event:     event.Event{Type: event.MessageAppended, Data: event.MessageAppendedData{SessionID: "session-123"}},
			sessionID: "session-123",
			expected:  true,
		},
		{
			name:      "message appended no match",
			event:     event.Event{Type: event.MessageAppended, Data: event.MessageAppendedData{SessionID: "session-456"}},
			sessionID: "session-123",
			expected:  false,
		},
		{
			name: "permission required matches",
			event: event.Event{Type: event.PermissionRequired, Data: event.PermissionRequiredData{
				Request: &types.PermissionRequest{SessionID: "session-123"},
			}},
			sessionID: "session-123",
			expected:  true,
		},
		{
			name: "tool call matches",
			event: event.Event{Type: event.ToolCallUpdated, Data: event.ToolCallUpdatedData{
				ToolCall: &types.ToolCall{SessionID: "session-123"},
			}},
			sessionID: "session-123",
			expected:  true,
		},
		{
			name:      "unrelated event type never matches",
			event:     event.Event{Type: event.ChannelUpdated, Data: event.ChannelUpdatedData{}},
			sessionID: "session-123",
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sessionEventBelongsTo(tt.event, tt.sessionID); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestSessionEventsUnknownSession(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/session/missing/event", nil)
	req = withURLParam(req, "sessionID", "missing")
	w := httptest.NewRecorder()
	s.sessionEvents(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestLegionEventsUnknownProject(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/legion/missing/event", nil)
	req = withURLParam(req, "projectID", "missing")
	w := httptest.NewRecorder()
	s.legionEvents(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGlobalEventsHeadersAndConnectionEnvelope(t *testing.T) {
	s := newTestServer(t)

	ts := httptest.NewServer(http.HandlerFunc(s.globalEvents))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		t.Skipf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("expected text/event-stream, got: %s", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("expected no-cache, got: %s", cc)
	}

	scanner := bufio.NewScanner(resp.Body)
	var sawConnected bool
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, types.EnvelopeConnectionEstablished) {
			sawConnected = true
			break
		}
	}
	if !sawConnected {
		t.Error("expected a connection_established envelope as the first event")
	}
}

func TestSessionEventsFiltersByID(t *testing.T) {
	event.Reset()
	s := newTestServer(t)
	_, sess := mustCreateProjectAndSession(t, s)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sessionEvents(w, withURLParam(r, "sessionID", sess.ID))
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var lines []string

	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return
		}
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			mu.Lock()
			lines = append(lines, scanner.Text())
			mu.Unlock()
		}
	}()

	time.Sleep(50 * time.Millisecond)

	event.PublishSync(event.Event{Type: event.MessageAppended, Data: event.MessageAppendedData{SessionID: sess.ID}})
	event.PublishSync(event.Event{Type: event.MessageAppended, Data: event.MessageAppendedData{SessionID: "other-session"}})

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()

	foundOwn, foundOther := false, false
	for _, l := range lines {
		if strings.Contains(l, sess.ID) {
			foundOwn = true
		}
		if strings.Contains(l, "other-session") {
			foundOther = true
		}
	}
	if foundOther {
		t.Error("should not have received the other session's event")
	}
	_ = foundOwn // timing-dependent; the important assertion is the negative one above
}
