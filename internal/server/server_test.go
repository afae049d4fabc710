package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/agent"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/llm"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/sessions"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/stream"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/pkg/models"
)

// echoLLM answers every turn with fixed text and no tool calls.
type echoLLM struct {
	text string
}

func (e *echoLLM) Model() string { return "echo" }

func (e *echoLLM) Stream(ctx context.Context, history []models.Turn, tools []*genai.FunctionDeclaration) (<-chan llm.Delta, error) {
	out := make(chan llm.Delta)
	go func() {
		defer close(out)
		part := models.Part{Text: e.text}
		out <- llm.Delta{Part: &part}
		out <- llm.Delta{Final: &llm.Candidate{Parts: []models.Part{part}}}
	}()
	return out, nil
}

type okPinger struct{}

func (okPinger) Ping(ctx context.Context) error { return nil }

func newTestServer(t *testing.T) (*Server, *sessions.Store) {
	t.Helper()
	registry := agent.NewRegistry(nil, nil)
	orchestrator := agent.NewOrchestrator(&echoLLM{text: "Hello."}, registry, nil)
	sessionStore := sessions.NewStore()
	return New(orchestrator, sessionStore, okPinger{}, nil, nil, "", 0), sessionStore
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestChat_ReturnsAnswerAndSession(t *testing.T) {
	srv, store := newTestServer(t)
	handler := srv.Handler()

	recorder := postJSON(t, handler, "/chat", map[string]any{"message": "hi"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp chatResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Response != "Hello." {
		t.Errorf("response = %q", resp.Response)
	}
	if !sessionIDPattern.MatchString(resp.SessionID) {
		t.Errorf("session id %q is not a canonical v4 UUID", resp.SessionID)
	}
	if resp.ToolCalls == nil {
		t.Error("toolCalls should be present (empty array)")
	}
	if resp.Timestamp == "" {
		t.Error("timestamp missing")
	}

	// The trimmed history was persisted.
	history, ok := store.Get(resp.SessionID)
	if !ok || len(history) != 2 {
		t.Errorf("persisted history = %d turns, ok=%v", len(history), ok)
	}
}

func TestChat_SessionContinuity(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	first := postJSON(t, handler, "/chat", map[string]any{"message": "hi"})
	var resp chatResponse
	_ = json.Unmarshal(first.Body.Bytes(), &resp)

	second := postJSON(t, handler, "/chat", map[string]any{
		"message":   "again",
		"sessionId": resp.SessionID,
	})
	var resp2 chatResponse
	_ = json.Unmarshal(second.Body.Bytes(), &resp2)
	if resp2.SessionID != resp.SessionID {
		t.Errorf("session id changed: %q -> %q", resp.SessionID, resp2.SessionID)
	}
}

func TestChat_Validation(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	cases := []struct {
		name string
		body map[string]any
	}{
		{"empty message", map[string]any{"message": ""}},
		{"too long", map[string]any{"message": strings.Repeat("x", 2001)}},
		{"bad session id", map[string]any{"message": "hi", "sessionId": "not-a-uuid"}},
		{"uppercase uuid", map[string]any{"message": "hi", "sessionId": "3FA85F64-5717-4562-B3FC-2C963F66AFA6"}},
	}
	for _, tc := range cases {
		recorder := postJSON(t, handler, "/chat", tc.body)
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, recorder.Code)
		}
	}
}

func TestChat_UnknownSessionGetsFreshID(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	ghost := "3fa85f64-5717-4562-b3fc-2c963f66afa6"
	recorder := postJSON(t, handler, "/chat", map[string]any{"message": "hi", "sessionId": ghost})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var resp chatResponse
	_ = json.Unmarshal(recorder.Body.Bytes(), &resp)
	if resp.SessionID == ghost {
		t.Error("server adopted a client-fabricated session id")
	}
}

func TestChatStream_EventSequence(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	recorder := postJSON(t, handler, "/chat/stream", map[string]any{"message": "hi"})
	if got := recorder.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}

	var types []string
	var answer stream.Event
	for _, raw := range strings.Split(recorder.Body.String(), "\n\n") {
		if raw == "" || strings.HasPrefix(raw, ":") {
			continue
		}
		event, err := stream.Parse([]byte(raw + "\n\n"))
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		types = append(types, event.Type)
		if event.Type == stream.TypeAnswer {
			answer = event
		}
	}

	want := []string{
		stream.TypeConnected,
		stream.TypeThinking,
		stream.TypeTextChunk,
		stream.TypeAnswer,
		stream.TypeSession,
	}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("event sequence = %v, want %v", types, want)
	}
	if answer.Text != "Hello." {
		t.Errorf("answer text = %q", answer.Text)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(recorder.Body.Bytes(), &body)
	if body["status"] != "ok" || body["db"] != "ok" {
		t.Errorf("health = %v", body)
	}
	if _, ok := body["sessions"]; !ok {
		t.Error("sessions count missing")
	}
}

func TestCORSHeaders(t *testing.T) {
	registry := agent.NewRegistry(nil, nil)
	orchestrator := agent.NewOrchestrator(&echoLLM{text: "x"}, registry, nil)
	srv := New(orchestrator, sessions.NewStore(), okPinger{}, nil, nil, "https://app.example.com", 0)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allow-origin = %q", got)
	}
	if recorder.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", recorder.Code)
	}
}
