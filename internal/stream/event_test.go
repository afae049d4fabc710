package stream

import (
	"bytes"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/pkg/models"
)

func boolPtr(b bool) *bool { return &b }

func TestRenderParse_RoundTrip(t *testing.T) {
	events := []Event{
		Connected("3fa85f64-5717-4562-b3fc-2c963f66afa6"),
		Thinking(1, "Analysing your request…"),
		ToolStart([]string{"get_profile"}, []string{"Fetching profile"}),
		ToolDone(models.ToolCallInfo{
			Name:       "get_profile",
			Label:      "Fetching profile",
			DurationMs: 42,
			CacheHit:   boolPtr(true),
		}),
		TextChunk("Hello"),
		Answer("Hello.", []models.ToolCallInfo{{Name: "get_profile", Label: "Fetching profile"}}),
		Answer("no tools", nil),
		Session("3fa85f64-5717-4562-b3fc-2c963f66afa6"),
		Error("processing failed"),
	}

	for _, event := range events {
		frame, err := Render(event)
		if err != nil {
			t.Fatalf("render %s: %v", event.Type, err)
		}
		if !bytes.HasPrefix(frame, []byte("data: ")) || !bytes.HasSuffix(frame, []byte("\n\n")) {
			t.Errorf("%s: bad framing: %q", event.Type, frame)
		}
		parsed, err := Parse(frame)
		if err != nil {
			t.Fatalf("parse %s: %v", event.Type, err)
		}
		if !reflect.DeepEqual(parsed, event) {
			t.Errorf("round trip mismatch for %s:\n got %+v\nwant %+v", event.Type, parsed, event)
		}
	}
}

func TestParse_RejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("event: nope\n\n")); err == nil {
		t.Error("missing data prefix should fail")
	}
	if _, err := Parse([]byte("data: {not json}\n\n")); err == nil {
		t.Error("bad JSON should fail")
	}
}

func TestAnswer_NilToolCallsBecomesEmpty(t *testing.T) {
	e := Answer("hi", nil)
	if e.ToolCalls == nil || len(e.ToolCalls) != 0 {
		t.Errorf("toolCalls = %v, want empty slice", e.ToolCalls)
	}
}

func TestSSEWriter_FramesAndHeaders(t *testing.T) {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/chat/stream", nil)

	sw, ok := NewSSEWriter(recorder, req, nil)
	if !ok {
		t.Fatal("recorder should support flushing")
	}
	defer sw.Close()

	sw.Send(Connected("3fa85f64-5717-4562-b3fc-2c963f66afa6"))
	sw.Send(TextChunk("chunk"))

	if got := recorder.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}
	if got := recorder.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("cache control = %q", got)
	}

	body := recorder.Body.String()
	frames := bytes.Split([]byte(body), []byte("\n\n"))
	// Trailing split element is empty.
	if len(frames) != 3 {
		t.Fatalf("frames = %d, body = %q", len(frames)-1, body)
	}
	first, err := Parse(append(frames[0], "\n\n"...))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if first.Type != TypeConnected {
		t.Errorf("first frame = %s", first.Type)
	}
}

func TestSSEWriter_ClientGoneStopsWrites(t *testing.T) {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/chat/stream", nil)

	sw, ok := NewSSEWriter(recorder, req, nil)
	if !ok {
		t.Fatal("recorder should support flushing")
	}
	defer sw.Close()

	sw.mu.Lock()
	sw.clientGone = true
	sw.mu.Unlock()

	before := recorder.Body.Len()
	sw.Send(TextChunk("dropped"))
	if recorder.Body.Len() != before {
		t.Error("write after disconnect must be a no-op")
	}
	if !sw.ClientGone() {
		t.Error("ClientGone should report true")
	}
}
