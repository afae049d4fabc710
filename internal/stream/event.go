// Package stream implements the event-stream contract between the
// orchestrator and clients: a flat event envelope with a canonical
// `data: <json>\n\n` framing, plus an SSE writer with heartbeats.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/pkg/models"
)

// Event types. A stream opens with connected; each turn emits thinking,
// then its text_chunk events, then tool_start and tool_done when the
// turn calls tools. A successful request ends with answer followed by
// session; a failed one ends with error instead.
const (
	TypeConnected = "connected"
	TypeThinking  = "thinking"
	TypeToolStart = "tool_start"
	TypeToolDone  = "tool_done"
	TypeTextChunk = "text_chunk"
	TypeAnswer    = "answer"
	TypeSession   = "session"
	TypeError     = "error"
)

// Event is the wire envelope. Fields are populated per type; unset
// fields are omitted from the encoding so Parse(Render(e)) == e.
type Event struct {
	Type      string                `json:"type"`
	SessionID string                `json:"sessionId,omitempty"`
	Turn      int                   `json:"turn,omitempty"`
	Message   string                `json:"message,omitempty"`
	Text      string                `json:"text,omitempty"`
	Tools     []string              `json:"tools,omitempty"`
	Labels    []string              `json:"labels,omitempty"`
	Info      *models.ToolCallInfo  `json:"info,omitempty"`
	// ToolCalls is omitzero, not omitempty: an answer with no tool
	// calls still frames toolCalls as an empty array.
	ToolCalls []models.ToolCallInfo `json:"toolCalls,omitzero"`
}

// Connected is emitted at stream open, before any work.
func Connected(sessionID string) Event {
	return Event{Type: TypeConnected, SessionID: sessionID}
}

// Thinking is emitted once per turn.
func Thinking(turn int, message string) Event {
	return Event{Type: TypeThinking, Turn: turn, Message: message}
}

// ToolStart announces the deduplicated tool set of a turn.
func ToolStart(tools, labels []string) Event {
	return Event{Type: TypeToolStart, Tools: tools, Labels: labels}
}

// ToolDone reports one ungrouped call, or one grouped name.
func ToolDone(info models.ToolCallInfo) Event {
	return Event{Type: TypeToolDone, Info: &info}
}

// TextChunk forwards streamed visible text.
func TextChunk(text string) Event {
	return Event{Type: TypeTextChunk, Text: text}
}

// Answer is the terminal event of a successful request. ToolCalls is
// the full audit trail, one entry per individual invocation.
func Answer(text string, toolCalls []models.ToolCallInfo) Event {
	if toolCalls == nil {
		toolCalls = []models.ToolCallInfo{}
	}
	return Event{Type: TypeAnswer, Text: text, ToolCalls: toolCalls}
}

// Session confirms the session id after the answer, for follow-ups.
func Session(sessionID string) Event {
	return Event{Type: TypeSession, SessionID: sessionID}
}

// Error replaces Answer on failure.
func Error(message string) Event {
	return Event{Type: TypeError, Message: message}
}

// Render encodes an event as one frame: `data: <json>\n\n`.
func Render(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(data) + 8)
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

// Parse decodes a frame produced by Render.
func Parse(frame []byte) (Event, error) {
	trimmed := bytes.TrimSuffix(frame, []byte("\n\n"))
	payload, ok := bytes.CutPrefix(trimmed, []byte("data: "))
	if !ok {
		return Event{}, fmt.Errorf("stream: frame missing data prefix")
	}
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, fmt.Errorf("stream: decoding frame: %w", err)
	}
	return e, nil
}
