// Package models defines the shared data types that flow between the
// orchestrator, the LLM adapter, the tool dispatcher, and the stream
// transport.
//
// The conversation model mirrors the provider's multi-modal turn shape:
// a Turn has a role and an ordered list of Parts, where each Part is
// exactly one of text, thought, function call, or function response.
// Thought parts are retained in memory so the model stays coherent
// across turns, but they are never surfaced to clients and are always
// stripped before a session is persisted.
package models

import "time"

// Role identifies the author of a turn.
type Role string

const (
	// RoleUser marks turns authored by the user, including the
	// function-response turns the orchestrator appends on the user's
	// behalf after tool execution.
	RoleUser Role = "user"

	// RoleModel marks turns authored by the LLM.
	RoleModel Role = "model"
)

// Turn is a single entry in a conversation history.
type Turn struct {
	Role  Role   `json:"role" bson:"role"`
	Parts []Part `json:"parts" bson:"parts"`
}

// Part is a tagged union: exactly one of Text (with or without the
// Thought flag), FunctionCall, or FunctionResponse is set.
type Part struct {
	// Text holds visible answer text, or internal reasoning when
	// Thought is true.
	Text string `json:"text,omitempty" bson:"text,omitempty"`

	// Thought marks Text as internal reasoning. Thought text must
	// never reach a client.
	Thought bool `json:"thought,omitempty" bson:"thought,omitempty"`

	// FunctionCall is a request from the model to invoke a tool.
	FunctionCall *FunctionCall `json:"functionCall,omitempty" bson:"functionCall,omitempty"`

	// FunctionResponse carries a tool result back to the model.
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty" bson:"functionResponse,omitempty"`
}

// IsText reports whether the part carries visible (non-thought) text.
func (p Part) IsText() bool {
	return p.Text != "" && !p.Thought && p.FunctionCall == nil && p.FunctionResponse == nil
}

// FunctionCall names a tool and its arguments as emitted by the model.
type FunctionCall struct {
	Name string         `json:"name" bson:"name"`
	Args map[string]any `json:"args" bson:"args"`
}

// FunctionResponse carries a tool's structured payload, positionally
// aligned with the FunctionCall that requested it.
type FunctionResponse struct {
	Name     string         `json:"name" bson:"name"`
	Response map[string]any `json:"response" bson:"response"`
}

// ToolCallInfo is the unit of observability for one tool invocation.
// Grouped invocations of the same tool within a turn are reported to
// the stream as a single synthetic info with Label "<label> ×N", while
// the audit trail keeps one entry per call.
type ToolCallInfo struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	DurationMs int64  `json:"durationMs"`
	CacheHit   *bool  `json:"cacheHit,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Session is a stored conversation. CreatedAt never moves; UpdatedAt is
// touched on every successful read and write and drives both idle
// expiry and LRU eviction.
type Session struct {
	ID        string    `json:"id"`
	History   []Turn    `json:"history"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
