// Package llm abstracts the streaming LLM provider behind a small
// contract: send a conversation history, receive a stream of delta
// parts followed by one terminal element carrying either the fully
// assembled candidate or an error.
package llm

import (
	"context"

	"google.golang.org/genai"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/pkg/models"
)

// Delta is one element of a response stream. Exactly one field is set;
// the stream ends with a single Final or Err element and the channel is
// then closed.
type Delta struct {
	// Part is a streamed fragment: visible text, thought text, or a
	// (complete) function call.
	Part *models.Part

	// Final carries the assembled candidate once the stream ends.
	Final *Candidate

	// Err terminates the stream on failure, including cancellation.
	Err error
}

// Candidate is the complete model response for one turn.
type Candidate struct {
	Parts []models.Part
}

// Client is the provider contract the orchestrator consumes.
//
// Implementations must propagate ctx cancellation into the underlying
// transport: aborting tears down the upstream request rather than
// merely abandoning the channel.
type Client interface {
	// Stream opens a streaming generation over history with the given
	// tool declarations available to the model.
	Stream(ctx context.Context, history []models.Turn, tools []*genai.FunctionDeclaration) (<-chan Delta, error)

	// Model returns the configured model id.
	Model() string
}
