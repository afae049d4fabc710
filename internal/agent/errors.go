// Package agent contains the orchestration core: the tool registry and
// dispatcher, the multi-turn tool-calling loop, and history trimming.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/actors"
)

// Error codes used in classified tool errors.
const (
	CodeValidation = "validation"
	CodeNotFound   = "not_found"
	CodeUpstream   = "upstream"
	CodeTimeout    = "timeout"
	CodeCancelled  = "cancelled"
	CodeInternal   = "internal"
)

// ToolError is a classified tool failure. Handlers return it (or a
// wrapped one) instead of raw strings; the dispatcher captures it and
// folds it into the function response so it never propagates past the
// dispatcher.
type ToolError struct {
	Code      string
	Message   string
	Retryable bool
	cause     error
}

func (e *ToolError) Error() string {
	return e.Message
}

func (e *ToolError) Unwrap() error {
	return e.cause
}

// NewToolError builds a classified error with an explicit code.
func NewToolError(code, message string) *ToolError {
	return &ToolError{
		Code:      code,
		Message:   message,
		Retryable: code == CodeUpstream || code == CodeTimeout,
	}
}

// NotFoundf builds a NotFound error the model is expected to react to.
func NotFoundf(format string, args ...any) *ToolError {
	return NewToolError(CodeNotFound, fmt.Sprintf(format, args...))
}

// Classify maps an arbitrary handler error onto a ToolError. Known
// kinds keep their code; everything else becomes Internal with just the
// message.
func Classify(err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	var ue *actors.UpstreamError
	if errors.As(err, &ue) {
		return &ToolError{Code: CodeUpstream, Message: ue.Error(), Retryable: true, cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ToolError{Code: CodeTimeout, Message: "timed out", Retryable: true, cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &ToolError{Code: CodeCancelled, Message: "cancelled", cause: err}
	}
	return &ToolError{Code: CodeInternal, Message: err.Error(), cause: err}
}
