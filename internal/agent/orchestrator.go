package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/llm"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/stream"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/pkg/models"
)

const (
	// MaxTurns bounds the agentic loop.
	MaxTurns = 10

	// MaxRepeats is how many consecutive identical tool-call
	// signatures are tolerated before the loop is broken.
	MaxRepeats = 2

	// maxFailuresListed caps the failure lines in the all-failed
	// answer.
	maxFailuresListed = 3
)

const (
	answerFallback  = "Done."
	loopBreakAnswer = "I keep requesting the same data without making progress, so I've stopped here. " +
		"Try rephrasing the question or narrowing it down to a specific creator, post, or hashtag."
	maxTurnsAnswer = "I ran out of reasoning steps before reaching a final answer. " +
		"Please try a more specific question."
)

// Emitter receives stream events. A nil emitter is valid: the REST
// variant runs the same loop and consumes only the returned audit
// trail.
type Emitter func(stream.Event)

// Orchestrator drives the bounded multi-turn tool-calling loop.
type Orchestrator struct {
	llm      llm.Client
	registry *Registry
	logger   *slog.Logger

	maxTurns   int
	maxRepeats int
}

// NewOrchestrator wires the loop to a provider and a tool registry.
func NewOrchestrator(client llm.Client, registry *Registry, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		llm:        client,
		registry:   registry,
		logger:     logger.With("component", "orchestrator"),
		maxTurns:   MaxTurns,
		maxRepeats: MaxRepeats,
	}
}

// Result is the outcome of one request.
type Result struct {
	Answer    string
	ToolCalls []models.ToolCallInfo
	History   []models.Turn
}

// Respond runs the agentic loop for one user message on top of the
// prior history.
//
// Guarantees on every non-error return: the last emitted event is
// answer; every function call issued by the model has exactly one
// positionally aligned function response in the history; no emitted
// text contains thought parts. On error (LLM failure, cancellation) no
// answer is emitted — the transport surfaces an error event instead.
func (o *Orchestrator) Respond(ctx context.Context, message string, history []models.Turn, emit Emitter) (*Result, error) {
	if emit == nil {
		emit = func(stream.Event) {}
	}

	history = append(cloneHistory(history), models.Turn{
		Role:  models.RoleUser,
		Parts: []models.Part{{Text: message}},
	})

	var audit []models.ToolCallInfo
	var prevSignature string
	repeatCount := 0
	decls := o.registry.Declarations()

	for turn := 1; turn <= o.maxTurns; turn++ {
		emit(stream.Thinking(turn, thinkingMessage(turn, len(audit))))

		deltas, err := o.llm.Stream(ctx, history, decls)
		if err != nil {
			return nil, err
		}

		var streamed strings.Builder
		var final *llm.Candidate
		for delta := range deltas {
			switch {
			case delta.Err != nil:
				return nil, delta.Err
			case delta.Final != nil:
				final = delta.Final
			case delta.Part != nil:
				if delta.Part.IsText() {
					streamed.WriteString(delta.Part.Text)
					emit(stream.TextChunk(delta.Part.Text))
				}
			}
		}
		if final == nil {
			return nil, fmt.Errorf("orchestrator: stream ended without a final candidate")
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// The model turn is kept verbatim, thoughts included: the
		// provider needs them to stay coherent across turns. Trimming
		// strips them again before the session is persisted.
		history = append(history, models.Turn{Role: models.RoleModel, Parts: final.Parts})

		calls := functionCalls(final.Parts)
		if len(calls) == 0 {
			answer := streamed.String()
			if answer == "" {
				answer = visibleText(final.Parts)
			}
			if answer == "" {
				answer = answerFallback
			}
			emit(stream.Answer(answer, audit))
			return &Result{Answer: answer, ToolCalls: audit, History: history}, nil
		}

		counts, uniqueNames := countCalls(calls)
		labels := make([]string, len(uniqueNames))
		for i, name := range uniqueNames {
			labels[i] = o.registry.GroupLabel(name, counts[name])
		}
		emit(stream.ToolStart(uniqueNames, labels))

		signature := callSignature(calls)
		if signature == prevSignature {
			repeatCount++
		} else {
			repeatCount = 0
			prevSignature = signature
		}
		if repeatCount >= o.maxRepeats {
			o.logger.Warn("breaking repeated tool-call loop", "signature", signature, "turn", turn)
			emit(stream.Answer(loopBreakAnswer, audit))
			return &Result{Answer: loopBreakAnswer, ToolCalls: audit, History: history}, nil
		}

		infos, payloads := o.dispatch(ctx, calls, counts, emit)
		audit = append(audit, infos...)

		// One user turn with responses positionally aligned to the
		// model's function calls.
		responses := make([]models.Part, len(calls))
		for i, call := range calls {
			responses[i] = models.Part{FunctionResponse: &models.FunctionResponse{
				Name:     call.Name,
				Response: payloads[i],
			}}
		}
		history = append(history, models.Turn{Role: models.RoleUser, Parts: responses})

		if allFailed(infos) {
			answer := failureSummary(infos)
			emit(stream.Answer(answer, audit))
			return &Result{Answer: answer, ToolCalls: audit, History: history}, nil
		}
	}

	answer := lastModelText(history)
	if answer == "" {
		answer = maxTurnsAnswer
	}
	emit(stream.Answer(answer, audit))
	return &Result{Answer: answer, ToolCalls: audit, History: history}, nil
}

// dispatch runs every call of the turn concurrently and joins on all of
// them. Calls of a name that occurs more than once in the turn have
// their individual tool_done suppressed and are reported once through a
// synthetic grouped record.
func (o *Orchestrator) dispatch(ctx context.Context, calls []models.FunctionCall, counts map[string]int, emit Emitter) ([]models.ToolCallInfo, []map[string]any) {
	infos := make([]models.ToolCallInfo, len(calls))
	payloads := make([]map[string]any, len(calls))

	// Per-call emits come from the worker goroutines; the emitter is
	// not required to be concurrency-safe, so serialize here.
	var emitMu sync.Mutex
	emitDone := func(info models.ToolCallInfo) {
		emitMu.Lock()
		defer emitMu.Unlock()
		emit(stream.ToolDone(info))
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, fc models.FunctionCall) {
			defer wg.Done()
			grouped := counts[fc.Name] > 1
			payload, info := o.registry.Invoke(ctx, fc.Name, fc.Args, emitDone, grouped)
			payloads[idx] = payload
			infos[idx] = info
		}(i, call)
	}
	wg.Wait()

	o.emitGrouped(calls, counts, infos, emit)
	return infos, payloads
}

// emitGrouped sends one synthetic tool_done per batched name, in first
// appearance order: average duration, cacheHit only when every call
// hit, and a "k/N failed" error when any call failed.
func (o *Orchestrator) emitGrouped(calls []models.FunctionCall, counts map[string]int, infos []models.ToolCallInfo, emit Emitter) {
	seen := make(map[string]bool)
	for _, call := range calls {
		name := call.Name
		if counts[name] <= 1 || seen[name] {
			continue
		}
		seen[name] = true

		var totalMs int64
		hits, failures, reported := 0, 0, 0
		for j := range calls {
			if calls[j].Name != name {
				continue
			}
			totalMs += infos[j].DurationMs
			if infos[j].Error != "" {
				failures++
			}
			if infos[j].CacheHit != nil {
				reported++
				if *infos[j].CacheHit {
					hits++
				}
			}
		}

		n := counts[name]
		synthetic := models.ToolCallInfo{
			Name:       name,
			Label:      o.registry.GroupLabel(name, n),
			DurationMs: totalMs / int64(n),
		}
		if reported > 0 {
			allHit := hits == n
			synthetic.CacheHit = &allHit
		}
		if failures > 0 {
			synthetic.Error = fmt.Sprintf("%d/%d failed", failures, n)
		}
		emit(stream.ToolDone(synthetic))
	}
}

func thinkingMessage(turn, priorToolCalls int) string {
	switch {
	case turn == 1:
		return "Analysing your request…"
	case priorToolCalls > 0:
		return "Processing tool results…"
	default:
		return "Thinking…"
	}
}

func functionCalls(parts []models.Part) []models.FunctionCall {
	var calls []models.FunctionCall
	for _, part := range parts {
		if part.FunctionCall != nil {
			calls = append(calls, *part.FunctionCall)
		}
	}
	return calls
}

// countCalls returns per-name occurrence counts and the deduplicated
// names in first-appearance order.
func countCalls(calls []models.FunctionCall) (map[string]int, []string) {
	counts := make(map[string]int, len(calls))
	var names []string
	for _, call := range calls {
		if counts[call.Name] == 0 {
			names = append(names, call.Name)
		}
		counts[call.Name]++
	}
	return counts, names
}

// callSignature is the sorted multiset of tool names in a turn; equal
// signatures on consecutive turns indicate a retry loop.
func callSignature(calls []models.FunctionCall) string {
	names := make([]string, len(calls))
	for i, call := range calls {
		names[i] = call.Name
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func allFailed(infos []models.ToolCallInfo) bool {
	for _, info := range infos {
		if info.Error == "" {
			return false
		}
	}
	return len(infos) > 0
}

func failureSummary(infos []models.ToolCallInfo) string {
	var b strings.Builder
	b.WriteString("I couldn't retrieve the data you asked for:\n")
	for i, info := range infos {
		if i == maxFailuresListed {
			fmt.Fprintf(&b, "…and %d more", len(infos)-maxFailuresListed)
			break
		}
		fmt.Fprintf(&b, "%s: %s\n", info.Name, info.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}

func visibleText(parts []models.Part) string {
	var b strings.Builder
	for _, part := range parts {
		if part.IsText() {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// lastModelText returns the visible text of the most recent model turn.
func lastModelText(history []models.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != models.RoleModel {
			continue
		}
		if text := visibleText(history[i].Parts); text != "" {
			return text
		}
	}
	return ""
}

func cloneHistory(history []models.Turn) []models.Turn {
	out := make([]models.Turn, len(history))
	copy(out, history)
	return out
}
