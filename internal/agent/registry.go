package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"google.golang.org/genai"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/internal/observability"
	"github.com/sleepy-ujjawal/gnc-brand-mcp/pkg/models"
)

// ToolDef declares a tool: a name, a human-readable label, a JSON
// Schema for its arguments, a validator that normalizes the raw
// argument map into a typed value, and a handler over that value.
// Handlers never see raw maps.
type ToolDef struct {
	Name        string
	Label       string
	Description string

	// Schema is a JSON Schema document for the argument map. It is
	// compiled at registration and also exported to the LLM as the
	// tool's parameter declaration.
	Schema map[string]any

	// Validate normalizes and type-checks the arguments.
	Validate func(args map[string]any) (any, error)

	// Run executes the tool over the validated arguments and returns
	// a structured payload. Errors must be classified (ToolError) or
	// classifiable; raw string panics are a bug.
	Run func(ctx context.Context, args any) (map[string]any, error)
}

// SuccessHook observes successful tool returns. Hooks are registered on
// the dispatcher so side effects (auto-enroll) stay decoupled from the
// tools that trigger them.
type SuccessHook func(ctx context.Context, name string, payload map[string]any)

// EmitToolDone delivers a per-invocation observability record.
type EmitToolDone func(info models.ToolCallInfo)

type registeredTool struct {
	def    ToolDef
	schema *jsonschema.Schema
}

// Registry resolves tool names to validators and handlers and runs
// them behind a uniform invocation contract.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*registeredTool
	order   []string
	hooks   []SuccessHook
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(metrics *observability.Metrics, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]*registeredTool),
		metrics: metrics,
		logger:  logger.With("component", "tools"),
	}
}

// Register adds a tool, compiling its argument schema. A second
// registration under the same name replaces the first.
func (r *Registry) Register(def ToolDef) error {
	if def.Name == "" || def.Run == nil {
		return fmt.Errorf("registry: tool needs a name and a handler")
	}
	rt := &registeredTool{def: def}
	if def.Schema != nil {
		data, err := json.Marshal(def.Schema)
		if err != nil {
			return fmt.Errorf("registry: %s: encoding schema: %w", def.Name, err)
		}
		compiled, err := jsonschema.CompileString(def.Name+".schema.json", string(data))
		if err != nil {
			return fmt.Errorf("registry: %s: compiling schema: %w", def.Name, err)
		}
		rt.schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = rt
	return nil
}

// OnSuccess registers a post-tool hook, invoked after every successful
// tool return with the tool name and payload.
func (r *Registry) OnSuccess(hook SuccessHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Label returns the human-readable label for a tool name, falling back
// to the name itself.
func (r *Registry) Label(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rt, ok := r.tools[name]; ok && rt.def.Label != "" {
		return rt.def.Label
	}
	return name
}

// GroupLabel renders the label for count calls of the same tool within
// one turn.
func (r *Registry) GroupLabel(name string, count int) string {
	label := r.Label(name)
	if count > 1 {
		return fmt.Sprintf("%s ×%d", label, count)
	}
	return label
}

// Declarations exports every registered tool as a function declaration
// for the LLM, in registration order.
func (r *Registry) Declarations() []*genai.FunctionDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decls := make([]*genai.FunctionDeclaration, 0, len(r.order))
	for _, name := range r.order {
		rt := r.tools[name]
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        rt.def.Name,
			Description: rt.def.Description,
			Parameters:  schemaToGenai(rt.def.Schema),
		})
	}
	return decls
}

// Invoke resolves and runs a tool. It never returns an error: failures
// of every kind are captured, classified, and folded into an
// {error: …} payload plus the info record, so the model can react to
// them in the next turn.
//
// The tool_done event is emitted only when emit is non-nil and the call
// is not part of a grouped batch; grouped calls get one synthetic event
// from the orchestrator after the batch settles.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any, emit EmitToolDone, grouped bool) (map[string]any, models.ToolCallInfo) {
	info := models.ToolCallInfo{Name: name, Label: r.Label(name)}

	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		info.Error = "Unknown tool: " + name
		return r.finish(ctx, nil, map[string]any{"error": info.Error}, info, emit, grouped)
	}

	if args == nil {
		args = map[string]any{}
	}
	if rt.schema != nil {
		if err := rt.schema.Validate(map[string]any(args)); err != nil {
			info.Error = fmt.Sprintf("invalid arguments: %v", err)
			return r.finish(ctx, rt, map[string]any{"error": info.Error}, info, emit, grouped)
		}
	}

	var validated any = args
	if rt.def.Validate != nil {
		v, err := rt.def.Validate(args)
		if err != nil {
			info.Error = err.Error()
			return r.finish(ctx, rt, map[string]any{"error": info.Error}, info, emit, grouped)
		}
		validated = v
	}

	start := time.Now()
	payload, err := r.safeRun(ctx, rt, validated)
	info.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		te := Classify(err)
		info.Error = te.Message
		payload = map[string]any{"error": te.Message}
		if te.Code != CodeInternal {
			payload["code"] = te.Code
		}
		return r.finish(ctx, rt, payload, info, emit, grouped)
	}

	if hit, ok := payload["cacheHit"].(bool); ok {
		info.CacheHit = &hit
	}
	return r.finish(ctx, rt, payload, info, emit, grouped)
}

func (r *Registry) safeRun(ctx context.Context, rt *registeredTool, args any) (payload map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked",
				"tool", rt.def.Name,
				"panic", rec,
				"stack", string(debug.Stack()))
			payload = nil
			err = NewToolError(CodeInternal, fmt.Sprintf("tool %s panicked: %v", rt.def.Name, rec))
		}
	}()
	payload, err = rt.def.Run(ctx, args)
	if err == nil && payload == nil {
		payload = map[string]any{}
	}
	return payload, err
}

func (r *Registry) finish(ctx context.Context, rt *registeredTool, payload map[string]any, info models.ToolCallInfo, emit EmitToolDone, grouped bool) (map[string]any, models.ToolCallInfo) {
	status := "success"
	if info.Error != "" {
		status = "error"
	}
	if r.metrics != nil {
		r.metrics.ToolExecutions.WithLabelValues(info.Name, status).Inc()
		r.metrics.ToolDuration.WithLabelValues(info.Name).Observe(float64(info.DurationMs) / 1000)
	}
	if info.Error == "" && rt != nil {
		r.mu.RLock()
		hooks := append([]SuccessHook(nil), r.hooks...)
		r.mu.RUnlock()
		for _, hook := range hooks {
			hook(ctx, info.Name, payload)
		}
	}
	if emit != nil && !grouped {
		emit(info)
	}
	return payload, info
}

// schemaToGenai converts a JSON Schema map into the provider's schema
// type. Only the subset the tool catalog uses is translated.
func schemaToGenai(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		switch t {
		case "object":
			out.Type = genai.TypeObject
		case "string":
			out.Type = genai.TypeString
		case "integer":
			out.Type = genai.TypeInteger
		case "number":
			out.Type = genai.TypeNumber
		case "boolean":
			out.Type = genai.TypeBoolean
		case "array":
			out.Type = genai.TypeArray
		}
	}
	if d, ok := schema["description"].(string); ok {
		out.Description = d
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				out.Properties[name] = schemaToGenai(sub)
			}
		}
	}
	if req, ok := schema["required"].([]any); ok {
		for _, item := range req {
			if s, ok := item.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	} else if req, ok := schema["required"].([]string); ok {
		out.Required = append(out.Required, req...)
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = schemaToGenai(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, item := range enum {
			if s, ok := item.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}
	return out
}
