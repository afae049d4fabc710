package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/sleepy-ujjawal/gnc-brand-mcp/pkg/models"
)

func TestInvoke_UnknownTool(t *testing.T) {
	r := NewRegistry(nil, nil)
	payload, info := r.Invoke(context.Background(), "nope", nil, nil, false)

	if payload["error"] != "Unknown tool: nope" {
		t.Errorf("payload = %v", payload)
	}
	if info.Error == "" {
		t.Error("info should carry the error")
	}
}

func TestInvoke_SchemaRejectsBadArgs(t *testing.T) {
	r := NewRegistry(nil, nil)
	err := r.Register(ToolDef{
		Name:   "typed",
		Schema: map[string]any{"type": "object", "properties": map[string]any{"username": map[string]any{"type": "string"}}, "required": []any{"username"}},
		Run: func(ctx context.Context, args any) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	payload, info := r.Invoke(context.Background(), "typed", map[string]any{}, nil, false)
	if info.Error == "" {
		t.Error("missing required arg should fail validation")
	}
	if _, ok := payload["error"]; !ok {
		t.Errorf("payload = %v, want error field", payload)
	}
}

func TestInvoke_ValidatorRoundsIntegralFloats(t *testing.T) {
	r := NewRegistry(nil, nil)
	var got int
	err := r.Register(ToolDef{
		Name: "limits",
		Validate: func(args map[string]any) (any, error) {
			return IntArg(args, "limit", 5, 1, 50)
		},
		Run: func(ctx context.Context, args any) (map[string]any, error) {
			got = args.(int)
			return map[string]any{}, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// The LLM tends to emit 10.0 for integer fields.
	_, info := r.Invoke(context.Background(), "limits", map[string]any{"limit": 10.0}, nil, false)
	if info.Error != "" {
		t.Fatalf("unexpected error: %s", info.Error)
	}
	if got != 10 {
		t.Errorf("limit = %d, want 10", got)
	}
}

func TestInvoke_ClassifiesToolError(t *testing.T) {
	r := NewRegistry(nil, nil)
	_ = r.Register(ToolDef{
		Name: "missing",
		Run: func(ctx context.Context, args any) (map[string]any, error) {
			return nil, NotFoundf("no such creator")
		},
	})

	payload, info := r.Invoke(context.Background(), "missing", nil, nil, false)
	if payload["error"] != "no such creator" {
		t.Errorf("payload = %v", payload)
	}
	if payload["code"] != CodeNotFound {
		t.Errorf("code = %v, want %s", payload["code"], CodeNotFound)
	}
	if info.Error != "no such creator" {
		t.Errorf("info.Error = %q", info.Error)
	}
}

func TestInvoke_RecoversPanic(t *testing.T) {
	r := NewRegistry(nil, nil)
	_ = r.Register(ToolDef{
		Name: "bomb",
		Run: func(ctx context.Context, args any) (map[string]any, error) {
			panic("kaboom")
		},
	})

	payload, info := r.Invoke(context.Background(), "bomb", nil, nil, false)
	if info.Error == "" {
		t.Fatal("panic must surface as a captured error")
	}
	if _, ok := payload["error"]; !ok {
		t.Errorf("payload = %v, want error field", payload)
	}
}

func TestInvoke_CacheHitFromPayload(t *testing.T) {
	r := NewRegistry(nil, nil)
	_ = r.Register(ToolDef{
		Name: "cached",
		Run: func(ctx context.Context, args any) (map[string]any, error) {
			return map[string]any{"cacheHit": true}, nil
		},
	})

	_, info := r.Invoke(context.Background(), "cached", nil, nil, false)
	if info.CacheHit == nil || !*info.CacheHit {
		t.Errorf("cacheHit = %v, want true", info.CacheHit)
	}
}

func TestInvoke_EmitSuppressedWhenGrouped(t *testing.T) {
	r := NewRegistry(nil, nil)
	_ = r.Register(okTool("quiet", "Quiet"))

	emitted := 0
	emit := func(models.ToolCallInfo) { emitted++ }

	r.Invoke(context.Background(), "quiet", nil, emit, true)
	if emitted != 0 {
		t.Errorf("grouped call emitted %d tool_done events, want 0", emitted)
	}
	r.Invoke(context.Background(), "quiet", nil, emit, false)
	if emitted != 1 {
		t.Errorf("ungrouped call emitted %d tool_done events, want 1", emitted)
	}
}

func TestOnSuccess_HookRunsOnlyOnSuccess(t *testing.T) {
	r := NewRegistry(nil, nil)
	_ = r.Register(okTool("fine", "Fine"))
	_ = r.Register(failingTool("broken", "nope"))

	var hookCalls []string
	r.OnSuccess(func(ctx context.Context, name string, payload map[string]any) {
		hookCalls = append(hookCalls, name)
	})

	r.Invoke(context.Background(), "fine", nil, nil, false)
	r.Invoke(context.Background(), "broken", nil, nil, false)

	if len(hookCalls) != 1 || hookCalls[0] != "fine" {
		t.Errorf("hook calls = %v, want [fine]", hookCalls)
	}
}

func TestClassify_KnownKinds(t *testing.T) {
	if te := Classify(context.DeadlineExceeded); te.Code != CodeTimeout || te.Message != "timed out" {
		t.Errorf("deadline: %+v", te)
	}
	if te := Classify(context.Canceled); te.Code != CodeCancelled {
		t.Errorf("cancel: %+v", te)
	}
	if te := Classify(errors.New("weird")); te.Code != CodeInternal || te.Retryable {
		t.Errorf("generic: %+v", te)
	}
	if te := Classify(NewToolError(CodeUpstream, "503")); !te.Retryable {
		t.Error("upstream errors are retryable")
	}
}

func TestGroupLabel(t *testing.T) {
	r := NewRegistry(nil, nil)
	_ = r.Register(okTool("get_profile", "Fetching profile"))

	if got := r.GroupLabel("get_profile", 1); got != "Fetching profile" {
		t.Errorf("single label = %q", got)
	}
	if got := r.GroupLabel("get_profile", 5); got != "Fetching profile ×5" {
		t.Errorf("grouped label = %q", got)
	}
	if got := r.Label("unknown_tool"); got != "unknown_tool" {
		t.Errorf("fallback label = %q", got)
	}
}

func TestDeclarations_PreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry(nil, nil)
	for _, name := range []string{"c_tool", "a_tool", "b_tool"} {
		_ = r.Register(okTool(name, name))
	}
	decls := r.Declarations()
	if len(decls) != 3 {
		t.Fatalf("declarations = %d", len(decls))
	}
	want := []string{"c_tool", "a_tool", "b_tool"}
	for i, decl := range decls {
		if decl.Name != want[i] {
			t.Errorf("decl[%d] = %q, want %q", i, decl.Name, want[i])
		}
	}
}
