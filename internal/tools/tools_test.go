package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/ChamsBouzaiene/ponder/internal/engine"
	"github.com/ChamsBouzaiene/ponder/internal/sandbox"
)

func TestCalculatorBasicArithmetic(t *testing.T) {
	tool := Calculator()

	got, err := tool.Fn(context.Background(), map[string]any{"expression": "2+2"})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if got != "4" {
		t.Errorf("2+2 = %q", got)
	}
}

func TestCalculatorMathPackage(t *testing.T) {
	tool := Calculator()

	got, err := tool.Fn(context.Background(), map[string]any{"expression": "math.Sqrt(144)"})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if got != "12" {
		t.Errorf("math.Sqrt(144) = %q", got)
	}
}

func TestCalculatorRejectsEmptyExpression(t *testing.T) {
	tool := Calculator()

	if _, err := tool.Fn(context.Background(), map[string]any{}); err == nil {
		t.Fatal("empty expression must be rejected")
	}
	if _, err := tool.Fn(context.Background(), map[string]any{"expression": "   "}); err == nil {
		t.Fatal("blank expression must be rejected")
	}
}

func TestCalculatorInvalidExpression(t *testing.T) {
	tool := Calculator()

	if _, err := tool.Fn(context.Background(), map[string]any{"expression": "2 +"}); err == nil {
		t.Fatal("syntax error must surface as a tool error")
	}
}

func TestRunCodeRequiresSandboxSession(t *testing.T) {
	mgr := sandbox.NewManager(sandbox.NewYaegiBackend(sandbox.Config{Mode: sandbox.ModeYaegi}))
	tool := RunCode(mgr)

	// No session state on the context.
	if _, err := tool.Fn(context.Background(), map[string]any{"code": "1+1"}); err == nil {
		t.Fatal("expected an error without a sandbox session")
	}

	// State present but no sandbox id.
	ctx := engine.ContextWithState(context.Background(), engine.NewState("t", "m", 3))
	if _, err := tool.Fn(ctx, map[string]any{"code": "1+1"}); err == nil {
		t.Fatal("expected an error without a sandbox id")
	}
}

func TestRunCodeExecutesInSessionSandbox(t *testing.T) {
	mgr := sandbox.NewManager(sandbox.NewYaegiBackend(sandbox.Config{Mode: sandbox.ModeYaegi}))
	tool := RunCode(mgr)

	st := engine.NewState("t", "m", 3)
	st.SandboxID = "sess-1"
	ctx := engine.ContextWithState(context.Background(), st)

	if _, err := tool.Fn(ctx, map[string]any{"code": "x := 21"}); err != nil {
		t.Fatalf("first execution failed: %v", err)
	}
	got, err := tool.Fn(ctx, map[string]any{"code": "x * 2"})
	if err != nil {
		t.Fatalf("second execution failed: %v", err)
	}
	if strings.TrimSpace(got) != "42" {
		t.Errorf("sandbox state must persist across calls, got %q", got)
	}
}

func TestFormatResult(t *testing.T) {
	cases := []struct {
		name string
		res  sandbox.Result
		want string
	}{
		{"stdout only", sandbox.Result{Stdout: "hello"}, "hello"},
		{"stderr only", sandbox.Result{Stderr: "boom", Code: 1}, "stderr: boom\nexit code: 1"},
		{"empty", sandbox.Result{}, "(no output)"},
		{"timeout", sandbox.Result{TimedOut: true, Stdout: "partial"}, "ERROR: execution timed out"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := formatResult(tc.res); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewRegistryConditionalTools(t *testing.T) {
	reg := NewRegistry(Options{})
	if _, ok := reg["calculator"]; !ok {
		t.Error("calculator must always be registered")
	}
	if _, ok := reg["run_code"]; ok {
		t.Error("run_code requires a sandbox manager")
	}
	if _, ok := reg["find_datapoint_on_web"]; ok {
		t.Error("web search requires an API key")
	}

	mgr := sandbox.NewManager(sandbox.NewYaegiBackend(sandbox.Config{Mode: sandbox.ModeYaegi}))
	reg = NewRegistry(Options{
		Sandbox:      mgr,
		Web:          &WebSearchConfig{APIKey: "k"},
		WolframAppID: "app",
	})
	for _, name := range []string{"calculator", "run_code", "find_datapoint_on_web", "wolfram"} {
		if _, ok := reg[name]; !ok {
			t.Errorf("tool %s missing from fully configured registry", name)
		}
	}
}
