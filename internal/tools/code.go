package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/ponder/internal/engine"
	"github.com/ChamsBouzaiene/ponder/internal/sandbox"
)

const runCodeSchema = `{
	"type": "object",
	"properties": {
		"code": {
			"type": "string",
			"description": "Code to execute in the session's sandbox. Variables and functions persist across calls within the same session."
		}
	},
	"required": ["code"]
}`

// RunCode executes code inside the session's sandbox. The sandbox session id
// travels on the tool context; each reasoning session (and each beam branch)
// owns its own.
func RunCode(mgr *sandbox.Manager) engine.Tool {
	return engine.Tool{
		Name:        "run_code",
		Description: "Execute code in a persistent sandboxed session. State survives across calls: a variable defined in one call is visible to the next.",
		SchemaJSON:  runCodeSchema,
		Retryable:   false, // executions mutate session state
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			code, _ := args["code"].(string)
			if strings.TrimSpace(code) == "" {
				return "", fmt.Errorf("code is empty")
			}

			st := engine.StateFromContext(ctx)
			if st == nil || st.SandboxID == "" {
				return "", fmt.Errorf("no sandbox session available")
			}

			res, err := mgr.Execute(ctx, st.SandboxID, code)
			if err != nil {
				return "", err
			}
			return formatResult(res), nil
		},
	}
}

func formatResult(res sandbox.Result) string {
	if res.TimedOut {
		return "ERROR: execution timed out"
	}

	var b strings.Builder
	if res.Stdout != "" {
		b.WriteString(res.Stdout)
	}
	if res.Stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "stderr: %s", res.Stderr)
	}
	if res.Code != 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "exit code: %d", res.Code)
	}
	if b.Len() == 0 {
		return "(no output)"
	}
	return b.String()
}
