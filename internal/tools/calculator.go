// Package tools holds the builtin tools a reasoning session can call:
// expression calculation, sandboxed code execution, web lookup and Wolfram
// Alpha queries. Each constructor returns an engine.Tool ready to register.
package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/ChamsBouzaiene/ponder/internal/engine"
)

const calculatorSchema = `{
	"type": "object",
	"properties": {
		"expression": {
			"type": "string",
			"description": "A Go arithmetic expression, e.g. \"2+2\" or \"math.Sqrt(144)*3\""
		}
	},
	"required": ["expression"]
}`

const calculatorTimeout = 5 * time.Second

// Calculator evaluates a single Go expression in a throwaway interpreter.
// No state survives between calls; for stateful computation use run_code.
func Calculator() engine.Tool {
	return engine.Tool{
		Name:        "calculator",
		Description: "Evaluate a Go arithmetic expression and return the result. Supports math package functions, e.g. math.Sqrt(2).",
		SchemaJSON:  calculatorSchema,
		Retryable:   true,
		Fn:          evalExpression,
	}
}

func evalExpression(ctx context.Context, args map[string]any) (string, error) {
	expr, _ := args["expression"].(string)
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", fmt.Errorf("expression is empty")
	}

	type outcome struct {
		repr string
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("evaluation panic: %v", r)}
			}
		}()

		i := interp.New(interp.Options{})
		if err := i.Use(stdlib.Symbols); err != nil {
			done <- outcome{err: fmt.Errorf("interpreter setup failed: %w", err)}
			return
		}
		if _, err := i.Eval(`import "math"`); err != nil {
			done <- outcome{err: fmt.Errorf("interpreter setup failed: %w", err)}
			return
		}

		v, err := i.Eval(expr)
		if err != nil {
			done <- outcome{err: fmt.Errorf("invalid expression: %w", err)}
			return
		}
		if !v.IsValid() || !v.CanInterface() {
			done <- outcome{err: fmt.Errorf("expression produced no value")}
			return
		}
		done <- outcome{repr: fmt.Sprintf("%v", v.Interface())}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return "", o.err
		}
		return o.repr, nil
	case <-time.After(calculatorTimeout):
		return "", fmt.Errorf("expression evaluation timed out")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
