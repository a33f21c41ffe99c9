package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// YaegiBackend interprets Go snippets in-process. Each session owns one
// persistent interpreter, so variables and functions defined by earlier
// payloads stay visible to later ones.
//
// Only whitelisted stdlib imports are allowed; os, net and exec access are
// rejected before evaluation.
type YaegiBackend struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*yaegiSession
}

type yaegiSession struct {
	interp *interp.Interpreter
	stdout *swappableWriter
	stderr *swappableWriter
}

// swappableWriter lets a long-lived interpreter write into a fresh buffer per
// Exec call.
type swappableWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *swappableWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return len(p), nil
	}
	return s.w.Write(p)
}

func (s *swappableWriter) swap(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}

var allowedImports = map[string]bool{
	"strings":         true,
	"strconv":         true,
	"fmt":             true,
	"math":            true,
	"math/rand":       true,
	"regexp":          true,
	"encoding/json":   true,
	"encoding/base64": true,
	"time":            true,
	"sort":            true,
	"bytes":           true,
	"unicode":         true,
	"errors":          true,
}

// NewYaegiBackend creates the in-process interpreter backend.
func NewYaegiBackend(cfg Config) *YaegiBackend {
	return &YaegiBackend{
		cfg:      cfg,
		sessions: make(map[string]*yaegiSession),
	}
}

// Create initializes a fresh interpreter for the session.
func (b *YaegiBackend) Create(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sessions[id]; ok {
		return nil
	}

	stdout := &swappableWriter{}
	stderr := &swappableWriter{}
	i := interp.New(interp.Options{Stdout: stdout, Stderr: stderr})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("failed to load stdlib symbols: %w", err)
	}
	// The stdlib fmt symbols write to the real process stdout; rebind the
	// print functions so interpreted output lands in the session writers.
	if err := i.Use(printCapture(stdout)); err != nil {
		return fmt.Errorf("failed to redirect fmt output: %w", err)
	}

	b.sessions[id] = &yaegiSession{interp: i, stdout: stdout, stderr: stderr}
	return nil
}

// printCapture overrides the fmt print symbols to target the given writers
// instead of the process's own stdout.
func printCapture(stdout io.Writer) interp.Exports {
	return interp.Exports{
		"fmt/fmt": {
			"Print": reflect.ValueOf(func(a ...any) (int, error) {
				return fmt.Fprint(stdout, a...)
			}),
			"Printf": reflect.ValueOf(func(format string, a ...any) (int, error) {
				return fmt.Fprintf(stdout, format, a...)
			}),
			"Println": reflect.ValueOf(func(a ...any) (int, error) {
				return fmt.Fprintln(stdout, a...)
			}),
		},
	}
}

// Exec evaluates a Go snippet in the session's interpreter. The printed
// output becomes Stdout; when the snippet prints nothing but evaluates to a
// value, the value's representation is returned instead.
func (b *YaegiBackend) Exec(ctx context.Context, id, code string) (Result, error) {
	b.mu.Lock()
	s, ok := b.sessions[id]
	b.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("sandbox session not found: %s", id)
	}

	if err := validateImports(code); err != nil {
		return Result{Stderr: err.Error(), Code: 1}, nil
	}

	timeout := b.cfg.ExecTimeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}

	var outBuf, errBuf bytes.Buffer
	s.stdout.swap(&outBuf)
	s.stderr.swap(&errBuf)
	defer s.stdout.swap(nil)
	defer s.stderr.swap(nil)

	type evalOutcome struct {
		repr string
		err  error
	}
	done := make(chan evalOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- evalOutcome{err: fmt.Errorf("runtime panic: %v", r)}
			}
		}()
		v, err := s.interp.Eval(code)
		var repr string
		if err == nil && v.IsValid() && v.CanInterface() {
			repr = fmt.Sprintf("%v", v.Interface())
		}
		done <- evalOutcome{repr: repr, err: err}
	}()

	select {
	case outcome := <-done:
		stdout := outBuf.String()
		if outcome.err != nil {
			return Result{
				Stdout: stdout,
				Stderr: outcome.err.Error(),
				Code:   1,
			}, nil
		}
		if stdout == "" && outcome.repr != "" {
			stdout = outcome.repr
		}
		return Result{Stdout: stdout, Stderr: errBuf.String()}, nil
	case <-time.After(timeout):
		// The eval goroutine cannot be killed; the session is considered
		// poisoned and should be destroyed by the caller.
		return Result{Stderr: "execution timed out", Code: 1, TimedOut: true}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Remove discards a session's interpreter.
func (b *YaegiBackend) Remove(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
	return nil
}

// Close discards all interpreters.
func (b *YaegiBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = make(map[string]*yaegiSession)
	return nil
}

// validateImports rejects snippets importing packages outside the whitelist.
func validateImports(code string) error {
	lines := strings.Split(code, "\n")
	var imports []string

	inImportBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "import (") {
			inImportBlock = true
			continue
		}
		if inImportBlock && strings.HasPrefix(trimmed, ")") {
			inImportBlock = false
			continue
		}

		if inImportBlock {
			pkg := strings.Trim(trimmed, `"`)
			if pkg != "" {
				imports = append(imports, pkg)
			}
		} else if strings.HasPrefix(trimmed, "import ") {
			pkg := strings.TrimPrefix(trimmed, "import ")
			pkg = strings.Trim(pkg, `"`)
			imports = append(imports, pkg)
		}
	}

	var forbidden []string
	for _, pkg := range imports {
		if !allowedImports[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}

	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %v", forbidden)
	}
	return nil
}
