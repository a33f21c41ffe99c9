package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// recordingBackend keeps an in-memory transcript per session so tests can
// assert what the manager created, executed and removed.
type recordingBackend struct {
	mu       sync.Mutex
	sessions map[string][]string // id -> executed payloads
	removed  []string
	failOn   string // payload that fails with a non-zero exit code
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{sessions: make(map[string][]string)}
}

func (b *recordingBackend) Create(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[id]; !ok {
		b.sessions[id] = nil
	}
	return nil
}

func (b *recordingBackend) Exec(_ context.Context, id, code string) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[id]; !ok {
		return Result{}, fmt.Errorf("sandbox session not found: %s", id)
	}
	if code == b.failOn {
		return Result{Stderr: "boom", Code: 1}, nil
	}
	b.sessions[id] = append(b.sessions[id], code)
	return Result{Stdout: fmt.Sprintf("ran %d payloads", len(b.sessions[id]))}, nil
}

func (b *recordingBackend) Remove(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
	b.removed = append(b.removed, id)
	return nil
}

func (b *recordingBackend) Close() error { return nil }

func (b *recordingBackend) payloads(id string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sessions[id]...)
}

func TestManagerSameSessionSeesMutations(t *testing.T) {
	backend := newRecordingBackend()
	m := NewManager(backend)
	ctx := context.Background()

	if _, err := m.Execute(ctx, "s1", "x := 5"); err != nil {
		t.Fatalf("first execute failed: %v", err)
	}
	res, err := m.Execute(ctx, "s1", "x")
	if err != nil {
		t.Fatalf("second execute failed: %v", err)
	}
	if res.Stdout != "ran 2 payloads" {
		t.Errorf("second call must observe the first, got %q", res.Stdout)
	}
	if got := m.History("s1"); len(got) != 2 {
		t.Errorf("expected 2 recorded payloads, got %v", got)
	}
}

func TestManagerSessionsAreIsolated(t *testing.T) {
	backend := newRecordingBackend()
	m := NewManager(backend)
	ctx := context.Background()

	if _, err := m.Execute(ctx, "a", "x := 1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Execute(ctx, "b", "y := 2"); err != nil {
		t.Fatal(err)
	}

	if got := backend.payloads("a"); len(got) != 1 || got[0] != "x := 1" {
		t.Errorf("session a payloads: %v", got)
	}
	if got := backend.payloads("b"); len(got) != 1 || got[0] != "y := 2" {
		t.Errorf("session b payloads: %v", got)
	}
}

func TestManagerFailedPayloadNotRecorded(t *testing.T) {
	backend := newRecordingBackend()
	backend.failOn = "exploding code"
	m := NewManager(backend)
	ctx := context.Background()

	if _, err := m.Execute(ctx, "s", "fine"); err != nil {
		t.Fatal(err)
	}
	res, err := m.Execute(ctx, "s", "exploding code")
	if err != nil {
		t.Fatalf("non-zero exit is a result, not an error: %v", err)
	}
	if res.Code == 0 {
		t.Fatal("expected failing payload to report non-zero exit")
	}
	if got := m.History("s"); len(got) != 1 {
		t.Errorf("failed payload must not enter the replay history: %v", got)
	}
}

func TestManagerForkReplaysHistory(t *testing.T) {
	backend := newRecordingBackend()
	m := NewManager(backend)
	ctx := context.Background()

	if _, err := m.Execute(ctx, "parent", "x := 5"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Execute(ctx, "parent", "x = x * 2"); err != nil {
		t.Fatal(err)
	}

	childID, err := m.Fork(ctx, "parent")
	if err != nil {
		t.Fatalf("fork failed: %v", err)
	}
	if childID == "parent" || childID == "" {
		t.Fatalf("fork must mint a fresh id, got %q", childID)
	}

	if got := backend.payloads(childID); len(got) != 2 {
		t.Fatalf("child must have the parent's history replayed, got %v", got)
	}

	// Divergence after the fork stays on the child only.
	if _, err := m.Execute(ctx, childID, "x = 0"); err != nil {
		t.Fatal(err)
	}
	if got := backend.payloads("parent"); len(got) != 2 {
		t.Errorf("parent must not see child mutations, got %v", got)
	}
}

func TestManagerForkOfUncreatedParent(t *testing.T) {
	m := NewManager(newRecordingBackend())

	childID, err := m.Fork(context.Background(), "never-used")
	if err != nil {
		t.Fatalf("forking an idle session must succeed: %v", err)
	}
	if childID == "" {
		t.Fatal("expected a fresh child id")
	}
}

func TestManagerDestroy(t *testing.T) {
	backend := newRecordingBackend()
	m := NewManager(backend)
	ctx := context.Background()

	if _, err := m.Execute(ctx, "s", "x := 1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Destroy(ctx, "s"); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	if len(backend.removed) != 1 || backend.removed[0] != "s" {
		t.Errorf("backend removal not invoked: %v", backend.removed)
	}

	// Destroying an unknown session is a no-op.
	if err := m.Destroy(ctx, "unknown"); err != nil {
		t.Errorf("unknown session destroy must be a no-op, got %v", err)
	}
}

func TestManagerEmptySessionID(t *testing.T) {
	m := NewManager(newRecordingBackend())
	if _, err := m.Execute(context.Background(), "", "x"); err == nil {
		t.Fatal("empty session id must be rejected")
	}
}

func TestManagerConcurrentSameSession(t *testing.T) {
	backend := newRecordingBackend()
	m := NewManager(backend)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = m.Execute(ctx, "shared", fmt.Sprintf("payload %d", i))
		}(i)
	}
	wg.Wait()

	if got := m.History("shared"); len(got) != 16 {
		t.Errorf("all serialized payloads must be recorded, got %d", len(got))
	}
}

func TestYaegiSessionStatePersists(t *testing.T) {
	b := NewYaegiBackend(Config{Mode: ModeYaegi})
	ctx := context.Background()

	if err := b.Create(ctx, "s"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if res, err := b.Exec(ctx, "s", "x := 5"); err != nil || res.Code != 0 {
		t.Fatalf("define failed: res=%+v err=%v", res, err)
	}

	res, err := b.Exec(ctx, "s", "x * 2")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "10" {
		t.Errorf("bindings must persist across calls, got %q", res.Stdout)
	}
}

func TestYaegiPrintCapture(t *testing.T) {
	b := NewYaegiBackend(Config{Mode: ModeYaegi})
	ctx := context.Background()
	if err := b.Create(ctx, "s"); err != nil {
		t.Fatal(err)
	}

	res, err := b.Exec(ctx, "s", `import "fmt"`+"\nfmt.Println(\"hello\")")
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("stdout not captured, got %q", res.Stdout)
	}

	res, err = b.Exec(ctx, "s", `fmt.Printf("n=%d", 7)`)
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "n=7" {
		t.Errorf("formatted output not captured, got %q", res.Stdout)
	}
}

func TestYaegiForbiddenImport(t *testing.T) {
	b := NewYaegiBackend(Config{Mode: ModeYaegi})
	ctx := context.Background()
	if err := b.Create(ctx, "s"); err != nil {
		t.Fatal(err)
	}

	res, err := b.Exec(ctx, "s", `import "os"`+"\nos.Getenv(\"HOME\")")
	if err != nil {
		t.Fatalf("forbidden import is a result, not an error: %v", err)
	}
	if res.Code == 0 {
		t.Error("forbidden import must fail the payload")
	}
	if !strings.Contains(res.Stderr, "forbidden") {
		t.Errorf("stderr should name the rejection, got %q", res.Stderr)
	}
}

func TestYaegiRuntimeError(t *testing.T) {
	b := NewYaegiBackend(Config{Mode: ModeYaegi})
	ctx := context.Background()
	if err := b.Create(ctx, "s"); err != nil {
		t.Fatal(err)
	}

	res, err := b.Exec(ctx, "s", "undefinedIdentifier + 1")
	if err != nil {
		t.Fatalf("eval failure is a result, not an error: %v", err)
	}
	if res.Code == 0 {
		t.Error("expected non-zero exit for invalid code")
	}
}
