package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/testutil"
	"github.com/funvibe/aspectweave/internal/typesystem"
	"github.com/funvibe/aspectweave/pkg/aspects"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type logged struct {
	Label string
}

func (l *logged) OnEntry(*aspects.MethodExecutionArgs)     {}
func (l *logged) OnSuccess(*aspects.MethodExecutionArgs)   {}
func (l *logged) OnException(*aspects.MethodExecutionArgs) {}
func (l *logged) OnExit(*aspects.MethodExecutionArgs)      {}

func registry() *aspects.Registry {
	r := aspects.NewRegistry()
	r.Register("Tests.Logged", &logged{}, func([]any, map[string]any) (any, error) {
		return &logged{Label: "logged"}, nil
	})
	return r
}

// lockedBuffer is written by the watch loop while the test reads it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// writeProject creates a project directory whose input has count methods
// carrying Tests.Logged.
func writeProject(t *testing.T, dir, project string, count int) {
	t.Helper()
	f := testutil.New("Shop")
	s := f.Class("Shop.Cart", nil)
	s.DefaultCtor(nil)
	for i := 0; i < count; i++ {
		md := s.Static("Op"+string(rune('A'+i)), framework.Int32, nil, func(w *emit.Writer) {
			w.Ldc(1)
			w.Op(metadata.OP_RET)
		})
		md.Attributes = append(md.Attributes, testutil.Attr(typesystem.TCon{Name: "Tests.Logged"}))
	}
	data, err := metadata.Encode(f.Module)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "shop.awm"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, config.ProjectFileName), []byte(project), 0o644); err != nil {
		t.Fatal(err)
	}
}

func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := a.root()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func newTestApp(t *testing.T) *app {
	return &app{registry: registry(), logger: zaptest.NewLogger(t)}
}

func TestWeave_WritesAndCaches(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, "input: shop.awm\n", 2)
	a := newTestApp(t)

	out, err := execute(t, a, "weave", dir)
	if err != nil {
		t.Fatalf("weave failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "(2 aspects woven)") {
		t.Errorf("got %q, want a report of 2 woven aspects", out)
	}
	woven := filepath.Join(dir, "shop.woven.awm")
	first, err := os.ReadFile(woven)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(woven); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, a, "weave", dir)
	if err != nil {
		t.Fatalf("second weave failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "(cached)") {
		t.Errorf("got %q, want a cache hit", out)
	}
	second, err := os.ReadFile(woven)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("cached output differs from the woven one")
	}

	out, err = execute(t, a, "weave", "--no-cache", dir)
	if err != nil || strings.Contains(out, "(cached)") {
		t.Errorf("--no-cache: got %q, %v", out, err)
	}

	out, err = execute(t, a, "clean", dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".aspectweave", "cache")); !os.IsNotExist(err) {
		t.Errorf("cache directory survived clean: %v", err)
	}
}

func TestWeave_Concurrent(t *testing.T) {
	root := t.TempDir()
	var dirs []string
	for _, name := range []string{"a", "b", "c"} {
		dir := filepath.Join(root, name)
		writeProject(t, dir, "input: shop.awm\ncache: false\n", 1)
		dirs = append(dirs, dir)
	}
	out, err := execute(t, newTestApp(t), append([]string{"weave"}, dirs...)...)
	if err != nil {
		t.Fatalf("weave failed: %v\n%s", err, out)
	}
	for _, dir := range dirs {
		if _, err := os.Stat(filepath.Join(dir, "shop.woven.awm")); err != nil {
			t.Errorf("project %s: %v", dir, err)
		}
	}
	if got := strings.Count(out, "(1 aspects woven)"); got != len(dirs) {
		t.Errorf("got %d reports, want %d:\n%s", got, len(dirs), out)
	}
}

func TestWeave_Failure(t *testing.T) {
	root := t.TempDir()
	good, bad := filepath.Join(root, "good"), filepath.Join(root, "bad")
	writeProject(t, good, "input: shop.awm\n", 1)
	writeProject(t, bad, "input: shop.awm\nframework: \"^2.0\"\n", 1)

	out, err := execute(t, newTestApp(t), "weave", good, bad)
	if err == nil {
		t.Fatal("weave succeeded with an incompatible framework")
	}
	if !strings.Contains(out, "AW0060") || !strings.Contains(out, "FAIL") {
		t.Errorf("got %q, want the AW0060 report", out)
	}
	if _, err := os.Stat(filepath.Join(good, "shop.woven.awm")); err != nil {
		t.Errorf("the compatible project was not woven: %v", err)
	}
	if _, err := os.Stat(filepath.Join(bad, "shop.woven.awm")); !os.IsNotExist(err) {
		t.Errorf("output written for the failed project: %v", err)
	}
}

func TestWeave_NoProject(t *testing.T) {
	dir := t.TempDir()
	if _, err := execute(t, newTestApp(t), "weave", filepath.Join(dir, "missing")); err == nil {
		t.Errorf("weave of a missing project succeeded")
	}
}

func TestDisasmAndVerify(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, "input: shop.awm\n", 1)
	a := newTestApp(t)
	if out, err := execute(t, a, "weave", dir); err != nil {
		t.Fatalf("weave failed: %v\n%s", err, out)
	}
	woven := filepath.Join(dir, "shop.woven.awm")

	out, err := execute(t, a, "disasm", woven)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"== module Shop 1.0.0 ==", ".mvid ", ".resource " + config.AspectsResourceName} {
		if !strings.Contains(out, want) {
			t.Errorf("disasm output lacks %q", want)
		}
	}

	out, err = execute(t, a, "verify", woven)
	if err != nil || !strings.Contains(out, "ok Shop") {
		t.Errorf("verify: got %q, %v", out, err)
	}

	garbage := filepath.Join(dir, "garbage.awm")
	if err := os.WriteFile(garbage, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, a, "verify", garbage); err == nil {
		t.Errorf("verify accepted a corrupt bundle")
	}
}

func TestWatch_ReweavesOnInputChange(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, "input: shop.awm\ncache: false\n", 1)
	a := newTestApp(t)
	paths, err := resolveProjects([]string{dir})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := &lockedBuffer{}
	done := make(chan error, 1)
	go func() { done <- a.watch(ctx, out, paths, false) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("watch returned %v", err)
		}
	}()

	waitFor(t, out, "watching 1 projects")
	writeProject(t, dir, "input: shop.awm\ncache: false\n", 3)
	waitFor(t, out, "(3 aspects woven)")
}

func waitFor(t *testing.T, out *lockedBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), want) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in:\n%s", want, out.String())
}
