package weaver_test

import (
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/interp"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/serialization"
	"github.com/funvibe/aspectweave/internal/task"
	"github.com/funvibe/aspectweave/internal/testutil"
	"github.com/funvibe/aspectweave/internal/weaver"
	"github.com/funvibe/aspectweave/pkg/aspects"
)

// harness is a fixture module plus the session weaving it. Aspect instances
// are kept in process so tests can observe the instances the woven code
// calls back into.
type harness struct {
	*testutil.Fixture
	sink *diagnostics.Sink
	ser  *serialization.InProcess
	s    *weaver.Session
}

func newHarness(t *testing.T, opts ...weaver.Option) *harness {
	t.Helper()
	f := testutil.New("Tests")
	logger := zaptest.NewLogger(t)
	sink := diagnostics.NewSink(logger, 0)
	ser := serialization.NewInProcess()
	opts = append([]weaver.Option{weaver.WithLogger(logger), weaver.WithSerializer(ser)}, opts...)
	return &harness{Fixture: f, sink: sink, ser: ser, s: weaver.NewSession(f.Domain, f.Module, sink, opts...)}
}

// run weaves the module with apps and returns the orchestrator.
func (h *harness) run(apps ...task.Application) (*task.Orchestrator, error) {
	o := task.New(h.s, task.WithApplications(apps...))
	return o, o.Run()
}

// weave runs the pass and fails the test on any error.
func (h *harness) weave(t *testing.T, apps ...task.Application) *task.Orchestrator {
	t.Helper()
	o, err := h.run(apps...)
	if err != nil {
		t.Fatalf("weaving failed: %v\n%s", err, h.sink.Summary())
	}
	if h.sink.HasErrors() {
		t.Fatalf("weaving reported errors:\n%s", h.sink.Summary())
	}
	return o
}

func (h *harness) machine() *interp.Machine { return h.Machine(h.ser) }

func onMethod(typeName string, md *metadata.MethodDef, aspect any, priority int) task.Application {
	return task.Application{
		TypeName:      typeName,
		Target:        weaver.MethodTarget(md),
		Aspect:        aspect,
		Configuration: &aspects.Configuration{Priority: aspects.Int(priority)},
	}
}

func onField(typeName string, fd *metadata.FieldDef, aspect any) task.Application {
	return task.Application{TypeName: typeName, Target: weaver.FieldTarget(fd), Aspect: aspect}
}

func onType(typeName string, def *metadata.TypeDef, aspect any, cfg *aspects.Configuration) task.Application {
	return task.Application{TypeName: typeName, Target: weaver.TypeTarget(def), Aspect: aspect, Configuration: cfg}
}

func thrownType(err error) string {
	var thrown *interp.Thrown
	if errors.As(err, &thrown) {
		return thrown.Exception.ExceptionType()
	}
	return ""
}

// journal records the callbacks of the aspects of one test.
type journal struct {
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

// boundaryAspect records every callback as "name.callback" and then runs
// the matching hook, if any.
type boundaryAspect struct {
	name string
	j    *journal
	cfg  *aspects.Configuration

	entry, success, exception, exit func(*aspects.MethodExecutionArgs)
}

func (a *boundaryAspect) AspectConfiguration() *aspects.Configuration { return a.cfg }

func (a *boundaryAspect) callback(name string, hook func(*aspects.MethodExecutionArgs), args *aspects.MethodExecutionArgs) {
	if a.j != nil {
		a.j.add("%s.%s", a.name, name)
	}
	if hook != nil {
		hook(args)
	}
}

func (a *boundaryAspect) OnEntry(args *aspects.MethodExecutionArgs) {
	a.callback("entry", a.entry, args)
}

func (a *boundaryAspect) OnSuccess(args *aspects.MethodExecutionArgs) {
	a.callback("success", a.success, args)
}

func (a *boundaryAspect) OnException(args *aspects.MethodExecutionArgs) {
	a.callback("exception", a.exception, args)
}

func (a *boundaryAspect) OnExit(args *aspects.MethodExecutionArgs) {
	a.callback("exit", a.exit, args)
}

// invocationAspect runs around and proceeds to the original body.
type invocationAspect struct {
	name string
	j    *journal

	before func(*aspects.MethodInvocationArgs)
	after  func(*aspects.MethodInvocationArgs)
	fail   error
}

func (a *invocationAspect) OnInvocation(args *aspects.MethodInvocationArgs) error {
	if a.j != nil {
		a.j.add("%s.before", a.name)
	}
	if a.before != nil {
		a.before(args)
	}
	if a.fail != nil {
		return a.fail
	}
	if err := args.Proceed(); err != nil {
		return err
	}
	if a.after != nil {
		a.after(args)
	}
	if a.j != nil {
		a.j.add("%s.after", a.name)
	}
	return nil
}

func expectContractError(t *testing.T, op string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if _, ok := r.(*weaver.ContractError); !ok {
			t.Errorf("%s: got panic %v, want *weaver.ContractError", op, r)
		}
	}()
	fn()
}
