package weaver_test

import (
	"testing"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/testutil"
	"github.com/funvibe/aspectweave/internal/weaver"
	"github.com/funvibe/aspectweave/pkg/aspects"
)

func returnOne(w *emit.Writer) {
	w.Ldc(1)
	w.Op(metadata.OP_RET)
}

func newBoundary(h *harness, aspect any) *weaver.BoundaryWeaver {
	return weaver.NewBoundaryWeaver(h.s, &weaver.Spec{TypeName: "Tests.Trace", Aspect: aspect})
}

func TestLifecycle_AdvancesThroughStates(t *testing.T) {
	h := newHarness(t)
	svc := h.Class("Tests.Service", nil)
	run := svc.Method("Run", framework.Int32, nil, returnOne)

	w := newBoundary(h, &boundaryAspect{})
	core := w.Core()
	steps := []struct {
		op   func()
		want weaver.State
	}{
		{core.Initialize, weaver.Initialized},
		{core.InitializeAspect, weaver.AspectInitialized},
		{func() { core.AssignTarget(weaver.MethodTarget(run)) }, weaver.TargetAssigned},
		{func() { core.ValidateSelf() }, weaver.TargetAssigned},
		{func() { core.ValidateInteractions([]weaver.Weaver{w}) }, weaver.Validated},
		{func() {
			if err := core.Implement(); err != nil {
				t.Fatal(err)
			}
		}, weaver.Implemented},
	}
	for i, step := range steps {
		step.op()
		if got := core.State(); got != step.want {
			t.Fatalf("step %d: state = %s, want %s", i, got, step.want)
		}
	}
	if core.Target() != weaver.MethodTarget(run) || core.IsRedirected() {
		t.Errorf("target = %s, redirected = %v", core.Target(), core.IsRedirected())
	}
}

func TestLifecycle_OutOfOrderCallsAreContractErrors(t *testing.T) {
	tests := []struct {
		name string
		run  func(h *harness, w *weaver.BoundaryWeaver, target weaver.Target)
	}{
		{"assign before initialize", func(h *harness, w *weaver.BoundaryWeaver, target weaver.Target) {
			w.Core().AssignTarget(target)
		}},
		{"initialize twice", func(h *harness, w *weaver.BoundaryWeaver, target weaver.Target) {
			w.Core().Initialize()
			w.Core().Initialize()
		}},
		{"assign twice", func(h *harness, w *weaver.BoundaryWeaver, target weaver.Target) {
			w.Core().Initialize()
			w.Core().InitializeAspect()
			w.Core().AssignTarget(target)
			w.Core().AssignTarget(target)
		}},
		{"implement before validation", func(h *harness, w *weaver.BoundaryWeaver, target weaver.Target) {
			w.Core().Initialize()
			w.Core().InitializeAspect()
			w.Core().AssignTarget(target)
			_ = w.Core().Implement()
		}},
		{"interactions before self validation", func(h *harness, w *weaver.BoundaryWeaver, target weaver.Target) {
			w.Core().Initialize()
			w.Core().InitializeAspect()
			w.Core().AssignTarget(target)
			w.Core().ValidateInteractions(nil)
		}},
		{"redirect before validation", func(h *harness, w *weaver.BoundaryWeaver, target weaver.Target) {
			w.Core().Initialize()
			w.Core().InitializeAspect()
			w.Core().AssignTarget(target)
			w.Core().Redirect(target)
		}},
		{"runtime initialization before implementation", func(h *harness, w *weaver.BoundaryWeaver, target weaver.Target) {
			w.Core().Initialize()
			_ = w.Core().EmitRuntimeInitialization(nil)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			svc := h.Class("Tests.Service", nil)
			run := svc.Method("Run", framework.Int32, nil, returnOne)
			w := newBoundary(h, &boundaryAspect{})
			expectContractError(t, tt.name, func() { tt.run(h, w, weaver.MethodTarget(run)) })
		})
	}
}

func TestLifecycle_NamesAreUniquePerSession(t *testing.T) {
	h := newHarness(t)
	var names []string
	for i := 0; i < 3; i++ {
		w := newBoundary(h, &boundaryAspect{})
		w.Core().Initialize()
		w.Core().InitializeAspect()
		names = append(names, w.Core().Name())
	}
	want := []string{"Trace", "Trace~2", "Trace~3"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("name %d = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestLifecycle_RejectsAspectTypes(t *testing.T) {
	h := newHarness(t)
	own := h.AspectType("Tests.OwnAspect")
	run := own.Method("Run", framework.Int32, nil, returnOne)

	o, err := h.run(onMethod("Tests.Trace", run, &boundaryAspect{}, 0))
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if !h.sink.Has(diagnostics.AW0003) {
		t.Errorf("expected AW0003, got:\n%s", h.sink.Summary())
	}
	if st := o.Weavers()[0].Core().State(); st != weaver.Rejected {
		t.Errorf("state = %s, want Rejected", st)
	}
}

func TestLifecycle_CompileTimeValidatorCanReject(t *testing.T) {
	h := newHarness(t)
	svc := h.Class("Tests.Service", nil)
	run := svc.Method("Run", framework.Int32, nil, returnOne)

	aspect := &validatingAspect{reject: "not here"}
	if _, err := h.run(onMethod("Tests.Validating", run, aspect, 0)); err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if !h.sink.Has(diagnostics.AW0008) {
		t.Errorf("expected AW0008, got:\n%s", h.sink.Summary())
	}
	if aspect.validated != "Run" {
		t.Errorf("validator saw %q, want Run", aspect.validated)
	}
	if aspect.initialized != "" {
		t.Errorf("a rejected aspect must not be initialized")
	}
}

func TestLifecycle_CompileTimeInitializerRunsOncePerTarget(t *testing.T) {
	h := newHarness(t)
	svc := h.Class("Tests.Service", nil)
	run := svc.Method("Run", framework.Int32, nil, returnOne)

	aspect := &validatingAspect{}
	h.weave(t, onMethod("Tests.Validating", run, aspect, 0))
	if aspect.initialized != "Run" || aspect.initCount != 1 {
		t.Errorf("initialized %q %d times, want Run once", aspect.initialized, aspect.initCount)
	}
}

func TestLifecycle_RuntimeInstanceIsRequired(t *testing.T) {
	h := newHarness(t)
	svc := h.Class("Tests.Service", nil)
	run := svc.Method("Run", framework.Int32, nil, returnOne)

	app := onMethod("Tests.Trace", run, &boundaryAspect{}, 0)
	app.Configuration.RequiresRuntimeInstance = aspects.Bool(false)
	if _, err := h.run(app); err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if !h.sink.Has(diagnostics.AW0006) {
		t.Errorf("expected AW0006, got:\n%s", h.sink.Summary())
	}
}

func TestConfiguration_Precedence(t *testing.T) {
	h := newHarness(t)
	at := h.AspectType("Tests.Trace")
	at.Apply(testutil.Named(testutil.Named(testutil.Attr(framework.Ref(config.AspectConfigurationAttribute)),
		"RequiresInstanceTag", true), "Priority", int64(9)))
	svc := h.Class("Tests.Service", nil)
	run := svc.Method("Run", framework.Int32, nil, returnOne)

	aspect := &boundaryAspect{cfg: &aspects.Configuration{
		Priority:      aspects.Int(3),
		ExceptionType: aspects.String(config.InvalidOperationName),
	}}
	w := weaver.NewBoundaryWeaver(h.s, &weaver.Spec{
		TypeName:      "Tests.Trace",
		Aspect:        aspect,
		Configuration: &aspects.Configuration{Priority: aspects.Int(5)},
	})
	w.Core().Initialize()
	w.Core().InitializeAspect()
	w.Core().AssignTarget(weaver.MethodTarget(run))

	cfg := w.Core().Config()
	if got := w.Core().Priority(); got != 5 {
		t.Errorf("priority = %d, want 5 from the application", got)
	}
	if got := aspects.StringValue(cfg.ExceptionType, ""); got != config.InvalidOperationName {
		t.Errorf("exception type = %q, want the one of the instance", got)
	}
	if !aspects.BoolValue(cfg.RequiresInstanceTag, false) {
		t.Errorf("instance tag should come from the configuration attribute")
	}
	if !aspects.BoolValue(cfg.RequiresRuntimeInstance, false) {
		t.Errorf("runtime instance should default to required")
	}
}

func TestConfiguration_MalformedAttributeWarns(t *testing.T) {
	h := newHarness(t)
	at := h.AspectType("Tests.Trace")
	at.Apply(testutil.Named(testutil.Attr(framework.Ref(config.AspectConfigurationAttribute)), "RequiresInstanceTag", "yes"))

	w := newBoundary(h, &boundaryAspect{})
	w.Core().Initialize()
	if !h.sink.Has(diagnostics.AW0041) {
		t.Errorf("expected AW0041, got:\n%s", h.sink.Summary())
	}
}

// validatingAspect is a boundary aspect with compile-time hooks.
type validatingAspect struct {
	boundaryAspect
	reject      string
	validated   string
	initialized string
	initCount   int
}

func (a *validatingAspect) CompileTimeValidate(target aspects.Member) error {
	a.validated = target.MemberName()
	if a.reject != "" {
		return &rejection{a.reject}
	}
	return nil
}

func (a *validatingAspect) CompileTimeInitialize(target aspects.Member) {
	a.initialized = target.MemberName()
	a.initCount++
}

type rejection struct{ reason string }

func (r *rejection) Error() string { return r.reason }
