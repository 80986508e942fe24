package weaver_test

import (
	"testing"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/interp"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/task"
	"github.com/funvibe/aspectweave/internal/testutil"
	"github.com/funvibe/aspectweave/internal/typesystem"
	"github.com/funvibe/aspectweave/internal/weaver"
	"github.com/funvibe/aspectweave/pkg/aspects"
)

// compositionAspect hands out implementation objects built by create.
type compositionAspect struct {
	cfg     *aspects.Configuration
	create  func() any
	created []*aspects.InstanceBoundArgs
}

func (a *compositionAspect) AspectConfiguration() *aspects.Configuration { return a.cfg }

func (a *compositionAspect) CreateImplementationObject(args *aspects.InstanceBoundArgs) any {
	a.created = append(a.created, args)
	return a.create()
}

// greeterFixture declares Tests.IGreeter, its implementation
// Tests.GreeterImpl and an unrelated class Tests.Person.
type greeterFixture struct {
	iface  *testutil.Type
	impl   *testutil.Type
	person *testutil.Type
}

func greeters(h *harness) *greeterFixture {
	iface := h.Interface("Tests.IGreeter", 0)
	iface.Virtual("Greet", framework.Int32, []typesystem.Type{framework.Int32}, nil)

	impl := h.Class("Tests.GreeterImpl", nil)
	impl.Interfaces = append(impl.Interfaces, iface.SelfType())
	impl.DefaultCtor(nil)
	impl.Override("Greet", framework.Int32, []typesystem.Type{framework.Int32}, func(w *emit.Writer) {
		w.LdParam(0)
		w.Ldc(100)
		w.Op(metadata.OP_ADD)
		w.Op(metadata.OP_RET)
	})

	person := h.Class("Tests.Person", nil)
	person.DefaultCtor(nil)
	return &greeterFixture{iface: iface, impl: impl, person: person}
}

func composeGreeter(accessors bool) *aspects.Configuration {
	return &aspects.Configuration{
		PublicInterface:                 aspects.String("Tests.IGreeter"),
		GenerateImplementationAccessors: aspects.Bool(accessors),
	}
}

// bindImpl makes the aspect create GreeterImpl instances on m.
func bindImpl(t *testing.T, a *compositionAspect, m **interp.Machine) {
	a.create = func() any { return testutil.MustNew(t, *m, "Tests.GreeterImpl") }
}

func TestComposition_ForwardsToImplementation(t *testing.T) {
	h := newHarness(t)
	g := greeters(h)

	var m *interp.Machine
	aspect := &compositionAspect{cfg: composeGreeter(false)}
	bindImpl(t, aspect, &m)
	o := h.weave(t, onType("Tests.Greeting", g.person.TypeDef, aspect, nil))
	m = h.machine()

	cw := o.Weavers()[0].(*weaver.CompositionWeaver)
	if cw.IsNoop() || cw.Field() == nil {
		t.Fatalf("noop = %v, field = %v", cw.IsNoop(), cw.Field())
	}
	if !h.Domain.Implements(g.person.SelfType(), g.iface.SelfType()) {
		t.Errorf("Person does not implement IGreeter")
	}

	p1 := testutil.MustNew(t, m, "Tests.Person")
	p2 := testutil.MustNew(t, m, "Tests.Person")
	if got := testutil.MustCall(t, m, "Tests.IGreeter", "Greet", p1, int64(1)); got != int64(101) {
		t.Errorf("Greet(1) = %v, want 101", got)
	}
	if len(aspect.created) != 2 {
		t.Fatalf("created %d implementation objects, want one per instance", len(aspect.created))
	}
	if aspect.created[0].Instance != p1 || aspect.created[1].Instance != p2 {
		t.Errorf("implementation objects were not bound to their instances")
	}
	if p1.Field("Tests.Person", cw.Field().Name) == p2.Field("Tests.Person", cw.Field().Name) {
		t.Errorf("instances share one implementation object")
	}
}

func TestComposition_AccessorsCheckCredentials(t *testing.T) {
	h := newHarness(t)
	g := greeters(h)

	var m *interp.Machine
	aspect := &compositionAspect{cfg: composeGreeter(true)}
	bindImpl(t, aspect, &m)
	o := h.weave(t, onType("Tests.Greeting", g.person.TypeDef, aspect, nil))
	m = h.machine()
	field := o.Weavers()[0].(*weaver.CompositionWeaver).Field().Name

	a := testutil.MustNew(t, m, "Tests.Person")
	b := testutil.MustNew(t, m, "Tests.Person")
	credA := testutil.MustCall(t, m, "Tests.Person", config.GetInstanceCredentialsName, a)
	credB := testutil.MustCall(t, m, "Tests.Person", config.GetInstanceCredentialsName, b)
	if credA == credB {
		t.Fatalf("instances share credentials %v", credA)
	}
	if got := aspect.created[0].InstanceCredentials; got != credA {
		t.Errorf("aspect saw credentials %v, want %v", got, credA)
	}

	composed := framework.Composed(g.iface.SelfType())
	get := framework.Method(h.Domain, composed, config.GetImplementationName, 1)
	set := framework.Method(h.Domain, composed, config.SetImplementationName, 2)

	impl, err := m.Call(get, a, credA)
	if err != nil {
		t.Fatalf("GetImplementation: %v", err)
	}
	if impl != a.Field("Tests.Person", field) {
		t.Errorf("GetImplementation returned %v, want the backing object", impl)
	}

	replacement := testutil.MustNew(t, m, "Tests.GreeterImpl")
	if _, err := m.Call(set, a, credA, replacement); err != nil {
		t.Fatalf("SetImplementation: %v", err)
	}
	if a.Field("Tests.Person", field) != replacement {
		t.Errorf("SetImplementation did not replace the backing object")
	}

	_, err = m.Call(get, a, credB)
	if got := thrownType(err); got != config.SecurityExceptionName {
		t.Errorf("accessor with foreign credentials: got %v, want %s", err, config.SecurityExceptionName)
	}
}

func TestComposition_ProtectedInterface(t *testing.T) {
	h := newHarness(t)
	g := greeters(h)

	var m *interp.Machine
	aspect := &compositionAspect{cfg: &aspects.Configuration{
		PublicInterface:     aspects.String("Tests.IGreeter"),
		ProtectedInterfaces: []string{"Tests.IGreeter"},
	}}
	bindImpl(t, aspect, &m)
	h.weave(t, onType("Tests.Greeting", g.person.TypeDef, aspect, nil))
	m = h.machine()

	p := testutil.MustNew(t, m, "Tests.Person")
	cred := testutil.MustCall(t, m, "Tests.Person", config.GetInstanceCredentialsName, p)
	get := framework.Method(h.Domain, framework.Protected(g.iface.SelfType()), config.GetInterfaceName, 1)
	impl, err := m.Call(get, p, cred)
	if err != nil {
		t.Fatalf("GetInterface: %v", err)
	}
	if got := testutil.MustCall(t, m, "Tests.IGreeter", "Greet", impl, int64(2)); got != int64(102) {
		t.Errorf("Greet(2) through the protected interface = %v, want 102", got)
	}
}

func TestComposition_AlreadyImplemented(t *testing.T) {
	tests := []struct {
		name     string
		ignore   bool
		wantCode diagnostics.Code
		wantNoop bool
	}{
		{"reported", false, diagnostics.AW0012, false},
		{"tolerated", true, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			g := greeters(h)
			cfg := composeGreeter(false)
			cfg.IgnoreIfAlreadyImplemented = aspects.Bool(tt.ignore)

			o, err := h.run(onType("Tests.Greeting", g.impl.TypeDef, &compositionAspect{cfg: cfg}, nil))
			if err != nil {
				t.Fatalf("unexpected fatal error: %v", err)
			}
			if tt.wantCode != "" && !h.sink.Has(tt.wantCode) {
				t.Errorf("expected %s, got:\n%s", tt.wantCode, h.sink.Summary())
			}
			if tt.wantCode == "" && h.sink.HasErrors() {
				t.Errorf("unexpected errors:\n%s", h.sink.Summary())
			}
			cw := o.Weavers()[0].(*weaver.CompositionWeaver)
			if cw.IsNoop() != tt.wantNoop {
				t.Errorf("noop = %v, want %v", cw.IsNoop(), tt.wantNoop)
			}
			if tt.wantNoop && cw.Field() != nil {
				t.Errorf("a tolerated composition must not add a field")
			}
		})
	}
}

func TestComposition_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		target func(g *greeterFixture, h *harness) *metadata.TypeDef
		cfg    func() *aspects.Configuration
		want   diagnostics.Code
	}{
		{"unknown interface",
			func(g *greeterFixture, h *harness) *metadata.TypeDef { return g.person.TypeDef },
			func() *aspects.Configuration {
				return &aspects.Configuration{PublicInterface: aspects.String("Tests.IMissing")}
			},
			diagnostics.AW0010},
		{"class instead of interface",
			func(g *greeterFixture, h *harness) *metadata.TypeDef { return g.person.TypeDef },
			func() *aspects.Configuration {
				return &aspects.Configuration{PublicInterface: aspects.String("Tests.GreeterImpl")}
			},
			diagnostics.AW0010},
		{"no interface at all",
			func(g *greeterFixture, h *harness) *metadata.TypeDef { return g.person.TypeDef },
			func() *aspects.Configuration { return &aspects.Configuration{} },
			diagnostics.AW0010},
		{"onto an interface",
			func(g *greeterFixture, h *harness) *metadata.TypeDef {
				return h.Interface("Tests.IOther", 0).TypeDef
			},
			func() *aspects.Configuration { return composeGreeter(false) },
			diagnostics.AW0011},
		{"onto a value type",
			func(g *greeterFixture, h *harness) *metadata.TypeDef { return h.Struct("Tests.Point").TypeDef },
			func() *aspects.Configuration { return composeGreeter(false) },
			diagnostics.AW0015},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			g := greeters(h)
			o, err := h.run(onType("Tests.Greeting", tt.target(g, h), &compositionAspect{cfg: tt.cfg()}, nil))
			if err != nil {
				t.Fatalf("unexpected fatal error: %v", err)
			}
			if !h.sink.Has(tt.want) {
				t.Errorf("expected %s, got:\n%s", tt.want, h.sink.Summary())
			}
			if st := o.Weavers()[0].Core().State(); st != weaver.Rejected {
				t.Errorf("state = %s, want Rejected", st)
			}
		})
	}
}

func TestComposition_BaseTypeAlreadyComposes(t *testing.T) {
	h := newHarness(t)
	g := greeters(h)
	student := h.Class("Tests.Student", g.person.SelfType())
	student.DefaultCtor(nil)

	_, err := h.run(
		onType("Tests.Greeting", g.person.TypeDef, &compositionAspect{cfg: composeGreeter(false)}, nil),
		onType("Tests.Greeting", student.TypeDef, &compositionAspect{cfg: composeGreeter(false)}, nil),
	)
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if !h.sink.Has(diagnostics.AW0013) {
		t.Errorf("expected AW0013, got:\n%s", h.sink.Summary())
	}
}

func TestComposition_SameInterfaceTwice(t *testing.T) {
	h := newHarness(t)
	g := greeters(h)

	o, err := h.run(
		onType("Tests.First", g.person.TypeDef, &compositionAspect{cfg: composeGreeter(false)}, &aspects.Configuration{Priority: aspects.Int(1)}),
		onType("Tests.Second", g.person.TypeDef, &compositionAspect{cfg: composeGreeter(false)}, &aspects.Configuration{Priority: aspects.Int(2)}),
	)
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if !h.sink.Has(diagnostics.AW0014) {
		t.Errorf("expected AW0014, got:\n%s", h.sink.Summary())
	}
	if st := o.Weavers()[1].Core().State(); st != weaver.Rejected {
		t.Errorf("second weaver state = %s, want Rejected", st)
	}
}

func TestComposition_OverlappingInterfaces(t *testing.T) {
	farewell := func(h *harness, inherits typesystem.Type) {
		f := h.Interface("Tests.IFarewell", 0)
		if inherits != nil {
			f.Interfaces = append(f.Interfaces, inherits)
		}
		f.Virtual("Leave", framework.Int32, nil, nil)
	}
	tests := []struct {
		name     string
		setup    func(g *greeterFixture, h *harness) []*aspects.Configuration
		want     diagnostics.Code
		rejected int
	}{
		{"same protected interface",
			func(g *greeterFixture, h *harness) []*aspects.Configuration {
				farewell(h, nil)
				return []*aspects.Configuration{
					{PublicInterface: aspects.String("Tests.IGreeter"), ProtectedInterfaces: []string{"Tests.IGreeter"}},
					{PublicInterface: aspects.String("Tests.IFarewell"), ProtectedInterfaces: []string{"Tests.IGreeter"}},
				}
			},
			diagnostics.AW0014, 1},
		{"public interface inherited by a sibling's",
			func(g *greeterFixture, h *harness) []*aspects.Configuration {
				farewell(h, g.iface.SelfType())
				return []*aspects.Configuration{
					composeGreeter(false),
					{PublicInterface: aspects.String("Tests.IFarewell")},
				}
			},
			diagnostics.AW0014, 1},
		{"protected interface already declared",
			func(g *greeterFixture, h *harness) []*aspects.Configuration {
				farewell(h, nil)
				g.person.Interfaces = append(g.person.Interfaces, framework.Protected(g.iface.SelfType()))
				return []*aspects.Configuration{
					{PublicInterface: aspects.String("Tests.IFarewell"), ProtectedInterfaces: []string{"Tests.IGreeter"}},
				}
			},
			diagnostics.AW0012, 0},
		{"same protected interface listed twice",
			func(g *greeterFixture, h *harness) []*aspects.Configuration {
				return []*aspects.Configuration{
					{ProtectedInterfaces: []string{"Tests.IGreeter", "Tests.IGreeter"}},
				}
			},
			diagnostics.AW0014, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			g := greeters(h)
			var apps []task.Application
			for i, cfg := range tt.setup(g, h) {
				apps = append(apps, onType("Tests.Greeting", g.person.TypeDef, &compositionAspect{cfg: cfg},
					&aspects.Configuration{Priority: aspects.Int(i)}))
			}
			o, err := h.run(apps...)
			if err != nil {
				t.Fatalf("unexpected fatal error: %v", err)
			}
			if !h.sink.Has(tt.want) {
				t.Errorf("expected %s, got:\n%s", tt.want, h.sink.Summary())
			}
			for i, w := range o.Weavers() {
				if got := w.Core().State() == weaver.Rejected; got != (i == tt.rejected) {
					t.Errorf("weaver %d state = %s", i, w.Core().State())
				}
			}
		})
	}
}
