package weaver_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
)

func TestDelegates_SameShapeSharesOneType(t *testing.T) {
	h := newHarness(t)
	calc, add := calculator(h)
	other := h.Class("Tests.Other", nil)
	sum := other.Static("Sum", framework.Int32, []typesystem.Type{framework.Int32, framework.Int32}, nil)
	neg := calc.Method("Neg", framework.Int32, []typesystem.Type{framework.Int32}, nil)

	d := h.s.Delegates
	a, b, c := d.GetDelegateMap(add), d.GetDelegateMap(sum), d.GetDelegateMap(neg)
	if a.Type != b.Type {
		t.Errorf("Add and Sum got %s and %s, want one shared type", a.Type.FullName(), b.Type.FullName())
	}
	if c.Type == a.Type {
		t.Errorf("Neg shares %s with Add", c.Type.FullName())
	}
	if d.GetDelegateMap(add) != a {
		t.Errorf("the map of a method is not cached")
	}

	var names []string
	for _, def := range d.Types() {
		names = append(names, def.Name)
	}
	want := []string{config.DelegateTypePrefix + "1", config.DelegateTypePrefix + "2"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("delegate types mismatch (-want +got):\n%s", diff)
	}

	def := a.Type
	if def.Namespace != config.DelegateNamespace || !def.Sealed || typesystem.Key(def.BaseType) != typesystem.Key(framework.MulticastDelegate) {
		t.Errorf("unexpected delegate type %s base %s", def.FullName(), def.BaseType)
	}
	if ctor := a.Ctor().Resolve(h.Domain); ctor == nil || !ctor.RuntimeManaged {
		t.Errorf("constructor = %v, want a runtime managed (Object, IntPtr) constructor", ctor)
	}
	if inv := a.Invoke().Resolve(h.Domain); inv == nil || len(inv.Params) != 2 {
		t.Errorf("Invoke = %v, want two parameters without the receiver", inv)
	}
}

func TestDelegates_GenericMethods(t *testing.T) {
	h := newHarness(t)
	host := h.Class("Tests.Host", nil)
	id := host.Static("Id", typesystem.MethodParam(0), []typesystem.Type{typesystem.MethodParam(0)}, nil)
	id.GenericParams = []*metadata.GenericParam{{Name: "T", Position: 0, Method: true, ReferenceType: true}}

	m := h.s.Delegates.GetDelegateMap(id)
	if !strings.HasSuffix(m.Type.Name, "`1") {
		t.Errorf("name = %q, want a generic arity suffix", m.Type.Name)
	}
	if diff := cmp.Diff([]typesystem.Type{typesystem.MethodParam(0)}, m.Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	inv := m.Type.FindMethod(config.InvokeMethodName, 1)
	if got := typesystem.Key(inv.Params[0].Type); got != typesystem.Key(typesystem.TypeParam(0)) {
		t.Errorf("Invoke parameter = %s, want the first type parameter", got)
	}
	if !m.Type.GenericParams[0].ReferenceType {
		t.Errorf("constraint flags were not carried over")
	}
	if got := typesystem.Key(m.Instance()); !strings.Contains(got, m.Type.Name) {
		t.Errorf("instance = %s", got)
	}

	// A differently constrained parameter is a different shape.
	loose := host.Static("Loose", typesystem.MethodParam(0), []typesystem.Type{typesystem.MethodParam(0)}, nil)
	loose.GenericParams = []*metadata.GenericParam{{Name: "T", Position: 0, Method: true}}
	if h.s.Delegates.GetDelegateMap(loose).Type == m.Type {
		t.Errorf("constraints are not part of the shape")
	}
}

func TestDelegates_GenericDeclaringType(t *testing.T) {
	h := newHarness(t)
	box := h.Generic("Tests.Box", 1)
	pick := box.Method("Pick", typesystem.TypeParam(0), []typesystem.Type{typesystem.MethodParam(0), typesystem.TypeParam(0)}, nil)
	pick.GenericParams = []*metadata.GenericParam{{Name: "U", Position: 0, Method: true}}

	m := h.s.Delegates.GetDelegateMap(pick)
	if len(m.Args) != 2 || !strings.HasSuffix(m.Type.Name, "`2") {
		t.Fatalf("type %s args %v, want two generic parameters", m.Type.Name, m.Args)
	}
	for _, arg := range m.Args {
		back := m.ToDelegate[arg.(typesystem.TVar).Name]
		if got := m.FromDelegate[back.(typesystem.TVar).Name]; typesystem.Key(got) != typesystem.Key(arg) {
			t.Errorf("%s maps to %s and back to %s", arg, back, got)
		}
	}
}
