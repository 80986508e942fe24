// Package testutil assembles small modules against the framework for tests.
package testutil

import (
	"testing"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/interp"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
)

// Fixture is a module under construction plus the domain it lives in.
type Fixture struct {
	Framework *metadata.Module
	Module    *metadata.Module
	Domain    *metadata.Domain
}

// New creates an empty module named name that references the framework.
func New(name string) *Fixture {
	fw := framework.New()
	mod := metadata.NewModule(name, "1.0.0")
	mod.References = []metadata.ModuleReference{{Name: fw.Name, Version: fw.Version}}
	return &Fixture{Framework: fw, Module: mod, Domain: metadata.NewDomain(fw, mod)}
}

// Ref names a type of the fixture module.
func (f *Fixture) Ref(fullName string) typesystem.TCon {
	return typesystem.TCon{Name: fullName, Module: f.Module.Name}
}

// Type is a type definition of the fixture.
type Type struct {
	*metadata.TypeDef
	f *Fixture
}

func (f *Fixture) add(def *metadata.TypeDef) *Type {
	f.Module.AddType(def)
	return &Type{TypeDef: def, f: f}
}

func newDef(full string) *metadata.TypeDef {
	ns, name := metadata.SplitFullName(full)
	return &metadata.TypeDef{Namespace: ns, Name: name, Visibility: metadata.VisPublic}
}

// Class adds a public class deriving from base, or from System.Object when base is nil.
func (f *Fixture) Class(full string, base typesystem.Type) *Type {
	def := newDef(full)
	if base == nil {
		base = framework.Object
	}
	def.BaseType = base
	return f.add(def)
}

// Generic adds a public class with arity type parameters.
func (f *Fixture) Generic(full string, arity int) *Type {
	t := f.Class(full, nil)
	for i := 0; i < arity; i++ {
		t.GenericParams = append(t.GenericParams, &metadata.GenericParam{Name: "T" + string(rune('0'+i)), Position: i})
	}
	return t
}

// Struct adds a public value type.
func (f *Fixture) Struct(full string) *Type {
	def := newDef(full)
	def.BaseType = framework.ValueType
	def.ValueType = true
	def.Sealed = true
	return f.add(def)
}

// Interface adds a public interface with arity type parameters.
func (f *Fixture) Interface(full string, arity int) *Type {
	def := newDef(full)
	def.Interface = true
	def.Abstract = true
	for i := 0; i < arity; i++ {
		def.GenericParams = append(def.GenericParams, &metadata.GenericParam{Name: "T" + string(rune('0'+i)), Position: i})
	}
	return f.add(def)
}

// AspectType adds an aspect type deriving from Aspects.Aspect.
func (f *Fixture) AspectType(full string) *Type {
	return f.Class(full, framework.Aspect)
}

// Params builds parameters p0..pn.
func Params(types ...typesystem.Type) []*metadata.Param {
	out := make([]*metadata.Param, len(types))
	for i, t := range types {
		out[i] = &metadata.Param{Name: "p" + string(rune('0'+i)), Type: t}
	}
	return out
}

// Body adapts a writer callback that cannot fail.
func Body(fn func(w *emit.Writer)) func(w *emit.Writer) error {
	return func(w *emit.Writer) error {
		fn(w)
		return nil
	}
}

func (t *Type) method(md *metadata.MethodDef, body func(w *emit.Writer)) *metadata.MethodDef {
	t.AddMethod(md)
	if body != nil {
		if err := emit.Into(md, Body(body)); err != nil {
			panic(err)
		}
	}
	return md
}

// Method adds a public non-virtual instance method.
func (t *Type) Method(name string, ret typesystem.Type, params []typesystem.Type, body func(w *emit.Writer)) *metadata.MethodDef {
	return t.method(&metadata.MethodDef{Name: name, Return: ret, Params: Params(params...), Visibility: metadata.VisPublic}, body)
}

// Virtual adds a public virtual method introducing a new slot.
func (t *Type) Virtual(name string, ret typesystem.Type, params []typesystem.Type, body func(w *emit.Writer)) *metadata.MethodDef {
	return t.method(&metadata.MethodDef{
		Name: name, Return: ret, Params: Params(params...), Visibility: metadata.VisPublic,
		Virtual: true, NewSlot: true, Abstract: body == nil,
	}, body)
}

// Override adds a public virtual method overriding a base slot of the same name.
func (t *Type) Override(name string, ret typesystem.Type, params []typesystem.Type, body func(w *emit.Writer)) *metadata.MethodDef {
	return t.method(&metadata.MethodDef{Name: name, Return: ret, Params: Params(params...), Visibility: metadata.VisPublic, Virtual: true}, body)
}

// Static adds a public static method.
func (t *Type) Static(name string, ret typesystem.Type, params []typesystem.Type, body func(w *emit.Writer)) *metadata.MethodDef {
	return t.method(&metadata.MethodDef{Name: name, Return: ret, Params: Params(params...), Visibility: metadata.VisPublic, Static: true}, body)
}

// Ctor adds a public constructor. The body is written as is, so it must
// chain to a base or sibling constructor itself.
func (t *Type) Ctor(params []typesystem.Type, body func(w *emit.Writer)) *metadata.MethodDef {
	return t.method(&metadata.MethodDef{Name: config.ConstructorName, Params: Params(params...), Visibility: metadata.VisPublic}, body)
}

// DefaultCtor adds a parameterless constructor chaining to the
// parameterless base constructor; then runs extra, if any.
func (t *Type) DefaultCtor(extra func(w *emit.Writer)) *metadata.MethodDef {
	return t.Ctor(nil, func(w *emit.Writer) {
		t.CallBaseCtor(w)
		if extra != nil {
			extra(w)
		}
		w.Op(metadata.OP_RET)
	})
}

// CallBaseCtor emits the call to the parameterless base constructor. Value
// types have none.
func (t *Type) CallBaseCtor(w *emit.Writer) {
	if t.ValueType || t.BaseType == nil {
		return
	}
	w.Ldthis()
	w.Call(&metadata.MethodRef{DeclaringType: t.BaseType, Name: config.ConstructorName})
}

// Field adds a public instance field.
func (t *Type) Field(name string, typ typesystem.Type) *metadata.FieldDef {
	return t.AddField(&metadata.FieldDef{Name: name, Type: typ, Visibility: metadata.VisPublic})
}

// StaticField adds a public static field.
func (t *Type) StaticField(name string, typ typesystem.Type) *metadata.FieldDef {
	return t.AddField(&metadata.FieldDef{Name: name, Type: typ, Visibility: metadata.VisPublic, Static: true})
}

// FieldRef references a field of t through its open self type.
func (t *Type) FieldRef(name string) *metadata.FieldRef {
	return &metadata.FieldRef{DeclaringType: t.SelfType(), Name: name}
}

// Apply attaches an attribute to the type.
func (t *Type) Apply(a *metadata.Attribute) *Type {
	t.Attributes = append(t.Attributes, a)
	return t
}

// Attr builds an attribute of the given type.
func Attr(typ typesystem.TCon, args ...any) *metadata.Attribute {
	return &metadata.Attribute{Type: typ, Args: args}
}

// Named appends a named argument to a.
func Named(a *metadata.Attribute, name string, value any) *metadata.Attribute {
	a.Named = append(a.Named, metadata.NamedArg{Name: name, Value: value})
	return a
}

// ExceptionCtor references the message constructor of a framework exception.
func ExceptionCtor(fullName string) *metadata.MethodRef {
	return &metadata.MethodRef{
		DeclaringType: framework.Ref(fullName),
		Name:          config.ConstructorName,
		Params:        []typesystem.Type{framework.String},
	}
}

// Throw emits "throw new fullName(message)".
func Throw(w *emit.Writer, fullName, message string) {
	w.Ldstr(message)
	w.NewObj(ExceptionCtor(fullName))
	w.Op(metadata.OP_THROW)
}

// Machine creates an interpreter over the fixture domain.
func (f *Fixture) Machine(decoder interp.AspectDecoder, opts ...interp.Option) *interp.Machine {
	return framework.NewMachine(f.Domain, decoder, opts...)
}

// MustCall calls typeName::method and fails the test on error.
func MustCall(t testing.TB, m *interp.Machine, typeName, method string, args ...any) any {
	t.Helper()
	v, err := m.CallMethod(typeName, method, args...)
	if err != nil {
		t.Fatalf("%s.%s: %v", typeName, method, err)
	}
	return v
}

// MustNew constructs typeName and fails the test on error.
func MustNew(t testing.TB, m *interp.Machine, typeName string, args ...any) *interp.Object {
	t.Helper()
	obj, err := m.New(typeName, args...)
	if err != nil {
		t.Fatalf("new %s: %v", typeName, err)
	}
	return obj
}
