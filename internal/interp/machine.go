// Package interp executes modules of the metadata object model. It exists so
// woven output can be checked by running it: exception regions, virtual
// dispatch, value-type copies, delegates and native framework methods are
// modeled; generic instantiation is erased.
package interp

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
)

const maxCallDepth = 512

var errStackUnderflow = errors.New("evaluation stack underflow")

// AspectDecoder restores aspect instances embedded by the weaver.
type AspectDecoder interface {
	Deserialize(data []byte) ([]any, error)
}

// Machine runs code from one domain. It is not safe for concurrent use.
type Machine struct {
	domain  *metadata.Domain
	decoder AspectDecoder
	logger  *zap.Logger

	statics   map[string]map[string]any
	initState map[string]int

	zeroValues map[string]func() any
	nativeIs   map[string]func(any) bool

	depth    int
	debugLog []string
}

// Option configures a Machine.
type Option func(*Machine)

// WithDecoder sets the decoder used for embedded aspect resources.
func WithDecoder(d AspectDecoder) Option {
	return func(m *Machine) { m.decoder = d }
}

// WithLogger sets the logger receiving debugger output.
func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithZeroValue registers the default value of a natively represented value type.
func WithZeroValue(typeName string, zero func() any) Option {
	return func(m *Machine) { m.zeroValues[typeName] = zero }
}

// WithNativeType registers the assignability test used by casts from Go
// values to typeName.
func WithNativeType(typeName string, is func(any) bool) Option {
	return func(m *Machine) { m.nativeIs[typeName] = is }
}

// New creates a machine over d.
func New(d *metadata.Domain, opts ...Option) *Machine {
	m := &Machine{
		domain:     d,
		logger:     zap.NewNop(),
		statics:    make(map[string]map[string]any),
		initState:  make(map[string]int),
		zeroValues: make(map[string]func() any),
		nativeIs:   make(map[string]func(any) bool),
	}
	for _, name := range []string{config.Int32TypeName, config.BooleanTypeName, config.IntPtrTypeName} {
		m.zeroValues[name] = func() any { return int64(0) }
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Domain implements metadata.NativeContext.
func (m *Machine) Domain() *metadata.Domain { return m.domain }

// Resource implements metadata.NativeContext.
func (m *Machine) Resource(module, name string) ([]byte, bool) {
	mod := m.domain.Module(module)
	if mod == nil {
		return nil, false
	}
	return mod.Resource(name)
}

// DeserializeAspects implements metadata.NativeContext.
func (m *Machine) DeserializeAspects(data []byte) ([]any, error) {
	if m.decoder == nil {
		return nil, &FatalError{Message: "no aspect decoder configured"}
	}
	return m.decoder.Deserialize(data)
}

// Throw implements metadata.NativeContext.
func (m *Machine) Throw(exceptionType, message string) error {
	return m.throw(exceptionType, message)
}

// Log implements metadata.NativeContext.
func (m *Machine) Log(category, message string) {
	m.debugLog = append(m.debugLog, category+": "+message)
	m.logger.Debug(message, zap.String("category", category))
}

// DebugLog returns every message logged through the debugger.
func (m *Machine) DebugLog() []string { return append([]string(nil), m.debugLog...) }

// Call resolves ref and invokes it with args; instance methods take the
// receiver as args[0].
func (m *Machine) Call(ref *metadata.MethodRef, args ...any) (any, error) {
	md := ref.Resolve(m.domain)
	if md == nil {
		return nil, fmt.Errorf("unresolved method %s", ref)
	}
	if !md.Static && len(args) > 0 && !md.IsConstructor() {
		return m.invokeVirtual(md, args)
	}
	return m.Invoke(md, args)
}

// CallMethod finds a method by type and name and calls it virtually.
func (m *Machine) CallMethod(typeName, method string, args ...any) (any, error) {
	def := m.findType(typeName)
	if def == nil {
		return nil, fmt.Errorf("type %s not found", typeName)
	}
	paramCount := len(args)
	md := def.FindMethod(method, -1)
	for _, cand := range def.FindMethods(method) {
		n := len(cand.Params)
		if !cand.Static {
			n++
		}
		if n == paramCount {
			md = cand
			break
		}
	}
	if md == nil {
		return nil, fmt.Errorf("method %s.%s not found", typeName, method)
	}
	if !md.Static {
		return m.invokeVirtual(md, args)
	}
	return m.Invoke(md, args)
}

// New allocates an instance of typeName and runs the constructor taking len(args) parameters.
func (m *Machine) New(typeName string, args ...any) (*Object, error) {
	def := m.findType(typeName)
	if def == nil {
		return nil, fmt.Errorf("type %s not found", typeName)
	}
	var ctor *metadata.MethodDef
	for _, c := range def.Constructors() {
		if len(c.Params) == len(args) {
			ctor = c
			break
		}
	}
	if ctor == nil {
		return nil, fmt.Errorf("type %s has no constructor with %d parameters", typeName, len(args))
	}
	v, err := m.construct(def.SelfType(), ctor, args)
	if err != nil {
		return nil, err
	}
	return v.(*Object), nil
}

// Static returns the value of a static field, running the type initializer first.
func (m *Machine) Static(typeName, field string) (any, error) {
	def := m.findType(typeName)
	if def == nil {
		return nil, fmt.Errorf("type %s not found", typeName)
	}
	if err := m.ensureInitialized(def); err != nil {
		return nil, err
	}
	return m.staticsOf(def)[field], nil
}

func (m *Machine) findType(name string) *metadata.TypeDef {
	for _, mod := range m.domain.Modules() {
		if def := mod.FindType(name); def != nil {
			return def
		}
	}
	return nil
}

// Invoke runs md without virtual dispatch.
func (m *Machine) Invoke(md *metadata.MethodDef, args []any) (any, error) {
	if md.Static {
		if err := m.ensureInitialized(md.DeclaringType()); err != nil {
			return nil, err
		}
	}
	m.depth++
	defer func() { m.depth-- }()
	if m.depth > maxCallDepth {
		return nil, &FatalError{Message: "call depth exceeded in " + md.String()}
	}

	if md.Native != nil {
		return md.Native(m, args)
	}
	if md.RuntimeManaged {
		return m.invokeRuntimeManaged(md, args)
	}
	if md.Body == nil {
		return nil, &FatalError{Message: "method " + md.String() + " has no body"}
	}
	return m.execute(md, args)
}

func (m *Machine) invokeRuntimeManaged(md *metadata.MethodDef, args []any) (any, error) {
	if md.Name != config.InvokeMethodName || len(args) == 0 {
		return nil, &FatalError{Message: "runtime method " + md.String() + " cannot be called directly"}
	}
	d, ok := args[0].(*Delegate)
	if !ok {
		return nil, m.throw(config.NullReferenceName, "delegate is null")
	}
	callArgs := args[1:]
	if !d.Method.Static {
		callArgs = append([]any{d.Target}, callArgs...)
	}
	return m.invokeVirtual(d.Method, callArgs)
}

// invokeVirtual dispatches md on the runtime type of args[0].
func (m *Machine) invokeVirtual(md *metadata.MethodDef, args []any) (any, error) {
	if md.Static || len(args) == 0 {
		return m.Invoke(md, args)
	}
	receiver := args[0]
	if ref, ok := receiver.(*Ref); ok {
		receiver = ref.Load()
	}
	switch r := receiver.(type) {
	case nil:
		return nil, m.throw(config.NullReferenceName, "null receiver calling "+md.Name)
	case *Object:
		if impl := m.findOverride(r.Def, md); impl != nil {
			return m.Invoke(impl, args)
		}
	case *Delegate:
		if md.RuntimeManaged {
			return m.invokeRuntimeManaged(md, args)
		}
	}
	return m.Invoke(md, args)
}

// findOverride walks from def towards the root looking for the most derived
// implementation of md.
func (m *Machine) findOverride(def *metadata.TypeDef, md *metadata.MethodDef) *metadata.MethodDef {
	declaring := md.DeclaringType()
	viaInterface := declaring != nil && declaring.Interface
	for cur := def; cur != nil; cur = m.baseDef(cur) {
		for _, cand := range cur.Methods {
			for _, o := range cand.Overrides {
				if o.Resolve(m.domain) == md {
					return cand
				}
			}
		}
		for _, cand := range cur.Methods {
			if cand == md {
				return cand
			}
			if cand.Static || cand.Name != md.Name || len(cand.Params) != len(md.Params) {
				continue
			}
			if viaInterface || (md.Virtual && cand.Virtual) {
				return cand
			}
		}
	}
	return nil
}

func (m *Machine) baseDef(def *metadata.TypeDef) *metadata.TypeDef {
	if def.BaseType == nil {
		return nil
	}
	return m.domain.ResolveType(def.BaseType)
}

// isAssignable reports whether def is, derives from, or implements target.
func (m *Machine) isAssignable(def *metadata.TypeDef, target *metadata.TypeDef) bool {
	if target.FullName() == config.ObjectTypeName {
		return true
	}
	for cur := def; cur != nil; cur = m.baseDef(cur) {
		if cur == target {
			return true
		}
	}
	if target.Interface {
		return m.domain.ImplementsDefinition(def.SelfType(), target.FullName())
	}
	return false
}

func (m *Machine) ensureInitialized(def *metadata.TypeDef) error {
	if def == nil {
		return nil
	}
	key := def.FullName()
	if m.initState[key] != 0 {
		return nil
	}
	m.initState[key] = 1
	for _, md := range def.Methods {
		if md.IsTypeInitializer() {
			if _, err := m.Invoke(md, nil); err != nil {
				return fmt.Errorf("type initializer of %s failed: %w", key, err)
			}
		}
	}
	m.initState[key] = 2
	return nil
}

func (m *Machine) staticsOf(def *metadata.TypeDef) map[string]any {
	key := def.FullName()
	fields, ok := m.statics[key]
	if !ok {
		fields = make(map[string]any)
		for _, f := range def.Fields {
			if f.Static {
				fields[f.Name] = m.zeroValue(f.Type)
			}
		}
		m.statics[key] = fields
	}
	return fields
}

func (m *Machine) zeroValue(t typesystem.Type) any {
	con, ok := typesystem.Definition(t)
	if !ok {
		return nil
	}
	if zero, ok := m.zeroValues[con.Name]; ok {
		return zero()
	}
	def := m.domain.ResolveType(t)
	if def != nil && def.ValueType {
		return m.allocate(t, def)
	}
	return nil
}

// allocate creates an object with every instance field of the type chain
// set to its default value.
func (m *Machine) allocate(t typesystem.Type, def *metadata.TypeDef) *Object {
	obj := &Object{Type: t, Def: def, Fields: make(map[string]any)}
	for cur := def; cur != nil; cur = m.baseDef(cur) {
		obj.chain = append(obj.chain, cur.FullName())
		for _, f := range cur.Fields {
			if !f.Static {
				obj.Fields[fieldKey(cur.FullName(), f.Name)] = m.zeroValue(f.Type)
			}
		}
	}
	return obj
}

// construct runs newobj semantics.
func (m *Machine) construct(t typesystem.Type, ctor *metadata.MethodDef, args []any) (any, error) {
	def := ctor.DeclaringType()
	if err := m.ensureInitialized(def); err != nil {
		return nil, err
	}
	if ctor.RuntimeManaged {
		if len(args) != 2 {
			return nil, &FatalError{Message: "delegate constructor expects a target and a function pointer"}
		}
		fn, ok := args[1].(*FuncPtr)
		if !ok {
			return nil, &FatalError{Message: "delegate constructor expects a function pointer"}
		}
		return &Delegate{Type: t, Target: args[0], Method: fn.Method, machine: m}, nil
	}
	if ctor.Native != nil {
		return ctor.Native(m, args)
	}
	obj := m.allocate(t, def)
	if _, err := m.Invoke(ctor, append([]any{obj}, args...)); err != nil {
		return nil, err
	}
	return obj, nil
}

// NewException creates an exception object of the named type.
func (m *Machine) NewException(typeName, message string) (*Object, error) {
	def := m.findType(typeName)
	if def == nil {
		return nil, &FatalError{Message: fmt.Sprintf("exception type %s not found (%s)", typeName, message)}
	}
	obj := m.allocate(def.SelfType(), def)
	obj.Fields[fieldKey(config.ExceptionTypeName, "Message")] = message
	return obj, nil
}

func (m *Machine) throw(typeName, message string) error {
	exc, err := m.NewException(typeName, message)
	if err != nil {
		return err
	}
	return &Thrown{Exception: exc}
}
