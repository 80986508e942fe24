// Package framework builds the Aspects.Framework module: the system types
// woven code relies on and the aspect runtime library, with method bodies
// implemented natively on top of pkg/aspects.
package framework

import (
	"strconv"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
)

// Ref names a framework type.
func Ref(fullName string) typesystem.TCon {
	return typesystem.TCon{Name: fullName, Module: config.FrameworkModule}
}

var (
	Object              = Ref(config.ObjectTypeName)
	ValueType           = Ref(config.ValueTypeTypeName)
	String              = Ref(config.StringTypeName)
	Int32               = Ref(config.Int32TypeName)
	Boolean             = Ref(config.BooleanTypeName)
	IntPtr              = Ref(config.IntPtrTypeName)
	Exception           = Ref(config.ExceptionTypeName)
	MulticastDelegate   = Ref(config.MulticastDelegateName)
	MethodBase          = Ref(config.MethodBaseTypeName)
	FieldInfo           = Ref(config.FieldInfoTypeName)
	RuntimeMethodHandle = Ref(config.RuntimeMethodHandleName)
	RuntimeFieldHandle  = Ref(config.RuntimeFieldHandleName)
	Type                = Ref(config.TypeTypeName)
	RuntimeTypeHandle   = Ref(config.RuntimeTypeHandleName)
	Debugger            = Ref(config.DebuggerTypeName)

	Aspect               = Ref(config.AspectBaseName)
	MethodExecutionArgs  = Ref(config.MethodExecutionArgsName)
	MethodInvocationArgs = Ref(config.MethodInvocationArgsName)
	FieldAccessArgs      = Ref(config.FieldAccessArgsName)
	InstanceBoundArgs    = Ref(config.InstanceBoundArgsName)
	InstanceCredentials  = Ref(config.InstanceCredentialsName)
	OnMethodBoundary     = Ref(config.OnMethodBoundaryInterface)
	OnMethodInvocation   = Ref(config.OnMethodInvocationInterface)
	OnFieldAccess        = Ref(config.OnFieldAccessInterface)
	Composition          = Ref(config.CompositionInterface)
	RuntimeInitializable = Ref(config.RuntimeInitializableInterface)
	AspectsRuntime       = Ref(config.AspectsRuntimeName)

	ObjectArray = typesystem.TArray{Elem: Object}
)

// Composed instantiates IComposed<T>.
func Composed(t typesystem.Type) typesystem.Type {
	return typesystem.TApp{Constructor: Ref(config.ComposedInterface), Args: []typesystem.Type{t}}
}

// Protected instantiates IProtectedInterface<T>.
func Protected(t typesystem.Type) typesystem.Type {
	return typesystem.TApp{Constructor: Ref(config.ProtectedInterface), Args: []typesystem.Type{t}}
}

// Method references the framework method owner::name taking paramCount
// parameters, or returns nil when d has no such method.
func Method(d *metadata.Domain, owner typesystem.Type, name string, paramCount int) *metadata.MethodRef {
	def := d.ResolveType(owner)
	if def == nil {
		return nil
	}
	md := def.FindMethod(name, paramCount)
	if md == nil {
		return nil
	}
	return md.Ref(owner)
}

// New builds a fresh framework module. Native bodies are not persisted, so
// the module is always rebuilt rather than decoded.
func New() *metadata.Module {
	b := &builder{mod: metadata.NewModule(config.FrameworkModule, config.FrameworkVersion)}
	b.system()
	b.reflection()
	b.eventArgs()
	b.aspectInterfaces()
	b.runtime()
	return b.mod
}

type builder struct {
	mod *metadata.Module
}

func (b *builder) class(full string, base typesystem.Type) *metadata.TypeDef {
	ns, name := metadata.SplitFullName(full)
	return b.mod.AddType(&metadata.TypeDef{Namespace: ns, Name: name, Visibility: metadata.VisPublic, BaseType: base})
}

func (b *builder) valueType(full string) *metadata.TypeDef {
	t := b.class(full, ValueType)
	t.ValueType = true
	t.Sealed = true
	return t
}

func (b *builder) iface(full string, arity int) *metadata.TypeDef {
	ns, name := metadata.SplitFullName(full)
	t := &metadata.TypeDef{Namespace: ns, Name: name, Visibility: metadata.VisPublic, Interface: true, Abstract: true}
	for i := 0; i < arity; i++ {
		t.GenericParams = append(t.GenericParams, &metadata.GenericParam{Name: "T", Position: i})
	}
	return b.mod.AddType(t)
}

func params(types ...typesystem.Type) []*metadata.Param {
	out := make([]*metadata.Param, len(types))
	for i, t := range types {
		out[i] = &metadata.Param{Name: "p" + strconv.Itoa(i), Type: t}
	}
	return out
}

func staticNative(t *metadata.TypeDef, name string, ret typesystem.Type, fn metadata.NativeFunc, args ...typesystem.Type) {
	t.AddMethod(&metadata.MethodDef{Name: name, Params: params(args...), Return: ret, Visibility: metadata.VisPublic, Static: true, Native: fn})
}

func instanceNative(t *metadata.TypeDef, name string, ret typesystem.Type, fn metadata.NativeFunc, args ...typesystem.Type) {
	t.AddMethod(&metadata.MethodDef{Name: name, Params: params(args...), Return: ret, Visibility: metadata.VisPublic, Native: fn})
}

func nativeCtor(t *metadata.TypeDef, fn metadata.NativeFunc, args ...typesystem.Type) {
	t.AddMethod(&metadata.MethodDef{Name: config.ConstructorName, Params: params(args...), Visibility: metadata.VisPublic, Native: fn})
}

// abstractNative declares an interface method whose implementation is
// selected from the Go value of the receiver.
func abstractNative(t *metadata.TypeDef, name string, ret typesystem.Type, fn metadata.NativeFunc, args ...typesystem.Type) {
	t.AddMethod(&metadata.MethodDef{
		Name: name, Params: params(args...), Return: ret, Visibility: metadata.VisPublic,
		Virtual: true, Abstract: true, NewSlot: true, Native: fn,
	})
}

func (b *builder) system() {
	object := b.class(config.ObjectTypeName, nil)
	objectCtor := object.AddMethod(&metadata.MethodDef{
		Name: config.ConstructorName, Visibility: metadata.VisPublic,
		Body: &metadata.MethodBody{Instructions: []metadata.Instruction{{Op: metadata.OP_RET}}},
	})

	b.class(config.ValueTypeTypeName, Object).Abstract = true
	for _, name := range []string{config.Int32TypeName, config.BooleanTypeName, config.IntPtrTypeName, config.RuntimeMethodHandleName, config.RuntimeFieldHandleName, config.RuntimeTypeHandleName} {
		b.valueType(name)
	}
	b.class(config.StringTypeName, Object).Sealed = true

	exception := b.class(config.ExceptionTypeName, Object)
	message := exception.AddField(&metadata.FieldDef{Name: "Message", Type: String, Visibility: metadata.VisFamily})
	defaultCtor := exception.AddMethod(&metadata.MethodDef{Name: config.ConstructorName, Visibility: metadata.VisPublic})
	mustEmit(emit.Into(defaultCtor, func(w *emit.Writer) error {
		w.Ldthis()
		w.Call(objectCtor.Ref(nil))
		w.Op(metadata.OP_RET)
		return nil
	}))
	messageCtor := exception.AddMethod(&metadata.MethodDef{Name: config.ConstructorName, Params: params(String), Visibility: metadata.VisPublic})
	mustEmit(emit.Into(messageCtor, func(w *emit.Writer) error {
		w.Ldthis()
		w.Call(objectCtor.Ref(nil))
		w.Ldthis()
		w.LdParam(0)
		w.Stfld(message.Ref(nil))
		w.Op(metadata.OP_RET)
		return nil
	}))
	getMessage := exception.AddMethod(&metadata.MethodDef{Name: "get_Message", Return: String, Visibility: metadata.VisPublic, Virtual: true})
	mustEmit(emit.Into(getMessage, func(w *emit.Writer) error {
		w.Ldthis()
		w.Ldfld(message.Ref(nil))
		w.Op(metadata.OP_RET)
		return nil
	}))
	exception.Properties = append(exception.Properties, &metadata.Property{Name: "Message", Type: String, Getter: "get_Message"})

	for _, name := range []string{config.InvalidOperationName, config.NullReferenceName, config.InvalidCastName, config.IndexOutOfRangeName, config.SecurityExceptionName} {
		b.exception(name, defaultCtor, messageCtor)
	}

	b.class(config.MulticastDelegateName, Object).Abstract = true

	debugger := b.class(config.DebuggerTypeName, Object)
	debugger.Sealed, debugger.Abstract = true, true
	staticNative(debugger, "Log", nil, debuggerLog, Int32, String, String)
}

func (b *builder) exception(full string, baseDefault, baseMessage *metadata.MethodDef) {
	t := b.class(full, Exception)
	for _, base := range []*metadata.MethodDef{baseDefault, baseMessage} {
		ctor := t.AddMethod(&metadata.MethodDef{Name: config.ConstructorName, Params: params(base.ParamTypes()...), Visibility: metadata.VisPublic})
		mustEmit(emit.Into(ctor, func(w *emit.Writer) error {
			w.Ldthis()
			for i := range base.Params {
				w.LdParam(i)
			}
			w.Call(base.Ref(nil))
			w.Op(metadata.OP_RET)
			return nil
		}))
	}
}

func (b *builder) reflection() {
	methodBase := b.class(config.MethodBaseTypeName, Object)
	methodBase.Abstract = true
	staticNative(methodBase, "GetMethodFromHandle", MethodBase, methodFromHandle, RuntimeMethodHandle)
	instanceNative(methodBase, "get_Name", String, memberName)

	fieldInfo := b.class(config.FieldInfoTypeName, Object)
	fieldInfo.Abstract = true
	staticNative(fieldInfo, "GetFieldFromHandle", FieldInfo, fieldFromHandle, RuntimeFieldHandle)
	instanceNative(fieldInfo, "get_Name", String, memberName)

	typ := b.class(config.TypeTypeName, Object)
	typ.Abstract = true
	staticNative(typ, "GetTypeFromHandle", Type, typeFromHandle, RuntimeTypeHandle)
	instanceNative(typ, "get_Name", String, memberName)
}

func (b *builder) eventArgs() {
	b.properties(b.class(config.MethodExecutionArgsName, Object), newMethodExecutionArgs,
		[]typesystem.Type{MethodBase, Object, ObjectArray}, methodExecutionProperties())
	b.properties(b.class(config.MethodInvocationArgsName, Object), newMethodInvocationArgs,
		[]typesystem.Type{MethodBase, MulticastDelegate, Object, ObjectArray}, methodInvocationProperties())
	b.properties(b.class(config.FieldAccessArgsName, Object), newFieldAccessArgs,
		[]typesystem.Type{FieldInfo, Object, Object}, fieldAccessProperties())
	b.properties(b.class(config.InstanceBoundArgsName, Object), newInstanceBoundArgs,
		[]typesystem.Type{Object}, instanceBoundProperties())

	credentials := b.valueType(config.InstanceCredentialsName)
	staticNative(credentials, "MakeNew", InstanceCredentials, makeNewCredentials)
	staticNative(credentials, "AssertEquals", nil, assertCredentialsEqual, InstanceCredentials, InstanceCredentials)
}

func (b *builder) properties(t *metadata.TypeDef, ctor metadata.NativeFunc, ctorParams []typesystem.Type, props []property) {
	t.Sealed = true
	nativeCtor(t, ctor, ctorParams...)
	for _, p := range props {
		prop := &metadata.Property{Name: p.name, Type: p.typ}
		if p.get != nil {
			prop.Getter = "get_" + p.name
			instanceNative(t, prop.Getter, p.typ, p.get)
		}
		if p.set != nil {
			prop.Setter = "set_" + p.name
			instanceNative(t, prop.Setter, nil, p.set, p.typ)
		}
		t.Properties = append(t.Properties, prop)
	}
}

func (b *builder) aspectInterfaces() {
	aspect := b.class(config.AspectBaseName, Object)
	aspect.Abstract = true
	aspect.AddMethod(&metadata.MethodDef{
		Name: config.ConstructorName, Visibility: metadata.VisFamily,
		Body: &metadata.MethodBody{Instructions: []metadata.Instruction{{Op: metadata.OP_RET}}},
	})
	for _, name := range []string{config.AspectConfigurationAttribute, config.MulticastTargetsAttribute, config.ExcludeAspectAttribute} {
		b.class(name, Object).Sealed = true
	}

	boundary := b.iface(config.OnMethodBoundaryInterface, 0)
	abstractNative(boundary, "OnEntry", nil, onBoundary(aspectsOnEntry), MethodExecutionArgs)
	abstractNative(boundary, "OnSuccess", nil, onBoundary(aspectsOnSuccess), MethodExecutionArgs)
	abstractNative(boundary, "OnException", nil, onBoundary(aspectsOnException), MethodExecutionArgs)
	abstractNative(boundary, "OnExit", nil, onBoundary(aspectsOnExit), MethodExecutionArgs)

	invocation := b.iface(config.OnMethodInvocationInterface, 0)
	abstractNative(invocation, "OnInvocation", nil, onInvocation, MethodInvocationArgs)

	field := b.iface(config.OnFieldAccessInterface, 0)
	abstractNative(field, "OnGetValue", nil, onFieldAccess(false), FieldAccessArgs)
	abstractNative(field, "OnSetValue", nil, onFieldAccess(true), FieldAccessArgs)

	composition := b.iface(config.CompositionInterface, 0)
	abstractNative(composition, "CreateImplementationObject", Object, createImplementationObject, InstanceBoundArgs)

	initializable := b.iface(config.RuntimeInitializableInterface, 0)
	abstractNative(initializable, "RuntimeInitialize", nil, runtimeInitialize, Object)

	composed := b.iface(config.ComposedInterface, 1)
	composed.AddMethod(&metadata.MethodDef{
		Name: config.GetImplementationName, Params: params(InstanceCredentials), Return: typesystem.TypeParam(0),
		Visibility: metadata.VisPublic, Virtual: true, Abstract: true, NewSlot: true,
	})
	composed.AddMethod(&metadata.MethodDef{
		Name: config.SetImplementationName, Params: params(InstanceCredentials, typesystem.TypeParam(0)),
		Visibility: metadata.VisPublic, Virtual: true, Abstract: true, NewSlot: true,
	})

	protected := b.iface(config.ProtectedInterface, 1)
	protected.AddMethod(&metadata.MethodDef{
		Name: config.GetInterfaceName, Params: params(InstanceCredentials), Return: typesystem.TypeParam(0),
		Visibility: metadata.VisPublic, Virtual: true, Abstract: true, NewSlot: true,
	})
}

func (b *builder) runtime() {
	rt := b.class(config.AspectsRuntimeName, Object)
	rt.Sealed, rt.Abstract = true, true
	staticNative(rt, "Deserialize", ObjectArray, deserializeAspects, String, String)
	staticNative(rt, "Uninitialized", nil, uninitialized, String)
}

func mustEmit(err error) {
	if err != nil {
		panic(err)
	}
}
