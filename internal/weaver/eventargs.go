package weaver

import (
	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
)

// EventArgsBuilder emits the construction of the event arguments handed to
// aspect callbacks. Every Build method stores the arguments into a fresh
// local and returns its index; callers read results back through it.
type EventArgsBuilder struct {
	s *Session
}

// LoadMethod pushes the MethodBase of md. Non-generic methods of non-generic
// types use a handle cached by the module initializer; generic ones resolve
// their token at the call site, in the generic context of the writer.
func (b *EventArgsBuilder) LoadMethod(w *emit.Writer, md *metadata.MethodDef) {
	if cached := b.s.Details.MethodHandle(md); cached != nil {
		w.Ldsfld(cached)
		return
	}
	w.LdtokenMethod(md.SelfRef())
	w.Call(b.s.frameworkMethod(framework.MethodBase, "GetMethodFromHandle", 1))
}

// LoadField pushes the FieldInfo of fd, cached when its type is not generic.
func (b *EventArgsBuilder) LoadField(w *emit.Writer, fd *metadata.FieldDef) {
	if cached := b.s.Details.FieldHandle(fd); cached != nil {
		w.Ldsfld(cached)
		return
	}
	w.LdtokenField(fd.Ref(nil))
	w.Call(b.s.frameworkMethod(framework.FieldInfo, "GetFieldFromHandle", 1))
}

// LoadMemberDefinition pushes the reflected declaration of t outside of its
// generic context: generic declarations are closed over System.Object.
func (b *EventArgsBuilder) LoadMemberDefinition(w *emit.Writer, t Target) {
	switch {
	case t.Method != nil:
		md := t.Method
		if cached := b.s.Details.MethodHandle(md); cached != nil {
			w.Ldsfld(cached)
			return
		}
		owner := closedOverObject(md.DeclaringType())
		w.LdtokenMethod(md.Ref(owner, objects(len(md.GenericParams))...))
		w.Call(b.s.frameworkMethod(framework.MethodBase, "GetMethodFromHandle", 1))
	case t.Field != nil:
		fd := t.Field
		if cached := b.s.Details.FieldHandle(fd); cached != nil {
			w.Ldsfld(cached)
			return
		}
		w.LdtokenField(fd.Ref(closedOverObject(fd.DeclaringType())))
		w.Call(b.s.frameworkMethod(framework.FieldInfo, "GetFieldFromHandle", 1))
	case t.Type != nil:
		w.LdtokenType(closedOverObject(t.Type))
		w.Call(b.s.frameworkMethod(framework.Type, "GetTypeFromHandle", 1))
	default:
		w.Op(metadata.OP_LDNULL)
	}
}

func objects(n int) []typesystem.Type {
	out := make([]typesystem.Type, n)
	for i := range out {
		out[i] = framework.Object
	}
	return out
}

func closedOverObject(def *metadata.TypeDef) typesystem.Type {
	if !def.IsGeneric() {
		return def.Con()
	}
	return typesystem.TApp{Constructor: def.Con(), Args: objects(len(def.GenericParams))}
}

// LoadInstance pushes the receiver of the writer method as an object, or
// null for static methods. Value-type receivers are boxed copies.
func (b *EventArgsBuilder) LoadInstance(w *emit.Writer) {
	md := w.Method()
	if md.Static {
		w.Op(metadata.OP_LDNULL)
		return
	}
	owner := md.DeclaringType()
	w.Ldthis()
	if owner.ValueType {
		w.TypeOp(metadata.OP_LDOBJ, owner.SelfType())
		w.TypeOp(metadata.OP_BOX, owner.SelfType())
	}
}

// StoreInstance writes a boxed receiver taken from the stack back into the
// receiver of a value-type method. The stack must hold the object.
func (b *EventArgsBuilder) StoreInstance(w *emit.Writer, load func()) {
	md := w.Method()
	owner := md.DeclaringType()
	if md.Static || !owner.ValueType {
		return
	}
	w.Ldthis()
	load()
	w.TypeOp(metadata.OP_UNBOX_ANY, owner.SelfType())
	w.TypeOp(metadata.OP_STOBJ, owner.SelfType())
}

// LoadArguments pushes a new object array with the boxed parameters of the
// writer method. By-ref parameters contribute the value they point to.
func (b *EventArgsBuilder) LoadArguments(w *emit.Writer) {
	md := w.Method()
	w.Ldc(int64(len(md.Params)))
	w.TypeOp(metadata.OP_NEWARR, framework.Object)
	for i, p := range md.Params {
		w.Op(metadata.OP_DUP)
		w.Ldc(int64(i))
		b.loadParamValue(w, i, p)
		w.Op(metadata.OP_STELEM)
	}
}

func (b *EventArgsBuilder) loadParamValue(w *emit.Writer, i int, p *metadata.Param) {
	w.LdParam(i)
	elem := p.Type
	if typesystem.IsByRef(p.Type) {
		elem = typesystem.Elem(p.Type)
		w.TypeOp(metadata.OP_LDOBJ, elem)
	}
	w.Box(b.s.Domain, elem)
}

// attachCredentials stores the instance credentials into the arguments held
// by local ea when the receiver type has a credentials accessor.
func (b *EventArgsBuilder) attachCredentials(w *emit.Writer, ea int, argsType typesystem.Type) {
	md := w.Method()
	if md.Static {
		return
	}
	owner := md.DeclaringType()
	accessor := b.s.Credentials.Get(owner, nil)
	if accessor == nil {
		return
	}
	w.Ldloc(ea)
	w.Ldthis()
	w.Call(accessor)
	w.CallVirt(b.s.frameworkMethod(argsType, "set_InstanceCredentials", 1))
}

// BuildMethodExecutionArgs constructs MethodExecutionEventArgs for the
// writer method.
func (b *EventArgsBuilder) BuildMethodExecutionArgs(w *emit.Writer) int {
	md := w.Method()
	ea := w.DefineLocal("~executionArgs", framework.MethodExecutionArgs)
	b.LoadMethod(w, md)
	b.LoadInstance(w)
	b.LoadArguments(w)
	w.NewObj(b.s.frameworkMethod(framework.MethodExecutionArgs, ".ctor", 3))
	w.Stloc(ea)
	b.attachCredentials(w, ea, framework.MethodExecutionArgs)
	return ea
}

// BuildMethodInvocationArgs constructs MethodInvocationEventArgs for the
// writer method, with a delegate to target as the proceed continuation. The
// delegate and the arguments share one boxed receiver.
func (b *EventArgsBuilder) BuildMethodInvocationArgs(w *emit.Writer, target *metadata.MethodDef) int {
	md := w.Method()
	ea := w.DefineLocal("~invocationArgs", framework.MethodInvocationArgs)
	inst := w.DefineLocal("~instance", framework.Object)
	dm := b.s.Delegates.GetDelegateMap(target)
	b.LoadInstance(w)
	w.Stloc(inst)
	b.LoadMethod(w, md)
	w.Ldloc(inst)
	w.Ldftn(target.SelfRef())
	w.NewObj(dm.Ctor())
	w.Ldloc(inst)
	b.LoadArguments(w)
	w.NewObj(b.s.frameworkMethod(framework.MethodInvocationArgs, ".ctor", 4))
	w.Stloc(ea)
	b.attachCredentials(w, ea, framework.MethodInvocationArgs)
	return ea
}

// BuildFieldAccessArgs constructs FieldAccessEventArgs for fd inside an
// accessor of the same type. value pushes the boxed value the arguments
// start with.
func (b *EventArgsBuilder) BuildFieldAccessArgs(w *emit.Writer, fd *metadata.FieldDef, value func()) int {
	ea := w.DefineLocal("~fieldArgs", framework.FieldAccessArgs)
	b.LoadField(w, fd)
	b.LoadInstance(w)
	value()
	w.NewObj(b.s.frameworkMethod(framework.FieldAccessArgs, ".ctor", 3))
	w.Stloc(ea)
	b.attachCredentials(w, ea, framework.FieldAccessArgs)
	return ea
}

// CopyArgumentsIn refreshes the by-ref positions of the argument array of
// ea with the current values of the parameters.
func (b *EventArgsBuilder) CopyArgumentsIn(w *emit.Writer, ea int, argsType typesystem.Type) {
	md := w.Method()
	getter := b.s.frameworkMethod(argsType, "get_Arguments", 0)
	for i, p := range md.Params {
		if !typesystem.IsByRef(p.Type) {
			continue
		}
		w.Ldloc(ea)
		w.CallVirt(getter)
		w.Ldc(int64(i))
		b.loadParamValue(w, i, p)
		w.Op(metadata.OP_STELEM)
	}
}

// CopyArgumentsOut writes the by-ref positions of the argument array of ea
// back through the parameters.
func (b *EventArgsBuilder) CopyArgumentsOut(w *emit.Writer, ea int, argsType typesystem.Type) {
	md := w.Method()
	getter := b.s.frameworkMethod(argsType, "get_Arguments", 0)
	for i, p := range md.Params {
		if !typesystem.IsByRef(p.Type) {
			continue
		}
		elem := typesystem.Elem(p.Type)
		w.LdParam(i)
		w.Ldloc(ea)
		w.CallVirt(getter)
		w.Ldc(int64(i))
		w.Op(metadata.OP_LDELEM)
		w.Unbox(b.s.Domain, elem)
		w.TypeOp(metadata.OP_STOBJ, elem)
	}
}

// LoadReturnValue pushes the return value held by ea converted to the
// return type of the writer method.
func (b *EventArgsBuilder) LoadReturnValue(w *emit.Writer, ea int, argsType typesystem.Type) {
	w.Ldloc(ea)
	w.CallVirt(b.s.frameworkMethod(argsType, "get_ReturnValue", 0))
	w.Unbox(b.s.Domain, w.Method().Return)
}
