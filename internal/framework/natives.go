package framework

import (
	"errors"
	"fmt"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/interp"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
	"github.com/funvibe/aspectweave/pkg/aspects"
)

func receiver[T any](ctx metadata.NativeContext, args []any, method string) (T, error) {
	var zero T
	if len(args) == 0 {
		return zero, ctx.Throw(config.NullReferenceName, method+" called without a receiver")
	}
	r, ok := args[0].(T)
	if !ok {
		return zero, ctx.Throw(config.NullReferenceName, fmt.Sprintf("%s called on %T", method, args[0]))
	}
	return r, nil
}

func arrayValues(v any) []any {
	if arr, ok := v.(*interp.Array); ok {
		return arr.Values
	}
	return nil
}

func asException(v any) aspects.Exception {
	if e, ok := v.(aspects.Exception); ok {
		return e
	}
	return nil
}

// property exposes one field of a Go event-args value as get_/set_ methods.
type property struct {
	name string
	typ  typesystem.Type
	get  metadata.NativeFunc
	set  metadata.NativeFunc
}

func prop[T any](name string, typ typesystem.Type, get func(T) any, set func(T, any)) property {
	p := property{name: name, typ: typ}
	if get != nil {
		p.get = func(ctx metadata.NativeContext, args []any) (any, error) {
			r, err := receiver[T](ctx, args, "get_"+name)
			if err != nil {
				return nil, err
			}
			return get(r), nil
		}
	}
	if set != nil {
		p.set = func(ctx metadata.NativeContext, args []any) (any, error) {
			r, err := receiver[T](ctx, args, "set_"+name)
			if err != nil {
				return nil, err
			}
			set(r, args[1])
			return nil, nil
		}
	}
	return p
}

func credentialsOf(v any) aspects.InstanceCredentials {
	c, _ := v.(aspects.InstanceCredentials)
	return c
}

func newMethodExecutionArgs(_ metadata.NativeContext, args []any) (any, error) {
	ea := &aspects.MethodExecutionArgs{Instance: args[1], Arguments: arrayValues(args[2])}
	ea.Method, _ = args[0].(aspects.Member)
	return ea, nil
}

func methodExecutionProperties() []property {
	type ea = *aspects.MethodExecutionArgs
	return []property{
		prop("Method", MethodBase, func(a ea) any { return a.Method }, nil),
		prop("Instance", Object, func(a ea) any { return a.Instance }, func(a ea, v any) { a.Instance = v }),
		prop("Arguments", ObjectArray, func(a ea) any { return interp.NewArray(Object, a.Arguments) }, nil),
		prop("ReturnValue", Object, func(a ea) any { return a.ReturnValue }, func(a ea, v any) { a.ReturnValue = v }),
		prop("Exception", Exception, func(a ea) any { return a.Exception }, func(a ea, v any) { a.Exception = asException(v) }),
		prop("FlowBehavior", Int32, func(a ea) any { return int64(a.FlowBehavior) }, func(a ea, v any) {
			n, _ := v.(int64)
			a.FlowBehavior = aspects.FlowBehavior(n)
		}),
		prop("InstanceTag", Object, func(a ea) any { return a.InstanceTag }, func(a ea, v any) { a.InstanceTag = v }),
		prop("InstanceCredentials", InstanceCredentials, func(a ea) any { return a.InstanceCredentials }, func(a ea, v any) { a.InstanceCredentials = credentialsOf(v) }),
	}
}

func newMethodInvocationArgs(_ metadata.NativeContext, args []any) (any, error) {
	ea := &aspects.MethodInvocationArgs{Instance: args[2], Arguments: arrayValues(args[3])}
	ea.Method, _ = args[0].(aspects.Member)
	ea.Delegate, _ = args[1].(aspects.Invoker)
	return ea, nil
}

func methodInvocationProperties() []property {
	type ea = *aspects.MethodInvocationArgs
	return []property{
		prop("Method", MethodBase, func(a ea) any { return a.Method }, nil),
		prop("Instance", Object, func(a ea) any { return a.Instance }, nil),
		prop("Arguments", ObjectArray, func(a ea) any { return interp.NewArray(Object, a.Arguments) }, nil),
		prop("ReturnValue", Object, func(a ea) any { return a.ReturnValue }, func(a ea, v any) { a.ReturnValue = v }),
		prop("InstanceCredentials", InstanceCredentials, func(a ea) any { return a.InstanceCredentials }, func(a ea, v any) { a.InstanceCredentials = credentialsOf(v) }),
	}
}

func newFieldAccessArgs(_ metadata.NativeContext, args []any) (any, error) {
	ea := &aspects.FieldAccessArgs{Instance: args[1], StoredFieldValue: args[2], ExposedFieldValue: args[2]}
	ea.Field, _ = args[0].(aspects.Member)
	return ea, nil
}

func fieldAccessProperties() []property {
	type ea = *aspects.FieldAccessArgs
	return []property{
		prop("Field", FieldInfo, func(a ea) any { return a.Field }, nil),
		prop("Instance", Object, func(a ea) any { return a.Instance }, nil),
		prop("StoredFieldValue", Object, func(a ea) any { return a.StoredFieldValue }, func(a ea, v any) { a.StoredFieldValue = v }),
		prop("ExposedFieldValue", Object, func(a ea) any { return a.ExposedFieldValue }, func(a ea, v any) { a.ExposedFieldValue = v }),
		prop("InstanceCredentials", InstanceCredentials, func(a ea) any { return a.InstanceCredentials }, func(a ea, v any) { a.InstanceCredentials = credentialsOf(v) }),
	}
}

func newInstanceBoundArgs(_ metadata.NativeContext, args []any) (any, error) {
	return &aspects.InstanceBoundArgs{Instance: args[0]}, nil
}

func instanceBoundProperties() []property {
	type ea = *aspects.InstanceBoundArgs
	return []property{
		prop("Instance", Object, func(a ea) any { return a.Instance }, nil),
		prop("InstanceCredentials", InstanceCredentials, func(a ea) any { return a.InstanceCredentials }, func(a ea, v any) { a.InstanceCredentials = credentialsOf(v) }),
	}
}

func makeNewCredentials(metadata.NativeContext, []any) (any, error) {
	return aspects.MakeNewCredentials(), nil
}

func assertCredentialsEqual(ctx metadata.NativeContext, args []any) (any, error) {
	if err := aspects.AssertEquals(credentialsOf(args[0]), credentialsOf(args[1])); err != nil {
		return nil, ctx.Throw(config.SecurityExceptionName, err.Error())
	}
	return nil, nil
}

func methodFromHandle(ctx metadata.NativeContext, args []any) (any, error) {
	h, ok := args[0].(interp.MethodHandle)
	if !ok || h.Method == nil {
		return nil, ctx.Throw(config.NullReferenceName, "invalid method handle")
	}
	return h.Method, nil
}

func fieldFromHandle(ctx metadata.NativeContext, args []any) (any, error) {
	h, ok := args[0].(interp.FieldHandle)
	if !ok || h.Field == nil {
		return nil, ctx.Throw(config.NullReferenceName, "invalid field handle")
	}
	return h.Field, nil
}

func typeFromHandle(ctx metadata.NativeContext, args []any) (any, error) {
	h, ok := args[0].(interp.TypeHandle)
	if !ok || h.Type == nil {
		return nil, ctx.Throw(config.NullReferenceName, "invalid type handle")
	}
	return h.Type, nil
}

func memberName(ctx metadata.NativeContext, args []any) (any, error) {
	m, err := receiver[aspects.Member](ctx, args, "get_Name")
	if err != nil {
		return nil, err
	}
	return m.MemberName(), nil
}

func debuggerLog(ctx metadata.NativeContext, args []any) (any, error) {
	category, _ := args[1].(string)
	message, _ := args[2].(string)
	ctx.Log(category, message)
	return nil, nil
}

var (
	aspectsOnEntry     = aspects.OnMethodBoundary.OnEntry
	aspectsOnSuccess   = aspects.OnMethodBoundary.OnSuccess
	aspectsOnException = aspects.OnMethodBoundary.OnException
	aspectsOnExit      = aspects.OnMethodBoundary.OnExit
)

func onBoundary(advice func(aspects.OnMethodBoundary, *aspects.MethodExecutionArgs)) metadata.NativeFunc {
	return func(ctx metadata.NativeContext, args []any) (any, error) {
		a, err := receiver[aspects.OnMethodBoundary](ctx, args, "boundary advice")
		if err != nil {
			return nil, err
		}
		ea, ok := args[1].(*aspects.MethodExecutionArgs)
		if !ok {
			return nil, ctx.Throw(config.NullReferenceName, "missing method execution arguments")
		}
		advice(a, ea)
		return nil, nil
	}
}

func onInvocation(ctx metadata.NativeContext, args []any) (any, error) {
	a, err := receiver[aspects.OnMethodInvocation](ctx, args, "OnInvocation")
	if err != nil {
		return nil, err
	}
	ea, ok := args[1].(*aspects.MethodInvocationArgs)
	if !ok {
		return nil, ctx.Throw(config.NullReferenceName, "missing method invocation arguments")
	}
	return nil, propagate(ctx, a.OnInvocation(ea))
}

// propagate keeps runtime exceptions and fatal conditions as they are and
// turns any other aspect error into an InvalidOperationException.
func propagate(ctx metadata.NativeContext, err error) error {
	if err == nil {
		return nil
	}
	var thrown *interp.Thrown
	var fatal *interp.FatalError
	if errors.As(err, &thrown) {
		return thrown
	}
	if errors.As(err, &fatal) {
		return fatal
	}
	return ctx.Throw(config.InvalidOperationName, err.Error())
}

func onFieldAccess(set bool) metadata.NativeFunc {
	return func(ctx metadata.NativeContext, args []any) (any, error) {
		a, err := receiver[aspects.OnFieldAccess](ctx, args, "field access advice")
		if err != nil {
			return nil, err
		}
		ea, ok := args[1].(*aspects.FieldAccessArgs)
		if !ok {
			return nil, ctx.Throw(config.NullReferenceName, "missing field access arguments")
		}
		if set {
			a.OnSetValue(ea)
		} else {
			a.OnGetValue(ea)
		}
		return nil, nil
	}
}

func createImplementationObject(ctx metadata.NativeContext, args []any) (any, error) {
	a, err := receiver[aspects.Composition](ctx, args, "CreateImplementationObject")
	if err != nil {
		return nil, err
	}
	ea, ok := args[1].(*aspects.InstanceBoundArgs)
	if !ok {
		return nil, ctx.Throw(config.NullReferenceName, "missing instance arguments")
	}
	return a.CreateImplementationObject(ea), nil
}

func runtimeInitialize(ctx metadata.NativeContext, args []any) (any, error) {
	a, err := receiver[aspects.RuntimeInitializer](ctx, args, "RuntimeInitialize")
	if err != nil {
		return nil, err
	}
	member, _ := args[1].(aspects.Member)
	a.RuntimeInitialize(member)
	return nil, nil
}

func deserializeAspects(ctx metadata.NativeContext, args []any) (any, error) {
	module, _ := args[0].(string)
	name, _ := args[1].(string)
	data, ok := ctx.Resource(module, name)
	if !ok {
		return nil, &interp.FatalError{Message: fmt.Sprintf("module %s has no resource %s", module, name)}
	}
	values, err := ctx.DeserializeAspects(data)
	if err != nil {
		return nil, &interp.FatalError{Message: fmt.Sprintf("cannot restore aspects of %s: %v", module, err)}
	}
	return interp.NewArray(Object, values), nil
}

func uninitialized(_ metadata.NativeContext, args []any) (any, error) {
	module, _ := args[0].(string)
	return nil, &interp.FatalError{Message: "aspects of " + module + " used before the module was initialized"}
}
