package aspects

// OnMethodBoundary advises the entry and exits of a method body.
type OnMethodBoundary interface {
	OnEntry(args *MethodExecutionArgs)
	OnSuccess(args *MethodExecutionArgs)
	OnException(args *MethodExecutionArgs)
	OnExit(args *MethodExecutionArgs)
}

// OnMethodInvocation replaces a method body; the original body is reachable
// through MethodInvocationArgs.Proceed.
type OnMethodInvocation interface {
	OnInvocation(args *MethodInvocationArgs) error
}

// OnFieldAccess intercepts every read and write of a field.
type OnFieldAccess interface {
	OnGetValue(args *FieldAccessArgs)
	OnSetValue(args *FieldAccessArgs)
}

// Composition makes the target type implement interfaces by delegating to
// an implementation object created per instance.
type Composition interface {
	CreateImplementationObject(args *InstanceBoundArgs) any
}

// Configurable supplies a configuration from the aspect instance itself.
type Configurable interface {
	AspectConfiguration() *Configuration
}

// CompileTimeValidator may reject a target while weaving.
type CompileTimeValidator interface {
	CompileTimeValidate(target Member) error
}

// CompileTimeInitializer runs once per target while weaving, before the
// aspect is serialized.
type CompileTimeInitializer interface {
	CompileTimeInitialize(target Member)
}

// RuntimeInitializer runs once per target when the woven module starts.
type RuntimeInitializer interface {
	RuntimeInitialize(target Member)
}

// Application is an aspect applied to a target by a Provider. TypeName may
// be left empty when the Go type of Aspect is registered.
type Application struct {
	Target   Member
	TypeName string
	Aspect   any
}

// Provider contributes further aspects while aspects are discovered.
type Provider interface {
	ProvideAspects(target Member) []Application
}
