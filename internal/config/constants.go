package config

import "math"

// ProjectFileName is the project file looked up by the CLI
const ProjectFileName = "aspectweave.yaml"

// ModuleFileExt is the extension of encoded modules
const ModuleFileExt = ".awm"

// WeaverVersion participates in cache keys; bump when woven output changes shape.
const WeaverVersion = "1.4.0"

// Framework module
const (
	FrameworkModule  = "Aspects.Framework"
	FrameworkVersion = "1.4.0"
)

// System type names
const (
	ObjectTypeName          = "System.Object"
	ValueTypeTypeName       = "System.ValueType"
	ExceptionTypeName       = "System.Exception"
	InvalidOperationName    = "System.InvalidOperationException"
	NullReferenceName       = "System.NullReferenceException"
	InvalidCastName         = "System.InvalidCastException"
	IndexOutOfRangeName     = "System.IndexOutOfRangeException"
	SecurityExceptionName   = "System.Security.SecurityException"
	Int32TypeName           = "System.Int32"
	BooleanTypeName         = "System.Boolean"
	StringTypeName          = "System.String"
	IntPtrTypeName          = "System.IntPtr"
	MulticastDelegateName   = "System.MulticastDelegate"
	MethodBaseTypeName      = "System.Reflection.MethodBase"
	FieldInfoTypeName       = "System.Reflection.FieldInfo"
	RuntimeMethodHandleName = "System.RuntimeMethodHandle"
	RuntimeFieldHandleName  = "System.RuntimeFieldHandle"
	TypeTypeName            = "System.Type"
	RuntimeTypeHandleName   = "System.RuntimeTypeHandle"
	DebuggerTypeName        = "System.Diagnostics.Debugger"
)

// Aspect runtime type names
const (
	AspectBaseName                = "Aspects.Aspect"
	MethodExecutionArgsName       = "Aspects.MethodExecutionEventArgs"
	MethodInvocationArgsName      = "Aspects.MethodInvocationEventArgs"
	FieldAccessArgsName           = "Aspects.FieldAccessEventArgs"
	InstanceBoundArgsName         = "Aspects.InstanceBoundEventArgs"
	InstanceCredentialsName       = "Aspects.InstanceCredentials"
	OnMethodBoundaryInterface     = "Aspects.IOnMethodBoundaryAspect"
	OnMethodInvocationInterface   = "Aspects.IOnMethodInvocationAspect"
	OnFieldAccessInterface        = "Aspects.IOnFieldAccessAspect"
	CompositionInterface          = "Aspects.ICompositionAspect"
	RuntimeInitializableInterface = "Aspects.IRuntimeInitializable"
	ComposedInterface             = "Aspects.IComposed`1"
	ProtectedInterface            = "Aspects.IProtectedInterface`1"
	AspectsRuntimeName            = "Aspects.AspectsRuntime"
)

// Attributes that configure weaving rather than apply aspects
const (
	AspectConfigurationAttribute = "Aspects.AspectConfigurationAttribute"
	MulticastTargetsAttribute    = "Aspects.MulticastTargetsAttribute"
	ExcludeAspectAttribute       = "Aspects.ExcludeAspectAttribute"
)

// Module-level multicast attribute properties
const (
	AttributeTargetTypes   = "AttributeTargetTypes"
	AttributeTargetMembers = "AttributeTargetMembers"
	AttributePriority      = "AttributePriority"
)

// Synthetic member names
const (
	InitializeAspectsName         = "InitializeAspects"
	PrivateInitializerPrefix      = "~InitializeAspects~"
	GetInstanceCredentialsName    = "GetInstanceCredentials"
	InstanceCredentialsFieldName  = "~instanceCredentials"
	InstanceTagFieldPrefix        = "~tag~"
	ImplementationDetailsPrefix   = "<>AspectsImplementationDetails_"
	ImplementationDetailsNS       = ""
	InitializedFieldName          = "initialized"
	AspectFieldPrefix             = "~aspect~"
	MethodHandleFieldPrefix       = "~method~"
	FieldHandleFieldPrefix        = "~field~"
	AspectsResourceName           = "~aspects"
	DelegateNamespace             = "<>Aspects.Delegates"
	DelegateTypePrefix            = "~Delegate~"
	InvokeMethodName              = "Invoke"
	RelocatedMethodSuffix         = "~Invoke"
	FieldGetterPrefix             = "~get~"
	FieldSetterPrefix             = "~set~"
	CompositionFieldPrefix        = "~"
	CompositionFallbackFieldName  = "~composed~"
	GetImplementationName         = "GetImplementation"
	SetImplementationName         = "SetImplementation"
	GetInterfaceName              = "GetInterface"
	DebuggerCategory              = "Aspects"
	ConstructorName               = ".ctor"
	TypeInitializerName           = ".cctor"
)

// Priorities reserved by the instance-initialization machinery
const (
	CredentialsInitPriority = math.MinInt
	DefaultInitPriority     = 0
)
