package framework

import (
	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/interp"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/pkg/aspects"
)

func is[T any](v any) bool {
	_, ok := v.(T)
	return ok
}

// MachineOptions teaches an interpreter the Go representation of the
// natively implemented framework types.
func MachineOptions() []interp.Option {
	return []interp.Option{
		interp.WithZeroValue(config.InstanceCredentialsName, func() any { return aspects.InstanceCredentials{} }),
		interp.WithZeroValue(config.RuntimeMethodHandleName, func() any { return interp.MethodHandle{} }),
		interp.WithZeroValue(config.RuntimeFieldHandleName, func() any { return interp.FieldHandle{} }),
		interp.WithZeroValue(config.RuntimeTypeHandleName, func() any { return interp.TypeHandle{} }),

		interp.WithNativeType(config.InstanceCredentialsName, is[aspects.InstanceCredentials]),
		interp.WithNativeType(config.RuntimeMethodHandleName, is[interp.MethodHandle]),
		interp.WithNativeType(config.RuntimeFieldHandleName, is[interp.FieldHandle]),
		interp.WithNativeType(config.MethodBaseTypeName, is[*metadata.MethodDef]),
		interp.WithNativeType(config.FieldInfoTypeName, is[*metadata.FieldDef]),
		interp.WithNativeType(config.RuntimeTypeHandleName, is[interp.TypeHandle]),
		interp.WithNativeType(config.TypeTypeName, is[*metadata.TypeDef]),
		interp.WithNativeType(config.MethodExecutionArgsName, is[*aspects.MethodExecutionArgs]),
		interp.WithNativeType(config.MethodInvocationArgsName, is[*aspects.MethodInvocationArgs]),
		interp.WithNativeType(config.FieldAccessArgsName, is[*aspects.FieldAccessArgs]),
		interp.WithNativeType(config.InstanceBoundArgsName, is[*aspects.InstanceBoundArgs]),
		interp.WithNativeType(config.OnMethodBoundaryInterface, is[aspects.OnMethodBoundary]),
		interp.WithNativeType(config.OnMethodInvocationInterface, is[aspects.OnMethodInvocation]),
		interp.WithNativeType(config.OnFieldAccessInterface, is[aspects.OnFieldAccess]),
		interp.WithNativeType(config.CompositionInterface, is[aspects.Composition]),
		interp.WithNativeType(config.RuntimeInitializableInterface, is[aspects.RuntimeInitializer]),
	}
}

// NewMachine creates an interpreter over d that understands framework
// values and restores embedded aspects with decoder.
func NewMachine(d *metadata.Domain, decoder interp.AspectDecoder, opts ...interp.Option) *interp.Machine {
	all := append(MachineOptions(), interp.WithDecoder(decoder))
	return interp.New(d, append(all, opts...)...)
}
