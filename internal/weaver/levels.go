package weaver

import (
	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/metadata"
)

// TypeLevel is the context of a weaver bound to a type.
type TypeLevel struct {
	core *Base
}

// Type returns the target type.
func (l TypeLevel) Type() *metadata.TypeDef { return l.core.Target().Type }

// MethodLevel is the context of a weaver bound to a method. The method is
// read from the resolved target each time so redirection is observed.
type MethodLevel struct {
	core *Base
}

// Method returns the method the weaver works on.
func (l MethodLevel) Method() *metadata.MethodDef { return l.core.Target().Method }

// Original returns the method the aspect was applied to.
func (l MethodLevel) Original() *metadata.MethodDef { return l.core.Requested().Method }

// Owner returns the declaring type of the method.
func (l MethodLevel) Owner() *metadata.TypeDef { return l.Method().DeclaringType() }

// requireBody rejects methods without instructions and constructors.
func (l MethodLevel) requireBody() bool {
	s, md := l.core.Session(), l.Method()
	if md.Body == nil || md.Abstract {
		s.Sink.Write(diagnostics.Error, diagnostics.AW0020, md.String(), l.core.Spec().TypeName)
		return false
	}
	if md.IsConstructor() || md.IsTypeInitializer() {
		s.Sink.Write(diagnostics.Error, diagnostics.AW0021, md.String(), l.core.Spec().TypeName)
		return false
	}
	return true
}

// FieldLevel is the context of a weaver bound to a field.
type FieldLevel struct {
	core *Base
}

// Field returns the target field.
func (l FieldLevel) Field() *metadata.FieldDef { return l.core.Target().Field }

// Owner returns the declaring type of the field.
func (l FieldLevel) Owner() *metadata.TypeDef { return l.Field().DeclaringType() }
