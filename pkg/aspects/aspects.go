// Package aspects is the API implemented by aspect authors. An aspect is a
// plain Go value registered under the name of its aspect type; the weaver
// decides what code to generate from the capability interfaces the value
// implements, and the woven module calls back into the same value at run
// time.
package aspects

import (
	"errors"

	"github.com/google/uuid"
)

// Member is the reflected view of a declaration: a type, method or field.
type Member interface {
	MemberName() string
	DeclaringTypeName() string
}

// TypeMember is a reflected type that can enumerate its methods and fields.
type TypeMember interface {
	Member
	MemberList() []Member
}

// Exception is the reflected view of a thrown exception.
type Exception interface {
	ExceptionType() string
	ExceptionMessage() string
}

// FlowBehavior tells woven code how to continue after an advice returns.
type FlowBehavior int

const (
	// Default continues normally after OnEntry and rethrows after OnException.
	Default FlowBehavior = iota
	// Continue resumes normal flow; after OnException the exception is swallowed.
	Continue
	// Return leaves the method immediately with the ReturnValue of the event arguments.
	Return
	// RethrowException rethrows the current exception.
	RethrowException
)

func (f FlowBehavior) String() string {
	switch f {
	case Default:
		return "Default"
	case Continue:
		return "Continue"
	case Return:
		return "Return"
	case RethrowException:
		return "RethrowException"
	}
	return "FlowBehavior(?)"
}

// ErrCredentialsMismatch is raised when a composed accessor is called with
// credentials belonging to another instance.
var ErrCredentialsMismatch = errors.New("instance credentials do not match")

// InstanceCredentials is an opaque per-instance token. The zero value
// matches nothing but itself.
type InstanceCredentials struct {
	id uuid.UUID
}

// MakeNewCredentials returns a token distinct from every other token.
func MakeNewCredentials() InstanceCredentials {
	return InstanceCredentials{id: uuid.New()}
}

// IsZero reports whether c was never assigned.
func (c InstanceCredentials) IsZero() bool { return c.id == uuid.Nil }

// Equal reports whether both tokens identify the same instance.
func (c InstanceCredentials) Equal(other InstanceCredentials) bool { return c.id == other.id }

func (c InstanceCredentials) String() string {
	if c.IsZero() {
		return "credentials(none)"
	}
	return "credentials(" + c.id.String()[:8] + ")"
}

// AssertEquals fails with ErrCredentialsMismatch unless both tokens match.
func AssertEquals(expected, actual InstanceCredentials) error {
	if !expected.Equal(actual) {
		return ErrCredentialsMismatch
	}
	return nil
}

// MethodExecutionArgs is passed to the callbacks of OnMethodBoundary.
// Arguments shares its storage with the woven call; writes to by-ref
// positions are copied back to the caller when the advice completes.
type MethodExecutionArgs struct {
	Method              Member
	Instance            any
	Arguments           []any
	ReturnValue         any
	Exception           Exception
	FlowBehavior        FlowBehavior
	InstanceTag         any
	InstanceCredentials InstanceCredentials
}

// Invoker calls the original implementation behind an intercepted method.
type Invoker interface {
	Invoke(args []any) (any, error)
}

// MethodInvocationArgs is passed to OnMethodInvocation.
type MethodInvocationArgs struct {
	Method              Member
	Delegate            Invoker
	Instance            any
	Arguments           []any
	ReturnValue         any
	InstanceCredentials InstanceCredentials
}

// Proceed invokes the intercepted implementation with the current arguments
// and stores its result in ReturnValue. An exception thrown by the
// implementation is returned and must be returned from OnInvocation to keep
// propagating.
func (a *MethodInvocationArgs) Proceed() error {
	rv, err := a.Delegate.Invoke(a.Arguments)
	if err != nil {
		return err
	}
	a.ReturnValue = rv
	return nil
}

// FieldAccessArgs is passed to OnFieldAccess. Getters return
// ExposedFieldValue; setters store StoredFieldValue.
type FieldAccessArgs struct {
	Field               Member
	Instance            any
	StoredFieldValue    any
	ExposedFieldValue   any
	InstanceCredentials InstanceCredentials
}

// InstanceBoundArgs is passed when an aspect creates per-instance state.
type InstanceBoundArgs struct {
	Instance            any
	InstanceCredentials InstanceCredentials
}
