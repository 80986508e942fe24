package weaver

import "github.com/funvibe/aspectweave/pkg/aspects"

// Factory creates the weaver of an aspect application. A factory returns
// nil for aspects it does not handle so the next one in the chain can.
type Factory interface {
	CreateWeaver(s *Session, spec *Spec, target Target) Weaver
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(s *Session, spec *Spec, target Target) Weaver

func (f FactoryFunc) CreateWeaver(s *Session, spec *Spec, target Target) Weaver {
	return f(s, spec, target)
}

// BuiltinFactory handles the aspect capabilities of pkg/aspects. The first
// capability matching the kind of target wins, in the order composition,
// invocation, boundary, field access.
var BuiltinFactory Factory = FactoryFunc(builtin)

func builtin(s *Session, spec *Spec, target Target) Weaver {
	kind, ok := KindOf(spec.Aspect, target)
	if !ok {
		return nil
	}
	switch kind {
	case KindComposition:
		return NewCompositionWeaver(s, spec)
	case KindInvocation:
		return NewInvocationWeaver(s, spec)
	case KindBoundary:
		return NewBoundaryWeaver(s, spec)
	default:
		return NewFieldAccessWeaver(s, spec)
	}
}

// KindOf reports the weaver kind a capability set maps to for a target of
// the given shape, without creating a weaver.
func KindOf(aspect any, target Target) (Kind, bool) {
	switch {
	case target.Type != nil:
		if _, ok := aspect.(aspects.Composition); ok {
			return KindComposition, true
		}
	case target.Method != nil:
		if _, ok := aspect.(aspects.OnMethodInvocation); ok {
			return KindInvocation, true
		}
		if _, ok := aspect.(aspects.OnMethodBoundary); ok {
			return KindBoundary, true
		}
	case target.Field != nil:
		if _, ok := aspect.(aspects.OnFieldAccess); ok {
			return KindFieldAccess, true
		}
	}
	return 0, false
}
