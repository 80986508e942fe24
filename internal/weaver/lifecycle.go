package weaver

import (
	"fmt"

	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/pkg/aspects"
)

// State is a position in the lifecycle of a weaver.
type State int

const (
	Unbound State = iota
	Initialized
	AspectInitialized
	TargetAssigned
	Validated
	Redirected
	Implemented
	RuntimeWired
	Rejected
)

var stateNames = [...]string{
	"Unbound", "Initialized", "AspectInitialized", "TargetAssigned",
	"Validated", "Redirected", "Implemented", "RuntimeWired", "Rejected",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ContractError is raised when a weaving API is used out of order. It
// signals a defect in the caller and is never recovered.
type ContractError struct {
	Component string
	Op        string
	Detail    string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Component, e.Op, e.Detail)
}

func violate(component, op, format string, args ...any) {
	panic(&ContractError{Component: component, Op: op, Detail: fmt.Sprintf(format, args...)})
}

// Spec is one aspect application as discovered. It does not change once captured.
type Spec struct {
	// TypeName is the aspect type the instance was registered under.
	TypeName string
	Aspect   any

	// Configuration is attached explicitly by the application site and
	// takes precedence over every other configuration source.
	Configuration *aspects.Configuration

	// Origin describes where the application was found.
	Origin string
}

// Target is the declaration a weaver is bound to. Exactly one field is set.
type Target struct {
	Type   *metadata.TypeDef
	Method *metadata.MethodDef
	Field  *metadata.FieldDef
}

func TypeTarget(t *metadata.TypeDef) Target     { return Target{Type: t} }
func MethodTarget(m *metadata.MethodDef) Target { return Target{Method: m} }
func FieldTarget(f *metadata.FieldDef) Target   { return Target{Field: f} }

// IsZero reports an unset target.
func (t Target) IsZero() bool { return t.Type == nil && t.Method == nil && t.Field == nil }

// Member returns the declaration as seen by aspects.
func (t Target) Member() aspects.Member {
	switch {
	case t.Method != nil:
		return t.Method
	case t.Field != nil:
		return t.Field
	case t.Type != nil:
		return t.Type
	}
	return nil
}

// DeclaringType returns the type that owns the declaration, or the type itself.
func (t Target) DeclaringType() *metadata.TypeDef {
	switch {
	case t.Method != nil:
		return t.Method.DeclaringType()
	case t.Field != nil:
		return t.Field.DeclaringType()
	}
	return t.Type
}

func (t Target) String() string {
	switch {
	case t.Method != nil:
		return t.Method.String()
	case t.Field != nil:
		return t.Field.String()
	case t.Type != nil:
		return t.Type.FullName()
	}
	return "<none>"
}

// Weaver is one aspect bound to one target for the duration of a pass. The
// lifecycle is driven through Core; the optional capabilities below are
// what distinguishes one kind of weaver from another.
type Weaver interface {
	Core() *Base

	// OnTargetAssigned is called when the target is first bound and again
	// if an earlier weaver relocates it. Nothing derived from the target
	// may be cached across the two calls.
	OnTargetAssigned(reassigned bool)
}

// SelfValidator rejects targets the weaver cannot handle.
type SelfValidator interface {
	ValidateSelf() bool
}

// InteractionValidator checks constraints between weavers sharing a target.
// siblings are priority ordered and include the receiver.
type InteractionValidator interface {
	ValidateInteractions(siblings []Weaver) bool
}

// Implementer synthesizes the code of the aspect.
type Implementer interface {
	Implement() error
}

// RuntimeInitEmitter replaces the default runtime initialization emitted
// into the module static constructor.
type RuntimeInitEmitter interface {
	EmitRuntimeInitialization(w *emit.Writer) error
}

// Redirector relocates the target body into a new method. Weavers ordered
// after it on the same declaration observe the returned target.
type Redirector interface {
	Relocate() (Target, error)
}

// IntentAnnouncer records what the weaver will add to its target before
// any weaver is validated, so derived types can see it.
type IntentAnnouncer interface {
	AnnounceIntents()
}

// Base carries the state shared by every weaver kind and enforces the
// lifecycle order.
type Base struct {
	session *Session
	self    Weaver
	spec    *Spec
	kind    Kind
	name    string
	state   State
	config  aspects.Configuration

	requested Target
	resolved  Target

	selfValid    bool
	runtimeField *metadata.FieldRef
}

// NewBase creates the core of a weaver. self is the weaver owning it.
func NewBase(s *Session, self Weaver, spec *Spec, kind Kind) *Base {
	return &Base{session: s, self: self, spec: spec, kind: kind}
}

func (b *Base) Session() *Session { return b.session }
func (b *Base) Spec() *Spec       { return b.spec }
func (b *Base) Aspect() any       { return b.spec.Aspect }
func (b *Base) Kind() Kind        { return b.kind }
func (b *Base) State() State      { return b.state }

// Name is unique within the session and derives synthetic member names.
func (b *Base) Name() string { return b.name }

// Config returns the effective configuration.
func (b *Base) Config() *aspects.Configuration { return &b.config }

// Priority orders weavers sharing a target, ascending.
func (b *Base) Priority() int { return aspects.IntValue(b.config.Priority, 0) }

// Requested is the declaration the aspect was applied to.
func (b *Base) Requested() Target { return b.requested }

// Target is the declaration the weaver works on, after redirection.
func (b *Base) Target() Target { return b.resolved }

// IsRedirected reports whether an earlier weaver relocated the target.
func (b *Base) IsRedirected() bool { return b.requested != b.resolved }

func (b *Base) String() string {
	return fmt.Sprintf("%s(%s)", b.name, b.spec.TypeName)
}

func (b *Base) expect(op string, states ...State) {
	for _, s := range states {
		if b.state == s {
			return
		}
	}
	violate("weaver "+b.String(), op, "called in state %s", b.state)
}

// Initialize resolves the effective configuration.
func (b *Base) Initialize() {
	b.expect("Initialize", Unbound)
	b.config = b.session.resolveConfiguration(b.spec, b.kind)
	b.state = Initialized
}

// InitializeAspect gives the weaver its session-unique name.
func (b *Base) InitializeAspect() {
	b.expect("InitializeAspect", Initialized)
	if b.spec.Aspect == nil {
		violate("weaver "+b.spec.TypeName, "InitializeAspect", "no aspect instance")
	}
	b.name = b.session.uniqueName(metadata.ShortName(b.spec.TypeName))
	b.state = AspectInitialized
}

// AssignTarget binds the requested target. It can only happen once.
func (b *Base) AssignTarget(t Target) {
	b.expect("AssignTarget", AspectInitialized)
	b.requested, b.resolved = t, t
	b.state = TargetAssigned
	b.self.OnTargetAssigned(false)
	if a, ok := b.self.(IntentAnnouncer); ok {
		a.AnnounceIntents()
	}
}

// ValidateSelf runs the base rules, the compile-time validator of the aspect
// and the self validation of the weaver kind.
func (b *Base) ValidateSelf() bool {
	b.expect("ValidateSelf", TargetAssigned)
	s := b.session
	owner := b.requested.DeclaringType()
	if owner != nil && s.Domain.IsSubclassOf(owner, framework.Aspect.Name) {
		s.Sink.Write(diagnostics.Error, diagnostics.AW0003, b.requested.String(), b.spec.TypeName, owner.FullName())
		return b.reject()
	}
	if !aspects.BoolValue(b.config.RequiresRuntimeInstance, true) {
		s.Sink.Write(diagnostics.Error, diagnostics.AW0006, b.requested.String(), b.spec.TypeName,
			b.kind.String()+" aspects need a runtime instance")
		return b.reject()
	}
	if v, ok := b.spec.Aspect.(aspects.CompileTimeValidator); ok {
		if err := v.CompileTimeValidate(b.requested.Member()); err != nil {
			s.Sink.Write(diagnostics.Error, diagnostics.AW0008, b.requested.String(), b.spec.TypeName, err)
			return b.reject()
		}
	}
	if v, ok := b.self.(SelfValidator); ok && !v.ValidateSelf() {
		return b.reject()
	}
	b.selfValid = true
	return true
}

// ValidateInteractions checks the weaver against its priority-ordered
// siblings and completes validation.
func (b *Base) ValidateInteractions(siblings []Weaver) bool {
	b.expect("ValidateInteractions", TargetAssigned)
	if !b.selfValid {
		violate("weaver "+b.String(), "ValidateInteractions", "self validation has not passed")
	}
	if v, ok := b.self.(InteractionValidator); ok && !v.ValidateInteractions(siblings) {
		return b.reject()
	}
	b.state = Validated
	return true
}

func (b *Base) reject() bool {
	b.state = Rejected
	return false
}

// Redirect moves the weaver to the target relocated by an earlier weaver.
func (b *Base) Redirect(t Target) {
	b.expect("Redirect", Validated)
	b.resolved = t
	b.state = Redirected
	b.self.OnTargetAssigned(true)
}

// Implement runs the compile-time initializer of the aspect and then the
// synthesis of the weaver kind.
func (b *Base) Implement() error {
	b.expect("Implement", Validated, Redirected)
	if init, ok := b.spec.Aspect.(aspects.CompileTimeInitializer); ok {
		init.CompileTimeInitialize(b.resolved.Member())
	}
	if impl, ok := b.self.(Implementer); ok {
		if err := impl.Implement(); err != nil {
			return fmt.Errorf("%s on %s: %w", b, b.resolved, err)
		}
	}
	if _, ok := b.spec.Aspect.(aspects.RuntimeInitializer); ok && b.runtimeField == nil {
		b.runtimeField = b.session.Details.RuntimeInstance(b)
	}
	b.state = Implemented
	return nil
}

// EmitRuntimeInitialization writes the start-up code of the weaver into the
// module static constructor. The runtime instance field is assigned by then.
func (b *Base) EmitRuntimeInitialization(w *emit.Writer) error {
	b.expect("EmitRuntimeInitialization", Implemented)
	b.state = RuntimeWired
	if e, ok := b.self.(RuntimeInitEmitter); ok {
		return e.EmitRuntimeInitialization(w)
	}
	if _, ok := b.spec.Aspect.(aspects.RuntimeInitializer); !ok || b.runtimeField == nil {
		return nil
	}
	s := b.session
	w.Ldsfld(b.runtimeField)
	s.EventArgs.LoadMemberDefinition(w, b.requested)
	w.CallVirt(s.frameworkMethod(framework.RuntimeInitializable, "RuntimeInitialize", 1))
	return nil
}

// LoadAspect emits the load of the runtime instance of the aspect, guarded
// by the module initialization flag.
func (b *Base) LoadAspect(w *emit.Writer) {
	if b.runtimeField == nil {
		b.runtimeField = b.session.Details.RuntimeInstance(b)
	}
	b.session.Details.LoadGuarded(w, b.runtimeField)
}
