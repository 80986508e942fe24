// Package weaver synthesizes the code of aspects into a module: the weaver
// lifecycle, the per-kind weavers and the managers they share (delegates,
// event contexts, instance credentials, instance initialization and the
// implementation-details type).
package weaver

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/funvibe/aspectweave/internal/advice"
	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/serialization"
	"github.com/funvibe/aspectweave/internal/typesystem"
)

// Framework targets select how much the module static constructor does.
const (
	TargetFull    = "full"
	TargetCompact = "compact"
)

// Session owns everything one weaving pass over one module shares. Nothing
// is shared between sessions.
type Session struct {
	Domain     *metadata.Domain
	Module     *metadata.Module
	Sink       *diagnostics.Sink
	Logger     *zap.Logger
	Serializer serialization.Serializer
	Target     string

	Advice         *advice.Registry
	Delegates      *DelegateSynthesizer
	EventArgs      *EventArgsBuilder
	Credentials    *CredentialsManager
	Initialization *InitializationManager
	Details        *ImplementationDetails

	names   map[string]int
	intents map[*metadata.TypeDef][]typesystem.Type
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.Logger = l }
}

// WithSerializer sets how aspect instances are embedded into the module.
func WithSerializer(ser serialization.Serializer) Option {
	return func(s *Session) { s.Serializer = ser }
}

// WithTarget selects TargetFull or TargetCompact.
func WithTarget(target string) Option {
	return func(s *Session) { s.Target = target }
}

// NewSession prepares weaving of mod, which must be part of d.
func NewSession(d *metadata.Domain, mod *metadata.Module, sink *diagnostics.Sink, opts ...Option) *Session {
	s := &Session{
		Domain:  d,
		Module:  mod,
		Sink:    sink,
		Logger:  zap.NewNop(),
		Target:  TargetFull,
		Advice:  advice.NewRegistry(),
		names:   make(map[string]int),
		intents: make(map[*metadata.TypeDef][]typesystem.Type),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Serializer == nil {
		s.Serializer = serialization.NewGob()
	}
	s.Delegates = newDelegateSynthesizer(s)
	s.EventArgs = &EventArgsBuilder{s: s}
	s.Credentials = newCredentialsManager(s)
	s.Initialization = newInitializationManager(s)
	s.Details = newImplementationDetails(s)
	return s
}

func (s *Session) uniqueName(base string) string {
	s.names[base]++
	if n := s.names[base]; n > 1 {
		return base + "~" + strconv.Itoa(n)
	}
	return base
}

// AnnounceInterface records that iface will be added to t.
func (s *Session) AnnounceInterface(t *metadata.TypeDef, iface typesystem.Type) {
	s.intents[t] = append(s.intents[t], iface)
}

// Announced returns the interfaces other weavers intend to add to t.
func (s *Session) Announced(t *metadata.TypeDef) []typesystem.Type {
	return s.intents[t]
}

// frameworkMethod references a framework method; a missing one means the
// framework module is unusable and ends the pass.
func (s *Session) frameworkMethod(owner typesystem.Type, name string, paramCount int) *metadata.MethodRef {
	ref := framework.Method(s.Domain, owner, name, paramCount)
	if ref == nil {
		s.Sink.Write(diagnostics.Fatal, diagnostics.AW0001, "", "framework method "+owner.String()+"::"+name+" not found")
	}
	return ref
}

// Import records the modules t mentions as references of the woven module.
func (s *Session) Import(t typesystem.Type) typesystem.Type {
	if t == nil {
		return nil
	}
	return s.Module.Import(t, s.Domain)
}

// InModule reports whether def belongs to the module being woven.
func (s *Session) InModule(def *metadata.TypeDef) bool {
	return def != nil && def.Module() == s.Module
}
