package weaver

import (
	"fmt"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
	"github.com/funvibe/aspectweave/pkg/aspects"
)

// Kind enumerates the built-in weavers.
type Kind int

const (
	KindBoundary Kind = iota
	KindInvocation
	KindFieldAccess
	KindComposition
)

func (k Kind) String() string {
	switch k {
	case KindBoundary:
		return "method boundary"
	case KindInvocation:
		return "method invocation"
	case KindFieldAccess:
		return "field access"
	case KindComposition:
		return "composition"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// defaults is the configuration every aspect of the kind starts from.
func (k Kind) defaults() *aspects.Configuration {
	c := &aspects.Configuration{
		Priority:                aspects.Int(0),
		RequiresRuntimeInstance: aspects.Bool(true),
	}
	switch k {
	case KindBoundary:
		c.RequiresInstanceTag = aspects.Bool(false)
	case KindComposition:
		c.GenerateImplementationAccessors = aspects.Bool(false)
		c.IgnoreIfAlreadyImplemented = aspects.Bool(false)
	}
	return c
}

// resolveConfiguration merges, highest precedence first: the configuration
// attached to the application, the aspect instance, configuration
// attributes on the aspect type and its bases, and the defaults of kind.
func (s *Session) resolveConfiguration(spec *Spec, kind Kind) aspects.Configuration {
	var c aspects.Configuration
	if spec.Configuration != nil {
		c = *spec.Configuration
	}
	if cfg, ok := spec.Aspect.(aspects.Configurable); ok {
		c.Merge(cfg.AspectConfiguration())
	}
	c.Merge(s.attributeConfiguration(spec.TypeName))
	c.Merge(kind.defaults())
	return c
}

// attributeConfiguration walks the aspect type and its bases. The first
// attribute setting a property wins.
func (s *Session) attributeConfiguration(typeName string) *aspects.Configuration {
	def := s.aspectType(typeName)
	if def == nil {
		return nil
	}
	c := &aspects.Configuration{}
	chain := append([]typesystem.Type{def.SelfType()}, s.Domain.BaseTypes(def.SelfType())...)
	for _, t := range chain {
		cur := s.Domain.ResolveType(t)
		if cur == nil {
			continue
		}
		for _, attr := range cur.Attributes {
			if attr.Type.Name != config.AspectConfigurationAttribute {
				continue
			}
			for _, named := range attr.Named {
				if !c.Set(named.Name, named.Value) {
					s.Sink.Write(diagnostics.Warning, diagnostics.AW0041, cur.FullName(), cur.FullName(),
						fmt.Sprintf("%s = %v", named.Name, named.Value))
				}
			}
		}
	}
	return c
}

// aspectType finds the metadata declaration of an aspect type, if any.
func (s *Session) aspectType(typeName string) *metadata.TypeDef {
	mod := s.Domain.QualifyName(typeName)
	if mod == "" {
		return nil
	}
	return s.Domain.ResolveType(typesystem.TCon{Name: typeName, Module: mod})
}
