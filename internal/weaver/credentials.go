package weaver

import (
	"go.uber.org/zap"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
)

// CredentialsManager gives instances an InstanceCredentials token through a
// protected accessor. Types request the accessor while targets are being
// assigned; once the first accessor is handed out the set is sealed.
type CredentialsManager struct {
	s         *Session
	requested map[*metadata.TypeDef]bool
	order     []*metadata.TypeDef
	defined   map[*metadata.TypeDef]*metadata.MethodDef
	sealed    bool
}

func newCredentialsManager(s *Session) *CredentialsManager {
	return &CredentialsManager{
		s:         s,
		requested: make(map[*metadata.TypeDef]bool),
		defined:   make(map[*metadata.TypeDef]*metadata.MethodDef),
	}
}

// Request asks for instances of t to carry credentials.
func (c *CredentialsManager) Request(t *metadata.TypeDef) {
	if c.sealed {
		violate("credentials", "Request", "%s requested after accessors were handed out", t)
	}
	if !c.requested[t] {
		c.requested[t] = true
		c.order = append(c.order, t)
	}
}

// Seal defines the accessors of every requested type. It runs implicitly on
// the first Get.
func (c *CredentialsManager) Seal() {
	if c.sealed {
		return
	}
	c.sealed = true
	for _, t := range c.order {
		if c.Get(t, nil) == nil {
			c.s.Logger.Warn("credentials requested for a type outside the module", zap.String("type", t.FullName()))
		}
	}
}

// Get returns the credentials accessor applicable to instances of t, or nil
// when neither t nor a base type has one. The topmost type in the hierarchy
// that carries or requested credentials owns the accessor, so derived types
// share the token of their base. sub closes the generic parameters of t in
// the context of the caller.
func (c *CredentialsManager) Get(t *metadata.TypeDef, sub typesystem.Subst) *metadata.MethodRef {
	c.Seal()
	d := c.s.Domain
	chain := append([]typesystem.Type{t.SelfType()}, d.BaseTypes(t.SelfType())...)
	for i := len(chain) - 1; i >= 0; i-- {
		def := d.ResolveType(chain[i])
		if def == nil {
			continue
		}
		accessor := c.accessorOf(def)
		if accessor == nil && c.requested[def] && c.s.InModule(def) {
			accessor = c.define(def)
		}
		if accessor == nil {
			continue
		}
		owner := chain[i]
		if sub != nil {
			owner = owner.Apply(sub)
		}
		return accessor.Ref(owner)
	}
	return nil
}

func (c *CredentialsManager) accessorOf(def *metadata.TypeDef) *metadata.MethodDef {
	if md, ok := c.defined[def]; ok {
		return md
	}
	md := def.FindMethod(config.GetInstanceCredentialsName, 0)
	if md == nil || md.Static {
		return nil
	}
	if con, ok := typesystem.Definition(md.Return); !ok || con.Name != config.InstanceCredentialsName {
		return nil
	}
	return md
}

func (c *CredentialsManager) define(def *metadata.TypeDef) *metadata.MethodDef {
	field := def.AddField(&metadata.FieldDef{
		Name:       def.UniqueMemberName(config.InstanceCredentialsFieldName),
		Type:       framework.InstanceCredentials,
		Visibility: metadata.VisPrivate,
	})
	accessor := def.AddMethod(&metadata.MethodDef{
		Name:       config.GetInstanceCredentialsName,
		Return:     framework.InstanceCredentials,
		Visibility: metadata.VisFamily,
	})
	mustEmit(emit.Into(accessor, func(w *emit.Writer) error {
		w.Ldthis()
		w.Ldfld(field.Ref(nil))
		w.Op(metadata.OP_RET)
		return nil
	}))
	c.defined[def] = accessor

	makeNew := c.s.frameworkMethod(framework.InstanceCredentials, "MakeNew", 0)
	c.s.Initialization.RegisterClient(def, InitClient{
		Priority: config.CredentialsInitPriority,
		Owner:    "instance credentials",
		Emit: func(w *emit.Writer) error {
			w.Ldthis()
			w.Call(makeNew)
			w.Stfld(field.Ref(nil))
			return nil
		},
	})
	c.s.Logger.Debug("instance credentials defined", zap.String("type", def.FullName()))
	return accessor
}

func mustEmit(err error) {
	if err != nil {
		panic(err)
	}
}
