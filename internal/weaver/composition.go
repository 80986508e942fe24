package weaver

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
	"github.com/funvibe/aspectweave/pkg/aspects"
)

// CompositionWeaver makes the target type implement the configured public
// interface by forwarding every call to an implementation object created
// per instance by the aspect. Protected interfaces are not implemented by
// the type; they are reachable through credential-guarded accessors only.
type CompositionWeaver struct {
	core  *Base
	level TypeLevel

	public     typesystem.Type
	publicErr  error
	protected  []typesystem.Type
	protErr    error
	protName   string
	accessors  bool
	ignore     bool
	noop       bool
	field      *metadata.FieldDef
	stubCount  int
	interfaces []typesystem.Type
}

// NewCompositionWeaver creates the weaver of a composition aspect.
func NewCompositionWeaver(s *Session, spec *Spec) *CompositionWeaver {
	c := &CompositionWeaver{}
	c.core = NewBase(s, c, spec, KindComposition)
	c.level = TypeLevel{core: c.core}
	return c
}

func (c *CompositionWeaver) Core() *Base { return c.core }

// PublicInterface returns the resolved public interface, or nil.
func (c *CompositionWeaver) PublicInterface() typesystem.Type { return c.public }

// IsNoop reports whether the interface was already there and tolerated.
func (c *CompositionWeaver) IsNoop() bool { return c.noop }

// Field returns the backing field once implemented.
func (c *CompositionWeaver) Field() *metadata.FieldDef { return c.field }

func (c *CompositionWeaver) OnTargetAssigned(reassigned bool) {
	if reassigned {
		return
	}
	cfg := c.core.Config()
	c.accessors = aspects.BoolValue(cfg.GenerateImplementationAccessors, false)
	c.ignore = aspects.BoolValue(cfg.IgnoreIfAlreadyImplemented, false)
	if name := aspects.StringValue(cfg.PublicInterface, ""); name != "" {
		c.public, c.publicErr = c.parseInterface(name)
	}
	for _, name := range cfg.ProtectedInterfaces {
		t, err := c.parseInterface(name)
		if err != nil {
			c.protErr, c.protName = err, name
			break
		}
		c.protected = append(c.protected, t)
	}
}

func (c *CompositionWeaver) parseInterface(name string) (typesystem.Type, error) {
	d := c.core.Session().Domain
	t, err := d.ParseType(name)
	if err != nil {
		return nil, err
	}
	def := d.ResolveType(t)
	if def == nil || !def.Interface {
		return nil, fmt.Errorf("%s is not an interface", name)
	}
	if def.IsGeneric() && len(typesystem.Args(t)) != len(def.GenericParams) {
		return nil, fmt.Errorf("%s needs %d type arguments", name, len(def.GenericParams))
	}
	return t, nil
}

// AnnounceIntents records the public interface so derived types composing
// the same interface can be diagnosed before anything is implemented.
func (c *CompositionWeaver) AnnounceIntents() {
	if c.public != nil {
		c.core.Session().AnnounceInterface(c.level.Type(), c.public)
	}
}

func (c *CompositionWeaver) ValidateSelf() bool {
	s, t := c.core.Session(), c.level.Type()
	aspect := c.core.Spec().TypeName
	switch {
	case t.Interface:
		s.Sink.Write(diagnostics.Error, diagnostics.AW0011, t.FullName(), aspect, t.FullName())
		return false
	case t.ValueType:
		s.Sink.Write(diagnostics.Error, diagnostics.AW0015, t.FullName(), aspect, t.FullName())
		return false
	case c.publicErr != nil:
		s.Sink.Write(diagnostics.Error, diagnostics.AW0010, t.FullName(), aspects.StringValue(c.core.Config().PublicInterface, ""), aspect)
		return false
	case c.protErr != nil:
		s.Sink.Write(diagnostics.Error, diagnostics.AW0010, t.FullName(), c.protName, aspect)
		return false
	case c.public == nil && len(c.protected) == 0:
		s.Sink.Write(diagnostics.Error, diagnostics.AW0010, t.FullName(), "<none>", aspect)
		return false
	}
	self := t.SelfType()
	if c.public != nil && s.Domain.Implements(self, c.public) {
		if c.ignore {
			c.noop = true
			return true
		}
		s.Sink.Write(diagnostics.Error, diagnostics.AW0012, t.FullName(), c.public.String())
		return false
	}
	seen := make(map[string]bool)
	for _, iface := range c.additions() {
		key := typesystem.Key(iface)
		if seen[key] {
			s.Sink.Write(diagnostics.Error, diagnostics.AW0014, t.FullName(), iface.String(), c.core.String(), c.core.String())
			return false
		}
		seen[key] = true
		if s.Domain.Implements(self, iface) {
			s.Sink.Write(diagnostics.Error, diagnostics.AW0012, t.FullName(), iface.String())
			return false
		}
	}
	if c.public == nil {
		return true
	}

	// Only the immediate base type is consulted for intents.
	if base := s.Domain.ResolveType(t.BaseType); base != nil {
		for _, announced := range s.Announced(base) {
			if typesystem.Key(announced.Apply(typesystem.InstanceMap(t.BaseType))) != typesystem.Key(c.public) {
				continue
			}
			if c.ignore {
				c.noop = true
				return true
			}
			s.Sink.Write(diagnostics.Error, diagnostics.AW0013, t.FullName(), c.public.String(), base.FullName())
			return false
		}
	}
	return true
}

// additions lists every interface the weaver adds to the target: the
// public interface with the interfaces it inherits, IComposed of it when
// accessors are generated, and IProtectedInterface of each protected one.
func (c *CompositionWeaver) additions() []typesystem.Type {
	var out []typesystem.Type
	if c.public != nil {
		out = append(out, c.public)
		out = append(out, c.core.Session().Domain.Interfaces(c.public)...)
		if c.accessors {
			out = append(out, framework.Composed(c.public))
		}
	}
	for _, p := range c.protected {
		out = append(out, framework.Protected(p))
	}
	return out
}

func (c *CompositionWeaver) ValidateInteractions(siblings []Weaver) bool {
	s := c.core.Session()
	if !c.noop {
		mine := make(map[string]bool)
		for _, iface := range c.additions() {
			mine[typesystem.Key(iface)] = true
		}
		for _, sib := range siblings {
			if sib == Weaver(c) {
				break
			}
			other, ok := sib.(*CompositionWeaver)
			if !ok || other.noop || other.core.State() == Rejected {
				continue
			}
			for _, iface := range other.additions() {
				if mine[typesystem.Key(iface)] {
					s.Sink.Write(diagnostics.Error, diagnostics.AW0014, c.level.Type().FullName(),
						iface.String(), other.core.String(), c.core.String())
					return false
				}
			}
		}
	}
	if !c.noop && (c.accessors || len(c.protected) > 0) {
		s.Credentials.Request(c.level.Type())
	}
	return true
}

func (c *CompositionWeaver) Implement() error {
	if c.noop {
		return nil
	}
	s, t := c.core.Session(), c.level.Type()

	fieldType := typesystem.Type(framework.Object)
	name := ""
	if c.public != nil {
		fieldType = s.Import(c.public)
		if con, ok := typesystem.Definition(c.public); ok {
			name = config.CompositionFieldPrefix + metadata.ShortName(con.Name)
		}
	}
	if name == "" || t.FindField(name) != nil || len(t.FindMethods(name)) > 0 {
		for i := 1; ; i++ {
			name = config.CompositionFallbackFieldName + strconv.Itoa(i)
			if t.FindField(name) == nil && len(t.FindMethods(name)) == 0 {
				break
			}
		}
	}
	c.field = t.AddField(&metadata.FieldDef{Name: name, Type: fieldType, Visibility: metadata.VisPrivate})

	if c.public != nil {
		visited := make(map[string]bool)
		if err := c.implementInterface(c.public, visited); err != nil {
			return err
		}
	}
	if c.accessors && c.public != nil {
		if err := c.implementComposed(); err != nil {
			return err
		}
	}
	for _, p := range c.protected {
		if err := c.implementProtected(p); err != nil {
			return err
		}
	}
	c.registerInitialization()
	s.Logger.Debug("composition implemented",
		zap.String("type", t.FullName()),
		zap.String("field", c.field.Name),
		zap.Int("stubs", c.stubCount))
	return nil
}

// implementInterface declares iface on the target and forwards each of its
// methods, then recurses into the interfaces iface inherits.
func (c *CompositionWeaver) implementInterface(iface typesystem.Type, visited map[string]bool) error {
	key := typesystem.Key(iface)
	if visited[key] {
		return nil
	}
	visited[key] = true
	s, t := c.core.Session(), c.level.Type()
	def := s.Domain.ResolveType(iface)
	if def == nil {
		return fmt.Errorf("interface %s does not resolve", iface)
	}
	t.Interfaces = append(t.Interfaces, s.Import(iface))
	c.interfaces = append(c.interfaces, iface)

	sub := typesystem.InstanceMap(iface)
	for _, m := range def.Methods {
		if m.Static {
			continue
		}
		if err := c.forward(iface, def, m, sub); err != nil {
			return err
		}
	}
	for _, inherited := range def.Interfaces {
		if err := c.implementInterface(inherited.Apply(sub), visited); err != nil {
			return err
		}
	}
	return nil
}

// forward generates the explicit implementation of m that loads the backing
// field and tail-calls m on it with the same arguments.
func (c *CompositionWeaver) forward(iface typesystem.Type, def *metadata.TypeDef, m *metadata.MethodDef, sub typesystem.Subst) error {
	stub := c.explicitStub(def, m, sub)
	target := m.Ref(iface, typesystem.MethodParams(len(m.GenericParams))...)
	stub.Overrides = []*metadata.MethodRef{target}
	c.stubCount++
	return emit.Into(stub, func(w *emit.Writer) error {
		c.loadBacking(w, iface)
		for i := range stub.Params {
			w.LdParam(i)
		}
		w.TailCallVirt(target)
		w.Op(metadata.OP_RET)
		return nil
	})
}

// explicitStub declares a private sealed method implementing m of the
// interface definition def, with the signature and generic parameters of m
// restated in the context of the target type.
func (c *CompositionWeaver) explicitStub(def *metadata.TypeDef, m *metadata.MethodDef, sub typesystem.Subst) *metadata.MethodDef {
	s, t := c.core.Session(), c.level.Type()
	params := make([]*metadata.Param, len(m.Params))
	for i, p := range m.Params {
		params[i] = &metadata.Param{Name: p.Name, Type: s.Import(p.Type.Apply(sub)), Out: p.Out}
	}
	var ret typesystem.Type
	if m.Return != nil {
		ret = s.Import(m.Return.Apply(sub))
	}
	generics := make([]*metadata.GenericParam, len(m.GenericParams))
	for i, gp := range m.GenericParams {
		cp := &metadata.GenericParam{
			Name: gp.Name, Position: gp.Position, Method: true,
			ReferenceType: gp.ReferenceType, ValueType: gp.ValueType, DefaultCtor: gp.DefaultCtor,
		}
		for _, con := range gp.Constraints {
			cp.Constraints = append(cp.Constraints, s.Import(con.Apply(sub)))
		}
		generics[i] = cp
	}
	return t.AddMethod(&metadata.MethodDef{
		Name:          t.UniqueMemberName(def.FullName() + "." + m.Name),
		Params:        params,
		Return:        ret,
		Visibility:    metadata.VisPrivate,
		Virtual:       true,
		Final:         true,
		NewSlot:       true,
		GenericParams: generics,
	})
}

func (c *CompositionWeaver) loadBacking(w *emit.Writer, as typesystem.Type) {
	w.Ldthis()
	w.Ldfld(c.field.Ref(nil))
	if c.public == nil || typesystem.Key(as) != typesystem.Key(c.public) {
		w.TypeOp(metadata.OP_CASTCLASS, as)
	}
}

// assertCredentials checks the credentials passed as the first parameter
// against those of the instance.
func (c *CompositionWeaver) assertCredentials(w *emit.Writer) error {
	s, t := c.core.Session(), c.level.Type()
	getter := s.Credentials.Get(t, nil)
	if getter == nil {
		return fmt.Errorf("no instance credentials on %s", t)
	}
	w.Ldthis()
	w.Call(getter)
	w.LdParam(0)
	w.Call(s.frameworkMethod(framework.InstanceCredentials, "AssertEquals", 2))
	return nil
}

func (c *CompositionWeaver) implementComposed() error {
	s, t := c.core.Session(), c.level.Type()
	composed := framework.Composed(c.public)
	def := s.Domain.ResolveType(composed)
	if def == nil {
		return fmt.Errorf("framework interface %s not found", composed)
	}
	t.Interfaces = append(t.Interfaces, s.Import(composed))
	sub := typesystem.InstanceMap(composed)

	get := def.FindMethod(config.GetImplementationName, 1)
	getter := c.explicitStub(def, get, sub)
	getter.Overrides = []*metadata.MethodRef{get.Ref(composed)}
	if err := emit.Into(getter, func(w *emit.Writer) error {
		if err := c.assertCredentials(w); err != nil {
			return err
		}
		c.loadBacking(w, c.public)
		w.Op(metadata.OP_RET)
		return nil
	}); err != nil {
		return err
	}

	set := def.FindMethod(config.SetImplementationName, 2)
	setter := c.explicitStub(def, set, sub)
	setter.Overrides = []*metadata.MethodRef{set.Ref(composed)}
	return emit.Into(setter, func(w *emit.Writer) error {
		if err := c.assertCredentials(w); err != nil {
			return err
		}
		w.Ldthis()
		w.LdParam(1)
		w.Stfld(c.field.Ref(nil))
		w.Op(metadata.OP_RET)
		return nil
	})
}

func (c *CompositionWeaver) implementProtected(p typesystem.Type) error {
	s, t := c.core.Session(), c.level.Type()
	protected := framework.Protected(p)
	def := s.Domain.ResolveType(protected)
	if def == nil {
		return fmt.Errorf("framework interface %s not found", protected)
	}
	t.Interfaces = append(t.Interfaces, s.Import(protected))
	get := def.FindMethod(config.GetInterfaceName, 1)
	stub := c.explicitStub(def, get, typesystem.InstanceMap(protected))
	stub.Overrides = []*metadata.MethodRef{get.Ref(protected)}
	return emit.Into(stub, func(w *emit.Writer) error {
		if err := c.assertCredentials(w); err != nil {
			return err
		}
		c.loadBacking(w, p)
		w.Op(metadata.OP_RET)
		return nil
	})
}

// registerInitialization makes every constructor ask the aspect for the
// implementation object and store it into the backing field.
func (c *CompositionWeaver) registerInitialization() {
	s, t := c.core.Session(), c.level.Type()
	field := c.field
	s.Initialization.RegisterClient(t, InitClient{
		Priority: config.DefaultInitPriority,
		Owner:    c.core.String(),
		Emit: func(w *emit.Writer) error {
			w.Ldthis()
			c.core.LoadAspect(w)
			w.Ldthis()
			w.NewObj(s.frameworkMethod(framework.InstanceBoundArgs, config.ConstructorName, 1))
			if cred := s.Credentials.Get(t, nil); cred != nil {
				w.Op(metadata.OP_DUP)
				w.Ldthis()
				w.Call(cred)
				w.CallVirt(s.frameworkMethod(framework.InstanceBoundArgs, "set_InstanceCredentials", 1))
			}
			w.CallVirt(s.frameworkMethod(framework.Composition, "CreateImplementationObject", 1))
			w.Unbox(s.Domain, field.Type)
			w.Stfld(field.Ref(nil))
			return nil
		},
	})
}
