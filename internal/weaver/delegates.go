package weaver

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
)

// DelegateMap relates a method to the synthesized delegate type able to
// point at it, with the generic maps between the two contexts.
type DelegateMap struct {
	Type *metadata.TypeDef

	// ToDelegate re-expresses types of the method context in the context
	// of the delegate type.
	ToDelegate typesystem.Subst

	// FromDelegate maps the delegate parameters back to the method context.
	FromDelegate typesystem.Subst

	// Args instantiate the delegate type from the method context.
	Args []typesystem.Type
}

// Instance is the delegate type closed over the method context.
func (m *DelegateMap) Instance() typesystem.Type {
	if len(m.Args) == 0 {
		return m.Type.Con()
	}
	return typesystem.TApp{Constructor: m.Type.Con(), Args: m.Args}
}

// Ctor references the (Object, IntPtr) constructor of Instance.
func (m *DelegateMap) Ctor() *metadata.MethodRef {
	return m.Type.FindMethod(config.ConstructorName, 2).Ref(m.Instance())
}

// Invoke references the Invoke method of Instance.
func (m *DelegateMap) Invoke() *metadata.MethodRef {
	return m.Type.FindMethod(config.InvokeMethodName, -1).Ref(m.Instance())
}

// DelegateSynthesizer generates delegate types on demand. Methods whose
// translated signatures are structurally equal share one type.
type DelegateSynthesizer struct {
	s        *Session
	byShape  map[string]*metadata.TypeDef
	byMethod map[*metadata.MethodDef]*DelegateMap
	count    int
}

func newDelegateSynthesizer(s *Session) *DelegateSynthesizer {
	return &DelegateSynthesizer{
		s:        s,
		byShape:  make(map[string]*metadata.TypeDef),
		byMethod: make(map[*metadata.MethodDef]*DelegateMap),
	}
}

// Types returns the delegate types generated so far, in creation order.
func (d *DelegateSynthesizer) Types() []*metadata.TypeDef {
	out := make([]*metadata.TypeDef, 0, len(d.byShape))
	for _, t := range d.s.Module.Types {
		if t.Namespace == config.DelegateNamespace {
			out = append(out, t)
		}
	}
	return out
}

// GetDelegateMap returns the delegate type compatible with md. The receiver
// of an instance method is the delegate target and not part of the signature.
func (d *DelegateSynthesizer) GetDelegateMap(md *metadata.MethodDef) *DelegateMap {
	if m, ok := d.byMethod[md]; ok {
		return m
	}

	vars := d.genericClosure(md)
	to := make(typesystem.Subst, len(vars))
	from := make(typesystem.Subst, len(vars))
	args := make([]typesystem.Type, len(vars))
	for i, v := range vars {
		to[v.Name] = typesystem.TypeParam(i)
		from[typesystem.TypeParam(i).Name] = v
		args[i] = v
	}

	params := make([]*metadata.Param, len(md.Params))
	for i, p := range md.Params {
		params[i] = &metadata.Param{Name: p.Name, Type: p.Type.Apply(to), Out: p.Out}
	}
	var ret typesystem.Type
	if md.Return != nil {
		ret = md.Return.Apply(to)
	}
	generics := make([]*metadata.GenericParam, len(vars))
	for i, v := range vars {
		gp := &metadata.GenericParam{Name: "T" + strconv.Itoa(i), Position: i}
		if orig := genericParamOf(md, v); orig != nil {
			gp.ReferenceType, gp.ValueType, gp.DefaultCtor = orig.ReferenceType, orig.ValueType, orig.DefaultCtor
			for _, c := range orig.Constraints {
				gp.Constraints = append(gp.Constraints, c.Apply(to))
			}
		}
		generics[i] = gp
	}

	key := delegateKey(params, ret, generics)
	def, ok := d.byShape[key]
	if !ok {
		def = d.define(params, ret, generics)
		d.byShape[key] = def
	}
	m := &DelegateMap{Type: def, ToDelegate: to, FromDelegate: from, Args: args}
	d.byMethod[md] = m
	return m
}

// genericClosure collects the generic parameters the signature of md
// mentions, plus those their constraints mention, in canonical order.
func (d *DelegateSynthesizer) genericClosure(md *metadata.MethodDef) []typesystem.TVar {
	types := md.ParamTypes()
	if md.Return != nil {
		types = append(types, md.Return)
	}
	vars := typesystem.CollectTVars(types...)
	seen := make(map[string]bool, len(vars))
	for _, v := range vars {
		seen[v.Name] = true
	}
	for i := 0; i < len(vars); i++ {
		gp := genericParamOf(md, vars[i])
		if gp == nil {
			continue
		}
		for _, v := range typesystem.CollectTVars(gp.Constraints...) {
			if !seen[v.Name] {
				seen[v.Name] = true
				vars = append(vars, v)
			}
		}
	}
	return typesystem.SortTVars(vars)
}

func genericParamOf(md *metadata.MethodDef, v typesystem.TVar) *metadata.GenericParam {
	pos := v.Position()
	list := md.GenericParams
	if !v.IsMethodParam() {
		list = md.DeclaringType().GenericParams
	}
	if pos < 0 || pos >= len(list) {
		return nil
	}
	return list[pos]
}

func delegateKey(params []*metadata.Param, ret typesystem.Type, generics []*metadata.GenericParam) string {
	types := make([]typesystem.Type, len(params))
	for i, p := range params {
		types[i] = p.Type
	}
	var sb strings.Builder
	sb.WriteString(metadata.SignatureShape(types, ret))
	for _, g := range generics {
		fmt.Fprintf(&sb, "|%d%t%t%t", g.Position, g.ReferenceType, g.ValueType, g.DefaultCtor)
		for _, c := range g.Constraints {
			sb.WriteString(":" + typesystem.Key(c))
		}
	}
	return sb.String()
}

func (d *DelegateSynthesizer) define(params []*metadata.Param, ret typesystem.Type, generics []*metadata.GenericParam) *metadata.TypeDef {
	d.count++
	name := config.DelegateTypePrefix + strconv.Itoa(d.count)
	if len(generics) > 0 {
		name += "`" + strconv.Itoa(len(generics))
	}
	def := &metadata.TypeDef{
		Namespace:     config.DelegateNamespace,
		Name:          name,
		Visibility:    metadata.VisAssembly,
		Sealed:        true,
		BaseType:      framework.MulticastDelegate,
		GenericParams: generics,
	}
	def.AddMethod(&metadata.MethodDef{
		Name:           config.ConstructorName,
		Params:         []*metadata.Param{{Name: "target", Type: framework.Object}, {Name: "method", Type: framework.IntPtr}},
		Visibility:     metadata.VisPublic,
		RuntimeManaged: true,
	})
	for _, p := range params {
		d.s.Import(p.Type)
	}
	d.s.Import(ret)
	def.AddMethod(&metadata.MethodDef{
		Name:           config.InvokeMethodName,
		Params:         params,
		Return:         ret,
		Visibility:     metadata.VisPublic,
		Virtual:        true,
		NewSlot:        true,
		RuntimeManaged: true,
	})
	d.s.Module.AddType(def)
	d.s.Logger.Debug("delegate type synthesized", zap.String("type", def.FullName()))
	return def
}
