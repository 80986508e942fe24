// Package metadata is the in-memory object model of a compiled module:
// type and member declarations, signatures, custom attributes and
// instruction streams. The weaver only ever adds declarations and
// instructions through this API.
package metadata

import (
	"fmt"
	"sort"
	"strings"

	"github.com/funvibe/aspectweave/internal/typesystem"
)

// Module is one compiled unit.
type Module struct {
	Name    string
	Version string

	// MVID identifies this particular build of the module.
	MVID string

	References []ModuleReference
	Types      []*TypeDef

	// Attributes are module-level custom attributes.
	Attributes []*Attribute

	// Resources are named embedded blobs, sorted by name.
	Resources []Resource

	typeIndex map[string]*TypeDef
}

// Resource is a named embedded blob.
type Resource struct {
	Name string
	Data []byte
}

// ModuleReference records a dependency on another module.
type ModuleReference struct {
	Name    string
	Version string
}

// NewModule creates an empty module.
func NewModule(name, version string) *Module {
	m := &Module{Name: name, Version: version}
	m.Link()
	return m
}

// Link rebuilds back-pointers and indices. It must be called after decoding
// and is idempotent.
func (m *Module) Link() {
	m.typeIndex = make(map[string]*TypeDef, len(m.Types))
	for _, t := range m.Types {
		m.linkType(t)
	}
}

func (m *Module) linkType(t *TypeDef) {
	t.module = m
	m.typeIndex[t.FullName()] = t
	for _, f := range t.Fields {
		f.declaring = t
	}
	for _, md := range t.Methods {
		md.declaring = t
	}
}

// AddType appends a type definition to the module.
func (m *Module) AddType(t *TypeDef) *TypeDef {
	if m.typeIndex == nil {
		m.Link()
	}
	if _, exists := m.typeIndex[t.FullName()]; exists {
		panic(fmt.Sprintf("metadata: duplicate type %s in module %s", t.FullName(), m.Name))
	}
	m.Types = append(m.Types, t)
	m.linkType(t)
	return t
}

// FindType looks up a type by its full name.
func (m *Module) FindType(fullName string) *TypeDef {
	if m.typeIndex == nil {
		m.Link()
	}
	return m.typeIndex[fullName]
}

// SetResource adds or replaces an embedded resource.
func (m *Module) SetResource(name string, data []byte) {
	idx := sort.Search(len(m.Resources), func(i int) bool { return m.Resources[i].Name >= name })
	if idx < len(m.Resources) && m.Resources[idx].Name == name {
		m.Resources[idx].Data = data
		return
	}
	m.Resources = append(m.Resources, Resource{})
	copy(m.Resources[idx+1:], m.Resources[idx:])
	m.Resources[idx] = Resource{Name: name, Data: data}
}

// Resource returns the named embedded resource.
func (m *Module) Resource(name string) ([]byte, bool) {
	idx := sort.Search(len(m.Resources), func(i int) bool { return m.Resources[i].Name >= name })
	if idx < len(m.Resources) && m.Resources[idx].Name == name {
		return m.Resources[idx].Data, true
	}
	return nil, false
}

// Import re-binds a type reference into the context of m: every foreign
// module mentioned by t is recorded as a reference of m. The returned type is
// t itself, since constructors always carry their defining module.
func (m *Module) Import(t typesystem.Type, d *Domain) typesystem.Type {
	for _, name := range mentionedModules(t) {
		if name == m.Name {
			continue
		}
		m.addReference(name, d)
	}
	return t
}

func (m *Module) addReference(name string, d *Domain) {
	for _, ref := range m.References {
		if ref.Name == name {
			return
		}
	}
	version := ""
	if d != nil {
		if other := d.Module(name); other != nil {
			version = other.Version
		}
	}
	m.References = append(m.References, ModuleReference{Name: name, Version: version})
	sort.Slice(m.References, func(i, j int) bool { return m.References[i].Name < m.References[j].Name })
}

// Reference returns the recorded reference to the named module.
func (m *Module) Reference(name string) (ModuleReference, bool) {
	for _, ref := range m.References {
		if ref.Name == name {
			return ref, true
		}
	}
	return ModuleReference{}, false
}

func mentionedModules(t typesystem.Type) []string {
	var out []string
	var walk func(typesystem.Type)
	walk = func(t typesystem.Type) {
		switch typ := t.(type) {
		case typesystem.TCon:
			out = append(out, typ.Module)
		case typesystem.TApp:
			out = append(out, typ.Constructor.Module)
			for _, a := range typ.Args {
				walk(a)
			}
		case typesystem.TArray:
			walk(typ.Elem)
		case typesystem.TByRef:
			walk(typ.Elem)
		}
	}
	if t != nil {
		walk(t)
	}
	return out
}

// Domain is the set of modules visible to resolution.
type Domain struct {
	modules map[string]*Module
	order   []string
}

// NewDomain creates a domain over the given modules.
func NewDomain(mods ...*Module) *Domain {
	d := &Domain{modules: make(map[string]*Module)}
	for _, m := range mods {
		d.Add(m)
	}
	return d
}

// Add registers a module, replacing any module of the same name.
func (d *Domain) Add(m *Module) {
	if _, exists := d.modules[m.Name]; !exists {
		d.order = append(d.order, m.Name)
	}
	d.modules[m.Name] = m
}

// Module returns the named module or nil.
func (d *Domain) Module(name string) *Module { return d.modules[name] }

// Modules returns modules in registration order.
func (d *Domain) Modules() []*Module {
	out := make([]*Module, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.modules[name])
	}
	return out
}

// ResolveType returns the definition of a TCon or generic instance.
func (d *Domain) ResolveType(t typesystem.Type) *TypeDef {
	con, ok := typesystem.Definition(t)
	if !ok {
		return nil
	}
	m := d.modules[con.Module]
	if m == nil {
		return nil
	}
	return m.FindType(con.Name)
}

// QualifyName resolves an unqualified type name by searching modules in
// registration order, returning the first module that defines it.
func (d *Domain) QualifyName(name string) string {
	for _, modName := range d.order {
		if d.modules[modName].FindType(name) != nil {
			return modName
		}
	}
	return ""
}

// ParseType parses and qualifies a textual type reference.
func (d *Domain) ParseType(s string) (typesystem.Type, error) {
	t, err := typesystem.ParseType(s)
	if err != nil {
		return nil, err
	}
	t = typesystem.Qualify(t, d.QualifyName)
	if d.ResolveType(t) == nil {
		if _, isVar := t.(typesystem.TVar); !isVar {
			return nil, fmt.Errorf("type %s not found", s)
		}
	}
	return t, nil
}

// BaseTypes returns the chain of base type references of t, each expressed
// in the generic context of t itself (the nearest base first).
func (d *Domain) BaseTypes(t typesystem.Type) []typesystem.Type {
	var chain []typesystem.Type
	cur := t
	for i := 0; i < 256; i++ {
		def := d.ResolveType(cur)
		if def == nil || def.BaseType == nil {
			break
		}
		base := def.BaseType.Apply(typesystem.InstanceMap(cur))
		chain = append(chain, base)
		cur = base
	}
	return chain
}

// IsSubclassOf reports whether def derives, directly or not, from the type named fullName.
func (d *Domain) IsSubclassOf(def *TypeDef, fullName string) bool {
	for _, base := range d.BaseTypes(def.SelfType()) {
		if con, ok := typesystem.Definition(base); ok && con.Name == fullName {
			return true
		}
	}
	return false
}

// Interfaces returns every interface implemented by t, including those
// inherited from base types and from other interfaces, instantiated in the
// context of t. The order is deterministic: declaration order, depth first.
func (d *Domain) Interfaces(t typesystem.Type) []typesystem.Type {
	var out []typesystem.Type
	seen := make(map[string]bool)
	var visitIface func(typesystem.Type)
	visitIface = func(iface typesystem.Type) {
		key := typesystem.Key(iface)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, iface)
		if def := d.ResolveType(iface); def != nil {
			sub := typesystem.InstanceMap(iface)
			for _, inherited := range def.Interfaces {
				visitIface(inherited.Apply(sub))
			}
		}
	}
	chain := append([]typesystem.Type{t}, d.BaseTypes(t)...)
	for _, cur := range chain {
		def := d.ResolveType(cur)
		if def == nil {
			continue
		}
		sub := typesystem.InstanceMap(cur)
		for _, iface := range def.Interfaces {
			visitIface(iface.Apply(sub))
		}
	}
	return out
}

// Implements reports whether t implements iface (structurally compared, or by
// definition name when iface is an open generic definition).
func (d *Domain) Implements(t typesystem.Type, iface typesystem.Type) bool {
	key := typesystem.Key(iface)
	for _, have := range d.Interfaces(t) {
		if typesystem.Key(have) == key {
			return true
		}
	}
	return false
}

// ImplementsDefinition reports whether t implements any instance of the interface definition named fullName.
func (d *Domain) ImplementsDefinition(t typesystem.Type, fullName string) bool {
	for _, have := range d.Interfaces(t) {
		if con, ok := typesystem.Definition(have); ok && con.Name == fullName {
			return true
		}
	}
	return false
}

// IsValueType reports whether t resolves to a value type.
func (d *Domain) IsValueType(t typesystem.Type) bool {
	def := d.ResolveType(t)
	return def != nil && def.ValueType
}

// SplitFullName splits "Ns.Sub.Name" into namespace and name.
func SplitFullName(full string) (string, string) {
	idx := strings.LastIndexByte(full, '.')
	if idx < 0 {
		return "", full
	}
	return full[:idx], full[idx+1:]
}
