package metadata

import (
	"fmt"
	"strings"

	"github.com/funvibe/aspectweave/internal/typesystem"
	"github.com/funvibe/aspectweave/pkg/aspects"
)

// Visibility is the accessibility of a type or member.
type Visibility int

const (
	VisPrivate Visibility = iota
	VisFamilyAndAssembly
	VisAssembly
	VisFamily
	VisFamilyOrAssembly
	VisPublic
)

var visibilityNames = [...]string{"private", "famandassem", "assembly", "family", "famorassem", "public"}

func (v Visibility) String() string {
	if int(v) < len(visibilityNames) {
		return visibilityNames[v]
	}
	return fmt.Sprintf("visibility(%d)", int(v))
}

// VisibleToSubclasses reports whether a derived type in another module can access the member.
func (v Visibility) VisibleToSubclasses() bool {
	return v == VisFamily || v == VisFamilyOrAssembly || v == VisPublic
}

// Attribute is a custom attribute instance. Argument values are int64,
// bool, string, []string or typesystem.Type.
type Attribute struct {
	Type  typesystem.TCon
	Args  []any
	Named []NamedArg
}

// NamedArg is a property assignment of an attribute. Kept as an ordered
// slice so encoded modules are byte-stable.
type NamedArg struct {
	Name  string
	Value any
}

// Lookup returns a named argument.
func (a *Attribute) Lookup(name string) (any, bool) {
	for _, n := range a.Named {
		if n.Name == name {
			return n.Value, true
		}
	}
	return nil, false
}

// NamedString returns a named string argument.
func (a *Attribute) NamedString(name string) (string, bool) {
	v, _ := a.Lookup(name)
	s, ok := v.(string)
	return s, ok
}

// NamedInt returns a named integer argument.
func (a *Attribute) NamedInt(name string) (int64, bool) {
	v, _ := a.Lookup(name)
	n, ok := v.(int64)
	return n, ok
}

// NamedBool returns a named boolean argument.
func (a *Attribute) NamedBool(name string) (bool, bool) {
	v, _ := a.Lookup(name)
	b, ok := v.(bool)
	return b, ok
}

// GenericParam declares a generic parameter of a type or method.
type GenericParam struct {
	Name        string
	Position    int
	Method      bool
	Constraints []typesystem.Type

	ReferenceType bool
	ValueType     bool
	DefaultCtor   bool
}

// Ref returns the positional reference to the parameter.
func (g *GenericParam) Ref() typesystem.TVar {
	if g.Method {
		return typesystem.MethodParam(g.Position)
	}
	return typesystem.TypeParam(g.Position)
}

// Param is a method parameter. By-ref parameters have a TByRef type.
type Param struct {
	Name       string
	Type       typesystem.Type
	Out        bool
	Attributes []*Attribute
}

// Local is a local variable slot of a method body.
type Local struct {
	Name string
	Type typesystem.Type
}

// MethodBody is the executable part of a method.
type MethodBody struct {
	Locals       []*Local
	Instructions []Instruction

	nextLabel int
	taken     map[string]bool
}

// NewLabel returns a label name not used anywhere in the body, including
// labels handed out earlier and not yet marked.
func (b *MethodBody) NewLabel() string {
	if b.taken == nil {
		b.taken = Labels(b.Instructions)
	}
	for {
		b.nextLabel++
		name := fmt.Sprintf("~L%d", b.nextLabel)
		if !b.taken[name] {
			b.taken[name] = true
			return name
		}
	}
}

// AddLocal appends a local and returns its index.
func (b *MethodBody) AddLocal(name string, t typesystem.Type) int {
	b.Locals = append(b.Locals, &Local{Name: name, Type: t})
	return len(b.Locals) - 1
}

// FieldDef declares a field.
type FieldDef struct {
	Name       string
	Type       typesystem.Type
	Static     bool
	ReadOnly   bool
	Visibility Visibility
	Attributes []*Attribute

	declaring *TypeDef
}

// DeclaringType returns the type that declares the field.
func (f *FieldDef) DeclaringType() *TypeDef { return f.declaring }

// MemberName implements the reflection contract of pkg/aspects.
func (f *FieldDef) MemberName() string { return f.Name }

// DeclaringTypeName implements the reflection contract of pkg/aspects.
func (f *FieldDef) DeclaringTypeName() string {
	if f.declaring == nil {
		return ""
	}
	return f.declaring.FullName()
}

// Ref builds a reference to the field through an instance of its declaring type.
func (f *FieldDef) Ref(declaring typesystem.Type) *FieldRef {
	if declaring == nil {
		declaring = f.declaring.SelfType()
	}
	return &FieldRef{DeclaringType: declaring, Name: f.Name}
}

func (f *FieldDef) String() string { return f.DeclaringTypeName() + "::" + f.Name }

// NativeFunc implements a method body in Go. For instance methods args[0] is the receiver.
type NativeFunc func(ctx NativeContext, args []any) (any, error)

// NativeContext is what the executing runtime exposes to native method bodies.
type NativeContext interface {
	Domain() *Domain
	Resource(module, name string) ([]byte, bool)
	DeserializeAspects(data []byte) ([]any, error)
	Throw(exceptionType, message string) error
	Log(category, message string)
}

// MethodDef declares a method.
type MethodDef struct {
	Name       string
	Params     []*Param
	Return     typesystem.Type // nil for void
	Visibility Visibility

	Static   bool
	Virtual  bool
	Final    bool
	Abstract bool
	NewSlot  bool

	// RuntimeManaged marks delegate constructors and Invoke methods, whose
	// behavior is supplied by the runtime.
	RuntimeManaged bool

	GenericParams []*GenericParam

	// Overrides lists the interface or base methods this method explicitly implements.
	Overrides []*MethodRef

	Attributes []*Attribute
	Body       *MethodBody

	// Native is not persisted; framework modules rebind it on load.
	Native NativeFunc

	declaring *TypeDef
}

// DeclaringType returns the type that declares the method.
func (m *MethodDef) DeclaringType() *TypeDef { return m.declaring }

// MemberName implements the reflection contract of pkg/aspects.
func (m *MethodDef) MemberName() string { return m.Name }

// DeclaringTypeName implements the reflection contract of pkg/aspects.
func (m *MethodDef) DeclaringTypeName() string {
	if m.declaring == nil {
		return ""
	}
	return m.declaring.FullName()
}

// IsConstructor reports an instance constructor.
func (m *MethodDef) IsConstructor() bool { return m.Name == ".ctor" && !m.Static }

// IsTypeInitializer reports a static constructor.
func (m *MethodDef) IsTypeInitializer() bool { return m.Name == ".cctor" && m.Static }

// HasBody reports whether the method carries instructions or a native implementation.
func (m *MethodDef) HasBody() bool { return m.Body != nil || m.Native != nil }

// HasByRefParams reports whether any parameter is passed by reference.
func (m *MethodDef) HasByRefParams() bool {
	for _, p := range m.Params {
		if typesystem.IsByRef(p.Type) {
			return true
		}
	}
	return false
}

// ParamTypes returns the parameter types in definition form.
func (m *MethodDef) ParamTypes() []typesystem.Type {
	out := make([]typesystem.Type, len(m.Params))
	for i, p := range m.Params {
		out[i] = p.Type
	}
	return out
}

// Ref builds a reference to the method. declaring defaults to the open self
// type of the declaring type; methodArgs instantiate method-level parameters.
func (m *MethodDef) Ref(declaring typesystem.Type, methodArgs ...typesystem.Type) *MethodRef {
	if declaring == nil {
		declaring = m.declaring.SelfType()
	}
	return &MethodRef{
		DeclaringType: declaring,
		Name:          m.Name,
		Params:        m.ParamTypes(),
		Return:        m.Return,
		GenericArity:  len(m.GenericParams),
		GenericArgs:   methodArgs,
	}
}

// SelfRef references the method in its own generic context, instantiated
// over its own method-level parameters.
func (m *MethodDef) SelfRef() *MethodRef {
	return m.Ref(nil, typesystem.MethodParams(len(m.GenericParams))...)
}

// SignatureKey is the structural key of the definition signature.
func (m *MethodDef) SignatureKey() string {
	return signatureKey(m.Name, m.ParamTypes(), m.Return, len(m.GenericParams))
}

func (m *MethodDef) String() string { return m.DeclaringTypeName() + "::" + m.Name }

// Property groups accessor methods under one name.
type Property struct {
	Name       string
	Type       typesystem.Type
	Getter     string
	Setter     string
	Attributes []*Attribute
}

// Event groups add/remove accessor methods under one name.
type Event struct {
	Name       string
	Type       typesystem.Type
	Adder      string
	Remover    string
	Attributes []*Attribute
}

// TypeDef declares a type.
type TypeDef struct {
	Namespace  string
	Name       string
	Visibility Visibility

	Interface bool
	ValueType bool
	Sealed    bool
	Abstract  bool

	BaseType   typesystem.Type
	Interfaces []typesystem.Type

	GenericParams []*GenericParam
	Fields        []*FieldDef
	Methods       []*MethodDef
	Properties    []*Property
	Events        []*Event
	Attributes    []*Attribute

	module *Module
}

// FullName returns "Namespace.Name".
func (t *TypeDef) FullName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// MemberName implements the reflection contract of pkg/aspects.
func (t *TypeDef) MemberName() string { return t.Name }

// DeclaringTypeName implements the reflection contract of pkg/aspects.
func (t *TypeDef) DeclaringTypeName() string { return t.FullName() }

// MemberList implements aspects.TypeMember: methods first, then fields.
func (t *TypeDef) MemberList() []aspects.Member {
	out := make([]aspects.Member, 0, len(t.Methods)+len(t.Fields))
	for _, m := range t.Methods {
		out = append(out, m)
	}
	for _, f := range t.Fields {
		out = append(out, f)
	}
	return out
}

// Module returns the declaring module.
func (t *TypeDef) Module() *Module { return t.module }

// Con returns the type constructor naming this definition.
func (t *TypeDef) Con() typesystem.TCon {
	mod := ""
	if t.module != nil {
		mod = t.module.Name
	}
	return typesystem.TCon{Name: t.FullName(), Module: mod}
}

// SelfType returns the type instantiated over its own generic parameters.
func (t *TypeDef) SelfType() typesystem.Type {
	if len(t.GenericParams) == 0 {
		return t.Con()
	}
	return typesystem.TApp{Constructor: t.Con(), Args: typesystem.TypeParams(len(t.GenericParams))}
}

// IsGeneric reports whether the type declares generic parameters.
func (t *TypeDef) IsGeneric() bool { return len(t.GenericParams) > 0 }

// AddField appends a field.
func (t *TypeDef) AddField(f *FieldDef) *FieldDef {
	f.declaring = t
	t.Fields = append(t.Fields, f)
	return f
}

// AddMethod appends a method.
func (t *TypeDef) AddMethod(m *MethodDef) *MethodDef {
	m.declaring = t
	t.Methods = append(t.Methods, m)
	return m
}

// FindField returns the field with the given name.
func (t *TypeDef) FindField(name string) *FieldDef {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FindMethods returns every method with the given name, in declaration order.
func (t *TypeDef) FindMethods(name string) []*MethodDef {
	var out []*MethodDef
	for _, m := range t.Methods {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// FindMethod returns the single method with the given name and parameter
// count (-1 matches any count).
func (t *TypeDef) FindMethod(name string, paramCount int) *MethodDef {
	for _, m := range t.Methods {
		if m.Name == name && (paramCount < 0 || len(m.Params) == paramCount) {
			return m
		}
	}
	return nil
}

// FindBySignature returns the method with the given structural signature key.
func (t *TypeDef) FindBySignature(key string) *MethodDef {
	for _, m := range t.Methods {
		if m.SignatureKey() == key {
			return m
		}
	}
	return nil
}

// Constructors returns the instance constructors.
func (t *TypeDef) Constructors() []*MethodDef {
	var out []*MethodDef
	for _, m := range t.Methods {
		if m.IsConstructor() {
			out = append(out, m)
		}
	}
	return out
}

// FindProperty returns the property with the given name.
func (t *TypeDef) FindProperty(name string) *Property {
	for _, p := range t.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// HasAttribute reports whether an attribute of the named type is applied.
func (t *TypeDef) HasAttribute(fullName string) bool {
	return FindAttribute(t.Attributes, fullName) != nil
}

// FindAttribute returns the first attribute of the named type.
func FindAttribute(attrs []*Attribute, fullName string) *Attribute {
	for _, a := range attrs {
		if a.Type.Name == fullName {
			return a
		}
	}
	return nil
}

// UniqueMemberName returns base, or base followed by a numeric suffix, such
// that no field or method of t uses it.
func (t *TypeDef) UniqueMemberName(base string) string {
	taken := func(name string) bool {
		return t.FindField(name) != nil || len(t.FindMethods(name)) > 0
	}
	if !taken(base) {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s~%d", base, i)
		if !taken(candidate) {
			return candidate
		}
	}
}

func (t *TypeDef) String() string { return t.FullName() }

// ShortName strips the namespace and generic arity from a full type name.
func ShortName(full string) string {
	_, name := SplitFullName(full)
	if idx := strings.IndexByte(name, '`'); idx >= 0 {
		name = name[:idx]
	}
	return name
}
