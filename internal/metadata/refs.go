package metadata

import (
	"strconv"
	"strings"

	"github.com/funvibe/aspectweave/internal/typesystem"
)

// MethodRef references a method through an instance of its declaring type.
// Params and Return are in definition form; DeclaringType and GenericArgs
// carry the instantiation.
type MethodRef struct {
	DeclaringType typesystem.Type
	Name          string
	Params        []typesystem.Type
	Return        typesystem.Type
	GenericArity  int
	GenericArgs   []typesystem.Type
}

// Apply re-expresses the reference in another generic context.
func (r *MethodRef) Apply(s typesystem.Subst) *MethodRef {
	out := *r
	out.DeclaringType = r.DeclaringType.Apply(s)
	if r.GenericArgs != nil {
		out.GenericArgs = make([]typesystem.Type, len(r.GenericArgs))
		for i, a := range r.GenericArgs {
			out.GenericArgs[i] = a.Apply(s)
		}
	}
	return &out
}

// ParamTypes returns the parameter types at the call site.
func (r *MethodRef) ParamTypes() []typesystem.Type {
	sub := r.combined()
	out := make([]typesystem.Type, len(r.Params))
	for i, p := range r.Params {
		out[i] = p.Apply(sub)
	}
	return out
}

// ReturnType returns the return type at the call site, or nil for void.
func (r *MethodRef) ReturnType() typesystem.Type {
	if r.Return == nil {
		return nil
	}
	return r.Return.Apply(r.combined())
}

// combined maps both the type-level and method-level parameters of the
// definition to their call-site arguments in one simultaneous substitution.
func (r *MethodRef) combined() typesystem.Subst {
	sub := typesystem.InstanceMap(r.DeclaringType)
	for k, v := range typesystem.MethodInstanceMap(r.GenericArgs) {
		sub[k] = v
	}
	return sub
}

// SignatureKey is the structural key of the referenced definition.
func (r *MethodRef) SignatureKey() string {
	return signatureKey(r.Name, r.Params, r.Return, r.GenericArity)
}

// Resolve finds the referenced definition.
func (r *MethodRef) Resolve(d *Domain) *MethodDef {
	def := d.ResolveType(r.DeclaringType)
	if def == nil {
		return nil
	}
	return def.FindBySignature(r.SignatureKey())
}

func (r *MethodRef) String() string {
	var sb strings.Builder
	sb.WriteString(typesystem.Key(r.Return))
	sb.WriteByte(' ')
	sb.WriteString(r.DeclaringType.String())
	sb.WriteString("::")
	sb.WriteString(r.Name)
	if len(r.GenericArgs) > 0 {
		args := make([]string, len(r.GenericArgs))
		for i, a := range r.GenericArgs {
			args[i] = a.String()
		}
		sb.WriteString("<" + strings.Join(args, ",") + ">")
	} else if r.GenericArity > 0 {
		sb.WriteString("`" + strconv.Itoa(r.GenericArity))
	}
	params := make([]string, len(r.Params))
	for i, p := range r.Params {
		params[i] = p.String()
	}
	sb.WriteString("(" + strings.Join(params, ",") + ")")
	return sb.String()
}

// FieldRef references a field through an instance of its declaring type.
type FieldRef struct {
	DeclaringType typesystem.Type
	Name          string
}

// Apply re-expresses the reference in another generic context.
func (r *FieldRef) Apply(s typesystem.Subst) *FieldRef {
	return &FieldRef{DeclaringType: r.DeclaringType.Apply(s), Name: r.Name}
}

// Resolve finds the referenced definition.
func (r *FieldRef) Resolve(d *Domain) *FieldDef {
	def := d.ResolveType(r.DeclaringType)
	if def == nil {
		return nil
	}
	return def.FindField(r.Name)
}

// FieldType returns the field type at the reference site.
func (r *FieldRef) FieldType(d *Domain) typesystem.Type {
	f := r.Resolve(d)
	if f == nil {
		return nil
	}
	return f.Type.Apply(typesystem.InstanceMap(r.DeclaringType))
}

func (r *FieldRef) String() string { return r.DeclaringType.String() + "::" + r.Name }

func signatureKey(name string, params []typesystem.Type, ret typesystem.Type, arity int) string {
	var sb strings.Builder
	sb.WriteString(name)
	if arity > 0 {
		sb.WriteString("`" + strconv.Itoa(arity))
	}
	sb.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.String())
	}
	sb.WriteString(")")
	sb.WriteString(typesystem.Key(ret))
	return sb.String()
}

// SignatureShape is the structural key of a signature without a name,
// used to compare delegate-compatible shapes.
func SignatureShape(params []typesystem.Type, ret typesystem.Type) string {
	return signatureKey("", params, ret, 0)
}
