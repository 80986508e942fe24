package typesystem

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Type is the interface for all type signatures in a module.
type Type interface {
	String() string
	Apply(Subst) Type
	FreeTypeVariables() []TVar
}

// Generic parameter references are positional. Type-level parameters are
// spelled "!n", method-level parameters "!!n".
const (
	typeParamPrefix   = "!"
	methodParamPrefix = "!!"
)

// TVar references a generic parameter by position.
type TVar struct {
	Name string
}

// TypeParam returns a reference to the n-th generic parameter of the declaring type.
func TypeParam(n int) TVar { return TVar{Name: typeParamPrefix + strconv.Itoa(n)} }

// MethodParam returns a reference to the n-th generic parameter of the method.
func MethodParam(n int) TVar { return TVar{Name: methodParamPrefix + strconv.Itoa(n)} }

// IsMethodParam reports whether t references a method-level generic parameter.
func (t TVar) IsMethodParam() bool { return strings.HasPrefix(t.Name, methodParamPrefix) }

// Position returns the positional index of the parameter, or -1 for a malformed name.
func (t TVar) Position() int {
	rest := strings.TrimPrefix(t.Name, methodParamPrefix)
	if rest == t.Name {
		rest = strings.TrimPrefix(t.Name, typeParamPrefix)
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return -1
	}
	return n
}

func (t TVar) String() string { return t.Name }

func (t TVar) Apply(s Subst) Type {
	if replacement, ok := s[t.Name]; ok {
		return replacement
	}
	return t
}

func (t TVar) FreeTypeVariables() []TVar { return []TVar{t} }

// TCon names a type definition. Module is the defining module; it is always
// explicit so a signature can be moved between modules without ambiguity.
type TCon struct {
	Name   string
	Module string
}

func (t TCon) String() string {
	if t.Module != "" {
		return "[" + t.Module + "]" + t.Name
	}
	return t.Name
}

func (t TCon) Apply(Subst) Type { return t }

func (t TCon) FreeTypeVariables() []TVar { return []TVar{} }

// TApp is a generic instance, e.g. IComposed<!0>.
type TApp struct {
	Constructor TCon
	Args        []Type
}

func (t TApp) String() string {
	args := make([]string, len(t.Args))
	for i, arg := range t.Args {
		args[i] = arg.String()
	}
	return fmt.Sprintf("%s<%s>", t.Constructor.String(), strings.Join(args, ","))
}

func (t TApp) Apply(s Subst) Type {
	newArgs := make([]Type, len(t.Args))
	for i, arg := range t.Args {
		newArgs[i] = arg.Apply(s)
	}
	return TApp{Constructor: t.Constructor, Args: newArgs}
}

func (t TApp) FreeTypeVariables() []TVar {
	vars := []TVar{}
	for _, arg := range t.Args {
		vars = append(vars, arg.FreeTypeVariables()...)
	}
	return uniqueTVars(vars)
}

// TArray is a single-dimension, zero-based array.
type TArray struct {
	Elem Type
}

func (t TArray) String() string { return t.Elem.String() + "[]" }

func (t TArray) Apply(s Subst) Type { return TArray{Elem: t.Elem.Apply(s)} }

func (t TArray) FreeTypeVariables() []TVar { return t.Elem.FreeTypeVariables() }

// TByRef is a managed reference, used for out and ref parameters.
type TByRef struct {
	Elem Type
}

func (t TByRef) String() string { return t.Elem.String() + "&" }

func (t TByRef) Apply(s Subst) Type { return TByRef{Elem: t.Elem.Apply(s)} }

func (t TByRef) FreeTypeVariables() []TVar { return t.Elem.FreeTypeVariables() }

// Subst maps generic parameter names to types. A Subst is never mutated after
// construction; every operation returns a fresh map.
//
// Application is simultaneous and single-pass: the replacement of a parameter
// is not itself substituted again. Generic maps relate two different generic
// contexts that both spell their parameters "!n", so a fixpoint would be wrong.
type Subst map[string]Type

// Compose returns the substitution equivalent to applying s1 and then s2:
//
//	t.Apply(s1.Compose(s2)) == t.Apply(s1).Apply(s2)
func (s1 Subst) Compose(s2 Subst) Subst {
	subst := make(Subst, len(s1)+len(s2))
	for k, v := range s2 {
		subst[k] = v
	}
	for k, v := range s1 {
		subst[k] = v.Apply(s2)
	}
	return subst
}

// Lookup returns the image of v, or v itself when unmapped.
func (s Subst) Lookup(v TVar) Type {
	if t, ok := s[v.Name]; ok {
		return t
	}
	return v
}

// Equal reports whether both substitutions map the same names to structurally equal types.
func (s Subst) Equal(other Subst) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		o, ok := other[k]
		if !ok || !Equal(v, o) {
			return false
		}
	}
	return true
}

func (s Subst) String() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + s[k].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Equal is structural type equality.
func Equal(a, b Type) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

// Key is the canonical structural key of a type; nil encodes as "void".
func Key(t Type) string {
	if t == nil {
		return "void"
	}
	return t.String()
}

// Definition returns the type constructor of t, unwrapping generic instances.
func Definition(t Type) (TCon, bool) {
	switch typ := t.(type) {
	case TCon:
		return typ, true
	case TApp:
		return typ.Constructor, true
	}
	return TCon{}, false
}

// Args returns the generic arguments of an instance, or nil for non-generic types.
func Args(t Type) []Type {
	if app, ok := t.(TApp); ok {
		return app.Args
	}
	return nil
}

// Elem strips a by-ref wrapper.
func Elem(t Type) Type {
	if r, ok := t.(TByRef); ok {
		return r.Elem
	}
	return t
}

// IsByRef reports whether t is a managed reference.
func IsByRef(t Type) bool {
	_, ok := t.(TByRef)
	return ok
}

// IsOpen reports whether t still mentions generic parameters.
func IsOpen(t Type) bool {
	return t != nil && len(t.FreeTypeVariables()) > 0
}

func uniqueTVars(vars []TVar) []TVar {
	unique := []TVar{}
	seen := map[string]bool{}
	for _, v := range vars {
		if !seen[v.Name] {
			seen[v.Name] = true
			unique = append(unique, v)
		}
	}
	return unique
}
