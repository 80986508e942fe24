package typesystem

import (
	"fmt"
	"sort"
	"strings"
)

// InstanceMap maps the type-level parameters of a generic definition to the
// arguments of the instance t. Non-generic types yield an empty map.
func InstanceMap(t Type) Subst {
	args := Args(t)
	subst := make(Subst, len(args))
	for i, arg := range args {
		subst[TypeParam(i).Name] = arg
	}
	return subst
}

// MethodInstanceMap maps method-level parameters to explicit method arguments.
func MethodInstanceMap(args []Type) Subst {
	subst := make(Subst, len(args))
	for i, arg := range args {
		subst[MethodParam(i).Name] = arg
	}
	return subst
}

// Identity maps every parameter of a context with the given arities onto itself.
func Identity(typeArity, methodArity int) Subst {
	subst := make(Subst, typeArity+methodArity)
	for i := 0; i < typeArity; i++ {
		subst[TypeParam(i).Name] = TypeParam(i)
	}
	for i := 0; i < methodArity; i++ {
		subst[MethodParam(i).Name] = MethodParam(i)
	}
	return subst
}

// TypeParams returns [!0 .. !n-1].
func TypeParams(n int) []Type {
	out := make([]Type, n)
	for i := range out {
		out[i] = TypeParam(i)
	}
	return out
}

// MethodParams returns [!!0 .. !!n-1].
func MethodParams(n int) []Type {
	out := make([]Type, n)
	for i := range out {
		out[i] = MethodParam(i)
	}
	return out
}

// SortTVars orders type-level parameters before method-level ones, each by position.
func SortTVars(vars []TVar) []TVar {
	out := uniqueTVars(vars)
	sort.SliceStable(out, func(i, j int) bool {
		mi, mj := out[i].IsMethodParam(), out[j].IsMethodParam()
		if mi != mj {
			return !mi
		}
		return out[i].Position() < out[j].Position()
	})
	return out
}

// CollectTVars gathers the generic parameters mentioned by any of the given types.
func CollectTVars(types ...Type) []TVar {
	var vars []TVar
	for _, t := range types {
		if t == nil {
			continue
		}
		vars = append(vars, t.FreeTypeVariables()...)
	}
	return SortTVars(vars)
}

// ParseType parses the textual form produced by Type.String, with the module
// prefix optional: "[Mod]Ns.Name<[Mod]Arg,!0>[]&". Unqualified names get an
// empty Module that callers qualify against their own resolution rules.
func ParseType(s string) (Type, error) {
	p := &typeParser{src: strings.TrimSpace(s)}
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("unexpected %q at offset %d in type %q", p.src[p.pos:], p.pos, s)
	}
	return t, nil
}

type typeParser struct {
	src string
	pos int
}

func (p *typeParser) peek() byte {
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

func (p *typeParser) parseType() (Type, error) {
	var t Type
	if p.peek() == '!' {
		start := p.pos
		for p.pos < len(p.src) && (p.src[p.pos] == '!' || (p.src[p.pos] >= '0' && p.src[p.pos] <= '9')) {
			p.pos++
		}
		v := TVar{Name: p.src[start:p.pos]}
		if v.Position() < 0 {
			return nil, fmt.Errorf("malformed generic parameter %q", v.Name)
		}
		t = v
	} else {
		con := TCon{}
		if p.peek() == '[' {
			end := strings.IndexByte(p.src[p.pos:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated module qualifier in %q", p.src)
			}
			con.Module = p.src[p.pos+1 : p.pos+end]
			p.pos += end + 1
		}
		start := p.pos
		for p.pos < len(p.src) && !strings.ContainsRune("<>,[]&", rune(p.src[p.pos])) {
			p.pos++
		}
		con.Name = strings.TrimSpace(p.src[start:p.pos])
		if con.Name == "" {
			return nil, fmt.Errorf("missing type name at offset %d in %q", start, p.src)
		}
		t = con
		if p.peek() == '<' {
			p.pos++
			var args []Type
			for {
				arg, err := p.parseType()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.peek() == ',' {
					p.pos++
					continue
				}
				if p.peek() != '>' {
					return nil, fmt.Errorf("expected '>' at offset %d in %q", p.pos, p.src)
				}
				p.pos++
				break
			}
			t = TApp{Constructor: con, Args: args}
		}
	}
	for {
		switch {
		case strings.HasPrefix(p.src[p.pos:], "[]"):
			p.pos += 2
			t = TArray{Elem: t}
		case p.peek() == '&':
			p.pos++
			t = TByRef{Elem: t}
		default:
			return t, nil
		}
	}
}

// Qualify fills in the module of every unqualified constructor using resolve.
func Qualify(t Type, resolve func(name string) string) Type {
	switch typ := t.(type) {
	case TCon:
		if typ.Module == "" {
			typ.Module = resolve(typ.Name)
		}
		return typ
	case TApp:
		ctor := Qualify(typ.Constructor, resolve).(TCon)
		args := make([]Type, len(typ.Args))
		for i, a := range typ.Args {
			args[i] = Qualify(a, resolve)
		}
		return TApp{Constructor: ctor, Args: args}
	case TArray:
		return TArray{Elem: Qualify(typ.Elem, resolve)}
	case TByRef:
		return TByRef{Elem: Qualify(typ.Elem, resolve)}
	}
	return t
}
