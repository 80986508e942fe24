package metadata

import (
	"fmt"

	"github.com/funvibe/aspectweave/internal/typesystem"
)

// VerifyError locates one structural defect.
type VerifyError struct {
	Location string
	Message  string
}

func (e *VerifyError) Error() string { return e.Location + ": " + e.Message }

// Verify checks that every generic parameter reference is in range for its
// generic context, that branch targets resolve and that every member
// reference resolves in d. It reports all defects, not just the first.
func Verify(d *Domain, m *Module) []*VerifyError {
	v := &verifier{domain: d}
	for _, t := range m.Types {
		v.verifyType(t)
	}
	return v.errs
}

type verifier struct {
	domain *Domain
	errs   []*VerifyError
}

func (v *verifier) errorf(loc, format string, args ...any) {
	v.errs = append(v.errs, &VerifyError{Location: loc, Message: fmt.Sprintf(format, args...)})
}

func (v *verifier) verifyType(t *TypeDef) {
	loc := t.FullName()
	typeArity := len(t.GenericParams)
	if t.BaseType != nil {
		v.checkType(loc+" base", t.BaseType, typeArity, 0)
	}
	for _, iface := range t.Interfaces {
		v.checkType(loc+" interface", iface, typeArity, 0)
		if def := v.domain.ResolveType(iface); def != nil && !def.Interface {
			v.errorf(loc, "%s is not an interface", iface)
		}
	}
	for _, g := range t.GenericParams {
		for _, c := range g.Constraints {
			v.checkType(loc+" constraint "+g.Name, c, typeArity, 0)
		}
	}
	for _, f := range t.Fields {
		v.checkType(f.String(), f.Type, typeArity, 0)
	}
	for _, md := range t.Methods {
		v.verifyMethod(md, typeArity)
	}
}

func (v *verifier) verifyMethod(md *MethodDef, typeArity int) {
	loc := md.String()
	methodArity := len(md.GenericParams)
	for _, p := range md.Params {
		v.checkType(loc+" param "+p.Name, p.Type, typeArity, methodArity)
	}
	if md.Return != nil {
		v.checkType(loc+" return", md.Return, typeArity, methodArity)
	}
	for _, g := range md.GenericParams {
		for _, c := range g.Constraints {
			v.checkType(loc+" constraint "+g.Name, c, typeArity, methodArity)
		}
	}
	for _, o := range md.Overrides {
		v.checkMethodRef(loc+" override", o, typeArity, methodArity)
	}
	if md.Abstract && md.Body != nil {
		v.errorf(loc, "abstract method has a body")
	}
	if md.Body == nil {
		return
	}
	for i, l := range md.Body.Locals {
		v.checkType(fmt.Sprintf("%s local %d", loc, i), l.Type, typeArity, methodArity)
	}

	seen := make(map[string]bool)
	Walk(&md.Body.Instructions, func(list *[]Instruction) {
		for _, ins := range *list {
			if ins.Op != OP_LABEL {
				continue
			}
			if seen[ins.Label] {
				v.errorf(loc, "label %s marked twice", ins.Label)
			}
			seen[ins.Label] = true
		}
	})
	v.verifyList(loc, md, md.Body.Instructions, nil, typeArity, methodArity)
}

// verifyList checks one instruction list; visible holds the labels of every
// enclosing list.
func (v *verifier) verifyList(loc string, md *MethodDef, list []Instruction, visible []map[string]bool, typeArity, methodArity int) {
	own := make(map[string]bool)
	for _, ins := range list {
		if ins.Op == OP_LABEL {
			own[ins.Label] = true
		}
	}
	scopes := append(append([]map[string]bool(nil), visible...), own)
	reachable := func(label string) bool {
		for _, s := range scopes {
			if s[label] {
				return true
			}
		}
		return false
	}

	for i, ins := range list {
		at := fmt.Sprintf("%s[%d] %s", loc, i, ins.Op)
		switch ins.Op {
		case OP_BR, OP_BRTRUE, OP_BRFALSE, OP_LEAVE:
			if !reachable(ins.Label) {
				v.errorf(at, "undefined label %s", ins.Label)
			}
		case OP_SWITCH:
			for _, target := range ins.Targets {
				if !reachable(target) {
					v.errorf(at, "undefined label %s", target)
				}
			}
		case OP_LDARG, OP_LDARGA, OP_STARG:
			count := int64(len(md.Params))
			if !md.Static {
				count++
			}
			if ins.Int < 0 || ins.Int >= count {
				v.errorf(at, "argument %d out of range", ins.Int)
			}
		case OP_LDLOC, OP_LDLOCA, OP_STLOC:
			if ins.Int < 0 || ins.Int >= int64(len(md.Body.Locals)) {
				v.errorf(at, "local %d out of range", ins.Int)
			}
		case OP_TRY:
			v.verifyList(loc+" try", md, ins.Try.Body, scopes, typeArity, methodArity)
			for _, c := range ins.Try.Catches {
				if c.Type != nil {
					v.checkType(at+" catch", c.Type, typeArity, methodArity)
				}
				v.verifyList(loc+" catch", md, c.Body, scopes, typeArity, methodArity)
			}
			if ins.Try.Finally != nil {
				v.verifyList(loc+" finally", md, ins.Try.Finally, scopes, typeArity, methodArity)
			}
		}
		if ins.Type != nil {
			v.checkType(at, ins.Type, typeArity, methodArity)
		}
		if ins.Method != nil {
			v.checkMethodRef(at, ins.Method, typeArity, methodArity)
		}
		if ins.Field != nil {
			v.checkType(at, ins.Field.DeclaringType, typeArity, methodArity)
			if ins.Field.Resolve(v.domain) == nil {
				v.errorf(at, "unresolved field %s", ins.Field)
			}
		}
	}
}

func (v *verifier) checkMethodRef(loc string, ref *MethodRef, typeArity, methodArity int) {
	v.checkType(loc, ref.DeclaringType, typeArity, methodArity)
	for _, a := range ref.GenericArgs {
		v.checkType(loc, a, typeArity, methodArity)
	}
	if len(ref.GenericArgs) != 0 && len(ref.GenericArgs) != ref.GenericArity {
		v.errorf(loc, "method %s instantiated with %d arguments, want %d", ref.Name, len(ref.GenericArgs), ref.GenericArity)
	}
	def := v.domain.ResolveType(ref.DeclaringType)
	if def == nil {
		v.errorf(loc, "unresolved type %s", ref.DeclaringType)
		return
	}
	if len(typesystem.Args(ref.DeclaringType)) != len(def.GenericParams) {
		v.errorf(loc, "type %s instantiated with %d arguments, want %d",
			def.FullName(), len(typesystem.Args(ref.DeclaringType)), len(def.GenericParams))
	}
	if def.FindBySignature(ref.SignatureKey()) == nil {
		v.errorf(loc, "unresolved method %s", ref)
	}
}

func (v *verifier) checkType(loc string, t typesystem.Type, typeArity, methodArity int) {
	for _, tv := range t.FreeTypeVariables() {
		pos := tv.Position()
		limit := typeArity
		if tv.IsMethodParam() {
			limit = methodArity
		}
		if pos < 0 || pos >= limit {
			v.errorf(loc, "generic parameter %s out of range in %s", tv, t)
		}
	}
	if typesystem.Elem(t) != nil {
		if con, ok := typesystem.Definition(typesystem.Elem(t)); ok {
			if v.domain.ResolveType(con) == nil {
				v.errorf(loc, "unresolved type %s", con)
			}
		}
	}
}
