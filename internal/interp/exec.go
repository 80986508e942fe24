package interp

import (
	"fmt"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
)

type frame struct {
	method *metadata.MethodDef
	args   []any
	locals []any
	stack  []any

	// caught holds the exceptions of the enclosing catch handlers, innermost last.
	caught []*Object
}

func (f *frame) push(v any) { f.stack = append(f.stack, v) }

func (f *frame) pop() any {
	if len(f.stack) == 0 {
		panic(errStackUnderflow)
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) popN(n int) []any {
	if len(f.stack) < n {
		panic(errStackUnderflow)
	}
	out := make([]any, n)
	copy(out, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return out
}

type outcomeKind int

const (
	fellThrough outcomeKind = iota
	returned
	leaving
	threw
)

// outcome is how an instruction list stopped executing.
type outcome struct {
	kind  outcomeKind
	label string
	value any
	err   error
}

func (m *Machine) execute(md *metadata.MethodDef, args []any) (result any, err error) {
	f := &frame{method: md, args: append([]any(nil), args...)}
	f.locals = make([]any, len(md.Body.Locals))
	for i, l := range md.Body.Locals {
		f.locals[i] = m.zeroValue(l.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			if r == errStackUnderflow {
				err = &FatalError{Message: fmt.Sprintf("%v in %s", r, md)}
				return
			}
			panic(r)
		}
	}()

	o := m.run(f, md.Body.Instructions)
	switch o.kind {
	case returned:
		return o.value, nil
	case threw:
		return nil, o.err
	case leaving:
		return nil, &FatalError{Message: fmt.Sprintf("branch to undefined label %s in %s", o.label, md)}
	}
	return nil, nil
}

func labelIndex(list []metadata.Instruction) map[string]int {
	idx := make(map[string]int)
	for i, ins := range list {
		if ins.Op == metadata.OP_LABEL {
			idx[ins.Label] = i
		}
	}
	return idx
}

func (m *Machine) run(f *frame, list []metadata.Instruction) outcome {
	labels := labelIndex(list)
	jump := func(label string) (int, bool) {
		i, ok := labels[label]
		return i, ok
	}

	for pc := 0; pc < len(list); pc++ {
		ins := list[pc]
		switch ins.Op {
		case metadata.OP_NOP, metadata.OP_LABEL:

		case metadata.OP_LDARG:
			f.push(copyValue(f.args[ins.Int]))
		case metadata.OP_LDARGA:
			i := ins.Int
			f.push(&Ref{get: func() any { return f.args[i] }, set: func(v any) { f.args[i] = v }})
		case metadata.OP_STARG:
			f.args[ins.Int] = f.pop()
		case metadata.OP_LDLOC:
			f.push(copyValue(f.locals[ins.Int]))
		case metadata.OP_LDLOCA:
			i := ins.Int
			f.push(&Ref{get: func() any { return f.locals[i] }, set: func(v any) { f.locals[i] = v }})
		case metadata.OP_STLOC:
			f.locals[ins.Int] = f.pop()

		case metadata.OP_LDNULL:
			f.push(nil)
		case metadata.OP_LDC:
			f.push(ins.Int)
		case metadata.OP_LDSTR:
			f.push(ins.Str)
		case metadata.OP_LDTOKEN:
			v, err := m.token(ins)
			if err != nil {
				return outcome{kind: threw, err: err}
			}
			f.push(v)

		case metadata.OP_LDFLD, metadata.OP_LDFLDA, metadata.OP_STFLD:
			if o, stop := m.instanceField(f, ins); stop {
				return o
			}
		case metadata.OP_LDSFLD, metadata.OP_STSFLD, metadata.OP_LDSFLDA:
			if o, stop := m.staticField(f, ins); stop {
				return o
			}

		case metadata.OP_CALL, metadata.OP_CALLVIRT, metadata.OP_NEWOBJ:
			if o, stop := m.call(f, ins); stop {
				return o
			}
		case metadata.OP_LDFTN:
			md := ins.Method.Resolve(m.domain)
			if md == nil {
				return fatal("unresolved method %s", ins.Method)
			}
			f.push(&FuncPtr{Method: md})
		case metadata.OP_RET:
			var v any
			if f.method.Return != nil {
				v = f.pop()
			}
			return outcome{kind: returned, value: v}

		case metadata.OP_BR, metadata.OP_LEAVE:
			if ins.Op == metadata.OP_LEAVE {
				f.stack = f.stack[:0]
			}
			i, ok := jump(ins.Label)
			if !ok {
				return outcome{kind: leaving, label: ins.Label}
			}
			pc = i
		case metadata.OP_BRTRUE, metadata.OP_BRFALSE:
			cond := truthy(f.pop())
			if cond != (ins.Op == metadata.OP_BRTRUE) {
				continue
			}
			i, ok := jump(ins.Label)
			if !ok {
				return outcome{kind: leaving, label: ins.Label}
			}
			pc = i
		case metadata.OP_SWITCH:
			n, _ := f.pop().(int64)
			if n < 0 || n >= int64(len(ins.Targets)) {
				continue
			}
			i, ok := jump(ins.Targets[n])
			if !ok {
				return outcome{kind: leaving, label: ins.Targets[n]}
			}
			pc = i

		case metadata.OP_BOX:
			f.push(copyValue(f.pop()))
		case metadata.OP_UNBOX_ANY, metadata.OP_CASTCLASS, metadata.OP_ISINST:
			if o, stop := m.cast(f, ins); stop {
				return o
			}
		case metadata.OP_LDOBJ:
			v := f.pop()
			if r, ok := v.(*Ref); ok {
				v = r.Load()
			}
			f.push(copyValue(v))
		case metadata.OP_STOBJ:
			v := f.pop()
			switch target := f.pop().(type) {
			case *Ref:
				target.Store(copyValue(v))
			case *Object:
				// A value-type receiver passed by value is updated in place.
				src, ok := v.(*Object)
				if !ok || src.Def != target.Def {
					return fatal("stobj of %T into %s in %s", v, target.Def.FullName(), f.method)
				}
				target.Fields = src.clone().Fields
			default:
				return fatal("stobj without an address in %s", f.method)
			}
		case metadata.OP_INITOBJ:
			r, ok := f.pop().(*Ref)
			if !ok {
				return fatal("initobj without an address in %s", f.method)
			}
			r.Store(m.zeroValue(ins.Type))

		case metadata.OP_NEWARR:
			n, _ := f.pop().(int64)
			values := make([]any, n)
			for i := range values {
				values[i] = m.zeroValue(ins.Type)
			}
			f.push(NewArray(ins.Type, values))
		case metadata.OP_LDELEM:
			idx, _ := f.pop().(int64)
			arr, err := m.array(f.pop(), idx)
			if err != nil {
				return outcome{kind: threw, err: err}
			}
			f.push(copyValue(arr.Values[idx]))
		case metadata.OP_STELEM:
			v := f.pop()
			idx, _ := f.pop().(int64)
			arr, err := m.array(f.pop(), idx)
			if err != nil {
				return outcome{kind: threw, err: err}
			}
			arr.Values[idx] = v
		case metadata.OP_LDLEN:
			arr, ok := f.pop().(*Array)
			if !ok {
				return outcome{kind: threw, err: m.throw(config.NullReferenceName, "ldlen on null")}
			}
			f.push(int64(len(arr.Values)))

		case metadata.OP_DUP:
			v := f.pop()
			f.push(v)
			f.push(copyValue(v))
		case metadata.OP_POP:
			f.pop()

		case metadata.OP_THROW:
			exc, ok := f.pop().(*Object)
			if !ok {
				return outcome{kind: threw, err: m.throw(config.NullReferenceName, "throw of null")}
			}
			return outcome{kind: threw, err: &Thrown{Exception: exc}}
		case metadata.OP_RETHROW:
			if len(f.caught) == 0 {
				return fatal("rethrow outside a catch handler in %s", f.method)
			}
			return outcome{kind: threw, err: &Thrown{Exception: f.caught[len(f.caught)-1]}}
		case metadata.OP_TRY:
			o := m.runTry(f, ins.Try)
			switch o.kind {
			case fellThrough:
				continue
			case leaving:
				if i, ok := jump(o.label); ok {
					pc = i
					continue
				}
			}
			return o

		case metadata.OP_CEQ:
			b, a := f.pop(), f.pop()
			f.push(boolValue(valuesEqual(a, b)))
		case metadata.OP_CLT:
			b, _ := f.pop().(int64)
			a, _ := f.pop().(int64)
			f.push(boolValue(a < b))
		case metadata.OP_ADD, metadata.OP_SUB, metadata.OP_MUL:
			b, _ := f.pop().(int64)
			a, _ := f.pop().(int64)
			switch ins.Op {
			case metadata.OP_ADD:
				f.push(a + b)
			case metadata.OP_SUB:
				f.push(a - b)
			default:
				f.push(a * b)
			}

		default:
			return fatal("unknown opcode %s in %s", ins.Op, f.method)
		}
	}
	return outcome{kind: fellThrough}
}

func (m *Machine) runTry(f *frame, try *metadata.TryBlock) outcome {
	o := m.run(f, try.Body)
	if o.kind == threw {
		if thrown, ok := o.err.(*Thrown); ok {
			for _, c := range try.Catches {
				if !m.catches(c.Type, thrown.Exception) {
					continue
				}
				f.stack = append(f.stack[:0], thrown.Exception)
				f.caught = append(f.caught, thrown.Exception)
				o = m.run(f, c.Body)
				f.caught = f.caught[:len(f.caught)-1]
				break
			}
		}
	}
	if try.Finally == nil || isFatal(o) {
		return o
	}
	saved := f.stack
	f.stack = nil
	fo := m.run(f, try.Finally)
	f.stack = saved
	if fo.kind != fellThrough {
		return fo
	}
	return o
}

func (m *Machine) catches(t typesystem.Type, exc *Object) bool {
	if t == nil {
		return true
	}
	def := m.domain.ResolveType(t)
	return def != nil && m.isAssignable(exc.Def, def)
}

func isFatal(o outcome) bool {
	if o.kind != threw {
		return false
	}
	_, ok := o.err.(*Thrown)
	return !ok
}

func fatal(format string, args ...any) outcome {
	return outcome{kind: threw, err: &FatalError{Message: fmt.Sprintf(format, args...)}}
}

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (m *Machine) array(v any, idx int64) (*Array, error) {
	arr, ok := v.(*Array)
	if !ok {
		return nil, m.throw(config.NullReferenceName, "array is null")
	}
	if idx < 0 || idx >= int64(len(arr.Values)) {
		return nil, m.throw(config.IndexOutOfRangeName, fmt.Sprintf("index %d outside [0,%d)", idx, len(arr.Values)))
	}
	return arr, nil
}

func (m *Machine) token(ins metadata.Instruction) (any, error) {
	switch {
	case ins.Method != nil:
		md := ins.Method.Resolve(m.domain)
		if md == nil {
			return nil, &FatalError{Message: "unresolved method token " + ins.Method.String()}
		}
		return MethodHandle{Method: md}, nil
	case ins.Field != nil:
		fd := ins.Field.Resolve(m.domain)
		if fd == nil {
			return nil, &FatalError{Message: "unresolved field token " + ins.Field.String()}
		}
		return FieldHandle{Field: fd}, nil
	default:
		def := m.domain.ResolveType(ins.Type)
		if def == nil {
			return nil, &FatalError{Message: "unresolved type token " + typesystem.Key(ins.Type)}
		}
		return TypeHandle{Type: def}, nil
	}
}

func (m *Machine) instanceField(f *frame, ins metadata.Instruction) (outcome, bool) {
	fd := ins.Field.Resolve(m.domain)
	if fd == nil {
		return fatal("unresolved field %s", ins.Field), true
	}
	key := fieldKey(fd.DeclaringType().FullName(), fd.Name)

	var value any
	if ins.Op == metadata.OP_STFLD {
		value = f.pop()
	}
	target := f.pop()
	if r, ok := target.(*Ref); ok {
		target = r.Load()
	}
	obj, ok := target.(*Object)
	if !ok {
		return outcome{kind: threw, err: m.throw(config.NullReferenceName, "field "+fd.String()+" of null")}, true
	}
	switch ins.Op {
	case metadata.OP_LDFLD:
		f.push(copyValue(obj.Fields[key]))
	case metadata.OP_LDFLDA:
		f.push(&Ref{get: func() any { return obj.Fields[key] }, set: func(v any) { obj.Fields[key] = v }})
	case metadata.OP_STFLD:
		obj.Fields[key] = copyValue(value)
	}
	return outcome{}, false
}

func (m *Machine) staticField(f *frame, ins metadata.Instruction) (outcome, bool) {
	fd := ins.Field.Resolve(m.domain)
	if fd == nil {
		return fatal("unresolved field %s", ins.Field), true
	}
	if err := m.ensureInitialized(fd.DeclaringType()); err != nil {
		return outcome{kind: threw, err: err}, true
	}
	fields := m.staticsOf(fd.DeclaringType())
	switch ins.Op {
	case metadata.OP_LDSFLD:
		f.push(copyValue(fields[fd.Name]))
	case metadata.OP_LDSFLDA:
		name := fd.Name
		f.push(&Ref{get: func() any { return fields[name] }, set: func(v any) { fields[name] = v }})
	case metadata.OP_STSFLD:
		fields[fd.Name] = copyValue(f.pop())
	}
	return outcome{}, false
}

func (m *Machine) call(f *frame, ins metadata.Instruction) (outcome, bool) {
	md := ins.Method.Resolve(m.domain)
	if md == nil {
		return fatal("unresolved method %s", ins.Method), true
	}
	n := len(md.Params)
	if !md.Static && ins.Op != metadata.OP_NEWOBJ {
		n++
	}
	args := f.popN(n)

	var (
		result any
		err    error
	)
	switch ins.Op {
	case metadata.OP_NEWOBJ:
		result, err = m.construct(ins.Method.DeclaringType, md, args)
	case metadata.OP_CALLVIRT:
		result, err = m.invokeVirtual(md, args)
	default:
		result, err = m.Invoke(md, args)
	}
	if err != nil {
		return outcome{kind: threw, err: err}, true
	}
	if ins.Op == metadata.OP_NEWOBJ || md.Return != nil {
		f.push(result)
	}
	return outcome{}, false
}

func (m *Machine) cast(f *frame, ins metadata.Instruction) (outcome, bool) {
	v := f.pop()
	if _, erased := ins.Type.(typesystem.TVar); erased {
		f.push(copyValue(v))
		return outcome{}, false
	}
	if v == nil {
		if ins.Op == metadata.OP_UNBOX_ANY && m.domain.IsValueType(ins.Type) {
			return outcome{kind: threw, err: m.throw(config.NullReferenceName, "unboxing null to "+ins.Type.String())}, true
		}
		f.push(nil)
		return outcome{}, false
	}
	if m.instanceOf(v, ins.Type) {
		f.push(copyValue(v))
		return outcome{}, false
	}
	if ins.Op == metadata.OP_ISINST {
		f.push(nil)
		return outcome{}, false
	}
	return outcome{kind: threw, err: m.throw(config.InvalidCastName, fmt.Sprintf("cannot cast %T to %s", v, ins.Type))}, true
}

func (m *Machine) instanceOf(v any, t typesystem.Type) bool {
	if _, isArray := t.(typesystem.TArray); isArray {
		_, ok := v.(*Array)
		return ok
	}
	con, ok := typesystem.Definition(t)
	if !ok {
		return true
	}
	if con.Name == config.ObjectTypeName {
		return true
	}
	switch val := v.(type) {
	case *Object:
		target := m.domain.ResolveType(t)
		return target != nil && m.isAssignable(val.Def, target)
	case int64:
		return con.Name == config.Int32TypeName || con.Name == config.BooleanTypeName || con.Name == config.IntPtrTypeName
	case string:
		return con.Name == config.StringTypeName
	case *Delegate:
		target := m.domain.ResolveType(t)
		def := m.domain.ResolveType(val.Type)
		return target != nil && def != nil && m.isAssignable(def, target)
	}
	if is, ok := m.nativeIs[con.Name]; ok {
		return is(v)
	}
	return true
}
