// Package emit builds instruction sequences for a method body. A Writer is
// always opened through one of the scoped entry points (Into, Append,
// Fragment); the sequence it produced is committed only when the callback
// succeeds, and locals it declared are withdrawn otherwise.
package emit

import (
	"fmt"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
)

// Writer accumulates instructions for one instruction list of a method.
type Writer struct {
	method *metadata.MethodDef
	body   *metadata.MethodBody
	out    []metadata.Instruction
}

// Into replaces the body of md with the instructions written by fn.
func Into(md *metadata.MethodDef, fn func(w *Writer) error) error {
	list, err := Fragment(md, fn)
	if err != nil {
		return err
	}
	md.Body.Instructions = list
	return nil
}

// Append adds the instructions written by fn to the end of the body of md.
func Append(md *metadata.MethodDef, fn func(w *Writer) error) error {
	list, err := Fragment(md, fn)
	if err != nil {
		return err
	}
	md.Body.Instructions = append(md.Body.Instructions, list...)
	return nil
}

// Fragment returns the instructions written by fn without placing them, so
// callers can splice them anywhere in the body of md. Locals and labels are
// allocated from md.
func Fragment(md *metadata.MethodDef, fn func(w *Writer) error) (list []metadata.Instruction, err error) {
	if md.Body == nil {
		md.Body = &metadata.MethodBody{}
	}
	localCount := len(md.Body.Locals)
	committed := false
	defer func() {
		if !committed {
			md.Body.Locals = md.Body.Locals[:localCount]
		}
	}()

	w := &Writer{method: md, body: md.Body}
	if err := fn(w); err != nil {
		return nil, err
	}
	committed = true
	return w.out, nil
}

// Method returns the method being written.
func (w *Writer) Method() *metadata.MethodDef { return w.method }

// Instructions returns what has been written so far.
func (w *Writer) Instructions() []metadata.Instruction { return w.out }

// nested opens a writer for a sub-list sharing locals and labels.
func (w *Writer) nested(fn func(w *Writer) error) ([]metadata.Instruction, error) {
	sub := &Writer{method: w.method, body: w.body}
	if err := fn(sub); err != nil {
		return nil, err
	}
	if sub.out == nil {
		return []metadata.Instruction{}, nil
	}
	return sub.out, nil
}

// Emit appends raw instructions.
func (w *Writer) Emit(list ...metadata.Instruction) {
	w.out = append(w.out, list...)
}

// Op appends an operand-less instruction.
func (w *Writer) Op(op metadata.Opcode) {
	w.Emit(metadata.Instruction{Op: op})
}

// DefineLocal declares a local variable and returns its index.
func (w *Writer) DefineLocal(name string, t typesystem.Type) int {
	return w.body.AddLocal(name, t)
}

// DefineLabel allocates a label unique in the method.
func (w *Writer) DefineLabel() string { return w.body.NewLabel() }

// MarkLabel places a label at the current position.
func (w *Writer) MarkLabel(label string) {
	w.Emit(metadata.Instruction{Op: metadata.OP_LABEL, Label: label})
}

func (w *Writer) Ldarg(i int) { w.Emit(metadata.Instruction{Op: metadata.OP_LDARG, Int: int64(i)}) }
func (w *Writer) Ldarga(i int) { w.Emit(metadata.Instruction{Op: metadata.OP_LDARGA, Int: int64(i)}) }
func (w *Writer) Starg(i int) { w.Emit(metadata.Instruction{Op: metadata.OP_STARG, Int: int64(i)}) }
func (w *Writer) Ldloc(i int) { w.Emit(metadata.Instruction{Op: metadata.OP_LDLOC, Int: int64(i)}) }
func (w *Writer) Ldloca(i int) { w.Emit(metadata.Instruction{Op: metadata.OP_LDLOCA, Int: int64(i)}) }
func (w *Writer) Stloc(i int) { w.Emit(metadata.Instruction{Op: metadata.OP_STLOC, Int: int64(i)}) }
func (w *Writer) Ldc(n int64) { w.Emit(metadata.Instruction{Op: metadata.OP_LDC, Int: n}) }
func (w *Writer) Ldstr(s string) { w.Emit(metadata.Instruction{Op: metadata.OP_LDSTR, Str: s}) }

// Ldthis loads the receiver of an instance method.
func (w *Writer) Ldthis() { w.Ldarg(0) }

// LdParam loads the i-th declared parameter, skipping the receiver slot.
func (w *Writer) LdParam(i int) {
	if w.method.Static {
		w.Ldarg(i)
		return
	}
	w.Ldarg(i + 1)
}

// ParamSlot returns the argument slot of the i-th declared parameter.
func (w *Writer) ParamSlot(i int) int {
	if w.method.Static {
		return i
	}
	return i + 1
}

func (w *Writer) Call(ref *metadata.MethodRef) {
	w.Emit(metadata.Instruction{Op: metadata.OP_CALL, Method: ref})
}

func (w *Writer) CallVirt(ref *metadata.MethodRef) {
	w.Emit(metadata.Instruction{Op: metadata.OP_CALLVIRT, Method: ref})
}

// TailCallVirt emits a virtual call whose result is returned as is.
func (w *Writer) TailCallVirt(ref *metadata.MethodRef) {
	w.Emit(metadata.Instruction{Op: metadata.OP_CALLVIRT, Method: ref, Tail: true})
}

func (w *Writer) NewObj(ctor *metadata.MethodRef) {
	w.Emit(metadata.Instruction{Op: metadata.OP_NEWOBJ, Method: ctor})
}

func (w *Writer) Ldftn(ref *metadata.MethodRef) {
	w.Emit(metadata.Instruction{Op: metadata.OP_LDFTN, Method: ref})
}

func (w *Writer) Ldfld(f *metadata.FieldRef) { w.Emit(metadata.Instruction{Op: metadata.OP_LDFLD, Field: f}) }
func (w *Writer) Stfld(f *metadata.FieldRef) { w.Emit(metadata.Instruction{Op: metadata.OP_STFLD, Field: f}) }
func (w *Writer) Ldsfld(f *metadata.FieldRef) { w.Emit(metadata.Instruction{Op: metadata.OP_LDSFLD, Field: f}) }
func (w *Writer) Stsfld(f *metadata.FieldRef) { w.Emit(metadata.Instruction{Op: metadata.OP_STSFLD, Field: f}) }

// LdtokenMethod pushes the runtime handle of a method.
func (w *Writer) LdtokenMethod(ref *metadata.MethodRef) {
	w.Emit(metadata.Instruction{Op: metadata.OP_LDTOKEN, Method: ref})
}

// LdtokenField pushes the runtime handle of a field.
func (w *Writer) LdtokenField(ref *metadata.FieldRef) {
	w.Emit(metadata.Instruction{Op: metadata.OP_LDTOKEN, Field: ref})
}

// LdtokenType pushes the runtime handle of a type.
func (w *Writer) LdtokenType(t typesystem.Type) {
	w.Emit(metadata.Instruction{Op: metadata.OP_LDTOKEN, Type: t})
}

// TypeOp emits an instruction whose operand is a type.
func (w *Writer) TypeOp(op metadata.Opcode, t typesystem.Type) {
	w.Emit(metadata.Instruction{Op: op, Type: t})
}

func (w *Writer) Br(label string) { w.Emit(metadata.Instruction{Op: metadata.OP_BR, Label: label}) }
func (w *Writer) Brtrue(label string) { w.Emit(metadata.Instruction{Op: metadata.OP_BRTRUE, Label: label}) }
func (w *Writer) Brfalse(label string) { w.Emit(metadata.Instruction{Op: metadata.OP_BRFALSE, Label: label}) }
func (w *Writer) Leave(label string) { w.Emit(metadata.Instruction{Op: metadata.OP_LEAVE, Label: label}) }

// Switch emits a jump table.
func (w *Writer) Switch(targets ...string) {
	w.Emit(metadata.Instruction{Op: metadata.OP_SWITCH, Targets: targets})
}

// Handler is one handler of a protected region. Finally handlers ignore Type.
type Handler struct {
	Finally bool
	Type    typesystem.Type
	Body    func(w *Writer) error
}

// Catch builds a typed catch handler; a nil type catches everything.
func Catch(t typesystem.Type, body func(w *Writer) error) Handler {
	return Handler{Type: t, Body: body}
}

// Finally builds a finally handler.
func Finally(body func(w *Writer) error) Handler {
	return Handler{Finally: true, Body: body}
}

// Try emits a protected region.
func (w *Writer) Try(body func(w *Writer) error, handlers ...Handler) error {
	if len(handlers) == 0 {
		return fmt.Errorf("emit: protected region in %s without handlers", w.method)
	}
	block := &metadata.TryBlock{}
	var err error
	if block.Body, err = w.nested(body); err != nil {
		return err
	}
	for _, h := range handlers {
		list, err := w.nested(h.Body)
		if err != nil {
			return err
		}
		if h.Finally {
			if block.Finally != nil {
				return fmt.Errorf("emit: protected region in %s has two finally handlers", w.method)
			}
			block.Finally = list
			continue
		}
		block.Catches = append(block.Catches, metadata.CatchClause{Type: h.Type, Body: list})
	}
	w.Emit(metadata.Instruction{Op: metadata.OP_TRY, Try: block})
	return nil
}

// Box boxes a value of type t when t is a value type or a generic parameter.
// Reference types are left as they are.
func (w *Writer) Box(d *metadata.Domain, t typesystem.Type) {
	if NeedsBox(d, t) {
		w.TypeOp(metadata.OP_BOX, t)
	}
}

// Unbox converts an object reference to t: unbox for value types and
// generic parameters, a checked cast otherwise.
func (w *Writer) Unbox(d *metadata.Domain, t typesystem.Type) {
	if NeedsBox(d, t) {
		w.TypeOp(metadata.OP_UNBOX_ANY, t)
		return
	}
	if con, ok := typesystem.Definition(t); ok && con.Name == config.ObjectTypeName {
		return
	}
	w.TypeOp(metadata.OP_CASTCLASS, t)
}

// NeedsBox reports whether t must be boxed to travel as an object reference.
func NeedsBox(d *metadata.Domain, t typesystem.Type) bool {
	if _, isVar := t.(typesystem.TVar); isVar {
		return true
	}
	return d.IsValueType(t)
}
