package interp

import (
	"fmt"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
)

// Runtime values are int64 (integers and booleans), string, nil, *Object,
// *Array, *Ref, *Delegate, *FuncPtr, the handle types below, and arbitrary Go
// values produced by native methods.

// Object is an instance of a type defined in metadata. Value-type objects
// are copied on every load.
type Object struct {
	Type   typesystem.Type
	Def    *metadata.TypeDef
	Fields map[string]any

	// chain lists the type names from Def up to the root.
	chain []string
}

func (o *Object) clone() *Object {
	c := &Object{Type: o.Type, Def: o.Def, Fields: make(map[string]any, len(o.Fields)), chain: o.chain}
	for k, v := range o.Fields {
		c.Fields[k] = copyValue(v)
	}
	return c
}

// Field returns a field value by declaring type and name.
func (o *Object) Field(declaringType, name string) any {
	return o.Fields[fieldKey(declaringType, name)]
}

// FieldByName returns the first field with the given name, searching from
// the most derived type.
func (o *Object) FieldByName(name string) (any, bool) {
	for _, typeName := range o.chain {
		if v, ok := o.Fields[fieldKey(typeName, name)]; ok {
			return v, true
		}
	}
	return nil, false
}

// ExceptionType implements aspects.Exception.
func (o *Object) ExceptionType() string { return o.Def.FullName() }

// ExceptionMessage implements aspects.Exception.
func (o *Object) ExceptionMessage() string {
	msg, _ := o.Fields[fieldKey(config.ExceptionTypeName, "Message")].(string)
	return msg
}

func (o *Object) String() string {
	return fmt.Sprintf("%s@%p", o.Def.FullName(), o)
}

func fieldKey(declaringType, name string) string { return declaringType + "::" + name }

// Array is a single-dimension array.
type Array struct {
	Elem   typesystem.Type
	Values []any
}

// NewArray wraps values as an array of elem.
func NewArray(elem typesystem.Type, values []any) *Array {
	return &Array{Elem: elem, Values: values}
}

// Ref is a managed reference to a storage location.
type Ref struct {
	get func() any
	set func(any)
}

// NewRef creates a reference to a fresh cell holding v.
func NewRef(v any) *Ref {
	cell := v
	return &Ref{get: func() any { return cell }, set: func(nv any) { cell = nv }}
}

// Load reads the referenced location.
func (r *Ref) Load() any { return r.get() }

// Store writes the referenced location.
func (r *Ref) Store(v any) { r.set(v) }

// FuncPtr is the result of ldftn.
type FuncPtr struct {
	Method *metadata.MethodDef
}

// MethodHandle is the result of ldtoken on a method.
type MethodHandle struct {
	Method *metadata.MethodDef
}

// FieldHandle is the result of ldtoken on a field.
type FieldHandle struct {
	Field *metadata.FieldDef
}

// TypeHandle is the result of ldtoken on a type.
type TypeHandle struct {
	Type *metadata.TypeDef
}

// Delegate binds a method to an optional receiver. It implements
// aspects.Invoker.
type Delegate struct {
	Type    typesystem.Type
	Target  any
	Method  *metadata.MethodDef
	machine *Machine
}

// Invoke calls the bound method with boxed arguments. By-ref parameters are
// passed through temporary cells and written back into args.
func (d *Delegate) Invoke(args []any) (any, error) {
	md := d.Method
	if len(args) != len(md.Params) {
		return nil, fmt.Errorf("delegate to %s called with %d arguments, want %d", md, len(args), len(md.Params))
	}
	callArgs := make([]any, 0, len(args)+1)
	if !md.Static {
		callArgs = append(callArgs, d.Target)
	}
	cells := make(map[int]*Ref)
	for i, p := range md.Params {
		if typesystem.IsByRef(p.Type) {
			cell := NewRef(args[i])
			cells[i] = cell
			callArgs = append(callArgs, cell)
			continue
		}
		callArgs = append(callArgs, args[i])
	}
	rv, err := d.machine.Invoke(md, callArgs)
	for i, cell := range cells {
		args[i] = cell.Load()
	}
	return rv, err
}

// Thrown carries an exception object through Go error returns. Catch
// handlers in woven code only ever see Thrown errors.
type Thrown struct {
	Exception *Object
}

func (t *Thrown) Error() string {
	return t.Exception.ExceptionType() + ": " + t.Exception.ExceptionMessage()
}

// FatalError is an unrecoverable runtime condition. Woven code cannot catch it.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string { return "fatal: " + e.Message }

func copyValue(v any) any {
	if o, ok := v.(*Object); ok && o.Def != nil && o.Def.ValueType {
		return o.clone()
	}
	return v
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case int64:
		return val != 0
	case bool:
		return val
	}
	return true
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case int64:
		bv, ok := b.(int64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case nil:
		return b == nil
	}
	defer func() { _ = recover() }()
	return a == b
}
