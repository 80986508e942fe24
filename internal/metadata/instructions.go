package metadata

import (
	"fmt"

	"github.com/funvibe/aspectweave/internal/typesystem"
)

// Opcode represents a single instruction.
type Opcode byte

const (
	OP_NOP   Opcode = iota
	OP_LABEL        // Marks Label as a branch target within the enclosing list

	// Arguments and locals
	OP_LDARG  // Push argument Int
	OP_LDARGA // Push address of argument Int
	OP_STARG  // Pop into argument Int
	OP_LDLOC  // Push local Int
	OP_LDLOCA // Push address of local Int
	OP_STLOC  // Pop into local Int

	// Constants
	OP_LDNULL  // Push null
	OP_LDC     // Push integer Int
	OP_LDSTR   // Push string Str
	OP_LDTOKEN // Push a runtime handle for Method, Field or Type

	// Fields
	OP_LDFLD   // Pop object, push Field
	OP_LDFLDA  // Pop object, push address of Field
	OP_STFLD   // Pop value and object, store Field
	OP_LDSFLD  // Push static Field
	OP_STSFLD  // Pop into static Field
	OP_LDSFLDA // Push address of static Field

	// Calls
	OP_CALL     // Call Method non-virtually
	OP_CALLVIRT // Call Method through virtual dispatch
	OP_NEWOBJ   // Allocate and run constructor Method
	OP_LDFTN    // Push a function pointer to Method
	OP_RET      // Return from method

	// Control flow
	OP_BR      // Branch to Label
	OP_BRTRUE  // Pop, branch to Label if true, non-zero or non-null
	OP_BRFALSE // Pop, branch to Label if false, zero or null
	OP_SWITCH  // Pop index, branch to Targets[index], fall through when out of range
	OP_LEAVE   // Exit protected regions up to Label, running finally handlers

	// Objects
	OP_BOX       // Box a value of Type
	OP_UNBOX_ANY // Unbox to Type, or cast when Type is a reference type
	OP_CASTCLASS // Cast to Type or throw
	OP_ISINST    // Cast to Type or push null
	OP_LDOBJ     // Pop address, push the Type value it holds
	OP_STOBJ     // Pop value and address, store
	OP_INITOBJ   // Pop address, store the default value of Type

	// Arrays
	OP_NEWARR // Pop length, push new array of Type
	OP_LDELEM // Pop index and array, push element
	OP_STELEM // Pop value, index and array, store element
	OP_LDLEN  // Pop array, push length

	// Stack
	OP_DUP
	OP_POP

	// Exceptions
	OP_THROW   // Pop and throw exception
	OP_RETHROW // Rethrow the exception of the enclosing catch handler
	OP_TRY     // Run a protected region described by Try

	// Arithmetic and comparison on integers
	OP_CEQ
	OP_CLT
	OP_ADD
	OP_SUB
	OP_MUL
)

// OpcodeNames maps opcodes to their assembler names
var OpcodeNames = map[Opcode]string{
	OP_NOP:       "nop",
	OP_LABEL:     "label",
	OP_LDARG:     "ldarg",
	OP_LDARGA:    "ldarga",
	OP_STARG:     "starg",
	OP_LDLOC:     "ldloc",
	OP_LDLOCA:    "ldloca",
	OP_STLOC:     "stloc",
	OP_LDNULL:    "ldnull",
	OP_LDC:       "ldc",
	OP_LDSTR:     "ldstr",
	OP_LDTOKEN:   "ldtoken",
	OP_LDFLD:     "ldfld",
	OP_LDFLDA:    "ldflda",
	OP_STFLD:     "stfld",
	OP_LDSFLD:    "ldsfld",
	OP_STSFLD:    "stsfld",
	OP_LDSFLDA:   "ldsflda",
	OP_CALL:      "call",
	OP_CALLVIRT:  "callvirt",
	OP_NEWOBJ:    "newobj",
	OP_LDFTN:     "ldftn",
	OP_RET:       "ret",
	OP_BR:        "br",
	OP_BRTRUE:    "brtrue",
	OP_BRFALSE:   "brfalse",
	OP_SWITCH:    "switch",
	OP_LEAVE:     "leave",
	OP_BOX:       "box",
	OP_UNBOX_ANY: "unbox.any",
	OP_CASTCLASS: "castclass",
	OP_ISINST:    "isinst",
	OP_LDOBJ:     "ldobj",
	OP_STOBJ:     "stobj",
	OP_INITOBJ:   "initobj",
	OP_NEWARR:    "newarr",
	OP_LDELEM:    "ldelem",
	OP_STELEM:    "stelem",
	OP_LDLEN:     "ldlen",
	OP_DUP:       "dup",
	OP_POP:       "pop",
	OP_THROW:     "throw",
	OP_RETHROW:   "rethrow",
	OP_TRY:       "try",
	OP_CEQ:       "ceq",
	OP_CLT:       "clt",
	OP_ADD:       "add",
	OP_SUB:       "sub",
	OP_MUL:       "mul",
}

func (op Opcode) String() string {
	if name, ok := OpcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", byte(op))
}

// Instruction is one element of an instruction stream. Only the operand
// fields relevant to Op are set.
type Instruction struct {
	Op      Opcode
	Int     int64
	Str     string
	Label   string
	Targets []string
	Type    typesystem.Type
	Method  *MethodRef
	Field   *FieldRef
	Try     *TryBlock

	// Tail marks a call whose result is returned unchanged.
	Tail bool
}

// TryBlock is a structured protected region. Labels are local to the list
// that marks them; leaving to a label of an enclosing list exits the region.
type TryBlock struct {
	Body    []Instruction
	Catches []CatchClause
	Finally []Instruction
}

// CatchClause handles exceptions assignable to Type (nil catches everything).
// The handler body starts with the exception on the stack.
type CatchClause struct {
	Type typesystem.Type
	Body []Instruction
}

// Walk visits every instruction list nested in body, outermost first. fn
// receives a pointer to the list so it can be rewritten in place.
func Walk(body *[]Instruction, fn func(list *[]Instruction)) {
	fn(body)
	for i := range *body {
		if try := (*body)[i].Try; try != nil {
			Walk(&try.Body, fn)
			for c := range try.Catches {
				Walk(&try.Catches[c].Body, fn)
			}
			if try.Finally != nil {
				Walk(&try.Finally, fn)
			}
		}
	}
}

// Labels returns every label marked anywhere in the instruction tree.
func Labels(body []Instruction) map[string]bool {
	out := make(map[string]bool)
	Walk(&body, func(list *[]Instruction) {
		for _, ins := range *list {
			if ins.Op == OP_LABEL {
				out[ins.Label] = true
			}
		}
	})
	return out
}

// CloneInstructions deep-copies an instruction tree.
func CloneInstructions(in []Instruction) []Instruction {
	if in == nil {
		return nil
	}
	out := make([]Instruction, len(in))
	copy(out, in)
	for i := range out {
		if out[i].Targets != nil {
			out[i].Targets = append([]string(nil), out[i].Targets...)
		}
		if t := out[i].Try; t != nil {
			c := &TryBlock{Body: CloneInstructions(t.Body), Finally: CloneInstructions(t.Finally)}
			for _, cc := range t.Catches {
				c.Catches = append(c.Catches, CatchClause{Type: cc.Type, Body: CloneInstructions(cc.Body)})
			}
			out[i].Try = c
		}
	}
	return out
}
