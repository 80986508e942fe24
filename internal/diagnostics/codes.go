package diagnostics

import "fmt"

// Code identifies a catalog message.
type Code string

const (
	AW0001 Code = "AW0001" // internal error
	AW0002 Code = "AW0002" // error ceiling exceeded
	AW0003 Code = "AW0003" // aspect applied to an aspect type
	AW0004 Code = "AW0004" // aspect type not registered
	AW0005 Code = "AW0005" // no weaver for aspect
	AW0006 Code = "AW0006" // aspect not applicable to target
	AW0007 Code = "AW0007" // unresolved explicit target
	AW0008 Code = "AW0008" // compile-time validation rejected the aspect
	AW0009 Code = "AW0009" // aspect type visibility

	AW0010 Code = "AW0010" // composition interface not found
	AW0011 Code = "AW0011" // composition onto an interface
	AW0012 Code = "AW0012" // interface already implemented
	AW0013 Code = "AW0013" // interface already composed by base type
	AW0014 Code = "AW0014" // interface composed twice
	AW0015 Code = "AW0015" // composition onto a value type

	AW0020 Code = "AW0020" // method without body
	AW0021 Code = "AW0021" // advice on constructor
	AW0022 Code = "AW0022" // exception type not found
	AW0023 Code = "AW0023" // two redirecting aspects on one method

	AW0030 Code = "AW0030" // user-declared initializer hook unusable
	AW0031 Code = "AW0031" // base initializer hook not overridable

	AW0040 Code = "AW0040" // aspect serialization failed
	AW0041 Code = "AW0041" // configuration attribute malformed

	AW0050 Code = "AW0050" // field accessed by address
	AW0051 Code = "AW0051" // field-level aspect on a literal field

	AW0060 Code = "AW0060" // framework version mismatch
	AW0061 Code = "AW0061" // verification failure

	AW0070 Code = "AW0070" // weaving summary
	AW0071 Code = "AW0071" // aspect skipped by exclusion
	AW0072 Code = "AW0072" // provider cycle
)

var catalog = map[Code]string{
	AW0001: "internal error: %s",
	AW0002: "too many errors (%d), stopping",
	AW0003: "aspect %s cannot be applied to the aspect type %s",
	AW0004: "no implementation is registered for aspect type %s",
	AW0005: "no weaver can handle aspect %s",
	AW0006: "aspect %s cannot be applied here: %s",
	AW0007: "cannot resolve target %q of aspect %s",
	AW0008: "aspect %s rejected its target: %v",
	AW0009: "aspect type %s must be public",

	AW0010: "cannot resolve interface %q requested by %s",
	AW0011: "aspect %s cannot compose onto the interface %s",
	AW0012: "type already implements %s",
	AW0013: "interface %s is already composed by the base type %s",
	AW0014: "interface %s is composed twice, by %s and %s",
	AW0015: "aspect %s cannot compose onto the value type %s",

	AW0020: "aspect %s requires a method body",
	AW0021: "aspect %s cannot be applied to a constructor",
	AW0022: "cannot resolve exception type %q requested by %s",
	AW0023: "aspects %s and %s both relocate the method body",

	AW0030: "method %s must be virtual, non-final, non-static and visible to derived types to initialize aspects",
	AW0031: "cannot chain instance initialization: base method %s is not overridable",

	AW0040: "cannot serialize aspect %s: %v",
	AW0041: "malformed configuration attribute %s: %s",

	AW0050: "field is accessed by address in %s; that access is not intercepted",
	AW0051: "aspect %s cannot intercept the read-only field",

	AW0060: "module references %s %s, which does not satisfy %q",
	AW0061: "%s",

	AW0070: "%d aspects woven",
	AW0071: "aspect %s excluded",
	AW0072: "aspect provider %s provides itself again; expansion stopped",
}

// Format renders the catalog text of c.
func (c Code) Format(args ...any) string {
	format, ok := catalog[c]
	if !ok {
		return fmt.Sprint(args...)
	}
	return fmt.Sprintf(format, args...)
}
