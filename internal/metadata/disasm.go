package metadata

import (
	"fmt"
	"strings"

	"github.com/funvibe/aspectweave/internal/typesystem"
)

// Disassemble returns a human-readable representation of a module
func Disassemble(m *Module) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("== module %s %s ==\n", m.Name, m.Version))
	if m.MVID != "" {
		sb.WriteString(fmt.Sprintf(".mvid %s\n", m.MVID))
	}
	for _, ref := range m.References {
		sb.WriteString(fmt.Sprintf(".reference %s %s\n", ref.Name, ref.Version))
	}
	for _, a := range m.Attributes {
		sb.WriteString(".custom " + formatAttribute(a) + "\n")
	}
	for _, r := range m.Resources {
		sb.WriteString(fmt.Sprintf(".resource %s (%d bytes)\n", r.Name, len(r.Data)))
	}

	for _, t := range m.Types {
		disassembleType(&sb, t)
	}
	return sb.String()
}

// DisassembleMethod returns the listing of a single method
func DisassembleMethod(md *MethodDef) string {
	var sb strings.Builder
	disassembleMethod(&sb, md, "")
	return sb.String()
}

func disassembleType(sb *strings.Builder, t *TypeDef) {
	kind := "class"
	switch {
	case t.Interface:
		kind = "interface"
	case t.ValueType:
		kind = "struct"
	}
	var flags []string
	flags = append(flags, t.Visibility.String())
	if t.Sealed {
		flags = append(flags, "sealed")
	}
	if t.Abstract {
		flags = append(flags, "abstract")
	}
	sb.WriteString(fmt.Sprintf("\n.%s %s %s%s", kind, strings.Join(flags, " "), t.FullName(), formatGenericParams(t.GenericParams)))
	if t.BaseType != nil {
		sb.WriteString(" extends " + t.BaseType.String())
	}
	if len(t.Interfaces) > 0 {
		names := make([]string, len(t.Interfaces))
		for i, iface := range t.Interfaces {
			names[i] = iface.String()
		}
		sb.WriteString(" implements " + strings.Join(names, ", "))
	}
	sb.WriteString("\n")
	for _, a := range t.Attributes {
		sb.WriteString("  .custom " + formatAttribute(a) + "\n")
	}
	for _, f := range t.Fields {
		static := ""
		if f.Static {
			static = "static "
		}
		sb.WriteString(fmt.Sprintf("  .field %s %s%s %s\n", f.Visibility, static, f.Type, f.Name))
	}
	for _, p := range t.Properties {
		sb.WriteString(fmt.Sprintf("  .property %s %s get=%s set=%s\n", p.Type, p.Name, p.Getter, p.Setter))
	}
	for _, e := range t.Events {
		sb.WriteString(fmt.Sprintf("  .event %s %s add=%s remove=%s\n", e.Type, e.Name, e.Adder, e.Remover))
	}
	for _, md := range t.Methods {
		disassembleMethod(sb, md, "  ")
	}
}

func disassembleMethod(sb *strings.Builder, md *MethodDef, indent string) {
	var flags []string
	flags = append(flags, md.Visibility.String())
	for _, f := range []struct {
		on   bool
		name string
	}{
		{md.Static, "static"}, {md.Virtual, "virtual"}, {md.Final, "final"},
		{md.Abstract, "abstract"}, {md.NewSlot, "newslot"}, {md.RuntimeManaged, "runtime"},
	} {
		if f.on {
			flags = append(flags, f.name)
		}
	}
	params := make([]string, len(md.Params))
	for i, p := range md.Params {
		prefix := ""
		if p.Out {
			prefix = "out "
		}
		params[i] = fmt.Sprintf("%s%s %s", prefix, p.Type, p.Name)
	}
	sb.WriteString(fmt.Sprintf("%s.method %s %s %s%s(%s)\n", indent, strings.Join(flags, " "),
		typesystem.Key(md.Return), md.Name, formatGenericParams(md.GenericParams), strings.Join(params, ", ")))
	for _, o := range md.Overrides {
		sb.WriteString(fmt.Sprintf("%s  .override %s\n", indent, o))
	}
	for _, a := range md.Attributes {
		sb.WriteString(fmt.Sprintf("%s  .custom %s\n", indent, formatAttribute(a)))
	}
	if md.Native != nil {
		sb.WriteString(indent + "  .native\n")
	}
	if md.Body == nil {
		return
	}
	for i, l := range md.Body.Locals {
		sb.WriteString(fmt.Sprintf("%s  .local %d %s %s\n", indent, i, l.Type, l.Name))
	}
	disassembleList(sb, md.Body.Instructions, indent+"  ")
}

func disassembleList(sb *strings.Builder, list []Instruction, indent string) {
	for _, ins := range list {
		if ins.Op == OP_LABEL {
			sb.WriteString(fmt.Sprintf("%s%s:\n", indent, ins.Label))
			continue
		}
		if ins.Op == OP_TRY {
			sb.WriteString(indent + "try {\n")
			disassembleList(sb, ins.Try.Body, indent+"  ")
			for _, c := range ins.Try.Catches {
				catchType := "*"
				if c.Type != nil {
					catchType = c.Type.String()
				}
				sb.WriteString(fmt.Sprintf("%s} catch %s {\n", indent, catchType))
				disassembleList(sb, c.Body, indent+"  ")
			}
			if ins.Try.Finally != nil {
				sb.WriteString(indent + "} finally {\n")
				disassembleList(sb, ins.Try.Finally, indent+"  ")
			}
			sb.WriteString(indent + "}\n")
			continue
		}
		sb.WriteString(indent + FormatInstruction(ins) + "\n")
	}
}

// FormatInstruction renders one instruction without nested regions
func FormatInstruction(ins Instruction) string {
	name := ins.Op.String()
	if ins.Tail {
		name = "tail." + name
	}
	switch ins.Op {
	case OP_LDARG, OP_LDARGA, OP_STARG, OP_LDLOC, OP_LDLOCA, OP_STLOC, OP_LDC:
		return fmt.Sprintf("%-12s %d", name, ins.Int)
	case OP_LDSTR:
		return fmt.Sprintf("%-12s %q", name, ins.Str)
	case OP_BR, OP_BRTRUE, OP_BRFALSE, OP_LEAVE:
		return fmt.Sprintf("%-12s %s", name, ins.Label)
	case OP_SWITCH:
		return fmt.Sprintf("%-12s (%s)", name, strings.Join(ins.Targets, ", "))
	case OP_CALL, OP_CALLVIRT, OP_NEWOBJ, OP_LDFTN:
		return fmt.Sprintf("%-12s %s", name, ins.Method)
	case OP_LDFLD, OP_LDFLDA, OP_STFLD, OP_LDSFLD, OP_STSFLD, OP_LDSFLDA:
		return fmt.Sprintf("%-12s %s", name, ins.Field)
	case OP_LDTOKEN:
		switch {
		case ins.Method != nil:
			return fmt.Sprintf("%-12s method %s", name, ins.Method)
		case ins.Field != nil:
			return fmt.Sprintf("%-12s field %s", name, ins.Field)
		default:
			return fmt.Sprintf("%-12s type %s", name, typesystem.Key(ins.Type))
		}
	case OP_BOX, OP_UNBOX_ANY, OP_CASTCLASS, OP_ISINST, OP_LDOBJ, OP_STOBJ, OP_INITOBJ, OP_NEWARR:
		return fmt.Sprintf("%-12s %s", name, typesystem.Key(ins.Type))
	}
	return name
}

func formatGenericParams(params []*GenericParam) string {
	if len(params) == 0 {
		return ""
	}
	parts := make([]string, len(params))
	for i, g := range params {
		var sb strings.Builder
		if g.ReferenceType {
			sb.WriteString("class ")
		}
		if g.ValueType {
			sb.WriteString("struct ")
		}
		if g.DefaultCtor {
			sb.WriteString(".ctor ")
		}
		if len(g.Constraints) > 0 {
			cs := make([]string, len(g.Constraints))
			for j, c := range g.Constraints {
				cs[j] = c.String()
			}
			sb.WriteString("(" + strings.Join(cs, ", ") + ") ")
		}
		sb.WriteString(g.Name)
		parts[i] = sb.String()
	}
	return "<" + strings.Join(parts, ", ") + ">"
}

func formatAttribute(a *Attribute) string {
	var args []string
	for _, v := range a.Args {
		args = append(args, formatValue(v))
	}
	for _, n := range a.Named {
		args = append(args, n.Name+"="+formatValue(n.Value))
	}
	return fmt.Sprintf("%s(%s)", a.Type, strings.Join(args, ", "))
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	case typesystem.Type:
		return "typeof(" + val.String() + ")"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%v", v)
}
