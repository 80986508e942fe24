package weaver

import (
	"go.uber.org/zap"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/metadata"
)

// FieldAccessWeaver routes every read and write of the target field in the
// module through accessors that call OnGetValue and OnSetValue.
type FieldAccessWeaver struct {
	core  *Base
	level FieldLevel

	getter    *metadata.MethodDef
	setter    *metadata.MethodDef
	rewritten int
}

// NewFieldAccessWeaver creates the weaver of an OnFieldAccess aspect.
func NewFieldAccessWeaver(s *Session, spec *Spec) *FieldAccessWeaver {
	f := &FieldAccessWeaver{}
	f.core = NewBase(s, f, spec, KindFieldAccess)
	f.level = FieldLevel{core: f.core}
	return f
}

func (f *FieldAccessWeaver) Core() *Base { return f.core }

func (f *FieldAccessWeaver) OnTargetAssigned(bool) {}

// Accessors returns the generated getter and setter once implemented.
func (f *FieldAccessWeaver) Accessors() (get, set *metadata.MethodDef) { return f.getter, f.setter }

func (f *FieldAccessWeaver) ValidateSelf() bool {
	fd := f.level.Field()
	if fd.ReadOnly {
		f.core.Session().Sink.Write(diagnostics.Error, diagnostics.AW0051, fd.String(), f.core.Spec().TypeName)
		return false
	}
	return true
}

func (f *FieldAccessWeaver) Implement() error {
	s, fd := f.core.Session(), f.level.Field()
	owner := fd.DeclaringType()

	f.getter = owner.AddMethod(&metadata.MethodDef{
		Name:       owner.UniqueMemberName(config.FieldGetterPrefix + fd.Name),
		Return:     fd.Type,
		Visibility: metadata.VisAssembly,
		Static:     fd.Static,
	})
	if err := emit.Into(f.getter, f.emitGetter); err != nil {
		return err
	}
	f.setter = owner.AddMethod(&metadata.MethodDef{
		Name:       owner.UniqueMemberName(config.FieldSetterPrefix + fd.Name),
		Params:     []*metadata.Param{{Name: "value", Type: fd.Type}},
		Visibility: metadata.VisAssembly,
		Static:     fd.Static,
	})
	if err := emit.Into(f.setter, f.emitSetter); err != nil {
		return err
	}

	for _, t := range s.Module.Types {
		for _, md := range t.Methods {
			if md == f.getter || md == f.setter || md.Body == nil {
				continue
			}
			f.rewrite(md)
		}
	}
	s.Logger.Debug("field access rewritten",
		zap.String("field", fd.String()), zap.Int("sites", f.rewritten))
	return nil
}

func (f *FieldAccessWeaver) loadField(w *emit.Writer) {
	fd := f.level.Field()
	if fd.Static {
		w.Ldsfld(fd.Ref(nil))
		return
	}
	w.Ldthis()
	w.Ldfld(fd.Ref(nil))
}

func (f *FieldAccessWeaver) emitGetter(w *emit.Writer) error {
	s, fd := f.core.Session(), f.level.Field()
	ea := s.EventArgs.BuildFieldAccessArgs(w, fd, func() {
		f.loadField(w)
		w.Box(s.Domain, fd.Type)
	})
	f.core.LoadAspect(w)
	w.Ldloc(ea)
	w.CallVirt(s.frameworkMethod(framework.OnFieldAccess, "OnGetValue", 1))
	w.Ldloc(ea)
	w.CallVirt(s.frameworkMethod(framework.FieldAccessArgs, "get_ExposedFieldValue", 0))
	w.Unbox(s.Domain, fd.Type)
	w.Op(metadata.OP_RET)
	return nil
}

func (f *FieldAccessWeaver) emitSetter(w *emit.Writer) error {
	s, fd := f.core.Session(), f.level.Field()
	ea := s.EventArgs.BuildFieldAccessArgs(w, fd, func() {
		w.LdParam(0)
		w.Box(s.Domain, fd.Type)
	})
	f.core.LoadAspect(w)
	w.Ldloc(ea)
	w.CallVirt(s.frameworkMethod(framework.OnFieldAccess, "OnSetValue", 1))
	if !fd.Static {
		w.Ldthis()
	}
	w.Ldloc(ea)
	w.CallVirt(s.frameworkMethod(framework.FieldAccessArgs, "get_StoredFieldValue", 0))
	w.Unbox(s.Domain, fd.Type)
	if fd.Static {
		w.Stsfld(fd.Ref(nil))
	} else {
		w.Stfld(fd.Ref(nil))
	}
	w.Op(metadata.OP_RET)
	return nil
}

// rewrite replaces the field instructions of md with accessor calls. The
// accessor is referenced through the same instantiation as the field.
func (f *FieldAccessWeaver) rewrite(md *metadata.MethodDef) {
	s, fd := f.core.Session(), f.level.Field()
	warned := false
	metadata.Walk(&md.Body.Instructions, func(list *[]metadata.Instruction) {
		for i := range *list {
			ins := &(*list)[i]
			if ins.Field == nil || ins.Field.Name != fd.Name || ins.Field.Resolve(s.Domain) != fd {
				continue
			}
			switch ins.Op {
			case metadata.OP_LDFLD, metadata.OP_LDSFLD:
				*ins = metadata.Instruction{Op: metadata.OP_CALL, Method: f.getter.Ref(ins.Field.DeclaringType)}
				f.rewritten++
			case metadata.OP_STFLD, metadata.OP_STSFLD:
				*ins = metadata.Instruction{Op: metadata.OP_CALL, Method: f.setter.Ref(ins.Field.DeclaringType)}
				f.rewritten++
			case metadata.OP_LDFLDA, metadata.OP_LDSFLDA:
				if !warned {
					s.Sink.Write(diagnostics.Warning, diagnostics.AW0050, fd.String(), md.String())
					warned = true
				}
			}
		}
	})
}
