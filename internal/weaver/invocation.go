package weaver

import (
	"go.uber.org/zap"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
)

// InvocationWeaver replaces the body of the target method with a call to
// OnInvocation. The original body moves into a private method reachable
// from the aspect through a delegate.
type InvocationWeaver struct {
	core  *Base
	level MethodLevel

	hasByRef  bool
	relocated *metadata.MethodDef
}

// NewInvocationWeaver creates the weaver of an OnMethodInvocation aspect.
func NewInvocationWeaver(s *Session, spec *Spec) *InvocationWeaver {
	v := &InvocationWeaver{}
	v.core = NewBase(s, v, spec, KindInvocation)
	v.level = MethodLevel{core: v.core}
	return v
}

func (v *InvocationWeaver) Core() *Base { return v.core }

// Relocated returns the method holding the original body, once relocated.
func (v *InvocationWeaver) Relocated() *metadata.MethodDef { return v.relocated }

func (v *InvocationWeaver) OnTargetAssigned(bool) {
	v.hasByRef = v.level.Method().HasByRefParams()
}

func (v *InvocationWeaver) ValidateSelf() bool {
	return v.level.requireBody()
}

func (v *InvocationWeaver) ValidateInteractions(siblings []Weaver) bool {
	for _, sib := range siblings {
		if sib == Weaver(v) {
			break
		}
		if _, ok := sib.(Redirector); ok && sib.Core().State() != Rejected {
			md := v.level.Method()
			v.core.Session().Sink.Write(diagnostics.Error, diagnostics.AW0023, md.String(), sib.Core().String(), v.core.String())
			return false
		}
	}
	return true
}

// Relocate moves the body of the target into a new private method with the
// same signature and generic parameters.
func (v *InvocationWeaver) Relocate() (Target, error) {
	if v.relocated != nil {
		violate("weaver "+v.core.String(), "Relocate", "body already relocated")
	}
	md := v.level.Method()
	owner := md.DeclaringType()
	params := make([]*metadata.Param, len(md.Params))
	for i, p := range md.Params {
		params[i] = &metadata.Param{Name: p.Name, Type: p.Type, Out: p.Out}
	}
	generics := make([]*metadata.GenericParam, len(md.GenericParams))
	for i, gp := range md.GenericParams {
		cp := *gp
		cp.Constraints = append([]typesystem.Type(nil), gp.Constraints...)
		generics[i] = &cp
	}
	v.relocated = owner.AddMethod(&metadata.MethodDef{
		Name:          owner.UniqueMemberName("~" + md.Name + config.RelocatedMethodSuffix),
		Params:        params,
		Return:        md.Return,
		Visibility:    metadata.VisPrivate,
		Static:        md.Static,
		GenericParams: generics,
		Body:          md.Body,
	})
	md.Body = &metadata.MethodBody{}
	v.core.Session().Logger.Debug("method body relocated",
		zap.String("method", md.String()), zap.String("to", v.relocated.Name))
	return MethodTarget(v.relocated), nil
}

func (v *InvocationWeaver) Implement() error {
	if v.relocated == nil {
		if _, err := v.Relocate(); err != nil {
			return err
		}
	}
	s, md := v.core.Session(), v.level.Method()
	return emit.Into(md, func(w *emit.Writer) error {
		ea := s.EventArgs.BuildMethodInvocationArgs(w, v.relocated)
		v.core.LoadAspect(w)
		w.Ldloc(ea)
		w.CallVirt(s.frameworkMethod(framework.OnMethodInvocation, "OnInvocation", 1))
		s.EventArgs.StoreInstance(w, func() {
			w.Ldloc(ea)
			w.CallVirt(s.frameworkMethod(framework.MethodInvocationArgs, "get_Instance", 0))
		})
		if v.hasByRef {
			s.EventArgs.CopyArgumentsOut(w, ea, framework.MethodInvocationArgs)
		}
		if md.Return != nil {
			s.EventArgs.LoadReturnValue(w, ea, framework.MethodInvocationArgs)
		}
		w.Op(metadata.OP_RET)
		return nil
	})
}
