package weaver

import (
	"go.uber.org/zap"

	"github.com/funvibe/aspectweave/internal/advice"
	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
	"github.com/funvibe/aspectweave/pkg/aspects"
)

// BoundaryWeaver calls OnEntry, OnSuccess, OnException and OnExit of the
// aspect around the body of the target method.
type BoundaryWeaver struct {
	core  *Base
	level MethodLevel

	hasByRef      bool
	exceptionType typesystem.Type
	exceptionName string
	tag           *metadata.FieldDef

	// ea is the local holding the execution arguments, defined while the
	// entry advice is emitted and read by the advices emitted after it.
	ea int
}

// NewBoundaryWeaver creates the weaver of an OnMethodBoundary aspect.
func NewBoundaryWeaver(s *Session, spec *Spec) *BoundaryWeaver {
	b := &BoundaryWeaver{ea: -1}
	b.core = NewBase(s, b, spec, KindBoundary)
	b.level = MethodLevel{core: b.core}
	return b
}

func (b *BoundaryWeaver) Core() *Base { return b.core }

func (b *BoundaryWeaver) OnTargetAssigned(bool) {
	b.hasByRef = b.level.Method().HasByRefParams()
	b.exceptionName = aspects.StringValue(b.core.Config().ExceptionType, "")
}

func (b *BoundaryWeaver) ValidateSelf() bool {
	if !b.level.requireBody() {
		return false
	}
	if b.exceptionName == "" {
		return true
	}
	s := b.core.Session()
	t, err := s.Domain.ParseType(b.exceptionName)
	if err != nil || s.Domain.ResolveType(t) == nil {
		s.Sink.Write(diagnostics.Error, diagnostics.AW0022, b.level.Method().String(), b.exceptionName, b.core.Spec().TypeName)
		return false
	}
	b.exceptionType = t
	return true
}

func (b *BoundaryWeaver) Implement() error {
	s, md := b.core.Session(), b.level.Method()
	if aspects.BoolValue(b.core.Config().RequiresInstanceTag, false) {
		owner := md.DeclaringType()
		b.tag = owner.AddField(&metadata.FieldDef{
			Name:       owner.UniqueMemberName(config.InstanceTagFieldPrefix + b.core.Name()),
			Type:       framework.Object,
			Static:     md.Static,
			Visibility: metadata.VisPrivate,
		})
	}
	var exceptionType typesystem.Type
	if b.exceptionType != nil {
		exceptionType = s.Import(b.exceptionType)
	}
	owner := b.core.String()
	priority := b.core.Priority()
	s.Advice.Add(md, &advice.Advice{JoinPoint: advice.BeforeBody, Priority: priority, Owner: owner, Emit: b.emitEntry})
	s.Advice.Add(md, &advice.Advice{JoinPoint: advice.AfterBodySuccess, Priority: priority, Owner: owner, Emit: b.exit("OnSuccess")})
	s.Advice.Add(md, &advice.Advice{
		JoinPoint: advice.AfterBodyException, Priority: priority, Owner: owner,
		ExceptionType: exceptionType, Emit: b.emitException,
	})
	s.Advice.Add(md, &advice.Advice{JoinPoint: advice.AfterBodyAlways, Priority: priority, Owner: owner, Emit: b.exit("OnExit")})
	s.Logger.Debug("boundary advice registered",
		zap.String("method", md.String()), zap.Bool("byref", b.hasByRef), zap.Bool("tag", b.tag != nil))
	return nil
}

func (b *BoundaryWeaver) callback(name string) *metadata.MethodRef {
	return b.core.Session().frameworkMethod(framework.OnMethodBoundary, name, 1)
}

func (b *BoundaryWeaver) args(name string, params int) *metadata.MethodRef {
	return b.core.Session().frameworkMethod(framework.MethodExecutionArgs, name, params)
}

func (b *BoundaryWeaver) invoke(w *emit.Writer, name string) {
	b.core.LoadAspect(w)
	w.Ldloc(b.ea)
	w.CallVirt(b.callback(name))
}

func (b *BoundaryWeaver) loadTag(w *emit.Writer) {
	if b.tag == nil {
		return
	}
	w.Ldloc(b.ea)
	if b.tag.Static {
		w.Ldsfld(b.tag.Ref(nil))
	} else {
		w.Ldthis()
		w.Ldfld(b.tag.Ref(nil))
	}
	w.CallVirt(b.args("set_InstanceTag", 1))
}

func (b *BoundaryWeaver) storeTag(w *emit.Writer) {
	if b.tag == nil {
		return
	}
	if b.tag.Static {
		w.Ldloc(b.ea)
		w.CallVirt(b.args("get_InstanceTag", 0))
		w.Stsfld(b.tag.Ref(nil))
		return
	}
	w.Ldthis()
	w.Ldloc(b.ea)
	w.CallVirt(b.args("get_InstanceTag", 0))
	w.Stfld(b.tag.Ref(nil))
}

// returnFromArgs stores the return value and the by-ref arguments held by
// the execution arguments and leaves the method.
func (b *BoundaryWeaver) returnFromArgs(ctx *advice.Context, w *emit.Writer) {
	s := b.core.Session()
	if ctx.HasReturnValue() {
		s.EventArgs.LoadReturnValue(w, b.ea, framework.MethodExecutionArgs)
		w.Stloc(ctx.ReturnLocal)
	}
	if b.hasByRef {
		s.EventArgs.CopyArgumentsOut(w, b.ea, framework.MethodExecutionArgs)
	}
	ctx.Return(w)
}

func (b *BoundaryWeaver) emitEntry(ctx *advice.Context, w *emit.Writer) error {
	s := b.core.Session()
	b.ea = s.EventArgs.BuildMethodExecutionArgs(w)
	b.loadTag(w)
	b.invoke(w, "OnEntry")
	s.EventArgs.StoreInstance(w, func() {
		w.Ldloc(b.ea)
		w.CallVirt(b.args("get_Instance", 0))
	})
	b.storeTag(w)

	proceed := w.DefineLabel()
	w.Ldloc(b.ea)
	w.CallVirt(b.args("get_FlowBehavior", 0))
	w.Ldc(int64(aspects.Return))
	w.Op(metadata.OP_CEQ)
	w.Brfalse(proceed)
	b.returnFromArgs(ctx, w)
	w.MarkLabel(proceed)
	return nil
}

func (b *BoundaryWeaver) emitException(ctx *advice.Context, w *emit.Writer) error {
	w.Ldloc(b.ea)
	w.Ldloc(ctx.ExceptionLocal)
	w.CallVirt(b.args("set_Exception", 1))
	b.loadTag(w)
	b.invoke(w, "OnException")
	b.storeTag(w)

	rethrow, cont, ret := w.DefineLabel(), w.DefineLabel(), w.DefineLabel()
	w.Ldloc(b.ea)
	w.CallVirt(b.args("get_FlowBehavior", 0))
	w.Switch(rethrow, cont, ret, rethrow)
	w.Br(rethrow)

	w.MarkLabel(cont)
	ctx.Continue(w)

	w.MarkLabel(ret)
	b.returnFromArgs(ctx, w)

	w.MarkLabel(rethrow)
	ctx.Rethrow(w)
	return nil
}

// exit emits OnSuccess or OnExit: the current return value and by-ref
// arguments go into the execution arguments and whatever the aspect left
// there comes back.
func (b *BoundaryWeaver) exit(callback string) func(ctx *advice.Context, w *emit.Writer) error {
	return func(ctx *advice.Context, w *emit.Writer) error {
		s := b.core.Session()
		if ctx.HasReturnValue() {
			w.Ldloc(b.ea)
			w.Ldloc(ctx.ReturnLocal)
			w.Box(s.Domain, ctx.Method.Return)
			w.CallVirt(b.args("set_ReturnValue", 1))
		}
		if b.hasByRef {
			s.EventArgs.CopyArgumentsIn(w, b.ea, framework.MethodExecutionArgs)
		}
		b.loadTag(w)
		b.invoke(w, callback)
		b.storeTag(w)
		if ctx.HasReturnValue() {
			s.EventArgs.LoadReturnValue(w, b.ea, framework.MethodExecutionArgs)
			w.Stloc(ctx.ReturnLocal)
		}
		if b.hasByRef {
			s.EventArgs.CopyArgumentsOut(w, b.ea, framework.MethodExecutionArgs)
		}
		return nil
	}
}
