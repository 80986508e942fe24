package weaver

import (
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
)

// ImplementationDetails is the per-module type holding the runtime aspect
// instances and cached reflection handles. Its static constructor restores
// the instances from the embedded resource and runs their runtime
// initialization.
type ImplementationDetails struct {
	s           *Session
	def         *metadata.TypeDef
	initialized *metadata.FieldDef

	instances []detailsInstance
	methods   map[*metadata.MethodDef]*metadata.FieldDef
	fields    map[*metadata.FieldDef]*metadata.FieldDef
	handles   []handleCache
	finalized bool
}

type detailsInstance struct {
	weaver *Base
	field  *metadata.FieldDef
}

type handleCache struct {
	field  *metadata.FieldDef
	method *metadata.MethodDef
	target *metadata.FieldDef
}

func newImplementationDetails(s *Session) *ImplementationDetails {
	return &ImplementationDetails{
		s:       s,
		methods: make(map[*metadata.MethodDef]*metadata.FieldDef),
		fields:  make(map[*metadata.FieldDef]*metadata.FieldDef),
	}
}

// DetailsTypeName is the name of the implementation-details type of a
// module; it only depends on the module name.
func DetailsTypeName(module string) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(module)).String()
	return config.ImplementationDetailsPrefix + id[:8]
}

// Type returns the details type, creating it on first use.
func (d *ImplementationDetails) Type() *metadata.TypeDef {
	if d.def != nil {
		return d.def
	}
	d.def = d.s.Module.AddType(&metadata.TypeDef{
		Namespace:  config.ImplementationDetailsNS,
		Name:       DetailsTypeName(d.s.Module.Name),
		Visibility: metadata.VisAssembly,
		Sealed:     true,
		Abstract:   true,
		BaseType:   framework.Object,
	})
	d.initialized = d.def.AddField(&metadata.FieldDef{
		Name:       config.InitializedFieldName,
		Type:       framework.Boolean,
		Static:     true,
		Visibility: metadata.VisAssembly,
	})
	return d.def
}

func (d *ImplementationDetails) checkOpen(op string) {
	if d.finalized {
		violate("implementation details", op, "called after the module initializer was emitted")
	}
}

// RuntimeInstance allocates the static field holding the runtime instance
// of the aspect of b.
func (d *ImplementationDetails) RuntimeInstance(b *Base) *metadata.FieldRef {
	d.checkOpen("RuntimeInstance")
	def := d.Type()
	var typ typesystem.Type = framework.Object
	if at := d.s.aspectType(b.spec.TypeName); at != nil && !at.IsGeneric() {
		typ = d.s.Import(at.Con())
	}
	f := def.AddField(&metadata.FieldDef{
		Name:       def.UniqueMemberName(config.AspectFieldPrefix + strconv.Itoa(len(d.instances)+1)),
		Type:       typ,
		Static:     true,
		Visibility: metadata.VisAssembly,
	})
	d.instances = append(d.instances, detailsInstance{weaver: b, field: f})
	return f.Ref(nil)
}

// LoadGuarded loads a static field of the details type, failing at run time
// when the module initializer has not completed.
func (d *ImplementationDetails) LoadGuarded(w *emit.Writer, f *metadata.FieldRef) {
	ready := w.DefineLabel()
	w.Ldsfld(d.initialized.Ref(nil))
	w.Brtrue(ready)
	w.Ldstr(d.s.Module.Name)
	w.Call(d.s.frameworkMethod(framework.AspectsRuntime, "Uninitialized", 1))
	w.MarkLabel(ready)
	w.Ldsfld(f)
}

// MethodHandle returns a static field caching the MethodBase of md, or nil
// when md or its declaring type is generic.
func (d *ImplementationDetails) MethodHandle(md *metadata.MethodDef) *metadata.FieldRef {
	if md.DeclaringType().IsGeneric() || len(md.GenericParams) > 0 {
		return nil
	}
	if f, ok := d.methods[md]; ok {
		return f.Ref(nil)
	}
	d.checkOpen("MethodHandle")
	def := d.Type()
	f := def.AddField(&metadata.FieldDef{
		Name:       def.UniqueMemberName(config.MethodHandleFieldPrefix + strconv.Itoa(len(d.methods)+1)),
		Type:       framework.MethodBase,
		Static:     true,
		Visibility: metadata.VisAssembly,
	})
	d.methods[md] = f
	d.handles = append(d.handles, handleCache{field: f, method: md})
	return f.Ref(nil)
}

// FieldHandle returns a static field caching the FieldInfo of fd, or nil
// when the declaring type is generic.
func (d *ImplementationDetails) FieldHandle(fd *metadata.FieldDef) *metadata.FieldRef {
	if fd.DeclaringType().IsGeneric() {
		return nil
	}
	if f, ok := d.fields[fd]; ok {
		return f.Ref(nil)
	}
	d.checkOpen("FieldHandle")
	def := d.Type()
	f := def.AddField(&metadata.FieldDef{
		Name:       def.UniqueMemberName(config.FieldHandleFieldPrefix + strconv.Itoa(len(d.fields)+1)),
		Type:       framework.FieldInfo,
		Static:     true,
		Visibility: metadata.VisAssembly,
	})
	d.fields[fd] = f
	d.handles = append(d.handles, handleCache{field: f, target: fd})
	return f.Ref(nil)
}

// Finalize embeds the runtime instances and emits the module initializer.
// weavers are the implemented weavers in execution order; each contributes
// its runtime initialization.
func (d *ImplementationDetails) Finalize(weavers []Weaver) error {
	d.checkOpen("Finalize")
	s := d.s
	if d.def == nil && len(weavers) == 0 {
		d.finalized = true
		return nil
	}
	def := d.Type()

	values := make([]any, len(d.instances))
	for i, inst := range d.instances {
		values[i] = inst.weaver.spec.Aspect
	}
	data, err := s.Serializer.Serialize(values)
	if err != nil {
		s.Sink.Write(diagnostics.Error, diagnostics.AW0040, def.FullName(), s.Module.Name, err)
		d.finalized = true
		return nil
	}
	s.Module.SetResource(config.AspectsResourceName, data)

	cctor := def.AddMethod(&metadata.MethodDef{
		Name:       config.TypeInitializerName,
		Static:     true,
		Visibility: metadata.VisPrivate,
	})
	err = emit.Into(cctor, func(w *emit.Writer) error {
		if s.Target == TargetCompact {
			if err := d.emitInitialization(w, weavers); err != nil {
				return err
			}
			w.Op(metadata.OP_RET)
			return nil
		}
		done := w.DefineLabel()
		err := w.Try(func(w *emit.Writer) error {
			if err := d.emitInitialization(w, weavers); err != nil {
				return err
			}
			w.Leave(done)
			return nil
		}, emit.Catch(framework.Exception, func(w *emit.Writer) error {
			e := w.DefineLocal("~e", framework.Exception)
			w.Stloc(e)
			w.Ldc(0)
			w.Ldstr(config.DebuggerCategory)
			w.Ldloc(e)
			w.CallVirt(s.frameworkMethod(framework.Exception, "get_Message", 0))
			w.Call(s.frameworkMethod(framework.Debugger, "Log", 3))
			w.Op(metadata.OP_RETHROW)
			return nil
		}))
		if err != nil {
			return err
		}
		w.MarkLabel(done)
		w.Op(metadata.OP_RET)
		return nil
	})
	d.finalized = true
	if err != nil {
		return err
	}
	s.Logger.Debug("module initializer emitted",
		zap.String("type", def.FullName()),
		zap.Int("aspects", len(d.instances)),
		zap.Int("handles", len(d.handles)))
	return nil
}

func (d *ImplementationDetails) emitInitialization(w *emit.Writer, weavers []Weaver) error {
	s := d.s
	if len(d.instances) > 0 {
		arr := w.DefineLocal("~aspects", framework.ObjectArray)
		w.Ldstr(s.Module.Name)
		w.Ldstr(config.AspectsResourceName)
		w.Call(s.frameworkMethod(framework.AspectsRuntime, "Deserialize", 2))
		w.Stloc(arr)
		for i, inst := range d.instances {
			w.Ldloc(arr)
			w.Ldc(int64(i))
			w.Op(metadata.OP_LDELEM)
			w.Unbox(s.Domain, inst.field.Type)
			w.Stsfld(inst.field.Ref(nil))
		}
	}
	for _, h := range d.handles {
		if h.method != nil {
			w.LdtokenMethod(h.method.Ref(nil))
			w.Call(s.frameworkMethod(framework.MethodBase, "GetMethodFromHandle", 1))
		} else {
			w.LdtokenField(h.target.Ref(nil))
			w.Call(s.frameworkMethod(framework.FieldInfo, "GetFieldFromHandle", 1))
		}
		w.Stsfld(h.field.Ref(nil))
	}
	for _, wv := range weavers {
		b := wv.Core()
		if b.State() != Implemented {
			continue
		}
		if err := b.EmitRuntimeInitialization(w); err != nil {
			return err
		}
	}
	w.Ldc(1)
	w.Stsfld(d.initialized.Ref(nil))
	return nil
}
