package weaver

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/funvibe/aspectweave/internal/advice"
	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/metadata"
)

// InitClient contributes code to the per-instance aspect initialization of
// a type. Clients run in ascending priority, ties in registration order.
type InitClient struct {
	Priority int
	Owner    string

	// Emit writes into the private initializer of the type; argument 0 is
	// the instance.
	Emit func(w *emit.Writer) error
}

// InitializationManager generates, for every type with clients, a private
// initializer called once by each constructor, and an overridable
// InitializeAspects hook that re-runs the initialization of the whole
// hierarchy, base types first.
type InitializationManager struct {
	s           *Session
	clients     map[*metadata.TypeDef][]InitClient
	order       []*metadata.TypeDef
	hooks       map[*metadata.TypeDef]*metadata.MethodDef
	implemented bool
}

func newInitializationManager(s *Session) *InitializationManager {
	return &InitializationManager{
		s:       s,
		clients: make(map[*metadata.TypeDef][]InitClient),
		hooks:   make(map[*metadata.TypeDef]*metadata.MethodDef),
	}
}

// RegisterClient adds c to the initialization of instances of t.
func (m *InitializationManager) RegisterClient(t *metadata.TypeDef, c InitClient) {
	if m.implemented {
		violate("instance initialization", "RegisterClient", "%s registered by %s after initialization was implemented", t, c.Owner)
	}
	if _, ok := m.clients[t]; !ok {
		m.order = append(m.order, t)
	}
	m.clients[t] = append(m.clients[t], c)
}

// Clients returns the clients registered for t.
func (m *InitializationManager) Clients(t *metadata.TypeDef) []InitClient {
	return m.clients[t]
}

// Implement generates the initializers. Base types are handled before their
// derived types so a derived hook can chain to a generated base hook.
func (m *InitializationManager) Implement() error {
	if m.implemented {
		violate("instance initialization", "Implement", "called twice")
	}
	m.implemented = true

	types := append([]*metadata.TypeDef(nil), m.order...)
	depth := make(map[*metadata.TypeDef]int, len(types))
	for _, t := range types {
		depth[t] = len(m.s.Domain.BaseTypes(t.SelfType()))
	}
	sort.SliceStable(types, func(i, j int) bool { return depth[types[i]] < depth[types[j]] })

	for _, t := range types {
		if err := m.implementType(t); err != nil {
			return err
		}
	}
	return nil
}

func (m *InitializationManager) implementType(t *metadata.TypeDef) error {
	s := m.s
	own := t.FindMethod(config.InitializeAspectsName, 0)
	if own != nil && !m.usableHook(t, own) {
		s.Sink.Write(diagnostics.Error, diagnostics.AW0030, own.String(), own.String())
		return nil
	}
	var baseHook *metadata.MethodRef
	if !t.ValueType {
		var ok bool
		if baseHook, ok = m.baseHook(t); !ok {
			return nil
		}
	}

	clients := append([]InitClient(nil), m.clients[t]...)
	sort.SliceStable(clients, func(i, j int) bool { return clients[i].Priority < clients[j].Priority })
	private := t.AddMethod(&metadata.MethodDef{
		Name:       t.UniqueMemberName(config.PrivateInitializerPrefix + metadata.ShortName(t.FullName())),
		Visibility: metadata.VisPrivate,
	})
	err := emit.Into(private, func(w *emit.Writer) error {
		for _, c := range clients {
			if err := c.Emit(w); err != nil {
				return err
			}
		}
		w.Op(metadata.OP_RET)
		return nil
	})
	if err != nil {
		return err
	}
	privateRef := private.Ref(nil)

	if !t.ValueType {
		hook := own
		if hook == nil {
			hook = t.AddMethod(&metadata.MethodDef{
				Name:       config.InitializeAspectsName,
				Visibility: metadata.VisFamily,
				Virtual:    true,
				NewSlot:    baseHook == nil,
			})
			if err := emit.Into(hook, func(w *emit.Writer) error {
				if baseHook != nil {
					w.Ldthis()
					w.Call(baseHook)
				}
				w.Op(metadata.OP_RET)
				return nil
			}); err != nil {
				return err
			}
		}
		m.hooks[t] = hook
		s.Advice.Add(hook, &advice.Advice{
			JoinPoint: advice.AfterBodySuccess,
			Priority:  math.MaxInt,
			Owner:     "instance initialization",
			Emit: func(_ *advice.Context, w *emit.Writer) error {
				w.Ldthis()
				w.Call(privateRef)
				return nil
			},
		})
	}

	for _, ctor := range t.Constructors() {
		if ctor.Body == nil {
			continue
		}
		s.Advice.Add(ctor, &advice.Advice{
			JoinPoint: advice.AfterInstanceInitialization,
			Priority:  math.MinInt,
			Owner:     "instance initialization",
			Emit: func(_ *advice.Context, w *emit.Writer) error {
				w.Ldthis()
				w.Call(privateRef)
				return nil
			},
		})
	}
	s.Logger.Debug("instance initialization implemented",
		zap.String("type", t.FullName()), zap.Int("clients", len(clients)))
	return nil
}

// usableHook checks a hook declared by the user. Public unsealed types can
// be derived from elsewhere, so there the hook must also be overridable.
func (m *InitializationManager) usableHook(t *metadata.TypeDef, hook *metadata.MethodDef) bool {
	if hook.Static || hook.Body == nil || hook.Return != nil || len(hook.GenericParams) > 0 {
		return false
	}
	if t.Visibility == metadata.VisPublic && !t.Sealed {
		return overridable(hook)
	}
	return true
}

func overridable(md *metadata.MethodDef) bool {
	return md.Virtual && !md.Final && !md.Static && md.Visibility.VisibleToSubclasses()
}

// baseHook finds the nearest InitializeAspects of a base type, referenced in
// the context of t. ok is false when one exists but cannot be overridden.
func (m *InitializationManager) baseHook(t *metadata.TypeDef) (ref *metadata.MethodRef, ok bool) {
	for _, bt := range m.s.Domain.BaseTypes(t.SelfType()) {
		def := m.s.Domain.ResolveType(bt)
		if def == nil {
			continue
		}
		hook := def.FindMethod(config.InitializeAspectsName, 0)
		if hook == nil {
			continue
		}
		if !overridable(hook) && !(m.s.InModule(def) && hook.Virtual && !hook.Final && hook.Visibility != metadata.VisPrivate) {
			m.s.Sink.Write(diagnostics.Error, diagnostics.AW0031, t.FullName(), hook.String())
			return nil, false
		}
		return hook.Ref(bt), true
	}
	return nil, true
}

// Hook returns the InitializeAspects method of t once implemented.
func (m *InitializationManager) Hook(t *metadata.TypeDef) *metadata.MethodDef {
	return m.hooks[t]
}
