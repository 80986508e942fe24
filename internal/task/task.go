// Package task drives one weaving pass over a module: it discovers the
// aspect applications, binds each to a weaver, orders and validates the
// weavers sharing a declaration, implements them and finalizes the module.
package task

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/weaver"
	"github.com/funvibe/aspectweave/pkg/aspects"
)

// Application applies an aspect instance directly, bypassing the registry.
type Application struct {
	TypeName      string
	Target        weaver.Target
	Aspect        any
	Configuration *aspects.Configuration
}

// Orchestrator runs one pass. It is used once and then discarded.
type Orchestrator struct {
	s            *weaver.Session
	registry     *aspects.Registry
	factories    []weaver.Factory
	awareness    []Awareness
	explicit     []config.AspectSpec
	applications []Application

	weavers []weaver.Weaver
	groups  []*group
	ran     bool
}

// group is the priority-ordered set of weavers requested on one declaration.
type group struct {
	target  weaver.Target
	weavers []weaver.Weaver
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRegistry sets where aspect attributes find their implementation.
func WithRegistry(r *aspects.Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// WithFactory adds a weaver factory consulted before the built-in one.
// Factories are consulted in the order they were added.
func WithFactory(f weaver.Factory) Option {
	return func(o *Orchestrator) { o.factories = append(o.factories, f) }
}

// WithAwareness adds a listener notified at the awareness points.
func WithAwareness(a Awareness) Option {
	return func(o *Orchestrator) { o.awareness = append(o.awareness, a) }
}

// WithExplicit adds aspect entries from a project file.
func WithExplicit(specs ...config.AspectSpec) Option {
	return func(o *Orchestrator) { o.explicit = append(o.explicit, specs...) }
}

// WithApplications adds aspect instances applied by the caller.
func WithApplications(apps ...Application) Option {
	return func(o *Orchestrator) { o.applications = append(o.applications, apps...) }
}

// New creates an orchestrator over the session.
func New(s *weaver.Session, opts ...Option) *Orchestrator {
	o := &Orchestrator{s: s}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = aspects.NewRegistry()
	}
	o.factories = append(o.factories, weaver.BuiltinFactory)
	return o
}

// Weavers returns every weaver created by the pass, in discovery order.
func (o *Orchestrator) Weavers() []weaver.Weaver { return o.weavers }

// Implemented counts the weavers that completed implementation.
func (o *Orchestrator) Implemented() int {
	n := 0
	for _, w := range o.weavers {
		if st := w.Core().State(); st == weaver.Implemented || st == weaver.RuntimeWired {
			n++
		}
	}
	return n
}

// Run executes the pass. Fatal diagnostics end it early and are returned
// as *diagnostics.FatalError; every other problem is only reported to the
// sink, so callers check the sink for errors as well.
func (o *Orchestrator) Run() (err error) {
	if o.ran {
		return fmt.Errorf("task: orchestrator already ran")
	}
	o.ran = true
	defer diagnostics.Recover(&err)

	s := o.s
	log := s.Logger.With(zap.String("module", s.Module.Name))
	for _, a := range o.awareness {
		a.Initialize(s)
	}

	o.bind(o.discover())
	s.Sink.Checkpoint()

	o.group()
	o.validate()
	s.Sink.Checkpoint()

	o.redirect()
	s.Credentials.Seal()
	o.implement()
	for _, a := range o.awareness {
		a.AfterImplementAll(s)
	}

	if err := s.Initialization.Implement(); err != nil {
		s.Sink.Write(diagnostics.Error, diagnostics.AW0001, "", err.Error())
	}
	if err := s.Advice.Apply(s.Domain); err != nil {
		s.Sink.Write(diagnostics.Fatal, diagnostics.AW0001, "", err.Error())
	}
	if err := s.Details.Finalize(o.implementedInOrder()); err != nil {
		s.Sink.Write(diagnostics.Error, diagnostics.AW0001, "", err.Error())
	}
	s.Sink.Checkpoint()

	s.Sink.Write(diagnostics.Info, diagnostics.AW0070, s.Module.Name, o.Implemented())
	log.Debug("weaving finished",
		zap.Int("weavers", len(o.weavers)), zap.Int("implemented", o.Implemented()))
	return nil
}

// bind creates a weaver per pair through the factory chain and binds it.
func (o *Orchestrator) bind(pairs []pair) {
	for _, p := range pairs {
		w := o.create(p)
		if w == nil {
			if _, provider := p.spec.Aspect.(aspects.Provider); !provider {
				o.s.Sink.Write(diagnostics.Error, diagnostics.AW0005, p.target.String(), p.spec.TypeName)
			}
			continue
		}
		core := w.Core()
		core.Initialize()
		core.InitializeAspect()
		core.AssignTarget(p.target)
		o.weavers = append(o.weavers, w)
	}
}

func (o *Orchestrator) create(p pair) weaver.Weaver {
	for _, f := range o.factories {
		if w := f.CreateWeaver(o.s, p.spec, p.target); w != nil {
			return w
		}
	}
	return nil
}

// group collects weavers by requested declaration, in order of first
// appearance, each group sorted by ascending priority. The sort is stable
// so equal priorities keep discovery order.
func (o *Orchestrator) group() {
	index := make(map[weaver.Target]*group)
	for _, w := range o.weavers {
		t := w.Core().Requested()
		g := index[t]
		if g == nil {
			g = &group{target: t}
			index[t] = g
			o.groups = append(o.groups, g)
		}
		g.weavers = append(g.weavers, w)
	}
	for _, g := range o.groups {
		sort.SliceStable(g.weavers, func(i, j int) bool {
			return g.weavers[i].Core().Priority() < g.weavers[j].Core().Priority()
		})
	}
}

func (o *Orchestrator) validate() {
	for _, g := range o.groups {
		var valid []weaver.Weaver
		for _, w := range g.weavers {
			if w.Core().ValidateSelf() {
				valid = append(valid, w)
			}
		}
		for _, a := range o.awareness {
			a.Validate(g.target, valid)
		}
		for _, w := range valid {
			w.Core().ValidateInteractions(g.weavers)
		}
	}
}

// redirect lets each redirector relocate its target; the weavers after it
// in the group move to the relocated declaration.
func (o *Orchestrator) redirect() {
	for _, g := range o.groups {
		for i, w := range g.weavers {
			if w.Core().State() != weaver.Validated {
				continue
			}
			r, ok := w.(weaver.Redirector)
			if !ok {
				continue
			}
			t, err := r.Relocate()
			if err != nil {
				o.s.Sink.Write(diagnostics.Error, diagnostics.AW0001, g.target.String(), err.Error())
				continue
			}
			for _, later := range g.weavers[i+1:] {
				if later.Core().State() == weaver.Validated {
					later.Core().Redirect(t)
				}
			}
		}
	}
}

func (o *Orchestrator) implement() {
	for _, g := range o.groups {
		ready := make([]weaver.Weaver, 0, len(g.weavers))
		for _, w := range g.weavers {
			if st := w.Core().State(); st == weaver.Validated || st == weaver.Redirected {
				ready = append(ready, w)
			}
		}
		if len(ready) == 0 {
			continue
		}
		for _, a := range o.awareness {
			a.BeforeImplement(g.target, ready)
		}
		for _, w := range ready {
			if err := w.Core().Implement(); err != nil {
				o.s.Sink.Write(diagnostics.Error, diagnostics.AW0001, g.target.String(), err.Error())
			}
		}
		for _, a := range o.awareness {
			a.AfterImplement(g.target, ready)
		}
	}
}

// implementedInOrder lists the implemented weavers group by group, in the
// order they were implemented.
func (o *Orchestrator) implementedInOrder() []weaver.Weaver {
	var out []weaver.Weaver
	for _, g := range o.groups {
		for _, w := range g.weavers {
			if w.Core().State() == weaver.Implemented {
				out = append(out, w)
			}
		}
	}
	return out
}
