package task

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/funvibe/aspectweave/internal/config"
	"github.com/funvibe/aspectweave/internal/diagnostics"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
	"github.com/funvibe/aspectweave/internal/weaver"
	"github.com/funvibe/aspectweave/pkg/aspects"
)

// pair is one aspect specification bound to one declaration.
type pair struct {
	spec   *weaver.Spec
	target weaver.Target

	// providers holds the provider pairs this pair descends from.
	providers []string
}

// identity keys a pair by aspect instance and declaration. Pointer aspects
// compare by address, value aspects by content.
func (p pair) identity() string {
	a := p.spec.Aspect
	if v := reflect.ValueOf(a); v.Kind() == reflect.Pointer {
		return fmt.Sprintf("%T@%x %s", a, v.Pointer(), p.target)
	}
	return fmt.Sprintf("%T %#v %s", a, a, p.target)
}

func (p pair) providerKey() string {
	return p.spec.TypeName + " " + p.target.String()
}

// application is an aspect attribute or project entry before it is bound:
// it creates a fresh aspect instance for every declaration it reaches.
type application struct {
	typeName string
	args     []any
	named    map[string]any
	priority *int
	origin   string

	types   *pattern
	members *pattern
}

// discover enumerates every aspect-target pair of the module: module-level
// attributes, then declarations in declaration order, then the project
// entries and the applications given to the orchestrator. Providers are
// expanded as their pairs are dequeued, each pair processed once. A
// provider reached again through its own descendants is not expanded.
func (o *Orchestrator) discover() []pair {
	var queue []pair
	for _, attr := range o.s.Module.Attributes {
		if app := o.fromAttribute(attr, "module "+o.s.Module.Name); app != nil {
			queue = append(queue, o.multicastModule(app)...)
		}
	}
	for _, t := range o.s.Module.Types {
		queue = append(queue, o.fromType(t)...)
	}
	for _, e := range o.explicit {
		queue = append(queue, o.fromExplicit(e)...)
	}
	for _, a := range o.applications {
		queue = append(queue, pair{
			spec:   &weaver.Spec{TypeName: a.TypeName, Aspect: a.Aspect, Configuration: a.Configuration, Origin: "application"},
			target: a.Target,
		})
	}

	var out []pair
	seen := make(map[string]bool, len(queue))
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		id := p.identity()
		if seen[id] {
			continue
		}
		seen[id] = true
		if o.excluded(p.spec.TypeName, p.target) {
			o.s.Sink.Write(diagnostics.Info, diagnostics.AW0071, p.target.String(), p.spec.TypeName)
			continue
		}
		out = append(out, p)
		if prov, ok := p.spec.Aspect.(aspects.Provider); ok {
			if slices.Contains(p.providers, p.providerKey()) {
				o.s.Sink.Write(diagnostics.Warning, diagnostics.AW0072, p.target.String(), p.spec.TypeName)
				continue
			}
			queue = append(queue, o.provided(p, prov)...)
		}
	}
	o.s.Logger.Debug("aspects discovered", zap.Int("pairs", len(out)))
	return out
}

func (o *Orchestrator) provided(from pair, prov aspects.Provider) []pair {
	var out []pair
	chain := append(slices.Clone(from.providers), from.providerKey())
	for _, app := range prov.ProvideAspects(from.target.Member()) {
		target, ok := targetOf(app.Target)
		if !ok {
			o.s.Sink.Write(diagnostics.Error, diagnostics.AW0007, from.target.String(), fmt.Sprint(app.Target), from.spec.TypeName)
			continue
		}
		name := app.TypeName
		if name == "" {
			if n, ok := o.registry.NameOf(app.Aspect); ok {
				name = n
			} else {
				name = fmt.Sprintf("%T", app.Aspect)
			}
		}
		out = append(out, pair{
			spec:      &weaver.Spec{TypeName: name, Aspect: app.Aspect, Origin: "provider " + from.spec.TypeName},
			target:    target,
			providers: chain,
		})
	}
	return out
}

func targetOf(m aspects.Member) (weaver.Target, bool) {
	switch d := m.(type) {
	case *metadata.TypeDef:
		return weaver.TypeTarget(d), d != nil
	case *metadata.MethodDef:
		return weaver.MethodTarget(d), d != nil
	case *metadata.FieldDef:
		return weaver.FieldTarget(d), d != nil
	}
	return weaver.Target{}, false
}

// fromType collects the attribute applications on t and its members.
func (o *Orchestrator) fromType(t *metadata.TypeDef) []pair {
	var out []pair
	for _, attr := range t.Attributes {
		if app := o.fromAttribute(attr, t.FullName()); app != nil {
			out = append(out, o.bindAll(app, o.multicast(app, t, app.members))...)
		}
	}
	for _, md := range t.Methods {
		for _, attr := range md.Attributes {
			if app := o.fromAttribute(attr, md.String()); app != nil {
				out = append(out, o.bindAll(app, []weaver.Target{weaver.MethodTarget(md)})...)
			}
		}
		for _, p := range md.Params {
			for _, attr := range p.Attributes {
				if app := o.fromAttribute(attr, md.String()+"("+p.Name+")"); app != nil {
					out = append(out, o.bindAll(app, []weaver.Target{weaver.MethodTarget(md)})...)
				}
			}
		}
	}
	for _, fd := range t.Fields {
		for _, attr := range fd.Attributes {
			if app := o.fromAttribute(attr, fd.String()); app != nil {
				out = append(out, o.bindAll(app, []weaver.Target{weaver.FieldTarget(fd)})...)
			}
		}
	}
	for _, prop := range t.Properties {
		for _, attr := range prop.Attributes {
			if app := o.fromAttribute(attr, t.FullName()+"::"+prop.Name); app != nil {
				out = append(out, o.bindAll(app, accessors(t, prop.Getter, prop.Setter))...)
			}
		}
	}
	for _, ev := range t.Events {
		for _, attr := range ev.Attributes {
			if app := o.fromAttribute(attr, t.FullName()+"::"+ev.Name); app != nil {
				out = append(out, o.bindAll(app, accessors(t, ev.Adder, ev.Remover))...)
			}
		}
	}
	return out
}

func accessors(t *metadata.TypeDef, names ...string) []weaver.Target {
	var out []weaver.Target
	for _, name := range names {
		if name == "" {
			continue
		}
		for _, md := range t.FindMethods(name) {
			out = append(out, weaver.MethodTarget(md))
		}
	}
	return out
}

// fromAttribute turns an aspect attribute into an application. It returns
// nil for attributes that do not apply aspects and for aspects that cannot
// be instantiated, which are reported.
func (o *Orchestrator) fromAttribute(attr *metadata.Attribute, origin string) *application {
	name := attr.Type.Name
	def := o.s.Domain.ResolveType(attr.Type)
	_, registered := o.registry.Lookup(name)
	isAspect := registered || (def != nil && o.s.Domain.IsSubclassOf(def, config.AspectBaseName))
	if !isAspect {
		return nil
	}
	if def != nil && def.Visibility != metadata.VisPublic {
		o.s.Sink.Write(diagnostics.Fatal, diagnostics.AW0009, origin, name)
	}
	if !registered {
		o.s.Sink.Write(diagnostics.Error, diagnostics.AW0004, origin, name)
		return nil
	}

	app := &application{typeName: name, args: attr.Args, origin: origin, named: make(map[string]any)}
	for _, n := range attr.Named {
		switch n.Name {
		case config.AttributePriority:
			p, ok := n.Value.(int64)
			if !ok {
				o.s.Sink.Write(diagnostics.Warning, diagnostics.AW0041, origin, name, fmt.Sprintf("%s = %v", n.Name, n.Value))
				continue
			}
			prio := int(p)
			app.priority = &prio
		case config.AttributeTargetTypes, config.AttributeTargetMembers:
			s, _ := n.Value.(string)
			pat, err := compilePattern(s)
			if err != nil {
				o.s.Sink.Write(diagnostics.Warning, diagnostics.AW0041, origin, name, err.Error())
				continue
			}
			if n.Name == config.AttributeTargetTypes {
				app.types = pat
			} else {
				app.members = pat
			}
		default:
			app.named[n.Name] = n.Value
		}
	}
	return app
}

// fromExplicit resolves a project entry against the module.
func (o *Orchestrator) fromExplicit(e config.AspectSpec) []pair {
	origin := "project"
	if _, ok := o.registry.Lookup(e.Type); !ok {
		o.s.Sink.Write(diagnostics.Error, diagnostics.AW0004, origin, e.Type)
		return nil
	}
	app := &application{
		typeName: e.Type,
		args:     normalizeArgs(e.Args),
		named:    make(map[string]any, len(e.Named)),
		priority: e.Priority,
		origin:   origin,
	}
	for k, v := range e.Named {
		app.named[k] = normalizeArg(v)
	}

	typeName, member, hasMember := strings.Cut(e.Target, "::")
	t := o.s.Module.FindType(typeName)
	if t == nil {
		o.s.Sink.Write(diagnostics.Error, diagnostics.AW0007, origin, e.Target, e.Type)
		return nil
	}
	if !hasMember {
		return o.bindAll(app, o.multicast(app, t, nil))
	}
	var targets []weaver.Target
	for _, md := range t.FindMethods(member) {
		targets = append(targets, weaver.MethodTarget(md))
	}
	if len(targets) == 0 {
		if fd := t.FindField(member); fd != nil {
			targets = append(targets, weaver.FieldTarget(fd))
		}
	}
	if len(targets) == 0 {
		o.s.Sink.Write(diagnostics.Error, diagnostics.AW0007, origin, e.Target, e.Type)
		return nil
	}
	return o.bindAll(app, targets)
}

// normalizeArgs converts YAML scalars to the value kinds attributes carry.
func normalizeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = normalizeArg(a)
	}
	return out
}

func normalizeArg(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case []any:
		strs := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return x
			}
			strs = append(strs, s)
		}
		return strs
	}
	return v
}

// multicastModule applies a module-level attribute to the types its
// AttributeTargetTypes pattern selects.
func (o *Orchestrator) multicastModule(app *application) []pair {
	var out []pair
	for _, t := range o.s.Module.Types {
		if !app.types.Match(t.FullName()) {
			continue
		}
		out = append(out, o.bindAll(app, o.multicast(app, t, app.members))...)
	}
	return out
}

// multicast selects the declarations of t an application reaches. An
// aspect that can weave the type itself stays on the type unless members
// are filtered; otherwise it spreads over the methods with a body or the
// writable fields, depending on what it can weave.
func (o *Orchestrator) multicast(app *application, t *metadata.TypeDef, members *pattern) []weaver.Target {
	probe, err := o.registry.Create(app.typeName, app.args, app.named)
	if err != nil {
		return []weaver.Target{weaver.TypeTarget(t)}
	}
	if _, ok := weaver.KindOf(probe, weaver.TypeTarget(t)); ok && members == nil {
		return []weaver.Target{weaver.TypeTarget(t)}
	}
	var out []weaver.Target
	_, methods := weaver.KindOf(probe, weaver.MethodTarget(&metadata.MethodDef{}))
	_, fields := weaver.KindOf(probe, weaver.FieldTarget(&metadata.FieldDef{}))
	if !methods && !fields {
		// Nothing to spread over; the type stays the target so the
		// factory chain or a provider can still handle it.
		return []weaver.Target{weaver.TypeTarget(t)}
	}
	if methods {
		for _, md := range t.Methods {
			if md.Body == nil || md.Abstract || md.RuntimeManaged || md.IsConstructor() || md.IsTypeInitializer() {
				continue
			}
			if members.Match(md.Name) {
				out = append(out, weaver.MethodTarget(md))
			}
		}
	}
	if fields {
		for _, fd := range t.Fields {
			if fd.ReadOnly || !members.Match(fd.Name) {
				continue
			}
			out = append(out, weaver.FieldTarget(fd))
		}
	}
	return out
}

// bindAll instantiates the aspect once per target.
func (o *Orchestrator) bindAll(app *application, targets []weaver.Target) []pair {
	out := make([]pair, 0, len(targets))
	for _, target := range targets {
		aspect, err := o.registry.Create(app.typeName, app.args, app.named)
		if err != nil {
			o.s.Sink.Write(diagnostics.Error, diagnostics.AW0006, target.String(), app.typeName, err.Error())
			continue
		}
		var cfg *aspects.Configuration
		if app.priority != nil {
			cfg = &aspects.Configuration{Priority: aspects.Int(*app.priority)}
		}
		out = append(out, pair{
			spec:   &weaver.Spec{TypeName: app.typeName, Aspect: aspect, Configuration: cfg, Origin: app.origin},
			target: target,
		})
	}
	return out
}

// excluded reports whether an ExcludeAspect attribute on the target or
// its declaring type names the aspect type.
func (o *Orchestrator) excluded(typeName string, target weaver.Target) bool {
	var lists [][]*metadata.Attribute
	switch {
	case target.Method != nil:
		lists = append(lists, target.Method.Attributes)
	case target.Field != nil:
		lists = append(lists, target.Field.Attributes)
	}
	if owner := target.DeclaringType(); owner != nil {
		lists = append(lists, owner.Attributes)
	}
	for _, attrs := range lists {
		for _, attr := range attrs {
			if attr.Type.Name != config.ExcludeAspectAttribute {
				continue
			}
			for _, arg := range attr.Args {
				if excludedName(arg) == typeName {
					return true
				}
			}
		}
	}
	return false
}

func excludedName(arg any) string {
	switch v := arg.(type) {
	case string:
		return v
	case typesystem.TCon:
		return v.Name
	}
	return ""
}
