// Package advice collects code contributions at the join points of
// methods and restructures each advised method body exactly once.
package advice

import (
	"fmt"
	"sort"

	"github.com/funvibe/aspectweave/internal/emit"
	"github.com/funvibe/aspectweave/internal/metadata"
	"github.com/funvibe/aspectweave/internal/typesystem"
)

// JoinPoint is a location in a method body where advice is inserted.
type JoinPoint int

const (
	BeforeBody JoinPoint = iota
	AfterBodySuccess
	AfterBodyException
	AfterBodyAlways
	AfterInstanceInitialization
)

func (j JoinPoint) String() string {
	switch j {
	case BeforeBody:
		return "BeforeBody"
	case AfterBodySuccess:
		return "AfterBodySuccess"
	case AfterBodyException:
		return "AfterBodyException"
	case AfterBodyAlways:
		return "AfterBodyAlways"
	case AfterInstanceInitialization:
		return "AfterInstanceInitialization"
	}
	return fmt.Sprintf("JoinPoint(%d)", int(j))
}

// Advice is one contribution at one join point. Before-advices run in
// ascending priority, after-advices in descending priority, so the advice
// with the lowest priority wraps all others.
type Advice struct {
	JoinPoint JoinPoint
	Priority  int

	// ExceptionType filters AfterBodyException; nil handles every exception.
	ExceptionType typesystem.Type

	// Owner names the contributor in error messages.
	Owner string

	Emit func(ctx *Context, w *emit.Writer) error
}

// Context is what an advice can rely on while emitting.
type Context struct {
	Method *metadata.MethodDef

	// ReturnLocal holds the return value of non-void methods, or -1.
	ReturnLocal int

	// ExceptionLocal holds the caught exception inside AfterBodyException, or -1.
	ExceptionLocal int

	joinPoint JoinPoint
	exit      string
	done      string
}

// JoinPoint returns the join point being emitted.
func (c *Context) JoinPoint() JoinPoint { return c.joinPoint }

// HasReturnValue reports whether the method returns a value.
func (c *Context) HasReturnValue() bool { return c.ReturnLocal >= 0 }

// Return emits a jump that ends the method with the current content of
// ReturnLocal. After the exception handler it resumes after the body and
// skips success advice.
func (c *Context) Return(w *emit.Writer) {
	switch c.joinPoint {
	case BeforeBody:
		w.Br(c.exit)
	case AfterBodyException:
		w.Leave(c.done)
	default:
		w.Leave(c.exit)
	}
}

// Continue emits the terminal of an exception handler that swallows the exception.
func (c *Context) Continue(w *emit.Writer) {
	w.Leave(c.done)
}

// Rethrow emits the terminal of an exception handler that keeps propagating.
func (c *Context) Rethrow(w *emit.Writer) {
	w.Op(metadata.OP_RETHROW)
}

type entry struct {
	method  *metadata.MethodDef
	advices []*Advice
}

// Registry collects advice per method, in registration order.
type Registry struct {
	entries []*entry
	index   map[*metadata.MethodDef]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[*metadata.MethodDef]*entry)}
}

// Add registers a at md.
func (r *Registry) Add(md *metadata.MethodDef, a *Advice) {
	e, ok := r.index[md]
	if !ok {
		e = &entry{method: md}
		r.index[md] = e
		r.entries = append(r.entries, e)
	}
	e.advices = append(e.advices, a)
}

// Advices returns what is registered at md.
func (r *Registry) Advices(md *metadata.MethodDef) []*Advice {
	if e, ok := r.index[md]; ok {
		return append([]*Advice(nil), e.advices...)
	}
	return nil
}

// Methods returns the advised methods in registration order.
func (r *Registry) Methods() []*metadata.MethodDef {
	out := make([]*metadata.MethodDef, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.method
	}
	return out
}

// Apply restructures every advised method. Each method is processed once;
// the registry is emptied afterwards.
func (r *Registry) Apply(d *metadata.Domain) error {
	for _, e := range r.entries {
		if err := apply(d, e.method, e.advices); err != nil {
			return fmt.Errorf("advising %s: %w", e.method, err)
		}
	}
	r.entries = nil
	r.index = make(map[*metadata.MethodDef]*entry)
	return nil
}

// byJoinPoint splits advices and sorts each group ascending by priority,
// keeping registration order among equals.
func byJoinPoint(advices []*Advice) map[JoinPoint][]*Advice {
	groups := make(map[JoinPoint][]*Advice)
	for _, a := range advices {
		groups[a.JoinPoint] = append(groups[a.JoinPoint], a)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool { return g[i].Priority < g[j].Priority })
	}
	return groups
}

func reversed(in []*Advice) []*Advice {
	out := make([]*Advice, len(in))
	for i, a := range in {
		out[len(in)-1-i] = a
	}
	return out
}
