package task

import "github.com/funvibe/aspectweave/internal/weaver"

// Awareness observes a weaving pass at its fixed points and may adjust the
// declarations around the weaving of built-in aspects. Listeners run in the
// order they were added.
type Awareness interface {
	// Initialize runs once before discovery.
	Initialize(s *weaver.Session)

	// Validate runs per declaration after self validation, with the
	// weavers that passed it in priority order.
	Validate(target weaver.Target, weavers []weaver.Weaver)

	// BeforeImplement and AfterImplement bracket the implementation of
	// the weavers of one declaration.
	BeforeImplement(target weaver.Target, weavers []weaver.Weaver)
	AfterImplement(target weaver.Target, weavers []weaver.Weaver)

	// AfterImplementAll runs once every declaration is implemented, before
	// instance initialization and advice are applied.
	AfterImplementAll(s *weaver.Session)
}

// NopAwareness implements Awareness with no-ops; embed it to observe only
// some of the points.
type NopAwareness struct{}

func (NopAwareness) Initialize(*weaver.Session) {}
func (NopAwareness) Validate(weaver.Target, []weaver.Weaver) {}
func (NopAwareness) BeforeImplement(weaver.Target, []weaver.Weaver) {}
func (NopAwareness) AfterImplement(weaver.Target, []weaver.Weaver) {}
func (NopAwareness) AfterImplementAll(*weaver.Session) {}
