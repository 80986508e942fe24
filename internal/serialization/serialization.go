// Package serialization turns the aspect instances of a woven module into
// the embedded resource its implementation-details type reads at startup.
package serialization

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Serializer converts aspect instances to bytes and back. Deserialize must
// return the instances in the order they were serialized.
type Serializer interface {
	Serialize(aspects []any) ([]byte, error)
	Deserialize(data []byte) ([]any, error)
}

var errEmpty = errors.New("empty aspect payload")

type envelope struct {
	Aspects []any
}

// Gob serializes aspects with encoding/gob. Aspect types must be registered
// through aspects.Registry (or gob.Register) on both ends.
type Gob struct{}

// NewGob returns the gob serializer.
func NewGob() Gob { return Gob{} }

// Serialize implements Serializer.
func (Gob) Serialize(aspects []any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{Aspects: aspects}); err != nil {
		return nil, fmt.Errorf("gob: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize implements Serializer.
func (Gob) Deserialize(data []byte) ([]any, error) {
	if len(data) == 0 {
		return nil, errEmpty
	}
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, fmt.Errorf("gob: %w", err)
	}
	return env.Aspects, nil
}

const inProcessPrefix = "inprocess:"

// InProcess hands out the live aspect instances instead of copies. The
// payload is only a handle into this serializer, so it is meaningful only
// inside the process that wove the module.
type InProcess struct {
	mu     sync.Mutex
	next   int
	stored map[int][]any
}

// NewInProcess creates an empty in-process store.
func NewInProcess() *InProcess {
	return &InProcess{stored: make(map[int][]any)}
}

// Serialize implements Serializer.
func (s *InProcess) Serialize(aspects []any) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.stored[s.next] = append([]any(nil), aspects...)
	return []byte(inProcessPrefix + strconv.Itoa(s.next)), nil
}

// Deserialize implements Serializer.
func (s *InProcess) Deserialize(data []byte) ([]any, error) {
	if len(data) == 0 {
		return nil, errEmpty
	}
	handle, ok := strings.CutPrefix(string(data), inProcessPrefix)
	if !ok {
		return nil, fmt.Errorf("inprocess: not a handle: %q", data)
	}
	id, err := strconv.Atoi(handle)
	if err != nil {
		return nil, fmt.Errorf("inprocess: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	values, ok := s.stored[id]
	if !ok {
		return nil, fmt.Errorf("inprocess: unknown handle %d", id)
	}
	return append([]any(nil), values...), nil
}

// ByName returns the serializer selected in a project file.
func ByName(name string) (Serializer, error) {
	switch name {
	case "", "gob":
		return NewGob(), nil
	case "inprocess":
		return NewInProcess(), nil
	}
	return nil, fmt.Errorf("unknown serializer %q", name)
}
