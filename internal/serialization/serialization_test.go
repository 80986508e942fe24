package serialization

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/funvibe/aspectweave/pkg/aspects"
)

type traceAspect struct {
	Category string
	Depth    int
}

func init() {
	aspects.NewRegistry().Register("Tests.TraceAspect", &traceAspect{}, nil)
}

func TestGob_PreservesOrderAndState(t *testing.T) {
	in := []any{&traceAspect{Category: "a", Depth: 1}, &traceAspect{Category: "b", Depth: 2}}
	data, err := NewGob().Serialize(in)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	out, err := NewGob().Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("aspects differ (-want +got):\n%s", diff)
	}
}

func TestGob_Deterministic(t *testing.T) {
	in := []any{&traceAspect{Category: "x", Depth: 3}}
	first, err := NewGob().Serialize(in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewGob().Serialize(in)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("two encodings of the same aspects differ")
	}
}

func TestGob_RejectsGarbage(t *testing.T) {
	if _, err := NewGob().Deserialize(nil); err == nil {
		t.Errorf("expected an error for an empty payload")
	}
	if _, err := NewGob().Deserialize([]byte("not gob")); err == nil {
		t.Errorf("expected an error for a malformed payload")
	}
}

func TestInProcess_ReturnsLiveInstances(t *testing.T) {
	s := NewInProcess()
	live := &traceAspect{Category: "live"}
	data, err := s.Serialize([]any{live})
	if err != nil {
		t.Fatal(err)
	}
	out, err := s.Deserialize(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0] != live {
		t.Fatalf("got %v, want the original instance", out)
	}
	if _, err := NewInProcess().Deserialize(data); err == nil {
		t.Errorf("a handle must not resolve in another store")
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "gob", "inprocess"} {
		if _, err := ByName(name); err != nil {
			t.Errorf("ByName(%q): %v", name, err)
		}
	}
	if _, err := ByName("xml"); err == nil {
		t.Errorf("ByName(xml) should fail")
	}
}
