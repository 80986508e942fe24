package aspects

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type counter struct {
	Start int
}

type named struct{}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("Tests.Counter", &counter{}, func(args []any, _ map[string]any) (any, error) {
		c := &counter{}
		if len(args) > 0 {
			c.Start = args[0].(int)
		}
		return c, nil
	})
	r.Register("Tests.Named", named{}, func([]any, map[string]any) (any, error) { return named{}, nil })

	got, err := r.Create("Tests.Counter", []any{3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if c := got.(*counter); c.Start != 3 {
		t.Errorf("Start = %d, want 3", c.Start)
	}

	tests := []struct {
		aspect any
		want   string
		ok     bool
	}{
		{&counter{}, "Tests.Counter", true},
		{named{}, "Tests.Named", true},
		{counter{}, "", false},
		{"text", "", false},
	}
	for _, tt := range tests {
		name, ok := r.NameOf(tt.aspect)
		if name != tt.want || ok != tt.ok {
			t.Errorf("NameOf(%T) = %q, %v, want %q, %v", tt.aspect, name, ok, tt.want, tt.ok)
		}
	}

	if diff := cmp.Diff([]string{"Tests.Counter", "Tests.Named"}, r.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	if _, err := r.Create("Tests.Missing", nil, nil); err == nil {
		t.Errorf("creating an unregistered aspect succeeded")
	}
}
