package typesystem

import (
	"math/rand"
	"testing"
)

var (
	tInt  = TCon{Name: "System.Int32", Module: "Aspects.Framework"}
	tStr  = TCon{Name: "System.String", Module: "Aspects.Framework"}
	tList = TCon{Name: "App.List`1", Module: "App"}
	tPair = TCon{Name: "App.Pair`2", Module: "App"}
)

// randomType builds a small type over a fixed vocabulary of constructors and parameters.
func randomType(r *rand.Rand, depth int) Type {
	if depth == 0 {
		switch r.Intn(5) {
		case 0:
			return tInt
		case 1:
			return tStr
		case 2:
			return TypeParam(r.Intn(3))
		case 3:
			return MethodParam(r.Intn(2))
		default:
			return TypeParam(0)
		}
	}
	switch r.Intn(4) {
	case 0:
		return TApp{Constructor: tList, Args: []Type{randomType(r, depth-1)}}
	case 1:
		return TApp{Constructor: tPair, Args: []Type{randomType(r, depth-1), randomType(r, depth-1)}}
	case 2:
		return TArray{Elem: randomType(r, depth-1)}
	default:
		return randomType(r, 0)
	}
}

func randomSubst(r *rand.Rand) Subst {
	s := Subst{}
	for _, v := range []TVar{TypeParam(0), TypeParam(1), TypeParam(2), MethodParam(0), MethodParam(1)} {
		if r.Intn(2) == 0 {
			s[v.Name] = randomType(r, r.Intn(3))
		}
	}
	return s
}

func TestSubstCompose_Associative(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		a, b, c := randomSubst(r), randomSubst(r), randomSubst(r)
		left := a.Compose(b).Compose(c)
		right := a.Compose(b.Compose(c))
		if !left.Equal(right) {
			t.Fatalf("composition not associative:\n a=%s\n b=%s\n c=%s\n (ab)c=%s\n a(bc)=%s", a, b, c, left, right)
		}
	}
}

func TestSubstCompose_MatchesSequentialApply(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 500; i++ {
		a, b := randomSubst(r), randomSubst(r)
		typ := randomType(r, 3)
		got := typ.Apply(a.Compose(b))
		want := typ.Apply(a).Apply(b)
		if !Equal(got, want) {
			t.Fatalf("apply(compose) = %s, want %s (type %s, a=%s, b=%s)", got, want, typ, a, b)
		}
	}
}

func TestSubstCompose_Identity(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	id := Identity(3, 2)
	for i := 0; i < 200; i++ {
		s := randomSubst(r)
		typ := randomType(r, 3)
		if got, want := typ.Apply(id.Compose(s)), typ.Apply(s); !Equal(got, want) {
			t.Fatalf("identity on the left changed result: got %s, want %s", got, want)
		}
		if got, want := typ.Apply(s.Compose(id)), typ.Apply(s); !Equal(got, want) {
			t.Fatalf("identity on the right changed result: got %s, want %s", got, want)
		}
		once := typ.Apply(id)
		if !Equal(once, typ) {
			t.Fatalf("identity apply = %s, want %s", once, typ)
		}
	}
}

func TestApply_IsSinglePass(t *testing.T) {
	// Swapping parameters must not chase the replacement again.
	swap := Subst{"!0": TypeParam(1), "!1": TypeParam(0)}
	typ := TApp{Constructor: tPair, Args: []Type{TypeParam(0), TypeParam(1)}}
	got := typ.Apply(swap).String()
	want := "[App]App.Pair`2<!1,!0>"
	if got != want {
		t.Errorf("swap = %s, want %s", got, want)
	}
}

func TestTVar_Position(t *testing.T) {
	tests := []struct {
		v        TVar
		pos      int
		isMethod bool
	}{
		{TypeParam(0), 0, false},
		{TypeParam(12), 12, false},
		{MethodParam(3), 3, true},
		{TVar{Name: "!x"}, -1, false},
	}
	for _, tt := range tests {
		if got := tt.v.Position(); got != tt.pos {
			t.Errorf("%s.Position() = %d, want %d", tt.v, got, tt.pos)
		}
		if got := tt.v.IsMethodParam(); got != tt.isMethod {
			t.Errorf("%s.IsMethodParam() = %v, want %v", tt.v, got, tt.isMethod)
		}
	}
}

func TestParseType_RoundTrip(t *testing.T) {
	inputs := []Type{
		tInt,
		TApp{Constructor: tList, Args: []Type{TypeParam(0)}},
		TApp{Constructor: tPair, Args: []Type{MethodParam(1), TArray{Elem: tStr}}},
		TByRef{Elem: TApp{Constructor: tList, Args: []Type{tInt}}},
	}
	for _, in := range inputs {
		parsed, err := ParseType(in.String())
		if err != nil {
			t.Fatalf("ParseType(%q): %v", in.String(), err)
		}
		if !Equal(parsed, in) {
			t.Errorf("ParseType(%q) = %s", in.String(), parsed)
		}
	}
}

func TestParseType_Unqualified(t *testing.T) {
	parsed, err := ParseType("App.IStore<System.Int32>")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q := Qualify(parsed, func(name string) string {
		if name == "System.Int32" {
			return "Aspects.Framework"
		}
		return "App"
	})
	if got, want := q.String(), "[App]App.IStore<[Aspects.Framework]System.Int32>"; got != want {
		t.Errorf("qualified = %s, want %s", got, want)
	}
}

func TestParseType_Errors(t *testing.T) {
	for _, in := range []string{"", "App.List<", "[App", "!x", "App.Pair<A,"} {
		if _, err := ParseType(in); err == nil {
			t.Errorf("ParseType(%q) succeeded, want error", in)
		}
	}
}

func TestSortTVars(t *testing.T) {
	got := SortTVars([]TVar{MethodParam(1), TypeParam(2), MethodParam(0), TypeParam(0), TypeParam(2)})
	want := []string{"!0", "!2", "!!0", "!!1"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i].Name != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, got[i].Name, want[i])
		}
	}
}
