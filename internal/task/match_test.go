package task

import "testing"

func TestPattern(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"*", "Anything", true},
		{"Shop.*", "Shop.Cart", true},
		{"Shop.*", "Bank.Cart", false},
		{"Get?", "GetX", true},
		{"Get?", "GetXY", false},
		{"regex:Get.*|Set.*", "SetPrice", true},
		{"regex:Get", "GetPrice", false},
		{"regex:(?i)get.*", "GetPrice", true},
	}
	for _, tt := range tests {
		p, err := compilePattern(tt.pattern)
		if err != nil {
			t.Fatalf("compilePattern(%q): %v", tt.pattern, err)
		}
		if got := p.Match(tt.name); got != tt.want {
			t.Errorf("%q.Match(%q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
		}
	}
}

func TestPattern_Invalid(t *testing.T) {
	for _, raw := range []string{"regex:(", "[a-"} {
		if _, err := compilePattern(raw); err == nil {
			t.Errorf("compilePattern(%q) succeeded", raw)
		}
	}
}

func TestPattern_NilMatchesEverything(t *testing.T) {
	var p *pattern
	if !p.Match("x") || p.String() != "*" {
		t.Errorf("nil pattern does not match everything")
	}
}
