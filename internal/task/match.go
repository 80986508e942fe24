package task

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

const regexPrefix = "regex:"

// pattern matches declaration names in AttributeTargetTypes and
// AttributeTargetMembers. Plain patterns use * and ? wildcards; a
// "regex:" prefix selects a regular expression matched against the whole
// name.
type pattern struct {
	raw  string
	glob string
	re   *regexp.Regexp
}

func compilePattern(raw string) (*pattern, error) {
	if expr, ok := strings.CutPrefix(raw, regexPrefix); ok {
		re, err := regexp.Compile("^(?:" + expr + ")$")
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", raw, err)
		}
		return &pattern{raw: raw, re: re}, nil
	}
	if _, err := path.Match(raw, ""); err != nil {
		return nil, fmt.Errorf("pattern %q: %w", raw, err)
	}
	return &pattern{raw: raw, glob: raw}, nil
}

// Match reports whether name matches. A nil pattern matches everything.
func (p *pattern) Match(name string) bool {
	if p == nil {
		return true
	}
	if p.re != nil {
		return p.re.MatchString(name)
	}
	ok, _ := path.Match(p.glob, name)
	return ok
}

func (p *pattern) String() string {
	if p == nil {
		return "*"
	}
	return p.raw
}
