package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Project represents an aspectweave.yaml file.
type Project struct {
	// Input is the module bundle to weave, relative to the project file.
	Input string `yaml:"input"`

	// Output is where the woven bundle is written. Defaults to Input with
	// ".woven" inserted before the extension.
	Output string `yaml:"output,omitempty"`

	// ErrorCeiling is the number of errors after which weaving stops.
	ErrorCeiling int `yaml:"error_ceiling,omitempty"`

	// Target selects the static constructor flavor: "full" wraps module
	// initialization in a logging handler, "compact" does not.
	Target string `yaml:"target,omitempty"`

	// Framework is a semver constraint the referenced Aspects.Framework
	// version must satisfy (e.g. "^1.4").
	Framework string `yaml:"framework,omitempty"`

	// Serializer names how aspect instances are embedded ("gob").
	Serializer string `yaml:"serializer,omitempty"`

	// Cache enables the content-addressed output cache.
	Cache *bool `yaml:"cache,omitempty"`

	// Aspects are applied in addition to the ones found in the module.
	Aspects []AspectSpec `yaml:"aspects,omitempty"`

	dir        string
	constraint *semver.Constraints
}

// AspectSpec applies an aspect by name to a declaration of the module.
type AspectSpec struct {
	// Type is the registered aspect type name.
	Type string `yaml:"type"`

	// Target is "Namespace.Type", "Namespace.Type::Method" or
	// "Namespace.Type::field". A method name selects every overload.
	Target string `yaml:"target"`

	// Priority overrides the configured priority of the aspect.
	Priority *int `yaml:"priority,omitempty"`

	Args  []any          `yaml:"args,omitempty"`
	Named map[string]any `yaml:"named,omitempty"`
}

// LoadProject reads and parses a project file.
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading project %s: %w", path, err)
	}
	return ParseProject(data, path)
}

// ParseProject parses project content from bytes. The path locates relative
// paths and appears in error messages.
func ParseProject(data []byte, path string) (*Project, error) {
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	p.dir = filepath.Dir(path)
	if err := p.validate(path); err != nil {
		return nil, err
	}
	p.setDefaults()
	return &p, nil
}

// FindProject searches for aspectweave.yaml starting from dir and walking up
// to parent directories. It returns "" and no error when there is none.
func FindProject(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, ProjectFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

func (p *Project) validate(path string) error {
	if p.Input == "" {
		return fmt.Errorf("%s: input is required", path)
	}
	switch p.Target {
	case "", "full", "compact":
	default:
		return fmt.Errorf("%s: target %q must be full or compact", path, p.Target)
	}
	switch p.Serializer {
	case "", "gob":
	default:
		return fmt.Errorf("%s: unknown serializer %q", path, p.Serializer)
	}
	if p.ErrorCeiling < 0 {
		return fmt.Errorf("%s: error_ceiling must not be negative", path)
	}
	if p.Framework != "" {
		c, err := semver.NewConstraint(p.Framework)
		if err != nil {
			return fmt.Errorf("%s: framework constraint %q: %w", path, p.Framework, err)
		}
		p.constraint = c
	}
	for i, a := range p.Aspects {
		if a.Type == "" {
			return fmt.Errorf("%s: aspects[%d]: type is required", path, i)
		}
		if a.Target == "" {
			return fmt.Errorf("%s: aspects[%d] (%s): target is required", path, i, a.Type)
		}
	}
	return nil
}

func (p *Project) setDefaults() {
	if p.Output == "" {
		ext := filepath.Ext(p.Input)
		p.Output = p.Input[:len(p.Input)-len(ext)] + ".woven" + ext
	}
	if p.Target == "" {
		p.Target = "full"
	}
	if p.Serializer == "" {
		p.Serializer = "gob"
	}
	if p.Cache == nil {
		enabled := true
		p.Cache = &enabled
	}
}

// Dir returns the directory holding the project file.
func (p *Project) Dir() string { return p.dir }

// InputPath returns Input resolved against the project directory.
func (p *Project) InputPath() string { return p.resolve(p.Input) }

// OutputPath returns Output resolved against the project directory.
func (p *Project) OutputPath() string { return p.resolve(p.Output) }

func (p *Project) resolve(path string) string {
	if filepath.IsAbs(path) || p.dir == "" {
		return path
	}
	return filepath.Join(p.dir, path)
}

// CacheEnabled reports whether woven outputs may be cached.
func (p *Project) CacheEnabled() bool { return p.Cache == nil || *p.Cache }

// CheckFramework reports whether version satisfies the framework constraint.
// Without a constraint every version is accepted.
func (p *Project) CheckFramework(version string) (bool, error) {
	if p.constraint == nil {
		return true, nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("framework version %q: %w", version, err)
	}
	return p.constraint.Check(v), nil
}
