// Package routes holds the process-wide route classification table shared by
// the request gate and the page guard.
package routes

import (
	"fmt"
	"slices"
	"strings"
)

// Class is the classification of a request path.
type Class int

const (
	Unclassified Class = iota
	Public
	Protected
	Exempt
)

func (c Class) String() string {
	switch c {
	case Public:
		return "public"
	case Protected:
		return "protected"
	case Exempt:
		return "exempt"
	default:
		return "unclassified"
	}
}

// Config is the raw prefix lists, usually taken straight from configuration.
type Config struct {
	Public    []string
	Protected []string
	Exempt    []string
}

// ConfigurationError reports an invalid classification table. It is fatal at startup.
type ConfigurationError struct {
	Prefix string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("route classification: %q %s", e.Prefix, e.Reason)
}

// Table is an immutable route classification. Safe for concurrent use.
type Table struct {
	public    []string
	protected []string
	exempt    []string
}

// New validates cfg and builds a Table. A prefix listed as both public and
// protected is a ConfigurationError; nested overlaps resolve protected-wins.
func New(cfg Config) (*Table, error) {
	public, err := normalize(cfg.Public)
	if err != nil {
		return nil, err
	}
	protected, err := normalize(cfg.Protected)
	if err != nil {
		return nil, err
	}
	exempt, err := normalize(cfg.Exempt)
	if err != nil {
		return nil, err
	}
	for _, p := range public {
		if slices.Contains(protected, p) {
			return nil, &ConfigurationError{Prefix: p, Reason: "is listed as both public and protected"}
		}
	}
	return &Table{public: public, protected: protected, exempt: exempt}, nil
}

// MustNew is New for tests and static tables; it panics on error.
func MustNew(cfg Config) *Table {
	t, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return t
}

func normalize(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		p := strings.TrimSpace(raw)
		if p == "" {
			return nil, &ConfigurationError{Prefix: raw, Reason: "is blank"}
		}
		if !strings.HasPrefix(p, "/") {
			return nil, &ConfigurationError{Prefix: p, Reason: "must start with /"}
		}
		if len(p) > 1 {
			// "/static/" and "/static" mean the same subtree.
			p = strings.TrimSuffix(p, "/")
		}
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// matches reports whether path equals prefix or lies beneath it.
func matches(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func matchAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if matches(path, p) {
			return true
		}
	}
	return false
}

// Classify returns the class of path. Exempt is checked first, then
// protected, then public.
func (t *Table) Classify(path string) Class {
	if path == "" {
		path = "/"
	}
	switch {
	case matchAny(path, t.exempt):
		return Exempt
	case matchAny(path, t.protected):
		return Protected
	case matchAny(path, t.public):
		return Public
	default:
		return Unclassified
	}
}

func (t *Table) IsProtected(path string) bool { return t.Classify(path) == Protected }
func (t *Table) IsPublic(path string) bool    { return t.Classify(path) == Public }
func (t *Table) IsExempt(path string) bool    { return t.Classify(path) == Exempt }

func (t *Table) Public() []string    { return slices.Clone(t.public) }
func (t *Table) Protected() []string { return slices.Clone(t.protected) }
func (t *Table) Exempt() []string    { return slices.Clone(t.exempt) }
