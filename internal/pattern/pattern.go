// Package pattern defines business-process patterns: ordered lists of tool
// steps with templated arguments, optional steps and skip conditions.
package pattern

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/processd/internal/template"
)

var (
	// ErrInvalidPattern is returned for malformed pattern definitions.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrPatternNotFound is returned when a pattern id is unknown.
	ErrPatternNotFound = errors.New("pattern not found")

	// ErrDuplicatePattern is returned when a pattern id is added twice.
	ErrDuplicatePattern = errors.New("duplicate pattern")
)

// Step is one tool invocation within a pattern.
type Step struct {
	// Order is 1-based and strictly increasing within a pattern.
	Order int    `yaml:"order" json:"order"`
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
	Tool  string `yaml:"tool" json:"tool"`

	// Args may contain {{scope.path}} placeholders over input, results and context.
	Args map[string]any `yaml:"args,omitempty" json:"args,omitempty"`

	// Optional steps may fail without stopping the run.
	Optional bool `yaml:"optional,omitempty" json:"optional,omitempty"`

	// SkipIf is a boolean expression; when true the step is not run.
	SkipIf string `yaml:"skip_if,omitempty" json:"skip_if,omitempty"`

	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Key returns the name the step's result is stored under.
func (s Step) Key() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Tool
}

// Pattern is an ordered set of steps implementing one business process.
type Pattern struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	ProcessID   string `yaml:"process" json:"process_id"`
	Category    string `yaml:"category,omitempty" json:"category,omitempty"`
	Steps       []Step `yaml:"steps" json:"steps"`

	// Preconditions and Postconditions are human-readable process invariants.
	Preconditions  []string `yaml:"preconditions,omitempty" json:"preconditions,omitempty"`
	Postconditions []string `yaml:"postconditions,omitempty" json:"postconditions,omitempty"`

	// SuccessMetrics names the signals a successful run should emit.
	SuccessMetrics []string `yaml:"success_metrics,omitempty" json:"success_metrics,omitempty"`
}

// Validate checks the pattern is well formed.
func (p *Pattern) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidPattern)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: %s has no steps", ErrInvalidPattern, p.ID)
	}

	keys := make(map[string]int, len(p.Steps))
	prev := 0
	for i, s := range p.Steps {
		if s.Tool == "" {
			return fmt.Errorf("%w: %s step %d has no tool", ErrInvalidPattern, p.ID, i+1)
		}
		if s.Order < 1 {
			return fmt.Errorf("%w: %s step %q has order %d, must be >= 1", ErrInvalidPattern, p.ID, s.Key(), s.Order)
		}
		if s.Order <= prev {
			return fmt.Errorf("%w: %s step %q order %d does not follow %d", ErrInvalidPattern, p.ID, s.Key(), s.Order, prev)
		}
		prev = s.Order
		if other, dup := keys[s.Key()]; dup {
			return fmt.Errorf("%w: %s steps %d and %d share result key %q", ErrInvalidPattern, p.ID, other, s.Order, s.Key())
		}
		keys[s.Key()] = s.Order
		if err := template.CompileBool(s.SkipIf); err != nil {
			return fmt.Errorf("%w: %s step %q skip_if: %v", ErrInvalidPattern, p.ID, s.Key(), err)
		}
	}
	return nil
}

// Tools returns the distinct tools the pattern uses, in step order.
func (p *Pattern) Tools() []string {
	seen := make(map[string]bool, len(p.Steps))
	var out []string
	for _, s := range p.Steps {
		if !seen[s.Tool] {
			seen[s.Tool] = true
			out = append(out, s.Tool)
		}
	}
	return out
}

// Catalog holds validated patterns by id. It is safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	patterns map[string]Pattern
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{patterns: make(map[string]Pattern)}
}

// Add validates and stores p.
func (c *Catalog) Add(p Pattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.patterns[p.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePattern, p.ID)
	}
	c.patterns[p.ID] = p
	return nil
}

// Get returns the pattern with id.
func (c *Catalog) Get(id string) (Pattern, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.patterns[id]
	if !ok {
		return Pattern{}, fmt.Errorf("%w: %s", ErrPatternNotFound, id)
	}
	return p, nil
}

// List returns all patterns sorted by id.
func (c *Catalog) List() []Pattern {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Pattern, 0, len(c.patterns))
	for _, p := range c.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
