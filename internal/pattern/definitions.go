package pattern

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/processd/internal/contract"
)

// Definitions is the on-disk form of a process: its tool contracts and the
// patterns that use them.
type Definitions struct {
	Contracts []contract.ToolContract `yaml:"contracts"`
	Patterns  []Pattern               `yaml:"patterns"`
}

// Parse decodes definitions from YAML, rejecting unknown fields.
func Parse(r io.Reader) (*Definitions, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var defs Definitions
	if err := dec.Decode(&defs); err != nil {
		if errors.Is(err, io.EOF) {
			return &defs, nil
		}
		return nil, fmt.Errorf("decode definitions: %w", err)
	}
	return &defs, nil
}

// ParseBytes decodes definitions from b.
func ParseBytes(b []byte) (*Definitions, error) {
	return Parse(bytes.NewReader(b))
}

// LoadFile reads definitions from path.
func LoadFile(path string) (*Definitions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open definitions: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Apply registers every contract and adds every pattern. It stops at the
// first error; a duplicate tool is reported as *contract.DuplicateToolError.
func (d *Definitions) Apply(reg *contract.Registry, cat *Catalog) error {
	for _, c := range d.Contracts {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register contract %s: %w", c.ToolName, err)
		}
	}
	if err := reg.Check(); err != nil {
		return err
	}
	for _, p := range d.Patterns {
		if err := cat.Add(p); err != nil {
			return fmt.Errorf("add pattern %s: %w", p.ID, err)
		}
	}
	return nil
}

// Gap is a tool used by a pattern that has no contract.
type Gap struct {
	PatternID string `json:"pattern_id"`
	ProcessID string `json:"process_id"`
	StepOrder int    `json:"step_order"`
	Tool      string `json:"tool"`

	// OtherProcess is set when the tool has a contract registered under a
	// different process.
	OtherProcess string `json:"other_process,omitempty"`
}

// Audit reports, for each pattern, the steps whose tool has no contract
// registered for the pattern's process. An empty result means full coverage.
func Audit(reg *contract.Registry, patterns []Pattern) []Gap {
	var gaps []Gap
	for _, p := range patterns {
		covered := make(map[string]bool)
		for _, c := range reg.ListByProcess(p.ProcessID) {
			covered[c.ToolName] = true
		}
		for _, s := range p.Steps {
			if covered[s.Tool] {
				continue
			}
			g := Gap{PatternID: p.ID, ProcessID: p.ProcessID, StepOrder: s.Order, Tool: s.Tool}
			if c := reg.Get(s.Tool); c != nil {
				g.OtherProcess = c.ProcessID
			}
			gaps = append(gaps, g)
		}
	}
	return gaps
}
