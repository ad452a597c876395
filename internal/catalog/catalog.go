// Package catalog ships the built-in process definitions.
package catalog

import (
	_ "embed"
	"fmt"

	"github.com/fyrsmithlabs/processd/internal/contract"
	"github.com/fyrsmithlabs/processd/internal/pattern"
)

// LeadIntakeProcess is the process id of the lead intake definitions.
const LeadIntakeProcess = "lead_intake"

// Pattern ids.
const (
	LeadToRequest  = "lead_to_request"
	NotifyCustomer = "notify_customer"
)

//go:embed lead_intake.yaml
var leadIntake []byte

// Load parses the built-in definitions.
func Load() (*pattern.Definitions, error) {
	defs, err := pattern.ParseBytes(leadIntake)
	if err != nil {
		return nil, fmt.Errorf("built-in definitions: %w", err)
	}
	return defs, nil
}

// Install registers the built-in contracts and patterns.
func Install(reg *contract.Registry, cat *pattern.Catalog) error {
	defs, err := Load()
	if err != nil {
		return err
	}
	return defs.Apply(reg, cat)
}
