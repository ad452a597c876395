package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/processd/internal/pattern"
	"github.com/fyrsmithlabs/processd/pkg/engine"
)

var validateStandalone bool

// validateCmd checks a definitions file offline. No server is contacted.
var validateCmd = &cobra.Command{
	Use:   "validate <definitions.yaml>",
	Short: "Validate a contracts and patterns file",
	Long: `Load a definitions file into a local engine and report conflicts
and contract coverage gaps. By default the file is checked on top of the
built-in catalog, as processd would load it.

Examples:
  procctl validate definitions.yaml
  procctl validate --standalone definitions.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := pattern.LoadFile(args[0])
		if err != nil {
			return err
		}

		opts := []engine.Option{engine.WithDefinitions(defs)}
		if validateStandalone {
			opts = append(opts, engine.WithoutBuiltins())
		}
		eng, err := engine.New(opts...)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d contract(s), %d pattern(s)\n", len(defs.Contracts), len(defs.Patterns))
		gaps := eng.Audit()
		for _, g := range gaps {
			fmt.Fprintf(out, "  gap: pattern %s step %d uses %s without a %s contract\n",
				g.PatternID, g.StepOrder, g.Tool, g.ProcessID)
		}
		if len(gaps) > 0 {
			return fmt.Errorf("%d coverage gap(s)", len(gaps))
		}
		fmt.Fprintln(out, "ok")
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateStandalone, "standalone", false, "validate without the built-in catalog")
}
