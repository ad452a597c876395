package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/processd/internal/orchestrator"
	"github.com/fyrsmithlabs/processd/internal/store"
	"github.com/fyrsmithlabs/processd/pkg/engine"
)

var (
	runInput     []string
	runContext   []string
	runInputFile string
	runTenant    string
	runLocal     bool
	runStorePath string
)

var runCmd = &cobra.Command{
	Use:   "run <pattern-id>",
	Short: "Run a pattern and print its summary",
	Long: `Run a pattern on the server and print the run summary.

Values given as key=value are decoded as JSON when possible, so numbers
and booleans keep their type; anything else is a string.

Examples:
  procctl run lead_to_request \
    --input name="John Doe" --input email=john@example.com --input service_type=repair \
    --tenant acme

  procctl run lead_to_request --input-file lead.json

  # Run in-process against a bolt file instead of a server
  procctl run lead_to_request --local --store-path crm.db --input-file lead.json

The command fails unless the run completed, possibly with gaps.`,
	Args: cobra.ExactArgs(1),
	RunE: runPattern,
}

func init() {
	runCmd.Flags().StringArrayVar(&runInput, "input", nil, "input value as key=value (repeatable)")
	runCmd.Flags().StringArrayVar(&runContext, "context", nil, "run context value as key=value (repeatable)")
	runCmd.Flags().StringVar(&runInputFile, "input-file", "", "JSON object file merged under the --input values")
	runCmd.Flags().StringVar(&runTenant, "tenant", "", "tenant id, shorthand for --context tenant_id=...")
	runCmd.Flags().BoolVar(&runLocal, "local", false, "run in-process with the built-in CRM tools")
	runCmd.Flags().StringVar(&runStorePath, "store-path", "", "bolt file for --local runs (default: in-memory)")
}

type runRequest struct {
	Input   map[string]any `json:"input"`
	Context map[string]any `json:"context,omitempty"`
}

type runResponse struct {
	Outcome string          `json:"outcome"`
	Summary json.RawMessage `json:"summary"`
}

func runPattern(cmd *cobra.Command, args []string) error {
	input := map[string]any{}
	if runInputFile != "" {
		data, err := os.ReadFile(runInputFile)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", runInputFile, err)
		}
		if err := json.Unmarshal(data, &input); err != nil {
			return fmt.Errorf("input file must hold a JSON object: %w", err)
		}
	}
	if err := parseValues(runInput, input); err != nil {
		return fmt.Errorf("--input: %w", err)
	}

	runCtx := map[string]any{}
	if err := parseValues(runContext, runCtx); err != nil {
		return fmt.Errorf("--context: %w", err)
	}
	if runTenant != "" {
		runCtx[orchestrator.TenantKey] = runTenant
	}

	if runLocal {
		return runPatternLocal(cmd, args[0], input, runCtx)
	}

	path := "/api/v1/patterns/" + url.PathEscape(args[0]) + "/runs"
	body, err := do(http.MethodPost, path, runRequest{Input: input, Context: runCtx},
		http.StatusOK, http.StatusUnprocessableEntity)
	if err != nil {
		return err
	}

	var resp runResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Outcome == "" {
		// Blocked runs answer with an error envelope.
		if err := indent(cmd.OutOrStdout(), body); err != nil {
			return err
		}
		return fmt.Errorf("run blocked")
	}
	if err := indent(cmd.OutOrStdout(), resp.Summary); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "[procctl] outcome: %s\n", resp.Outcome)

	return checkOutcome(orchestrator.Outcome(resp.Outcome))
}

func checkOutcome(o orchestrator.Outcome) error {
	switch o {
	case orchestrator.OutcomeCompleted, orchestrator.OutcomeCompletedWithGaps:
		return nil
	}
	return fmt.Errorf("run ended %s", o)
}

// runPatternLocal runs the pattern in-process. Rows written by the CRM
// tools persist only when a store path is given.
func runPatternLocal(cmd *cobra.Command, id string, input, runCtx map[string]any) error {
	opts := []engine.Option{}
	if runStorePath != "" {
		st, err := store.NewBoltStore(runStorePath)
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithStore(st), engine.WithRunRecording())
	}
	eng, err := engine.New(opts...)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	summary, err := eng.RunPatternByID(context.Background(), id, input, runCtx)
	if summary == nil {
		return err
	}
	data, mErr := json.Marshal(summary)
	if mErr != nil {
		return fmt.Errorf("failed to encode summary: %w", mErr)
	}
	if iErr := indent(cmd.OutOrStdout(), data); iErr != nil {
		return iErr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "[procctl] outcome: %s\n", summary.Outcome())
	return checkOutcome(summary.Outcome())
}

// parseValues adds key=value pairs to dst.
func parseValues(pairs []string, dst map[string]any) error {
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return fmt.Errorf("expected key=value, got %q", p)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		dst[key] = v
	}
	return nil
}
