// Package main implements the procctl CLI for operations against a processd server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the processd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "procctl",
	Short: "CLI for processd server operations",
	Long: `procctl is a command-line interface for the processd HTTP server.
It lists patterns and contracts, runs patterns, and reports verification metrics.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9191", "processd server URL")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(contractsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(validateCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check processd server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Status string `json:"status"`
		}
		if err := getJSON("/health", &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", resp.Status)
		fmt.Fprintf(cmd.OutOrStdout(), "Server URL: %s\n", serverURL)
		return nil
	},
}

var patternsCmd = &cobra.Command{
	Use:   "patterns [id]",
	Short: "List patterns, or show one pattern",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/patterns"
		if len(args) == 1 {
			path += "/" + url.PathEscape(args[0])
		}
		return printJSON(cmd.OutOrStdout(), path)
	},
}

var contractsCmd = &cobra.Command{
	Use:   "contracts",
	Short: "List registered tool contracts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(cmd.OutOrStdout(), "/api/v1/contracts")
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Report pattern steps whose tool has no contract",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(cmd.OutOrStdout(), "/api/v1/audit")
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs [pattern-id]",
	Short: "List recorded runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/runs"
		if len(args) == 1 {
			path += "?pattern=" + url.QueryEscape(args[0])
		}
		return printJSON(cmd.OutOrStdout(), path)
	},
}

var (
	metricsTool    string
	metricsProcess string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show verification metrics per tool or per process",
	Long: `Show verification metrics.

Examples:
  # Every tool
  procctl metrics

  # One tool
  procctl metrics --tool create_customer

  # One process
  procctl metrics --process lead_intake`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if metricsTool != "" {
			q.Set("tool", metricsTool)
		}
		if metricsProcess != "" {
			q.Set("process", metricsProcess)
		}
		path := "/api/v1/metrics/verification"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		return printJSON(cmd.OutOrStdout(), path)
	},
}

func init() {
	metricsCmd.Flags().StringVar(&metricsTool, "tool", "", "tool name")
	metricsCmd.Flags().StringVar(&metricsProcess, "process", "", "process id")
}

// getJSON fetches path and decodes a 200 response into v.
func getJSON(path string, v any) error {
	body, err := do(http.MethodGet, path, nil, http.StatusOK)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// printJSON fetches path and pretty-prints the response body.
func printJSON(w io.Writer, path string) error {
	body, err := do(http.MethodGet, path, nil, http.StatusOK)
	if err != nil {
		return err
	}
	return indent(w, body)
}

func indent(w io.Writer, body []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	out.WriteByte('\n')
	_, err := out.WriteTo(w)
	return err
}

// do sends a request and returns the body when the status is one of ok.
func do(method, path string, payload any, ok ...int) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	target := serverURL + path
	req, err := http.NewRequest(method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{
		Timeout: 60 * time.Second,
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, err)
	}
	for _, code := range ok {
		if resp.StatusCode == code {
			return body, nil
		}
	}
	return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(bytes.TrimSpace(body)))
}
