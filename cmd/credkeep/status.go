// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// ProbeStatus is the result of one health probe.
type ProbeStatus struct {
	Probe  string `json:"probe"`
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
	timeout    time.Duration
}

var probes = []string{"liveness", "readiness"}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show health of a running credkeep server",
		Long: `Query the liveness and readiness probes on the metrics address of a
running server. Exits non-zero when the server is not ready.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if appCfg.Metrics.Addr == "" {
				return oops.Code("CONFIG_INVALID").With("key", "metrics.addr").
					Errorf("metrics.addr is empty, the server exposes no probes")
			}
			client := &http.Client{Timeout: cfg.timeout}
			return runStatus(cmd, cfg, client, "http://"+appCfg.Metrics.Addr)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 2*time.Second, "probe timeout")
	cmd.Flags().String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address of the server")

	return cmd
}

// runStatus probes baseURL and prints the results.
func runStatus(cmd *cobra.Command, cfg *statusConfig, client *http.Client, baseURL string) error {
	// cobra only sets a context when run through Execute.
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	results := make([]ProbeStatus, 0, len(probes))
	for _, probe := range probes {
		results = append(results, queryProbe(ctx, client, baseURL, probe))
	}

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return oops.Code("STATUS_FORMAT_FAILED").Wrap(err)
		}
		cmd.Println(string(data))
	} else {
		cmd.Print(formatStatusTable(results))
	}

	for _, r := range results {
		if !r.OK {
			return oops.Code("SERVER_NOT_READY").With("probe", r.Probe).Errorf("%s probe failed", r.Probe)
		}
	}
	return nil
}

func queryProbe(ctx context.Context, client *http.Client, baseURL, probe string) ProbeStatus {
	status := ProbeStatus{Probe: probe}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz/"+probe, http.NoBody)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	resp, err := client.Do(req)
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		status.Error = fmt.Sprintf("failed to read response: %v", err)
		return status
	}
	status.Status = resp.StatusCode
	status.Body = strings.TrimSpace(string(body))
	status.OK = resp.StatusCode == http.StatusOK
	return status
}

// formatStatusTable formats the results as a human-readable table.
func formatStatusTable(results []ProbeStatus) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "PROBE\tSTATUS\tDETAIL")
	_, _ = fmt.Fprintln(w, "-----\t------\t------")
	for _, r := range results {
		state := "ok"
		if !r.OK {
			state = "failing"
		}
		detail := r.Body
		if r.Error != "" {
			detail = r.Error
		} else if r.Status != 0 {
			detail = fmt.Sprintf("%d %s", r.Status, r.Body)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.Probe, state, detail)
	}

	_ = w.Flush()
	return buf.String()
}
