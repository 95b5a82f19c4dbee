package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"folio/internal/ratelimit/models"
)

var (
	rateLimitModel      string
	rateLimitResetModel string
)

var rateLimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Inspect and reset per-model rate limit state on a running server",
}

var rateLimitStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show usage, remaining capacity and backoff per model",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(outputFormat); err != nil {
			return err
		}
		client := newAdminClient()

		var reports []models.ModelReportResponse
		if model := strings.TrimSpace(rateLimitModel); model != "" {
			var report models.ModelReportResponse
			err := client.do(cmd.Context(), http.MethodGet, "/admin/rate-limit/status",
				url.Values{"model": {model}}, nil, &report)
			if err != nil {
				return err
			}
			reports = append(reports, report)
		} else if err := client.do(cmd.Context(), http.MethodGet, "/admin/rate-limit/status", nil, nil, &reports); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if outputFormat == formatJSON {
			return writeJSON(out, reports)
		}
		return writeTable(out, []string{"MODEL", "KIND", "USED", "LIMIT", "USAGE %", "CONCURRENT", "BACKOFF"}, rateLimitRows(reports))
	},
}

func rateLimitRows(reports []models.ModelReportResponse) [][]string {
	var rows [][]string
	for _, r := range reports {
		backoff := "-"
		if r.InBackoff && r.BackoffUntil != nil {
			backoff = r.BackoffUntil.Format("15:04:05")
		}
		for _, s := range r.Limits {
			rows = append(rows, []string{
				r.Model,
				string(s.Kind),
				strconv.Itoa(s.Used),
				strconv.Itoa(s.Limit),
				strconv.FormatFloat(s.UsagePercent, 'f', 1, 64),
				strconv.Itoa(r.Concurrent),
				backoff,
			})
		}
	}
	return rows
}

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear usage history, failure count and backoff for one model",
	RunE: func(cmd *cobra.Command, args []string) error {
		model := strings.TrimSpace(rateLimitResetModel)
		if model == "" {
			return fmt.Errorf("--model is required")
		}
		err := newAdminClient().do(cmd.Context(), http.MethodPost, "/admin/rate-limit/reset", nil,
			models.ResetRequest{Model: model}, nil)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Reset rate limit state for %s\n", model)
		return err
	},
}

func init() {
	addClientFlags(rateLimitCmd)
	rateLimitCmd.PersistentFlags().StringVar(&outputFormat, "output-format", formatTable, "Output format: table|json")

	rateLimitStatusCmd.Flags().StringVar(&rateLimitModel, "model", "", "Show a single model")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetModel, "model", "", "Model to reset")

	rateLimitCmd.AddCommand(rateLimitStatusCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
