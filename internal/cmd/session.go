package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"folio/internal/memory/models"
)

var sessionContextMaxTokens int

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and clear conversation sessions on a running server",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently active first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(outputFormat); err != nil {
			return err
		}
		var sessions []models.SessionMetricsResponse
		if err := newAdminClient().do(cmd.Context(), http.MethodGet, "/admin/sessions", nil, nil, &sessions); err != nil {
			return err
		}
		return writeSessions(cmd, sessions, false)
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show metrics for one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(outputFormat); err != nil {
			return err
		}
		var session models.SessionMetricsResponse
		if err := newAdminClient().do(cmd.Context(), http.MethodGet, sessionPath(args[0]), nil, nil, &session); err != nil {
			return err
		}
		return writeSessions(cmd, []models.SessionMetricsResponse{session}, true)
	},
}

var sessionContextCmd = &cobra.Command{
	Use:   "context <session-id>",
	Short: "Print the messages that fit a token budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(outputFormat); err != nil {
			return err
		}
		var query url.Values
		if sessionContextMaxTokens > 0 {
			query = url.Values{"max_tokens": {strconv.Itoa(sessionContextMaxTokens)}}
		}
		var resp models.ContextResponse
		if err := newAdminClient().do(cmd.Context(), http.MethodGet, sessionPath(args[0])+"/context", query, nil, &resp); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if outputFormat == formatJSON {
			return writeJSON(out, resp)
		}
		for _, m := range resp.Messages {
			if _, err := fmt.Fprintf(out, "[%s] %s\n\n", m.Role, m.Content); err != nil {
				return err
			}
		}
		return nil
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <session-id>",
	Short: "Discard a session and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAdminClient().do(cmd.Context(), http.MethodDelete, sessionPath(args[0]), nil, nil, nil); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Cleared session %s\n", args[0])
		return err
	},
}

func sessionPath(id string) string {
	return "/admin/sessions/" + url.PathEscape(id)
}

func writeSessions(cmd *cobra.Command, sessions []models.SessionMetricsResponse, single bool) error {
	out := cmd.OutOrStdout()
	if outputFormat == formatJSON {
		if single && len(sessions) == 1 {
			return writeJSON(out, sessions[0])
		}
		return writeJSON(out, sessions)
	}
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.SessionID,
			s.UserAddress,
			strconv.Itoa(s.MessageCount),
			strconv.Itoa(s.TotalTokens),
			strconv.Itoa(s.SummarizationCount),
			s.LastActivity.Format("2006-01-02 15:04:05"),
		})
	}
	return writeTable(out, []string{"SESSION", "USER", "MESSAGES", "TOKENS", "SUMMARIES", "LAST ACTIVITY"}, rows)
}

func init() {
	addClientFlags(sessionCmd)
	sessionCmd.PersistentFlags().StringVar(&outputFormat, "output-format", formatTable, "Output format: table|json")

	sessionContextCmd.Flags().IntVar(&sessionContextMaxTokens, "max-tokens", 0, "Token budget (0 returns the full history)")

	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionContextCmd)
	sessionCmd.AddCommand(sessionClearCmd)
	rootCmd.AddCommand(sessionCmd)
}
