package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/crewgate/internal/anomaly"
	crewhttp "github.com/fyrsmithlabs/crewgate/internal/http"
)

var (
	// scan-agent flags
	scanWindow time.Duration

	// events flags
	eventsSeverity   string
	eventsDomain     string
	eventsUnresolved bool
	eventsLimit      int
)

func init() {
	rootCmd.AddCommand(scanAgentCmd)
	rootCmd.AddCommand(scanAllCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(eventsCmd)

	scanAgentCmd.Flags().DurationVar(&scanWindow, "window", 0, "Activity window to scan (default: server default, 24h)")

	eventsCmd.Flags().StringVar(&eventsSeverity, "severity", "", "Filter by severity")
	eventsCmd.Flags().StringVar(&eventsDomain, "domain", "", "Filter by threat domain")
	eventsCmd.Flags().BoolVar(&eventsUnresolved, "unresolved", false, "Only unresolved events")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 20, "Maximum number of events")
}

var scanAgentCmd = &cobra.Command{
	Use:   "scan-agent <agent-id>",
	Short: "Scan one agent's recent activity for anomalies",
	Long: `Scan one agent's recent activity for message volume spikes, sensitive
audit actions, unusual message types and direct human contact.

Examples:
  crewctl scan-agent 7
  crewctl scan-agent 7 --window 2h`,
	Args: cobra.ExactArgs(1),
	RunE: runScanAgent,
}

var scanAllCmd = &cobra.Command{
	Use:   "scan-all",
	Short: "Scan every active agent except the human and the scanner",
	RunE:  runScanAll,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the consolidated security summary",
	RunE:  runSummary,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List security events",
	RunE:  runEvents,
}

func runScanAgent(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid agent id %q", args[0])
	}
	path := fmt.Sprintf("/api/v1/agents/%d/scan", id)
	if scanWindow > 0 {
		path += "?window=" + url.QueryEscape(scanWindow.String())
	}
	var r anomaly.Report
	if _, err := doRequest(http.MethodPost, path, nil, &r); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd, r)
	}
	printReports(cmd.OutOrStdout(), []anomaly.Report{r})
	for _, f := range r.Findings {
		fmt.Fprintf(cmd.OutOrStdout(), "  - [%s] %s\n", f.Category, f.Description)
	}
	return nil
}

func runScanAll(cmd *cobra.Command, _ []string) error {
	var resp crewhttp.ScanAllResponse
	if _, err := doRequest(http.MethodPost, "/api/v1/scan", nil, &resp); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd, resp)
	}
	printReports(cmd.OutOrStdout(), resp.Reports)
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d agent(s) scanned\n", resp.Count)
	return nil
}

func printReports(out io.Writer, reports []anomaly.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENT\tTYPE\tTHREAT\tANOMALIES\tRECOMMENDATION")
	for _, r := range reports {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
			r.AgentID, r.AgentName, r.AgentType, r.ThreatLevel, len(r.Findings), truncate(r.Recommendation, 50))
	}
	_ = w.Flush()
}

func runSummary(cmd *cobra.Command, _ []string) error {
	var sum anomaly.Summary
	if _, err := doRequest(http.MethodGet, "/api/v1/security/summary", nil, &sum); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd, sum)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Security agent: %s\n", sum.ScannerName)
	fmt.Fprintf(out, "Generated:      %s\n", sum.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Agents scanned: %d (%d flagged)\n", sum.AgentScan.TotalScanned, len(sum.AgentScan.Flagged))
	fmt.Fprintf(out, "Recent events:  %d\n", sum.RecentEvents.Total)
	fmt.Fprintf(out, "Unresolved:     %d\n", len(sum.Unresolved))
	if len(sum.Recommendations) > 0 {
		fmt.Fprintln(out, "\nRecommendations:")
		for _, r := range sum.Recommendations {
			fmt.Fprintf(out, "  - %s\n", r)
		}
	}
	return nil
}

func runEvents(cmd *cobra.Command, _ []string) error {
	q := url.Values{}
	if eventsSeverity != "" {
		q.Set("severity", eventsSeverity)
	}
	if eventsDomain != "" {
		q.Set("domain", eventsDomain)
	}
	if eventsUnresolved {
		q.Set("unresolved", "true")
	}
	if eventsLimit > 0 {
		q.Set("limit", strconv.Itoa(eventsLimit))
	}
	path := "/api/v1/security/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp crewhttp.EventsResponse
	if _, err := doRequest(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd, resp)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSEVERITY\tDOMAIN\tDELIVERED\tTITLE")
	for _, ev := range resp.Events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n",
			ev.ID, strings.ToUpper(string(ev.Severity)), ev.Domain, ev.DeliveredToGate, truncate(ev.Title, 60))
	}
	return w.Flush()
}
