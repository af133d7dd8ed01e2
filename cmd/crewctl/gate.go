package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/crewgate/internal/gate"
)

func init() {
	rootCmd.AddCommand(briefingCmd)
	rootCmd.AddCommand(autonomyCmd)
	rootCmd.AddCommand(stateCmd)
}

var briefingCmd = &cobra.Command{
	Use:       "briefing [morning|evening|urgent]",
	Short:     "Compile a briefing for the human",
	Long:      "Compile the morning, evening or urgent briefing. Defaults to morning.",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"morning", "evening", "urgent"},
	RunE:      runBriefing,
}

var autonomyCmd = &cobra.Command{
	Use:   "autonomy",
	Short: "Show the gate's autonomy level and decision accuracy",
	RunE:  runAutonomy,
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the human's current state and recommended load",
	RunE:  runState,
}

func runBriefing(cmd *cobra.Command, args []string) error {
	kind := string(gate.BriefingMorning)
	if len(args) == 1 {
		kind = args[0]
	}
	var b gate.Briefing
	if _, err := doRequest(http.MethodGet, "/api/v1/gate/briefing/"+url.PathEscape(kind), nil, &b); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd, b)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Subject: %s\n", b.Subject)
	fmt.Fprintf(out, "Priority: %s, items: %d\n\n", b.Priority, b.ItemCount)
	fmt.Fprintln(out, b.BodyPlain)
	return nil
}

func runAutonomy(cmd *cobra.Command, _ []string) error {
	var r gate.AutonomyReport
	if _, err := doRequest(http.MethodGet, "/api/v1/gate/autonomy", nil, &r); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd, r)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Right hand:  %s (trust %d)\n", r.GateName, r.TrustScore)
	fmt.Fprintf(out, "Level:       %s - %s\n", r.Level, r.Description)
	fmt.Fprintf(out, "Decisions:   %d (%d overridden)\n", r.TotalDecisions, r.Overrides)
	fmt.Fprintf(out, "Accuracy:    %.1f%%\n", r.AccuracyPct)
	if r.TrustRecommendation != "" {
		fmt.Fprintf(out, "Suggestion:  %s\n", r.TrustRecommendation)
	}
	return nil
}

func runState(cmd *cobra.Command, _ []string) error {
	var r gate.HumanStateReport
	if _, err := doRequest(http.MethodGet, "/api/v1/gate/state", nil, &r); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd, r)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Burnout:          %d/10\n", r.BurnoutScore)
	fmt.Fprintf(out, "Energy:           %s\n", r.Energy)
	fmt.Fprintf(out, "Mood:             %s\n", r.Mood)
	fmt.Fprintf(out, "Messages today:   %d\n", r.MessagesToday)
	fmt.Fprintf(out, "Recommended load: %s\n", r.RecommendedLoad)
	return nil
}
