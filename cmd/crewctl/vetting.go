package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	crewhttp "github.com/fyrsmithlabs/crewgate/internal/http"
	"github.com/fyrsmithlabs/crewgate/internal/vetting"
)

var (
	// install command flags
	installAgentID  int64
	installAddedBy  string
	installOverride bool
)

func init() {
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(vetCmd)
	rootCmd.AddCommand(installCmd)

	installCmd.Flags().Int64Var(&installAgentID, "agent", 0, "Agent to install the skill on (required)")
	installCmd.Flags().StringVar(&installAddedBy, "added-by", "", "Who requested the install (defaults to the token subject)")
	installCmd.Flags().BoolVar(&installOverride, "override", false, "Human approval for a skill the registry does not know")
	_ = installCmd.MarkFlagRequired("agent")
}

var hashCmd = &cobra.Command{
	Use:   "hash [file]",
	Short: "Compute the registry hash of a skill configuration",
	Long: `Compute the content hash the skill registry keys on. Formatting, key
order and comments do not change the hash.

Examples:
  crewctl hash skill.json
  cat skill.json | crewctl hash -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHash,
}

var scanCmd = &cobra.Command{
	Use:   "scan [file]",
	Short: "Scan a skill configuration for risky patterns",
	Long: `Scan a skill configuration (or any text) for prompt injection,
exfiltration, code execution and credential patterns.

Examples:
  crewctl scan skill.json
  crewctl scan --json skill.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

var vetCmd = &cobra.Command{
	Use:   "vet <skill-name> [file]",
	Short: "Vet a skill against the registry without installing it",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runVet,
}

var installCmd = &cobra.Command{
	Use:   "install <skill-name> [file]",
	Short: "Install a skill on an agent through the vetting pipeline",
	Long: `Install a skill on an agent. Blocked or unsafe skills are refused; a
skill the registry does not know needs --override, which also registers it
as vetted and therefore requires an operator token.

Examples:
  crewctl install weather skill.json --agent 7
  CREWGATE_TOKEN=$(crewctl token) crewctl install weather skill.json --agent 7 --override`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runInstall,
}

func runHash(cmd *cobra.Command, args []string) error {
	content, err := readContent(cmd, args)
	if err != nil {
		return err
	}
	var resp crewhttp.HashResponse
	if _, err := doRequest(http.MethodPost, "/api/v1/vetting/hash", crewhttp.ContentRequest{Content: content}, &resp); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd, resp)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.ContentHash)
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	content, err := readContent(cmd, args)
	if err != nil {
		return err
	}
	var res vetting.ScanResult
	if _, err := doRequest(http.MethodPost, "/api/v1/vetting/scan", crewhttp.ContentRequest{Content: content}, &res); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd, res)
	}
	printScan(cmd, res)
	return nil
}

func printScan(cmd *cobra.Command, res vetting.ScanResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Safe:           %t\n", res.Safe)
	fmt.Fprintf(out, "Risk score:     %d/10\n", res.RiskScore)
	fmt.Fprintf(out, "Recommendation: %s\n", res.Recommendation)
	if len(res.Flags) == 0 {
		return
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEVERITY\tPATTERN\tFIELD\tMATCH")
	for _, f := range res.Flags {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Severity, f.PatternName, f.Field, truncate(f.MatchedText, 40))
	}
	_ = w.Flush()
}

// skillArgs splits "<skill-name> [file]".
func skillArgs(cmd *cobra.Command, args []string) (string, string, error) {
	name := strings.TrimSpace(args[0])
	if name == "" {
		return "", "", fmt.Errorf("skill name is required")
	}
	content, err := readContent(cmd, args[1:])
	return name, content, err
}

func runVet(cmd *cobra.Command, args []string) error {
	name, content, err := skillArgs(cmd, args)
	if err != nil {
		return err
	}
	var res vetting.VetResult
	if _, err := doRequest(http.MethodPost, "/api/v1/vetting/vet", crewhttp.VetRequest{Name: name, Content: content}, &res); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd, res)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Skill:             %s\n", res.Name)
	fmt.Fprintf(out, "Hash:              %s\n", res.ContentHash)
	fmt.Fprintf(out, "Registry status:   %s\n", res.RegistryStatus)
	fmt.Fprintf(out, "Can add:           %t\n", res.CanAdd)
	fmt.Fprintf(out, "Requires approval: %t\n", res.RequiresApproval)
	fmt.Fprintf(out, "Reason:            %s\n", res.Reason)
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	name, content, err := skillArgs(cmd, args)
	if err != nil {
		return err
	}
	if installOverride && token == "" {
		return fmt.Errorf("--override requires an operator token (--token or CREWGATE_TOKEN)")
	}
	req := crewhttp.InstallRequest{
		AgentID:       installAgentID,
		Content:       content,
		AddedBy:       installAddedBy,
		HumanOverride: installOverride,
	}
	var res vetting.AddResult
	status, err := doRequest(http.MethodPost, "/api/v1/skills/"+url.PathEscape(name)+"/install", req, &res)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd, res)
	}
	if status == http.StatusAccepted {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\nRerun with --override to install.\n", res.Message)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Installed %s on agent %d: %s\n", name, installAgentID, res.Message)
	return nil
}
