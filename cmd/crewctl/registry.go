package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/crewgate/internal/config"
	"github.com/fyrsmithlabs/crewgate/internal/crew"
	crewhttp "github.com/fyrsmithlabs/crewgate/internal/http"
)

var (
	// register/block flags
	regSource string
	regAuthor string
	regReason string

	// token flags
	tokenConfig  string
	tokenSubject string
	tokenTTL     time.Duration
)

func init() {
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(tokenCmd)

	registerCmd.Flags().StringVar(&regSource, "source", "", "Where the skill came from")
	registerCmd.Flags().StringVar(&regAuthor, "author", "", "Who vetted the skill (defaults to the token subject)")
	blockCmd.Flags().StringVar(&regReason, "reason", "", "Why the skill is blocked")

	tokenCmd.Flags().StringVar(&tokenConfig, "config", "", "crewgated config file holding the operator secret")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", os.Getenv("USER"), "Operator name recorded on registry writes")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default: auth.token_ttl)")
}

var registerCmd = &cobra.Command{
	Use:   "register <skill-name> [file]",
	Short: "Register a skill configuration as vetted",
	Long: `Register a skill configuration as vetted. Requires an operator token.
The configuration is scanned first; content with critical findings is
refused.

Examples:
  crewctl register weather skill.json --source github.com/acme/skills
  CREWGATE_TOKEN=$(crewctl token) crewctl register weather skill.json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRegister,
}

var blockCmd = &cobra.Command{
	Use:   "block <skill-name> [file]",
	Short: "Block a skill configuration",
	Long: `Block a skill configuration so no agent can install it. Requires an
operator token.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runBlock,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an operator token from the local config",
	Long: `Issue an operator token signed with auth.operator_secret from the
crewgated config (or CREWGATE_AUTH_OPERATOR_SECRET). The token is printed
to stdout.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func runRegister(cmd *cobra.Command, args []string) error {
	name, content, err := skillArgs(cmd, args)
	if err != nil {
		return err
	}
	req := crewhttp.RegisterRequest{Name: name, Content: content, Source: regSource, Author: regAuthor}
	return writeRegistry(cmd, "/api/v1/registry/vetted", req)
}

func runBlock(cmd *cobra.Command, args []string) error {
	name, content, err := skillArgs(cmd, args)
	if err != nil {
		return err
	}
	req := crewhttp.RegisterRequest{Name: name, Content: content, Reason: regReason}
	return writeRegistry(cmd, "/api/v1/registry/blocked", req)
}

func writeRegistry(cmd *cobra.Command, path string, req crewhttp.RegisterRequest) error {
	if token == "" {
		return fmt.Errorf("an operator token is required (--token or CREWGATE_TOKEN)")
	}
	var entry crew.SkillRegistryEntry
	if _, err := doRequest(http.MethodPost, path, req, &entry); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd, entry)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", strings.ToUpper(string(entry.Status)), entry.Name, entry.ContentHash)
	return nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithFile(tokenConfig)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Auth.OperatorSecret.IsSet() {
		return fmt.Errorf("auth.operator_secret is not configured")
	}
	if tokenSubject == "" {
		return fmt.Errorf("--subject is required")
	}
	ttl := tokenTTL
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	tok, err := crewhttp.IssueOperatorToken([]byte(cfg.Auth.OperatorSecret.Value()), cfg.Auth.Issuer, tokenSubject, ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
