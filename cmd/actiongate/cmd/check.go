package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/actiongate/actiongate/internal/adapter/outbound/state"
	"github.com/actiongate/actiongate/internal/config"
	"github.com/actiongate/actiongate/internal/domain/policy"
)

// Exit codes for the check command.
const (
	exitAllowed = 0
	exitDenied  = 1
	exitError   = 2
)

var (
	checkChannel string
	checkExplain bool
)

var checkCmd = &cobra.Command{
	Use:   "check <identity> <resource>",
	Short: "Evaluate one request and exit with the verdict",
	Long: `Evaluate a single access request against the policy document
without starting the server.

The exit code carries the verdict: 0 means allowed, 1 means denied,
2 means the evaluation could not run (bad document, bad arguments).

Examples:
  actiongate check alice payments
  actiongate check bob payments --channel whatsapp --explain
  actiongate check alice payments && ./do-the-thing`,
	Args: cobra.ExactArgs(2),
	Run:  runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkChannel, "channel", "", "channel to evaluate on (default: \"default\")")
	checkCmd.Flags().BoolVar(&checkExplain, "explain", false, "print the resolution basis and reason")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) {
	os.Exit(check(args[0], args[1], checkChannel, checkExplain, os.Stdout))
}

// check loads the document, evaluates the request, and returns the exit code.
// Split from runCheck so tests can call it without os.Exit.
func check(identity, resource, channel string, explain bool, out io.Writer) int {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitError
	}
	if policiesPath != "" {
		cfg.Policy.Path = policiesPath
	}

	// Quiet logger: check output is the verdict, nothing else.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	docs := state.NewFileDocumentStore(cfg.Policy.Path, cfg.Policy.SeedChannels, logger)
	doc, err := docs.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load policy document: %v\n", err)
		return exitError
	}

	store := policy.NewStore()
	if err := store.ReplaceAll(doc.Config()); err != nil {
		fmt.Fprintf(os.Stderr, "policy document is invalid: %v\n", err)
		return exitError
	}

	decision := policy.NewEngine(store).Evaluate(policy.Request{
		Identity: identity,
		Resource: resource,
		Channel:  channel,
	})

	verdict := "denied"
	code := exitDenied
	if decision.Allowed {
		verdict = "allowed"
		code = exitAllowed
	}
	fmt.Fprintln(out, verdict)
	if explain {
		fmt.Fprintf(out, "basis:  %s\n", decision.Basis)
		fmt.Fprintf(out, "reason: %s\n", decision.Reason)
	}
	return code
}
