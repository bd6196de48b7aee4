// Package cmd provides the CLI commands for actiongate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/actiongate/actiongate/internal/config"
)

var cfgFile string
var policiesPath string

var rootCmd = &cobra.Command{
	Use:   "actiongate",
	Short: "actiongate - access-control policy engine",
	Long: `actiongate decides whether an identity may act on a resource,
per communication channel, based on a persisted rule document.

Rules are grouped by channel and resource. Each rule set holds an allow
list and a deny list of principals; "ALL" matches every identity and the
"ANY" resource applies to every resource on its channel.

Quick start:
  1. Run: actiongate serve
  2. Ask for a verdict:
     curl -s localhost:8225/v1/policy/evaluate -d '{"identity":"alice","resource":"payments"}'

Configuration:
  Config is loaded from actiongate.yaml in the current directory,
  $HOME/.actiongate/, or /etc/actiongate/.

  Environment variables can override config values with the ACTIONGATE_ prefix.
  Example: ACTIONGATE_SERVER_HTTP_ADDR=127.0.0.1:9090

Commands:
  serve       Start the policy server
  check       Evaluate one request and exit with the verdict
  dump        Print the current policy document
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./actiongate.yaml)")
	rootCmd.PersistentFlags().StringVar(&policiesPath, "policies", "", "path to the policy document (default: ./policies.json)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
