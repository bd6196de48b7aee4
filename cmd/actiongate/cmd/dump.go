package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/actiongate/actiongate/internal/adapter/outbound/state"
	"github.com/actiongate/actiongate/internal/config"
)

var dumpFormat string

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the current policy document",
	Long: `Print the policy document the server would load, including the seed
configuration when no document exists yet.

Examples:
  actiongate dump
  actiongate dump --format yaml
  actiongate --policies /var/lib/actiongate/policies.json dump`,
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringVar(&dumpFormat, "format", "json", "output format: json or yaml")
	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if policiesPath != "" {
		cfg.Policy.Path = policiesPath
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	docs := state.NewFileDocumentStore(cfg.Policy.Path, cfg.Policy.SeedChannels, logger)
	doc, err := docs.Load()
	if err != nil {
		return fmt.Errorf("failed to load policy document: %w", err)
	}

	return writeDocument(os.Stdout, doc, dumpFormat)
}

// writeDocument renders a document in the requested format.
func writeDocument(w io.Writer, doc *state.Document, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unsupported format: %s (must be json or yaml)", format)
	}
}
