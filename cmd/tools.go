package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"gptbridge/pkg/config"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools offered to the agent and their argument schemas",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// schemas do not depend on credentials
		var searchCfg config.SearchConfig
		if cfg, _, err := loadConfig(); err == nil {
			searchCfg = cfg.Search
		} else {
			slog.Debug("Listing tools without config", "error", err)
		}

		out := cmd.OutOrStdout()
		for _, t := range newRegistry(searchCfg).List() {
			params, err := t.Parameters()
			if err != nil {
				return fmt.Errorf("tool %s: %w", t.Name, err)
			}
			schema, err := json.MarshalIndent(params, "", "  ")
			if err != nil {
				return err
			}
			// jsoniter rejects a prefix, so nest the schema by hand
			nested := strings.ReplaceAll(string(schema), "\n", "\n  ")
			fmt.Fprintf(out, "%s\n  %s\n  %s\n", t.Name, t.Description, nested)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
