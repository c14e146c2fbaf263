package cmd

import (
	"fmt"
	"strings"

	"gptbridge/pkg/agent"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Send one prompt to the developer agent",
	Example: `  gptbridge ask --conversation c1 "what is new in go 1.25?"
  gptbridge ask --no-tools "explain goroutines"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, sys, err := loadConfig()
		if err != nil {
			return err
		}
		engine, _, err := newEngine(cfg, sys)
		if err != nil {
			return err
		}

		conversation, _ := cmd.Flags().GetString("conversation")
		model, _ := cmd.Flags().GetString("model")
		req := agent.Request{
			Prompt:         strings.Join(args, " "),
			ConversationID: conversation,
			Model:          model,
		}
		if noTools, _ := cmd.Flags().GetBool("no-tools"); noTools {
			req.Tools = []string{}
		} else if cmd.Flags().Changed("tool") {
			req.Tools, _ = cmd.Flags().GetStringSlice("tool")
		}

		resp, err := engine.Run(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("%s: %w", agent.Kind(err), err)
		}

		out := cmd.OutOrStdout()
		for _, call := range resp.ToolCalls {
			fmt.Fprintf(out, "🛠️ %s %s\n", call.Name, call.Arguments)
		}
		fmt.Fprintln(out, resp.Output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().String("conversation", "cli", "conversation id")
	askCmd.Flags().String("model", "", "model override for this call")
	askCmd.Flags().StringSlice("tool", nil, "tools offered to the model (default all)")
	askCmd.Flags().Bool("no-tools", false, "offer no tools")
}
