package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"trichat/internal/conversation"
	"trichat/internal/dispatch"
)

func NewAskCommand() *cobra.Command {
	var (
		primary string
		showAll bool
	)

	cmd := &cobra.Command{
		Use:   "ask MESSAGE",
		Short: "Send one message to every model and print the replies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			start, err := a.coord.StartChat()
			if err != nil {
				return err
			}
			patch := conversation.Patch{ShowAllModels: &showAll}
			if primary != "" {
				patch.PrimaryModel = &primary
			}
			if _, err := a.settings.Update(start.ConversationID, patch); err != nil {
				return err
			}

			res, err := a.coord.HandleMessage(cmd.Context(), start.ConversationID, strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "**%s (primary):**\n\n%s\n", res.Settings.PrimaryModel, res.Primary.Display())
			for _, o := range res.Comparison() {
				fmt.Fprintf(out, "\n%s\n", dispatch.ComparisonText(o))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&primary, "primary", "", "Primary model (ChatGPT, Gemini, Grok)")
	cmd.Flags().BoolVar(&showAll, "show-all", true, "Print the non-primary replies too")
	return cmd
}
