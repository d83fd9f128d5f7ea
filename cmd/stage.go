// File: cmd/stage.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Inspect the staged article",
	}
	cmd.AddCommand(newStageShowCmd(), newStageClearCmd(), newStageLastCmd())
	return cmd
}

func newStageShowCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the article waiting for a compose window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				p, ok, err := a.store.PeekPayload(cmd.Context())
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if !ok {
					fmt.Fprintln(w, "Nothing is staged.")
					return nil
				}
				fmt.Fprintf(w, "To:      %s\n", p.RecipientEmail)
				fmt.Fprintf(w, "Subject: %s\n", p.Subject)
				fmt.Fprintf(w, "Length:  %d\n\n", len(p.ContentHTML))
				content := p.ContentHTML
				if !full && len(content) > 500 {
					content = content[:500] + "..."
				}
				fmt.Fprintln(w, content)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "print the whole body")
	return cmd
}

func newStageClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Discard the staged article",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				if err := a.store.ClearPayload(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Staged article cleared.")
				return nil
			})
		},
	}
}

func newStageLastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "last",
		Short: "Print the last article sent, even after it was injected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				content, ok, err := a.relay.GetArticle(cmd.Context())
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "No article has been sent yet.")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), content)
				return nil
			})
		},
	}
}
