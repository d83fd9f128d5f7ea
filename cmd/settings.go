// File: cmd/settings.go
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/xkilldash9x/articlemail/internal/store"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change clipboard and toast settings",
	}
	cmd.AddCommand(newSettingsShowCmd(), newSettingsSetCmd())
	return cmd
}

func writeSettings(w io.Writer, s store.UserSettings) {
	fmt.Fprintf(w, "clipboard:        %t\n", s.ClipboardEnabled)
	fmt.Fprintf(w, "plain-text-only:  %t\n", s.ClipboardPlainTextOnly)
	fmt.Fprintf(w, "toast:            %t\n", s.ToastEnabled)
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				s, err := a.store.Settings(cmd.Context())
				if err != nil {
					return err
				}
				writeSettings(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	var clip, plain, toast bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change settings; flags that are not given keep their value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("clipboard") && !flags.Changed("plain-text-only") && !flags.Changed("toast") {
				return fmt.Errorf("nothing to set: use --clipboard, --plain-text-only or --toast")
			}
			return withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				s, err := a.store.Settings(ctx)
				if err != nil {
					return err
				}
				if flags.Changed("clipboard") {
					s.ClipboardEnabled = clip
				}
				if flags.Changed("plain-text-only") {
					s.ClipboardPlainTextOnly = plain
				}
				if flags.Changed("toast") {
					s.ToastEnabled = toast
				}
				if err := a.store.SaveSettings(ctx, s); err != nil {
					return err
				}
				writeSettings(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clip, "clipboard", true, "copy the article to the clipboard on send")
	cmd.Flags().BoolVar(&plain, "plain-text-only", false, "copy plain text only")
	cmd.Flags().BoolVar(&toast, "toast", true, "show a notice after a successful copy")
	return cmd
}
