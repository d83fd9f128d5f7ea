// File: cmd/debug.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/xkilldash9x/articlemail/internal/compose"
	"github.com/xkilldash9x/articlemail/internal/dom"
	"github.com/xkilldash9x/articlemail/internal/observability"
)

func newDebugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Inspect how a compose page is seen",
		Long: `Inspect a compose page. The page is read from an HTML file (or - for stdin),
laid out from inline styles only, or from a live page with --url.`,
	}
	cmd.PersistentFlags().String("url", "", "open this URL in Chrome instead of reading a file")
	cmd.AddCommand(newDebugElementsCmd(), newDebugCandidatesCmd())
	return cmd
}

// withDocument hands fn a document from a file, stdin or a live Chrome tab.
func withDocument(cmd *cobra.Command, args []string, fn func(ctx context.Context, doc dom.Querier, locator *compose.Locator) error) error {
	ctx := cmd.Context()
	cfg, err := getConfigFromContext(ctx)
	if err != nil {
		return err
	}

	if u, _ := cmd.Flags().GetString("url"); u != "" {
		c, err := openChrome(ctx, cfg)
		if err != nil {
			return err
		}
		defer c.Close()
		page, err := c.manager.OpenURL(ctx, u)
		if err != nil {
			return err
		}
		return fn(ctx, page, c.locator)
	}

	if len(args) != 1 {
		return fmt.Errorf("an HTML file or --url is required")
	}
	var r io.Reader = cmd.InOrStdin()
	name := "stdin"
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r, name = f, args[0]
	}
	doc, err := dom.NewStatic("file://"+name, r)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return fn(ctx, doc, compose.NewLocator(cfg.Compose(), observability.GetLogger()))
}

func newDebugElementsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "elements [html-file|-]",
		Short: "List the visible editable elements",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocument(cmd, args, func(ctx context.Context, doc dom.Querier, _ *compose.Locator) error {
				els, err := compose.Editables(ctx, doc)
				if err != nil {
					return err
				}
				return writeElements(cmd.OutOrStdout(), els)
			})
		},
	}
}

func writeElements(w io.Writer, els []dom.Element) error {
	if len(els) == 0 {
		_, err := fmt.Fprintln(w, "No visible editable elements.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TAG\tTYPE\tNAME\tID\tARIA-LABEL\tPLACEHOLDER\tROLE\tCLASS\tSIZE\tVALUE")
	for _, el := range els {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%.0fx%.0f\t%s\n",
			el.Tag, el.Attr("type"), el.Attr("name"), el.Attr("id"),
			el.Attr("aria-label"), el.Attr("placeholder"), el.Attr("role"),
			dom.Truncate(el.ClassName, 30),
			el.Rect.Width, el.Rect.Height,
			dom.Truncate(el.Value, 40))
	}
	return tw.Flush()
}

func newDebugCandidatesCmd() *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "candidates [html-file|-]",
		Short: "Show every element the compose selectors match and why it was rejected",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := parseRoles(roles)
			if err != nil {
				return err
			}
			return withDocument(cmd, args, func(ctx context.Context, doc dom.Querier, locator *compose.Locator) error {
				w := cmd.OutOrStdout()
				for _, r := range selected {
					cands, err := locator.Candidates(ctx, doc, r)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "== %s ==\n", r)
					if err := writeCandidates(w, cands); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "body, recipient or subject (default: all)")
	return cmd
}

func parseRoles(names []string) ([]compose.Role, error) {
	if len(names) == 0 {
		return compose.Roles, nil
	}
	out := make([]compose.Role, 0, len(names))
	for _, n := range names {
		r := compose.Role(n)
		switch r {
		case compose.RoleBody, compose.RoleRecipient, compose.RoleSubject:
			out = append(out, r)
		default:
			return nil, fmt.Errorf("unknown role %q", n)
		}
	}
	return out, nil
}

func writeCandidates(w io.Writer, cands []compose.Candidate) error {
	if len(cands) == 0 {
		_, err := fmt.Fprintln(w, "no matches")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SELECTOR\tTAG\tARIA-LABEL\tSIZE\tVERDICT")
	winner := false
	for _, c := range cands {
		verdict := c.Reason
		if verdict == "" {
			verdict = "ok"
			if !winner {
				verdict, winner = "selected", true
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0fx%.0f\t%s\n",
			c.Selector, c.Element.Tag, c.Element.Attr("aria-label"),
			c.Element.Rect.Width, c.Element.Rect.Height, verdict)
	}
	return tw.Flush()
}
