// File: cmd/send.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/xkilldash9x/articlemail/internal/article"
	"github.com/xkilldash9x/articlemail/internal/browser"
	"github.com/xkilldash9x/articlemail/internal/dispatch"
	"github.com/xkilldash9x/articlemail/internal/dom"
	"github.com/xkilldash9x/articlemail/internal/readiness"
	"github.com/xkilldash9x/articlemail/internal/sites"
	"go.uber.org/zap"
)

func newSendCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "send <url>",
		Short: "Open an article, stage it and fill a Gmail compose window with it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			c, err := openChrome(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			page, err := c.manager.OpenURL(ctx, args[0])
			if err != nil {
				return err
			}
			out, err := c.sender.Send(ctx, page)
			if err := reportSend(cmd.OutOrStdout(), args[0], out, err); err != nil {
				return err
			}
			if wait {
				waitForCompose(ctx, cmd.OutOrStdout(), out.Compose)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "keep the browser open until the compose window is closed")
	return cmd
}

// reportSend prints the outcome of a send. A page without a matching site is
// not an error.
func reportSend(w io.Writer, url string, out dispatch.Outcome, err error) error {
	switch {
	case errors.Is(err, dispatch.ErrNoConfig):
		fmt.Fprintf(w, "No site config matches %s.\n", url)
		return nil
	case errors.Is(err, article.ErrNotFound):
		return fmt.Errorf("article not found on %s", url)
	case err != nil:
		return err
	}

	fmt.Fprintf(w, "Staged %q from site %q (selector %s).\n", out.Title, out.Site, out.Selector)
	switch {
	case out.Clipboard.Skipped:
	case out.Clipboard.Copied:
		fmt.Fprintf(w, "Copied to clipboard via %s.\n", out.Clipboard.Strategy)
	default:
		fmt.Fprintln(w, "Could not copy to clipboard.")
	}
	printReadiness(w, out.Readiness)
	return nil
}

func printReadiness(w io.Writer, res readiness.Result) {
	if !res.Injected {
		fmt.Fprintln(w, "The compose window was not filled.")
		return
	}
	r := res.Report
	fmt.Fprintf(w, "Compose window filled by %s: body=%s recipient=%s subject=%s", res.Strategy, r.Body, r.Recipient, r.Subject)
	if r.Images > 0 {
		fmt.Fprintf(w, " images=%d", r.Images)
	}
	fmt.Fprintln(w)
}

// waitForCompose blocks until the compose tab goes away or ctx ends.
func waitForCompose(ctx context.Context, w io.Writer, doc dom.Document) {
	p, ok := doc.(*browser.Page)
	if !ok {
		return
	}
	fmt.Fprintln(w, "Review and send the message in the compose window. Press Ctrl+C to quit.")
	select {
	case <-p.Done():
	case <-ctx.Done():
	}
}

func newBrowseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse <url>",
		Short: "Open a page with a \"Send Article to Gmail\" button",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			c, err := openChrome(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			page, err := c.manager.OpenURL(ctx, args[0])
			if err != nil {
				return err
			}
			return browse(ctx, cmd.OutOrStdout(), c, page)
		},
	}
}

func browse(ctx context.Context, w io.Writer, c *chrome, page *browser.Page) error {
	configs, err := c.sites.Load(ctx)
	if err != nil {
		return err
	}
	cfg, ok := sites.Resolve(pageURL(ctx, page), configs, c.tracer)
	if !ok {
		fmt.Fprintln(w, "No site config matches this page; the send button is not shown.")
	} else if _, _, err := article.Locate(ctx, page, cfg.Selectors); err != nil {
		fmt.Fprintf(w, "Site %q matched but no article was found; the send button is not shown.\n", cfg.Name)
		ok = false
	}

	clicks := make(chan string, 1)
	if ok {
		err := page.InstallSendButton(ctx, c.cfg.Browser().ButtonPoll, func(u string) {
			select {
			case clicks <- u:
			default:
				c.logger.Debug("Send already in progress, ignoring click.")
			}
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "Click \"Send Article to Gmail\" on the page. Press Ctrl+C to quit.")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-page.Done():
			return nil
		case u := <-clicks:
			c.logger.Info("Send button clicked.", zap.String("url", u))
			out, err := c.sender.Send(ctx, page)
			if err := reportSend(w, u, out, err); err != nil {
				fmt.Fprintln(w, "Error:", err)
			}
		}
	}
}

func pageURL(ctx context.Context, page *browser.Page) string {
	u, err := page.URL(ctx)
	if err != nil {
		return ""
	}
	return u
}

func newInjectCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Open a compose window and fill it with the already staged article",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			c, err := openChrome(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			if _, ok, err := c.store.PeekPayload(ctx); err != nil {
				return err
			} else if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing is staged.")
				return nil
			}

			page, err := c.manager.OpenCompose(ctx, nil)
			if err != nil {
				return err
			}
			res, err := c.detector.Run(ctx, page)
			if err != nil {
				return err
			}
			printReadiness(cmd.OutOrStdout(), res)
			if wait {
				waitForCompose(ctx, cmd.OutOrStdout(), page)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "keep the browser open until the compose window is closed")
	return cmd
}
