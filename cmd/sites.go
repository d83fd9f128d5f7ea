// File: cmd/sites.go
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/xkilldash9x/articlemail/internal/sites"
)

func newSitesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sites",
		Short: "Manage the per-site article selectors",
	}
	cmd.AddCommand(newSitesListCmd(), newSitesAddCmd(), newSitesRemoveCmd(), newSitesImportCmd(), newSitesExportCmd())
	return cmd
}

// withApp opens the shared components for the duration of fn.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	cfg, err := getConfigFromContext(cmd.Context())
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newSitesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List site configs in match order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				configs, err := a.sites.Load(cmd.Context())
				if err != nil {
					return err
				}
				return writeSites(cmd.OutOrStdout(), configs)
			})
		},
	}
}

func writeSites(w io.Writer, configs []sites.SiteConfig) error {
	if len(configs) == 0 {
		_, err := fmt.Fprintln(w, "No site configs.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tHOST PATTERN\tSELECTORS\tRECIPIENT")
	for i, c := range configs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, c.Name, c.HostPattern, strings.Join(c.Selectors, " | "), c.DefaultRecipient)
	}
	return tw.Flush()
}

func newSitesAddCmd() *cobra.Command {
	var c sites.SiteConfig
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a site config, or replace the one with the same name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				if err := a.sites.Add(cmd.Context(), c); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved site config %q.\n", c.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&c.Name, "name", "", "config name")
	cmd.Flags().StringVar(&c.HostPattern, "host-pattern", "", "regular expression matched against the page URL (required)")
	cmd.Flags().StringArrayVar(&c.Selectors, "selector", nil, "article CSS selector, tried in order (repeatable, required)")
	cmd.Flags().StringVar(&c.DefaultRecipient, "recipient", "", "default To address")
	_ = cmd.MarkFlagRequired("host-pattern")
	_ = cmd.MarkFlagRequired("selector")
	return cmd
}

func newSitesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a site config by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				ok, err := a.sites.Remove(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no site config named %q", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed site config %q.\n", args[0])
				return nil
			})
		},
	}
}

func resolveFormat(flag, path string) (sites.Format, error) {
	if flag != "" {
		return sites.ParseFormat(flag)
	}
	if path == "" || path == "-" {
		return sites.FormatJSON, nil
	}
	return sites.FormatFromPath(path), nil
}

func newSitesImportCmd() *cobra.Command {
	var format string
	var replace bool
	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Import site configs from JSON or YAML",
		Long: `Import site configs. Entries are merged by name unless --replace is given.
Entries with a missing hostPattern or no selectors are rejected, and the
legacy toEmail field is read as defaultRecipient.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := resolveFormat(format, args[0])
			if err != nil {
				return err
			}
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer file.Close()
				r = file
			}
			imported, err := sites.Decode(r, f)
			if err != nil {
				return err
			}

			return withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				merged := imported
				if !replace {
					existing, err := a.sites.Load(ctx)
					if err != nil {
						return err
					}
					merged = mergeSites(existing, imported)
				}
				if err := a.sites.Save(ctx, merged); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d site configs (%d total).\n", len(imported), len(merged))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "json or yaml (default: from the file extension)")
	cmd.Flags().BoolVar(&replace, "replace", false, "replace every stored config instead of merging")
	return cmd
}

// mergeSites replaces named entries in place and appends the rest.
func mergeSites(existing, imported []sites.SiteConfig) []sites.SiteConfig {
	out := append([]sites.SiteConfig(nil), existing...)
	for _, c := range imported {
		if idx := sites.Find(out, c.Name); c.Name != "" && idx >= 0 {
			out[idx] = c
			continue
		}
		out = append(out, c)
	}
	return out
}

func newSitesExportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export [file|-]",
		Short: "Export site configs as JSON or YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			f, err := resolveFormat(format, path)
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				configs, err := a.sites.Load(cmd.Context())
				if err != nil {
					return err
				}
				if path == "-" {
					return sites.Encode(cmd.OutOrStdout(), configs, f)
				}
				file, err := os.Create(path)
				if err != nil {
					return err
				}
				if err := sites.Encode(file, configs, f); err != nil {
					file.Close()
					return err
				}
				return file.Close()
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "json or yaml (default: from the file extension)")
	return cmd
}
