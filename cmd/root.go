// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/xkilldash9x/articlemail/internal/config"
	"github.com/xkilldash9x/articlemail/internal/observability"
	"go.uber.org/zap"
)

type contextKey string

const configKey contextKey = "config"

var cfgFile string

// NewRootCommand builds the command tree. Every call returns a fresh tree, so
// flags never leak between executions.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "articlemail",
		Short:         "Send the article you are reading to a Gmail compose window.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "articlemail"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "articlemail"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting articlemail", zap.String("version", Version))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.articlemail.yaml)")
	rootCmd.PersistentFlags().Bool("headless", false, "run Chrome without a window")
	rootCmd.PersistentFlags().String("log-level", "", "override logger.level")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newSendCmd(),
		newBrowseCmd(),
		newInjectCmd(),
		newSitesCmd(),
		newSettingsCmd(),
		newStageCmd(),
		newDiagCmd(),
		newDebugCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command with the signal-aware ctx from main.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		observability.GetLogger().Info("Interrupted.")
		return err
	}
	observability.GetLogger().Error("Command execution failed", zap.Error(err))
	fmt.Fprintln(os.Stderr, "Error:", err)
	return err
}

// initializeConfig reads the config file and environment into v and binds
// the persistent flags that override config keys.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".articlemail")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("ARTICLEMAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	flags := cmd.Flags()
	if f := flags.Lookup("headless"); f != nil && f.Changed {
		if err := v.BindPFlag("browser.headless", f); err != nil {
			return err
		}
	}
	if f := flags.Lookup("log-level"); f != nil && f.Changed {
		if err := v.BindPFlag("logger.level", f); err != nil {
			return err
		}
	}
	return nil
}

// getConfigFromContext returns the config stored by PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not found in context")
	}
	return cfg, nil
}
