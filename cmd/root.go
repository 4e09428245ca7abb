// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sessions/internal/config"
	"github.com/xkilldash9x/scalpel-sessions/internal/observability"
	"github.com/xkilldash9x/scalpel-sessions/internal/service"
)

type configKey struct{}

// NewRootCommand builds the command tree backed by the production component factory.
func NewRootCommand() *cobra.Command {
	return newRootCmd(service.NewComponentFactory())
}

// newRootCmd builds a fresh command tree. Each call gets its own viper instance, so flags
// and config from one execution never leak into the next.
func newRootCmd(factory service.ComponentFactory) *cobra.Command {
	var cfgFile string
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "scalpel-sessions",
		Short:         "Captures authenticated browser sessions and stores them encrypted at rest.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// This runs before any command, setting up config and logging.
			cfg, err := loadConfig(v, cfgFile)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "scalpel-sessions"})
				return err
			}
			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded.",
				zap.String("version", Version),
				zap.String("store_dir", cfg.Store.Dir),
				zap.Bool("allow_headed", cfg.Capture.AllowHeaded),
			)

			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newCaptureCmd(factory),
		newListCmd(factory),
		newShowCmd(factory),
		newDeleteCmd(factory),
		newCheckCmd(factory),
		newVerifyCmd(factory),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree with a signal-aware context and reports failures.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	err := NewRootCommand().ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		observability.GetLogger().Info("Command cancelled.")
		return err
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return err
}

// loadConfig reads the config file and environment on top of the defaults.
func loadConfig(v *viper.Viper, cfgFile string) (*config.Config, error) {
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SCALPEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults and env vars.
	}
	return config.NewConfigFromViper(v)
}

// configFrom returns the configuration stored by the root command's pre-run hook.
func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}

// withComponents builds the component graph for one command and tears it down afterwards.
func withComponents(cmd *cobra.Command, factory service.ComponentFactory, fn func(ctx context.Context, c *service.Components) error) error {
	ctx := cmd.Context()
	cfg, err := configFrom(ctx)
	if err != nil {
		return err
	}

	logger := observability.GetLogger()
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer func() {
		if err := components.Shutdown(ctx); err != nil {
			logger.Warn("Component shutdown reported an error.", zap.Error(err))
		}
	}()

	return fn(ctx, components)
}
