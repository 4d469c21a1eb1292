// Package cli provides the brokerdash command-line interface.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"brokerdash/internal/config"
	"brokerdash/internal/logging"
	"brokerdash/internal/security"
)

// Version information, overridden at build time with -ldflags.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// App holds state shared by every command.
type App struct {
	configDir string
	Config    *config.Config
	Logger    zerolog.Logger
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "brokerdash",
		Short: "Brokerage portfolio dashboard",
		Long: `brokerdash keeps a local mirror of your broker holdings and orders.

It links dashboard users to a broker account (Angel One SmartAPI, Zerodha
Kite Connect or the built-in paper broker), syncs holdings and the order
book, refreshes prices and serves a small web dashboard.

Use 'brokerdash serve' to start the dashboard.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["skipConfig"] == "true" {
				return nil
			}
			return app.load(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&app.configDir, "config", "", "config directory (default: ~/.config/brokerdash)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newServeCmd(app))
	rootCmd.AddCommand(newUserCmd(app))
	addPortfolioCommands(rootCmd, app)
	rootCmd.AddCommand(newOrdersCmd(app))

	return rootCmd
}

func (a *App) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configDir)
	if err != nil {
		return err
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Logging.Level = "debug"
	}

	a.Config = cfg
	a.Logger = logging.NewLoggerWithConfig(logging.LogConfig{
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		File:       cfg.Logging.File,
		FilePath:   cfg.Logging.Path,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	})
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{"skipConfig": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("brokerdash v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			masked := maskedConfig(app.Config)
			if output.IsJSON() {
				return output.JSON(masked)
			}
			showConfig(output, masked)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := config.ConfigPath(app.Config.Dir)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Println(path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration, including server secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.ValidateForServe(); err != nil {
				if !output.IsJSON() {
					output.Error("Configuration is not ready to serve: %v", err)
				}
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

// maskedConfig returns a copy of cfg that is safe to print.
func maskedConfig(cfg *config.Config) config.Config {
	c := *cfg
	c.Server.JWTSecret = security.MaskCredential(c.Server.JWTSecret)
	c.Broker.APIKey = security.MaskCredential(c.Broker.APIKey)
	c.Broker.APISecret = security.MaskCredential(c.Broker.APISecret)
	c.Storage.Surreal.Password = security.MaskCredential(c.Storage.Surreal.Password)
	c.Security.VaultPassphrase = security.MaskCredential(c.Security.VaultPassphrase)
	return c
}

func showConfig(output *Output, cfg config.Config) {
	output.Bold("Server")
	output.Printf("  Address:         %s\n", cfg.Server.Addr())
	output.Printf("  Dev mode:        %v\n", cfg.Server.DevMode)
	output.Printf("  JWT secret:      %s\n", cfg.Server.JWTSecret)
	output.Printf("  Token expiry:    %s\n", cfg.Server.TokenExpiry)
	output.Println()

	output.Bold("Broker")
	output.Printf("  Provider:        %s\n", cfg.Broker.Provider)
	output.Printf("  API key:         %s\n", cfg.Broker.APIKey)
	output.Printf("  Rate limit:      %d req/s\n", cfg.Broker.RateLimit)
	output.Printf("  Max retries:     %d\n", cfg.Broker.MaxRetries)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Backend:         %s\n", cfg.Storage.Backend)
	if cfg.Storage.Backend == config.BackendSurrealDB {
		output.Printf("  Address:         %s\n", cfg.Storage.Surreal.Address)
		output.Printf("  Namespace/DB:    %s/%s\n", cfg.Storage.Surreal.Namespace, cfg.Storage.Surreal.Database)
	} else {
		output.Printf("  Path:            %s\n", cfg.Storage.Path)
	}
	output.Println()

	output.Bold("Sync")
	output.Printf("  Price batch:     %d every %s\n", cfg.Sync.PriceBatchSize, cfg.Sync.PriceBatchDelay)
	output.Printf("  Movers limit:    %d\n", cfg.Sync.MoversLimit)
	schedule := cfg.Sync.RefreshSchedule
	if schedule == "" {
		schedule = "disabled"
	}
	output.Printf("  Refresh:         %s (market hours only: %v)\n", schedule, cfg.Sync.MarketHoursOnly)
	output.Println()

	output.Bold("Security")
	output.Printf("  Vault:           %s\n", cfg.Security.VaultPassphrase)
	output.Printf("  Audit:           %v (%s)\n", cfg.Security.AuditEnabled, cfg.Security.AuditDir)
}
