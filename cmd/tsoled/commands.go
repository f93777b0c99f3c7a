package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/MrWong99/tsoled/internal/app"
	"github.com/MrWong99/tsoled/internal/config"
	"github.com/MrWong99/tsoled/internal/observe"
)

const shutdownTimeout = 15 * time.Second

// rootOptions holds the persistent flags shared by all subcommands.
type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "tsoled",
		Short:         "Show the current TeamSpeak speakers on a SteelSeries OLED screen",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnvFile(opts.envFile, cmd.Flags().Changed("env-file"))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBridge(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file (defaults only when empty)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with TSOLED_* overrides; a missing default file is ignored")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newBindCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the voice client and update the display until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBridge(cmd, opts)
		},
	}
}

func newBindCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bind",
		Short: "Register the speaker text handler with the SteelSeries engine",
		Long: "bind registers the configured game event with a screen handler that renders\n" +
			"the speaker text. It only needs to run once per engine installation.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			client, err := app.DisplayClient(cfg.Display)
			if err != nil {
				return err
			}
			if err := client.BindEvent(cmd.Context()); err != nil {
				return fmt.Errorf("bind %s/%s: %w", cfg.Display.Game, cfg.Display.Event, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bound %s/%s at %s\n", cfg.Display.Game, cfg.Display.Event, client.BaseURL())
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tsoled version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tsoled %s\n", version)
		},
	}
}

// loadEnvFile exports the variables in path. A missing file is only an error
// when the user asked for it explicitly. Variables already set win.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found; omit --config to start from the defaults", path)
		}
		return nil, err
	}
	return cfg, nil
}

// runBridge is the long-running mode: it polls until SIGINT/SIGTERM and then
// shuts the application down within shutdownTimeout.
func runBridge(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.Server.LogLevel))
	slog.Info("tsoled starting",
		"version", version,
		"config", opts.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registry:       reg,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	printStartupSummary(cmd.OutOrStdout(), cfg)

	application, err := app.New(cfg, app.WithRegistry(reg))
	if err != nil {
		return err
	}

	slog.Info("bridge ready, press Ctrl+C to stop")
	runErr := application.Run(ctx)
	if runErr == nil {
		slog.Info("shutdown signal received, stopping")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		if runErr == nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}
