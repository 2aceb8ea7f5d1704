// signalsim replays trade-signal sources over historical bars and reports
// how the signals would have performed.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/seenimoa/signalsim/api"
	"github.com/seenimoa/signalsim/internal/config"
	"github.com/seenimoa/signalsim/internal/logging"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Set by the root command before any subcommand runs.
var (
	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "signalsim",
	Short: "Backtest trade signals against historical bars",
	Long: `signalsim replays a signal source over pre-fetched OHLCV series,
simulating delayed entries, slippage, fees and exits, and reports
signal-level and portfolio-level statistics.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}

		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.Logging.Level = lvl
		}
		if format, _ := cmd.Flags().GetString("log-format"); format != "" {
			cfg.Logging.Format = format
		}
		logger = logging.New(cfg.Logging, os.Stderr)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format override (text, json)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

// interruptContext is cancelled on SIGINT or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("signalsim %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			host, port, err := splitAddr(addr)
			if err != nil {
				return err
			}
			cfg.API.Host, cfg.API.Port = host, port
		}

		api.Version = version
		srv, err := api.NewServer(cfg, logger)
		if err != nil {
			return err
		}

		ctx, stop := interruptContext()
		defer stop()
		return srv.ListenAndServe(ctx, cfg.API.Addr())
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address override, e.g. :9090")
}

// --- Config Command ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration and where each value comes from",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		file := cfg.File()
		if file == "" {
			file = "(none, built-in defaults)"
		}
		fmt.Fprintf(out, "Config file: %s\n\n", file)

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE\tENV")
		for _, s := range cfg.Settings() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Key, s.Value, s.Source, s.EnvVar)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Fprintln(out, "\nconfiguration is valid")
		return nil
	},
}
