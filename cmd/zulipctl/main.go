package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesprial/go-zulip-api-wrapper/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app carries state shared by subcommands once the root has loaded config.
type app struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "zulipctl",
		Short: "zulipctl - Zulip event queue tool",
		Long: `zulipctl registers Zulip event queues and streams their events.
Settings come from a TOML file and the ZULIP_URI, ZULIP_USERNAME,
ZULIP_API_KEY and ZULIP_PASSWORD environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to the config file (default ~/.config/zulipctl/config.toml)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override: debug, info, warn or error")

	rootCmd.AddCommand(
		listenCmd(a),
		fetchKeyCmd(a),
		configCmd(a),
		versionCmd(),
	)

	return rootCmd
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if a.logLevel != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(a.logLevel)); err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
	}

	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel}))
	return nil
}

// configCmd shows the effective configuration
func configCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Site:       %s\n", a.cfg.Site)
			fmt.Fprintf(out, "Email:      %s\n", a.cfg.Email)
			fmt.Fprintf(out, "API Key:    %s\n", maskSecret(a.cfg.APIKey))
			fmt.Fprintf(out, "Password:   %s\n", maskSecret(a.cfg.Password))
			fmt.Fprintf(out, "User Agent: %s\n", a.cfg.UserAgent)
			fmt.Fprintf(out, "Timeout:    %s\n", a.cfg.Timeout)
			fmt.Fprintf(out, "Log Level:  %s\n", a.cfg.LogLevel)
			if a.cfg.RequestsPerMinute > 0 {
				fmt.Fprintf(out, "Rate Limit: %.0f/min (burst %d)\n", a.cfg.RequestsPerMinute, a.cfg.Burst)
			} else {
				fmt.Fprintln(out, "Rate Limit: off")
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "zulipctl %s\n", version)
		},
	}
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
