package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/assetsync/assetsync/internal/config"
	"github.com/assetsync/assetsync/internal/errors"
	"github.com/assetsync/assetsync/internal/logging"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ╔═╗┌─┐┌─┐┌─┐┌┬┐┌─┐┬ ┬┌┐┌┌─┐
  ╠═╣└─┐└─┐├┤  │ └─┐└┬┘││││
  ╩ ╩└─┘└─┘└─┘ ┴ └─┘ ┴ ┘└┘└─┘
`

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
}

func main() {
	var global globalFlags

	rootCmd := &cobra.Command{
		Use:   "assetsync",
		Short: "Dependency-aware asset server and bundler",
		Long: `assetsync serves a web project's files, tracks the dependencies
between its pages, scripts and stylesheets, and keeps remote
mirrors in sync over a websocket.

  • Dependency graph of HTML, CSS and JavaScript
  • Live file sync with change notification
  • On-demand bundles built in a child process
  • Optional bundle publishing to S3`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&global.configFile, "config", "c", "", "Config file (default ./"+config.ConfigFileName+")")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json")

	rootCmd.AddCommand(
		initCmd(),
		serveCmd(&global),
		scanCmd(&global),
		bundleCmd(&global),
		buildCmd(&global),
		mirrorCmd(&global),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		errors.Fprint(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration with cmd's flags applied on top and
// installs the configured logger as the default.
func loadConfig(cmd *cobra.Command, global *globalFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(config.LoadOptions{
		File:  global.configFile,
		Flags: cmd.Flags(),
	})
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// printBanner prints the assetsync ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}

// errorMsg prints an error message.
func errorMsg(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m✗\033[0m %s\n", fmt.Sprintf(format, args...))
}
