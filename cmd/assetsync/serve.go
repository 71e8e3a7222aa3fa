package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/assetsync/assetsync/internal/config"
	"github.com/assetsync/assetsync/internal/dev"
	"github.com/assetsync/assetsync/internal/metrics"
	"github.com/assetsync/assetsync/internal/publish"
)

func serveCmd(global *globalFlags) *cobra.Command {
	var openBrowser bool

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"dev"},
		Short:   "Serve the project and sync files to mirrors",
		Long: `Serve the project directory over HTTP and accept mirror
connections on /socket.

The server scans the index file for dependencies, watches the
project for changes and builds bundles on request.

Examples:
  assetsync serve
  assetsync serve --port=8080 --index=index.html
  assetsync serve --base=./web --no-sync`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			return runServe(cfg, openBrowser)
		},
	}

	cmd.Flags().StringP("base", "b", "", "Project root (default from "+config.ConfigFileName+")")
	cmd.Flags().IntP("port", "p", config.DefaultPort, "Port to run on")
	cmd.Flags().StringP("host", "H", config.DefaultHost, "Host to bind to")
	cmd.Flags().StringP("index", "i", "", "Entry file scanned on start")
	cmd.Flags().BoolP("no-sync", "n", false, "Do not watch the project for changes")
	cmd.Flags().String("editor", "", "Command used to open files on request")
	cmd.Flags().BoolVarP(&openBrowser, "open", "o", false, "Open browser on start")

	return cmd
}

func runServe(cfg *config.Config, openBrowser bool) error {
	printBanner()
	fmt.Println("  serve")
	fmt.Println()

	m := metrics.New()

	var publisher *publish.Publisher
	if cfg.Publishing() {
		p, err := publish.NewFromEnv(context.Background(), publish.Config{
			Bucket: cfg.Publish.Bucket,
			Prefix: cfg.Publish.Prefix,
			Region: cfg.Publish.Region,
		}, publish.Options{Metrics: m})
		if err != nil {
			warn("Publishing disabled: %v", err)
		} else {
			publisher = p
			info("Publishing bundles to s3://%s/%s", cfg.Publish.Bucket, cfg.Publish.Prefix)
		}
	}

	server := dev.NewServer(dev.ServerOptions{
		Config:    cfg,
		Publisher: publisher,
		Metrics:   m,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		fmt.Println("\n\n  Shutting down...")
	}()

	info("Base:   %s", cfg.Base)
	info("URL:    %s", cfg.URL())
	info("Socket: %s", cfg.SocketURL())
	if !cfg.Sync {
		warn("File watching is off")
	}
	fmt.Println()

	if openBrowser {
		go func() {
			time.Sleep(500 * time.Millisecond)
			openURL(cfg.URL())
		}()
	}

	if err := server.Start(ctx); err != nil {
		errorMsg("Server failed: %v", err)
		return err
	}
	success("Stopped")
	return nil
}

// openURL opens a URL in the default browser.
func openURL(url string) {
	var cmd *exec.Cmd

	switch {
	case commandExists("xdg-open"):
		cmd = exec.Command("xdg-open", url)
	case commandExists("open"):
		cmd = exec.Command("open", url)
	case commandExists("cmd"):
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return
	}

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", url, err)
	}
}

// commandExists checks if a command exists in PATH.
func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
