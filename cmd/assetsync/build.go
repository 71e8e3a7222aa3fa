package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/assetsync/assetsync/internal/build"
	"github.com/assetsync/assetsync/internal/bundle"
)

func buildCmd(global *globalFlags) *cobra.Command {
	var opts build.Options

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Assemble a bundle from an entry file",
		Long: `Assemble the bundle for one entry file.

This is the process the server and the bundle command spawn.
With ` + bundle.IPCEnv + `=1 the result is written to stdout as one JSON
line; otherwise the bundle text is printed.

Examples:
  assetsync build --file index.html --js-bundle
  assetsync build --file app.js --base . --js-cut-dev --target none`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			opts.Namespaces = cfg.JS.Namespaces
			opts.BaseURI = cfg.JS.BaseURI
			opts.Logger = logger

			res, err := build.Build(context.Background(), opts)

			if os.Getenv(bundle.IPCEnv) == "1" {
				if rerr := build.Report(os.Stdout, res, err); rerr != nil {
					return rerr
				}
				if err != nil {
					// Already reported; exit without printing it again.
					os.Exit(1)
				}
				return nil
			}

			if err != nil {
				return err
			}
			fmt.Print(res.Content)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "Entry file (required)")
	cmd.Flags().StringVar(&opts.Base, "base", "", "Project root (default: the entry's directory)")
	cmd.Flags().BoolVar(&opts.CutDev, "js-cut-dev", false, "Drop lines starting with ;;;")
	cmd.Flags().BoolVar(&opts.Bundle, "js-bundle", false, "Join every script the entry depends on")
	cmd.Flags().StringVar(&opts.Target, "target", build.TargetNone, "Output target")

	return cmd
}
