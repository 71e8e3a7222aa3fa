package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/assetsync/assetsync/internal/bundle"
	"github.com/assetsync/assetsync/internal/config"
	"github.com/assetsync/assetsync/internal/errors"
	"github.com/assetsync/assetsync/internal/publish"
)

func bundleCmd(global *globalFlags) *cobra.Command {
	var (
		out         string
		publishFlag bool
	)

	cmd := &cobra.Command{
		Use:   "bundle <path>",
		Short: "Build the bundle for a project path",
		Long: `Build the bundle for a path relative to the project root.

A directory path bundles its index.html. The build runs in a
child process; the bundle is written to stdout unless --out is
given.

Examples:
  assetsync bundle /
  assetsync bundle /app/index.html --out dist/app.js
  assetsync bundle / --publish`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			builder := bundle.New(bundle.Options{
				Base:   cfg.Base,
				Runner: &bundle.ExecRunner{Command: cfg.Build.Command, Env: cfg.Env(), Logger: logger},
				Logger: logger,
			})
			res, err := builder.Build(ctx, args[0])
			if err != nil {
				errorMsg("Bundle failed for %s", args[0])
				return err
			}

			if out == "" {
				fmt.Print(res.Content)
			} else {
				if err := afero.WriteFile(afero.NewOsFs(), out, []byte(res.Content), 0o644); err != nil {
					return err
				}
				success("Built %s in %s", out, res.Duration.Round(1000000))
				info("%d files, %d bytes", len(res.Files), len(res.Content))
			}

			if !publishFlag {
				return nil
			}
			if !cfg.Publishing() {
				return errors.New("A150").
					WithDetail("--publish needs publish.bucket").
					WithSuggestion("Set publish.bucket in " + config.ConfigFileName + " or ASSETSYNC_PUBLISH_BUCKET")
			}
			publisher, err := publish.NewFromEnv(ctx, publish.Config{
				Bucket: cfg.Publish.Bucket,
				Prefix: cfg.Publish.Prefix,
				Region: cfg.Publish.Region,
			}, publish.Options{Logger: logger})
			if err != nil {
				return err
			}
			obj, err := publisher.Publish(ctx, res.Content)
			if err != nil {
				return err
			}
			status := "Published"
			if obj.Existed {
				status = "Already published"
			}
			fmt.Fprintf(os.Stderr, "\033[32m✓\033[0m %s s3://%s/%s\n", status, obj.Bucket, obj.Key)
			return nil
		},
	}

	cmd.Flags().StringP("base", "b", "", "Project root (default from "+config.ConfigFileName+")")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the bundle to a file")
	cmd.Flags().BoolVar(&publishFlag, "publish", false, "Upload the bundle to the configured S3 bucket")

	return cmd
}
