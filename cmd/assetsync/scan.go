package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/assetsync/assetsync/internal/config"
	"github.com/assetsync/assetsync/internal/errors"
	"github.com/assetsync/assetsync/internal/files"
	"github.com/assetsync/assetsync/internal/scan"
)

func scanCmd(global *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scan <entry>",
		Short: "Print the dependency graph of an entry file",
		Long: `Scan an entry file and every file it references, then print
the dependency graph.

Examples:
  assetsync scan index.html
  assetsync scan src/app.js --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}

			entry, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(entry); err != nil {
				return errors.New("A100").WithDetail(args[0])
			}

			reg := files.New(files.Options{Root: cfg.Base, Logger: logger})
			scanner := scan.New(scan.Options{
				Registry:   reg,
				Namespaces: cfg.JS.Namespaces,
				BaseURI:    cfg.JS.BaseURI,
				Logger:     logger,
			})
			f, res, err := scanner.Scan(context.Background(), entry)
			if err != nil {
				return err
			}

			graph := scan.Export(reg, f.ID())
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(graph)
			}

			deps := make(map[string][]string, len(graph.Files))
			for _, link := range graph.Links {
				deps[link[0]] = append(deps[link[0]], link[1])
			}
			for _, node := range graph.Files {
				fmt.Printf("%s \033[2m(%s)\033[0m\n", node.ID, node.Type)
				for _, dep := range deps[node.ID] {
					info("→ %s", dep)
				}
			}
			fmt.Println()
			success("%d files, %d references", len(graph.Files), res.References)
			if res.Failed > 0 {
				warn("%d files failed to parse", res.Failed)
				for _, err := range res.Errors {
					errors.Fprint(os.Stderr, err)
				}
			}
			if res.Skipped > 0 {
				warn("%d references could not be resolved statically", res.Skipped)
			}
			return nil
		},
	}

	cmd.Flags().StringP("base", "b", "", "Project root (default from "+config.ConfigFileName+")")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the graph as JSON")

	return cmd
}
