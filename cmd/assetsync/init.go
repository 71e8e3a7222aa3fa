package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/assetsync/assetsync/internal/config"
	"github.com/assetsync/assetsync/internal/templates"
)

func initCmd() *cobra.Command {
	var (
		templateName string
		port         int
		namespace    string
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a new assetsync project",
		Long: `Create assetsync.json and a starter page in a directory.

Templates:
  ` + strings.Join(templates.List(), "\n  ") + `

Existing files are never overwritten.

Examples:
  assetsync init
  assetsync init web --template=modules --namespace=shop`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(dir, templateName, templates.Config{
				Port:      port,
				Namespace: namespace,
			})
		},
	}

	cmd.Flags().StringVarP(&templateName, "template", "t", "minimal", "Project template ("+strings.Join(templates.List(), ", ")+")")
	cmd.Flags().IntVarP(&port, "port", "p", config.DefaultPort, "Development server port")
	cmd.Flags().StringVar(&namespace, "namespace", "app", "Module namespace (modules template)")

	return cmd
}

func runInit(dir, templateName string, cfg templates.Config) error {
	printBanner()
	fmt.Println("  Creating a new assetsync project...")
	fmt.Println()

	tmpl, err := templates.Get(templateName)
	if err != nil {
		return err
	}

	projectDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	cfg.Name = filepath.Base(projectDir)

	info("Creating project from '%s' template...", tmpl.Name)
	if err := tmpl.Create(afero.NewOsFs(), projectDir, cfg); err != nil {
		errorMsg("Nothing was written")
		return err
	}

	fmt.Println()
	success("Created %s", projectDir)
	fmt.Println()
	fmt.Println("  To get started:")
	fmt.Println()
	if dir != "." {
		fmt.Printf("    cd %s\n", dir)
	}
	fmt.Println("    assetsync serve")
	fmt.Println()
	fmt.Printf("  Your project will be served at http://%s:%d\n", config.DefaultHost, cfg.Port)
	fmt.Println()
	return nil
}
