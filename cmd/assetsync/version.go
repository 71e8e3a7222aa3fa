package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// buildInfo is the machine-readable form of the version output.
type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go"`
	Platform  string `json:"platform"`
}

func currentBuild() buildInfo {
	return buildInfo{
		Version:   version,
		Commit:    commit,
		Date:      date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func versionCmd() *cobra.Command {
	var short, asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print version, commit, and build information for the assetsync CLI.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			bi := currentBuild()
			switch {
			case short:
				fmt.Println(bi.Version)
			case asJSON:
				return json.NewEncoder(os.Stdout).Encode(bi)
			default:
				printBanner()
				fmt.Println()
				fmt.Printf("  Version:    %s\n", bi.Version)
				fmt.Printf("  Commit:     %s\n", bi.Commit)
				fmt.Printf("  Built:      %s\n", bi.Date)
				fmt.Printf("  Go version: %s\n", bi.GoVersion)
				fmt.Printf("  OS/Arch:    %s\n", bi.Platform)
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print build information as JSON")

	return cmd
}
