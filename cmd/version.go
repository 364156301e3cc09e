// Package cmd holds auxiliary cobra commands attached to the daemon CLI.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AH-Merii/clearml/internal/version"
)

// CreateVersionCmd returns the version command.
func CreateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Get()
			fmt.Printf("clearmld %s\n", info.Version)
			fmt.Printf("  commit:   %s\n", info.GitCommit)
			fmt.Printf("  built:    %s\n", info.BuildDate)
			fmt.Printf("  go:       %s\n", info.GoVersion)
			fmt.Printf("  platform: %s\n", info.Platform)
		},
	}
}
