package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the parrotd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("parrotd " + version)
			return nil
		},
	}
}
