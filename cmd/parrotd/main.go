// Command parrotd runs the Parrot OS coordinator: the PCore loop and its
// HTTP surface for VM and engine clients.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "parrotd",
		Short: "Parrot OS coordinator daemon",
		Long:  "parrotd runs the PCore loop: VM/engine registration, thread dispatch, and semantic variable resolution.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (optional, env vars override)")

	rootCmd.AddCommand(serveCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
