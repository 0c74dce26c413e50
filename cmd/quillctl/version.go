package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of quillctl",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("quillctl %s\n", Version)
	},
}
