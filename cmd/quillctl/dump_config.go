package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/quill"
	"github.com/user/quill/internal/config"
)

func init() {
	rootCmd.AddCommand(dumpConfigCmd)
}

var dumpConfigCmd = &cobra.Command{
	Use:   "dump-config <file>",
	Short: "Load a quill config file and print what would be registered",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0])
		if err != nil {
			return err
		}

		built, err := buildFromConfig(cfg)
		if err != nil {
			return err
		}
		defer func() {
			for _, s := range built {
				s.Close()
			}
		}()

		quill.DumpConfiguration(os.Stdout)
		fmt.Println()
		return nil
	},
}
