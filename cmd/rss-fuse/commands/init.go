package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/9diov/rss-fuse/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.toml",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath(cmd)
		if path == "" {
			path = config.DefaultPath()
		}

		cfg := config.DefaultConfig()
		if err := config.Save(cfg, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
