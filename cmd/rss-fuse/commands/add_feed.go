package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/9diov/rss-fuse/internal/config"
)

var addFeedCmd = &cobra.Command{
	Use:   "add-feed <name> <url>",
	Short: "Add a feed to config.toml",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, url := args[0], args[1]

		path := configPath(cmd)
		if path == "" {
			path = config.DefaultPath()
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		cfg.Feeds[name] = url
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if err := config.Save(cfg, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added feed %q -> %s\n", name, url)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addFeedCmd)
}
