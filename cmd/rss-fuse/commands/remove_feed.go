package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/9diov/rss-fuse/internal/config"
	"github.com/9diov/rss-fuse/internal/rfserr"
)

var removeFeedCmd = &cobra.Command{
	Use:   "remove-feed <name>",
	Short: "Remove a feed from config.toml",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		path := configPath(cmd)
		if path == "" {
			path = config.DefaultPath()
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		if _, ok := cfg.Feeds[name]; !ok {
			return rfserr.New(rfserr.NotFound, fmt.Sprintf("feed %q is not configured", name))
		}
		delete(cfg.Feeds, name)

		if err := config.Save(cfg, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed feed %q\n", name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(removeFeedCmd)
}
