package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/9diov/rss-fuse/internal/config"
)

var listFeedsCmd = &cobra.Command{
	Use:   "list-feeds",
	Short: "List feeds configured in config.toml",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath(cmd)
		if path == "" {
			path = config.DefaultPath()
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(cfg.Feeds))
		for name := range cfg.Feeds {
			names = append(names, name)
		}
		sort.Strings(names)

		if len(names) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no feeds configured")
			return nil
		}
		for _, name := range names {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, cfg.Feeds[name])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listFeedsCmd)
}
