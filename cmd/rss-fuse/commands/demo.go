package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/9diov/rss-fuse/internal/config"
	"github.com/9diov/rss-fuse/internal/model"
)

// demoCmd previews the directory layout `mount` would produce, reading
// only whatever is already in the persistent cache — it never fetches over
// the network or touches FUSE.
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Preview the mounted filesystem layout from cached content",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath(cmd))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		r, err := newOneShotRepository(cfg)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(cfg.Feeds))
		for name := range cfg.Feeds {
			names = append(names, name)
		}
		sort.Strings(names)

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "/")
		fmt.Fprintln(out, "  .rss-fuse/")
		fmt.Fprintln(out, "    logs/")
		fmt.Fprintln(out, "    cache/")
		fmt.Fprintln(out, "    config.toml")
		for _, name := range names {
			fmt.Fprintf(out, "  %s/\n", name)
			f, ok := r.LoadFeedCacheFirst(name)
			if !ok {
				fmt.Fprintf(out, "    ⏳ Loading %s....md\n", name)
				continue
			}
			for _, a := range f.Articles {
				fmt.Fprintf(out, "    %s\n", model.MarkdownFilename(a.Title))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}
