// Package commands implements the rss-fuse CLI (spec §6): one file per
// subcommand, a shared root command carrying global flags.
package commands

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rss-fuse",
	Short: "Mount RSS and Atom feeds as a filesystem",
	Long:  `rss-fuse exposes configured RSS/Atom feeds as a read-only FUSE filesystem, one directory per feed and one Markdown file per article.`,
}

// Execute runs the root command; its error, if any, becomes the process's
// exit code 1 per spec §6.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default: $XDG_CONFIG_HOME/rss-fuse/config.toml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "enable FUSE debug logging")
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	return path
}

func isDebug(cmd *cobra.Command) bool {
	debug, _ := cmd.Root().PersistentFlags().GetBool("debug")
	return debug
}
