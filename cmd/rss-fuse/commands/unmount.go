package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/9diov/rss-fuse/internal/mount"
)

var unmountCmd = &cobra.Command{
	Use:   "unmount <mountpoint>",
	Short: "Unmount a mounted rss-fuse filesystem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if err := mount.Unmount(context.Background(), args[0], force); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unmounted %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(unmountCmd)
	unmountCmd.Flags().BoolP("force", "f", false, "force unmount even if busy")
}
