package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/9diov/rss-fuse/internal/config"
	"github.com/9diov/rss-fuse/internal/orchestrator"
)

var mountCmd = &cobra.Command{
	Use:   "mount <mountpoint>",
	Short: "Mount configured feeds as a filesystem",
	Args:  cobra.ExactArgs(1),
	RunE:  runMount,
}

func init() {
	rootCmd.AddCommand(mountCmd)
}

func runMount(cmd *cobra.Command, args []string) error {
	mountpoint := args[0]

	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	flags := log.LstdFlags
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		flags |= log.Lmicroseconds
	}
	logger := log.New(os.Stderr, "rss-fuse: ", flags)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintf(cmd.OutOrStdout(), "mounting %d feed(s) at %s\n", len(cfg.Feeds), mountpoint)

	if err := orchestrator.Run(ctx, cfg, mountpoint, isDebug(cmd), logger); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}
