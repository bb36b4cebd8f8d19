// Command rss-fuse mounts configured RSS/Atom feeds as a read-only
// filesystem.
package main

import (
	"fmt"
	"os"

	"github.com/9diov/rss-fuse/cmd/rss-fuse/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rss-fuse:", err)
		os.Exit(1)
	}
}
