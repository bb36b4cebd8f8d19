package commands

import (
	"os"

	"github.com/mattn/go-isatty"

	"github.com/9diov/rss-fuse/internal/model"
)

// stdoutIsTTY gates color output: piped or redirected stdout gets plain
// text, since ANSI codes would otherwise leak into logs and scripts.
func stdoutIsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// colorizeState wraps a feed state label in a color matching its severity
// when tty is true, and returns it unchanged otherwise.
func colorizeState(state model.FeedState, tty bool) string {
	if !tty {
		return string(state)
	}
	switch state {
	case model.StateActive:
		return "\033[32m" + string(state) + "\033[0m"
	case model.StateError:
		return "\033[31m" + string(state) + "\033[0m"
	case model.StateLoading, model.StateUpdating:
		return "\033[33m" + string(state) + "\033[0m"
	default:
		return string(state)
	}
}
