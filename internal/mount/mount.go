// Package mount implements the Mount Lifecycle (spec §4.G): validating a
// mount point, detecting whether it is already mounted or has gone stale,
// and escalating through unmount strategies.
//
// Grounded on backend/sftp/ssh_external.go's (rclone, pack) os/exec wrapping
// style for shelling out to external commands and checking their exit
// status, generalized here from ssh to fusermount/umount/lsof/fuser.
package mount

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/9diov/rss-fuse/internal/rfserr"
)

// procMountsPath is a var, not a const, so tests can point IsMounted at a
// fixture file instead of the real /proc/mounts.
var procMountsPath = "/proc/mounts"

// runCommand executes an external command and returns its stdout.
// It is a package var so tests can substitute a fake without shelling out
// to fusermount/umount/lsof/fuser, which aren't available in a test sandbox.
var runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(runCtx, name, args...).Output()
}

// staleErrorSubstrings are the read_dir failures that indicate a stale FUSE
// mount: the kernel still records the mountpoint but the server process is
// gone.
var staleErrorSubstrings = []string{
	"transport endpoint is not connected",
	"stale file handle",
	"input/output error",
}

// Validate implements spec §4.G's validate(P): create P if absent, reject
// a P that exists but isn't a directory, reject an already-mounted P, warn
// (but accept) a non-empty directory.
func Validate(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
			return rfserr.Wrap(rfserr.PermissionDenied, "create mount point "+path, mkErr)
		}
		return nil
	}
	if err != nil {
		return rfserr.Wrap(rfserr.Io, "stat mount point "+path, err)
	}
	if !info.IsDir() {
		return rfserr.New(rfserr.InvalidState, path+" exists and is not a directory")
	}

	mounted, err := IsMounted(path)
	if err != nil {
		return err
	}
	if mounted {
		return rfserr.New(rfserr.AlreadyExists, path+" is already mounted")
	}

	entries, err := os.ReadDir(path)
	if err == nil && len(entries) > 0 {
		fmt.Fprintf(os.Stderr, "rss-fuse: warning: mount point %s is not empty\n", path)
	}
	return nil
}

// IsMounted scans /proc/mounts for a second-column match on path. On
// platforms without /proc/mounts it falls back to parsing `mount`'s output;
// no redundant second call is made once /proc/mounts was readable.
func IsMounted(path string) (bool, error) {
	abs, err := normalizePath(path)
	if err != nil {
		return false, err
	}

	if f, err := os.Open(procMountsPath); err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) >= 2 && fields[1] == abs {
				return true, nil
			}
		}
		return false, nil
	}

	out, err := runCommand(context.Background(), "mount")
	if err != nil {
		return false, rfserr.Wrap(rfserr.Io, "list mounts", err)
	}
	return strings.Contains(string(out), abs), nil
}

// IsStale reports whether path is recorded as mounted but reading it fails
// with one of the classic "server process is gone" errors.
func IsStale(path string) (bool, error) {
	mounted, err := IsMounted(path)
	if err != nil || !mounted {
		return false, err
	}

	_, readErr := os.ReadDir(path)
	if readErr == nil {
		return false, nil
	}
	msg := strings.ToLower(readErr.Error())
	for _, s := range staleErrorSubstrings {
		if strings.Contains(msg, s) {
			return true, nil
		}
	}
	return false, nil
}

// CleanupStale attempts a lazy-unmount, then a force-unmount, of a stale
// mount point.
func CleanupStale(ctx context.Context, path string) error {
	if err := runStrategy(ctx, lazyUnmountArgs(path)); err == nil {
		return nil
	}
	return runStrategy(ctx, forceUnmountArgs(path))
}

func normalizePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", rfserr.Wrap(rfserr.InvalidState, "resolve absolute path for "+path, err)
	}
	return abs, nil
}

// UnmountError names the mount point, the last strategy attempted, and a
// remediation hint, per spec §4.G.
type UnmountError struct {
	Path          string
	LastStrategy  string
	Remediation   string
	CorrelationID string
	Cause         error
}

func (e *UnmountError) Error() string {
	return fmt.Sprintf("unmount %s: %s strategy failed (id=%s): %v. %s",
		e.Path, e.LastStrategy, e.CorrelationID, e.Cause, e.Remediation)
}

func (e *UnmountError) Unwrap() error { return e.Cause }

// Unmount escalates through graceful (retried 3x), busy-detection, force,
// and (if force is set) lazy strategies, in that order, stopping at the
// first success. Busy-detection only runs once graceful retries are
// exhausted, so a responsive mount never has its holder processes killed.
// Each attempt is tagged with a correlation id so operators can match log
// lines across strategies for a single unmount call.
func Unmount(ctx context.Context, path string, force bool) error {
	correlationID := uuid.NewString()

	mounted, err := IsMounted(path)
	if err != nil {
		return err
	}
	if !mounted {
		return rfserr.New(rfserr.NotFound, path+" is not mounted")
	}

	for attempt := 0; attempt < 3; attempt++ {
		if runStrategy(ctx, gracefulArgs(path)) == nil {
			return nil
		}
		time.Sleep(time.Second)
	}

	if busy, holders := isBusy(ctx, path); busy {
		fmt.Fprintf(os.Stderr, "rss-fuse: unmount %s (id=%s): busy, held by: %s\n", path, correlationID, strings.Join(holders, ", "))
		if force {
			killHolders(ctx, path)
			time.Sleep(500 * time.Millisecond)
		}
	}

	if runStrategy(ctx, forceUnmountArgs(path)) == nil {
		return nil
	}

	if force && runStrategy(ctx, lazyUnmountArgs(path)) == nil {
		return nil
	}

	return &UnmountError{
		Path:          path,
		LastStrategy:  lastStrategyName(force),
		Remediation:   "check `lsof +D " + path + "` or `fuser -m " + path + "` for processes still holding the mount, then retry with force unmount",
		CorrelationID: correlationID,
		Cause:         rfserr.New(rfserr.Io, "all unmount strategies exhausted"),
	}
}

func lastStrategyName(force bool) string {
	if force {
		return "lazy"
	}
	return "force"
}

// strategy is an external command (name + args) to attempt.
type strategy struct {
	name string
	args []string
}

func runStrategy(ctx context.Context, s strategy) error {
	if _, err := runCommand(ctx, s.name, s.args...); err != nil {
		return rfserr.Wrap(rfserr.Io, "unmount strategy "+s.name, err)
	}
	return nil
}

// gracefulArgs is `fusermount -u P` on Linux, `umount P` elsewhere.
func gracefulArgs(path string) strategy {
	if runtime.GOOS == "linux" {
		return strategy{"fusermount", []string{"-u", path}}
	}
	return strategy{"umount", []string{path}}
}

// forceUnmountArgs is `fusermount -u -z P` on Linux, `umount -f P` on
// BSD/macOS.
func forceUnmountArgs(path string) strategy {
	if runtime.GOOS == "linux" {
		return strategy{"fusermount", []string{"-u", "-z", path}}
	}
	return strategy{"umount", []string{"-f", path}}
}

// lazyUnmountArgs is `fusermount -u -z P` on Linux, `umount -l P` on
// BSD/macOS. Only used when force is set.
func lazyUnmountArgs(path string) strategy {
	if runtime.GOOS == "linux" {
		return strategy{"fusermount", []string{"-u", "-z", path}}
	}
	return strategy{"umount", []string{"-l", path}}
}

// isBusy reports whether any process holds path open, via `lsof +D path`
// (falling back to `fuser -m path`), returning a human-readable list of
// holders for logging.
func isBusy(ctx context.Context, path string) (bool, []string) {
	if out, err := runCommand(ctx, "lsof", "+D", path); err == nil {
		lines := nonEmptyLines(string(out))
		if len(lines) > 1 {
			return true, lines[1:]
		}
		return false, nil
	}
	if out, err := runCommand(ctx, "fuser", "-m", path); err == nil {
		pids := strings.Fields(string(out))
		if len(pids) > 0 {
			return true, pids
		}
	}
	return false, nil
}

func killHolders(ctx context.Context, path string) {
	if _, err := runCommand(ctx, "fuser", "-k", "-m", path); err == nil {
		return
	}
	out, err := runCommand(ctx, "lsof", "-t", "+D", path)
	if err != nil {
		return
	}
	for _, pid := range nonEmptyLines(string(out)) {
		_, _ = runCommand(ctx, "kill", "-TERM", pid)
	}
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
