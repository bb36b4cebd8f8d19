package mount

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/9diov/rss-fuse/internal/rfserr"
)

// withFakeProcMounts points procMountsPath at a fixture file listing mounted
// and restores the real path on cleanup.
func withFakeProcMounts(t *testing.T, mounted ...string) {
	t.Helper()
	dir := t.TempDir()
	fixture := filepath.Join(dir, "mounts")
	var sb strings.Builder
	for _, m := range mounted {
		sb.WriteString("rss-fuse ")
		sb.WriteString(m)
		sb.WriteString(" fuse rw 0 0\n")
	}
	if err := os.WriteFile(fixture, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	prev := procMountsPath
	procMountsPath = fixture
	t.Cleanup(func() { procMountsPath = prev })
}

// withFakeRunner replaces runCommand with fn, restoring the real
// implementation on cleanup.
func withFakeRunner(t *testing.T, fn func(ctx context.Context, name string, args ...string) ([]byte, error)) {
	t.Helper()
	prev := runCommand
	runCommand = fn
	t.Cleanup(func() { runCommand = prev })
}

func TestValidateCreatesAbsentDirectory(t *testing.T) {
	t.Parallel()
	withFakeProcMounts(t)
	dir := t.TempDir()
	target := filepath.Join(dir, "mnt")

	if err := Validate(target); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		t.Errorf("Validate() should have created %s as a directory", target)
	}
}

func TestValidateRejectsNonDirectory(t *testing.T) {
	t.Parallel()
	withFakeProcMounts(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "notadir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	err := Validate(file)
	if rfserr.KindOf(err) != rfserr.InvalidState {
		t.Errorf("Validate(file) kind = %v, want InvalidState", rfserr.KindOf(err))
	}
}

func TestValidateRejectsAlreadyMounted(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	target := filepath.Join(dir, "mnt")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		t.Fatalf("abs: %v", err)
	}
	withFakeProcMounts(t, abs)

	validateErr := Validate(target)
	if rfserr.KindOf(validateErr) != rfserr.AlreadyExists {
		t.Errorf("Validate(mounted) kind = %v, want AlreadyExists", rfserr.KindOf(validateErr))
	}
}

func TestIsMountedTrueAndFalse(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	target := filepath.Join(dir, "mnt")
	abs, err := filepath.Abs(target)
	if err != nil {
		t.Fatalf("abs: %v", err)
	}

	withFakeProcMounts(t, abs)
	mounted, err := IsMounted(target)
	if err != nil {
		t.Fatalf("IsMounted() error: %v", err)
	}
	if !mounted {
		t.Error("IsMounted() should report true for a path listed in /proc/mounts")
	}

	withFakeProcMounts(t, filepath.Join(dir, "other"))
	mounted, err = IsMounted(target)
	if err != nil {
		t.Fatalf("IsMounted() error: %v", err)
	}
	if mounted {
		t.Error("IsMounted() should report false for a path not listed")
	}
}

func TestIsStaleFalseForReadableMountedDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	target := filepath.Join(dir, "mnt")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	abs, _ := filepath.Abs(target)
	withFakeProcMounts(t, abs)

	// A real, readable empty directory is not stale even when "mounted"
	// according to the fixture.
	stale, err := IsStale(target)
	if err != nil {
		t.Fatalf("IsStale() error: %v", err)
	}
	if stale {
		t.Error("IsStale() should be false for a readable directory")
	}
}

func TestIsStaleFalseWhenNotMounted(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	withFakeProcMounts(t)

	stale, err := IsStale(dir)
	if err != nil {
		t.Fatalf("IsStale() error: %v", err)
	}
	if stale {
		t.Error("IsStale() should be false when the path isn't mounted at all")
	}
}

func TestUnmountNotMountedReturnsNotFound(t *testing.T) {
	t.Parallel()
	withFakeProcMounts(t)

	err := Unmount(context.Background(), "/tmp/never-mounted", false)
	if rfserr.KindOf(err) != rfserr.NotFound {
		t.Errorf("Unmount(not mounted) kind = %v, want NotFound", rfserr.KindOf(err))
	}
}

func TestUnmountSucceedsOnFirstGracefulAttempt(t *testing.T) {
	t.Parallel()
	target := "/mnt/feeds"
	withFakeProcMounts(t, target)

	var calls []string
	withFakeRunner(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, name+" "+strings.Join(args, " "))
		if name == "lsof" || name == "fuser" {
			return nil, errors.New("not found")
		}
		return nil, nil
	})

	if err := Unmount(context.Background(), target, false); err != nil {
		t.Fatalf("Unmount() error: %v", err)
	}
	if len(calls) == 0 {
		t.Fatal("expected at least one external command invocation")
	}
}

func TestUnmountEscalatesToForceAfterGracefulFails(t *testing.T) {
	t.Parallel()
	target := "/mnt/feeds"
	withFakeProcMounts(t, target)

	var sawForce bool
	withFakeRunner(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if name == "lsof" || name == "fuser" {
			return nil, errors.New("not found")
		}
		for _, a := range args {
			if a == "-z" {
				sawForce = true
				return nil, nil
			}
		}
		return nil, errors.New("graceful unmount failed: device busy")
	})

	if err := Unmount(context.Background(), target, false); err != nil {
		t.Fatalf("Unmount() error: %v", err)
	}
	if !sawForce {
		t.Error("Unmount() should escalate to the force strategy once graceful retries are exhausted")
	}
}

func TestUnmountReturnsUnmountErrorWhenAllStrategiesFail(t *testing.T) {
	t.Parallel()
	target := "/mnt/feeds"
	withFakeProcMounts(t, target)

	withFakeRunner(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("permission denied")
	})

	err := Unmount(context.Background(), target, true)
	var unmountErr *UnmountError
	if !errors.As(err, &unmountErr) {
		t.Fatalf("Unmount() error = %v, want *UnmountError", err)
	}
	if unmountErr.Path != target {
		t.Errorf("UnmountError.Path = %q, want %q", unmountErr.Path, target)
	}
	if unmountErr.CorrelationID == "" {
		t.Error("UnmountError.CorrelationID should be populated")
	}
}

func TestUnmountTriesGracefulBeforeBusyDetection(t *testing.T) {
	t.Parallel()
	target := "/mnt/feeds"
	withFakeProcMounts(t, target)

	var calls []string
	withFakeRunner(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, name)
		if name == "lsof" || name == "fuser" {
			return nil, errors.New("not found")
		}
		return nil, nil
	})

	if err := Unmount(context.Background(), target, false); err != nil {
		t.Fatalf("Unmount() error: %v", err)
	}

	if len(calls) == 0 || calls[0] != "fusermount" {
		t.Fatalf("calls = %v, want the graceful strategy attempted first", calls)
	}
	for _, c := range calls {
		if c == "lsof" || c == "fuser" {
			t.Fatalf("calls = %v, want no busy-detection call when graceful succeeds on the first attempt", calls)
		}
	}
}

func TestUnmountOnlyChecksBusyAfterGracefulExhausted(t *testing.T) {
	t.Parallel()
	target := "/mnt/feeds"
	withFakeProcMounts(t, target)

	var calls []string
	withFakeRunner(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, name)
		if name == "lsof" {
			return nil, nil // succeeds with no output: not busy
		}
		if name == "fuser" {
			return nil, errors.New("not found")
		}
		for _, a := range args {
			if a == "-z" {
				return nil, nil
			}
		}
		return nil, errors.New("graceful unmount failed: device busy")
	})

	if err := Unmount(context.Background(), target, true); err != nil {
		t.Fatalf("Unmount() error: %v", err)
	}

	gracefulCount := 0
	lsofIndex := -1
	for i, c := range calls {
		if c == "fusermount" {
			gracefulCount++
		}
		if c == "lsof" && lsofIndex == -1 {
			lsofIndex = i
		}
	}
	if gracefulCount < 3 {
		t.Fatalf("calls = %v, want 3 graceful attempts before busy-detection", calls)
	}
	if lsofIndex != 3 {
		t.Fatalf("calls = %v, want lsof (busy-detection) to run immediately after the 3 graceful attempts, at index 3", calls)
	}
}

func TestCleanupStaleTriesLazyThenForce(t *testing.T) {
	t.Parallel()
	var names []string
	withFakeRunner(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		names = append(names, name)
		return nil, nil
	})

	if err := CleanupStale(context.Background(), "/mnt/feeds"); err != nil {
		t.Fatalf("CleanupStale() error: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("expected CleanupStale to stop after the first successful strategy, got %d calls", len(names))
	}
}
