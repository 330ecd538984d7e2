package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	ps "github.com/mitchellh/go-ps"

	"github.com/oshokin/bundle-launcher/internal/config"
	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
	"github.com/oshokin/bundle-launcher/internal/logger"
)

var errAlreadyRunning = errors.New("another launcher is running")

// Marker is a PID file guarding the cache root against concurrent launchers.
type Marker struct {
	path string
	// executable is the process name a live launcher runs under.
	executable string
}

// NewMarker creates a marker at path for launchers named like this process.
func NewMarker(path string) *Marker {
	executable, err := os.Executable()
	if err != nil {
		executable = os.Args[0]
	}

	return &Marker{
		path:       filepath.Clean(path),
		executable: filepath.Base(executable),
	}
}

// Acquire writes the current PID into the marker. An existing marker that
// names a live launcher process fails with bootstrap.ErrProcess; a marker
// whose process is gone, or now runs another program, is stale and replaced.
func (m *Marker) Acquire(ctx context.Context) error {
	pid, err := m.read()

	switch {
	case errors.Is(err, os.ErrNotExist):
		// First launch.
	case err != nil:
		logger.WarnKV(ctx, "Unreadable launch marker, replacing it", "marker", m.path, "error", err)
	case pid != os.Getpid() && m.alive(pid):
		return fmt.Errorf("%w: %w (pid %d, marker %s)", bootstrap.ErrProcess, errAlreadyRunning, pid, m.path)
	default:
		logger.InfoKV(ctx, "Replacing stale launch marker", "marker", m.path, "pid", pid)
	}

	contents := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err = os.WriteFile(m.path, contents, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("%w: write launch marker: %w", bootstrap.ErrFilesystem, err)
	}

	return nil
}

// Release removes the marker if it still names the current process.
func (m *Marker) Release(ctx context.Context) {
	pid, err := m.read()
	if err != nil || pid != os.Getpid() {
		return
	}

	if err = os.Remove(m.path); err != nil {
		logger.WarnKV(ctx, "Failed to remove launch marker", "marker", m.path, "error", err)
	}
}

func (m *Marker) read() (int, error) {
	contents, err := os.ReadFile(m.path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil {
		return 0, fmt.Errorf("parse pid: %w", err)
	}

	return pid, nil
}

// alive reports whether pid runs a launcher executable.
func (m *Marker) alive(pid int) bool {
	process, err := ps.FindProcess(pid)
	if err != nil || process == nil {
		return false
	}

	return sameExecutable(process.Executable(), m.executable)
}

// sameExecutable compares process names; some platforms truncate them.
func sameExecutable(running, expected string) bool {
	running = strings.TrimSuffix(strings.ToLower(running), ".exe")
	expected = strings.TrimSuffix(strings.ToLower(expected), ".exe")

	if running == "" || expected == "" {
		return false
	}

	return running == expected || strings.HasPrefix(expected, running)
}
