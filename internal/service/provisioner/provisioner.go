package provisioner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-version"

	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
	"github.com/oshokin/bundle-launcher/internal/logger"
)

// Options configures a Provisioner.
type Options struct {
	// Command is the installer executable, e.g. npm.
	Command string
	// Args are passed to Command.
	Args []string
	// Manifest is the dependency manifest whose presence triggers installation.
	Manifest string
	// OutputDir is the installer's package directory, counted after install.
	OutputDir string
	// Stdout receives the installer output. Default: os.Stdout.
	Stdout io.Writer
	// Stderr receives the installer errors. Default: os.Stderr.
	Stderr io.Writer
}

// Result describes an installation attempt.
type Result struct {
	// Name is the package name declared by the manifest.
	Name string
	// Version is the declared package version, normalized when it is semantic.
	Version string
	// Ran is set when the installer was started.
	Ran bool
	// ExitCode is the installer exit code, -1 when it did not run to completion.
	ExitCode int
	// Packages is the number of packages found in the output directory.
	Packages int
	// Duration is the installer wall time.
	Duration time.Duration
	// Err is the logged failure, wrapped in bootstrap.ErrProcess.
	Err error
}

// manifest is the subset of the dependency manifest that gets reported.
type manifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// Provisioner runs the dependency installer.
type Provisioner struct {
	opts Options
}

// New creates a Provisioner.
func New(opts Options) *Provisioner {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	return &Provisioner{opts: opts}
}

// Install runs the installer in bundleRoot when the dependency manifest
// exists, and waits for it. A nonzero exit or a spawn failure is logged as a
// warning and reported in Result.Err; the caller proceeds either way.
func (p *Provisioner) Install(ctx context.Context, bundleRoot string) *Result {
	ctx = logger.WithName(ctx, "provisioner")

	result := &Result{ExitCode: -1}

	manifestPath := filepath.Join(bundleRoot, p.opts.Manifest)
	if _, err := os.Stat(manifestPath); err != nil {
		logger.InfoKV(ctx, "No dependency manifest, skipping installation", "manifest", manifestPath)

		return result
	}

	result.Name, result.Version = describe(ctx, manifestPath)

	logger.InfoKV(ctx, "Installing dependencies",
		"command", strings.Join(append([]string{p.opts.Command}, p.opts.Args...), " "),
		"directory", bundleRoot)

	command := exec.CommandContext(ctx, p.opts.Command, p.opts.Args...) //nolint:gosec // Installer comes from launcher settings.
	command.Dir = bundleRoot
	command.Stdin = os.Stdin
	command.Stdout = p.opts.Stdout
	command.Stderr = p.opts.Stderr

	startedAt := time.Now()

	if err := command.Start(); err != nil {
		result.Err = fmt.Errorf("%w: start installer: %w", bootstrap.ErrProcess, err)
		logger.WarnKV(ctx, "Failed to start dependency installer, continuing", "error", err)

		return result
	}

	result.Ran = true

	err := command.Wait()
	result.Duration = time.Since(startedAt)
	result.ExitCode = command.ProcessState.ExitCode()

	if err != nil {
		result.Err = fmt.Errorf("%w: installer: %w", bootstrap.ErrProcess, err)
		logger.WarnKV(ctx, "Dependency installer failed, continuing",
			"exit_code", result.ExitCode,
			"error", err)

		return result
	}

	result.Packages = countPackages(filepath.Join(bundleRoot, p.opts.OutputDir))

	logger.InfoKV(ctx, "Dependencies installed",
		"packages", result.Packages,
		"duration", result.Duration.Round(time.Millisecond))

	return result
}

// describe logs and returns the manifest's name and version when it can be read.
func describe(ctx context.Context, manifestPath string) (string, string) {
	contents, err := os.ReadFile(filepath.Clean(manifestPath))
	if err != nil {
		logger.DebugKV(ctx, "Failed to read dependency manifest", "error", err)

		return "", ""
	}

	var m manifest
	if err = json.Unmarshal(contents, &m); err != nil {
		logger.DebugKV(ctx, "Failed to decode dependency manifest", "error", err)

		return "", ""
	}

	declared := m.Version

	if declared != "" {
		parsed, parseErr := version.NewVersion(declared)
		if parseErr != nil {
			logger.WarnKV(ctx, "Dependency manifest version is not semantic", "version", declared, "error", parseErr)
		} else {
			declared = parsed.String()
		}
	}

	logger.InfoKV(ctx, "Found dependency manifest",
		"name", m.Name,
		"version", declared,
		"dependencies", len(m.Dependencies))

	return m.Name, declared
}

// countPackages counts installed packages; scoped directories (@scope/name)
// contribute their children and dot entries are ignored.
func countPackages(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	count := 0

	for _, entry := range entries {
		name := entry.Name()

		switch {
		case !entry.IsDir(), strings.HasPrefix(name, "."):
			continue
		case strings.HasPrefix(name, "@"):
			count += countDirectories(filepath.Join(dir, name))
		default:
			count++
		}
	}

	return count
}

func countDirectories(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	count := 0

	for _, entry := range entries {
		if entry.IsDir() {
			count++
		}
	}

	return count
}
