package configurator

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
	"github.com/oshokin/bundle-launcher/internal/logger"
	"github.com/oshokin/bundle-launcher/internal/settings"
)

// BackupSuffix is appended to the bundle configuration path for the backup copy.
const BackupSuffix = ".backup"

// DefaultFileMode is applied to the replaced configuration.
const DefaultFileMode fs.FileMode = 0o600

var errOverrideIsDirectory = errors.New("override is a directory")

// Options configures a Configurator.
type Options struct {
	// ConfigFile is the bundle configuration path relative to the bundle root.
	ConfigFile string
	// FileMode is the mode of the replaced configuration. Default: 0600.
	FileMode fs.FileMode
	// Lookup resolves environment overrides when reporting effective settings.
	// Default: os.LookupEnv.
	Lookup settings.LookupFunc
}

// Result describes what Apply did.
type Result struct {
	// Applied is set when the override replaced the bundle configuration.
	Applied bool
	// ConfigPath is the bundle configuration path.
	ConfigPath string
	// BackupPath is set when a previous configuration was saved.
	BackupPath string
	// Settings are the effective settings after applying, when readable.
	Settings *settings.Settings
	// Err is the logged failure, wrapped in bootstrap.ErrConfig.
	Err error
}

// Configurator applies operator overrides.
type Configurator struct {
	opts Options
}

// New creates a Configurator.
func New(opts Options) *Configurator {
	if opts.FileMode == 0 {
		opts.FileMode = DefaultFileMode
	}

	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}

	return &Configurator{opts: opts}
}

// Apply copies overridePath over the bundle configuration inside bundleRoot.
//
// A missing override leaves the bundle configuration untouched. An existing
// configuration is moved to <config>.backup while the override is written
// atomically in its place. Apply never fails the pipeline: problems are
// logged and reported in Result.Err.
func (c *Configurator) Apply(ctx context.Context, overridePath, bundleRoot string) *Result {
	ctx = logger.WithName(ctx, "configurator")

	result := &Result{ConfigPath: filepath.Join(bundleRoot, c.opts.ConfigFile)}

	override, err := readOverride(overridePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.InfoKV(ctx, "No override configuration, keeping bundle defaults", "override", overridePath)

		return result
	case err != nil:
		return fail(ctx, result, fmt.Errorf("read override: %w", err))
	}

	if result.BackupPath, err = c.replace(result.ConfigPath, override); err != nil {
		return fail(ctx, result, err)
	}

	result.Applied = true

	logger.InfoKV(ctx, "Applied override configuration",
		"override", overridePath,
		"config", result.ConfigPath,
		"backup", result.BackupPath)

	result.Settings, err = settings.LoadWithLookup(result.ConfigPath, c.opts.Lookup)
	if err != nil {
		logger.WarnKV(ctx, "Failed to read effective settings", "error", err)

		return result
	}

	logger.InfoKV(ctx, "Effective settings", result.Settings.Redacted()...)

	return result
}

// replace atomically writes contents to configPath and returns the backup
// path, empty when there was nothing to back up.
func (c *Configurator) replace(configPath string, contents []byte) (string, error) {
	backupPath := configPath + BackupSuffix

	switch _, err := os.Stat(configPath); {
	case errors.Is(err, fs.ErrNotExist):
		// go-update renames the current file away, so it must exist.
		if err = os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			return "", fmt.Errorf("create config directory: %w", err)
		}

		if err = os.WriteFile(configPath, nil, c.opts.FileMode); err != nil {
			return "", fmt.Errorf("create config: %w", err)
		}

		backupPath = ""
	case err != nil:
		return "", fmt.Errorf("stat config: %w", err)
	}

	checksum := sha256.Sum256(contents)

	options := goupdate.Options{
		TargetPath:  configPath,
		TargetMode:  c.opts.FileMode,
		Checksum:    checksum[:],
		OldSavePath: backupPath,
	}

	if err := goupdate.Apply(bytes.NewReader(contents), options); err != nil {
		if rollbackErr := goupdate.RollbackError(err); rollbackErr != nil {
			return "", fmt.Errorf("replace config: %w (rollback failed: %w)", err, rollbackErr)
		}

		return "", fmt.Errorf("replace config: %w", err)
	}

	return backupPath, nil
}

// fail logs err and records it on the result.
func fail(ctx context.Context, result *Result, err error) *Result {
	result.Err = fmt.Errorf("%w: %w", bootstrap.ErrConfig, err)

	logger.ErrorKV(ctx, "Failed to apply override configuration, continuing", "error", result.Err)

	return result
}

func readOverride(path string) ([]byte, error) {
	if path == "" {
		return nil, fs.ErrNotExist
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		return nil, fmt.Errorf("%s: %w", path, errOverrideIsDirectory)
	}

	return os.ReadFile(filepath.Clean(path))
}
