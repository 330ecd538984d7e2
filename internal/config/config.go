package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
)

// Config holds every setting of a launcher run.
type Config struct {
	// CacheRoot is the staging directory wiped and recreated on every run.
	CacheRoot string `yaml:"cache_root"`
	// OverrideFile is the operator-owned configuration overlaid onto the bundle.
	OverrideFile string `yaml:"override_file"`
	// MarkerFile records the PID of the running launcher.
	MarkerFile string `yaml:"marker_file"`
	// StatusFile receives the supervisor status as JSON; empty disables it.
	StatusFile string `yaml:"status_file"`
	// ControlAddress enables the gRPC control API when set (e.g. 127.0.0.1:7071).
	ControlAddress string `yaml:"control_address"`
	// Repository describes how the artifact location is resolved.
	Repository Repository `yaml:"repository"`
	// Download tunes the artifact download.
	Download Download `yaml:"download"`
	// Bundle describes the layout of the extracted bundle.
	Bundle Bundle `yaml:"bundle"`
	// Installer describes the dependency provisioning command.
	Installer Installer `yaml:"installer"`
	// Restart is the crash-restart policy of the supervisor.
	Restart Restart `yaml:"restart"`
}

// Repository describes the sources consulted to resolve the artifact location.
type Repository struct {
	// Host is the artifact host matched in the override file (e.g. github.com).
	Host string `yaml:"host"`
	// DefaultURL is used when no other source names a repository.
	DefaultURL string `yaml:"default_url"`
	// Branch selects the archive served at <repo>/archive/refs/heads/<branch>.zip.
	Branch string `yaml:"branch"`
	// Manifest is the launcher's own manifest with a "repository" field.
	Manifest string `yaml:"manifest"`
	// GitConfig is a git configuration file with a remote url line.
	GitConfig string `yaml:"git_config"`
}

// Download tunes the HTTP fetch of the archive.
type Download struct {
	// Timeout bounds the whole download.
	Timeout time.Duration `yaml:"timeout"`
	// UserAgent is sent with the request; empty uses the launcher version.
	UserAgent string `yaml:"user_agent"`
}

// Bundle describes the extracted application.
type Bundle struct {
	// EntryPoint is the startup script, relative to the bundle root.
	EntryPoint string `yaml:"entry_point"`
	// Runtime is the interpreter for the entry point; empty runs the entry point itself.
	Runtime string `yaml:"runtime"`
	// ConfigFile is the bundle's configuration file replaced by the override.
	ConfigFile string `yaml:"config_file"`
	// Environment holds variables added to the child environment.
	Environment map[string]string `yaml:"environment"`
}

// Installer describes the external dependency installer.
type Installer struct {
	// Command is the installer executable.
	Command string `yaml:"command"`
	// Args are passed to Command as is.
	Args []string `yaml:"args"`
	// Manifest is the file whose presence triggers installation.
	Manifest string `yaml:"manifest"`
	// OutputDir is where the installer places packages, reported after install.
	OutputDir string `yaml:"output_dir"`
}

// Restart is the supervisor crash-restart policy.
type Restart struct {
	// MaxRestarts caps consecutive restarts; 0 means unbounded.
	MaxRestarts int `yaml:"max_restarts"`
	// Delay is waited before the first restart.
	Delay time.Duration `yaml:"delay"`
	// Multiplier grows the delay after each restart; 1 keeps it fixed.
	Multiplier float64 `yaml:"multiplier"`
	// MaxDelay caps the grown delay.
	MaxDelay time.Duration `yaml:"max_delay"`
	// GracePeriod is waited after forwarding a termination signal.
	GracePeriod time.Duration `yaml:"grace_period"`
}

const (
	// DefaultConfigFilename is the default filename for launcher settings.
	DefaultConfigFilename = "launcher-settings.yaml"

	// DefaultCacheRoot is the default staging directory.
	DefaultCacheRoot = ".bundle-cache"

	// DefaultOverrideFilename is the default operator override file.
	DefaultOverrideFilename = "settings.env"

	// DefaultMarkerFilename is the default launcher PID marker.
	DefaultMarkerFilename = "bundle-launcher.pid"

	// DefaultStatusFilename is the default supervisor status file.
	DefaultStatusFilename = "bundle-launcher-status.json"

	// DefaultHost is the default artifact host.
	DefaultHost = "github.com"

	// DefaultRepositoryURL is the repository used when nothing else names one.
	DefaultRepositoryURL = "https://github.com/oshokin/bundle-launcher-example"

	// DefaultBranch is the default archive branch.
	DefaultBranch = "main"

	// DefaultDownloadTimeout bounds the artifact download.
	DefaultDownloadTimeout = 60 * time.Second

	// DefaultRestartDelay is waited before relaunching a crashed child.
	DefaultRestartDelay = 5 * time.Second

	// DefaultGracePeriod is waited after forwarding a termination signal.
	DefaultGracePeriod = 1 * time.Second

	// DefaultCallTimeout bounds a single control API call.
	DefaultCallTimeout = 5 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errCacheRootRequired is returned when the cache root is blank after defaults.
	errCacheRootRequired = errors.New("cache root must be provided")
	// errEntryPointRequired is returned when the bundle entry point is blank.
	errEntryPointRequired = errors.New("bundle entry point must be provided")
	// errNegativeRestarts is returned for a negative restart cap.
	errNegativeRestarts = errors.New("max restarts must not be negative")
	// errBadMultiplier is returned for a backoff multiplier below one.
	errBadMultiplier = errors.New("restart multiplier must be at least 1")
)

// Default returns a configuration populated with built-in defaults.
func Default() *Config {
	return &Config{
		CacheRoot:    DefaultCacheRoot,
		OverrideFile: DefaultOverrideFilename,
		MarkerFile:   DefaultMarkerFilename,
		StatusFile:   DefaultStatusFilename,
		Repository: Repository{
			Host:       DefaultHost,
			DefaultURL: DefaultRepositoryURL,
			Branch:     DefaultBranch,
			Manifest:   "package.json",
			GitConfig:  filepath.Join(".git", "config"),
		},
		Download: Download{
			Timeout: DefaultDownloadTimeout,
		},
		Bundle: Bundle{
			EntryPoint: "index.js",
			Runtime:    "node",
			ConfigFile: DefaultOverrideFilename,
			Environment: map[string]string{
				"NODE_ENV": "production",
				"DEPLOYED": "true",
			},
		},
		Installer: Installer{
			Command:   "npm",
			Args:      []string{"install", "--legacy-peer-deps"},
			Manifest:  "package.json",
			OutputDir: "node_modules",
		},
		Restart: Restart{
			Delay:       DefaultRestartDelay,
			Multiplier:  1,
			GracePeriod: DefaultGracePeriod,
		},
	}
}

// Load reads configuration from the provided path on top of the defaults and
// validates it. A missing file at the default location yields the defaults.
func Load(path string) (*Config, error) {
	isDefaultPath := path == ""
	if isDefaultPath {
		path = DefaultConfigFilename
	}

	cfg := Default()

	contents, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
		if err = yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("%w: unmarshal settings: %w", bootstrap.ErrConfig, err)
		}
	case isDefaultPath && errors.Is(err, os.ErrNotExist):
		// Defaults only.
	default:
		return nil, fmt.Errorf("%w: read settings: %w", bootstrap.ErrConfig, err)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills blank fields with defaults and checks the rest for consistency.
//
//nolint:cyclop // A flat list of independent checks reads better than helpers.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	defaults := Default()

	if cfg.CacheRoot == "" {
		return fmt.Errorf("%w: %w", bootstrap.ErrConfig, errCacheRootRequired)
	}

	if cfg.Bundle.EntryPoint == "" {
		return fmt.Errorf("%w: %w", bootstrap.ErrConfig, errEntryPointRequired)
	}

	if cfg.Bundle.ConfigFile == "" {
		cfg.Bundle.ConfigFile = defaults.Bundle.ConfigFile
	}

	if cfg.Repository.Host == "" {
		cfg.Repository.Host = defaults.Repository.Host
	}

	if cfg.Repository.Branch == "" {
		cfg.Repository.Branch = defaults.Repository.Branch
	}

	if cfg.Repository.DefaultURL == "" {
		cfg.Repository.DefaultURL = defaults.Repository.DefaultURL
	}

	if _, err := url.ParseRequestURI(cfg.Repository.DefaultURL); err != nil {
		return fmt.Errorf("%w: invalid default repository URL: %w", bootstrap.ErrConfig, err)
	}

	if cfg.Download.Timeout <= 0 {
		cfg.Download.Timeout = DefaultDownloadTimeout
	}

	if cfg.Installer.Manifest == "" {
		cfg.Installer.Manifest = defaults.Installer.Manifest
	}

	if cfg.Restart.MaxRestarts < 0 {
		return fmt.Errorf("%w: %w", bootstrap.ErrConfig, errNegativeRestarts)
	}

	if cfg.Restart.Delay <= 0 {
		cfg.Restart.Delay = DefaultRestartDelay
	}

	if cfg.Restart.Multiplier == 0 {
		cfg.Restart.Multiplier = 1
	}

	if cfg.Restart.Multiplier < 1 {
		return fmt.Errorf("%w: %w", bootstrap.ErrConfig, errBadMultiplier)
	}

	if cfg.Restart.GracePeriod <= 0 {
		cfg.Restart.GracePeriod = DefaultGracePeriod
	}

	if cfg.ControlAddress == "" {
		return nil
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.ControlAddress); err != nil {
		return fmt.Errorf("%w: invalid control address: %w", bootstrap.ErrConfig, err)
	}

	return nil
}
