package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oshokin/bundle-launcher/internal/config"
	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
	"github.com/oshokin/bundle-launcher/internal/logger"
	repository "github.com/oshokin/bundle-launcher/internal/repository/state"
	"github.com/oshokin/bundle-launcher/internal/service/configurator"
	"github.com/oshokin/bundle-launcher/internal/service/extractor"
	"github.com/oshokin/bundle-launcher/internal/service/fetcher"
	"github.com/oshokin/bundle-launcher/internal/service/provisioner"
	"github.com/oshokin/bundle-launcher/internal/service/resolver"
	"github.com/oshokin/bundle-launcher/internal/service/supervisor"
)

// Options controls a launcher run.
type Options struct {
	// ConfigPath specifies the path to the launcher settings YAML file.
	ConfigPath string
	// OverridePath overrides the operator override file from the settings.
	OverridePath string
	// CacheRoot overrides the cache root from the settings.
	CacheRoot string
	// Signals delivers termination signals; the caller registers it once.
	Signals <-chan os.Signal
	// Progress receives the download progress line. Default: os.Stderr.
	Progress io.Writer
	// Spawn starts the application. Default: real processes.
	Spawn supervisor.SpawnFunc
}

// errInterrupted is returned when a signal or halt arrives before supervision starts.
var errInterrupted = errors.New("interrupted during bootstrap")

// runner holds the stages of one run.
type runner struct {
	cfg  *config.Config
	opts *Options

	resolver     *resolver.Resolver
	fetcher      *fetcher.Fetcher
	extractor    *extractor.Extractor
	configurator *configurator.Configurator
	provisioner  *provisioner.Provisioner
	supervisor   *supervisor.Supervisor
	status       *repository.FileRepository
}

// Run executes the whole pipeline and blocks until supervision ends.
// A signal or halt request during bootstrap aborts the current stage and
// returns nil; a signal during supervision is forwarded to the application.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "launcher")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if opts.CacheRoot != "" {
		cfg.CacheRoot = opts.CacheRoot
	}

	if opts.OverridePath != "" {
		cfg.OverrideFile = opts.OverridePath
	}

	marker := NewMarker(cfg.MarkerFile)
	if err = marker.Acquire(ctx); err != nil {
		return err
	}

	defer marker.Release(ctx)

	r := newRunner(ctx, cfg, opts)

	if cfg.ControlAddress != "" {
		stop, serveErr := serveControl(ctx, cfg.ControlAddress, r.supervisor)
		if serveErr != nil {
			return serveErr
		}

		defer stop()
	}

	return r.run(ctx)
}

func newRunner(ctx context.Context, cfg *config.Config, opts *Options) *runner {
	progress := opts.Progress
	if progress == nil {
		progress = os.Stderr
	}

	r := &runner{
		cfg:  cfg,
		opts: opts,
		resolver: resolver.New(resolver.Options{
			ManifestPath:  cfg.Repository.Manifest,
			OverridePath:  cfg.OverrideFile,
			GitConfigPath: cfg.Repository.GitConfig,
			Host:          cfg.Repository.Host,
			DefaultURL:    cfg.Repository.DefaultURL,
			Branch:        cfg.Repository.Branch,
		}),
		fetcher: fetcher.New(fetcher.Options{
			Timeout:   cfg.Download.Timeout,
			UserAgent: cfg.Download.UserAgent,
			Progress:  fetcher.NewLineReporter(progress).Report,
		}),
		extractor: extractor.New(extractor.Options{
			EssentialFiles:   []string{cfg.Bundle.EntryPoint, cfg.Bundle.ConfigFile, cfg.Installer.Manifest},
			KnownDirectories: []string{cfg.Installer.OutputDir},
		}),
		configurator: configurator.New(configurator.Options{
			ConfigFile: cfg.Bundle.ConfigFile,
		}),
		provisioner: provisioner.New(provisioner.Options{
			Command:   cfg.Installer.Command,
			Args:      cfg.Installer.Args,
			Manifest:  cfg.Installer.Manifest,
			OutputDir: cfg.Installer.OutputDir,
		}),
	}

	var observer func(*bootstrap.Status)

	if cfg.StatusFile != "" {
		r.status = repository.NewFileRepository(cfg.StatusFile)
		if err := r.status.Remove(ctx); err != nil {
			logger.WarnKV(ctx, "Failed to clear previous status", "error", err)
		}

		observer = r.saveStatus(ctx)
	}

	r.supervisor = supervisor.New(supervisor.Options{
		Runtime: cfg.Bundle.Runtime,
		Policy: supervisor.Policy{
			MaxRestarts: cfg.Restart.MaxRestarts,
			Delay:       cfg.Restart.Delay,
			Multiplier:  cfg.Restart.Multiplier,
			MaxDelay:    cfg.Restart.MaxDelay,
		},
		GracePeriod: cfg.Restart.GracePeriod,
		Environment: cfg.Bundle.Environment,
		Signals:     opts.Signals,
		Spawn:       opts.Spawn,
		Observer:    observer,
	})

	return r
}

// saveStatus persists every supervisor transition; failures are only logged.
func (r *runner) saveStatus(ctx context.Context) func(*bootstrap.Status) {
	return func(status *bootstrap.Status) {
		if err := r.status.Save(ctx, status); err != nil {
			logger.WarnKV(ctx, "Failed to write status file", "path", r.status.Path(), "error", err)
		}
	}
}

func (r *runner) run(ctx context.Context) error {
	stageCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	interrupted := r.watchInterrupts(stageCtx, cancel)

	plan, err := r.bootstrap(stageCtx)

	// Hand the signal channel over to the supervisor.
	cancel()

	if <-interrupted {
		logger.Info(ctx, "Interrupted during bootstrap, exiting")

		return nil
	}

	if err != nil {
		logger.ErrorKV(ctx, "Bootstrap failed", "error", err)

		return err
	}

	result, err := r.supervisor.Run(ctx, plan.BundleRoot(), r.cfg.Bundle.EntryPoint)
	if err != nil {
		return fmt.Errorf("supervise: %w", err)
	}

	logger.InfoKV(ctx, "Launcher finished",
		"restarts", result.Restarts,
		"exit_code", result.ExitCode,
		"signal", result.Signal,
		"halted", result.Halted)

	return nil
}

// watchInterrupts cancels the bootstrap stages when a signal or a halt
// request arrives before ctx ends. The returned channel yields whether that
// happened.
func (r *runner) watchInterrupts(ctx context.Context, cancel context.CancelFunc) <-chan bool {
	interrupted := make(chan bool, 1)

	go func() {
		select {
		case sig := <-r.opts.Signals:
			logger.InfoKV(ctx, "Received signal during bootstrap", "signal", sig)
			cancel()

			interrupted <- true
		case <-r.supervisor.HaltRequested():
			logger.Info(ctx, "Halt requested during bootstrap")
			cancel()

			interrupted <- true
		case <-ctx.Done():
			interrupted <- false
		}
	}()

	return interrupted
}

// bootstrap runs every stage before supervision and returns the plan.
func (r *runner) bootstrap(ctx context.Context) (*Plan, error) {
	cacheRoot, err := resetCacheRoot(r.cfg.CacheRoot)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Prepared cache root", "path", cacheRoot)

	plan := &Plan{
		Location:    r.resolver.Resolve(ctx),
		ArchivePath: filepath.Join(cacheRoot, archiveFilename),
	}

	if err = stageDone(ctx); err != nil {
		return nil, err
	}

	if _, err = r.fetcher.Fetch(ctx, plan.Location.ArchiveURL, plan.ArchivePath); err != nil {
		return nil, err
	}

	if err = stageDone(ctx); err != nil {
		return nil, err
	}

	plan.Bundle, err = r.extractor.Extract(ctx, plan.ArchivePath, filepath.Join(cacheRoot, extractedDirectory))
	if err != nil {
		return nil, err
	}

	if err = stageDone(ctx); err != nil {
		return nil, err
	}

	r.configurator.Apply(ctx, r.cfg.OverrideFile, plan.BundleRoot())

	if err = stageDone(ctx); err != nil {
		return nil, err
	}

	r.provisioner.Install(ctx, plan.BundleRoot())

	if err = stageDone(ctx); err != nil {
		return nil, err
	}

	return plan, nil
}

// stageDone reports a cancellation observed between stages.
func stageDone(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", errInterrupted, err)
	}

	return nil
}
