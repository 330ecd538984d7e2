package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/oshokin/bundle-launcher/internal/domain/bootstrap"
	"github.com/oshokin/bundle-launcher/internal/logger"
)

// DefaultGracePeriod is waited after forwarding a termination signal.
const DefaultGracePeriod = time.Second

var (
	errEntryPointMissing = errors.New("entry point not found")
	errRestartsExhausted = errors.New("restart limit reached")
)

// Options configures a Supervisor.
type Options struct {
	// Runtime interprets the entry point, e.g. node. Empty runs the entry point directly.
	Runtime string
	// Policy controls restarts after crashes.
	Policy Policy
	// GracePeriod is waited for the child after a forwarded signal or halt.
	GracePeriod time.Duration
	// Environment is added to the inherited environment of the child.
	Environment map[string]string
	// Signals delivers termination signals; registered once by the caller.
	Signals <-chan os.Signal
	// Spawn starts children. Default: ExecSpawner(os.Stdout, os.Stderr).
	Spawn SpawnFunc
	// Observer is called with a copy of the status after every transition.
	Observer func(*bootstrap.Status)
}

// Result describes how supervision ended.
type Result struct {
	// Restarts is the number of relaunches performed.
	Restarts int
	// ExitCode is the last child exit code, -1 when unknown.
	ExitCode int
	// Signal is set when a termination signal ended supervision.
	Signal os.Signal
	// Halted is set when a halt request or context cancellation ended supervision.
	Halted bool
}

// Supervisor owns the child process.
type Supervisor struct {
	opts Options

	mu      sync.Mutex
	status  bootstrap.Status
	current Process

	haltOnce sync.Once
	halt     chan struct{}
}

// New creates a Supervisor in the pending state.
func New(opts Options) *Supervisor {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}

	if opts.Spawn == nil {
		opts.Spawn = ExecSpawner(os.Stdout, os.Stderr)
	}

	return &Supervisor{
		opts: opts,
		status: bootstrap.Status{
			State:        bootstrap.StatePending,
			LastExitCode: -1,
			UpdatedAt:    time.Now(),
		},
		halt: make(chan struct{}),
	}
}

// Snapshot returns a copy of the current status.
func (s *Supervisor) Snapshot() *bootstrap.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status.Clone()
}

// Halt asks the supervisor to terminate the child and stop without restarting.
// It is safe to call more than once and from any goroutine.
func (s *Supervisor) Halt() {
	s.haltOnce.Do(func() {
		close(s.halt)
	})
}

// HaltRequested is closed once Halt has been called.
func (s *Supervisor) HaltRequested() <-chan struct{} {
	return s.halt
}

// exit is the outcome of one child.
type exit struct {
	code int
	err  error
}

// Run starts entryPoint inside bundleRoot and supervises it until it exits
// gracefully, a signal or halt request arrives, or the restart policy is
// exhausted.
//
// A missing entry point returns bootstrap.ErrFilesystem without starting
// anything. A spawn failure is logged and ends supervision without error.
// Exhausting the restart policy returns bootstrap.ErrProcess.
func (s *Supervisor) Run(ctx context.Context, bundleRoot, entryPoint string) (*Result, error) {
	ctx = logger.WithKV(logger.WithName(ctx, "supervisor"), "entry_point", entryPoint)

	if err := checkEntryPoint(bundleRoot, entryPoint); err != nil {
		logger.ErrorKV(ctx, "Cannot start application", "error", err)
		s.transition(func(st *bootstrap.Status) { st.State = bootstrap.StateStopped })

		return nil, fmt.Errorf("%w: %w", bootstrap.ErrFilesystem, err)
	}

	cmd := s.command(bundleRoot, entryPoint)
	result := &Result{ExitCode: -1}

	s.transition(func(st *bootstrap.Status) { st.BundleRoot = bundleRoot })

	for {
		if s.halted() {
			result.Halted = true

			return s.stop(ctx, result), nil
		}

		child, err := s.opts.Spawn(ctx, cmd)
		if err != nil {
			logger.ErrorKV(ctx, "Failed to start application", "command", cmd.Path, "error", err)

			return s.stop(ctx, result), nil
		}

		s.attach(child)

		logger.InfoKV(ctx, "Application started", "pid", child.Pid(), "restarts", result.Restarts)

		exited := make(chan exit, 1)

		go func() {
			code, waitErr := child.Wait()
			exited <- exit{code: code, err: waitErr}
		}()

		select {
		case outcome := <-exited:
			result.ExitCode = outcome.code

			if outcome.code == 0 && outcome.err == nil {
				s.detach(bootstrap.StateExitedGraceful, outcome.code)
				logger.Info(ctx, "Application exited gracefully, not restarting")

				return s.stop(ctx, result), nil
			}

			s.detach(bootstrap.StateExitedCrashed, outcome.code)
			logger.WarnKV(ctx, "Application crashed", "exit_code", outcome.code, "error", outcome.err)

			if s.opts.Policy.Exhausted(result.Restarts) {
				s.stop(ctx, result)

				return result, fmt.Errorf("%w: %w after %d restarts (last exit code %d)",
					bootstrap.ErrProcess, errRestartsExhausted, result.Restarts, outcome.code)
			}

			if !s.waitRestart(ctx, result) {
				return s.stop(ctx, result), nil
			}

			result.Restarts++
			s.transition(func(st *bootstrap.Status) { st.Restarts = result.Restarts })
		case sig := <-s.opts.Signals:
			result.Signal = sig
			logger.InfoKV(ctx, "Received signal, forwarding to application", "signal", sig)
			s.terminate(ctx, child, sig, exited)

			return s.stop(ctx, result), nil
		case <-s.halt:
			result.Halted = true
			logger.Info(ctx, "Halt requested, stopping application")
			s.terminate(ctx, child, syscall.SIGTERM, exited)

			return s.stop(ctx, result), nil
		case <-ctx.Done():
			result.Halted = true
			logger.Info(ctx, "Context canceled, stopping application")
			s.terminate(ctx, child, syscall.SIGTERM, exited)

			return s.stop(ctx, result), nil
		}
	}
}

// waitRestart sleeps out the backoff delay; it returns false when a signal,
// halt request or cancellation arrives first.
func (s *Supervisor) waitRestart(ctx context.Context, result *Result) bool {
	delay := s.opts.Policy.Backoff(result.Restarts)

	s.transition(func(st *bootstrap.Status) { st.State = bootstrap.StateRestarting })
	logger.InfoKV(ctx, "Restarting application", "delay", delay, "attempt", result.Restarts+1)

	select {
	case <-time.After(delay):
		return true
	case sig := <-s.opts.Signals:
		result.Signal = sig
		logger.InfoKV(ctx, "Received signal while restarting", "signal", sig)
	case <-s.halt:
		result.Halted = true
		logger.Info(ctx, "Halt requested while restarting")
	case <-ctx.Done():
		result.Halted = true
	}

	return false
}

// terminate delivers sig to the child, waits up to the grace period for it to
// exit and kills it otherwise.
func (s *Supervisor) terminate(ctx context.Context, child Process, sig os.Signal, exited <-chan exit) {
	if err := child.Signal(sig); err != nil {
		// Windows cannot deliver interrupts to other processes.
		logger.DebugKV(ctx, "Signal delivery failed, killing application", "signal", sig, "error", err)

		_ = child.Kill()
	}

	select {
	case outcome := <-exited:
		s.detach(bootstrap.StateExitedGraceful, outcome.code)
		logger.InfoKV(ctx, "Application stopped", "exit_code", outcome.code)
	case <-time.After(s.opts.GracePeriod):
		logger.WarnKV(ctx, "Application still running after grace period, killing it",
			"grace_period", s.opts.GracePeriod)

		_ = child.Kill()

		s.detach(bootstrap.StateExitedCrashed, -1)
	}
}

// stop records the terminal state.
func (s *Supervisor) stop(ctx context.Context, result *Result) *Result {
	s.transition(func(st *bootstrap.Status) {
		st.State = bootstrap.StateStopped
		st.PID = 0
	})

	logger.InfoKV(ctx, "Supervisor stopped", "restarts", result.Restarts, "exit_code", result.ExitCode)

	return result
}

func (s *Supervisor) halted() bool {
	select {
	case <-s.halt:
		return true
	default:
		return false
	}
}

// attach places a freshly started child in the slot.
func (s *Supervisor) attach(child Process) {
	s.mu.Lock()
	s.current = child
	s.mu.Unlock()

	s.transition(func(st *bootstrap.Status) {
		st.State = bootstrap.StateRunning
		st.PID = child.Pid()
		st.StartedAt = time.Now()
	})
}

// detach empties the slot after the child exited.
func (s *Supervisor) detach(state bootstrap.State, code int) {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	s.transition(func(st *bootstrap.Status) {
		st.State = state
		st.PID = 0
		st.LastExitCode = code
	})
}

// transition applies change under the lock and notifies the observer.
func (s *Supervisor) transition(change func(*bootstrap.Status)) {
	s.mu.Lock()
	change(&s.status)
	s.status.UpdatedAt = time.Now()
	snapshot := s.status.Clone()
	s.mu.Unlock()

	if s.opts.Observer != nil {
		s.opts.Observer(snapshot)
	}
}

// command builds the child invocation; identical for every restart.
func (s *Supervisor) command(bundleRoot, entryPoint string) Command {
	cmd := Command{
		Dir: bundleRoot,
		Env: s.environment(),
	}

	if s.opts.Runtime == "" {
		cmd.Path = filepath.Join(bundleRoot, entryPoint)

		return cmd
	}

	cmd.Path = s.opts.Runtime
	cmd.Args = []string{entryPoint}

	return cmd
}

// environment extends the launcher environment with the configured variables.
func (s *Supervisor) environment() []string {
	env := os.Environ()

	for _, key := range slices.Sorted(maps.Keys(s.opts.Environment)) {
		env = append(env, key+"="+s.opts.Environment[key])
	}

	return env
}

func checkEntryPoint(bundleRoot, entryPoint string) error {
	path := filepath.Join(bundleRoot, entryPoint)

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w", path, errEntryPointMissing)
	case err != nil:
		return err
	case info.IsDir():
		return fmt.Errorf("%s is a directory: %w", path, errEntryPointMissing)
	}

	return nil
}
