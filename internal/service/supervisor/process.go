package supervisor

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
)

// Command describes how the child is started.
type Command struct {
	// Path is the executable: the runtime, or the entry point itself.
	Path string
	// Args follow Path.
	Args []string
	// Dir is the working directory.
	Dir string
	// Env is the full child environment.
	Env []string
}

// Process is a started child.
type Process interface {
	// Pid returns the operating system process id.
	Pid() int
	// Wait blocks until the child exits and returns its exit code. A non-nil
	// error means the exit status could not be determined.
	Wait() (int, error)
	// Signal delivers sig to the child.
	Signal(sig os.Signal) error
	// Kill stops the child immediately.
	Kill() error
}

// SpawnFunc starts a child for cmd.
type SpawnFunc func(ctx context.Context, cmd Command) (Process, error)

// ExecSpawner starts real processes with the launcher's standard input and
// the provided output streams.
func ExecSpawner(stdout, stderr io.Writer) SpawnFunc {
	return func(_ context.Context, cmd Command) (Process, error) {
		// Not CommandContext: the supervisor decides how the child is stopped.
		c := exec.Command(cmd.Path, cmd.Args...) //nolint:gosec,noctx // Entry point comes from launcher settings.
		c.Dir = cmd.Dir
		c.Env = cmd.Env
		c.Stdin = os.Stdin
		c.Stdout = stdout
		c.Stderr = stderr

		if err := c.Start(); err != nil {
			return nil, err
		}

		return &execProcess{cmd: c}, nil
	}
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	return -1, err
}

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}
