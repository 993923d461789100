package engine

import (
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// Process is a running engine instance. Its three streams are owned
// exclusively by the Engine.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exits. A nil error means exit code 0.
	Wait() error
	Kill() error
	Pid() int
}

// Spawner starts engine processes.
type Spawner interface {
	Spawn() (Process, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func() (Process, error)

func (f SpawnerFunc) Spawn() (Process, error) { return f() }

// ExecSpawner runs Binary as a child process. DataDir, when set, is passed
// as the final argument with a trailing path separator.
type ExecSpawner struct {
	Binary  string
	Args    []string
	DataDir string
	Env     []string
}

func (s ExecSpawner) Spawn() (Process, error) {
	path, err := exec.LookPath(s.Binary)
	if err != nil {
		return nil, errors.Wrapf(err, "locate engine binary %q", s.Binary)
	}

	args := slices.Clone(s.Args)
	if s.DataDir != "" {
		dir := s.DataDir
		if !strings.HasSuffix(dir, string(os.PathSeparator)) {
			dir += string(os.PathSeparator)
		}
		args = append(args, dir)
	}

	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), s.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "engine stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "engine stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "engine stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start engine %q", path)
	}
	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Stderr() io.Reader     { return p.stderr }
func (p *execProcess) Wait() error           { return p.cmd.Wait() }
func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }

func (p *execProcess) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// exitCode extracts the process exit code from a Wait error, or -1 when the
// process was terminated by a signal or the error is not an exit error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
