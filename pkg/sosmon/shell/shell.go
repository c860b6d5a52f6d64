// Package shell runs the external SOS and storage tools and turns their
// text output into lines.
//
// All tools are treated as black boxes. A command succeeds only when it
// exits zero and writes nothing to stderr; anything else is an
// ExecutionFailed error, and a command that outlives its timeout is a
// TimedOut error.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/jamesainslie/sosmon/pkg/sosmon/logging"
)

// DefaultTimeout applies to commands that do not set their own.
const DefaultTimeout = 30 * time.Second

const waitDelay = 2 * time.Second

// Sentinel errors matched by CommandError.Is.
var (
	ErrTimedOut        = errors.New("command timed out")
	ErrExecutionFailed = errors.New("command failed")
	ErrEmptyCommand    = errors.New("empty command")
)

// ErrorKind distinguishes why a command failed.
type ErrorKind int

const (
	// ExecutionFailed covers non-zero exits, stderr output and start failures.
	ExecutionFailed ErrorKind = iota
	// TimedOut means the command was killed after its timeout.
	TimedOut
)

// String returns the name of the kind.
func (k ErrorKind) String() string {
	if k == TimedOut {
		return "timed out"
	}
	return "execution failed"
}

// CommandError describes a failed command.
type CommandError struct {
	Kind     ErrorKind
	Command  string
	ExitCode int
	Stderr   string
	Timeout  time.Duration
	Err      error
}

// Error implements error.
func (e *CommandError) Error() string {
	switch {
	case e.Kind == TimedOut:
		return fmt.Sprintf("%s: timed out after %s", e.Command, e.Timeout)
	case e.Stderr != "":
		return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, e.Stderr)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	default:
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
}

// Unwrap returns the underlying cause, if any.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is matches ErrTimedOut and ErrExecutionFailed by kind.
func (e *CommandError) Is(target error) bool {
	switch target {
	case ErrTimedOut:
		return e.Kind == TimedOut
	case ErrExecutionFailed:
		return e.Kind == ExecutionFailed
	}
	return false
}

// Command describes one invocation of an external tool.
type Command struct {
	// Name is the executable. When empty, Line is tokenized instead.
	Name string

	// Args are passed to Name verbatim.
	Args []string

	// Line is a full command line. It is split with shell word rules
	// unless Shell is set, in which case it is handed to /bin/sh -c.
	Line string

	// Shell runs Line through /bin/sh so pipes and redirects work.
	Shell bool

	// Timeout bounds the run; zero means DefaultTimeout.
	Timeout time.Duration

	// Env is appended to the child environment (KEY=VALUE).
	Env []string
}

// String returns a printable form of the command for logs.
func (c Command) String() string {
	if c.Name == "" {
		return c.Line
	}
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// argv resolves the program and arguments to execute.
func (c Command) argv() ([]string, error) {
	if c.Shell {
		if strings.TrimSpace(c.Line) == "" {
			return nil, ErrEmptyCommand
		}
		return []string{"/bin/sh", "-c", c.Line}, nil
	}
	if c.Name != "" {
		return append([]string{c.Name}, c.Args...), nil
	}
	words, err := shlex.Split(c.Line)
	if err != nil {
		return nil, fmt.Errorf("tokenizing %q: %w", c.Line, err)
	}
	if len(words) == 0 {
		return nil, ErrEmptyCommand
	}
	return words, nil
}

// Output is what a successful command produced.
type Output struct {
	Stdout string
	Stderr string
}

// Lines splits stdout into trimmed, non-empty pieces. Output holding
// exactly one comma is treated as a two-field CSV record and split on the
// comma; anything else is split on newlines.
func (o *Output) Lines() []string {
	return SplitLines(o.Stdout)
}

// SplitLines applies the Output.Lines rules to s.
func SplitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	sep := "\n"
	if strings.Count(s, ",") == 1 {
		sep = ","
	}

	var lines []string
	for _, piece := range strings.Split(s, sep) {
		if piece = strings.TrimSpace(piece); piece != "" {
			lines = append(lines, piece)
		}
	}
	return lines
}

// Executor runs commands. Runner is the real implementation; tests
// substitute fakes.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*Output, error)
}

// Runner executes commands as child processes.
type Runner struct {
	// Env is added to every command's environment before Command.Env.
	Env []string
}

// NewRunner returns a Runner whose children see env in addition to the
// current process environment.
func NewRunner(env ...string) *Runner {
	return &Runner{Env: env}
}

var logger = logging.Get("shell")

// Run executes cmd and captures its output.
func (r *Runner) Run(ctx context.Context, cmd Command) (*Output, error) {
	argv, err := cmd.argv()
	if err != nil {
		return nil, &CommandError{Kind: ExecutionFailed, Command: cmd.String(), ExitCode: -1, Err: err}
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	// Grandchildren of /bin/sh can hold the pipes open after a kill.
	c.WaitDelay = waitDelay
	if len(r.Env) > 0 || len(cmd.Env) > 0 {
		c.Env = append(append(c.Environ(), r.Env...), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	logger.Debug("running command", "cmd", cmd.String(), "timeout", timeout)
	start := time.Now()
	runErr := c.Run()
	out := &Output{Stdout: stdout.String(), Stderr: strings.TrimSpace(stderr.String())}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return out, &CommandError{
			Kind:     TimedOut,
			Command:  cmd.String(),
			ExitCode: -1,
			Timeout:  timeout,
			Err:      runCtx.Err(),
		}
	}

	if runErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return out, &CommandError{
			Kind:     ExecutionFailed,
			Command:  cmd.String(),
			ExitCode: exitCode,
			Stderr:   out.Stderr,
			Err:      runErr,
		}
	}

	if out.Stderr != "" {
		return out, &CommandError{
			Kind:    ExecutionFailed,
			Command: cmd.String(),
			Stderr:  out.Stderr,
		}
	}

	logger.Debug("command finished", "cmd", cmd.String(), "elapsed", time.Since(start).Round(time.Millisecond))
	return out, nil
}

// RunLines executes cmd through ex and returns its output lines.
func RunLines(ctx context.Context, ex Executor, cmd Command) ([]string, error) {
	out, err := ex.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return out.Lines(), nil
}
