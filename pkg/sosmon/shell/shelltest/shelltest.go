// Package shelltest provides a scripted shell.Executor for tests.
package shelltest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jamesainslie/sosmon/pkg/sosmon/shell"
)

// Response is the canned result for a command.
type Response struct {
	Stdout string
	Err    error
}

// Executor matches commands by prefix of their printable form and returns
// the first matching response. Unmatched commands fail.
type Executor struct {
	mu        sync.Mutex
	responses []entry
	calls     []shell.Command
}

type entry struct {
	prefix string
	resp   Response
}

// New returns an empty Executor.
func New() *Executor {
	return &Executor{}
}

// On registers stdout for commands whose String() starts with prefix.
func (e *Executor) On(prefix, stdout string) *Executor {
	return e.OnResponse(prefix, Response{Stdout: stdout})
}

// OnError registers a failure for commands whose String() starts with prefix.
func (e *Executor) OnError(prefix string, err error) *Executor {
	return e.OnResponse(prefix, Response{Err: err})
}

// OnResponse registers resp for commands whose String() starts with prefix.
func (e *Executor) OnResponse(prefix string, resp Response) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responses = append(e.responses, entry{prefix: prefix, resp: resp})
	return e
}

// Run implements shell.Executor.
func (e *Executor) Run(_ context.Context, cmd shell.Command) (*shell.Output, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, cmd)
	s := cmd.String()
	for _, r := range e.responses {
		if strings.HasPrefix(s, r.prefix) {
			return &shell.Output{Stdout: r.resp.Stdout}, r.resp.Err
		}
	}
	return nil, &shell.CommandError{
		Kind:     shell.ExecutionFailed,
		Command:  s,
		ExitCode: 127,
		Err:      errScriptMissing,
	}
}

// Calls returns the commands run so far.
func (e *Executor) Calls() []shell.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]shell.Command(nil), e.calls...)
}

// Ran reports whether any command starting with prefix was run.
func (e *Executor) Ran(prefix string) bool {
	for _, c := range e.Calls() {
		if strings.HasPrefix(c.String(), prefix) {
			return true
		}
	}
	return false
}

var errScriptMissing = errors.New("no scripted response")
