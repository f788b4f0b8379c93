package shell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

type Result struct {
	Stdout []byte
	Stderr []byte
	Code   int
}

// Out returns trimmed stdout as a string.
func (r Result) Out() string { return strings.TrimSpace(string(r.Stdout)) }

var ErrTimeout = errors.New("command timed out")

// Runner abstracts external-process invocation so privileged command
// sequences can be exercised in tests without touching the host.
// Implementations must pass args as a vector; no shell interpretation.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Exec is the production Runner backed by os/exec. Timeout is the ceiling
// applied when the caller's context carries no deadline of its own; callers
// with a legitimately long-running command bring their own deadline and it
// wins.
type Exec struct {
	Timeout time.Duration
}

func (e Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	if _, ok := ctx.Deadline(); ok {
		return run(ctx, name, args...)
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return Run(ctx, timeout, name, args...)
}

func Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return run(cctx, name, args...)
}

func run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	res := Result{Stdout: outBuf.Bytes(), Stderr: errBuf.Bytes(), Code: exitCode(err)}
	if ctx.Err() == context.DeadlineExceeded {
		return res, ErrTimeout
	}
	return res, err
}

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
