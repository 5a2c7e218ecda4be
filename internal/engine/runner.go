package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"
)

const (
	outputTailBytes = 64 * 1024
	killGrace       = 5 * time.Second
)

type ExecRunner interface {
	Run(ctx context.Context, spec ExecSpec) ExecResult
}

// SubprocessRunner runs the download and probe tools. Env is added to the
// inherited environment of every command, ahead of the spec's own Env.
type SubprocessRunner struct {
	Stdout io.Writer
	Stderr io.Writer
	Env    []string
}

func NewSubprocessRunner(stdout, stderr io.Writer) *SubprocessRunner {
	return &SubprocessRunner{Stdout: stdout, Stderr: stderr}
}

// ProxyEnv returns the variables aria2c and yt-dlp read a proxy from.
func ProxyEnv(proxy string) []string {
	if proxy == "" {
		return nil
	}
	var env []string
	for _, name := range []string{"http_proxy", "https_proxy", "all_proxy"} {
		env = append(env, name+"="+proxy)
	}
	for _, name := range []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY"} {
		env = append(env, name+"="+proxy)
	}
	return env
}

func (r *SubprocessRunner) Run(ctx context.Context, spec ExecSpec) ExecResult {
	start := time.Now()
	if spec.Bin == "" {
		return ExecResult{ExitCode: 1, Err: errors.New("missing binary")}
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Bin, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = r.environ(spec)
	configureCommandForTermination(cmd)
	cmd.Cancel = func() error {
		terminateCommand(cmd)
		return nil
	}
	cmd.WaitDelay = killGrace

	stdout := &outputTail{limit: outputTailBytes}
	stderr := &outputTail{limit: outputTailBytes}
	cmd.Stdout = tee(r.Stdout, stdout)
	cmd.Stderr = tee(r.Stderr, stderr)

	err := cmd.Run()
	result := ExecResult{
		Duration:   time.Since(start),
		StdoutTail: stdout.String(),
		StderrTail: stderr.String(),
		Err:        err,
	}
	result.ExitCode, result.TimedOut, result.Interrupted = exitStatus(runCtx, err)
	return result
}

// environ returns nil, meaning inherit, unless extra variables are set.
func (r *SubprocessRunner) environ(spec ExecSpec) []string {
	if len(r.Env) == 0 && len(spec.Env) == 0 {
		return nil
	}
	env := os.Environ()
	env = append(env, r.Env...)
	return append(env, spec.Env...)
}

func exitStatus(runCtx context.Context, err error) (code int, timedOut, interrupted bool) {
	if err == nil {
		return 0, false, false
	}
	switch runCtx.Err() {
	case context.Canceled:
		return 130, false, true
	case context.DeadlineExceeded:
		timedOut = true
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), timedOut, false
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return 127, timedOut, false
	}
	return 1, timedOut, false
}

func tee(w io.Writer, tail *outputTail) io.Writer {
	if w == nil {
		return tail
	}
	return io.MultiWriter(w, tail)
}

// outputTail keeps the last limit bytes written to it.
type outputTail struct {
	limit int
	data  []byte
}

func (t *outputTail) Write(p []byte) (int, error) {
	t.data = append(t.data, p...)
	if over := len(t.data) - t.limit; over > 0 {
		t.data = append(t.data[:0], t.data[over:]...)
	}
	return len(p), nil
}

func (t *outputTail) String() string {
	return string(t.data)
}
