package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/jaa/course-relay/internal/adapters/ffprobe"
	"github.com/jaa/course-relay/internal/engine"
)

const defaultTimeout = 30 * time.Second

type Probe struct {
	Adapter *ffprobe.Adapter
	Runner  engine.ExecRunner
	Timeout time.Duration
}

func New(bin string, runner engine.ExecRunner) *Probe {
	if runner == nil {
		runner = engine.NewSubprocessRunner(nil, nil)
	}
	return &Probe{Adapter: ffprobe.New(bin), Runner: runner, Timeout: defaultTimeout}
}

// Duration returns the media duration in whole seconds. Callers treat any
// error as a zero duration.
func (p *Probe) Duration(ctx context.Context, path string) (int, error) {
	spec, err := p.Adapter.BuildExecSpec(path)
	if err != nil {
		return 0, err
	}
	spec.Timeout = p.Timeout
	result := p.Runner.Run(ctx, spec)
	if result.ExitCode != 0 {
		return 0, fmt.Errorf("ffprobe exited with code %d: %s", result.ExitCode, result.StderrTail)
	}
	return ffprobe.ParseDuration(result.StdoutTail)
}
