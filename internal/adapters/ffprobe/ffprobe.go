package ffprobe

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jaa/course-relay/internal/engine"
)

type Adapter struct {
	bin string
}

func New(bin string) *Adapter {
	if strings.TrimSpace(bin) == "" {
		bin = "ffprobe"
	}
	return &Adapter{bin: bin}
}

func (a *Adapter) Binary() string {
	return a.bin
}

func (a *Adapter) MinVersion() string {
	return "4.0"
}

func (a *Adapter) BuildExecSpec(path string) (engine.ExecSpec, error) {
	if strings.TrimSpace(path) == "" {
		return engine.ExecSpec{}, fmt.Errorf("ffprobe: empty path")
	}
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	return engine.ExecSpec{
		Bin:            a.bin,
		Args:           args,
		DisplayCommand: engine.FormatCommand(a.bin, args),
	}, nil
}

// ParseDuration reads the first numeric line of ffprobe output, rounded down
// to whole seconds.
func ParseDuration(stdout string) (int, error) {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "N/A" {
			continue
		}
		seconds, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", line, err)
		}
		if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return 0, fmt.Errorf("invalid duration %q", line)
		}
		return int(seconds), nil
	}
	return 0, fmt.Errorf("no duration in ffprobe output")
}
