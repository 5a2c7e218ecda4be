package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jaa/course-relay/internal/config"
	"github.com/jaa/course-relay/internal/exitcode"
	"github.com/jaa/course-relay/internal/output"
	"github.com/jaa/course-relay/internal/session"
)

func loadConfig(app *AppContext) (config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return config.Config{}, fmt.Errorf("resolve working directory: %w", err)
	}

	cfg, err := config.Load(config.LoadOptions{
		ExplicitPath: strings.TrimSpace(app.Opts.ConfigPath),
		WorkingDir:   wd,
	})
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func loadValidConfig(app *AppContext) (config.Config, error) {
	cfg, err := loadConfig(app)
	if err != nil {
		return config.Config{}, withExitCode(exitcode.InvalidConfig, err)
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, withExitCode(exitcode.InvalidConfig, err)
	}
	return cfg, nil
}

func isTTY(file *os.File) bool {
	stat, err := file.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// newEmitter builds the terminal emitter and, when configured, tees events to
// the AMQP exchange. A broker that cannot be reached only costs a warning.
func newEmitter(app *AppContext, cfg config.Config) (output.EventEmitter, func()) {
	var local output.EventEmitter
	if app.Opts.JSON {
		local = output.NewJSONEmitter(app.IO.Out)
	} else {
		local = output.NewHumanEmitter(app.IO.Out, app.IO.ErrOut, app.Opts.Quiet, app.Opts.Verbose)
	}

	if strings.TrimSpace(cfg.Events.AMQPURL) == "" {
		return local, func() {}
	}
	broker, err := output.DialAMQPEmitter(cfg.Events.AMQPURL, cfg.Events.Exchange)
	if err != nil {
		_ = local.Emit(output.Event{
			Timestamp: time.Now(),
			Level:     output.LevelWarn,
			Event:     output.EventBrokerDown,
			Message:   fmt.Sprintf("event broker unavailable, continuing without it: %v", err),
		})
		return local, func() {}
	}
	return output.NewMultiEmitter(local, broker), func() { _ = broker.Close() }
}

// newMirror shares run locks and status through Redis when configured and
// through the state directory otherwise.
func newMirror(ctx context.Context, cfg config.Config) (session.Mirror, func(), error) {
	if addr := strings.TrimSpace(cfg.Registry.RedisAddr); addr != "" {
		mirror := session.NewRedisMirror(addr, cfg.Registry.RedisPassword, cfg.Registry.RedisDB)
		if err := mirror.Ping(ctx); err != nil {
			_ = mirror.Close()
			return nil, nil, err
		}
		return mirror, func() { _ = mirror.Close() }, nil
	}

	stateDir, err := config.ExpandPath(cfg.Defaults.StateDir)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve state directory: %w", err)
	}
	return session.NewFileMirror(filepath.Join(stateDir, "sessions")), func() {}, nil
}

func newRegistry(ctx context.Context, cfg config.Config) (*session.Registry, func(), error) {
	mirror, closeMirror, err := newMirror(ctx, cfg)
	if err != nil {
		return nil, nil, withExitCode(exitcode.RuntimeFailure, err)
	}
	ttl := time.Duration(cfg.Registry.LockTTLSeconds) * time.Second
	return session.NewRegistry(mirror, ttl), closeMirror, nil
}

func subprocessOutput(app *AppContext) (io.Writer, io.Writer) {
	if app.Opts.Verbose && !app.Opts.JSON {
		return app.IO.ErrOut, app.IO.ErrOut
	}
	return io.Discard, io.Discard
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
