package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/jaa/course-relay/internal/adapters/aria2c"
	"github.com/jaa/course-relay/internal/adapters/ytdlp"
	"github.com/jaa/course-relay/internal/config"
	"github.com/jaa/course-relay/internal/download"
	"github.com/jaa/course-relay/internal/engine"
	"github.com/jaa/course-relay/internal/output"
	"github.com/jaa/course-relay/internal/pipeline"
	"github.com/jaa/course-relay/internal/probe"
	"github.com/jaa/course-relay/internal/progress"
	"github.com/jaa/course-relay/internal/relay"
	"github.com/jaa/course-relay/internal/session"
	"github.com/jaa/course-relay/internal/source"
	"github.com/jaa/course-relay/internal/upload"
)

// navigationSpacing keeps portal page loads from bursting.
const navigationSpacing = 250 * time.Millisecond

type stackOptions struct {
	Relay   bool
	Cleanup bool
	Uploads int
	Kinds   []engine.ContentKind
}

type stack struct {
	Controller *pipeline.Controller
	Scheduler  *download.Scheduler
	Pool       *upload.Pool
	closers    []func()
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildStack wires one session: manifest source, download backends and
// scheduler, and with Relay set the transport actor and upload pool.
func buildStack(ctx context.Context, app *AppContext, cfg config.Config, s *session.Session, emitter output.EventEmitter, opts stackOptions) (*stack, error) {
	st := &stack{}

	manifestPath, err := config.ExpandPath(cfg.Source.Manifest)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}
	src, err := source.LoadManifest(manifestPath, s.Credentials)
	if err != nil {
		return nil, err
	}

	downloadDir, err := config.ExpandPath(cfg.Defaults.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("resolve download directory: %w", err)
	}
	topicsPath, err := config.ResolveStatePath(cfg.Defaults.StateDir, filepath.Join("topics", pipeline.SanitizeName(s.UserID), "topic_structure.json"))
	if err != nil {
		return nil, fmt.Errorf("resolve topic structure path: %w", err)
	}

	stdout, stderr := subprocessOutput(app)
	runner := engine.NewSubprocessRunner(stdout, stderr)
	runner.Env = engine.ProxyEnv(cfg.Backends.Proxy)
	poll := millis(cfg.Defaults.PollIntervalMillis)
	b := cfg.Backends
	httpBackend := download.NewHTTPBackend(time.Duration(b.HTTP.TimeoutSeconds)*time.Second, b.HTTP.ChunkSize)
	if err := httpBackend.UseProxy(b.Proxy); err != nil {
		return nil, err
	}
	executor := download.NewExecutor(emitter,
		download.NewSubprocessBackend(aria2c.New(aria2c.Options{
			Bin:         b.Aria2c.Bin,
			Connections: b.Aria2c.Connections,
			Split:       b.Aria2c.Split,
			MaxTries:    b.Aria2c.MaxTries,
			RetryWait:   b.Aria2c.RetryWaitSeconds,
		}), runner, poll),
		download.NewSubprocessBackend(ytdlp.New(ytdlp.Options{
			Bin:       b.YTDLP.Bin,
			Fragments: b.YTDLP.Fragments,
		}), runner, poll),
		httpBackend,
	)
	executor.SessionID = s.ID

	tracker := progress.NewTracker(emitter, millis(cfg.Defaults.ProgressIntervalMillis))
	index := pipeline.NewMetadataIndex()
	var (
		hook      download.CompletionHook
		transport relay.Transport
		uploads   pipeline.UploadQueue
	)
	if opts.Relay {
		actor, err := newTransport(ctx, cfg, emitter)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, actor.Close)
		transport = actor

		relayer := &upload.Relayer{
			Transport:      actor,
			Probe:          probe.New(cfg.Probe.Bin, engine.NewSubprocessRunner(nil, nil)),
			Tracker:        tracker,
			Emitter:        emitter,
			Channel:        cfg.Relay.Channel,
			NotifyUser:     cfg.Relay.NotifyUser,
			VideoThumbnail: expandOrEmpty(cfg.Relay.VideoThumbnail),
			PDFThumbnail:   expandOrEmpty(cfg.Relay.PDFThumbnail),
			SessionID:      s.ID,
		}
		pool := upload.NewPool(relayer, opts.Uploads, emitter)
		pool.SessionID = s.ID
		pool.Start(ctx)
		st.Pool = pool
		uploads = pool
		hook = pipeline.UploadHook(index, pool, cfg.Defaults.UploadRetries)
	}

	scheduler := download.NewScheduler(executor, s.Parallel(), hook)
	s.OnParallelChange(scheduler.SetLimit)
	st.Scheduler = scheduler

	layout := pipeline.Layout{Root: downloadDir}
	topics := pipeline.NewTopics(topicsPath)
	processor := &pipeline.ChapterProcessor{
		Source:    src,
		Scheduler: scheduler,
		Index:     index,
		Topics:    topics,
		Layout:    layout,
		Emitter:   emitter,
		Kinds:     opts.Kinds,
		Navigator: rate.NewLimiter(rate.Every(navigationSpacing), 1),
	}
	if transport != nil {
		processor.Transport = transport
		processor.Tracker = tracker
		processor.Channel = cfg.Relay.Channel
		processor.NotifyUser = cfg.Relay.NotifyUser
	}

	var pacer *rate.Limiter
	if pause := millis(cfg.Defaults.ChapterPauseMillis); pause > 0 {
		pacer = rate.NewLimiter(rate.Every(pause), 1)
	}
	st.Controller = &pipeline.Controller{
		Source:          src,
		Processor:       processor,
		Downloads:       scheduler,
		Uploads:         uploads,
		Topics:          topics,
		Layout:          layout,
		Emitter:         emitter,
		SortChapters:    cfg.Defaults.SortChapters,
		Cleanup:         opts.Cleanup,
		ShutdownTimeout: time.Duration(cfg.Defaults.ShutdownTimeoutSeconds) * time.Second,
		Pacer:           pacer,
	}
	return st, nil
}

func newTransport(ctx context.Context, cfg config.Config, emitter output.EventEmitter) (*relay.Actor, error) {
	switch cfg.Relay.Kind {
	case config.RelayKindMinio:
		m := cfg.Relay.Minio
		transport, err := relay.NewMinioTransport(ctx, relay.MinioConfig{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			UseSSL:    m.UseSSL,
			Prefix:    m.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return relay.NewActor(transport), nil
	default:
		return relay.NewActor(relay.NewLogTransport(emitter, expandOrEmpty(cfg.Relay.Outbox))), nil
	}
}

func expandOrEmpty(raw string) string {
	expanded, err := config.ExpandPath(raw)
	if err != nil {
		return ""
	}
	return expanded
}
