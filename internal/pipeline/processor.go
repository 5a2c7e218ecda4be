package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jaa/course-relay/internal/download"
	"github.com/jaa/course-relay/internal/engine"
	"github.com/jaa/course-relay/internal/fileops"
	"github.com/jaa/course-relay/internal/output"
	"github.com/jaa/course-relay/internal/progress"
	"github.com/jaa/course-relay/internal/relay"
	"github.com/jaa/course-relay/internal/session"
	"github.com/jaa/course-relay/internal/source"
)

// ErrChapterInterrupted reports that the session stopped running before every
// item of the chapter was visited.
var ErrChapterInterrupted = errors.New("chapter interrupted by cancel")

// ChapterRef is one entry of the flattened subject x chapter list.
type ChapterRef struct {
	Chapter source.Chapter
	Index   int
	Total   int
}

func (c ChapterRef) Position() progress.ChapterContext {
	return progress.ChapterContext{Index: c.Index, Total: c.Total}
}

type Submitter interface {
	Submit(ctx context.Context, task download.Task)
}

type ProcessorStats struct {
	Submitted int
	Skipped   int
	Failed    int
}

type ChapterProcessor struct {
	Source    source.ContentSource
	Scheduler Submitter
	Index     *MetadataIndex
	Topics    *Topics
	Layout    Layout
	Emitter   output.EventEmitter

	// Transport, Channel and NotifyUser drive chapter announcements and
	// per-download status messages. All optional.
	Transport  relay.Transport
	Tracker    *progress.Tracker
	Channel    string
	NotifyUser string

	Kinds     []engine.ContentKind
	Navigator *rate.Limiter
	Now       func() time.Time

	mu    sync.Mutex
	stats ProcessorStats
}

func (p *ChapterProcessor) Stats() ProcessorStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Process walks one chapter. Item and content-type errors are logged and
// skipped; only context cancellation and ErrChapterInterrupted are returned.
func (p *ChapterProcessor) Process(ctx context.Context, s *session.Session, ref ChapterRef) error {
	p.announce(ctx, s, ref)

	if err := p.navigate(ctx); err != nil {
		return err
	}
	types, err := p.Source.ListContentTypes(ctx, ref.Chapter)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.itemFailed(s, fmt.Sprintf("list content types for %s: %v", ref.Chapter.Name, err), map[string]any{"chapter": ref.Chapter.Name})
		return nil
	}

	for _, ct := range types {
		if !s.Running() {
			return ErrChapterInterrupted
		}
		if !wantClass(ct.Class, s.IncludeArchive) {
			continue
		}
		if err := p.processContentType(ctx, s, ref, ct); err != nil {
			return err
		}
	}

	if err := p.Topics.Save(); err != nil {
		p.emit(s, output.LevelWarn, output.EventTopicsSaved, fmt.Sprintf("save topic structure: %v", err), map[string]any{"path": p.Topics.Path()})
	} else {
		p.emit(s, output.LevelInfo, output.EventTopicsSaved, "topic structure saved", map[string]any{"path": p.Topics.Path()})
	}
	return nil
}

func (p *ChapterProcessor) processContentType(ctx context.Context, s *session.Session, ref ChapterRef, ct source.ContentType) error {
	if err := p.navigate(ctx); err != nil {
		return err
	}
	cards, err := p.Source.ListContentCards(ctx, ct)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.itemFailed(s, fmt.Sprintf("list cards for %s/%s: %v", ref.Chapter.Name, ct.Name, err), map[string]any{
			"chapter":      ref.Chapter.Name,
			"content_type": ct.Name,
		})
		return nil
	}

	for _, card := range cards {
		if !s.Running() {
			return ErrChapterInterrupted
		}
		p.Topics.Add(ref.Chapter.Subject.Name, ref.Chapter.Name, ct.Name, card.Topic, card.Title)
		for _, kind := range p.kinds() {
			if err := p.processItem(ctx, s, ref, ct, card, kind); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *ChapterProcessor) processItem(ctx context.Context, s *session.Session, ref ChapterRef, ct source.ContentType, card source.Card, kind engine.ContentKind) error {
	page := card.VideoPageURL
	if kind == engine.KindPDF {
		page = card.NotePageURL
	}
	details := map[string]any{
		"chapter":      ref.Chapter.Name,
		"content_type": ct.Name,
		"title":        card.Title,
		"kind":         string(kind),
	}
	if page == "" {
		p.emit(s, output.LevelInfo, output.EventItemSkipped, fmt.Sprintf("no %s page for %s", kind, card.Title), details)
		return nil
	}

	dest := p.Layout.ItemPath(s.UserID, ref.Chapter.Name, ct.Name, card.Title, kind)
	details["path"] = dest
	if _, ok := fileops.NonEmptyFile(dest); ok {
		p.count(func(st *ProcessorStats) { st.Skipped++ })
		p.emit(s, output.LevelInfo, output.EventItemSkipped, fmt.Sprintf("already downloaded: %s", filepath.Base(dest)), details)
		return nil
	}

	if err := p.navigate(ctx); err != nil {
		return err
	}
	var (
		url string
		err error
	)
	if kind == engine.KindPDF {
		url, err = p.Source.ResolvePDFURL(ctx, page)
	} else {
		url, err = p.Source.ResolveVideoURL(ctx, page)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		details["page"] = page
		p.itemFailed(s, fmt.Sprintf("resolve %s url for %s: %v", kind, card.Title, err), details)
		return nil
	}
	if url == "" {
		p.emit(s, output.LevelWarn, output.EventItemSkipped, fmt.Sprintf("no %s link for %s", kind, card.Title), details)
		return nil
	}
	details["url"] = url
	p.emit(s, output.LevelInfo, output.EventURLResolved, fmt.Sprintf("resolved %s: %s", kind, card.Title), details)

	if p.Index != nil {
		p.Index.Put(dest, ItemMeta{Chapter: ref.Chapter.Name, Topic: card.Topic, Position: ref.Position()})
	}
	p.Scheduler.Submit(ctx, download.Task{
		URL:      url,
		Dest:     dest,
		Kind:     kind,
		Progress: p.downloadProgress(ctx, ref, filepath.Base(dest)),
	})
	p.count(func(st *ProcessorStats) { st.Submitted++ })
	return nil
}

func (p *ChapterProcessor) announce(ctx context.Context, s *session.Session, ref ChapterRef) {
	if p.Transport == nil || p.Channel == "" {
		return
	}
	text := fmt.Sprintf("📚 Chapter %d/%d: %s\n📘 %s", ref.Index, ref.Total, ref.Chapter.Name, ref.Chapter.Subject.Name)
	msg, err := p.Transport.SendText(ctx, p.Channel, text)
	if err == nil && p.NotifyUser != "" {
		err = p.Transport.Forward(ctx, msg, p.NotifyUser)
	}
	if err != nil {
		p.emit(s, output.LevelWarn, output.EventForwardFailed, fmt.Sprintf("announce chapter %s: %v", ref.Chapter.Name, err), map[string]any{"chapter": ref.Chapter.Name})
	}
}

func (p *ChapterProcessor) downloadProgress(ctx context.Context, ref ChapterRef, name string) download.ProgressFunc {
	if p.Transport == nil || p.Tracker == nil || p.NotifyUser == "" {
		return nil
	}
	status, err := p.Transport.SendText(ctx, p.NotifyUser, fmt.Sprintf("Queued %s", name))
	if err != nil {
		return nil
	}
	return p.Tracker.Func(ctx, relay.NewMessageSink(p.Transport, status), progress.Report{
		Start:    p.now(),
		Label:    "Downloading",
		ItemName: name,
		Chapter:  ref.Position(),
	})
}

func (p *ChapterProcessor) navigate(ctx context.Context) error {
	if p.Navigator == nil {
		return nil
	}
	return p.Navigator.Wait(ctx)
}

func (p *ChapterProcessor) kinds() []engine.ContentKind {
	if len(p.Kinds) == 0 {
		return []engine.ContentKind{engine.KindVideo, engine.KindPDF}
	}
	return p.Kinds
}

func wantClass(class source.ContentClass, includeArchive bool) bool {
	switch class {
	case source.ClassMarathon:
		return true
	case source.ClassArchive:
		return includeArchive
	default:
		return false
	}
}

func (p *ChapterProcessor) count(update func(*ProcessorStats)) {
	p.mu.Lock()
	update(&p.stats)
	p.mu.Unlock()
}

func (p *ChapterProcessor) itemFailed(s *session.Session, message string, details map[string]any) {
	p.count(func(st *ProcessorStats) { st.Failed++ })
	p.emit(s, output.LevelError, output.EventItemFailed, message, details)
}

func (p *ChapterProcessor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *ChapterProcessor) emit(s *session.Session, level output.Level, name output.EventName, message string, details map[string]any) {
	if p.Emitter == nil {
		return
	}
	_ = p.Emitter.Emit(output.Event{
		Timestamp: p.now(),
		Level:     level,
		Event:     name,
		SessionID: s.ID,
		Message:   message,
		Details:   details,
	})
}
