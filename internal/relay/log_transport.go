package relay

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaa/course-relay/internal/fileops"
	"github.com/jaa/course-relay/internal/output"
)

// LogTransport relays into the event log and, when Outbox is set, copies
// media into Outbox/<channel>/.
type LogTransport struct {
	Emitter output.EventEmitter
	Outbox  string
	Now     func() time.Time

	mu    sync.Mutex
	texts map[string]string
}

func NewLogTransport(emitter output.EventEmitter, outbox string) *LogTransport {
	if emitter == nil {
		emitter = output.NoOpEmitter{}
	}
	return &LogTransport{
		Emitter: emitter,
		Outbox:  outbox,
		Now:     time.Now,
		texts:   map[string]string{},
	}
}

func (t *LogTransport) SendText(ctx context.Context, channel, text string) (Message, error) {
	msg := Message{Channel: channel, ID: uuid.NewString()}
	t.mu.Lock()
	t.texts[msg.Key()] = text
	t.mu.Unlock()
	t.emit(msg, "text", text, nil)
	return msg, nil
}

func (t *LogTransport) EditText(ctx context.Context, msg Message, text string) error {
	t.mu.Lock()
	previous, ok := t.texts[msg.Key()]
	if ok && previous == text {
		t.mu.Unlock()
		return ErrNotModified
	}
	t.texts[msg.Key()] = text
	t.mu.Unlock()
	t.emit(msg, "edit", text, nil)
	return nil
}

func (t *LogTransport) SendVideo(ctx context.Context, channel, path string, opts MediaOptions) (Message, error) {
	return t.sendMedia(ctx, "video", channel, path, opts)
}

func (t *LogTransport) SendDocument(ctx context.Context, channel, path string, opts MediaOptions) (Message, error) {
	return t.sendMedia(ctx, "document", channel, path, opts)
}

func (t *LogTransport) Forward(ctx context.Context, msg Message, target string) error {
	t.emit(msg, "forward", "", map[string]any{"target": target})
	return nil
}

func (t *LogTransport) sendMedia(ctx context.Context, mediaType, channel, path string, opts MediaOptions) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	size, ok := fileops.NonEmptyFile(path)
	if !ok {
		return Message{}, fmt.Errorf("send %s: %s is missing or empty", mediaType, path)
	}
	details := map[string]any{
		"path":     path,
		"bytes":    size,
		"duration": opts.Duration,
	}
	if opts.Thumbnail != "" {
		details["thumbnail"] = opts.Thumbnail
	}

	if t.Outbox != "" {
		dest := filepath.Join(t.Outbox, channel, filepath.Base(path))
		if _, err := fileops.CopyFile(path, dest, opts.Progress); err != nil {
			return Message{}, fmt.Errorf("send %s: %w", mediaType, err)
		}
		details["outbox_path"] = dest
	} else if opts.Progress != nil {
		opts.Progress(size, size)
	}

	msg := Message{Channel: channel, ID: uuid.NewString()}
	t.emit(msg, mediaType, opts.Caption, details)
	return msg, nil
}

func (t *LogTransport) emit(msg Message, kind, text string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["channel"] = msg.Channel
	details["message_id"] = msg.ID
	details["kind"] = kind
	_ = t.Emitter.Emit(output.Event{
		Timestamp: t.Now(),
		Level:     output.LevelInfo,
		Event:     output.EventRelayMessage,
		Message:   text,
		Details:   details,
	})
}
