package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/jaa/course-relay/internal/engine"
	"github.com/jaa/course-relay/internal/output"
	"github.com/jaa/course-relay/internal/progress"
	"github.com/jaa/course-relay/internal/relay"
)

// Relayer sends one finished download to the channel: caption, optional
// duration probe, upload with progress, then a forward to the user.
type Relayer struct {
	Transport      relay.Transport
	Probe          MediaProbe
	Tracker        *progress.Tracker
	Emitter        output.EventEmitter
	Channel        string
	NotifyUser     string
	VideoThumbnail string
	PDFThumbnail   string
	SessionID      string
	Now            func() time.Time
}

func (r *Relayer) Send(ctx context.Context, task Task) error {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	opts := relay.MediaOptions{Caption: Caption(task)}
	if r.Tracker != nil && r.NotifyUser != "" {
		status, err := r.Transport.SendText(ctx, r.NotifyUser, fmt.Sprintf("Uploading %s", task.Name()))
		if err != nil {
			return fmt.Errorf("send upload status: %w", err)
		}
		opts.Progress = r.Tracker.Func(ctx, relay.NewMessageSink(r.Transport, status), progress.Report{
			Start:    now(),
			Label:    "Uploading",
			ItemName: task.Name(),
			Chapter:  task.Position,
		})
	}

	var (
		msg relay.Message
		err error
	)
	switch task.Kind {
	case engine.KindVideo:
		opts.Thumbnail = r.VideoThumbnail
		if r.Probe != nil {
			duration, probeErr := r.Probe.Duration(ctx, task.Path)
			if probeErr != nil {
				r.emit(output.EventProbeFailed, fmt.Sprintf("duration probe failed for %s: %v", task.Name(), probeErr), task)
				duration = 0
			}
			opts.Duration = duration
		}
		msg, err = r.Transport.SendVideo(ctx, r.Channel, task.Path, opts)
	case engine.KindPDF:
		opts.Thumbnail = r.PDFThumbnail
		msg, err = r.Transport.SendDocument(ctx, r.Channel, task.Path, opts)
	default:
		return fmt.Errorf("unsupported kind %q", task.Kind)
	}
	if err != nil {
		return fmt.Errorf("send %s: %w", task.Name(), err)
	}

	if r.NotifyUser != "" {
		if err := r.Transport.Forward(ctx, msg, r.NotifyUser); err != nil {
			r.emit(output.EventForwardFailed, fmt.Sprintf("forward of %s to %s failed: %v", task.Name(), r.NotifyUser, err), task)
		}
	}
	return nil
}

func (r *Relayer) emit(name output.EventName, message string, task Task) {
	if r.Emitter == nil {
		return
	}
	_ = r.Emitter.Emit(output.Event{
		Timestamp: time.Now(),
		Level:     output.LevelWarn,
		Event:     name,
		SessionID: r.SessionID,
		Message:   message,
		Details: map[string]any{
			"path": task.Path,
			"kind": string(task.Kind),
		},
	})
}
