package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jaa/course-relay/internal/output"
	"github.com/jaa/course-relay/internal/relay"
)

const (
	DefaultInterval   = 2 * time.Second
	DefaultMinElapsed = 500 * time.Millisecond
)

// Sink is one editable status target, such as a message being updated in
// place.
type Sink interface {
	Key() string
	Edit(ctx context.Context, text string) error
}

type ChapterContext struct {
	Index int
	Total int
}

type Report struct {
	Current  int64
	Total    int64
	Start    time.Time
	Label    string
	ItemName string
	Chapter  ChapterContext
}

func (r Report) Terminal() bool {
	return r.Current == r.Total
}

type sinkState struct {
	text string
	at   time.Time
}

type Tracker struct {
	Interval   time.Duration
	MinElapsed time.Duration
	Emitter    output.EventEmitter
	Now        func() time.Time
	Sleep      func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	states map[string]sinkState
}

func NewTracker(emitter output.EventEmitter, interval time.Duration) *Tracker {
	if emitter == nil {
		emitter = output.NoOpEmitter{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{
		Interval:   interval,
		MinElapsed: DefaultMinElapsed,
		Emitter:    emitter,
		Now:        time.Now,
		Sleep:      sleepContext,
		states:     map[string]sinkState{},
	}
}

// Report renders r and pushes it to sink unless it is too early, too soon
// after the previous update, or identical to it. It never returns an error;
// progress must not abort the transfer it describes.
func (t *Tracker) Report(ctx context.Context, sink Sink, r Report) {
	if sink == nil {
		return
	}
	now := t.Now()
	elapsed := now.Sub(r.Start)
	if elapsed < t.MinElapsed {
		return
	}

	key := sink.Key()
	text := Render(r, elapsed)

	t.mu.Lock()
	prev, seen := t.states[key]
	if seen && !r.Terminal() {
		if now.Sub(prev.at) < t.Interval || prev.text == text {
			t.mu.Unlock()
			return
		}
	}
	t.mu.Unlock()

	err := relay.Classify(sink.Edit(ctx, text))
	if err == nil {
		t.mu.Lock()
		t.states[key] = sinkState{text: text, at: now}
		t.mu.Unlock()
		return
	}

	if wait, ok := relay.FloodWait(err); ok {
		_ = t.Sleep(ctx, wait)
		return
	}
	if errors.Is(err, relay.ErrNotModified) {
		return
	}
	_ = t.Emitter.Emit(output.Event{
		Timestamp: t.Now(),
		Level:     output.LevelWarn,
		Event:     output.EventProgressError,
		Message:   fmt.Sprintf("progress update for %s failed: %v", r.ItemName, err),
		Details: map[string]any{
			"sink":  key,
			"label": r.Label,
			"error": err.Error(),
		},
	})
}

// Func adapts the tracker to the (current, total) callbacks transports and
// backends expose.
func (t *Tracker) Func(ctx context.Context, sink Sink, base Report) func(current, total int64) {
	if sink == nil {
		return nil
	}
	return func(current, total int64) {
		r := base
		r.Current = current
		r.Total = total
		t.Report(ctx, sink, r)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
