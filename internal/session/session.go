package session

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jaa/course-relay/internal/source"
)

type State string

const (
	StateInitializing      State = "initializing"
	StateResolvingSubjects State = "resolving_subjects"
	StateResolvingChapters State = "resolving_chapters"
	StateProcessing        State = "processing"
	StateCompleted         State = "completed"
	StateCancelled         State = "cancelled"
	StateFailed            State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Range is an inclusive 1-based chapter range. The zero value selects every
// chapter.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r Range) IsZero() bool {
	return r.Start == 0 && r.End == 0
}

func (r Range) String() string {
	if r.IsZero() {
		return "all"
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

func ParseRange(raw string) (Range, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return Range{}, nil
	}
	startRaw, endRaw, ok := strings.Cut(raw, "-")
	if !ok {
		return Range{}, fmt.Errorf("invalid chapter range %q: expected start-end", raw)
	}
	start, err := strconv.Atoi(strings.TrimSpace(startRaw))
	if err != nil {
		return Range{}, fmt.Errorf("invalid chapter range start %q", startRaw)
	}
	end, err := strconv.Atoi(strings.TrimSpace(endRaw))
	if err != nil {
		return Range{}, fmt.Errorf("invalid chapter range end %q", endRaw)
	}
	if start < 1 || end < start {
		return Range{}, fmt.Errorf("invalid chapter range %q: need 1 <= start <= end", raw)
	}
	return Range{Start: start, End: end}, nil
}

type Options struct {
	UserID         string
	Credentials    source.Credentials
	Range          Range
	IncludeArchive bool
	Parallel       int
}

type Snapshot struct {
	SessionID         string    `json:"session_id"`
	UserID            string    `json:"user_id"`
	State             State     `json:"state"`
	Running           bool      `json:"running"`
	Range             string    `json:"range"`
	IncludeArchive    bool      `json:"include_archive"`
	Parallel          int       `json:"parallel"`
	TotalChapters     int       `json:"total_chapters"`
	CompletedChapters int       `json:"completed_chapters"`
	CurrentChapter    string    `json:"current_chapter,omitempty"`
	Error             string    `json:"error,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type Session struct {
	ID             string
	UserID         string
	Credentials    source.Credentials
	Range          Range
	IncludeArchive bool
	StartedAt      time.Time

	running atomic.Bool

	mu                sync.Mutex
	state             State
	parallel          int
	totalChapters     int
	completedChapters int
	currentChapter    string
	err               string
	updatedAt         time.Time
	onParallel        []func(int)
}

func New(opts Options) *Session {
	now := time.Now()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         opts.UserID,
		Credentials:    opts.Credentials,
		Range:          opts.Range,
		IncludeArchive: opts.IncludeArchive,
		StartedAt:      now,
		state:          StateInitializing,
		parallel:       opts.Parallel,
		updatedAt:      now,
	}
	s.running.Store(true)
	return s
}

func (s *Session) Running() bool {
	return s.running.Load()
}

// Cancel clears the running flag. Work already admitted keeps going.
func (s *Session) Cancel() {
	s.running.Store(false)
	s.touch()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) SetState(state State) {
	s.mu.Lock()
	s.state = state
	s.updatedAt = time.Now()
	s.mu.Unlock()
	if state.Terminal() {
		s.running.Store(false)
	}
}

func (s *Session) Fail(err error) {
	s.mu.Lock()
	if err != nil {
		s.err = err.Error()
	}
	s.mu.Unlock()
	s.SetState(StateFailed)
}

func (s *Session) SetTotalChapters(n int) {
	s.mu.Lock()
	s.totalChapters = n
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) StartChapter(name string) {
	s.mu.Lock()
	s.currentChapter = name
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) ChapterDone() {
	s.mu.Lock()
	s.completedChapters++
	s.currentChapter = ""
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) Parallel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parallel
}

// SetParallel records a new download bound and pushes it to every bound
// scheduler.
func (s *Session) SetParallel(n int) {
	s.mu.Lock()
	s.parallel = n
	s.updatedAt = time.Now()
	hooks := append([]func(int){}, s.onParallel...)
	s.mu.Unlock()
	for _, hook := range hooks {
		hook(n)
	}
}

func (s *Session) OnParallelChange(fn func(int)) {
	s.mu.Lock()
	s.onParallel = append(s.onParallel, fn)
	s.mu.Unlock()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID:         s.ID,
		UserID:            s.UserID,
		State:             s.state,
		Running:           s.running.Load(),
		Range:             s.Range.String(),
		IncludeArchive:    s.IncludeArchive,
		Parallel:          s.parallel,
		TotalChapters:     s.totalChapters,
		CompletedChapters: s.completedChapters,
		CurrentChapter:    s.currentChapter,
		Error:             s.err,
		StartedAt:         s.StartedAt,
		UpdatedAt:         s.updatedAt,
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.updatedAt = time.Now()
	s.mu.Unlock()
}
