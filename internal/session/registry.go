package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrAlreadyRunning = errors.New("a session is already running for this user")

const (
	MinParallel = 1
	MaxParallel = 10
)

const DefaultLockTTL = 2 * time.Minute

// Mirror shares session state outside this process: a per-user run lock, the
// latest status snapshot, a cancel request flag and a pending parallelism
// change.
type Mirror interface {
	Acquire(ctx context.Context, userID, token string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, userID, token string, ttl time.Duration) error
	Release(ctx context.Context, userID, token string) error
	PublishStatus(ctx context.Context, snap Snapshot) error
	Status(ctx context.Context, userID string) (Snapshot, bool, error)
	RequestCancel(ctx context.Context, userID string) error
	CancelRequested(ctx context.Context, userID string) (bool, error)
	ClearCancel(ctx context.Context, userID string) error
	RequestParallel(ctx context.Context, userID string, n int) error
	TakeParallel(ctx context.Context, userID string) (int, bool, error)
}

type entry struct {
	session *Session
	token   string
}

// Registry owns every live session, keyed by user.
type Registry struct {
	mirror  Mirror
	lockTTL time.Duration

	mu       sync.Mutex
	sessions map[string]entry
}

func NewRegistry(mirror Mirror, lockTTL time.Duration) *Registry {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Registry{mirror: mirror, lockTTL: lockTTL, sessions: map[string]entry{}}
}

func (r *Registry) Start(ctx context.Context, opts Options) (*Session, error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("start session: empty user id")
	}

	r.mu.Lock()
	if existing, ok := r.sessions[opts.UserID]; ok && existing.session.Running() {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	r.mu.Unlock()

	token := uuid.NewString()
	if r.mirror != nil {
		ok, err := r.mirror.Acquire(ctx, opts.UserID, token, r.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire session lock: %w", err)
		}
		if !ok {
			return nil, ErrAlreadyRunning
		}
		if err := r.mirror.ClearCancel(ctx, opts.UserID); err != nil {
			_ = r.mirror.Release(ctx, opts.UserID, token)
			return nil, fmt.Errorf("clear cancel flag: %w", err)
		}
		_, _, _ = r.mirror.TakeParallel(ctx, opts.UserID)
	}

	s := New(opts)
	r.mu.Lock()
	if existing, ok := r.sessions[opts.UserID]; ok && existing.session.Running() {
		r.mu.Unlock()
		if r.mirror != nil {
			_ = r.mirror.Release(ctx, opts.UserID, token)
		}
		return nil, ErrAlreadyRunning
	}
	r.sessions[opts.UserID] = entry{session: s, token: token}
	r.mu.Unlock()

	r.publish(ctx, s)
	return s, nil
}

func (r *Registry) Get(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[userID]
	return e.session, ok
}

// Finish publishes the final snapshot, drops the session and releases its
// lock.
func (r *Registry) Finish(ctx context.Context, s *Session) {
	r.mu.Lock()
	e, ok := r.sessions[s.UserID]
	if ok && e.session == s {
		delete(r.sessions, s.UserID)
	}
	r.mu.Unlock()

	r.publish(ctx, s)
	if ok && r.mirror != nil {
		_ = r.mirror.Release(ctx, s.UserID, e.token)
	}
}

// Cancel stops a local session directly, or asks the owning process through
// the mirror.
func (r *Registry) Cancel(ctx context.Context, userID string) (bool, error) {
	if s, ok := r.Get(userID); ok && s.Running() {
		s.Cancel()
		r.publish(ctx, s)
		return true, nil
	}
	if r.mirror == nil {
		return false, nil
	}
	snap, ok, err := r.mirror.Status(ctx, userID)
	if err != nil {
		return false, err
	}
	if !ok || !snap.Running {
		return false, nil
	}
	if err := r.mirror.RequestCancel(ctx, userID); err != nil {
		return false, err
	}
	return true, nil
}

// SetParallel changes the download bound of a running session, locally or
// through the mirror for a session owned by another process.
func (r *Registry) SetParallel(ctx context.Context, userID string, n int) (bool, error) {
	if n < MinParallel || n > MaxParallel {
		return false, fmt.Errorf("parallel downloads must be between %d and %d, got %d", MinParallel, MaxParallel, n)
	}
	if s, ok := r.Get(userID); ok && s.Running() {
		s.SetParallel(n)
		r.publish(ctx, s)
		return true, nil
	}
	if r.mirror == nil {
		return false, nil
	}
	snap, ok, err := r.mirror.Status(ctx, userID)
	if err != nil {
		return false, err
	}
	if !ok || !snap.Running {
		return false, nil
	}
	if err := r.mirror.RequestParallel(ctx, userID, n); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Registry) Status(ctx context.Context, userID string) (Snapshot, bool, error) {
	if s, ok := r.Get(userID); ok {
		return s.Snapshot(), true, nil
	}
	if r.mirror == nil {
		return Snapshot{}, false, nil
	}
	return r.mirror.Status(ctx, userID)
}

// Watch publishes the session status, keeps the lock alive and picks up
// remote cancel and parallelism requests until ctx is done or the session
// stops.
func (r *Registry) Watch(ctx context.Context, s *Session, interval time.Duration) {
	if r.mirror == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	r.mu.Lock()
	token := r.sessions[s.UserID].token
	r.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !s.Running() {
			return
		}
		if requested, err := r.mirror.CancelRequested(ctx, s.UserID); err == nil && requested {
			s.Cancel()
		}
		if n, ok, err := r.mirror.TakeParallel(ctx, s.UserID); err == nil && ok && n != s.Parallel() {
			s.SetParallel(n)
		}
		_ = r.mirror.Refresh(ctx, s.UserID, token, r.lockTTL)
		r.publish(ctx, s)
	}
}

func (r *Registry) publish(ctx context.Context, s *Session) {
	if r.mirror == nil {
		return
	}
	_ = r.mirror.PublishStatus(ctx, s.Snapshot())
}
