package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jaa/course-relay/internal/fileops"
)

// FileMirror keeps locks, status and cancel flags under a state directory so
// separate crelay invocations on one host can see each other without Redis.
type FileMirror struct {
	Dir string
	Now func() time.Time
}

func NewFileMirror(dir string) *FileMirror {
	return &FileMirror{Dir: dir, Now: time.Now}
}

type fileLock struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (m *FileMirror) Acquire(ctx context.Context, userID, token string, ttl time.Duration) (bool, error) {
	path := m.path("locks", userID, ".json")
	if current, err := m.readLock(path); err == nil {
		if m.Now().Before(current.ExpiresAt) {
			return false, nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("remove stale lock: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create lock: %w", err)
	}
	encodeErr := json.NewEncoder(f).Encode(fileLock{Token: token, ExpiresAt: m.Now().Add(ttl)})
	closeErr := f.Close()
	if encodeErr != nil || closeErr != nil {
		_ = os.Remove(path)
		return false, fmt.Errorf("write lock: %w", errors.Join(encodeErr, closeErr))
	}
	return true, nil
}

func (m *FileMirror) Refresh(ctx context.Context, userID, token string, ttl time.Duration) error {
	path := m.path("locks", userID, ".json")
	current, err := m.readLock(path)
	if err != nil {
		return err
	}
	if current.Token != token {
		return fmt.Errorf("lock for %s is held by another run", userID)
	}
	return fileops.WriteJSONAtomic(path, fileLock{Token: token, ExpiresAt: m.Now().Add(ttl)})
}

func (m *FileMirror) Release(ctx context.Context, userID, token string) error {
	path := m.path("locks", userID, ".json")
	current, err := m.readLock(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.Token != token {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (m *FileMirror) PublishStatus(ctx context.Context, snap Snapshot) error {
	return fileops.WriteJSONAtomic(m.path("status", snap.UserID, ".json"), snap)
}

func (m *FileMirror) Status(ctx context.Context, userID string) (Snapshot, bool, error) {
	payload, err := os.ReadFile(m.path("status", userID, ".json"))
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read status: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode status: %w", err)
	}
	return snap, true, nil
}

func (m *FileMirror) RequestCancel(ctx context.Context, userID string) error {
	path := m.path("cancel", userID, "")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cancel dir: %w", err)
	}
	return os.WriteFile(path, []byte(m.Now().Format(time.RFC3339)), 0o644)
}

func (m *FileMirror) CancelRequested(ctx context.Context, userID string) (bool, error) {
	_, err := os.Stat(m.path("cancel", userID, ""))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (m *FileMirror) ClearCancel(ctx context.Context, userID string) error {
	err := os.Remove(m.path("cancel", userID, ""))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (m *FileMirror) RequestParallel(ctx context.Context, userID string, n int) error {
	path := m.path("parallel", userID, "")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parallel dir: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(n)), 0o644)
}

// TakeParallel reads and clears a pending parallelism request.
func (m *FileMirror) TakeParallel(ctx context.Context, userID string) (int, bool, error) {
	path := m.path("parallel", userID, "")
	payload, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read parallel request: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, false, fmt.Errorf("clear parallel request: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil {
		return 0, false, fmt.Errorf("decode parallel request: %w", err)
	}
	return n, true, nil
}

func (m *FileMirror) readLock(path string) (fileLock, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return fileLock{}, err
	}
	var lock fileLock
	if err := json.Unmarshal(payload, &lock); err != nil {
		return fileLock{}, fmt.Errorf("decode lock: %w", err)
	}
	return lock, nil
}

func (m *FileMirror) path(kind, userID, ext string) string {
	return filepath.Join(m.Dir, kind, safeKey(userID)+ext)
}

func safeKey(userID string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	return replacer.Replace(strings.TrimSpace(userID))
}
