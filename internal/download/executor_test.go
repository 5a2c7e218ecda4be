package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jaa/course-relay/internal/engine"
	"github.com/jaa/course-relay/internal/output"
)

type fakeBackend struct {
	name    string
	kinds   []engine.ContentKind
	payload []byte
	err     error
	mu      sync.Mutex
	calls   int
	existed []bool
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Supports(kind engine.ContentKind) bool {
	for _, k := range b.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (b *fakeBackend) Fetch(ctx context.Context, req engine.FetchRequest, progress ProgressFunc) error {
	b.mu.Lock()
	b.calls++
	_, statErr := os.Stat(req.Dest)
	b.existed = append(b.existed, statErr == nil)
	b.mu.Unlock()
	if b.payload != nil {
		if err := os.WriteFile(req.Dest, b.payload, 0o644); err != nil {
			return err
		}
	}
	return b.err
}

var bothKinds = []engine.ContentKind{engine.KindVideo, engine.KindPDF}

func TestExecutorFallsBackInOrderForVideo(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "Chapter 1", "Marathon", "Intro.mp4")
	a := &fakeBackend{name: "aria2c", kinds: bothKinds, err: errors.New("exit 1")}
	b := &fakeBackend{name: "yt-dlp", kinds: []engine.ContentKind{engine.KindVideo}, err: errors.New("exit 2")}
	c := &fakeBackend{name: "http", kinds: bothKinds, payload: []byte("video")}
	recorder := &output.Recorder{}

	size, err := NewExecutor(recorder, a, b, c).Fetch(context.Background(), Task{URL: "https://x/v", Dest: dest, Kind: engine.KindVideo})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if size != 5 {
		t.Fatalf("expected 5 bytes, got %d", size)
	}
	if a.calls != 1 || b.calls != 1 || c.calls != 1 {
		t.Fatalf("expected each backend once, got %d/%d/%d", a.calls, b.calls, c.calls)
	}
	if recorder.Count(output.EventBackendFailed) != 2 || recorder.Count(output.EventDownloadFinished) != 1 {
		t.Fatalf("unexpected events: %+v", recorder.Events())
	}
}

func TestExecutorSkipsMediaGrabberForPDF(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "Notes.pdf")
	a := &fakeBackend{name: "aria2c", kinds: bothKinds, err: errors.New("boom")}
	b := &fakeBackend{name: "yt-dlp", kinds: []engine.ContentKind{engine.KindVideo}, payload: []byte("never")}
	c := &fakeBackend{name: "http", kinds: bothKinds, payload: []byte("%PDF-1.7")}

	if _, err := NewExecutor(nil, a, b, c).Fetch(context.Background(), Task{URL: "u", Dest: dest, Kind: engine.KindPDF}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if b.calls != 0 {
		t.Fatalf("expected yt-dlp to be skipped for pdf, got %d calls", b.calls)
	}
}

func TestExecutorRejectsZeroSizeAndRemovesFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "Intro.mp4")
	empty := &fakeBackend{name: "aria2c", kinds: bothKinds, payload: []byte{}}
	next := &fakeBackend{name: "http", kinds: bothKinds, payload: []byte("ok")}

	size, err := NewExecutor(nil, empty, next).Fetch(context.Background(), Task{URL: "u", Dest: dest, Kind: engine.KindVideo})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if size != 2 {
		t.Fatalf("expected second backend result, got %d bytes", size)
	}
	if len(next.existed) != 1 || next.existed[0] {
		t.Fatalf("expected empty file removed before next backend ran")
	}
}

func TestExecutorReportsAllBackendsExhausted(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "Intro.mp4")
	if err := os.WriteFile(dest, []byte("partial"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	a := &fakeBackend{name: "aria2c", kinds: bothKinds, payload: []byte{}}
	c := &fakeBackend{name: "http", kinds: bothKinds, err: &HTTPStatusError{StatusCode: 404}}
	recorder := &output.Recorder{}

	_, err := NewExecutor(recorder, a, c).Fetch(context.Background(), Task{URL: "u", Dest: dest, Kind: engine.KindVideo})
	var derr *DownloadError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DownloadError, got %v", err)
	}
	if len(derr.Attempts) != 2 || !errors.Is(derr.Attempts[0].Err, ErrEmptyFile) {
		t.Fatalf("unexpected attempts %+v", derr.Attempts)
	}
	var status *HTTPStatusError
	if !errors.As(err, &status) || status.StatusCode != 404 {
		t.Fatalf("expected wrapped http status error, got %v", err)
	}
	if a.existed[0] {
		t.Fatalf("expected stale partial file to be removed before first attempt")
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatalf("expected no file left behind")
	}
	if recorder.Count(output.EventDownloadFailed) != 1 {
		t.Fatalf("expected download_failed event")
	}
}

func TestEstimateTotalAlwaysExceedsCurrent(t *testing.T) {
	for _, current := range []int64{0, 1, 1 << 20, 10 << 20, 1 << 40} {
		got := EstimateTotal(current)
		if got <= current {
			t.Fatalf("estimate %d not greater than %d", got, current)
		}
	}
	if EstimateTotal(100) != 100+1<<20 {
		t.Fatalf("expected 1MiB floor for small sizes")
	}
	if EstimateTotal(10<<20) != 15<<20 {
		t.Fatalf("expected 1.5x for large sizes")
	}
}

func TestHTTPBackendStreamsWithKnownTotal(t *testing.T) {
	body := strings.Repeat("x", 2500)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2500")
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "Notes.pdf")
	backend := NewHTTPBackend(5*time.Second, 1000)
	var reports [][2]int64
	err := backend.Fetch(context.Background(), engine.FetchRequest{URL: server.URL, Dest: dest, Kind: engine.KindPDF}, func(current, total int64) {
		reports = append(reports, [2]int64{current, total})
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(reports) != 3 || reports[0] != [2]int64{1000, 2500} || reports[2] != [2]int64{2500, 2500} {
		t.Fatalf("unexpected progress reports %v", reports)
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Fatalf("expected .part file to be renamed")
	}
}

func TestHTTPBackendFailsOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	err := NewHTTPBackend(time.Second, 0).Fetch(context.Background(), engine.FetchRequest{URL: server.URL, Dest: filepath.Join(t.TempDir(), "a.mp4")}, nil)
	var status *HTTPStatusError
	if !errors.As(err, &status) || status.StatusCode != http.StatusGone {
		t.Fatalf("expected 410 status error, got %v", err)
	}
}

func TestHTTPBackendRoutesThroughProxy(t *testing.T) {
	var proxiedHost string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxiedHost = r.URL.Host
		_, _ = w.Write([]byte("pdf"))
	}))
	defer proxy.Close()

	backend := NewHTTPBackend(5*time.Second, 0)
	if err := backend.UseProxy(proxy.URL); err != nil {
		t.Fatalf("use proxy: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "Notes.pdf")
	err := backend.Fetch(context.Background(), engine.FetchRequest{URL: "http://courses.invalid/notes.pdf", Dest: dest, Kind: engine.KindPDF}, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if proxiedHost != "courses.invalid" {
		t.Fatalf("expected request for courses.invalid via proxy, got %q", proxiedHost)
	}
}

type scriptAdapter struct {
	script string
}

func (a scriptAdapter) Name() string                          { return "script" }
func (a scriptAdapter) Binary() string                        { return "sh" }
func (a scriptAdapter) MinVersion() string                    { return "" }
func (a scriptAdapter) Supports(kind engine.ContentKind) bool { return true }
func (a scriptAdapter) BuildExecSpec(req engine.FetchRequest) (engine.ExecSpec, error) {
	return engine.ExecSpec{Bin: "sh", Args: []string{"-c", a.script, "sh", req.Dest}}, nil
}

func TestSubprocessBackendPollsGrowingFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell test is POSIX-specific")
	}

	dest := filepath.Join(t.TempDir(), "Lecture.mp4")
	backend := NewSubprocessBackend(scriptAdapter{script: `printf abc > "$1"; sleep 0.4; printf def >> "$1"`}, engine.NewSubprocessRunner(nil, nil), 50*time.Millisecond)

	var mu sync.Mutex
	var reports [][2]int64
	err := backend.Fetch(context.Background(), engine.FetchRequest{Dest: dest, Kind: engine.KindVideo}, func(current, total int64) {
		mu.Lock()
		reports = append(reports, [2]int64{current, total})
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reports) == 0 {
		t.Fatalf("expected polled progress reports")
	}
	for _, r := range reports {
		if r[1] <= r[0] {
			t.Fatalf("expected estimated total above current, got %v", r)
		}
	}
}

func TestSubprocessBackendReturnsExitError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell test is POSIX-specific")
	}

	backend := NewSubprocessBackend(scriptAdapter{script: `echo "403 Forbidden" >&2; exit 22`}, engine.NewSubprocessRunner(nil, nil), 0)
	err := backend.Fetch(context.Background(), engine.FetchRequest{Dest: filepath.Join(t.TempDir(), "a.mp4")}, nil)
	if err == nil || !strings.Contains(err.Error(), "code 22: 403 Forbidden") {
		t.Fatalf("expected exit error with stderr detail, got %v", err)
	}
}
