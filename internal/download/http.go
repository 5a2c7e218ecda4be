package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/jaa/course-relay/internal/engine"
)

const DefaultChunkSize = 1 << 20

// HTTPBackend streams the response body straight to disk in fixed-size
// chunks. It is the last resort and supports every kind.
type HTTPBackend struct {
	Client    *http.Client
	ChunkSize int
	UserAgent string
}

func NewHTTPBackend(timeout time.Duration, chunkSize int) *HTTPBackend {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &HTTPBackend{
		Client:    &http.Client{Timeout: timeout},
		ChunkSize: chunkSize,
		UserAgent: "crelay",
	}
}

// UseProxy routes requests through proxy. An empty proxy keeps the
// environment-derived default.
func (b *HTTPBackend) UseProxy(proxy string) error {
	if proxy == "" {
		return nil
	}
	parsed, err := url.Parse(proxy)
	if err != nil {
		return fmt.Errorf("parse proxy: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyURL(parsed)
	b.Client.Transport = transport
	return nil
}

func (b *HTTPBackend) Name() string {
	return "http"
}

func (b *HTTPBackend) Supports(kind engine.ContentKind) bool {
	return true
}

func (b *HTTPBackend) Fetch(ctx context.Context, req engine.FetchRequest, progress ProgressFunc) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if b.UserAgent != "" {
		httpReq.Header.Set("User-Agent", b.UserAgent)
	}

	resp, err := b.Client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPStatusError{StatusCode: resp.StatusCode, URL: req.URL}
	}

	part := req.Dest + ".part"
	out, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("create %s: %w", part, err)
	}

	total := resp.ContentLength
	var current int64
	buf := make([]byte, b.ChunkSize)
	for {
		n, readErr := io.ReadFull(resp.Body, buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				_ = out.Close()
				_ = os.Remove(part)
				return fmt.Errorf("write %s: %w", part, err)
			}
			current += int64(n)
			if progress != nil {
				reportTotal := total
				if reportTotal < current {
					reportTotal = EstimateTotal(current)
				}
				progress(current, reportTotal)
			}
		}
		if readErr == io.EOF || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			_ = out.Close()
			_ = os.Remove(part)
			return fmt.Errorf("read body: %w", readErr)
		}
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("close %s: %w", part, err)
	}
	if total > 0 && current != total {
		_ = os.Remove(part)
		return fmt.Errorf("short body: got %d of %d bytes", current, total)
	}
	if err := os.Rename(part, req.Dest); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("finalize %s: %w", req.Dest, err)
	}
	return nil
}
