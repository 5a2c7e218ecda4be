package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jaa/course-relay/internal/fileops"
)

const defaultSlowDownWait = 5 * time.Second

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

type objectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
}

// MinioTransport relays into an object-storage bucket laid out as
// <prefix>/<channel>/<message id>/<file>. Text messages are stored as
// message.txt and edits overwrite them.
type MinioTransport struct {
	store  objectStore
	bucket string
	prefix string
}

func NewMinioTransport(ctx context.Context, cfg MinioConfig) (*MinioTransport, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return newMinioTransport(client, cfg.Bucket, cfg.Prefix), nil
}

func newMinioTransport(store objectStore, bucket, prefix string) *MinioTransport {
	return &MinioTransport{store: store, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (t *MinioTransport) SendText(ctx context.Context, channel, text string) (Message, error) {
	msg := Message{Channel: channel, ID: uuid.NewString()}
	if err := t.putText(ctx, msg, text); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (t *MinioTransport) EditText(ctx context.Context, msg Message, text string) error {
	return t.putText(ctx, msg, text)
}

func (t *MinioTransport) SendVideo(ctx context.Context, channel, filePath string, opts MediaOptions) (Message, error) {
	return t.putMedia(ctx, channel, filePath, "video/mp4", opts)
}

func (t *MinioTransport) SendDocument(ctx context.Context, channel, filePath string, opts MediaOptions) (Message, error) {
	return t.putMedia(ctx, channel, filePath, "application/pdf", opts)
}

func (t *MinioTransport) Forward(ctx context.Context, msg Message, target string) error {
	src := minio.CopySrcOptions{Bucket: t.bucket, Object: t.objectName(msg, "message.txt")}
	dst := minio.CopyDestOptions{Bucket: t.bucket, Object: t.objectName(Message{Channel: target, ID: msg.ID}, "message.txt")}
	if _, err := t.store.CopyObject(ctx, dst, src); err != nil {
		return fmt.Errorf("forward message %s: %w", msg.ID, mapMinioError(err))
	}
	return nil
}

func (t *MinioTransport) putText(ctx context.Context, msg Message, text string) error {
	payload := []byte(text)
	_, err := t.store.PutObject(ctx, t.bucket, t.objectName(msg, "message.txt"), bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return fmt.Errorf("put message %s: %w", msg.ID, mapMinioError(err))
	}
	return nil
}

func (t *MinioTransport) putMedia(ctx context.Context, channel, filePath, contentType string, opts MediaOptions) (Message, error) {
	msg := Message{Channel: channel, ID: uuid.NewString()}
	putOpts := minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"duration": strconv.Itoa(opts.Duration),
		},
	}
	if opts.Progress != nil {
		size, _ := fileops.NonEmptyFile(filePath)
		putOpts.Progress = &progressReader{total: size, fn: opts.Progress}
	}
	if _, err := t.store.FPutObject(ctx, t.bucket, t.objectName(msg, filepath.Base(filePath)), filePath, putOpts); err != nil {
		return Message{}, fmt.Errorf("put %s: %w", filepath.Base(filePath), mapMinioError(err))
	}
	if opts.Caption != "" {
		if err := t.putText(ctx, msg, opts.Caption); err != nil {
			return Message{}, err
		}
	}
	if opts.Thumbnail != "" {
		if _, err := t.store.FPutObject(ctx, t.bucket, t.objectName(msg, "thumbnail"+filepath.Ext(opts.Thumbnail)), opts.Thumbnail, minio.PutObjectOptions{}); err != nil {
			return Message{}, fmt.Errorf("put thumbnail: %w", mapMinioError(err))
		}
	}
	return msg, nil
}

func (t *MinioTransport) objectName(msg Message, name string) string {
	return path.Join(t.prefix, msg.Channel, msg.ID, name)
}

// progressReader receives the uploaded byte counts minio-go feeds to
// PutObjectOptions.Progress.
type progressReader struct {
	current int64
	total   int64
	fn      func(current, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	p.current += int64(len(b))
	total := p.total
	if total < p.current {
		total = p.current
	}
	p.fn(p.current, total)
	return len(b), nil
}

func mapMinioError(err error) error {
	if err == nil {
		return nil
	}
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		resp = minio.ToErrorResponse(err)
	}
	switch resp.Code {
	case "SlowDown", "SlowDownRead", "SlowDownWrite", "RequestLimitExceeded":
		return &FloodWaitError{Wait: defaultSlowDownWait, Err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return &FloodWaitError{Wait: defaultSlowDownWait, Err: err}
	}
	return err
}
