package upload

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jaa/course-relay/internal/engine"
	"github.com/jaa/course-relay/internal/output"
	"github.com/jaa/course-relay/internal/progress"
	"github.com/jaa/course-relay/internal/relay"
)

type sentMedia struct {
	kind    string
	channel string
	path    string
	opts    relay.MediaOptions
}

type fakeTransport struct {
	sent       []sentMedia
	texts      []string
	forwards   []string
	sendErr    error
	forwardErr error
}

func (f *fakeTransport) SendText(ctx context.Context, channel, text string) (relay.Message, error) {
	f.texts = append(f.texts, channel+":"+text)
	return relay.Message{Channel: channel, ID: "status"}, nil
}

func (f *fakeTransport) EditText(ctx context.Context, msg relay.Message, text string) error {
	return nil
}

func (f *fakeTransport) SendVideo(ctx context.Context, channel, path string, opts relay.MediaOptions) (relay.Message, error) {
	f.sent = append(f.sent, sentMedia{kind: "video", channel: channel, path: path, opts: opts})
	return relay.Message{Channel: channel, ID: "v1"}, f.sendErr
}

func (f *fakeTransport) SendDocument(ctx context.Context, channel, path string, opts relay.MediaOptions) (relay.Message, error) {
	f.sent = append(f.sent, sentMedia{kind: "document", channel: channel, path: path, opts: opts})
	return relay.Message{Channel: channel, ID: "d1"}, f.sendErr
}

func (f *fakeTransport) Forward(ctx context.Context, msg relay.Message, target string) error {
	f.forwards = append(f.forwards, msg.ID+"->"+target)
	return f.forwardErr
}

type fakeProbe struct {
	duration int
	err      error
}

func (p fakeProbe) Duration(ctx context.Context, path string) (int, error) {
	return p.duration, p.err
}

func TestRelayerSendsVideoWithCaptionDurationAndForward(t *testing.T) {
	transport := &fakeTransport{}
	relayer := &Relayer{
		Transport:      transport,
		Probe:          fakeProbe{duration: 95},
		Tracker:        progress.NewTracker(nil, 0),
		Channel:        "course",
		NotifyUser:     "user-1",
		VideoThumbnail: "thumb.jpg",
	}

	err := relayer.Send(context.Background(), Task{Path: "/d/Ch 1/Marathon/Vectors.mp4", Chapter: "Ch 1", Topic: "Vectors", Kind: engine.KindVideo})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(transport.sent) != 1 || transport.sent[0].kind != "video" {
		t.Fatalf("expected one video send, got %+v", transport.sent)
	}
	opts := transport.sent[0].opts
	if opts.Caption != "📚 Ch 1\n📖 Vectors\n📁 Vectors.mp4" {
		t.Fatalf("unexpected caption %q", opts.Caption)
	}
	if opts.Duration != 95 || opts.Thumbnail != "thumb.jpg" || opts.Progress == nil {
		t.Fatalf("unexpected media options %+v", opts)
	}
	if len(transport.texts) != 1 || !strings.HasPrefix(transport.texts[0], "user-1:Uploading") {
		t.Fatalf("expected status message to the user, got %v", transport.texts)
	}
	if len(transport.forwards) != 1 || transport.forwards[0] != "v1->user-1" {
		t.Fatalf("expected forward to user, got %v", transport.forwards)
	}
}

func TestRelayerProbeFailureDefaultsToZero(t *testing.T) {
	transport := &fakeTransport{}
	recorder := &output.Recorder{}
	relayer := &Relayer{Transport: transport, Probe: fakeProbe{duration: 12, err: errors.New("no ffprobe")}, Emitter: recorder, Channel: "c"}

	if err := relayer.Send(context.Background(), Task{Path: "a.mp4", Kind: engine.KindVideo}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if transport.sent[0].opts.Duration != 0 {
		t.Fatalf("expected zero duration after probe failure")
	}
	if recorder.Count(output.EventProbeFailed) != 1 {
		t.Fatalf("expected probe_failed event")
	}
}

func TestRelayerSendsPDFAsDocumentWithoutProbe(t *testing.T) {
	transport := &fakeTransport{}
	relayer := &Relayer{Transport: transport, Probe: fakeProbe{err: errors.New("should not run")}, Channel: "c", PDFThumbnail: "pdf.jpg"}

	if err := relayer.Send(context.Background(), Task{Path: "Notes.pdf", Kind: engine.KindPDF}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if transport.sent[0].kind != "document" || transport.sent[0].opts.Thumbnail != "pdf.jpg" {
		t.Fatalf("unexpected send %+v", transport.sent[0])
	}
}

func TestRelayerKeepsFloodWaitDistinguishable(t *testing.T) {
	transport := &fakeTransport{sendErr: &relay.FloodWaitError{Wait: 4}}
	relayer := &Relayer{Transport: transport, Channel: "c"}

	err := relayer.Send(context.Background(), Task{Path: "a.pdf", Kind: engine.KindPDF})
	if _, ok := relay.FloodWait(err); !ok {
		t.Fatalf("expected flood wait to survive wrapping, got %v", err)
	}
}

func TestRelayerForwardFailureIsNotFatal(t *testing.T) {
	transport := &fakeTransport{forwardErr: errors.New("user blocked bot")}
	relayer := &Relayer{Transport: transport, Channel: "c", NotifyUser: "u"}

	if err := relayer.Send(context.Background(), Task{Path: "a.pdf", Kind: engine.KindPDF}); err != nil {
		t.Fatalf("expected forward failure to be logged only, got %v", err)
	}
	if len(transport.texts) != 0 {
		t.Fatalf("expected no status message without a tracker, got %v", transport.texts)
	}
}
