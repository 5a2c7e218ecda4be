package relay

import (
	"context"
	"errors"
	"sync"
)

var ErrActorClosed = errors.New("transport actor closed")

type call struct {
	ctx   context.Context
	fn    func(ctx context.Context, t Transport) (Message, error)
	reply chan callResult
}

type callResult struct {
	msg Message
	err error
}

// Actor owns a Transport. Sends and forwards run one at a time on the
// actor's loop, in submission order. Edits go through a separate lane so a
// progress edit issued from inside an upload callback cannot queue behind
// that upload.
type Actor struct {
	transport Transport
	calls     chan call
	edits     chan call
	closed    chan struct{}
	closeOnce sync.Once
	lanes     sync.WaitGroup
}

func NewActor(transport Transport) *Actor {
	a := &Actor{
		transport: transport,
		calls:     make(chan call),
		edits:     make(chan call),
		closed:    make(chan struct{}),
	}
	a.lanes.Add(2)
	go a.loop(a.calls)
	go a.loop(a.edits)
	return a
}

func (a *Actor) loop(queue <-chan call) {
	defer a.lanes.Done()
	for {
		select {
		case <-a.closed:
			return
		case c := <-queue:
			msg, err := c.fn(c.ctx, a.transport)
			c.reply <- callResult{msg: msg, err: Classify(err)}
		}
	}
}

func (a *Actor) submit(ctx context.Context, fn func(ctx context.Context, t Transport) (Message, error)) (Message, error) {
	return a.enqueue(ctx, a.calls, fn)
}

func (a *Actor) enqueue(ctx context.Context, queue chan<- call, fn func(ctx context.Context, t Transport) (Message, error)) (Message, error) {
	c := call{ctx: ctx, fn: fn, reply: make(chan callResult, 1)}
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-a.closed:
		return Message{}, ErrActorClosed
	case queue <- c:
	}
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case res := <-c.reply:
		return res.msg, res.err
	}
}

// Close stops accepting requests and waits for the running ones.
func (a *Actor) Close() {
	a.closeOnce.Do(func() {
		close(a.closed)
	})
	a.lanes.Wait()
}

func (a *Actor) SendText(ctx context.Context, channel, text string) (Message, error) {
	return a.submit(ctx, func(ctx context.Context, t Transport) (Message, error) {
		return t.SendText(ctx, channel, text)
	})
}

func (a *Actor) EditText(ctx context.Context, msg Message, text string) error {
	_, err := a.enqueue(ctx, a.edits, func(ctx context.Context, t Transport) (Message, error) {
		return msg, t.EditText(ctx, msg, text)
	})
	return err
}

func (a *Actor) SendVideo(ctx context.Context, channel, path string, opts MediaOptions) (Message, error) {
	return a.submit(ctx, func(ctx context.Context, t Transport) (Message, error) {
		return t.SendVideo(ctx, channel, path, opts)
	})
}

func (a *Actor) SendDocument(ctx context.Context, channel, path string, opts MediaOptions) (Message, error) {
	return a.submit(ctx, func(ctx context.Context, t Transport) (Message, error) {
		return t.SendDocument(ctx, channel, path, opts)
	})
}

func (a *Actor) Forward(ctx context.Context, msg Message, target string) error {
	_, err := a.submit(ctx, func(ctx context.Context, t Transport) (Message, error) {
		return msg, t.Forward(ctx, msg, target)
	})
	return err
}
