package relay

import "context"

// Message identifies something the transport has already delivered.
type Message struct {
	Channel string `json:"channel"`
	ID      string `json:"id"`
}

func (m Message) Key() string {
	return m.Channel + ":" + m.ID
}

type MediaOptions struct {
	Caption   string
	Thumbnail string
	Duration  int
	Progress  func(current, total int64)
}

// Transport is the messaging client contract. Implementations return
// *FloodWaitError for rate limiting and ErrNotModified for edits that would
// not change the message.
type Transport interface {
	SendText(ctx context.Context, channel, text string) (Message, error)
	EditText(ctx context.Context, msg Message, text string) error
	SendVideo(ctx context.Context, channel, path string, opts MediaOptions) (Message, error)
	SendDocument(ctx context.Context, channel, path string, opts MediaOptions) (Message, error)
	Forward(ctx context.Context, msg Message, target string) error
}
