package relay

import "context"

// MessageSink edits a single status message in place.
type MessageSink struct {
	Transport Transport
	Message   Message
}

func NewMessageSink(transport Transport, msg Message) *MessageSink {
	return &MessageSink{Transport: transport, Message: msg}
}

func (s *MessageSink) Key() string {
	return s.Message.Key()
}

func (s *MessageSink) Edit(ctx context.Context, text string) error {
	return s.Transport.EditText(ctx, s.Message, text)
}
