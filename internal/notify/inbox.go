package notify

import "context"

// Message is a persisted inbox entry.
type Message struct {
	UserID  int64
	Title   string
	Content string
	Type    string
}

// MessageWriter stores inbox messages.
type MessageWriter interface {
	SaveMessage(ctx context.Context, m Message) error
}

// Inbox persists every event as an unread message for its receiver.
type Inbox struct {
	w MessageWriter
}

func NewInbox(w MessageWriter) *Inbox { return &Inbox{w: w} }

func (i *Inbox) Name() string { return "inbox" }

func (i *Inbox) Deliver(ctx context.Context, evt Event) error {
	return i.w.SaveMessage(ctx, Message{
		UserID:  evt.ReceiverID,
		Title:   evt.Title,
		Content: evt.Content,
		Type:    evt.Kind,
	})
}
