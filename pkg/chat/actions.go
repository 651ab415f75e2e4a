package chat

import (
	"context"

	"github.com/dd0wney/cluso-chat/pkg/wire"
)

// Message is one chat message. Timestamp is opaque and supplied by the sender.
type Message struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Body      string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Item returns the stream item [SUCCESS, sender, recipient, message, timestamp]
func (m Message) Item(op wire.Opcode) wire.Envelope {
	return wire.Reply(op, wire.StatusSuccess, m.Sender, m.Recipient, m.Body, m.Timestamp)
}

// MessageFromItem is the inverse of Item
func MessageFromItem(e wire.Envelope) Message {
	return Message{Sender: e.Arg(1), Recipient: e.Arg(2), Body: e.Arg(3), Timestamp: e.Arg(4)}
}

// Actions is the business logic behind the chat opcodes. Implementations
// own password hashing and persistence; the router only decides where a
// request runs.
type Actions interface {
	Register(ctx context.Context, username, password, email string) error
	Authenticate(ctx context.Context, username, password string) error
	ListUsers(ctx context.Context) ([]string, error)

	// MessageHistory returns delivered messages sent or received by username, oldest first
	MessageHistory(ctx context.Context, username string) ([]Message, error)
	// StoreMessage records msg, as pending when the recipient had no live subscription
	StoreMessage(ctx context.Context, msg Message, pending bool) error
	// FetchPending returns up to limit pending messages for username, oldest
	// first, and marks them delivered
	FetchPending(ctx context.Context, username string, limit int) ([]Message, error)

	DeleteAccount(ctx context.Context, username string) error
	SaveSetting(ctx context.Context, username, setting string) error
	GetSetting(ctx context.Context, username string) (string, error)
}
