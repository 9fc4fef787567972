// Package transport holds the chat-platform types shared by the adapter and
// the command router.
package transport

type UpdateKind string

// UpdateMessage is the only kind the adapter emits today.
const UpdateMessage UpdateKind = "message"

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is an inbound text message. ThreadID is the forum topic, 0 outside
// topics.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int
	ChatTitle    string
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
	ChatType     string
}

// ChatTarget addresses a chat, or a topic inside one.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// MessageRef identifies a sent message.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// SendOptions is nil-safe; a nil value sends plain text with previews on.
type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// BotCommand is one entry of the client-side command menu.
type BotCommand struct {
	Command     string
	Description string
}
