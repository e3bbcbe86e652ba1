package entity

import (
	"context"
	"fmt"
	"time"
)

// ChatType classifies a conversation.
type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// Entity is the common surface of every canonical object produced by an
// adapter's Transform. IDs are platform-scoped, not globally unique.
type Entity interface {
	EntityID() int64
}

// Origin is the capability surface an adapter exposes to the entities it
// creates. Every method that can touch the network takes a context; no
// timeouts are imposed here, callers bound latency themselves.
type Origin interface {
	Platform() string

	// FetchEntity resolves a platform-scoped id into a native object.
	FetchEntity(ctx context.Context, id int64) (any, error)

	// SendText delivers text to a chat and returns the native message
	// the platform reports back.
	SendText(ctx context.Context, chatID int64, text string) (any, error)

	// ReplyTo and EditText operate relative to a native message object.
	ReplyTo(ctx context.Context, native any, text string) error
	EditText(ctx context.Context, native any, text string) error

	// Download fetches the binary payload behind a native media object.
	Download(ctx context.Context, native any) ([]byte, error)

	// Transform normalizes a native object into a canonical entity.
	Transform(ctx context.Context, native any) (Entity, error)
}

// Base carries the attributes shared by all canonical entities.
// NativeRef is an opaque back-reference to the platform-native source
// object, used only for capability calls, never for identity or
// equality. Origin points at the adapter that built the entity.
type Base struct {
	ID        int64
	NativeRef any
	Origin    Origin
}

func (b *Base) EntityID() int64 { return b.ID }

// User is a platform account.
type User struct {
	Base
	Platform  string
	FirstName string
	LastName  string
	Username  string
	IsBot     bool
}

func (u *User) String() string {
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}

// Chat is a conversation. Members is non-empty for private chats: it
// holds self plus peer (or just the peer when self is unknown).
type Chat struct {
	Base
	Platform string
	Type     ChatType
	Title    string
	Members  []*User
}

// Message is a single inbound or outbound message. Text is never
// reported as "absent": an empty message has Text == "".
type Message struct {
	Base
	From        *User
	Chat        *Chat
	Date        time.Time
	Text        string
	Attachments []Attachment
}

// Answer sends text into the message's chat.
func (m *Message) Answer(ctx context.Context, text string) error {
	if m.Origin == nil {
		return ErrNoOrigin
	}
	chatID := m.ID
	if m.Chat != nil {
		chatID = m.Chat.ID
	}
	_, err := m.Origin.SendText(ctx, chatID, text)
	return err
}

// Reply sends text as a direct reply to this message.
func (m *Message) Reply(ctx context.Context, text string) error {
	native, err := m.resolveNative(ctx)
	if err != nil {
		return err
	}
	return m.Origin.ReplyTo(ctx, native, text)
}

// Edit rewrites this message's text in place.
func (m *Message) Edit(ctx context.Context, text string) error {
	native, err := m.resolveNative(ctx)
	if err != nil {
		return err
	}
	return m.Origin.EditText(ctx, native, text)
}

// resolveNative returns the message's native ref, fetching it by id
// when the message was reconstructed without one. Resolution happens at
// most once; a fetch that yields nothing is a NotFound, not a retry
// loop.
func (m *Message) resolveNative(ctx context.Context) (any, error) {
	if m.Origin == nil {
		return nil, ErrNoOrigin
	}
	if m.NativeRef != nil {
		return m.NativeRef, nil
	}
	native, err := m.Origin.FetchEntity(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if native == nil {
		return nil, &AdapterError{Op: "resolve", Kind: KindNotFound, Err: fmt.Errorf("message %d has no native object", m.ID)}
	}
	m.NativeRef = native
	return native, nil
}

// FormatBytes renders a byte count for humans, e.g. "81.82 KB".
func FormatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(size)/float64(div), "KMGT"[exp])
}
