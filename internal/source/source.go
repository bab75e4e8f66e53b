package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
)

var (
	// ErrAuthenticationRequired signals that the source needs an interactive
	// verification code before any other call can succeed.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrSourceUnavailable signals a connection or entity resolution failure.
	ErrSourceUnavailable = errors.New("source unavailable")
)

// Direction selects the source's iteration order.
type Direction int

const (
	// Forward iterates chronologically from a given starting timestamp.
	Forward Direction = iota
	// Backward iterates newest-first from the most recent message.
	Backward
)

// AttachmentKind tags the media carried by a message. It is decided once
// when the item is received, not re-probed downstream.
type AttachmentKind int

const (
	AttachmentNone AttachmentKind = iota
	AttachmentPhoto
	AttachmentVideo
	AttachmentOtherDocument
)

// Attachment describes the media of a message. MimeType is only set for
// AttachmentVideo and AttachmentOtherDocument.
type Attachment struct {
	Kind     AttachmentKind
	MimeType string
	// File is a source-specific locator for the media payload.
	File string
}

// Message is one item yielded by a source, before enrichment.
type Message struct {
	ID         int64
	Timestamp  time.Time
	Text       string
	SenderID   int64
	Attachment Attachment
}

// IdentityKind tags where a sender's display name came from.
type IdentityKind int

const (
	IdentityUnknown IdentityKind = iota
	IdentityChannelTitle
	IdentityUserHandle
)

// Identity is a resolved sender display identity.
type Identity struct {
	Kind IdentityKind
	Name string
}

// DisplayName returns the resolved name or the Unknown sentinel.
func (id Identity) DisplayName() string {
	if id.Kind == IdentityUnknown || id.Name == "" {
		return "Unknown"
	}
	return id.Name
}

// Conversation is a resolved extraction target.
type Conversation struct {
	// ID is the source-native identifier (numeric, @handle or signed
	// negative id for channels/groups).
	ID string
	// Title is the conversation title if the source knows one.
	Title string
	// Channel is true for broadcast channels, where the sender identity is
	// the channel title rather than a user handle.
	Channel bool
}

func (c *Conversation) String() string {
	if c.Title != "" {
		return fmt.Sprintf("%v (%v)", c.Title, c.ID)
	}
	return c.ID
}

// Source is the message transport contract. Implementations must yield
// messages with monotonically increasing unique ids per conversation and
// timezone-aware timestamps.
type Source interface {
	// Connect authenticates or resumes a session. It returns
	// ErrAuthenticationRequired when an interactive verification code is
	// needed; Authenticate completes that step.
	Connect(ctx context.Context) error
	Authenticate(ctx context.Context, code string) error
	Close() error

	ResolveTarget(ctx context.Context, id string) (*Conversation, error)

	// SupportsSeek reports whether Forward iteration from an arbitrary
	// starting timestamp is available.
	SupportsSeek() bool

	// Messages iterates the conversation in the given direction. For
	// Forward the iteration starts at the first message with a timestamp
	// >= from; for Backward the from parameter is ignored and iteration
	// starts at the newest message. Messages with an id <= minID are not
	// yielded in either direction; 0 means no floor.
	Messages(ctx context.Context, conv *Conversation, dir Direction, from time.Time, minID int64) iter.Seq2[*Message, error]

	// SenderIdentity resolves a display identity for the sender of a
	// message in the conversation.
	SenderIdentity(ctx context.Context, conv *Conversation, senderID int64) (Identity, error)

	// DownloadMedia persists the message's media under destPath and
	// returns the path written.
	DownloadMedia(ctx context.Context, msg *Message, destPath string) (string, error)
}
