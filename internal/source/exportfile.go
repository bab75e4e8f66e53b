package source

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// exportDateFormat is the timestamp format used by Telegram Desktop chat
// exports. Export timestamps carry no offset and are taken as UTC.
const exportDateFormat = "2006-01-02T15:04:05"

type exportChat struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	ID       int64           `json:"id"`
	Messages []exportMessage `json:"messages"`
}

type exportMessage struct {
	ID       int64           `json:"id"`
	Type     string          `json:"type"`
	Date     string          `json:"date"`
	From     string          `json:"from"`
	FromID   string          `json:"from_id"`
	Text     json.RawMessage `json:"text"` // string or entity array
	Photo    string          `json:"photo"`
	File     string          `json:"file"`
	MimeType string          `json:"mime_type"`
}

type exportTextEntity struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ExportFileSource serves messages from a Telegram Desktop JSON chat export
// instead of a live session. It supports positioned forward iteration since
// the whole export is in memory.
type ExportFileSource struct {
	path string

	chat     *exportChat
	messages []*Message
	senders  map[int64]string
}

// NewExportFileSource creates a source backed by the chat export at path.
// The export is not read until Connect.
func NewExportFileSource(path string) *ExportFileSource {
	return &ExportFileSource{path: path}
}

func flattenText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range parts {
		var s string
		if err := json.Unmarshal(part, &s); err == nil {
			sb.WriteString(s)
			continue
		}
		var entity exportTextEntity
		if err := json.Unmarshal(part, &entity); err == nil {
			sb.WriteString(entity.Text)
		}
	}
	return sb.String()
}

// parseFromID extracts the numeric part of export sender ids like
// "user12345" or "channel12345".
func parseFromID(fromID string) int64 {
	trimmed := strings.TrimLeft(fromID, "abcdefghijklmnopqrstuvwxyz")
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0
	}
	if strings.HasPrefix(fromID, "channel") {
		return -id
	}
	return id
}

func (em *exportMessage) attachment() Attachment {
	switch {
	case em.Photo != "":
		return Attachment{Kind: AttachmentPhoto, File: em.Photo}
	case em.File != "" && em.MimeType == "video/mp4":
		return Attachment{Kind: AttachmentVideo, MimeType: em.MimeType, File: em.File}
	case em.File != "":
		return Attachment{Kind: AttachmentOtherDocument, MimeType: em.MimeType, File: em.File}
	default:
		return Attachment{Kind: AttachmentNone}
	}
}

func (s *ExportFileSource) Connect(ctx context.Context) error {
	file, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: reading chat export %v: %v", ErrSourceUnavailable, s.path, err)
	}
	chat := &exportChat{}
	if err := json.Unmarshal(file, chat); err != nil {
		return fmt.Errorf("%w: parsing chat export %v: %v", ErrSourceUnavailable, s.path, err)
	}
	s.chat = chat
	s.senders = make(map[int64]string)
	s.messages = make([]*Message, 0, len(chat.Messages))
	for i := range chat.Messages {
		em := &chat.Messages[i]
		if em.Type != "" && em.Type != "message" {
			continue // service entries carry no extractable content
		}
		date, err := time.ParseInLocation(exportDateFormat, em.Date, time.UTC)
		if err != nil {
			log.Warnf("Skipping export message %v with unparsable date %q", em.ID, em.Date)
			continue
		}
		senderID := parseFromID(em.FromID)
		if em.From != "" {
			s.senders[senderID] = em.From
		}
		s.messages = append(s.messages, &Message{
			ID:         em.ID,
			Timestamp:  date,
			Text:       flattenText(em.Text),
			SenderID:   senderID,
			Attachment: em.attachment(),
		})
	}
	slices.SortFunc(s.messages, func(a, b *Message) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	log.Infof("Loaded chat export %v with %v messages", s.path, len(s.messages))
	return nil
}

// Authenticate is a no-op: chat exports carry no session.
func (s *ExportFileSource) Authenticate(ctx context.Context, code string) error {
	return nil
}

func (s *ExportFileSource) Close() error {
	s.chat = nil
	s.messages = nil
	return nil
}

func (s *ExportFileSource) ResolveTarget(ctx context.Context, id string) (*Conversation, error) {
	if s.chat == nil {
		return nil, fmt.Errorf("%w: source is not connected", ErrSourceUnavailable)
	}
	return &Conversation{
		ID:      id,
		Title:   s.chat.Name,
		Channel: strings.Contains(s.chat.Type, "channel"),
	}, nil
}

func (s *ExportFileSource) SupportsSeek() bool {
	return true
}

func (s *ExportFileSource) Messages(
	ctx context.Context,
	conv *Conversation,
	dir Direction,
	from time.Time,
	minID int64,
) iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		if s.chat == nil {
			yield(nil, fmt.Errorf("%w: source is not connected", ErrSourceUnavailable))
			return
		}
		if dir == Backward {
			for i := len(s.messages) - 1; i >= 0; i-- {
				if s.messages[i].ID <= minID {
					continue
				}
				if !yield(s.messages[i], nil) {
					return
				}
			}
			return
		}
		start, _ := slices.BinarySearchFunc(s.messages, from, func(m *Message, t time.Time) int {
			return m.Timestamp.Compare(t)
		})
		for _, msg := range s.messages[start:] {
			if msg.ID <= minID {
				continue
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

func (s *ExportFileSource) SenderIdentity(
	ctx context.Context,
	conv *Conversation,
	senderID int64,
) (Identity, error) {
	if conv.Channel && conv.Title != "" {
		return Identity{Kind: IdentityChannelTitle, Name: conv.Title}, nil
	}
	if name, ok := s.senders[senderID]; ok {
		return Identity{Kind: IdentityUserHandle, Name: name}, nil
	}
	return Identity{Kind: IdentityUnknown}, nil
}

// DownloadMedia copies the exported media file referenced by the message
// into destPath. Media paths inside an export are relative to the export
// file itself.
func (s *ExportFileSource) DownloadMedia(
	ctx context.Context,
	msg *Message,
	destPath string,
) (string, error) {
	if msg.Attachment.Kind == AttachmentNone || msg.Attachment.File == "" {
		return "", fmt.Errorf("message %v has no media", msg.ID)
	}
	src, err := os.Open(filepath.Join(filepath.Dir(s.path), msg.Attachment.File))
	if err != nil {
		return "", err
	}
	defer src.Close()
	dest, err := os.Create(destPath)
	if err != nil {
		return "", err
	}
	defer dest.Close()
	if _, err := io.Copy(dest, src); err != nil {
		return "", err
	}
	return destPath, nil
}
