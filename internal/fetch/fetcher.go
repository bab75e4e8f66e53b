package fetch

import (
	"cmp"
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	log "github.com/sirupsen/logrus"

	cfg "github.com/jfeldner/tgminer/internal/config"
	"github.com/jfeldner/tgminer/internal/source"
	"github.com/jfeldner/tgminer/internal/timeframe"
	"github.com/jfeldner/tgminer/internal/translate"
)

// Record is one fully enriched extracted message.
type Record struct {
	SenderName string
	SenderID   int64
	MessageID  int64
	Date       time.Time
	Text       string
	Translated string
	MediaPath  string
}

// Batch is the ordered result of one fetch run. Records are sorted
// ascending by timestamp with the message id as tiebreak.
type Batch struct {
	Records []*Record
	Empty   bool
}

// FetcherStateStorage persists the resume point of a fetcher across runs.
type FetcherStateStorage interface {
	GetState(ctx context.Context, target string) int64
	SaveState(ctx context.Context, target string, lastMessageID int64)
}

// Fetcher drives a message source across a time window and enriches every
// accepted item. Enrichment failures degrade the affected field and never
// abort the batch; source iteration failures do.
type Fetcher struct {
	target       string
	source       source.Source
	translator   translate.Translator
	translation  *cfg.TranslationConfig
	mediaDir     string
	stateStorage FetcherStateStorage
}

func NewFetcher(
	target string,
	src source.Source,
	translator translate.Translator,
	translation *cfg.TranslationConfig,
	mediaDir string,
	stateStorage FetcherStateStorage,
) *Fetcher {
	return &Fetcher{
		target:       target,
		source:       src,
		translator:   translator,
		translation:  translation,
		mediaDir:     mediaDir,
		stateStorage: stateStorage,
	}
}

// Fetch returns all messages of the conversation with timestamps inside the
// inclusive window, chronologically sorted. It prefers positioned forward
// iteration and falls back to newest-first iteration with early termination
// when the source cannot seek.
func (f *Fetcher) Fetch(
	ctx context.Context,
	window timeframe.Window,
	conv *source.Conversation,
) (*Batch, error) {
	var records []*Record
	seen := make(map[int64]struct{})
	accept := func(msg *source.Message) {
		if _, ok := seen[msg.ID]; ok {
			return
		}
		seen[msg.ID] = struct{}{}
		log.Infof("Extracted message id=%v date=%v", msg.ID, msg.Timestamp)
		records = append(records, f.enrich(ctx, conv, msg))
	}

	// messages up to the stored resume point were extracted by an earlier
	// run and already live in the merged artifact
	var minID int64
	if f.stateStorage != nil {
		minID = f.stateStorage.GetState(ctx, f.target)
	}
	var err error
	if f.source.SupportsSeek() {
		err = f.fetchForward(ctx, window, conv, minID, accept)
	} else {
		err = f.fetchBackward(ctx, window, conv, minID, accept)
	}
	if err != nil {
		return nil, err
	}

	slices.SortFunc(records, func(a, b *Record) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.MessageID, b.MessageID)
	})
	if f.stateStorage != nil && len(records) > 0 {
		lastID := minID
		for _, record := range records {
			lastID = max(lastID, record.MessageID)
		}
		f.stateStorage.SaveState(ctx, f.target, lastID)
	}
	return &Batch{Records: records, Empty: len(records) == 0}, nil
}

func (f *Fetcher) fetchForward(
	ctx context.Context,
	window timeframe.Window,
	conv *source.Conversation,
	minID int64,
	accept func(*source.Message),
) error {
	for msg, err := range f.source.Messages(ctx, conv, source.Forward, window.Start, minID) {
		if err != nil {
			return fmt.Errorf("iterating messages of %v: %w", conv, err)
		}
		if msg.Timestamp.Before(window.Start) {
			continue // defensive, positioning should have skipped these
		}
		if msg.Timestamp.After(window.End) {
			break // chronological order, everything after is newer
		}
		accept(msg)
	}
	return nil
}

func (f *Fetcher) fetchBackward(
	ctx context.Context,
	window timeframe.Window,
	conv *source.Conversation,
	minID int64,
	accept func(*source.Message),
) error {
	for msg, err := range f.source.Messages(ctx, conv, source.Backward, time.Time{}, minID) {
		if err != nil {
			return fmt.Errorf("iterating messages of %v: %w", conv, err)
		}
		if msg.Timestamp.After(window.End) {
			continue
		}
		if msg.Timestamp.Before(window.Start) {
			break // newest-first order, everything before is older
		}
		accept(msg)
	}
	return nil
}

func (f *Fetcher) enrich(
	ctx context.Context,
	conv *source.Conversation,
	msg *source.Message,
) *Record {
	identity, err := f.source.SenderIdentity(ctx, conv, msg.SenderID)
	if err != nil {
		log.Warnf("Error resolving sender %v of message %v: %v", msg.SenderID, msg.ID, err)
		identity = source.Identity{}
	}
	return &Record{
		SenderName: identity.DisplayName(),
		SenderID:   msg.SenderID,
		MessageID:  msg.ID,
		Date:       msg.Timestamp,
		Text:       msg.Text,
		Translated: f.translateText(ctx, msg.Text),
		MediaPath:  f.saveMedia(ctx, msg),
	}
}

// saveMedia persists photo and mp4 video attachments under deterministic
// names. Failures are non-fatal and leave the media path empty.
func (f *Fetcher) saveMedia(ctx context.Context, msg *source.Message) string {
	var destPath string
	switch att := msg.Attachment; att.Kind {
	case source.AttachmentPhoto:
		destPath = filepath.Join(f.mediaDir, fmt.Sprintf("%s_photo_%d.jpg", f.target, msg.ID))
	case source.AttachmentVideo:
		if att.MimeType != "video/mp4" {
			return ""
		}
		destPath = filepath.Join(f.mediaDir, fmt.Sprintf("%s_video_%d.mp4", f.target, msg.ID))
	default:
		return ""
	}
	path, err := f.source.DownloadMedia(ctx, msg, destPath)
	if err != nil {
		log.Errorf("Error saving media of message %v: %v", msg.ID, err)
		return ""
	}
	return path
}

// translateText runs the configured translator. Empty text is replaced by a
// placeholder before the call; translator failure degrades to an empty
// translation.
func (f *Fetcher) translateText(ctx context.Context, text string) string {
	if f.translation == nil || !f.translation.Enabled || f.translator == nil {
		return ""
	}
	if text == "" {
		text = translate.Placeholder
	}
	translated, err := f.translator.Translate(ctx, text, f.translation.Source, f.translation.Target)
	if err != nil {
		log.Errorf("Error translating message text: %v", err)
		return ""
	}
	return translated
}
