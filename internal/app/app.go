package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	cfg "github.com/jfeldner/tgminer/internal/config"
	"github.com/jfeldner/tgminer/internal/db"
	"github.com/jfeldner/tgminer/internal/export"
	"github.com/jfeldner/tgminer/internal/fetch"
	"github.com/jfeldner/tgminer/internal/source"
	"github.com/jfeldner/tgminer/internal/state"
	"github.com/jfeldner/tgminer/internal/timeframe"
	"github.com/jfeldner/tgminer/internal/translate"
)

// Miner runs the extraction pipeline once per configured target, strictly
// sequentially: resolve window, fetch, export. A fatal error aborts only
// the target it occurred on.
type Miner struct {
	Config     *cfg.Config
	dbHandler  *db.DbHandler
	stateStore *state.Store
	translator translate.Translator

	// NewSource builds the transport for a target. Overridable so live
	// transports and test fakes can be plugged in.
	NewSource func(chat *cfg.ChatConfig) (source.Source, error)
}

func (m *Miner) Setup(dbHandler *db.DbHandler, stateStore *state.Store) {
	m.dbHandler = dbHandler
	m.stateStore = stateStore
	if m.Config.Translation.Enabled {
		m.translator = &translate.Client{Config: m.Config.Translation}
	}
	if m.NewSource == nil {
		m.NewSource = m.defaultSource
	}
}

func (m *Miner) defaultSource(chat *cfg.ChatConfig) (source.Source, error) {
	if chat.Export != "" {
		return source.NewExportFileSource(chat.Export), nil
	}
	return nil, fmt.Errorf(
		"%w: target %v has no transport configured, set export to a chat export file",
		source.ErrSourceUnavailable, chat.Name,
	)
}

// promptVerificationCode asks the user for the one-time code the source
// sent out of band on first authentication.
func promptVerificationCode() (string, error) {
	fmt.Print("Enter the verification code: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return "", fmt.Errorf("reading verification code: %w", scanner.Err())
	}
	return strings.TrimSpace(scanner.Text()), nil
}

func (m *Miner) connect(ctx context.Context, src source.Source) error {
	err := src.Connect(ctx)
	if errors.Is(err, source.ErrAuthenticationRequired) {
		code, promptErr := promptVerificationCode()
		if promptErr != nil {
			return promptErr
		}
		err = src.Authenticate(ctx, code)
	}
	return err
}

func (m *Miner) runTarget(ctx context.Context, window timeframe.Window, chat *cfg.ChatConfig) error {
	targetDir := filepath.Join(m.Config.DataDir, chat.Name)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("creating target directory %v: %w", targetDir, err)
	}
	src, err := m.NewSource(chat)
	if err != nil {
		return err
	}
	if err := m.connect(ctx, src); err != nil {
		return fmt.Errorf("connecting source for %v: %w", chat.Name, err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Errorf("Error closing source for %v: %v", chat.Name, err)
		}
	}()
	conv, err := src.ResolveTarget(ctx, chat.ID)
	if err != nil {
		return fmt.Errorf("resolving target %v: %w", chat.ID, err)
	}

	var stateStorage fetch.FetcherStateStorage
	var manifest export.Manifest
	if m.stateStore != nil {
		stateStorage = m.stateStore
		manifest = m.stateStore
	}
	fetcher := fetch.NewFetcher(
		chat.Name, src, m.translator, m.Config.Translation, targetDir, stateStorage,
	)
	batch, err := fetcher.Fetch(ctx, window, conv)
	if err != nil {
		return err
	}
	if batch.Empty {
		log.Infof("NO MESSAGES FOUND for %v in window %v", chat.Name, window)
		return nil
	}

	for _, format := range m.Config.Export.FileFormats() {
		exporter := export.NewExporter(targetDir, chat.Name, m.Config.Export.Append, manifest)
		path, err := exporter.Export(ctx, batch, format)
		if err != nil {
			return err
		}
		log.Infof("EXTRACTION COMPLETED. Data saved in: %v", path)
	}
	if m.Config.Export.HasFormat(cfg.FormatPostgres) {
		stored := m.dbHandler.AddMessages(ctx, chat.Name, batch.Records)
		log.Infof("EXTRACTION COMPLETED. Stored %v records in database", stored)
	}
	return nil
}

// Run resolves the window once and processes every configured target. It
// returns an error only when the window itself is invalid; per-target
// failures are reported and the run moves on.
func (m *Miner) Run(ctx context.Context) error {
	window, err := timeframe.Resolve(m.Config.StartDate, m.Config.EndDate, time.Now())
	if err != nil {
		return err
	}
	log.Infof("Extraction window: %v", window)
	for _, chat := range m.Config.Chats {
		log.Infof(">>> BEGIN MINING FOR TARGET: %v <<<", chat.Name)
		if err := m.runTarget(ctx, window, chat); err != nil {
			log.Errorf("Mining aborted for target %v: %v", chat.Name, err)
			continue
		}
		log.Infof(">>> FINISHED MINING FOR TARGET: %v <<<", chat.Name)
	}
	return nil
}
