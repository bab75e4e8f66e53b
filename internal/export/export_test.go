package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cfg "github.com/jfeldner/tgminer/internal/config"
	"github.com/jfeldner/tgminer/internal/fetch"
)

var formats = []cfg.Format{cfg.FormatCSV, cfg.FormatJSON}

func record(id int64, day int, text string) *fetch.Record {
	return &fetch.Record{
		SenderName: "Fake Chat",
		SenderID:   7,
		MessageID:  id,
		Date:       time.Date(2024, 1, day, 12, 0, 0, 0, time.UTC),
		Text:       text,
		Translated: "translated: " + text,
	}
}

func batchOf(records ...*fetch.Record) *fetch.Batch {
	return &fetch.Batch{Records: records, Empty: len(records) == 0}
}

func artifactFiles(t *testing.T, dir string, ext string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "."+ext) {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestExport_emptyBatchIsNoop(t *testing.T) {
	for _, format := range formats {
		t.Run(string(format), func(t *testing.T) {
			dir := t.TempDir()
			exporter := NewExporter(dir, "chat", true, nil)
			path, err := exporter.Export(context.Background(), batchOf(), format)
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			if path != "" {
				t.Errorf("Export() of empty batch wrote %v", path)
			}
			if files := artifactFiles(t, dir, string(format)); len(files) != 0 {
				t.Errorf("empty batch produced artifacts: %v", files)
			}
		})
	}
}

func TestExport_appendIdempotence(t *testing.T) {
	for _, format := range formats {
		t.Run(string(format), func(t *testing.T) {
			dir := t.TempDir()
			exporter := NewExporter(dir, "chat", true, nil)
			batch := batchOf(record(1, 1, "eins"), record(2, 2, "zwei"))

			var path string
			var err error
			for range 2 {
				path, err = exporter.Export(context.Background(), batch, format)
				if err != nil {
					t.Fatalf("Export() error = %v", err)
				}
			}
			records, err := readRecords(path, string(format))
			if err != nil {
				t.Fatalf("reading artifact back: %v", err)
			}
			if len(records) != 2 {
				t.Errorf("re-export doubled records: got %d, want 2", len(records))
			}
			if files := artifactFiles(t, dir, string(format)); len(files) != 1 {
				t.Errorf("expected one live artifact, got %v", files)
			}
		})
	}
}

func TestExport_appendDisjointUnion(t *testing.T) {
	for _, format := range formats {
		t.Run(string(format), func(t *testing.T) {
			dir := t.TempDir()
			exporter := NewExporter(dir, "chat", true, nil)
			ctx := context.Background()

			if _, err := exporter.Export(ctx, batchOf(record(1, 3, "drei"), record(2, 4, "vier")), format); err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			path, err := exporter.Export(ctx, batchOf(record(3, 1, "eins"), record(4, 8, "acht")), format)
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}

			wantName := fmt.Sprintf("chat_data_2024-01-01_2024-01-08.%s", format)
			if filepath.Base(path) != wantName {
				t.Errorf("artifact name = %v, want %v", filepath.Base(path), wantName)
			}
			records, err := readRecords(path, string(format))
			if err != nil {
				t.Fatalf("reading artifact back: %v", err)
			}
			if len(records) != 4 {
				t.Fatalf("union has %d records, want 4", len(records))
			}
			for i := 1; i < len(records); i++ {
				if records[i].Date.Before(records[i-1].Date) {
					t.Errorf("union not sorted chronologically at index %d", i)
				}
			}
			// the superseded artifact must be replaced, not left behind
			if files := artifactFiles(t, dir, string(format)); len(files) != 1 {
				t.Errorf("expected one live artifact, got %v", files)
			}
		})
	}
}

func TestExport_roundTrip(t *testing.T) {
	for _, format := range formats {
		t.Run(string(format), func(t *testing.T) {
			dir := t.TempDir()
			exporter := NewExporter(dir, "chat", true, nil)
			original := []*fetch.Record{
				record(1, 1, "hello"),
				record(2, 2, "привет, мир"), // non-ASCII survives verbatim
				record(3, 3, "a,b\"c\nnewline"),
			}
			original[0].MediaPath = "chat_photo_1.jpg"

			path, err := exporter.Export(context.Background(), batchOf(original...), format)
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			restored, err := readRecords(path, string(format))
			if err != nil {
				t.Fatalf("reading artifact back: %v", err)
			}
			if len(restored) != len(original) {
				t.Fatalf("restored %d records, want %d", len(restored), len(original))
			}
			for i, want := range original {
				got := restored[i]
				if got.SenderName != want.SenderName || got.SenderID != want.SenderID ||
					got.MessageID != want.MessageID || !got.Date.Equal(want.Date) ||
					got.Text != want.Text || got.Translated != want.Translated ||
					got.MediaPath != want.MediaPath {
					t.Errorf("record %d = %+v, want %+v", i, got, want)
				}
			}
		})
	}
}

func TestExport_csvFoldsCRLF(t *testing.T) {
	dir := t.TempDir()
	exporter := NewExporter(dir, "chat", true, nil)
	batch := batchOf(record(1, 1, "line1\r\nline2"))

	var path string
	var err error
	for range 2 {
		path, err = exporter.Export(context.Background(), batch, cfg.FormatCSV)
		if err != nil {
			t.Fatalf("Export() error = %v", err)
		}
	}
	records, err := readRecords(path, "csv")
	if err != nil {
		t.Fatalf("reading artifact back: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if got := records[0].Text; got != "line1\nline2" {
		t.Errorf("restored text = %q, want CRLF folded to LF", got)
	}
}

func TestExport_failedWriteKeepsPriorArtifact(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	for _, format := range formats {
		t.Run(string(format), func(t *testing.T) {
			dir := t.TempDir()
			exporter := NewExporter(dir, "chat", true, nil)
			ctx := context.Background()

			prior, err := exporter.Export(ctx, batchOf(record(1, 1, "eins")), format)
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}

			if err := os.Chmod(dir, 0o555); err != nil {
				t.Fatalf("making dir read-only: %v", err)
			}
			defer os.Chmod(dir, 0o755)

			// same-day batch keeps the recomputed name equal to the prior's,
			// the case where an in-place write would truncate the live copy
			if _, err := exporter.Export(ctx, batchOf(record(2, 1, "zwei")), format); err == nil {
				t.Fatal("Export() into read-only dir succeeded, want error")
			}

			records, err := readRecords(prior, string(format))
			if err != nil {
				t.Fatalf("prior artifact unreadable after failed export: %v", err)
			}
			if len(records) != 1 || records[0].MessageID != 1 {
				t.Errorf("prior artifact changed by failed export: %+v", records)
			}
		})
	}
}

func TestExport_leavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	exporter := NewExporter(dir, "chat", true, nil)
	for range 2 {
		if _, err := exporter.Export(context.Background(), batchOf(record(1, 1, "eins")), cfg.FormatCSV); err != nil {
			t.Fatalf("Export() error = %v", err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %v", e.Name())
		}
	}
}

func TestExport_corruptPriorTreatedAsEmpty(t *testing.T) {
	for _, format := range formats {
		t.Run(string(format), func(t *testing.T) {
			dir := t.TempDir()
			corrupt := filepath.Join(dir, fmt.Sprintf("chat_data_2023-01-01_2023-01-02.%s", format))
			if err := os.WriteFile(corrupt, []byte("{{{ not a valid artifact"), 0o644); err != nil {
				t.Fatalf("writing corrupt artifact: %v", err)
			}
			exporter := NewExporter(dir, "chat", true, nil)
			path, err := exporter.Export(context.Background(), batchOf(record(1, 1, "eins")), format)
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			records, err := readRecords(path, string(format))
			if err != nil {
				t.Fatalf("reading artifact back: %v", err)
			}
			if len(records) != 1 {
				t.Errorf("merge over corrupt prior yielded %d records, want 1", len(records))
			}
		})
	}
}

func TestExport_nonAppendWritesFreshArtifact(t *testing.T) {
	dir := t.TempDir()
	exporter := NewExporter(dir, "chat", false, nil)
	exporter.now = func() time.Time {
		return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	}
	prior := filepath.Join(dir, "chat_data_2024-01-01_2024-01-02.csv")
	if err := os.WriteFile(prior, []byte("SENDER_NAME,SENDER_ID,MESSAGE_ID,DATE,MESSAGE,TRANSLATED_MESSAGE,MEDIA_PATH\n"), 0o644); err != nil {
		t.Fatalf("writing prior artifact: %v", err)
	}

	path, err := exporter.Export(context.Background(), batchOf(record(1, 1, "eins")), cfg.FormatCSV)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if want := "chat_data_2024-05-06_07-08-09.csv"; filepath.Base(path) != want {
		t.Errorf("artifact name = %v, want %v", filepath.Base(path), want)
	}
	// non-append mode never consults or removes prior artifacts
	if _, err := os.Stat(prior); err != nil {
		t.Errorf("prior artifact was touched: %v", err)
	}
}

type fakeManifest struct {
	entries map[string]string
}

func (f *fakeManifest) key(target, format string) string { return target + "/" + format }

func (f *fakeManifest) CurrentArtifact(ctx context.Context, target string, format string) string {
	return f.entries[f.key(target, format)]
}

func (f *fakeManifest) SetCurrentArtifact(ctx context.Context, target string, format string, filename string) {
	f.entries[f.key(target, format)] = filename
}

// The manifest beats the glob heuristic: a lexicographically later file
// that is not the recorded current artifact must not be merged into.
func TestExport_manifestAuthoritative(t *testing.T) {
	dir := t.TempDir()
	manifest := &fakeManifest{entries: map[string]string{}}
	exporter := NewExporter(dir, "chat", true, manifest)
	ctx := context.Background()

	path, err := exporter.Export(ctx, batchOf(record(1, 1, "eins")), cfg.FormatCSV)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if got := manifest.CurrentArtifact(ctx, "chat", "csv"); got != filepath.Base(path) {
		t.Fatalf("manifest entry = %v, want %v", got, filepath.Base(path))
	}

	// a stray file sorting after the live artifact
	stray := filepath.Join(dir, "chat_data_2099-01-01_2099-01-02.csv")
	if err := os.WriteFile(stray, []byte("junk"), 0o644); err != nil {
		t.Fatalf("writing stray file: %v", err)
	}
	path, err = exporter.Export(ctx, batchOf(record(2, 2, "zwei")), cfg.FormatCSV)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	records, err := readRecords(path, "csv")
	if err != nil {
		t.Fatalf("reading artifact back: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("merge followed the glob instead of the manifest: %d records, want 2", len(records))
	}
}
