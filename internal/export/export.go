package export

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	log "github.com/sirupsen/logrus"

	cfg "github.com/jfeldner/tgminer/internal/config"
	"github.com/jfeldner/tgminer/internal/fetch"
)

// Manifest records the current artifact filename per target and format so
// prior artifacts are found exactly instead of by filename heuristics.
type Manifest interface {
	CurrentArtifact(ctx context.Context, target string, format string) string
	SetCurrentArtifact(ctx context.Context, target string, format string, filename string)
}

// Exporter persists batches into per-target artifact files, merging with
// the prior artifact in append mode. At most one live artifact exists per
// target and format; superseded files are replaced, never left behind.
type Exporter struct {
	dir        string
	target     string
	appendMode bool
	manifest   Manifest

	now func() time.Time
}

func NewExporter(dir string, target string, appendMode bool, manifest Manifest) *Exporter {
	return &Exporter{
		dir:        dir,
		target:     target,
		appendMode: appendMode,
		manifest:   manifest,
		now:        time.Now,
	}
}

// locatePrior returns the filename of the current artifact for the given
// extension, preferring the manifest and falling back to the
// lexicographically last glob match for directories predating it.
func (e *Exporter) locatePrior(ctx context.Context, ext string) string {
	if e.manifest != nil {
		if name := e.manifest.CurrentArtifact(ctx, e.target, ext); name != "" {
			if _, err := os.Stat(filepath.Join(e.dir, name)); err == nil {
				return name
			}
			log.Warnf("Manifest entry %v for %v is missing on disk", name, e.target)
		}
	}
	matches, err := filepath.Glob(filepath.Join(e.dir, fmt.Sprintf("%s_data_*.%s", e.target, ext)))
	if err != nil || len(matches) == 0 {
		return ""
	}
	slices.Sort(matches)
	return filepath.Base(matches[len(matches)-1])
}

func mergeRecords(prior []*fetch.Record, batch []*fetch.Record) []*fetch.Record {
	merged := make([]*fetch.Record, 0, len(prior)+len(batch))
	fresh := make(map[int64]struct{}, len(batch))
	for _, r := range batch {
		fresh[r.MessageID] = struct{}{}
		merged = append(merged, r)
	}
	for _, r := range prior {
		// the new batch's copy of a shared id wins
		if _, ok := fresh[r.MessageID]; !ok {
			merged = append(merged, r)
		}
	}
	slices.SortFunc(merged, func(a, b *fetch.Record) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.MessageID, b.MessageID)
	})
	return merged
}

func (e *Exporter) rangeName(records []*fetch.Record, ext string) string {
	minDate := records[0].Date
	maxDate := records[0].Date
	for _, r := range records[1:] {
		if r.Date.Before(minDate) {
			minDate = r.Date
		}
		if r.Date.After(maxDate) {
			maxDate = r.Date
		}
	}
	return fmt.Sprintf(
		"%s_data_%s_%s.%s",
		e.target, minDate.Format("2006-01-02"), maxDate.Format("2006-01-02"), ext,
	)
}

func (e *Exporter) runName(ext string) string {
	return fmt.Sprintf(
		"%s_data_%s.%s",
		e.target, e.now().UTC().Format("2006-01-02_15-04-05"), ext,
	)
}

// Export persists the batch in the requested file format and returns the
// path of the written artifact. An empty batch is a no-op that never
// touches existing artifacts and returns an empty path.
func (e *Exporter) Export(
	ctx context.Context,
	batch *fetch.Batch,
	format cfg.Format,
) (string, error) {
	if batch.Empty {
		return "", nil
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory %v: %w", e.dir, err)
	}
	ext := string(format)
	records := batch.Records
	var filename, prior string

	if e.appendMode {
		prior = e.locatePrior(ctx, ext)
		if prior != "" {
			priorRecords, err := readRecords(filepath.Join(e.dir, prior), ext)
			if err != nil {
				// a corrupt prior artifact degrades the merge to
				// "no prior records" instead of aborting
				log.Errorf("Error reading prior artifact %v, treating as empty: %v", prior, err)
				priorRecords = nil
			}
			records = mergeRecords(priorRecords, batch.Records)
		}
		filename = e.rangeName(records, ext)
	} else {
		filename = e.runName(ext)
	}

	// write to a temp file and rename so a failed write can never truncate
	// the live artifact it is about to replace
	path := filepath.Join(e.dir, filename)
	tmpPath := path + ".tmp"
	if err := writeRecords(tmpPath, ext, records); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing artifact %v: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("replacing artifact %v: %w", path, err)
	}
	if prior != "" && prior != filename {
		if err := os.Remove(filepath.Join(e.dir, prior)); err != nil {
			log.Errorf("Error removing superseded artifact %v: %v", prior, err)
		}
	}
	if e.manifest != nil {
		e.manifest.SetCurrentArtifact(ctx, e.target, ext, filename)
	}
	log.Infof("Exported %v records to %v", len(records), path)
	return path, nil
}
