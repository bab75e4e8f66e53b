package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jfeldner/tgminer/internal/fetch"
)

var csvHeader = []string{
	"SENDER_NAME",
	"SENDER_ID",
	"MESSAGE_ID",
	"DATE",
	"MESSAGE",
	"TRANSLATED_MESSAGE",
	"MEDIA_PATH",
}

// jsonRecord mirrors the CSV column set so both formats carry identical
// field names.
type jsonRecord struct {
	SenderName string `json:"SENDER_NAME"`
	SenderID   int64  `json:"SENDER_ID"`
	MessageID  int64  `json:"MESSAGE_ID"`
	Date       string `json:"DATE"`
	Message    string `json:"MESSAGE"`
	Translated string `json:"TRANSLATED_MESSAGE"`
	MediaPath  string `json:"MEDIA_PATH"`
}

// parseDate recovers a record timestamp written by this package. Unparsable
// timestamps degrade to the zero time so the record still merges and sorts
// ahead of all dated records.
func parseDate(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		log.Warnf("Unparsable record date %q, sorting as zero time", raw)
		return time.Time{}
	}
	return t.UTC()
}

// normalizeNewlines folds CRLF to LF. encoding/csv folds CRLF inside quoted
// fields when reading, so normalizing on write keeps CSV round-trips exact.
func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func writeCSV(path string, records []*fetch.Record) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.SenderName,
			strconv.FormatInt(r.SenderID, 10),
			strconv.FormatInt(r.MessageID, 10),
			r.Date.Format(time.RFC3339),
			normalizeNewlines(r.Text),
			normalizeNewlines(r.Translated),
			r.MediaPath,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func readCSV(path string) ([]*fetch.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(csvHeader)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	records := make([]*fetch.Record, 0, len(rows))
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		messageID, err := strconv.ParseInt(row[2], 10, 64)
		if err != nil {
			log.Warnf("Skipping row of %v with invalid message id %q", path, row[2])
			continue
		}
		senderID, _ := strconv.ParseInt(row[1], 10, 64)
		records = append(records, &fetch.Record{
			SenderName: row[0],
			SenderID:   senderID,
			MessageID:  messageID,
			Date:       parseDate(row[3]),
			Text:       row[4],
			Translated: row[5],
			MediaPath:  row[6],
		})
	}
	return records, nil
}

func writeJSON(path string, records []*fetch.Record) error {
	modelled := make([]*jsonRecord, len(records))
	for i, r := range records {
		modelled[i] = &jsonRecord{
			SenderName: r.SenderName,
			SenderID:   r.SenderID,
			MessageID:  r.MessageID,
			Date:       r.Date.Format(time.RFC3339),
			Message:    r.Text,
			Translated: r.Translated,
			MediaPath:  r.MediaPath,
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(modelled)
}

func readJSON(path string) ([]*fetch.Record, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var modelled []*jsonRecord
	if err := json.Unmarshal(file, &modelled); err != nil {
		return nil, err
	}
	records := make([]*fetch.Record, len(modelled))
	for i, r := range modelled {
		records[i] = &fetch.Record{
			SenderName: r.SenderName,
			SenderID:   r.SenderID,
			MessageID:  r.MessageID,
			Date:       parseDate(r.Date),
			Text:       r.Message,
			Translated: r.Translated,
			MediaPath:  r.MediaPath,
		}
	}
	return records, nil
}

func writeRecords(path string, ext string, records []*fetch.Record) error {
	switch ext {
	case "csv":
		return writeCSV(path, records)
	case "json":
		return writeJSON(path, records)
	default:
		return fmt.Errorf("unknown artifact format %q", ext)
	}
}

func readRecords(path string, ext string) ([]*fetch.Record, error) {
	switch ext {
	case "csv":
		return readCSV(path)
	case "json":
		return readJSON(path)
	default:
		return nil, fmt.Errorf("unknown artifact format %q", ext)
	}
}
