package db

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"

	config "github.com/jfeldner/tgminer/internal/config"
	"github.com/jfeldner/tgminer/internal/fetch"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	target             TEXT NOT NULL,
	message_id         BIGINT NOT NULL,
	sender_name        TEXT NOT NULL,
	sender_id          BIGINT NOT NULL,
	date               TIMESTAMPTZ NOT NULL,
	message            TEXT NOT NULL,
	translated_message TEXT NOT NULL DEFAULT '',
	media_path         TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (target, message_id)
);`

// DbHandler is the optional Postgres export sink. The table is keyed by
// (target, message_id) and writes are upserts, so database export is
// idempotent regardless of the append toggle.
type DbHandler struct {
	connection *pgx.Conn
}

func (dh *DbHandler) Setup(cfg *config.Config) {
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, cfg.DatabaseUrl)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
		return
	}
	dh.connection = conn
	if _, err := conn.Exec(ctx, schema); err != nil {
		log.Fatalf("Failed to create messages table: %v", err)
		return
	}
	var messageCount int64
	err = conn.QueryRow(ctx, "SELECT COUNT(*) FROM messages").Scan(&messageCount)
	if err != nil {
		log.Errorf("Error counting messages: %v", err)
		messageCount = -1
	}
	log.Infof(
		"Connected to database on %v with %v messages",
		dh.connection.Config().Host,
		messageCount,
	)
}

// AddMessages upserts the records for the target and returns the number of
// rows stored.
func (dh *DbHandler) AddMessages(ctx context.Context, target string, records []*fetch.Record) int {
	stored := 0
	for _, record := range records {
		_, err := dh.connection.Exec(ctx,
			`INSERT INTO messages (
				target, message_id, sender_name, sender_id, date,
				message, translated_message, media_path
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (target, message_id) DO UPDATE SET
				sender_name = excluded.sender_name,
				date = excluded.date,
				message = excluded.message,
				translated_message = excluded.translated_message,
				media_path = excluded.media_path`,
			target, record.MessageID, record.SenderName, record.SenderID,
			record.Date, record.Text, record.Translated, record.MediaPath,
		)
		if err != nil {
			log.Errorf("Error adding message %v to db: %v", record.MessageID, err)
			continue
		}
		stored++
	}
	return stored
}

func (dh *DbHandler) Stop(waitGroup *sync.WaitGroup) {
	if dh.connection != nil {
		err := dh.connection.Close(context.Background())
		if err != nil {
			log.Errorf("Failed to close database connection: %v", err)
		}
	}
	waitGroup.Done()
}
