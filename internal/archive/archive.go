// Package archive keeps a local record of every acquired dataset for
// offline inspection and replay. Writes are best-effort: an archive failure
// is logged, never surfaced to the request that produced the dataset.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/farmnav/climate-cache/internal/climate/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS datasets (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	key        TEXT NOT NULL,
	latitude   REAL NOT NULL,
	longitude  REAL NOT NULL,
	start_date TEXT NOT NULL,
	end_date   TEXT NOT NULL,
	source     TEXT NOT NULL,
	synthetic  INTEGER NOT NULL,
	fetched_at TEXT NOT NULL,
	payload    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_datasets_key ON datasets(key);
`

type Archive struct {
	db  *sqlx.DB
	log *slog.Logger
}

// Row is one archived acquisition.
type Row struct {
	ID        int64   `db:"id"`
	Key       string  `db:"key"`
	Latitude  float64 `db:"latitude"`
	Longitude float64 `db:"longitude"`
	StartDate string  `db:"start_date"`
	EndDate   string  `db:"end_date"`
	Source    string  `db:"source"`
	Synthetic bool    `db:"synthetic"`
	FetchedAt string  `db:"fetched_at"` // RFC3339
	Payload   string  `db:"payload"`
}

// Open opens or creates the sqlite archive at path.
func Open(path string, log *slog.Logger) (*Archive, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &Archive{db: db, log: log}, nil
}

// Record stores one acquisition. Implements the facade's Recorder seam.
func (a *Archive) Record(ctx context.Context, key string, q model.Query, ds model.Dataset, src model.Source) {
	payload, err := json.Marshal(ds.Records)
	if err != nil {
		a.log.LogAttrs(ctx, slog.LevelWarn, "archive encode", slog.String("err", err.Error()))
		return
	}

	// detach from the request so a cancelled caller does not lose the row
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	_, err = a.db.ExecContext(wctx,
		`INSERT INTO datasets (key, latitude, longitude, start_date, end_date, source, synthetic, fetched_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key, q.Latitude, q.Longitude,
		q.Start.Format(time.DateOnly), q.End.Format(time.DateOnly),
		string(src), ds.Synthetic, ds.FetchedAt.Format(time.RFC3339), string(payload),
	)
	if err != nil {
		a.log.LogAttrs(ctx, slog.LevelWarn, "archive insert",
			slog.String("key", key), slog.String("err", err.Error()))
	}
}

// Recent returns the newest n archived acquisitions.
func (a *Archive) Recent(ctx context.Context, n int) ([]Row, error) {
	if n <= 0 {
		n = 20
	}
	var rows []Row
	err := a.db.SelectContext(ctx, &rows,
		`SELECT id, key, latitude, longitude, start_date, end_date, source, synthetic, fetched_at, payload
		 FROM datasets ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("select recent: %w", err)
	}
	return rows, nil
}

func (a *Archive) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}
