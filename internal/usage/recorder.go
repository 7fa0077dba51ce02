// Package usage records per-call token consumption in a local SQLite
// database and answers aggregate queries over it.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/llmc-dev/llmc/internal/llm"
)

const dbFilename = "usage.db"

const schema = `
CREATE TABLE IF NOT EXISTS usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_provider ON usage(provider);
CREATE INDEX IF NOT EXISTS idx_usage_recorded_at ON usage(recorded_at);
`

// Recorder persists one row per completed call.
type Recorder struct {
	db *sql.DB
}

func Open(baseDir string) (*Recorder, error) {
	db, err := sql.Open("sqlite", filepath.Join(baseDir, dbFilename))
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}

	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent recording.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init usage schema: %w", err)
	}

	return &Recorder{db: db}, nil
}

func (r *Recorder) Close() error {
	return r.db.Close()
}

func (r *Recorder) Record(ctx context.Context, provider, model string, usage llm.Usage) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO usage (provider, model, input_tokens, output_tokens, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		provider, model, usage.InputTokens, usage.OutputTokens, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}

	return nil
}

// Row is one aggregate line of the usage report.
type Row struct {
	Provider     string
	Model        string
	Calls        int
	InputTokens  int
	OutputTokens int
}

// Summary aggregates usage per provider and model since the given time.
// A zero since covers everything.
func (r *Recorder) Summary(ctx context.Context, since time.Time) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT provider, model, COUNT(*), SUM(input_tokens), SUM(output_tokens)
		 FROM usage
		 WHERE recorded_at >= ?
		 GROUP BY provider, model
		 ORDER BY provider, model`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var out []Row

	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.Provider, &row.Model, &row.Calls, &row.InputTokens, &row.OutputTokens); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}

		out = append(out, row)
	}

	return out, rows.Err()
}
