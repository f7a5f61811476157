// Package history records upload outcomes in a local SQLite database so
// batch and watch workflows can skip files that already went through.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/skyjamlabs/skyjam-go/internal/upload"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// busyTimeoutMS gives a second writer a chance instead of failing
// immediately; the single-writer assumption still holds per process.
const busyTimeoutMS = 5000

// Store is the upload-history database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the history database at path and applies
// pending migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busyTimeoutMS)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: opening %s: %w", path, err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// runMigrations applies all pending schema migrations. Uses the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	// Strip the "migrations/" prefix so goose sees files at the root of the FS.
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("history: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("history: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("history: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Record stores the outcome of one upload attempt, replacing any earlier
// record for the same file.
func (s *Store) Record(ctx context.Context, res upload.Result) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO uploads (filepath, success, reason, song_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(filepath) DO UPDATE SET
			success = excluded.success,
			reason = excluded.reason,
			song_id = excluded.song_id,
			uploaded_at = datetime('now')`,
		res.Filepath, boolInt(res.Success), res.Reason, res.SongID,
	)
	if err != nil {
		return fmt.Errorf("history: recording %s: %w", res.Filepath, err)
	}

	return nil
}

// Uploaded reports whether the file already has a successful upload record.
func (s *Store) Uploaded(ctx context.Context, filepath string) (bool, error) {
	var success int

	err := s.db.QueryRowContext(ctx,
		`SELECT success FROM uploads WHERE filepath = ?`, filepath,
	).Scan(&success)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("history: querying %s: %w", filepath, err)
	}

	return success != 0, nil
}

// Results returns all recorded outcomes, newest first.
func (s *Store) Results(ctx context.Context) ([]upload.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT filepath, success, reason, song_id
		FROM uploads
		ORDER BY uploaded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("history: listing: %w", err)
	}
	defer rows.Close()

	var results []upload.Result

	for rows.Next() {
		var (
			res     upload.Result
			success int
		)

		if err := rows.Scan(&res.Filepath, &success, &res.Reason, &res.SongID); err != nil {
			return nil, fmt.Errorf("history: scanning row: %w", err)
		}

		res.Success = success != 0
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating rows: %w", err)
	}

	return results, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
