package status

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS source_status (
	source     TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// sqlitePersistence stores one row per source with the status serialized as
// JSON. Chosen over per-column storage so the schema does not churn every
// time SourceStatus grows a field.
type sqlitePersistence struct {
	db *sql.DB
}

// NewSQLitePersistence opens (and if necessary creates) the database at path
// and ensures the schema exists.
func NewSQLitePersistence(path string) (Persistence, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open status database: %w", err)
	}

	// The driver serializes access per connection; a single connection
	// avoids SQLITE_BUSY under concurrent transitions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize status schema: %w", err)
	}
	return &sqlitePersistence{db: db}, nil
}

func (s *sqlitePersistence) Save(ctx context.Context, source string, status *SourceStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status for source %s: %w", source, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO source_status (source, status, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(source) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at
	`, source, string(data))
	if err != nil {
		return fmt.Errorf("failed to save status for source %s: %w", source, err)
	}
	return nil
}

func (s *sqlitePersistence) Load(ctx context.Context, source string) (*SourceStatus, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM source_status WHERE source = ?`, source,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return &SourceStatus{Phase: PhaseIdle}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load status for source %s: %w", source, err)
	}

	var status SourceStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status for source %s: %w", source, err)
	}
	return &status, nil
}

func (s *sqlitePersistence) LoadAll(ctx context.Context) (map[string]*SourceStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, status FROM source_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to load status rows: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*SourceStatus)
	for rows.Next() {
		var source, data string
		if err := rows.Scan(&source, &data); err != nil {
			return nil, fmt.Errorf("failed to scan status row: %w", err)
		}
		var status SourceStatus
		if err := json.Unmarshal([]byte(data), &status); err != nil {
			continue
		}
		result[source] = &status
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status rows: %w", err)
	}
	return result, nil
}

func (s *sqlitePersistence) Delete(ctx context.Context, source string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM source_status WHERE source = ?`, source,
	); err != nil {
		return fmt.Errorf("failed to delete status for source %s: %w", source, err)
	}
	return nil
}

func (s *sqlitePersistence) Close() error {
	return s.db.Close()
}
