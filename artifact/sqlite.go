package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Raas21/delay-prediction-api/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS model_artifacts (
	id             TEXT PRIMARY KEY,
	schema_version INTEGER NOT NULL,
	trained_at     INTEGER NOT NULL,
	sample_count   INTEGER NOT NULL,
	payload        BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_model_artifacts_version ON model_artifacts(schema_version);
`

// SQLiteStore keeps artifacts in a local SQLite file. trained_at is stored
// as unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, a *ModelArtifact) error {
	rec, err := ToRecord(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO model_artifacts (id, schema_version, trained_at, sample_count, payload)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.SchemaVersion, rec.TrainedAt.UnixNano(), rec.SampleCount, rec.Payload)
	if err != nil {
		return fmt.Errorf("insert artifact %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) LoadLatest(ctx context.Context) (*ModelArtifact, error) {
	var rec models.ArtifactRecord
	var trainedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, schema_version, trained_at, sample_count, payload
		FROM model_artifacts
		ORDER BY schema_version DESC, trained_at DESC
		LIMIT 1
	`).Scan(&rec.ID, &rec.SchemaVersion, &trainedAt, &rec.SampleCount, &rec.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.TrainedAt = time.Unix(0, trainedAt).UTC()
	return FromRecord(rec)
}

func (s *SQLiteStore) List(ctx context.Context, limit int, before *time.Time) ([]models.ArtifactRecord, error) {
	cutoff := int64(1<<63 - 1)
	if before != nil {
		cutoff = before.UnixNano()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schema_version, trained_at, sample_count
		FROM model_artifacts
		WHERE trained_at < ?
		ORDER BY trained_at DESC
		LIMIT ?
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ArtifactRecord
	for rows.Next() {
		var rec models.ArtifactRecord
		var trainedAt int64
		if err := rows.Scan(&rec.ID, &rec.SchemaVersion, &trainedAt, &rec.SampleCount); err != nil {
			return nil, err
		}
		rec.TrainedAt = time.Unix(0, trainedAt).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
