package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/automail/automail/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// HasFingerprint reports whether a fingerprint exists for the message.
func (s *SQLiteStore) HasFingerprint(
	ctx context.Context,
	mailboxID, uniqueID string,
) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM fingerprints WHERE mailbox_id = ? AND unique_id = ?",
		mailboxID, uniqueID,
	)
	if err != nil {
		return false, &StorageError{Op: "has fingerprint", Err: err}
	}
	return count > 0, nil
}

// CommitFingerprint marks a message as fully notified. Re-committing an
// existing key leaves the original row untouched.
func (s *SQLiteStore) CommitFingerprint(
	ctx context.Context,
	mailboxID, uniqueID string,
	notifiedAt time.Time,
) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO fingerprints (mailbox_id, unique_id, notified_at)
		VALUES (?, ?, ?)`,
		mailboxID, uniqueID, notifiedAt.UTC(),
	)
	if err != nil {
		return &StorageError{Op: "commit fingerprint", Err: err}
	}
	return nil
}

// GetCheckpoint retrieves the checkpoint for a mailbox, or nil if the
// mailbox has never been initialized.
func (s *SQLiteStore) GetCheckpoint(
	ctx context.Context,
	mailboxID string,
) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := s.db.GetContext(ctx, &cp,
		"SELECT * FROM checkpoints WHERE mailbox_id = ?", mailboxID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get checkpoint", Err: err}
	}
	return &cp, nil
}

// InitializeCheckpoint records the first checkpoint for a mailbox. An
// existing checkpoint is never overwritten.
func (s *SQLiteStore) InitializeCheckpoint(
	ctx context.Context,
	mailboxID, referenceID string,
	referenceTime time.Time,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "initialize checkpoint", Err: err}
	}
	defer tx.Rollback()

	var count int
	err = tx.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM checkpoints WHERE mailbox_id = ?", mailboxID,
	)
	if err != nil {
		return &StorageError{Op: "initialize checkpoint", Err: err}
	}
	if count > 0 {
		return ErrCheckpointExists
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (mailbox_id, reference_id, reference_time, updated_at)
		VALUES (?, ?, ?, ?)`,
		mailboxID, referenceID, referenceTime.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return &StorageError{Op: "initialize checkpoint", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "initialize checkpoint", Err: err}
	}
	return nil
}

// AdvanceCheckpoint moves the checkpoint forward. Calls that would move
// the reference time backwards are ignored, keeping the stored value
// monotonic non-decreasing.
func (s *SQLiteStore) AdvanceCheckpoint(
	ctx context.Context,
	mailboxID, referenceID string,
	referenceTime time.Time,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "advance checkpoint", Err: err}
	}
	defer tx.Rollback()

	var cp model.Checkpoint
	err = tx.GetContext(ctx, &cp,
		"SELECT * FROM checkpoints WHERE mailbox_id = ?", mailboxID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &StorageError{
			Op:  "advance checkpoint",
			Err: fmt.Errorf("mailbox %s has no checkpoint", mailboxID),
		}
	}
	if err != nil {
		return &StorageError{Op: "advance checkpoint", Err: err}
	}

	// Monotonicity guard: never move the reference time backwards.
	if referenceTime.Before(cp.ReferenceTime) {
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE checkpoints
		SET reference_id = ?, reference_time = ?, updated_at = ?
		WHERE mailbox_id = ?`,
		referenceID, referenceTime.UTC(), time.Now().UTC(), mailboxID,
	)
	if err != nil {
		return &StorageError{Op: "advance checkpoint", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "advance checkpoint", Err: err}
	}
	return nil
}

// RecordDelivery inserts a delivery audit record. If the record has no
// ID, a new UUID is generated.
func (s *SQLiteStore) RecordDelivery(
	ctx context.Context,
	d model.Delivery,
) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (
			id, mailbox_id, unique_id, sender, subject, attachment_count, notified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.MailboxID, d.UniqueID, d.Sender, d.Subject,
		d.AttachmentCount, d.NotifiedAt.UTC(),
	)
	if err != nil {
		return &StorageError{Op: "record delivery", Err: err}
	}
	return nil
}

// RecentDeliveries retrieves the most recent delivery records, newest
// first.
func (s *SQLiteStore) RecentDeliveries(
	ctx context.Context,
	limit int,
) ([]model.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM deliveries ORDER BY notified_at DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, &StorageError{Op: "recent deliveries", Err: err}
	}
	defer rows.Close()

	var deliveries []model.Delivery
	for rows.Next() {
		var d model.Delivery
		if err := rows.StructScan(&d); err != nil {
			return nil, &StorageError{Op: "recent deliveries", Err: err}
		}
		deliveries = append(deliveries, d)
	}

	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "recent deliveries", Err: err}
	}
	return deliveries, nil
}
