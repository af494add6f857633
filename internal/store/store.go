package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/automail/automail/internal/model"
)

// ErrCheckpointExists is returned by InitializeCheckpoint when the
// mailbox already has a checkpoint; an existing boundary must never be
// silently overwritten.
var ErrCheckpointExists = errors.New("checkpoint already exists")

// StorageError wraps a failure of the durable state layer. Storage
// failures are fatal to the process: once state integrity is in doubt,
// continuing risks duplicate or lost notifications.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s): %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err (or any error in its chain) is a
// StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Store defines the persistence interface for message fingerprints,
// per-mailbox checkpoints, and the delivery audit log. A single writer
// process is assumed; concurrent reads during a write are supported by
// the SQLite implementation (WAL mode).
type Store interface {
	// === Fingerprints ===

	// HasFingerprint reports whether the message was already fully
	// notified.
	HasFingerprint(ctx context.Context, mailboxID, uniqueID string) (bool, error)

	// CommitFingerprint durably marks the message as notified. It is
	// idempotent: committing the same (mailboxID, uniqueID) twice is a
	// no-op, so a crash between commit and checkpoint advance is safe
	// to replay.
	CommitFingerprint(ctx context.Context, mailboxID, uniqueID string, notifiedAt time.Time) error

	// === Checkpoints ===

	// GetCheckpoint returns the mailbox checkpoint, or nil if the
	// mailbox has never been polled.
	GetCheckpoint(ctx context.Context, mailboxID string) (*model.Checkpoint, error)

	// InitializeCheckpoint records the first-ever checkpoint for a
	// mailbox. Returns ErrCheckpointExists if one is already present.
	InitializeCheckpoint(ctx context.Context, mailboxID, referenceID string, referenceTime time.Time) error

	// AdvanceCheckpoint moves the checkpoint forward. A call with a
	// referenceTime older than the stored one is a guarded no-op, so
	// the stored reference time is monotonic non-decreasing.
	AdvanceCheckpoint(ctx context.Context, mailboxID, referenceID string, referenceTime time.Time) error

	// === Delivery log ===

	RecordDelivery(ctx context.Context, d model.Delivery) error
	RecentDeliveries(ctx context.Context, limit int) ([]model.Delivery, error)

	Close() error
}
