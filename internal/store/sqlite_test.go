package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/automail/automail/internal/model"
)

func modelDelivery(i int, base time.Time) model.Delivery {
	return model.Delivery{
		MailboxID:       "work",
		UniqueID:        fmt.Sprintf("<msg-%d@example.com>", i),
		Sender:          "Alice <alice@example.com>",
		Subject:         fmt.Sprintf("Report %d", i),
		AttachmentCount: i,
		NotifiedAt:      base.Add(time.Duration(i) * time.Minute),
	}
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCommitFingerprintIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	seen, err := s.HasFingerprint(ctx, "work", "<msg-1@example.com>")
	if err != nil {
		t.Fatalf("HasFingerprint: %v", err)
	}
	if seen {
		t.Fatal("fingerprint reported before any commit")
	}

	if err := s.CommitFingerprint(ctx, "work", "<msg-1@example.com>", now); err != nil {
		t.Fatalf("CommitFingerprint: %v", err)
	}
	if err := s.CommitFingerprint(ctx, "work", "<msg-1@example.com>", now.Add(time.Hour)); err != nil {
		t.Fatalf("CommitFingerprint (repeat): %v", err)
	}

	seen, err = s.HasFingerprint(ctx, "work", "<msg-1@example.com>")
	if err != nil {
		t.Fatalf("HasFingerprint: %v", err)
	}
	if !seen {
		t.Fatal("fingerprint not found after commit")
	}
}

func TestFingerprintScopedByMailbox(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CommitFingerprint(ctx, "work", "<shared@example.com>", time.Now()); err != nil {
		t.Fatalf("CommitFingerprint: %v", err)
	}

	seen, err := s.HasFingerprint(ctx, "personal", "<shared@example.com>")
	if err != nil {
		t.Fatalf("HasFingerprint: %v", err)
	}
	if seen {
		t.Fatal("fingerprint leaked across mailboxes")
	}
}

func TestInitializeCheckpointOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ref := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	cp, err := s.GetCheckpoint(ctx, "work")
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if cp != nil {
		t.Fatal("checkpoint present before initialization")
	}

	if err := s.InitializeCheckpoint(ctx, "work", "<first@example.com>", ref); err != nil {
		t.Fatalf("InitializeCheckpoint: %v", err)
	}

	err = s.InitializeCheckpoint(ctx, "work", "<other@example.com>", ref.Add(time.Hour))
	if !errors.Is(err, ErrCheckpointExists) {
		t.Fatalf("second InitializeCheckpoint: got %v, want ErrCheckpointExists", err)
	}

	cp, err = s.GetCheckpoint(ctx, "work")
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if cp == nil {
		t.Fatal("checkpoint missing after initialization")
	}
	if cp.ReferenceID != "<first@example.com>" {
		t.Errorf("ReferenceID = %q, want the original reference", cp.ReferenceID)
	}
	if !cp.ReferenceTime.Equal(ref) {
		t.Errorf("ReferenceTime = %v, want %v", cp.ReferenceTime, ref)
	}
}

func TestAdvanceCheckpointMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ref := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if err := s.InitializeCheckpoint(ctx, "work", "<a@example.com>", ref); err != nil {
		t.Fatalf("InitializeCheckpoint: %v", err)
	}

	if err := s.AdvanceCheckpoint(ctx, "work", "<b@example.com>", ref.Add(time.Hour)); err != nil {
		t.Fatalf("AdvanceCheckpoint: %v", err)
	}

	// Older reference time must not move the checkpoint backwards.
	if err := s.AdvanceCheckpoint(ctx, "work", "<stale@example.com>", ref.Add(-time.Hour)); err != nil {
		t.Fatalf("AdvanceCheckpoint (stale): %v", err)
	}

	cp, err := s.GetCheckpoint(ctx, "work")
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if cp.ReferenceID != "<b@example.com>" {
		t.Errorf("ReferenceID = %q, want <b@example.com>", cp.ReferenceID)
	}
	if !cp.ReferenceTime.Equal(ref.Add(time.Hour)) {
		t.Errorf("ReferenceTime = %v, want %v", cp.ReferenceTime, ref.Add(time.Hour))
	}
}

func TestAdvanceCheckpointRequiresInitialization(t *testing.T) {
	s := newTestStore(t)

	err := s.AdvanceCheckpoint(context.Background(), "ghost", "<x@example.com>", time.Now())
	if err == nil {
		t.Fatal("AdvanceCheckpoint succeeded for an uninitialized mailbox")
	}
	if !IsStorageError(err) {
		t.Errorf("got %v, want a StorageError", err)
	}
}

func TestRecordAndListDeliveries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		err := s.RecordDelivery(ctx, modelDelivery(i, base))
		if err != nil {
			t.Fatalf("RecordDelivery %d: %v", i, err)
		}
	}

	got, err := s.RecentDeliveries(ctx, 2)
	if err != nil {
		t.Fatalf("RecentDeliveries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d deliveries, want 2", len(got))
	}
	if got[0].UniqueID != "<msg-2@example.com>" || got[1].UniqueID != "<msg-1@example.com>" {
		t.Errorf("deliveries not newest first: %q, %q", got[0].UniqueID, got[1].UniqueID)
	}
	if got[0].ID == "" {
		t.Error("delivery stored without a generated id")
	}
	if got[0].AttachmentCount != 2 {
		t.Errorf("AttachmentCount = %d, want 2", got[0].AttachmentCount)
	}
}
