package model

import "time"

// Message is a single mailbox message as observed by a mailbox source.
// It is immutable once read; only UniqueID and ReceivedAt survive a
// successful notification (inside the fingerprint and checkpoint tables).
type Message struct {
	// MailboxID identifies the account/store the message belongs to.
	MailboxID string

	// UniqueID is opaque, unique within a mailbox, and stable across
	// reconnects (Message-ID header or a UID-derived fallback).
	UniqueID string

	// ReceivedAt orders messages within a mailbox. The source may only
	// provide second resolution, so two messages can share a timestamp.
	ReceivedAt time.Time

	Sender  string
	Subject string
	Body    string

	// Attachments are listed in their original MIME order. Payloads are
	// fetched lazily through the source, never held on the Message.
	Attachments []Attachment
}

// Attachment is metadata for a single message attachment. The payload
// is owned by the mailbox source and borrowed only for the duration of
// a delivery attempt.
type Attachment struct {
	// RawName is the filename as declared by the sender; it may contain
	// control characters, path separators, or be empty.
	RawName string

	// MediaTypeHint is the declared MIME type, when available.
	MediaTypeHint string

	// Ref is the source-specific handle used to fetch the payload
	// (for IMAP, the message UID).
	Ref string
}

// Checkpoint marks, per mailbox, the boundary between historical
// messages (ignored) and new messages (considered for notification).
type Checkpoint struct {
	MailboxID     string    `db:"mailbox_id"`
	ReferenceID   string    `db:"reference_id"`
	ReferenceTime time.Time `db:"reference_time"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Delivery is an audit record of one fully notified message. It is
// informational only; the fingerprint table carries the correctness
// guarantee.
type Delivery struct {
	ID              string    `db:"id"`
	MailboxID       string    `db:"mailbox_id"`
	UniqueID        string    `db:"unique_id"`
	Sender          string    `db:"sender"`
	Subject         string    `db:"subject"`
	AttachmentCount int       `db:"attachment_count"`
	NotifiedAt      time.Time `db:"notified_at"`
}
