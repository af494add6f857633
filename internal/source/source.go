// Package source defines the abstract mailbox-source contract consumed
// by the polling orchestrator, together with its error taxonomy.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/automail/automail/internal/model"
)

// TransientError marks a source failure that is expected to clear on
// its own (network hiccup, server busy). The current cycle aborts and
// the next cycle retries from unchanged durable state.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient source error (%s): %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a source failure that will not clear by retrying
// (bad credentials, folder not found). Monitoring of the affected
// mailbox stops and the condition is surfaced to the operator.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal source error (%s): %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err (or any error in its chain) is a
// FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Source is the mailbox collaborator contract. An implementation is
// bound to a single account; the orchestrator pairs each Source with
// its mailbox configuration.
type Source interface {
	// Newest returns the most recent message in the folder, or nil if
	// the folder is empty. Used once per mailbox to anchor the initial
	// checkpoint.
	Newest(ctx context.Context, folder string) (*model.Message, error)

	// ListSince returns all messages received at or after since. The
	// implementation may over-report (return older messages); the
	// orchestrator re-filters strictly against the checkpoint.
	ListSince(ctx context.Context, folder string, since time.Time) ([]model.Message, error)

	// AttachmentPayload fetches the byte content of one attachment.
	// The returned slice is borrowed for the duration of the delivery
	// attempt and must not be retained.
	AttachmentPayload(ctx context.Context, msg *model.Message, att model.Attachment) ([]byte, error)
}
