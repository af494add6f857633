// Package imapsource implements the mailbox-source contract against an
// IMAP server using go-imap v2.
package imapsource

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/automail/automail/internal/model"
	"github.com/automail/automail/internal/source"
)

// Adapter implements source.Source for one IMAP account.
type Adapter struct {
	conn      imapConn
	mailboxID string
	folder    string
	logger    *zap.Logger
}

// NewAdapter creates an IMAP source bound to the given mailbox.
func NewAdapter(mb model.MailboxConfig, password string, logger *zap.Logger) *Adapter {
	return &Adapter{
		conn: imapConn{
			host:     mb.Host,
			port:     mb.Port,
			username: mb.Username,
			password: password,
			tls:      mb.TLS,
		},
		mailboxID: mb.ID,
		folder:    mb.Folder,
		logger:    logger.With(zap.String("mailbox", mb.ID)),
	}
}

// Newest returns the most recent message in the folder, or nil when the
// folder is empty.
func (a *Adapter) Newest(
	ctx context.Context,
	folder string,
) (*model.Message, error) {
	client, err := a.conn.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if err := selectFolder(client, folder); err != nil {
		return nil, err
	}

	uids, err := searchUIDs(client, &imap.SearchCriteria{})
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	// UIDs ascend with arrival; the last one is the newest message.
	parsed, err := fetchFull(client, uids[len(uids)-1:], a.logger)
	if err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		return nil, &source.TransientError{
			Op:  "newest",
			Err: fmt.Errorf("newest message vanished during fetch"),
		}
	}

	return a.toMessage(parsed[0]), nil
}

// ListSince returns the messages received on or after since. IMAP
// SINCE has date granularity, so the result over-reports by up to a
// day; the orchestrator re-filters strictly.
func (a *Adapter) ListSince(
	ctx context.Context,
	folder string,
	since time.Time,
) ([]model.Message, error) {
	client, err := a.conn.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if err := selectFolder(client, folder); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{
		Since: since.Truncate(24 * time.Hour),
	}
	uids, err := searchUIDs(client, criteria)
	if err != nil {
		return nil, err
	}

	parsed, err := fetchFull(client, uids, a.logger)
	if err != nil {
		return nil, err
	}

	messages := make([]model.Message, 0, len(parsed))
	for _, p := range parsed {
		messages = append(messages, *a.toMessage(p))
	}
	return messages, nil
}

// AttachmentPayload re-fetches the message and returns the decoded
// content of the attachment identified by att.Ref.
func (a *Adapter) AttachmentPayload(
	ctx context.Context,
	msg *model.Message,
	att model.Attachment,
) ([]byte, error) {
	uid, index, err := parseAttachmentRef(att.Ref)
	if err != nil {
		return nil, &source.FatalError{Op: "attachment", Err: err}
	}

	client, err := a.conn.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	// Attachments live in the folder the message was listed from; the
	// Ref does not carry it, so the configured folder is assumed.
	if err := selectFolder(client, a.folder); err != nil {
		return nil, err
	}

	parsed, err := fetchFull(client, []imap.UID{imap.UID(uid)}, a.logger)
	if err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		return nil, &source.TransientError{
			Op:  "attachment",
			Err: fmt.Errorf("message %s no longer present", msg.UniqueID),
		}
	}

	parts := parsed[0].Attachments
	if index >= len(parts) {
		return nil, &source.TransientError{
			Op: "attachment",
			Err: fmt.Errorf(
				"attachment %d of %s out of range (%d parts)",
				index, msg.UniqueID, len(parts),
			),
		}
	}

	return parts[index].Content, nil
}

// toMessage converts a parsed IMAP message into the source-neutral
// message model.
func (a *Adapter) toMessage(p *parsedMessage) *model.Message {
	body := p.TextBody
	if body == "" && p.HTMLBody != "" {
		body = stripHTML(p.HTMLBody)
	}

	uniqueID := p.Envelope.MessageID
	if uniqueID == "" {
		uniqueID = fmt.Sprintf("uid-%d", p.Envelope.UID)
	}

	attachments := make([]model.Attachment, 0, len(p.Attachments))
	for i, part := range p.Attachments {
		attachments = append(attachments, model.Attachment{
			RawName:       part.Filename,
			MediaTypeHint: part.MIMEType,
			Ref:           attachmentRef(p.Envelope.UID, i),
		})
	}

	return &model.Message{
		MailboxID:   a.mailboxID,
		UniqueID:    uniqueID,
		ReceivedAt:  p.Envelope.Date,
		Sender:      p.Envelope.From,
		Subject:     p.Envelope.Subject,
		Body:        body,
		Attachments: attachments,
	}
}

// searchUIDs runs a UID SEARCH and returns the matching UIDs in
// ascending order.
func searchUIDs(
	client *imapclient.Client,
	criteria *imap.SearchCriteria,
) ([]imap.UID, error) {
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, &source.TransientError{
			Op:  "search",
			Err: fmt.Errorf("searching messages: %w", err),
		}
	}
	return searchData.AllUIDs(), nil
}

// attachmentRef encodes the (UID, part index) pair used to re-locate an
// attachment payload.
func attachmentRef(uid uint32, index int) string {
	return fmt.Sprintf("%d:%d", uid, index)
}

// parseAttachmentRef decodes a ref produced by attachmentRef.
func parseAttachmentRef(ref string) (uint32, int, error) {
	uidStr, idxStr, ok := strings.Cut(ref, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed attachment ref %q", ref)
	}
	uid, err := strconv.ParseUint(uidStr, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed attachment ref %q: %w", ref, err)
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 {
		return 0, 0, fmt.Errorf("malformed attachment ref %q", ref)
	}
	return uint32(uid), idx, nil
}
