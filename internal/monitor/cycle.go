// Package monitor drives the detect-format-deliver cycle for monitored
// mailboxes and owns its exactly-once bookkeeping.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/automail/automail/internal/classify"
	"github.com/automail/automail/internal/deliver"
	"github.com/automail/automail/internal/format"
	"github.com/automail/automail/internal/model"
	"github.com/automail/automail/internal/source"
	"github.com/automail/automail/internal/store"
)

// deliveryTimeout bounds one message's delivery once its sends have
// started; at that point only this deadline, never external
// cancellation, can interrupt it.
const deliveryTimeout = 5 * time.Minute

// CycleReport summarizes one polling cycle for a mailbox. No error is
// swallowed without being reflected here.
type CycleReport struct {
	MailboxID string

	// Initialized is true when this cycle established the first
	// checkpoint; such a cycle never notifies (the pre-existing backlog
	// is deliberately skipped).
	Initialized bool

	Notified int
	Skipped  int
	Failed   int

	// Err is the first error that ended the cycle, if any.
	Err error
}

// Orchestrator runs polling cycles. It holds no message state across
// cycles; everything durable lives in the store, so a restart resumes
// from the last commit.
type Orchestrator struct {
	store        store.Store
	scheduler    *deliver.Scheduler
	logger       *zap.Logger
	messageLimit int
	now          func() time.Time
}

// NewOrchestrator creates an Orchestrator around the given store and
// delivery scheduler. messageLimit caps formatted payload size.
func NewOrchestrator(
	st store.Store,
	scheduler *deliver.Scheduler,
	messageLimit int,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:        st,
		scheduler:    scheduler,
		logger:       logger,
		messageLimit: messageLimit,
		now:          time.Now,
	}
}

// RunCycle executes one polling cycle for the mailbox: select genuinely
// new messages past the checkpoint, deliver them oldest-first, and
// commit a fingerprint per fully delivered message. A delivery failure
// aborts the cycle at that message so ordering and resumability are
// preserved; the next cycle retries from unchanged durable state.
func (o *Orchestrator) RunCycle(
	ctx context.Context,
	src source.Source,
	mb model.MailboxConfig,
) CycleReport {
	report := CycleReport{MailboxID: mb.ID}
	log := o.logger.With(zap.String("mailbox", mb.ID))

	cp, err := o.store.GetCheckpoint(ctx, mb.ID)
	if err != nil {
		report.Err = err
		return report
	}

	if cp == nil {
		return o.initializeMailbox(ctx, src, mb, log)
	}

	listed, err := src.ListSince(ctx, mb.Folder, cp.ReferenceTime)
	if err != nil {
		report.Err = err
		return report
	}

	candidates, err := o.selectCandidates(ctx, listed, cp)
	if err != nil {
		report.Err = err
		return report
	}

	log.Debug("cycle candidates selected",
		zap.Int("listed", len(listed)),
		zap.Int("candidates", len(candidates)),
	)

	for _, msg := range candidates {
		// Shutdown is honored between messages only, never mid-message,
		// so cancellation cannot leave a message half-notified.
		select {
		case <-ctx.Done():
			report.Err = ctx.Err()
			return report
		default:
		}

		notified, err := o.processMessage(ctx, src, mb, cp, &msg, log)
		if err != nil {
			report.Failed++
			report.Err = err
			return report
		}
		if notified {
			report.Notified++
		} else {
			report.Skipped++
		}
	}

	return report
}

// initializeMailbox anchors the first checkpoint at the newest existing
// message. Nothing from the pre-existing backlog is notified.
func (o *Orchestrator) initializeMailbox(
	ctx context.Context,
	src source.Source,
	mb model.MailboxConfig,
	log *zap.Logger,
) CycleReport {
	report := CycleReport{MailboxID: mb.ID}

	newest, err := src.Newest(ctx, mb.Folder)
	if err != nil {
		report.Err = err
		return report
	}
	if newest == nil {
		// Empty folder: nothing to anchor on yet. The next cycle with
		// mail present will initialize.
		log.Info("mailbox empty, checkpoint deferred")
		return report
	}

	err = o.store.InitializeCheckpoint(
		ctx, mb.ID, newest.UniqueID, newest.ReceivedAt,
	)
	if err != nil {
		report.Err = err
		return report
	}

	report.Initialized = true
	log.Info("checkpoint initialized",
		zap.String("reference_id", newest.UniqueID),
		zap.Time("reference_time", newest.ReceivedAt),
	)
	return report
}

// selectCandidates re-filters the listed messages strictly against the
// checkpoint and orders them oldest first. A message at exactly the
// reference time survives only if it is a different message than the
// reference and has no fingerprint; timestamp ties are broken by
// fingerprint presence, never by recency.
func (o *Orchestrator) selectCandidates(
	ctx context.Context,
	listed []model.Message,
	cp *model.Checkpoint,
) ([]model.Message, error) {
	var candidates []model.Message
	for _, msg := range listed {
		switch {
		case msg.ReceivedAt.After(cp.ReferenceTime):
			candidates = append(candidates, msg)
		case msg.ReceivedAt.Equal(cp.ReferenceTime) && msg.UniqueID != cp.ReferenceID:
			seen, err := o.store.HasFingerprint(ctx, msg.MailboxID, msg.UniqueID)
			if err != nil {
				return nil, err
			}
			if !seen {
				candidates = append(candidates, msg)
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].ReceivedAt.Equal(candidates[j].ReceivedAt) {
			return candidates[i].ReceivedAt.Before(candidates[j].ReceivedAt)
		}
		return candidates[i].UniqueID < candidates[j].UniqueID
	})

	return candidates, nil
}

// processMessage formats, delivers, and records one message. It returns
// (false, nil) when the message was already fingerprinted, (true, nil)
// after a fully successful notification, and an error when the cycle
// must abort at this message.
func (o *Orchestrator) processMessage(
	ctx context.Context,
	src source.Source,
	mb model.MailboxConfig,
	cp *model.Checkpoint,
	msg *model.Message,
	log *zap.Logger,
) (bool, error) {
	// Defensive re-check: a crash after commit but before checkpoint
	// advance leaves fingerprinted messages in the candidate window.
	seen, err := o.store.HasFingerprint(ctx, msg.MailboxID, msg.UniqueID)
	if err != nil {
		return false, err
	}
	if seen {
		log.Debug("message already notified, skipping",
			zap.String("unique_id", msg.UniqueID),
		)
		return false, nil
	}

	payload, err := format.Build(
		msg.Sender, msg.Subject, msg.Body, o.messageLimit,
	)
	if err != nil {
		// Only possible when the configured limit cannot even hold the
		// header: a configuration error, not a data error.
		return false, fmt.Errorf("formatting message %s: %w", msg.UniqueID, err)
	}

	files, err := o.collectFiles(ctx, src, msg, log)
	if err != nil {
		return false, err
	}

	// External cancellation is only honored between messages. Once the
	// first send may have gone out, the message runs to completion under
	// its own deadline; aborting here would leave it delivered in part
	// with no fingerprint.
	dctx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx), deliveryTimeout,
	)
	defer cancel()

	err = o.scheduler.Deliver(dctx, mb.ChatID, payload.Text, files)
	if err != nil {
		return false, fmt.Errorf("delivering message %s: %w", msg.UniqueID, err)
	}

	if err := o.store.CommitFingerprint(
		dctx, msg.MailboxID, msg.UniqueID, o.now(),
	); err != nil {
		return false, err
	}

	// Advance only for strictly newer messages: moving the checkpoint
	// onto a shared timestamp could hide a not-yet-seen message with
	// that same timestamp. Fingerprints cover the tie case.
	if msg.ReceivedAt.After(cp.ReferenceTime) {
		if err := o.store.AdvanceCheckpoint(
			dctx, msg.MailboxID, msg.UniqueID, msg.ReceivedAt,
		); err != nil {
			return false, err
		}
		cp.ReferenceID = msg.UniqueID
		cp.ReferenceTime = msg.ReceivedAt
	}

	// Audit only; the fingerprint above is the correctness record.
	if err := o.store.RecordDelivery(dctx, model.Delivery{
		MailboxID:       msg.MailboxID,
		UniqueID:        msg.UniqueID,
		Sender:          msg.Sender,
		Subject:         msg.Subject,
		AttachmentCount: len(files),
		NotifiedAt:      o.now(),
	}); err != nil {
		log.Warn("recording delivery audit entry failed", zap.Error(err))
	}

	log.Info("message notified",
		zap.String("unique_id", msg.UniqueID),
		zap.String("subject", msg.Subject),
		zap.Int("attachments", len(files)),
	)
	return true, nil
}

// collectFiles classifies the message's attachments and fetches the
// payloads of the eligible ones, preserving their original order.
func (o *Orchestrator) collectFiles(
	ctx context.Context,
	src source.Source,
	msg *model.Message,
	log *zap.Logger,
) ([]deliver.File, error) {
	var files []deliver.File
	caption := format.Caption(msg.Sender, msg.Subject)

	for _, att := range msg.Attachments {
		res := classify.Classify(att.RawName)
		if !res.Eligible {
			log.Debug("attachment excluded",
				zap.String("unique_id", msg.UniqueID),
				zap.String("name", att.RawName),
				zap.String("reason", res.Reason),
			)
			continue
		}

		data, err := src.AttachmentPayload(ctx, msg, att)
		if err != nil {
			return nil, fmt.Errorf(
				"fetching attachment %s of %s: %w",
				res.Name, msg.UniqueID, err,
			)
		}

		files = append(files, deliver.File{
			Name:    res.Name,
			Data:    data,
			Caption: caption,
		})
	}

	return files, nil
}
