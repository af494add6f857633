package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/automail/automail/internal/model"
	"github.com/automail/automail/internal/source"
	"github.com/automail/automail/internal/store"
)

// PollState represents the current state of a mailbox polling loop.
type PollState int

const (
	PollIdle PollState = iota
	PollRunning
	PollError
	PollStopped
)

// PollStatus holds the polling state for a single mailbox.
type PollStatus struct {
	MailboxID string
	State     PollState
	LastCycle time.Time
	Error     error
}

// cycleTimeout is the maximum time allowed for a single polling cycle.
const cycleTimeout = 5 * time.Minute

// mailboxEntry holds a registered source adapter and its configuration.
type mailboxEntry struct {
	src source.Source
	cfg model.MailboxConfig
}

// Poller runs the polling loop for every registered mailbox, each in
// its own goroutine. Mailboxes are independent: a fatal source error
// stops only the affected loop, while a storage error stops the whole
// poller because durable state can no longer be trusted.
type Poller struct {
	orchestrator *Orchestrator
	logger       *zap.Logger

	mailboxes []mailboxEntry
	statuses  map[string]*PollStatus
	triggers  map[string]chan struct{}
	fatalCh   chan error
	mu        sync.Mutex
}

// NewPoller creates a Poller that runs cycles through the given
// orchestrator.
func NewPoller(o *Orchestrator, logger *zap.Logger) *Poller {
	return &Poller{
		orchestrator: o,
		logger:       logger,
		statuses:     make(map[string]*PollStatus),
		triggers:     make(map[string]chan struct{}),
		fatalCh:      make(chan error, 1),
	}
}

// Register adds a mailbox and its source adapter to the poller.
func (p *Poller) Register(src source.Source, cfg model.MailboxConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.mailboxes = append(p.mailboxes, mailboxEntry{src: src, cfg: cfg})
	p.statuses[cfg.ID] = &PollStatus{MailboxID: cfg.ID, State: PollIdle}
	p.triggers[cfg.ID] = make(chan struct{}, 1)
}

// Run starts a polling goroutine per registered mailbox and blocks
// until ctx is canceled or a storage failure makes continuing unsafe.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	mailboxes := make([]mailboxEntry, len(p.mailboxes))
	copy(mailboxes, p.mailboxes)
	p.mu.Unlock()

	if len(mailboxes) == 0 {
		return fmt.Errorf("no mailboxes registered")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, entry := range mailboxes {
		wg.Add(1)
		go func(entry mailboxEntry) {
			defer wg.Done()
			p.pollMailbox(ctx, entry)
		}(entry)
	}

	var fatal error
	select {
	case <-ctx.Done():
	case fatal = <-p.fatalCh:
		// A storage failure in one mailbox poisons durable state for
		// all of them; stop everything.
		cancel()
	}

	wg.Wait()
	return fatal
}

// RunOnce executes a single cycle for every registered mailbox,
// sequentially, and returns the per-mailbox reports.
func (p *Poller) RunOnce(ctx context.Context) []CycleReport {
	p.mu.Lock()
	mailboxes := make([]mailboxEntry, len(p.mailboxes))
	copy(mailboxes, p.mailboxes)
	p.mu.Unlock()

	reports := make([]CycleReport, 0, len(mailboxes))
	for _, entry := range mailboxes {
		reports = append(reports, p.runCycle(ctx, entry))
	}
	return reports
}

// Trigger requests an immediate cycle for a mailbox, ahead of its
// ticker. A trigger for a mailbox with one already pending is dropped.
func (p *Poller) Trigger(mailboxID string) {
	p.mu.Lock()
	ch, ok := p.triggers[mailboxID]
	p.mu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- struct{}{}:
	default:
	}
}

// TriggerAll requests an immediate cycle for every registered mailbox.
func (p *Poller) TriggerAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.triggers))
	for id := range p.triggers {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Trigger(id)
	}
}

// Statuses returns a snapshot of every mailbox's polling status.
func (p *Poller) Statuses() []PollStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]PollStatus, 0, len(p.statuses))
	for _, s := range p.statuses {
		statuses = append(statuses, *s)
	}
	return statuses
}

// pollMailbox runs the polling loop for a single mailbox.
func (p *Poller) pollMailbox(ctx context.Context, entry mailboxEntry) {
	interval := time.Duration(entry.cfg.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 120 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.mu.Lock()
	trigger := p.triggers[entry.cfg.ID]
	p.mu.Unlock()

	if stop := p.cycleAndClassify(ctx, entry); stop {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stop := p.cycleAndClassify(ctx, entry); stop {
				return
			}
		case <-trigger:
			if stop := p.cycleAndClassify(ctx, entry); stop {
				return
			}
		}
	}
}

// cycleAndClassify runs one cycle and decides how its outcome affects
// the loop: storage errors escalate to the whole poller, fatal source
// errors stop this mailbox, everything else is logged and retried on
// the next tick.
func (p *Poller) cycleAndClassify(ctx context.Context, entry mailboxEntry) (stop bool) {
	report := p.runCycle(ctx, entry)
	if report.Err == nil {
		return false
	}

	log := p.logger.With(zap.String("mailbox", entry.cfg.ID))

	switch {
	case store.IsStorageError(report.Err):
		p.setStatus(entry.cfg.ID, PollError, report.Err)
		log.Error("storage failure, stopping all polling", zap.Error(report.Err))
		select {
		case p.fatalCh <- report.Err:
		default:
		}
		return true

	case source.IsFatal(report.Err):
		p.setStatus(entry.cfg.ID, PollStopped, report.Err)
		log.Error("fatal mailbox error, stopping this mailbox",
			zap.Error(report.Err))
		return true

	case ctx.Err() != nil:
		return true

	default:
		p.setStatus(entry.cfg.ID, PollError, report.Err)
		log.Warn("cycle failed, will retry next interval", zap.Error(report.Err))
		return false
	}
}

// runCycle executes one orchestrator cycle under the cycle timeout and
// updates the mailbox status.
func (p *Poller) runCycle(ctx context.Context, entry mailboxEntry) CycleReport {
	p.setStatus(entry.cfg.ID, PollRunning, nil)

	cctx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	report := p.orchestrator.RunCycle(cctx, entry.src, entry.cfg)
	if report.Err == nil {
		p.setStatus(entry.cfg.ID, PollIdle, nil)
	}
	return report
}

// setStatus updates the status entry for a mailbox.
func (p *Poller) setStatus(mailboxID string, state PollState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.statuses[mailboxID]
	if !ok {
		return
	}

	status.State = state
	status.Error = err
	if state == PollIdle && err == nil {
		status.LastCycle = time.Now()
	}
}
