// Package deliver sequences outbound sink calls for one message,
// applying inter-call spacing and bounded retry on rate-limit signals.
package deliver

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/automail/automail/internal/sink"
)

// File is one eligible attachment ready to send: a normalized name, the
// borrowed payload bytes, and an HTML caption.
type File struct {
	Name    string
	Data    []byte
	Caption string
}

// Scheduler delivers a message's text payload and its files through a
// Sink. Delivery is all-or-nothing from the caller's perspective: any
// unrecoverable failure fails the whole call, even if earlier sends in
// the same message already reached the sink.
type Scheduler struct {
	sink        sink.Sink
	spacing     time.Duration
	maxAttempts int
	logger      *zap.Logger

	// sleep is swapped in tests to avoid real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Scheduler. spacing is the minimum interval between
// attachment sends; maxAttempts bounds retries per send when the sink
// rate-limits.
func New(
	s sink.Sink,
	spacing time.Duration,
	maxAttempts int,
	logger *zap.Logger,
) *Scheduler {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Scheduler{
		sink:        s,
		spacing:     spacing,
		maxAttempts: maxAttempts,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

// Deliver sends the text payload first, then each file in its original
// order with the configured spacing before every file send. The error,
// if any, is the failure that ended the delivery.
func (s *Scheduler) Deliver(
	ctx context.Context,
	chatRef string,
	payload string,
	files []File,
) error {
	err := s.sendWithRetry(ctx, "text", func() error {
		return s.sink.SendText(ctx, chatRef, payload)
	})
	if err != nil {
		return fmt.Errorf("sending text notification: %w", err)
	}

	for _, f := range files {
		if err := s.sleep(ctx, s.spacing); err != nil {
			return err
		}

		f := f
		err := s.sendWithRetry(ctx, f.Name, func() error {
			return s.sink.SendFile(ctx, chatRef, f.Name, f.Data, f.Caption)
		})
		if err != nil {
			return fmt.Errorf("sending attachment %s: %w", f.Name, err)
		}
	}

	return nil
}

// sendWithRetry runs one send, retrying only on rate-limit signals. The
// wait is the sink-specified retry interval when given, or exponential
// backoff otherwise. Any other failure is unrecoverable and returned
// immediately.
func (s *Scheduler) sendWithRetry(
	ctx context.Context,
	what string,
	send func() error,
) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = time.Minute

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		lastErr = send()
		if lastErr == nil {
			return nil
		}

		rle, ok := sink.AsRateLimit(lastErr)
		if !ok {
			return lastErr
		}

		if attempt == s.maxAttempts {
			break
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = bo.NextBackOff()
		}

		s.logger.Warn("sink rate limited, backing off",
			zap.String("send", what),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
		)

		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}

	return fmt.Errorf(
		"rate limit retries exhausted after %d attempts: %w",
		s.maxAttempts, lastErr,
	)
}

// sleepCtx waits for d or until ctx is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
