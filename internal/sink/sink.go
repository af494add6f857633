// Package sink defines the abstract notification-sink contract and the
// rate-limit error the delivery scheduler reacts to.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RateLimitError is returned by a Sink when the remote API asks the
// caller to slow down. RetryAfter is the server-specified wait, or zero
// when the server gave none.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("sink rate limited, retry after %s", e.RetryAfter)
	}
	return "sink rate limited"
}

// AsRateLimit extracts a RateLimitError from err's chain, if present.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// Sink delivers notifications to the external messaging platform.
type Sink interface {
	// SendText delivers a formatted HTML payload to the chat.
	SendText(ctx context.Context, chatRef, payload string) error

	// SendFile delivers a named file with an HTML caption to the chat.
	// The data slice is only borrowed for the duration of the call.
	SendFile(ctx context.Context, chatRef, name string, data []byte, caption string) error
}
