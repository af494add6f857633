package deliver

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/automail/automail/internal/sink"
)

// fakeSink records every call and replays scripted errors per send.
type fakeSink struct {
	calls  []string
	errs   map[string][]error // key: "text" or file name
	counts map[string]int
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		errs:   make(map[string][]error),
		counts: make(map[string]int),
	}
}

func (f *fakeSink) next(key string) error {
	n := f.counts[key]
	f.counts[key]++
	if queue := f.errs[key]; n < len(queue) {
		return queue[n]
	}
	return nil
}

func (f *fakeSink) SendText(_ context.Context, _, _ string) error {
	f.calls = append(f.calls, "text")
	return f.next("text")
}

func (f *fakeSink) SendFile(_ context.Context, _, name string, _ []byte, _ string) error {
	f.calls = append(f.calls, name)
	return f.next(name)
}

// newTestScheduler builds a Scheduler with a no-op sleep that records
// the requested waits.
func newTestScheduler(s sink.Sink, maxAttempts int) (*Scheduler, *[]time.Duration) {
	sched := New(s, 2*time.Second, maxAttempts, zap.NewNop())
	var waits []time.Duration
	sched.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return sched, &waits
}

func TestDeliver_TextThenFilesInOrder(t *testing.T) {
	fs := newFakeSink()
	sched, waits := newTestScheduler(fs, 3)

	files := []File{
		{Name: "a.pdf", Data: []byte("a")},
		{Name: "b.csv", Data: []byte("b")},
	}
	if err := sched.Deliver(context.Background(), "chat", "payload", files); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	want := []string{"text", "a.pdf", "b.csv"}
	if len(fs.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", fs.calls, want)
	}
	for i := range want {
		if fs.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, fs.calls[i], want[i])
		}
	}

	// One spacing wait before each file send.
	if len(*waits) != 2 {
		t.Errorf("spacing waits = %v, want 2 entries", *waits)
	}
	for _, w := range *waits {
		if w != 2*time.Second {
			t.Errorf("spacing wait = %s, want 2s", w)
		}
	}
}

func TestDeliver_RateLimitHonorsRetryAfter(t *testing.T) {
	fs := newFakeSink()
	fs.errs["a.pdf"] = []error{&sink.RateLimitError{RetryAfter: 9 * time.Second}}
	sched, waits := newTestScheduler(fs, 3)

	err := sched.Deliver(context.Background(), "chat", "p", []File{{Name: "a.pdf"}})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if fs.counts["a.pdf"] != 2 {
		t.Errorf("attachment attempts = %d, want 2", fs.counts["a.pdf"])
	}

	// waits: spacing before file, then the server-specified retry wait.
	if len(*waits) != 2 || (*waits)[1] != 9*time.Second {
		t.Errorf("waits = %v, want [2s 9s]", *waits)
	}
}

func TestDeliver_RateLimitWithoutRetryAfterUsesBackoff(t *testing.T) {
	fs := newFakeSink()
	fs.errs["text"] = []error{&sink.RateLimitError{}}
	sched, waits := newTestScheduler(fs, 3)

	if err := sched.Deliver(context.Background(), "chat", "p", nil); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if len(*waits) != 1 || (*waits)[0] <= 0 {
		t.Errorf("waits = %v, want one positive backoff wait", *waits)
	}
}

func TestDeliver_RetriesExhausted(t *testing.T) {
	fs := newFakeSink()
	fs.errs["a.pdf"] = []error{
		&sink.RateLimitError{RetryAfter: time.Second},
		&sink.RateLimitError{RetryAfter: time.Second},
		&sink.RateLimitError{RetryAfter: time.Second},
	}
	sched, _ := newTestScheduler(fs, 3)

	err := sched.Deliver(context.Background(), "chat", "p", []File{{Name: "a.pdf"}})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if fs.counts["a.pdf"] != 3 {
		t.Errorf("attachment attempts = %d, want 3", fs.counts["a.pdf"])
	}
	if _, ok := sink.AsRateLimit(err); !ok {
		t.Errorf("exhaustion error should wrap the rate limit cause: %v", err)
	}
}

func TestDeliver_NonRateLimitErrorFailsImmediately(t *testing.T) {
	fs := newFakeSink()
	boom := errors.New("document rejected")
	fs.errs["a.pdf"] = []error{boom}
	sched, _ := newTestScheduler(fs, 5)

	err := sched.Deliver(context.Background(), "chat", "p", []File{
		{Name: "a.pdf"}, {Name: "b.pdf"},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped sink error, got %v", err)
	}
	if fs.counts["a.pdf"] != 1 {
		t.Errorf("failed send retried %d times, want 1 attempt", fs.counts["a.pdf"])
	}
	if fs.counts["b.pdf"] != 0 {
		t.Error("later attachment sent after an unrecoverable failure")
	}
}

func TestDeliver_TextFailureSkipsFiles(t *testing.T) {
	fs := newFakeSink()
	fs.errs["text"] = []error{errors.New("bad chat")}
	sched, _ := newTestScheduler(fs, 2)

	err := sched.Deliver(context.Background(), "chat", "p", []File{{Name: "a.pdf"}})
	if err == nil {
		t.Fatal("expected error from text send")
	}
	if fs.counts["a.pdf"] != 0 {
		t.Error("attachment sent despite text failure")
	}
}
