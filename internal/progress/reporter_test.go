package progress_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"storyloom/internal/progress"
)

type manualTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (m *manualTimer) Stop() bool {
	was := !m.stopped
	m.stopped = true
	return was
}

type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (c *manualClock) after(d time.Duration, fn func()) progress.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{d: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) fireAll() {
	c.mu.Lock()
	timers := append([]*manualTimer(nil), c.timers...)
	c.mu.Unlock()
	for _, t := range timers {
		if !t.stopped {
			t.fn()
		}
	}
}

func TestResetAfterClearsStatus(t *testing.T) {
	clock := &manualClock{}
	r := progress.NewReporter(progress.WithAfterFunc(clock.after))

	r.Set("Your story is complete!")
	r.ResetAfter(5 * time.Second)
	if r.Current() != "Your story is complete!" {
		t.Fatalf("status cleared too early: %q", r.Current())
	}
	if len(clock.timers) != 1 || clock.timers[0].d != 5*time.Second {
		t.Fatalf("expected one 5s timer, got %+v", clock.timers)
	}
	clock.fireAll()
	if r.Current() != "" {
		t.Fatalf("expected cleared status, got %q", r.Current())
	}
}

func TestSetCancelsPendingReset(t *testing.T) {
	clock := &manualClock{}
	r := progress.NewReporter(progress.WithAfterFunc(clock.after))

	r.Set("Videos combined successfully!")
	r.ResetAfter(3 * time.Second)
	r.Set("Generating production plan...")
	if !clock.timers[0].stopped {
		t.Fatal("expected pending reset to be stopped")
	}
	// a timer that already fired concurrently must not clear the newer status
	clock.timers[0].fn()
	if r.Current() != "Generating production plan..." {
		t.Fatalf("newer status was cleared: %q", r.Current())
	}
}

func TestResetAfterNonPositiveClearsImmediately(t *testing.T) {
	r := progress.NewReporter()
	r.Set("working")
	r.ResetAfter(0)
	if r.Current() != "" {
		t.Fatalf("expected immediate clear, got %q", r.Current())
	}
}

func TestSinkReceivesChanges(t *testing.T) {
	clock := &manualClock{}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var got []progress.Update
	sink := progress.SinkFunc(func(u progress.Update) error {
		got = append(got, u)
		return nil
	})
	r := progress.NewReporter(
		progress.WithRunID("run-1"),
		progress.WithSink(sink),
		progress.WithAfterFunc(clock.after),
		progress.WithClock(func() time.Time { return at }),
	)

	r.Set("a")
	r.Set("a")
	r.Set("b")
	r.ResetAfter(time.Second)
	clock.fireAll()

	if len(got) != 3 {
		t.Fatalf("expected 3 updates (duplicates skipped), got %+v", got)
	}
	if got[0].RunID != "run-1" || got[0].Message != "a" || !got[0].At.Equal(at) {
		t.Fatalf("unexpected first update %+v", got[0])
	}
	if got[2].Message != "" {
		t.Fatalf("expected reset update, got %+v", got[2])
	}
}

func TestSinkFailureDoesNotBlockStatus(t *testing.T) {
	r := progress.NewReporter(progress.WithSink(progress.SinkFunc(func(progress.Update) error {
		return errors.New("broker down")
	})))
	r.Set("still works")
	if r.Current() != "still works" {
		t.Fatalf("unexpected status %q", r.Current())
	}
}

type fakePublisher struct {
	subject string
	data    []byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return nil
}

func TestNATSSinkPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	sink := progress.NewNATSSink(pub, "storyloom.progress")
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

	if err := sink.Publish(progress.Update{RunID: "r", Message: "Animating clip 1/4...", At: at}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if pub.subject != "storyloom.progress" {
		t.Fatalf("unexpected subject %q", pub.subject)
	}
	var decoded map[string]any
	if err := json.Unmarshal(pub.data, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded["run_id"] != "r" || decoded["message"] != "Animating clip 1/4..." || decoded["at"] != "2026-05-06T07:08:09Z" {
		t.Fatalf("unexpected payload %v", decoded)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close on borrowed publisher: %v", err)
	}
}
