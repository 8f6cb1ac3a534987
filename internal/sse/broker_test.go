package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/ankiport/internal/jobs"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "job.queued", Data: map[string]string{"name": "a.apkg"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: job.queued") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"name":"a.apkg"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func drain(ch chan []byte) []string {
	time.Sleep(50 * time.Millisecond)
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestPublishProgress_Throttle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First update for a key goes through, the second is throttled.
	b.PublishProgress("job-1", map[string]int{"notes": 10}, false)
	b.PublishProgress("job-1", map[string]int{"notes": 20}, false)
	// Other keys are throttled independently.
	b.PublishProgress("job-2", map[string]int{"notes": 5}, false)
	// Final updates are never dropped by the throttle.
	b.PublishProgress("job-1", map[string]int{"post": 100}, true)

	msgs := drain(ch)
	if len(msgs) != 3 {
		t.Fatalf("progress events = %d, want 3: %q", len(msgs), msgs)
	}
	for _, m := range msgs {
		if !strings.Contains(m, "event: "+EventProgress) {
			t.Errorf("unexpected event %q", m)
		}
	}
	if strings.Contains(strings.Join(msgs, ""), `"notes":20`) {
		t.Error("throttled update was delivered")
	}
}

func TestJobNotifier(t *testing.T) {
	b := NewBroker(time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	n := JobNotifier{Broker: b}
	n.JobUpdated(jobs.Job{ID: "abc", Name: "deck.apkg", State: jobs.StateRunning})
	n.JobProgress("abc", jobs.Progress{Notes: 40})

	got := strings.Join(drain(ch), "")
	if !strings.Contains(got, "event: job.running") || !strings.Contains(got, `"name":"deck.apkg"`) {
		t.Errorf("missing job event in %q", got)
	}
	if !strings.Contains(got, `"id":"abc","notes":40`) {
		t.Errorf("missing progress event in %q", got)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "job.running", Data: map[string]string{"name": "x.apkg"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: job.running") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "job.running", Data: map[string]string{"name": "x.apkg"}})
	b.PublishProgress("x", map[string]int{"notes": 1}, false)
}

func TestPublishProgress_FinalWaitsForRoom(t *testing.T) {
	// No event loop runs, so the one-slot queue stays full until read here.
	b := &Broker{
		progressCh: make(chan progressReq, 1),
		stopped:    make(chan struct{}),
	}
	b.PublishProgress("job-1", "first", false)

	// A full queue drops intermediate updates without blocking.
	b.PublishProgress("job-1", "dropped", false)

	done := make(chan struct{})
	go func() {
		b.PublishProgress("job-1", "last", true)
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("final update returned while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	if got := (<-b.progressCh).data; got != "first" {
		t.Errorf("first = %v", got)
	}
	<-done
	got := <-b.progressCh
	if got.data != "last" || !got.final {
		t.Errorf("final = %+v", got)
	}
}
