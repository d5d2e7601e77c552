package manager

import (
	"fmt"
	"testing"
	"time"
)

func TestLogHubRingWraps(t *testing.T) {
	h := NewLogHub(4)

	for i := 0; i < 6; i++ {
		h.Publish(LogLine{Tool: "a", Line: fmt.Sprintf("line-%d", i), Time: time.Now()})
	}

	recent := h.Recent(10)
	if len(recent) != 4 {
		t.Fatalf("expected 4 retained lines, got %d", len(recent))
	}
	if recent[0].Line != "line-2" || recent[3].Line != "line-5" {
		t.Errorf("wrong window: first=%q last=%q", recent[0].Line, recent[3].Line)
	}

	last2 := h.Recent(2)
	if len(last2) != 2 || last2[1].Line != "line-5" {
		t.Errorf("Recent(2) wrong: %v", last2)
	}
}

func TestLogHubSubscribe(t *testing.T) {
	h := NewLogHub(16)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(LogLine{Tool: "a", Line: "hello"})

	select {
	case line := <-ch:
		if line.Line != "hello" {
			t.Errorf("got %q", line.Line)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the line")
	}
}

func TestLogHubSlowSubscriberDropsLines(t *testing.T) {
	h := NewLogHub(16)
	_, cancel := h.Subscribe()
	defer cancel()

	// Nobody reads; publishing far past the channel buffer must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			h.Publish(LogLine{Line: fmt.Sprintf("l%d", i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestLogHubCancelTwice(t *testing.T) {
	h := NewLogHub(8)
	_, cancel := h.Subscribe()
	cancel()
	cancel() // second cancel must not panic
}
