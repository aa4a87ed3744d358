package stream

import (
	"fmt"
	"sync"
	"testing"

	"github.com/queryportal/queryportal/internal/sandbox"
)

func TestPublish_BuffersHistoryForLateSubscribers(t *testing.T) {
	b := NewBroker()
	b.Publish("req-1", sandbox.OutputEntry{Type: "info", Message: "early line"})
	b.Publish("req-1", sandbox.OutputEntry{Type: "warn", Message: "second line"})

	sub := &subscriber{frames: make(chan Frame, 64)}
	backlog := b.attach("req-1", sub)
	defer b.detach("req-1", sub)

	if len(backlog) != 2 {
		t.Fatalf("expected 2 buffered frames, got %d", len(backlog))
	}
	if backlog[0].Entry.Message != "early line" || backlog[1].Entry.Message != "second line" {
		t.Fatalf("unexpected backlog: %+v", backlog)
	}
}

func TestPublish_FansOutToAttachedSubscribers(t *testing.T) {
	b := NewBroker()
	sub := &subscriber{frames: make(chan Frame, 64)}
	b.attach("req-1", sub)
	defer b.detach("req-1", sub)

	b.Publish("req-1", sandbox.OutputEntry{Type: "info", Message: "live"})
	b.Publish("req-other", sandbox.OutputEntry{Type: "info", Message: "unrelated"})

	select {
	case frame := <-sub.frames:
		if frame.Type != "output" || frame.Entry.Message != "live" {
			t.Fatalf("unexpected frame: %+v", frame)
		}
	default:
		t.Fatal("expected a frame for req-1")
	}

	select {
	case frame := <-sub.frames:
		t.Fatalf("expected no frame from another request, got %+v", frame)
	default:
	}
}

func TestPublish_SlowSubscriberLosesFramesNotTheRun(t *testing.T) {
	b := NewBroker()
	sub := &subscriber{frames: make(chan Frame, 1)}
	b.attach("req-1", sub)
	defer b.detach("req-1", sub)

	// Must not block even though the subscriber buffer holds one frame.
	for i := 0; i < 10; i++ {
		b.Publish("req-1", sandbox.OutputEntry{Type: "info", Message: fmt.Sprintf("line %d", i)})
	}

	if got := len(sub.frames); got != 1 {
		t.Fatalf("expected exactly 1 buffered frame, got %d", got)
	}
}

func TestPublish_ConcurrentWithAttachDetach(t *testing.T) {
	b := NewBroker()

	// One subscriber stays attached for the whole run so fanout always has a
	// map to walk while other connections churn.
	persistent := &subscriber{frames: make(chan Frame, 1)}
	b.attach("req-1", persistent)
	defer b.detach("req-1", persistent)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			b.Publish("req-1", sandbox.OutputEntry{Type: "info", Message: "line"})
		}
		b.Complete("req-1", "completed")
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			sub := &subscriber{frames: make(chan Frame, 1)}
			b.attach("req-1", sub)
			b.detach("req-1", sub)
		}
	}()
	wg.Wait()
}

func TestComplete_SendsDoneAndDropsHistory(t *testing.T) {
	b := NewBroker()
	b.Publish("req-1", sandbox.OutputEntry{Type: "info", Message: "line"})

	sub := &subscriber{frames: make(chan Frame, 64)}
	b.attach("req-1", sub)
	defer b.detach("req-1", sub)

	b.Complete("req-1", "completed")

	select {
	case frame := <-sub.frames:
		if frame.Type != "done" || frame.Status != "completed" {
			t.Fatalf("unexpected frame: %+v", frame)
		}
	default:
		t.Fatal("expected a done frame")
	}

	late := &subscriber{frames: make(chan Frame, 64)}
	backlog := b.attach("req-1", late)
	defer b.detach("req-1", late)
	if len(backlog) != 0 {
		t.Fatalf("expected history to be dropped after completion, got %d frames", len(backlog))
	}
}

func TestHistory_IsBounded(t *testing.T) {
	b := NewBroker()
	for i := 0; i < historyLimit+50; i++ {
		b.Publish("req-1", sandbox.OutputEntry{Type: "info", Message: "x"})
	}

	sub := &subscriber{frames: make(chan Frame, 1)}
	backlog := b.attach("req-1", sub)
	defer b.detach("req-1", sub)
	if len(backlog) != historyLimit {
		t.Fatalf("expected backlog capped at %d, got %d", historyLimit, len(backlog))
	}
}

func TestDetach_RemovesSubscriber(t *testing.T) {
	b := NewBroker()
	sub := &subscriber{frames: make(chan Frame, 1)}
	b.attach("req-1", sub)
	b.detach("req-1", sub)

	b.Publish("req-1", sandbox.OutputEntry{Type: "info", Message: "after detach"})
	if len(sub.frames) != 0 {
		t.Fatal("expected no frames after detach")
	}
}
