package framebus

import (
	"testing"
	"time"

	"github.com/vigil-nvr/vigil/internal/nvrerr"
)

func TestPublishSubscribe(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	defer sub.Close()

	f := Frame{Timestamp: time.Now(), Payload: []byte("jpeg")}
	b.Publish(f)

	got, err := sub.Recv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got.Payload) != "jpeg" {
		t.Errorf("expected payload 'jpeg', got %q", got.Payload)
	}
}

func TestMultipleSubscribersSeeSameOrder(t *testing.T) {
	b := New(8)
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	defer s1.Close()
	defer s2.Close()

	for i := 0; i < 5; i++ {
		b.Publish(Frame{Timestamp: time.Now(), Payload: []byte{byte(i)}})
	}

	for i := 0; i < 5; i++ {
		f1, err := s1.Recv()
		if err != nil {
			t.Fatalf("s1 recv: %v", err)
		}
		f2, err := s2.Recv()
		if err != nil {
			t.Fatalf("s2 recv: %v", err)
		}
		if f1.Payload[0] != byte(i) || f2.Payload[0] != byte(i) {
			t.Errorf("expected frame %d for both subscribers, got %v %v", i, f1.Payload, f2.Payload)
		}
	}
}

func TestSlowSubscriberLagsWithoutBlockingPublisher(t *testing.T) {
	b := New(2)
	slow := b.Subscribe()
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Frame{Timestamp: time.Now(), Payload: []byte{byte(i)}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	_, err := slow.Recv()
	if err == nil {
		t.Fatal("expected a lagged signal for the slow subscriber")
	}
	if !nvrerr.Is(err, nvrerr.Lagged) {
		t.Errorf("expected Lagged kind, got %v", err)
	}
}

func TestUnsubscribeRemovesFromFanout(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.SubscriberCount())
	}
	sub.Close()
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after close, got %d", b.SubscriberCount())
	}
}
