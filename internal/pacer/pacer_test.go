package pacer

import (
	"testing"
	"time"

	"github.com/vigil-nvr/vigil/internal/framebus"
)

func TestPassThroughPublishesImmediately(t *testing.T) {
	bus := framebus.New(4)
	sub := bus.Subscribe()
	defer sub.Close()

	p := New(bus, 0, true)
	p.Submit(framebus.Frame{Timestamp: time.Now(), Payload: []byte("a")})

	got, err := sub.Recv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got.Payload) != "a" {
		t.Errorf("expected immediate publish, got %q", got.Payload)
	}
}

func TestRateLimitedPublishesOnTick(t *testing.T) {
	bus := framebus.New(4)
	sub := bus.Subscribe()
	defer sub.Close()

	p := New(bus, 50, true) // 20ms ticks
	go p.Run()
	defer p.Stop()

	p.Submit(framebus.Frame{Timestamp: time.Now(), Payload: []byte("a")})

	select {
	case <-time.After(200 * time.Millisecond):
	default:
	}

	done := make(chan struct{})
	go func() {
		sub.Recv()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected a frame to be published within a few ticks")
	}
}

func TestRateLimitedDropsWithoutDuplicates(t *testing.T) {
	bus := framebus.New(4)
	sub := bus.Subscribe()
	defer sub.Close()
	p := New(bus, 100, false)
	go p.Run()
	defer p.Stop()

	p.Submit(framebus.Frame{Timestamp: time.Now(), Payload: []byte("a")})
	time.Sleep(30 * time.Millisecond)

	// Several 10ms ticks have passed with no new frame submitted; with
	// duplicates disallowed the one frame is published exactly once.
	if f, err := sub.Recv(); err != nil || string(f.Payload) != "a" {
		t.Fatalf("expected frame %q, got %q (err %v)", "a", f.Payload, err)
	}
	done := make(chan struct{})
	time.AfterFunc(30*time.Millisecond, func() { close(done) })
	if f, ok, _ := sub.RecvCtx(done); ok {
		t.Errorf("expected no duplicate publish, got %q", f.Payload)
	}
}
