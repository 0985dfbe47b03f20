// Package telemetry publishes per-camera throughput counters onto the
// embedded NATS bus (A3). It is entirely optional, controlled by
// system.telemetry.enabled, and is never on the frame pipeline's critical
// path: Record only increments in-memory counters, and the periodic
// publisher drops a tick rather than block if the bus is momentarily slow.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vigil-nvr/vigil/internal/core"
)

// Publisher periodically reports each camera's frame throughput on
// nvr.telemetry.<camera_id>.throughput.
type Publisher struct {
	bus      *core.EventBus
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	counters map[string]*counter
}

type counter struct {
	frames int64
	bytes  int64
	lagged int64
}

// Throughput is the payload published for each camera on every tick.
type Throughput struct {
	CameraID     string    `json:"camera_id"`
	Frames       int64     `json:"frames"`
	Bytes        int64     `json:"bytes"`
	Lagged       int64     `json:"lagged"`
	IntervalSecs float64   `json:"interval_secs"`
	Timestamp    time.Time `json:"timestamp"`
}

// New creates a publisher that reports every interval. bus may be nil, in
// which case Record is still safe to call but nothing is ever published
// (the caller wires this up only when telemetry is enabled).
func New(bus *core.EventBus, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Publisher{
		bus:      bus,
		interval: interval,
		logger:   slog.Default().With("component", "telemetry"),
		counters: make(map[string]*counter),
	}
}

// Record accumulates one frame's worth of throughput for cameraID. Cheap
// and lock-free on the hot path aside from the counter map's RLock.
func (p *Publisher) Record(cameraID string, frameBytes int) {
	p.mu.RLock()
	c, ok := p.counters[cameraID]
	p.mu.RUnlock()

	if !ok {
		p.mu.Lock()
		c, ok = p.counters[cameraID]
		if !ok {
			c = &counter{}
			p.counters[cameraID] = c
		}
		p.mu.Unlock()
	}

	atomic.AddInt64(&c.frames, 1)
	atomic.AddInt64(&c.bytes, int64(frameBytes))
}

// RecordLagged accumulates a subscriber's lost-frame count for cameraID.
func (p *Publisher) RecordLagged(cameraID string, n uint64) {
	p.mu.RLock()
	c, ok := p.counters[cameraID]
	p.mu.RUnlock()
	if !ok {
		return
	}
	atomic.AddInt64(&c.lagged, int64(n))
}

// Run publishes a snapshot of every camera's counters every interval until
// ctx is cancelled. If bus is nil, Run still resets counters on a timer
// but publishes nothing.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishAll()
		}
	}
}

func (p *Publisher) publishAll() {
	p.mu.RLock()
	snapshot := make(map[string]Throughput, len(p.counters))
	for cameraID, c := range p.counters {
		snapshot[cameraID] = Throughput{
			CameraID:     cameraID,
			Frames:       atomic.SwapInt64(&c.frames, 0),
			Bytes:        atomic.SwapInt64(&c.bytes, 0),
			Lagged:       atomic.SwapInt64(&c.lagged, 0),
			IntervalSecs: p.interval.Seconds(),
			Timestamp:    time.Now(),
		}
	}
	p.mu.RUnlock()

	if p.bus == nil {
		return
	}
	for cameraID, t := range snapshot {
		subject := fmt.Sprintf("nvr.telemetry.%s.throughput", cameraID)
		if err := p.bus.Publish(subject, t); err != nil {
			p.logger.Warn("telemetry publish failed", "camera", cameraID, "error", err)
		}
	}
}
