// Package pacer implements the frame-rate pacing stage (C3) that sits
// between the encoder driver and the frame bus. It never buffers more than
// one pending frame — it is lossy by design, the same discipline the
// teacher applies to its broadcast channels.
package pacer

import (
	"sync"
	"time"

	"github.com/vigil-nvr/vigil/internal/framebus"
)

// Pacer rate-limits a stream of decoded frames to a configured output
// cadence before they reach the bus. Mode is selected at construction:
// pass-through forwards every frame immediately; rate-limited publishes on
// a steady ticker, at most one pending frame held between ticks.
type Pacer struct {
	bus                  *framebus.Bus
	outputFramerate      uint32
	allowDuplicateFrames bool

	mu      sync.Mutex
	pending *framebus.Frame
	last    *framebus.Frame

	stop chan struct{}
	done chan struct{}
}

// New creates a pacer publishing onto bus. outputFramerate == 0 selects
// pass-through mode.
func New(bus *framebus.Bus, outputFramerate uint32, allowDuplicateFrames bool) *Pacer {
	return &Pacer{
		bus:                  bus,
		outputFramerate:      outputFramerate,
		allowDuplicateFrames: allowDuplicateFrames,
		stop:                 make(chan struct{}),
		done:                 make(chan struct{}),
	}
}

// Submit hands a newly decoded frame to the pacer. In pass-through mode it
// is published immediately; in rate-limited mode it replaces any pending
// frame (the pacer is lossy — only the newest frame survives until the
// next tick).
func (p *Pacer) Submit(f framebus.Frame) {
	if p.outputFramerate == 0 {
		p.bus.Publish(f)
		return
	}

	p.mu.Lock()
	fc := f
	p.pending = &fc
	p.mu.Unlock()
}

// Run starts the rate-limited ticker loop. It is a no-op in pass-through
// mode. Call Stop to end the loop.
func (p *Pacer) Run() {
	defer close(p.done)

	if p.outputFramerate == 0 {
		<-p.stop
		return
	}

	interval := time.Second / time.Duration(p.outputFramerate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			next := p.pending
			p.pending = nil
			if next == nil && p.allowDuplicateFrames {
				next = p.last
			}
			if next != nil {
				p.last = next
			}
			p.mu.Unlock()

			if next != nil {
				p.bus.Publish(*next)
			}
			// allow_duplicate_frames=false and no newer frame: publish
			// nothing this tick (a zero-byte keep-alive is the caller's
			// responsibility if it wants one on the bus).
		}
	}
}

// Stop ends the ticker loop and waits for it to exit.
func (p *Pacer) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	<-p.done
}
