package recording

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/vigil-nvr/vigil/internal/framebus"
)

// runHLSSegmenter subscribes to the live bus for the session's lifetime and
// produces fixed-duration MPEG-TS segments (C8), monotonically indexed
// from 0 within the session, matching the mp4 segmenter's structure but
// muxing to MPEG-TS instead of fragmented MP4.
func (m *Manager) runHLSSegmenter(ctx context.Context, sess Session) {
	sub := m.bus.Subscribe()
	defer sub.Close()

	segDuration := time.Duration(m.resolved.HLSSegmentSeconds) * time.Second
	if segDuration <= 0 {
		segDuration = 6 * time.Second
	}

	var index int64
	for ctx.Err() == nil {
		if err := m.writeOneHLSSegment(ctx, sess, sub, segDuration, index); err != nil {
			if ctx.Err() == nil {
				m.logger.Error("hls segment failed", "error", err)
			}
			continue
		}
		index++
	}
}

func (m *Manager) writeOneHLSSegment(ctx context.Context, sess Session, sub *framebus.Subscription, duration time.Duration, index int64) error {
	segCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	start := time.Now()
	var frames [][]byte
	for {
		f, ok, err := sub.RecvCtx(segCtx.Done())
		if !ok {
			break
		}
		if err != nil {
			continue
		}
		frames = append(frames, f.Payload)
	}

	if ctx.Err() != nil || len(frames) == 0 {
		return nil
	}
	actualDuration := time.Since(start).Seconds()

	tsBytes, err := muxMJPEGToTS(ctx, frames)
	if err != nil {
		return fmt.Errorf("mux ts segment: %w", err)
	}

	seg := &HlsSegment{
		SessionID:       sess.ID,
		SegmentIndex:    index,
		StartTime:       start,
		DurationSeconds: actualDuration,
		Payload:         tsBytes,
		SizeBytes:       int64(len(tsBytes)),
	}
	return m.store.InsertHLSSegment(ctx, seg)
}

func muxMJPEGToTS(ctx context.Context, frames [][]byte) ([]byte, error) {
	var in bytes.Buffer
	for _, f := range frames {
		in.Write(f)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "warning",
		"-f", "mjpeg", "-i", "pipe:0",
		"-c:v", "copy",
		"-f", "mpegts", "pipe:1",
	)
	cmd.Stdin = &in

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
