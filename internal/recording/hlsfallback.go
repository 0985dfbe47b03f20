package recording

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// synthesizeHLSFromMP4 re-muxes concatenated fragmented-MP4 bytes into
// fixed-duration MPEG-TS segments and an m3u8 playlist by piping through
// ffmpeg's HLS muxer, mirroring muxMJPEGToMP4/muxMJPEGToTS's pipe-in/read-
// temp-dir-out shape. It is the MP4-fallback half of the HLS-first
// retrieval policy (C10): invoked only when a playlist request falls
// outside native hls_segments coverage but MP4 storage is enabled.
func synthesizeHLSFromMP4(ctx context.Context, mp4Data []byte, segDuration time.Duration) (segments [][]byte, durations []float64, err error) {
	dir, err := os.MkdirTemp("", "hls-fallback-*")
	if err != nil {
		return nil, nil, err
	}
	defer os.RemoveAll(dir)

	segPattern := filepath.Join(dir, "seg%05d.ts")
	playlistPath := filepath.Join(dir, "playlist.m3u8")

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "warning",
		"-f", "mp4", "-i", "pipe:0",
		"-c", "copy",
		"-f", "hls",
		"-hls_time", strconv.FormatFloat(segDuration.Seconds(), 'f', -1, 64),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", segPattern,
		playlistPath,
	)
	cmd.Stdin = bytes.NewReader(mp4Data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, nil, fmt.Errorf("ffmpeg hls mux: %w: %s", err, stderr.String())
	}

	text, err := os.ReadFile(playlistPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read generated playlist: %w", err)
	}
	durations = parseExtinfDurations(string(text))

	matches, err := filepath.Glob(filepath.Join(dir, "seg*.ts"))
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(matches)

	segments = make([][]byte, 0, len(matches))
	for _, m := range matches {
		b, rerr := os.ReadFile(m)
		if rerr != nil {
			return nil, nil, rerr
		}
		segments = append(segments, b)
	}
	return segments, durations, nil
}

// parseExtinfDurations extracts the duration named by each #EXTINF line, in
// playlist order, so synthesized hls_segments rows carry ffmpeg's actual
// per-segment duration rather than the nominal target.
func parseExtinfDurations(playlistText string) []float64 {
	var durations []float64
	for _, line := range strings.Split(playlistText, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#EXTINF:") {
			continue
		}
		val := strings.TrimPrefix(line, "#EXTINF:")
		val = strings.TrimSuffix(val, ",")
		d, err := strconv.ParseFloat(val, 64)
		if err != nil {
			continue
		}
		durations = append(durations, d)
	}
	return durations
}

// mp4SegmentBytes reads a segment's bytes from whichever storage it used.
func mp4SegmentBytes(seg *VideoSegment) ([]byte, error) {
	if len(seg.InlineBlob) > 0 {
		return seg.InlineBlob, nil
	}
	return os.ReadFile(seg.FilePath)
}

// syntheticSessionIDFor derives a stable, negative session id for a
// synthesized playlist's hls_segments rows, so repeat synthesis of the same
// range reuses (and overwrites) the same rows, and so synthesized rows
// never collide with a real session's auto-incremented (always positive)
// id.
func syntheticSessionIDFor(cameraID string, t1, t2 time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(cameraID))
	h.Write([]byte(t1.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(t2.UTC().Format(time.RFC3339Nano)))
	sum := h.Sum64() &^ (1 << 63)
	return -int64(sum)
}
