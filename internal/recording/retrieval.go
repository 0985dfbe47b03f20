package recording

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vigil-nvr/vigil/internal/nvrerr"
)

// Retrieval answers playback queries against one camera's store (C10):
// timestamp-to-frame lookup, locating the MP4 segment covering a moment,
// and synthesizing an HLS playlist. It holds no bytes itself — callers
// that need to stream a segment's bytes read VideoSegment.FilePath or
// InlineBlob directly.
type Retrieval struct {
	cameraID string
	store    *Store
	resolved func() RetrievalPipelineView
	logger   *slog.Logger
}

// RetrievalPipelineView is the subset of config.ResolvedPipeline retrieval
// needs to apply the HLS-first policy's MP4 fallback; declared locally so
// this package does not import config merely to read three fields.
type RetrievalPipelineView struct {
	HLSStorageEnabled bool
	MP4StorageType    string
	HLSSegmentSeconds uint64
}

// NewRetrieval creates a retrieval engine over one camera's store. resolved
// is called fresh on every HLS playlist request, so a config hot-reload
// (enabling or disabling MP4 fallback) takes effect immediately.
func NewRetrieval(cameraID string, store *Store, resolved func() RetrievalPipelineView) *Retrieval {
	return &Retrieval{
		cameraID: cameraID,
		store:    store,
		resolved: resolved,
		logger:   slog.Default().With("component", "retrieval", "camera", cameraID),
	}
}

// FrameAt resolves the frame closest to ts across every session for this
// camera, honoring the same exact/tolerant semantics as Store.GetFrameAt.
func (r *Retrieval) FrameAt(ctx context.Context, ts time.Time, tolerance time.Duration) (*Frame, error) {
	f, err := r.store.GetFrameAtCamera(ctx, r.cameraID, ts, tolerance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nvrerr.New(nvrerr.SegmentNotFound, "no frame near "+ts.String())
	}
	if err != nil {
		return nil, nvrerr.Wrap(nvrerr.StorageFailure, "frame lookup", err)
	}
	return f, nil
}

// MP4SegmentCovering returns the MP4 segment whose [start,end) window
// contains ts.
func (r *Retrieval) MP4SegmentCovering(ctx context.Context, ts time.Time) (*VideoSegment, error) {
	segs, err := r.store.ListMP4SegmentsInRange(ctx, r.cameraID, ts, ts.Add(time.Nanosecond))
	if err != nil {
		return nil, nvrerr.Wrap(nvrerr.StorageFailure, "segment lookup", err)
	}
	for _, seg := range segs {
		if !ts.Before(seg.StartTime) && ts.Before(seg.EndTime) {
			s := seg
			return &s, nil
		}
	}
	return nil, nvrerr.New(nvrerr.SegmentNotFound, "no mp4 segment covers "+ts.String())
}

// MP4SegmentsInRange lists every MP4 segment overlapping [start,end).
func (r *Retrieval) MP4SegmentsInRange(ctx context.Context, start, end time.Time) ([]VideoSegment, error) {
	return r.store.ListMP4SegmentsInRange(ctx, r.cameraID, start, end)
}

// HLSPlaylist synthesizes an m3u8 playlist covering [t1,t2) from the
// camera's own hls_segments. Per the HLS-first retrieval policy: if HLS
// storage is enabled for this camera, a miss is final — it returns
// SegmentNotFound (surfaced by the HTTP layer as 404) rather than
// re-segmenting MP4 on the fly. Only when HLS storage is disabled but MP4
// storage is enabled does it fall through to SynthesizePlaylist, which
// re-muxes the covering MP4 range through the encoder and caches the
// result.
func (r *Retrieval) HLSPlaylist(ctx context.Context, t1, t2 time.Time) (string, error) {
	segs, err := r.store.ListHLSSegmentsInRange(ctx, r.cameraID, t1, t2)
	if err != nil {
		return "", nvrerr.Wrap(nvrerr.StorageFailure, "hls segment lookup", err)
	}
	if len(segs) > 0 {
		return buildPlaylist(segs), nil
	}

	cfg := r.resolved()
	if cfg.HLSStorageEnabled || cfg.MP4StorageType == "" || cfg.MP4StorageType == string(MP4StorageDisabled) {
		return "", nvrerr.New(nvrerr.SegmentNotFound, "no hls segments in range")
	}
	return r.SynthesizePlaylist(ctx, t1, t2, cfg)
}

// SynthesizePlaylist builds an HLS playlist covering [t1,t2) by re-muxing
// the covering MP4 segments through the encoder, the MP4-fallback half of
// the HLS-first retrieval policy. A prior synthesis of the exact same
// range is served from hls_cache instead of re-invoking the encoder.
func (r *Retrieval) SynthesizePlaylist(ctx context.Context, t1, t2 time.Time, cfg RetrievalPipelineView) (string, error) {
	segDuration := time.Duration(cfg.HLSSegmentSeconds) * time.Second
	if segDuration <= 0 {
		segDuration = 6 * time.Second
	}

	cached, err := r.store.FindCachedPlaylist(ctx, r.cameraID, t1, t2, segDuration, time.Now())
	if err == nil {
		return cached.PlaylistText, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", nvrerr.Wrap(nvrerr.StorageFailure, "cached playlist lookup", err)
	}

	covering, err := r.store.ListMP4SegmentsInRange(ctx, r.cameraID, t1, t2)
	if err != nil {
		return "", nvrerr.Wrap(nvrerr.StorageFailure, "mp4 segment lookup", err)
	}
	if len(covering) == 0 {
		return "", nvrerr.New(nvrerr.SegmentNotFound, "no hls segments or covering mp4 in range")
	}

	var mp4Data bytes.Buffer
	for i := range covering {
		data, err := mp4SegmentBytes(&covering[i])
		if err != nil {
			return "", nvrerr.Wrap(nvrerr.StorageFailure, "read mp4 segment for hls synthesis", err)
		}
		mp4Data.Write(data)
	}

	tsSegments, durations, err := synthesizeHLSFromMP4(ctx, mp4Data.Bytes(), segDuration)
	if err != nil {
		return "", nvrerr.Wrap(nvrerr.EncoderFailure, "synthesize hls from mp4", err)
	}
	if len(tsSegments) == 0 {
		return "", nvrerr.New(nvrerr.SegmentNotFound, "mp4 fallback produced no segments")
	}

	syntheticID := syntheticSessionIDFor(r.cameraID, t1, t2)
	maxDur := 0.0
	for _, d := range durations {
		if d > maxDur {
			maxDur = d
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:%d\n#EXT-X-MEDIA-SEQUENCE:0\n", int(maxDur)+1)
	for i, payload := range tsSegments {
		dur := segDuration.Seconds()
		if i < len(durations) {
			dur = durations[i]
		}
		seg := &HlsSegment{
			SessionID:       syntheticID,
			SegmentIndex:    int64(i),
			StartTime:       t1.Add(time.Duration(i) * segDuration),
			DurationSeconds: dur,
			Payload:         payload,
			SizeBytes:       int64(len(payload)),
		}
		if err := r.store.InsertHLSSegment(ctx, seg); err != nil {
			return "", nvrerr.Wrap(nvrerr.StorageFailure, "store synthesized hls segment", err)
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\nsegment-%d-%d.ts\n", dur, syntheticID, i)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	playlistText := b.String()

	if _, err := r.CachePlaylist(ctx, t1, t2, segDuration, playlistText); err != nil {
		r.logger.Error("failed to cache synthesized hls playlist", "error", err)
	}

	return playlistText, nil
}

func buildPlaylist(segs []HlsSegment) string {
	var b strings.Builder
	maxDur := 0.0
	for _, s := range segs {
		if s.DurationSeconds > maxDur {
			maxDur = s.DurationSeconds
		}
	}

	fmt.Fprintf(&b, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:%d\n#EXT-X-MEDIA-SEQUENCE:%d\n", int(maxDur)+1, segs[0].SegmentIndex)
	for _, s := range segs {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", s.DurationSeconds)
		fmt.Fprintf(&b, "segment-%d-%d.ts\n", s.SessionID, s.SegmentIndex)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// CachePlaylist stores a synthesized playlist under a fresh playlist id
// with a 30-minute TTL, for callers that build playlists by a more
// expensive path (e.g. re-muxing) and want to avoid repeating the work.
func (r *Retrieval) CachePlaylist(ctx context.Context, t1, t2 time.Time, segDuration time.Duration, text string) (string, error) {
	id := uuid.New().String()
	now := time.Now()
	c := &HlsPlaylistCache{
		PlaylistID:      id,
		CameraID:        r.cameraID,
		T1:              t1,
		T2:              t2,
		SegmentDuration: segDuration,
		PlaylistText:    text,
		CreatedAt:       now,
		ExpiresAt:       now.Add(30 * time.Minute),
	}
	if err := r.store.PutHLSCache(ctx, c); err != nil {
		return "", nvrerr.Wrap(nvrerr.StorageFailure, "cache playlist", err)
	}
	return id, nil
}

// SegmentBytes resolves the raw media bytes and content type for a
// filename as emitted by an HLS playlist ("segment-{session}-{index}.ts")
// or an MP4 segment's basename, for the HTTP layer's
// /cameras/{id}/frames/{filename} route.
func (r *Retrieval) SegmentBytes(ctx context.Context, fileName string) (contentType string, data []byte, err error) {
	if strings.HasSuffix(fileName, ".ts") {
		sessionID, index, ok := parseHLSFileName(fileName)
		if !ok {
			return "", nil, nvrerr.New(nvrerr.SegmentNotFound, "malformed hls filename: "+fileName)
		}
		seg, err := r.store.GetHLSSegmentBySessionAndIndex(ctx, sessionID, index)
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, nvrerr.New(nvrerr.SegmentNotFound, "hls segment not found: "+fileName)
		}
		if err != nil {
			return "", nil, nvrerr.Wrap(nvrerr.StorageFailure, "hls segment lookup", err)
		}
		return "video/mp2t", seg.Payload, nil
	}

	startTime, ok := parseMP4Timestamp(fileName)
	if !ok {
		return "", nil, nvrerr.New(nvrerr.ConfigInvalid, "filename is not a valid RFC3339 timestamp (or legacy dash form): "+fileName)
	}

	seg, err := r.store.GetMP4SegmentByStartTime(ctx, r.cameraID, startTime)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, nvrerr.New(nvrerr.SegmentNotFound, "mp4 segment not found: "+fileName)
	}
	if err != nil {
		return "", nil, nvrerr.Wrap(nvrerr.StorageFailure, "mp4 segment lookup", err)
	}
	if len(seg.InlineBlob) > 0 {
		return "video/mp4", seg.InlineBlob, nil
	}
	data, err = os.ReadFile(seg.FilePath)
	if err != nil {
		return "", nil, nvrerr.Wrap(nvrerr.StorageFailure, "read mp4 file", err)
	}
	return "video/mp4", data, nil
}

// parseMP4Timestamp parses an MP4 segment filename (minus extension) back
// into the start_time it was derived from: RFC3339 (with fractional
// seconds) is tried first, then the legacy form with dashes in place of
// colons in the time part (e.g. "2006-01-02T15-04-05Z"), per spec §6's
// timestamp parse rules.
func parseMP4Timestamp(fileName string) (time.Time, bool) {
	name := strings.TrimSuffix(fileName, ".mp4")
	if ts, err := time.Parse(time.RFC3339Nano, name); err == nil {
		return ts, true
	}
	return parseLegacyMP4Timestamp(name)
}

func parseLegacyMP4Timestamp(name string) (time.Time, bool) {
	t := strings.IndexByte(name, 'T')
	if t < 0 || len(name[t+1:]) < 8 {
		return time.Time{}, false
	}
	datePart, timePart := name[:t], name[t+1:]
	if timePart[2] != '-' || timePart[5] != '-' {
		return time.Time{}, false
	}
	rebuilt := datePart + "T" + timePart[0:2] + ":" + timePart[3:5] + ":" + timePart[6:]
	ts, err := time.Parse(time.RFC3339, rebuilt)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// parseHLSFileName splits on the LAST dash rather than the first, since a
// synthesized fallback playlist's session id (syntheticSessionIDFor) is
// negative and so itself contains a leading dash; the segment index never
// does.
func parseHLSFileName(fileName string) (sessionID, index int64, ok bool) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(fileName, "segment-"), ".ts")
	sep := strings.LastIndexByte(trimmed, '-')
	if sep <= 0 || sep == len(trimmed)-1 {
		return 0, 0, false
	}
	sessionID, err1 := strconv.ParseInt(trimmed[:sep], 10, 64)
	index, err2 := strconv.ParseInt(trimmed[sep+1:], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return sessionID, index, true
}

// CachedPlaylist returns a previously cached playlist by id, if it has not
// expired.
func (r *Retrieval) CachedPlaylist(ctx context.Context, playlistID string) (*HlsPlaylistCache, error) {
	c, err := r.store.GetHLSCache(ctx, playlistID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nvrerr.New(nvrerr.SegmentNotFound, "playlist not cached")
	}
	if err != nil {
		return nil, nvrerr.Wrap(nvrerr.StorageFailure, "get cached playlist", err)
	}
	if time.Now().After(c.ExpiresAt) {
		return nil, nvrerr.New(nvrerr.SegmentNotFound, "cached playlist expired")
	}
	return c, nil
}
