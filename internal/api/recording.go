package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/vigil-nvr/vigil/internal/camera"
	"github.com/vigil-nvr/vigil/internal/export"
	"github.com/vigil-nvr/vigil/internal/nvrerr"
)

// RecordingHandler is the thin HTTP boundary (A4) in front of the camera
// registry, its recording managers/retrieval engines, and the shared
// export manager. It holds no business logic of its own: every handler
// resolves a camera from the registry and delegates straight to C6/C10/C11.
type RecordingHandler struct {
	registry  *camera.Registry
	exportMgr *export.Manager
}

// NewRecordingHandler creates a recording handler bound to the camera
// registry and the shared export manager.
func NewRecordingHandler(registry *camera.Registry, exportMgr *export.Manager) *RecordingHandler {
	return &RecordingHandler{registry: registry, exportMgr: exportMgr}
}

// Routes returns the recording/retrieval/export routes.
func (h *RecordingHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/cameras/{id}/frames/{filename}", h.GetFrameFile)
	r.Get("/cameras/{id}/hls", h.GetHLSPlaylist)
	r.Get("/cameras/{id}/frame-at", h.GetFrameAt)
	r.Post("/cameras/{id}/recordings", h.StartRecording)
	r.Delete("/cameras/{id}/recordings", h.StopRecording)

	r.Post("/exports", h.CreateExport)
	r.Get("/exports/{id}", h.GetExport)
	r.Get("/exports/{id}/download", h.DownloadExport)

	return r
}

func (h *RecordingHandler) camera(w http.ResponseWriter, r *http.Request) *camera.Camera {
	id := chi.URLParam(r, "id")
	cam := h.registry.Get(id)
	if cam == nil {
		NotFound(w, "camera not found: "+id)
		return nil
	}
	return cam
}

// GetFrameFile serves one recorded MP4 or HLS segment's bytes by filename,
// honoring a Range request per spec §4.10/§6: a ranged request gets 206
// with Content-Range, an unranged one gets 200 with the full body.
func (h *RecordingHandler) GetFrameFile(w http.ResponseWriter, r *http.Request) {
	cam := h.camera(w, r)
	if cam == nil {
		return
	}
	fileName := chi.URLParam(r, "filename")

	contentType, data, err := cam.Retrieval.SegmentBytes(r.Context(), fileName)
	if err != nil {
		writeRetrievalError(w, err)
		return
	}

	writeRangedContent(w, r, contentType, data)
}

// writeRangedContent writes data as a 200 (no Range header) or 206 (Range
// header present) response, clamping the requested range to the available
// bytes: start = min(req_start, size-1), end = min(req_end ?? size-1,
// size-1). A Range header that doesn't parse is treated as absent.
func writeRangedContent(w http.ResponseWriter, r *http.Request, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")

	total := len(data)
	reqStart, reqEnd, hasRange := parseByteRange(r.Header.Get("Range"))
	if !hasRange {
		w.Header().Set("Content-Length", strconv.Itoa(total))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	maxIdx := total - 1
	if maxIdx < 0 {
		maxIdx = 0
	}
	start := reqStart
	if start < 0 {
		start = 0
	}
	if start > maxIdx {
		start = maxIdx
	}
	end := maxIdx
	if reqEnd != nil && *reqEnd < end {
		end = *reqEnd
	}
	if end < start {
		end = start
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
	w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
	w.WriteHeader(http.StatusPartialContent)
	if total > 0 {
		_, _ = w.Write(data[start : end+1])
	}
}

// parseByteRange parses a single "bytes=start-end" Range header value.
// end is nil for an open-ended range ("bytes=100-"). ok is false if the
// header is absent or malformed.
func parseByteRange(header string) (start int, end *int, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, nil, false
	}
	spec := strings.TrimPrefix(header, prefix)
	// reject multi-range requests ("bytes=0-10,20-30"); only a single
	// range is supported.
	if strings.Contains(spec, ",") {
		return 0, nil, false
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, nil, false
	}
	s, err := strconv.Atoi(parts[0])
	if err != nil || s < 0 {
		return 0, nil, false
	}
	if parts[1] == "" {
		return s, nil, true
	}
	e, err := strconv.Atoi(parts[1])
	if err != nil || e < 0 {
		return 0, nil, false
	}
	return s, &e, true
}

// GetHLSPlaylist returns an m3u8 playlist covering [t1,t2) via
// Retrieval.HLSPlaylist: native HLS segments first, re-muxing MP4 only when
// the camera has HLS storage disabled and MP4 storage enabled.
func (h *RecordingHandler) GetHLSPlaylist(w http.ResponseWriter, r *http.Request) {
	cam := h.camera(w, r)
	if cam == nil {
		return
	}

	t1, t2, err := parseTimeRangeQuery(r, "t1", "t2")
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	playlist, err := cam.Retrieval.HLSPlaylist(r.Context(), t1, t2)
	if err != nil {
		writeRetrievalError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, playlist)
}

// GetFrameAt resolves the single frame closest to ts within tolerance and
// returns it as a JPEG image.
func (h *RecordingHandler) GetFrameAt(w http.ResponseWriter, r *http.Request) {
	cam := h.camera(w, r)
	if cam == nil {
		return
	}

	tsStr := r.URL.Query().Get("ts")
	if tsStr == "" {
		BadRequest(w, "ts parameter is required")
		return
	}
	ts, err := time.Parse(time.RFC3339Nano, tsStr)
	if err != nil {
		BadRequest(w, "invalid ts format, expected RFC3339")
		return
	}

	tolerance := 500 * time.Millisecond
	if v := r.URL.Query().Get("tolerance"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			BadRequest(w, "invalid tolerance, expected non-negative milliseconds")
			return
		}
		tolerance = time.Duration(ms) * time.Millisecond
	}

	frame, err := cam.Retrieval.FrameAt(r.Context(), ts, tolerance)
	if err != nil {
		writeRetrievalError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame.Payload)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame.Payload)
}

// StartRecordingRequest is the body of POST /cameras/{id}/recordings.
type StartRecordingRequest struct {
	Reason          string `json:"reason"`
	DurationSeconds int    `json:"duration_seconds,omitempty"` // 0 means unbounded
}

// StartRecording begins a manual recording session for a camera.
func (h *RecordingHandler) StartRecording(w http.ResponseWriter, r *http.Request) {
	cam := h.camera(w, r)
	if cam == nil {
		return
	}

	var req StartRecordingRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	sess, err := cam.Manager.StartRecording(r.Context(), req.Reason, time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		writeRetrievalError(w, err)
		return
	}

	Created(w, sess)
}

// StopRecording ends the camera's active recording session, if any.
func (h *RecordingHandler) StopRecording(w http.ResponseWriter, r *http.Request) {
	cam := h.camera(w, r)
	if cam == nil {
		return
	}

	if err := cam.Manager.StopRecording(r.Context()); err != nil {
		writeRetrievalError(w, err)
		return
	}
	NoContent(w)
}

// CreateExportRequest is the body of POST /exports.
type CreateExportRequest struct {
	CameraID string    `json:"camera_id"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

// CreateExport enqueues a concatenated-MP4 export job for a camera's
// recorded segments over [From,To).
func (h *RecordingHandler) CreateExport(w http.ResponseWriter, r *http.Request) {
	var req CreateExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.CameraID == "" || !req.To.After(req.From) {
		BadRequest(w, "camera_id is required and to must be after from")
		return
	}

	job, err := h.exportMgr.Enqueue(req.CameraID, req.From, req.To)
	if err != nil {
		writeRetrievalError(w, err)
		return
	}
	Created(w, job)
}

// GetExport returns the status of an export job.
func (h *RecordingHandler) GetExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.exportMgr.GetJob(id)
	if err != nil {
		writeRetrievalError(w, err)
		return
	}
	OK(w, job)
}

// DownloadExport streams a completed export's MP4 file.
func (h *RecordingHandler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.exportMgr.GetJob(id)
	if err != nil {
		writeRetrievalError(w, err)
		return
	}
	if job.Status != export.JobCompleted {
		Conflict(w, fmt.Sprintf("export %s is %s, not completed", id, job.Status))
		return
	}

	f, err := os.Open(job.FilePath)
	if err != nil {
		InternalError(w, "failed to open export file")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		InternalError(w, "failed to stat export file")
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.CameraID+"_export.mp4"))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}

func parseTimeRangeQuery(r *http.Request, startKey, endKey string) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get(startKey)
	endStr := r.URL.Query().Get(endKey)
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%s and %s query parameters are required", startKey, endKey)
	}

	start, err := time.Parse(time.RFC3339Nano, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid %s: %w", startKey, err)
	}
	end, err := time.Parse(time.RFC3339Nano, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid %s: %w", endKey, err)
	}
	return start, end, nil
}

// writeRetrievalError maps a domain error's Kind onto the matching HTTP
// status, falling back to 500 for anything it doesn't recognize.
func writeRetrievalError(w http.ResponseWriter, err error) {
	kind, ok := nvrerr.Of(err)
	if !ok {
		InternalError(w, err.Error())
		return
	}

	switch kind {
	case nvrerr.CameraNotFound, nvrerr.SessionNotFound, nvrerr.SegmentNotFound, nvrerr.JobNotFound:
		NotFound(w, err.Error())
	case nvrerr.AlreadyActive:
		Conflict(w, err.Error())
	case nvrerr.ConfigInvalid, nvrerr.OversizeFrame:
		BadRequest(w, err.Error())
	case nvrerr.Unauthorized:
		Unauthorized(w, err.Error())
	default:
		InternalError(w, err.Error())
	}
}
