package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vigil-nvr/vigil/internal/camera"
	"github.com/vigil-nvr/vigil/internal/config"
	"github.com/vigil-nvr/vigil/internal/export"
	"github.com/vigil-nvr/vigil/internal/recording"
)

func newTestHandler(t *testing.T) (*RecordingHandler, *camera.Registry) {
	t.Helper()
	exportMgr := export.New(t.TempDir(), 10)
	reg := camera.NewRegistry(t.TempDir(), t.TempDir(), nil, exportMgr)

	cam := config.CameraConfig{
		ID:      "cam1",
		Name:    "cam1",
		Enabled: true,
		Stream:  config.StreamConfig{URL: "rtsp://127.0.0.1:5540/cam1", Transport: "tcp"},
	}
	if err := reg.Add(context.Background(), &config.Config{}, cam); err != nil {
		t.Fatalf("Add: %v", err)
	}
	t.Cleanup(func() { reg.Remove("cam1") })

	return NewRecordingHandler(reg, exportMgr), reg
}

func TestParseByteRange(t *testing.T) {
	cases := []struct {
		header    string
		wantStart int
		wantEnd   *int
		wantOK    bool
	}{
		{"", 0, nil, false},
		{"bytes=100-199", 100, intPtr(199), true},
		{"bytes=100-", 100, nil, true},
		{"bytes=0-10,20-30", 0, nil, false},
		{"items=0-10", 0, nil, false},
		{"bytes=abc-10", 0, nil, false},
	}
	for _, c := range cases {
		start, end, ok := parseByteRange(c.header)
		if ok != c.wantOK || start != c.wantStart || !intPtrEqual(end, c.wantEnd) {
			t.Errorf("parseByteRange(%q) = (%d, %v, %v), want (%d, %v, %v)", c.header, start, end, ok, c.wantStart, c.wantEnd, c.wantOK)
		}
	}
}

func intPtr(n int) *int { return &n }

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func TestWriteRangedContent_NoRangeHeader(t *testing.T) {
	data := []byte("0123456789")
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()

	writeRangedContent(rec, req, "video/mp4", data)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "0123456789" {
		t.Errorf("unexpected body: %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Range") != "" {
		t.Errorf("expected no Content-Range, got %q", rec.Header().Get("Content-Range"))
	}
}

func TestWriteRangedContent_WithRangeHeader(t *testing.T) {
	data := []byte("0123456789") // 10 bytes, indices 0-9
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Range", "bytes=2-4")
	rec := httptest.NewRecorder()

	writeRangedContent(rec, req, "video/mp4", data)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if rec.Body.String() != "234" {
		t.Errorf("expected body %q, got %q", "234", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 2-4/10" {
		t.Errorf("expected Content-Range %q, got %q", "bytes 2-4/10", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "3" {
		t.Errorf("expected Content-Length 3, got %q", got)
	}
}

func TestWriteRangedContent_ClampsToFileSize(t *testing.T) {
	data := []byte("0123456789") // size 10, max index 9
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Range", "bytes=5-9999")
	rec := httptest.NewRecorder()

	writeRangedContent(rec, req, "video/mp4", data)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 5-9/10" {
		t.Errorf("expected Content-Range %q, got %q", "bytes 5-9/10", got)
	}
	if rec.Body.String() != "56789" {
		t.Errorf("unexpected body: %q", rec.Body.String())
	}
}

func TestWriteRangedContent_OpenEndedRange(t *testing.T) {
	data := []byte("0123456789")
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Range", "bytes=7-")
	rec := httptest.NewRecorder()

	writeRangedContent(rec, req, "video/mp4", data)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 7-9/10" {
		t.Errorf("expected Content-Range %q, got %q", "bytes 7-9/10", got)
	}
	if rec.Body.String() != "789" {
		t.Errorf("unexpected body: %q", rec.Body.String())
	}
}

func TestGetFrameFile_UnknownCamera(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/cameras/missing/frames/x.mp4", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetFrameFile_UnknownSegment(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/cameras/cam1/frames/missing.mp4", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetHLSPlaylist_MissingQueryParams(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/cameras/cam1/hls", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetHLSPlaylist_NoSegmentsInRange(t *testing.T) {
	h, _ := newTestHandler(t)

	now := time.Now()
	url := "/cameras/cam1/hls?t1=" + now.Format(time.RFC3339Nano) + "&t2=" + now.Add(time.Minute).Format(time.RFC3339Nano)
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 (no hls fallback to mp4), got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetFrameAt_MissingTimestamp(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/cameras/cam1/frame-at", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStartAndStopRecording(t *testing.T) {
	h, _ := newTestHandler(t)

	body, _ := json.Marshal(StartRecordingRequest{Reason: "manual"})
	req := httptest.NewRequest(http.MethodPost, "/cameras/cam1/recordings", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var sess recording.Session
	if err := json.NewDecoder(rec.Body).Decode(&struct {
		Success bool               `json:"success"`
		Data    *recording.Session `json:"data"`
	}{Data: &sess}); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// starting again while active should conflict
	req2 := httptest.NewRequest(http.MethodPost, "/cameras/cam1/recordings", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate start, got %d", rec2.Code)
	}

	req3 := httptest.NewRequest(http.MethodDelete, "/cameras/cam1/recordings", nil)
	rec3 := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec3, req3)
	if rec3.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec3.Code)
	}

	// stopping again with nothing active should 404
	req4 := httptest.NewRequest(http.MethodDelete, "/cameras/cam1/recordings", nil)
	rec4 := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec4, req4)
	if rec4.Code != http.StatusNotFound {
		t.Fatalf("expected 404 stopping with nothing active, got %d", rec4.Code)
	}
}

func TestStartRecording_UnknownCamera(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/cameras/missing/recordings", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCreateExport_ValidatesBody(t *testing.T) {
	h, _ := newTestHandler(t)

	body, _ := json.Marshal(CreateExportRequest{CameraID: "", From: time.Now(), To: time.Now()})
	req := httptest.NewRequest(http.MethodPost, "/exports", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateExport_UnknownCamera(t *testing.T) {
	h, _ := newTestHandler(t)

	now := time.Now()
	body, _ := json.Marshal(CreateExportRequest{CameraID: "missing", From: now, To: now.Add(time.Minute)})
	req := httptest.NewRequest(http.MethodPost, "/exports", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateAndGetExport(t *testing.T) {
	h, _ := newTestHandler(t)

	now := time.Now()
	body, _ := json.Marshal(CreateExportRequest{CameraID: "cam1", From: now, To: now.Add(time.Minute)})
	req := httptest.NewRequest(http.MethodPost, "/exports", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created export.Job
	if err := json.NewDecoder(rec.Body).Decode(&struct {
		Success bool        `json:"success"`
		Data    *export.Job `json:"data"`
	}{Data: &created}); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a job id")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/exports/"+created.ID, nil)
	rec2 := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec2.Code)
	}
}

func TestGetExport_Unknown(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/exports/nope", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDownloadExport_NotYetCompleted(t *testing.T) {
	h, _ := newTestHandler(t)

	now := time.Now()
	body, _ := json.Marshal(CreateExportRequest{CameraID: "cam1", From: now, To: now.Add(time.Minute)})
	req := httptest.NewRequest(http.MethodPost, "/exports", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	var created export.Job
	if err := json.NewDecoder(rec.Body).Decode(&struct {
		Success bool        `json:"success"`
		Data    *export.Job `json:"data"`
	}{Data: &created}); err != nil {
		t.Fatalf("decode: %v", err)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/exports/"+created.ID+"/download", nil)
	rec2 := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a non-completed job, got %d", rec2.Code)
	}
}
