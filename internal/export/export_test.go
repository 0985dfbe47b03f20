package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vigil-nvr/vigil/internal/nvrerr"
	"github.com/vigil-nvr/vigil/internal/recording"
)

type fakeSource struct {
	segments []recording.VideoSegment
}

func (f *fakeSource) ListMP4SegmentsInRange(ctx context.Context, cameraID string, start, end time.Time) ([]recording.VideoSegment, error) {
	return f.segments, nil
}

func TestEnqueueUnknownCamera(t *testing.T) {
	m := New(t.TempDir(), 10)
	_, err := m.Enqueue("cam1", time.Now(), time.Now())
	if !nvrerr.Is(err, nvrerr.CameraNotFound) {
		t.Fatalf("expected CameraNotFound, got %v", err)
	}
}

func TestEnqueueAndGetJob(t *testing.T) {
	m := New(t.TempDir(), 10)
	m.RegisterCamera("cam1", &fakeSource{})

	job, err := m.Enqueue("cam1", time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Status != JobQueued {
		t.Errorf("expected queued status, got %s", job.Status)
	}

	got, err := m.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.CameraID != "cam1" {
		t.Errorf("unexpected job: %+v", got)
	}
}

func TestGetJobNotFound(t *testing.T) {
	m := New(t.TempDir(), 10)
	_, err := m.GetJob("missing")
	if !nvrerr.Is(err, nvrerr.JobNotFound) {
		t.Fatalf("expected JobNotFound, got %v", err)
	}
}

func TestFilenameStampHasNoExtraDots(t *testing.T) {
	stamp := filenameStamp(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	for _, r := range stamp {
		if r == '.' {
			t.Fatalf("filename stamp must not contain dots, got %q", stamp)
		}
	}
}

func TestDequeueRunnableSetsStartedAtAndInitialProgress(t *testing.T) {
	m := New(t.TempDir(), 10)
	m.RegisterCamera("cam1", &fakeSource{})

	job, err := m.Enqueue("cam1", time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	running := m.dequeueRunnable()
	if running == nil || running.ID != job.ID {
		t.Fatalf("expected job %s to be dequeued as runnable", job.ID)
	}
	if running.StartedAt == nil {
		t.Fatal("expected started_at to be set on transition to running")
	}
	if running.ProgressPercent != 5 {
		t.Errorf("expected progress 5 on transition to running, got %d", running.ProgressPercent)
	}
	if running.Status != JobRunning {
		t.Errorf("expected running status, got %s", running.Status)
	}
}

func TestCompleteJobPopulatesOutputFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cam1_export.mp4")
	// ~60MB, matching the scenario this field exists to observe.
	if err := os.WriteFile(path, make([]byte, 60*1024*1024), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	job := &Job{ID: "exp-1", CameraID: "cam1", Status: JobRunning, ProgressPercent: 5}
	if err := completeJob(job, path); err != nil {
		t.Fatalf("completeJob: %v", err)
	}

	if job.Status != JobCompleted {
		t.Errorf("expected completed status, got %s", job.Status)
	}
	if job.OutputFilename != "cam1_export.mp4" {
		t.Errorf("unexpected output_filename: %q", job.OutputFilename)
	}
	wantSize := int64(60 * 1024 * 1024)
	if diff := job.FileSizeBytes - wantSize; diff < -wantSize/100 || diff > wantSize/100 {
		t.Errorf("expected file_size_bytes within 1%% of %d, got %d", wantSize, job.FileSizeBytes)
	}
	if job.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
	if job.ProgressPercent != 100 {
		t.Errorf("expected progress 100, got %d", job.ProgressPercent)
	}
}

func TestEvictsFinishedJobWhenQueueFull(t *testing.T) {
	m := New(t.TempDir(), 1)
	m.RegisterCamera("cam1", &fakeSource{})

	job, err := m.Enqueue("cam1", time.Now(), time.Now())
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	m.mu.Lock()
	m.jobs[job.ID].Status = JobCompleted
	m.mu.Unlock()

	if _, err := m.Enqueue("cam1", time.Now(), time.Now()); err != nil {
		t.Fatalf("expected eviction to make room, got %v", err)
	}
}
