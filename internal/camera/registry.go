// Package camera owns the set of configured cameras and, for each, the
// pipeline of collaborators that turn its stream into recorded storage:
// the encoder driver, pacer, frame bus, pre-recording ring, and the
// recording session manager, retention sweeper and retrieval engine bound
// to its per-camera database. Generalized from the teacher's camera
// service (which owned ONVIF/PTZ device state) into the ownership model
// the storage and ingest design describes: a reader-preferring map
// guarding per-camera state, with goroutine start/stop kept outside the
// lock.
package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vigil-nvr/vigil/internal/config"
	"github.com/vigil-nvr/vigil/internal/encoder"
	"github.com/vigil-nvr/vigil/internal/export"
	"github.com/vigil-nvr/vigil/internal/framebus"
	"github.com/vigil-nvr/vigil/internal/nvrerr"
	"github.com/vigil-nvr/vigil/internal/pacer"
	"github.com/vigil-nvr/vigil/internal/prebuffer"
	"github.com/vigil-nvr/vigil/internal/recording"
	"github.com/vigil-nvr/vigil/internal/telemetry"
)

// Camera bundles one camera's live pipeline and storage collaborators.
type Camera struct {
	ID        string
	Bus       *framebus.Bus
	PreBuffer *prebuffer.Ring
	Manager   *recording.Manager
	Retrieval *recording.Retrieval
	store     *recording.Store

	cancel context.CancelFunc
}

// Registry owns every configured camera. Reads (Get, List) take the read
// lock; Add/Remove take the write lock only long enough to install or
// remove the map entry, starting and stopping goroutines outside it so a
// slow camera never stalls a lookup for another.
type Registry struct {
	mu      sync.RWMutex
	cameras map[string]*Camera

	databasePath string
	mp4BasePath  string
	telemetry    *telemetry.Publisher
	exportMgr    *export.Manager
	logger       *slog.Logger
}

// NewRegistry creates an empty camera registry. databasePath is the root
// for per-camera SQLite files; mp4BasePath is the root for
// filesystem-stored MP4 segments.
func NewRegistry(databasePath, mp4BasePath string, tel *telemetry.Publisher, exportMgr *export.Manager) *Registry {
	return &Registry{
		cameras:      make(map[string]*Camera),
		databasePath: databasePath,
		mp4BasePath:  mp4BasePath,
		telemetry:    tel,
		exportMgr:    exportMgr,
		logger:       slog.Default().With("component", "camera-registry"),
	}
}

// Get returns the camera for id, or nil if it is not registered.
func (r *Registry) Get(id string) *Camera {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cameras[id]
}

// List returns every registered camera's ID.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.cameras))
	for id := range r.cameras {
		ids = append(ids, id)
	}
	return ids
}

// Add builds and starts the pipeline for one camera and registers it. It
// is an error to add a camera ID that is already registered.
func (r *Registry) Add(ctx context.Context, cfg *config.Config, cam config.CameraConfig) error {
	r.mu.Lock()
	if _, exists := r.cameras[cam.ID]; exists {
		r.mu.Unlock()
		return nvrerr.New(nvrerr.AlreadyActive, "camera already registered: "+cam.ID)
	}
	r.mu.Unlock()

	resolved := cfg.Pipeline(cam)

	store, err := recording.OpenStore(ctx, r.databasePath, cam.ID)
	if err != nil {
		return err
	}

	bus := framebus.New(resolved.ChannelBufferSize)
	prebuf := prebuffer.New(0)
	if resolved.PreRecordingEnabled {
		prebuf = prebuffer.New(time.Duration(resolved.PreRecordingBufferMinutes) * time.Minute)
	}

	manager := recording.NewManager(cam.ID, store, bus, prebuf, resolved, r.mp4BasePath)
	retrieval := recording.NewRetrieval(cam.ID, store, func() recording.RetrievalPipelineView {
		live := cam
		if c := cfg.GetCamera(cam.ID); c != nil {
			live = *c
		}
		current := cfg.Pipeline(live)
		return recording.RetrievalPipelineView{
			HLSStorageEnabled: current.HLSStorageEnabled,
			MP4StorageType:    current.MP4StorageType,
			HLSSegmentSeconds: current.HLSSegmentSeconds,
		}
	})

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Camera{ID: cam.ID, Bus: bus, PreBuffer: prebuf, Manager: manager, Retrieval: retrieval, store: store, cancel: cancel}

	r.mu.Lock()
	r.cameras[cam.ID] = c
	r.mu.Unlock()

	r.runPipeline(runCtx, cam, resolved, c)

	if r.exportMgr != nil {
		r.exportMgr.RegisterCamera(cam.ID, store)
	}

	if err := manager.RestartActiveOnStartup(ctx); err != nil {
		r.logger.Error("restart-on-startup failed", "camera", cam.ID, "error", err)
	}

	retention := recording.NewRetention(cam.ID, store, func() recording.ResolvedPipelineView {
		live := cam
		if c := cfg.GetCamera(cam.ID); c != nil {
			live = *c
		}
		current := cfg.Pipeline(live)
		return recording.ResolvedPipelineView{
			FrameStorageRetention: current.FrameStorageRetention,
			MP4StorageRetention:   current.MP4StorageRetention,
			HLSStorageRetention:   current.HLSStorageRetention,
			CleanupIntervalHours:  current.CleanupIntervalHours,
		}
	})
	go retention.Run(runCtx)

	return nil
}

// runPipeline starts the encoder driver, the pre-buffer tailer, and the
// pacer that sits between them and the bus. It holds no lock: a camera's
// goroutines run entirely outside the registry's mutex.
func (r *Registry) runPipeline(ctx context.Context, cam config.CameraConfig, resolved config.ResolvedPipeline, c *Camera) {
	driverCfg := encoder.Config{
		StreamURL:             cam.Stream.URL,
		Transport:             cam.Stream.Transport,
		Auth:                  encoder.StreamAuth{Username: cam.Stream.Username, Password: cam.Stream.Password},
		ExtraArgs:             cam.Stream.ExtraArgs,
		OutputFramerate:       resolved.OutputFramerate,
		DataTimeoutSecs:       resolved.DataTimeoutSecs,
		ReconnectIntervalSecs: resolved.ReconnectIntervalSecs,
	}
	drv := encoder.New(cam.ID, driverCfg)
	frames := make(chan encoder.Frame, resolved.ChannelBufferSize)

	p := pacer.New(c.Bus, resolved.OutputFramerate, resolved.AllowDuplicateFrames)
	go p.Run()

	go drv.Run(ctx, frames)

	go func() {
		for {
			select {
			case <-ctx.Done():
				p.Stop()
				return
			case f := <-frames:
				if r.telemetry != nil {
					r.telemetry.Record(cam.ID, len(f.Payload))
				}
				if resolved.PreRecordingEnabled {
					c.PreBuffer.Append(prebuffer.Frame{Timestamp: f.Timestamp, Payload: f.Payload})
				}
				p.Submit(framebus.Frame{Timestamp: f.Timestamp, Payload: f.Payload})
			}
		}
	}()
}

// Remove stops the camera's active recording session (if any) and its
// pipeline, closes its store, and drops it from the registry.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	c, ok := r.cameras[id]
	if !ok {
		r.mu.Unlock()
		return nvrerr.New(nvrerr.CameraNotFound, id)
	}
	delete(r.cameras, id)
	r.mu.Unlock()

	if c.Manager.IsRecording() {
		_ = c.Manager.StopRecording(context.Background())
	}
	c.cancel()
	c.Bus.Close()
	if err := c.store.Close(); err != nil {
		return fmt.Errorf("close camera store: %w", err)
	}
	return nil
}

