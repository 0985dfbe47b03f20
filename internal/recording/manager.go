// Package recording implements the segmented storage model (C5), the
// recording session manager (C6), and the MP4/HLS segmenters (C7, C8): the
// per-camera database, its frame/segment writers, and the session
// lifecycle that drives them. It generalizes the teacher's single-tier
// Segment/StorageTier model into the session-indexed data model described
// by the storage schema.
package recording

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vigil-nvr/vigil/internal/config"
	"github.com/vigil-nvr/vigil/internal/framebus"
	"github.com/vigil-nvr/vigil/internal/nvrerr"
	"github.com/vigil-nvr/vigil/internal/prebuffer"
)

// frameBatchSize caps how many frames the writer accumulates before it
// flushes to the database; matches the teacher's bulk-insert cadence.
const frameBatchSize = 16

// Manager owns the recording lifecycle for a single camera: starting and
// stopping sessions, flushing the pre-recording buffer into the new
// session, and running the frame/MP4/HLS writers for as long as a session
// is active. Exactly one session may be active at a time (C6's
// single-active-session-per-camera invariant), enforced by mu.
type Manager struct {
	cameraID  string
	store     *Store
	bus       *framebus.Bus
	prebuffer *prebuffer.Ring
	resolved  config.ResolvedPipeline
	basePath  string
	logger    *slog.Logger

	mu     sync.Mutex
	active *activeSession
}

type activeSession struct {
	session Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager constructs a session manager for one camera. bus is the
// camera's live frame bus (C1); prebuf is its pre-recording ring (C4).
func NewManager(cameraID string, store *Store, bus *framebus.Bus, prebuf *prebuffer.Ring, resolved config.ResolvedPipeline, basePath string) *Manager {
	return &Manager{
		cameraID:  cameraID,
		store:     store,
		bus:       bus,
		prebuffer: prebuf,
		resolved:  resolved,
		basePath:  basePath,
		logger:    slog.Default().With("component", "recording-manager", "camera", cameraID),
	}
}

// IsRecording reports whether a session is currently active.
func (m *Manager) IsRecording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// GetActive returns a snapshot of the currently active session, if any.
func (m *Manager) GetActive(ctx context.Context) (*ActiveView, error) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active == nil {
		return nil, nil
	}
	sess, err := m.store.GetSession(ctx, active.session.ID)
	if err != nil {
		return nil, err
	}
	return &ActiveView{Session: *sess}, nil
}

// StartRecording begins a new session for reason, flushing the pre-buffer
// as its first frames. requestedDuration, if non-zero, auto-stops the
// session after that duration elapses. Returns AlreadyActive if a session
// is already running for this camera.
func (m *Manager) StartRecording(ctx context.Context, reason string, requestedDuration time.Duration) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, nvrerr.New(nvrerr.AlreadyActive, "recording already active for camera "+m.cameraID)
	}

	startTime := time.Now()
	if oldest, ok := m.prebuffer.OldestTimestamp(); ok {
		startTime = oldest
	}

	sess := Session{
		CameraID:  m.cameraID,
		StartTime: startTime,
		Reason:    reason,
		Status:    SessionActive,
	}
	if err := m.store.CreateSession(ctx, &sess); err != nil {
		return nil, nvrerr.Wrap(nvrerr.StorageFailure, "create session", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.active = &activeSession{session: sess, cancel: cancel, done: done}
	go m.run(runCtx, done, sess, requestedDuration)

	m.logger.Info("recording started", "session_id", sess.ID, "reason", reason)
	return &sess, nil
}

// StopRecording ends the active session. It is a no-op error (SessionNotFound)
// if no session is active.
func (m *Manager) StopRecording(ctx context.Context) error {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active == nil {
		return nvrerr.New(nvrerr.SessionNotFound, "no active session for camera "+m.cameraID)
	}

	active.cancel()
	<-active.done

	m.mu.Lock()
	if m.active == active {
		m.active = nil
	}
	m.mu.Unlock()
	return nil
}

// RestartActiveOnStartup recovers from an unclean shutdown: a session left
// in SessionActive status could not have been stopped cleanly, since a
// clean Stop always transitions it before returning. It is closed out as
// Stopped and, if the camera is still enabled, a fresh session picks up
// recording under a "restart-after-crash" reason.
func (m *Manager) RestartActiveOnStartup(ctx context.Context) error {
	prior, err := m.store.GetActiveSession(ctx)
	if err != nil {
		return err
	}
	if prior == nil {
		return nil
	}

	now := time.Now()
	if err := m.store.UpdateSessionStatus(ctx, prior.ID, SessionStopped, &now, prior.LostFrames); err != nil {
		return err
	}
	m.logger.Warn("closed dangling active session from unclean shutdown", "session_id", prior.ID)

	_, err = m.StartRecording(ctx, "restart-after-crash", 0)
	return err
}

// ListSessions delegates to the store.
func (m *Manager) ListSessions(ctx context.Context, f ListFilter) ([]Session, error) {
	return m.store.ListSessions(ctx, f)
}

// DeleteSession removes a stopped session's row; refuses to delete the
// active session.
func (m *Manager) DeleteSession(ctx context.Context, id int64) error {
	m.mu.Lock()
	if m.active != nil && m.active.session.ID == id {
		m.mu.Unlock()
		return nvrerr.New(nvrerr.AlreadyActive, "cannot delete the active session")
	}
	m.mu.Unlock()
	return m.store.DeleteSession(ctx, id)
}

// run drives one session's writers until ctx is cancelled or
// requestedDuration elapses, then finalizes the session row.
func (m *Manager) run(ctx context.Context, done chan<- struct{}, sess Session, requestedDuration time.Duration) {
	defer close(done)

	var stopTimer <-chan time.Time
	if requestedDuration > 0 {
		t := time.NewTimer(requestedDuration)
		defer t.Stop()
		stopTimer = t.C
	}

	var wg sync.WaitGroup
	var lostFrames countingInt64

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.runFrameWriter(ctx, sess.ID, &lostFrames)
	}()

	if m.resolved.MP4StorageType != string(MP4StorageDisabled) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runMP4Segmenter(ctx, sess)
		}()
	}

	if m.resolved.HLSStorageEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runHLSSegmenter(ctx, sess)
		}()
	}

	select {
	case <-ctx.Done():
	case <-stopTimer:
	}

	wg.Wait()

	endTime := time.Now()
	bg := context.Background()
	if err := m.store.UpdateSessionStatus(bg, sess.ID, SessionCompleted, &endTime, lostFrames.load()); err != nil {
		m.logger.Error("failed to finalize session", "session_id", sess.ID, "error", err)
	}
}

// runFrameWriter flushes the pre-buffer as the session's first frames, then
// subscribes to the live bus and batches writes to the frame table.
func (m *Manager) runFrameWriter(ctx context.Context, sessionID int64, lost *countingInt64) {
	if !m.resolved.FrameStorageEnabled {
		// Frame storage is off: no bus subscription is taken (so none sits
		// unread) and the pre-buffer is not flushed into the session.
		return
	}

	var nextIndex int64 = 1
	batch := make([]Frame, 0, frameBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := m.store.InsertFrames(context.Background(), batch); err != nil {
			m.logger.Error("frame batch insert failed", "error", err)
		}
		batch = batch[:0]
	}

	for _, pre := range m.prebuffer.Flush() {
		if m.resolved.MaxFrameSize > 0 && len(pre.Payload) > m.resolved.MaxFrameSize {
			continue
		}
		batch = append(batch, Frame{SessionID: sessionID, FrameIndex: nextIndex, Timestamp: pre.Timestamp, Payload: pre.Payload, Size: len(pre.Payload)})
		nextIndex++
		if len(batch) >= frameBatchSize {
			flush()
		}
	}
	flush()

	sub := m.bus.Subscribe()
	defer sub.Close()

	for {
		f, ok, err := sub.RecvCtx(ctx.Done())
		if !ok {
			flush()
			return
		}
		if err != nil {
			if le, isLagged := err.(*nvrerr.LaggedError); isLagged {
				lost.add(int64(le.N))
			}
			continue
		}
		if m.resolved.MaxFrameSize > 0 && len(f.Payload) > m.resolved.MaxFrameSize {
			continue
		}

		batch = append(batch, Frame{SessionID: sessionID, FrameIndex: nextIndex, Timestamp: f.Timestamp, Payload: f.Payload, Size: len(f.Payload)})
		nextIndex++
		if len(batch) >= frameBatchSize {
			flush()
		}
	}
}

type countingInt64 struct {
	mu sync.Mutex
	v  int64
}

func (c *countingInt64) add(n int64) {
	c.mu.Lock()
	c.v += n
	c.mu.Unlock()
}

func (c *countingInt64) load() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}
