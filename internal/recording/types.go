// Package recording implements the segmented storage model (C5), the
// recording session manager (C6), and the MP4/HLS segmenters (C7, C8): the
// per-camera database, its frame/segment writers, and the session
// lifecycle that drives them. It generalizes the teacher's single-tier
// Segment/StorageTier model into the session-indexed data model described
// by the storage schema.
package recording

import "time"

// SessionStatus is the lifecycle state of a RecordingSession.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionStopped   SessionStatus = "stopped"
	SessionCompleted SessionStatus = "completed"
)

// MP4StorageType selects how VideoSegment bytes are persisted.
type MP4StorageType string

const (
	MP4StorageDisabled   MP4StorageType = "disabled"
	MP4StorageFilesystem MP4StorageType = "filesystem"
	MP4StorageDatabase   MP4StorageType = "database"
)

// Session is a contiguous recording episode for one camera; the unit of
// lifecycle. id is camera-local and monotonically increasing.
type Session struct {
	ID           int64
	CameraID     string
	StartTime    time.Time
	EndTime      *time.Time
	Reason       string
	Status       SessionStatus
	KeepSession  bool
	LostFrames   int64 // frames dropped by writers due to Lagged(n) signals
	CreatedAt    time.Time
}

// Frame is one recorded JPEG frame belonging to a session.
type Frame struct {
	SessionID  int64
	FrameIndex int64 // monotonic within a session, starts at 1
	Timestamp  time.Time
	Payload    []byte
	Size       int
}

// VideoSegment is a self-contained fragmented-MP4 slice of a session.
type VideoSegment struct {
	SessionID       int64
	CameraID        string
	StartTime       time.Time
	EndTime         time.Time
	RecordingReason string
	SizeBytes       int64
	Storage         MP4StorageType
	FilePath        string // set when Storage == MP4StorageFilesystem
	InlineBlob      []byte // set when Storage == MP4StorageDatabase
}

// HlsSegment is one MPEG-TS segment of a session, indexed 0-based within
// the session.
type HlsSegment struct {
	SessionID       int64
	SegmentIndex    int64
	StartTime       time.Time
	DurationSeconds float64
	Payload         []byte
	SizeBytes       int64
}

// HlsPlaylistCache is an ephemeral cached playlist, used only when the
// engine must synthesise a playlist by re-segmenting MP4.
type HlsPlaylistCache struct {
	PlaylistID      string
	CameraID        string
	T1, T2          time.Time
	SegmentDuration time.Duration
	PlaylistText    string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// ActiveView is a read-only snapshot of a camera's currently Active
// session, if any.
type ActiveView struct {
	Session    Session
	FrameCount int64
}

// ListFilter selects sessions for ListSessions.
type ListFilter struct {
	CameraID string
	Status   *SessionStatus
	Limit    int
	Offset   int
}
