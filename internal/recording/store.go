package recording

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vigil-nvr/vigil/internal/database"
	"github.com/vigil-nvr/vigil/internal/nvrerr"
)

// Store is the per-camera database: one SQLite file holding that camera's
// sessions, frames, mp4 segments, hls segments and hls playlist cache.
// Grounded on the teacher's SQLiteRepository, generalized from a single
// flat "recordings" table to the session-indexed schema.
type Store struct {
	cameraID string
	db       *database.DB
}

// OpenStore opens (creating on first use) the SQLite file for one camera
// under databasePath/{camera_id}.db and ensures its schema exists.
func OpenStore(ctx context.Context, databasePath, cameraID string) (*Store, error) {
	cfg := database.DefaultConfig(databasePath)
	cfg.Path = databasePath + "/" + cameraID + ".db"

	db, err := database.Open(cfg)
	if err != nil {
		return nil, nvrerr.Wrap(nvrerr.StorageFailure, "open camera database", err)
	}

	s := &Store{cameraID: cameraID, db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, nvrerr.Wrap(nvrerr.StorageFailure, "init camera schema", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			camera_id TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER,
			reason TEXT,
			status TEXT NOT NULL,
			keep_session INTEGER NOT NULL DEFAULT 0,
			lost_frames INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS frames (
			session_id INTEGER NOT NULL,
			frame_index INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			payload BLOB NOT NULL,
			size INTEGER NOT NULL,
			PRIMARY KEY (session_id, frame_index)
		);
		CREATE INDEX IF NOT EXISTS idx_frames_session_ts ON frames(session_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_frames_ts ON frames(timestamp);

		CREATE TABLE IF NOT EXISTS mp4_segments (
			session_id INTEGER NOT NULL,
			camera_id TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			recording_reason TEXT,
			size_bytes INTEGER NOT NULL,
			storage TEXT NOT NULL,
			file_path TEXT,
			inline_blob BLOB
		);
		CREATE INDEX IF NOT EXISTS idx_mp4_camera_start ON mp4_segments(camera_id, start_time);

		CREATE TABLE IF NOT EXISTS hls_segments (
			session_id INTEGER NOT NULL,
			segment_index INTEGER NOT NULL,
			start_time INTEGER NOT NULL,
			duration_seconds REAL NOT NULL,
			payload BLOB NOT NULL,
			size_bytes INTEGER NOT NULL,
			PRIMARY KEY (session_id, segment_index)
		);
		CREATE INDEX IF NOT EXISTS idx_hls_session_idx ON hls_segments(session_id, segment_index);

		CREATE TABLE IF NOT EXISTS hls_cache (
			playlist_id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			t1 INTEGER NOT NULL,
			t2 INTEGER NOT NULL,
			segment_duration INTEGER NOT NULL,
			playlist_text TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);
	`)
	return err
}

// --- sessions ---

func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	sess.CreatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (camera_id, start_time, reason, status, keep_session, lost_frames, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sess.CameraID, sess.StartTime.UnixNano(), sess.Reason, sess.Status, boolToInt(sess.KeepSession), sess.LostFrames, sess.CreatedAt.UnixNano())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	sess.ID = id
	return nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id int64, status SessionStatus, endTime *time.Time, lostFrames int64) error {
	var end sql.NullInt64
	if endTime != nil {
		end = sql.NullInt64{Int64: endTime.UnixNano(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, end_time = ?, lost_frames = ? WHERE id = ?
	`, status, end, lostFrames, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return nvrerr.New(nvrerr.SessionNotFound, fmt.Sprintf("session %d", id))
	}
	return nil
}

func (s *Store) SetKeepSession(ctx context.Context, id int64, keep bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET keep_session = ? WHERE id = ?`, boolToInt(keep), id)
	return err
}

func (s *Store) GetSession(ctx context.Context, id int64) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, camera_id, start_time, end_time, reason, status, keep_session, lost_frames, created_at
		FROM sessions WHERE id = ?
	`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nvrerr.New(nvrerr.SessionNotFound, fmt.Sprintf("session %d", id))
	}
	return sess, err
}

func (s *Store) GetActiveSession(ctx context.Context) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, camera_id, start_time, end_time, reason, status, keep_session, lost_frames, created_at
		FROM sessions WHERE status = ? ORDER BY id DESC LIMIT 1
	`, SessionActive)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sess, err
}

func (s *Store) ListSessions(ctx context.Context, f ListFilter) ([]Session, error) {
	query := `SELECT id, camera_id, start_time, end_time, reason, status, keep_session, lost_frames, created_at FROM sessions`
	var args []interface{}
	if f.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, *f.Status)
	}
	query += ` ORDER BY start_time DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return nvrerr.New(nvrerr.SessionNotFound, fmt.Sprintf("session %d", id))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var startTime int64
	var endTime sql.NullInt64
	var reason sql.NullString
	var keep int
	var createdAt int64

	if err := row.Scan(&sess.ID, &sess.CameraID, &startTime, &endTime, &reason, &sess.Status, &keep, &sess.LostFrames, &createdAt); err != nil {
		return nil, err
	}
	sess.StartTime = time.Unix(0, startTime)
	sess.CreatedAt = time.Unix(0, createdAt)
	sess.Reason = reason.String
	sess.KeepSession = keep == 1
	if endTime.Valid {
		t := time.Unix(0, endTime.Int64)
		sess.EndTime = &t
	}
	return &sess, nil
}

// --- frames ---

// InsertFrames bulk-inserts a batch of frames for one session in a single
// transaction (one prepared statement run per frame), matching the writer's
// batched-insert cadence (§4.6).
func (s *Store) InsertFrames(ctx context.Context, frames []Frame) error {
	if len(frames) == 0 {
		return nil
	}
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO frames (session_id, frame_index, timestamp, payload, size) VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, f := range frames {
			if _, err := stmt.ExecContext(ctx, f.SessionID, f.FrameIndex, f.Timestamp.UnixNano(), f.Payload, f.Size); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetFrameAt returns the frame closest to ts. If tolerance is zero, only an
// exact timestamp match is returned. Otherwise the closest frame within
// tolerance is returned, with the earlier frame winning on a tie.
func (s *Store) GetFrameAt(ctx context.Context, sessionID int64, ts time.Time, tolerance time.Duration) (*Frame, error) {
	if tolerance <= 0 {
		row := s.db.QueryRowContext(ctx, `
			SELECT session_id, frame_index, timestamp, payload, size FROM frames
			WHERE session_id = ? AND timestamp = ?
		`, sessionID, ts.UnixNano())
		return scanFrame(row)
	}

	lo := ts.Add(-tolerance).UnixNano()
	hi := ts.Add(tolerance).UnixNano()
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, frame_index, timestamp, payload, size FROM frames
		WHERE session_id = ? AND timestamp BETWEEN ? AND ?
		ORDER BY timestamp ASC
	`, sessionID, lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	target := ts.UnixNano()
	var best *Frame
	var bestDelta int64 = -1
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, err
		}
		delta := f.Timestamp.UnixNano() - target
		if delta < 0 {
			delta = -delta
		}
		if bestDelta == -1 || delta < bestDelta {
			best, bestDelta = f, delta
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if best == nil {
		return nil, sql.ErrNoRows
	}
	return best, nil
}

func scanFrame(row rowScanner) (*Frame, error) {
	var f Frame
	var ts int64
	if err := row.Scan(&f.SessionID, &f.FrameIndex, &ts, &f.Payload, &f.Size); err != nil {
		return nil, err
	}
	f.Timestamp = time.Unix(0, ts)
	return &f, nil
}

// SessionFrameCount returns the number of surviving frame rows for a session.
func (s *Store) SessionFrameCount(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frames WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// SessionMP4Count returns the number of surviving mp4 segment rows for a session.
func (s *Store) SessionMP4Count(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mp4_segments WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// DeleteFramesOlderThan removes frames across all sessions with a timestamp
// before cutoff, returning the number of rows removed.
func (s *Store) DeleteFramesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM frames WHERE timestamp < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetFrameAtCamera is GetFrameAt but searches across every session
// belonging to cameraID, for retrieval paths that address a camera by
// timestamp rather than a specific session.
func (s *Store) GetFrameAtCamera(ctx context.Context, cameraID string, ts time.Time, tolerance time.Duration) (*Frame, error) {
	lo, hi := ts, ts
	if tolerance > 0 {
		lo, hi = ts.Add(-tolerance), ts.Add(tolerance)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.session_id, f.frame_index, f.timestamp, f.payload, f.size
		FROM frames f
		JOIN sessions s ON s.id = f.session_id
		WHERE s.camera_id = ? AND f.timestamp BETWEEN ? AND ?
		ORDER BY f.timestamp ASC
	`, cameraID, lo.UnixNano(), hi.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	target := ts.UnixNano()
	var best *Frame
	var bestDelta int64 = -1
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, err
		}
		delta := f.Timestamp.UnixNano() - target
		if delta < 0 {
			delta = -delta
		}
		if bestDelta == -1 || delta < bestDelta {
			best, bestDelta = f, delta
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if best == nil {
		return nil, sql.ErrNoRows
	}
	return best, nil
}

// --- mp4 segments ---

func (s *Store) InsertMP4Segment(ctx context.Context, seg *VideoSegment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mp4_segments (session_id, camera_id, start_time, end_time, recording_reason, size_bytes, storage, file_path, inline_blob)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, seg.SessionID, seg.CameraID, seg.StartTime.UnixNano(), seg.EndTime.UnixNano(), seg.RecordingReason, seg.SizeBytes, seg.Storage, nullString(seg.FilePath), nullBlob(seg.InlineBlob))
	return err
}

func (s *Store) ListMP4SegmentsInRange(ctx context.Context, cameraID string, start, end time.Time) ([]VideoSegment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, camera_id, start_time, end_time, recording_reason, size_bytes, storage, file_path, inline_blob
		FROM mp4_segments
		WHERE camera_id = ? AND start_time < ? AND end_time > ?
		ORDER BY start_time ASC
	`, cameraID, end.UnixNano(), start.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VideoSegment
	for rows.Next() {
		seg, err := scanMP4Segment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *seg)
	}
	return out, rows.Err()
}

func scanMP4Segment(row rowScanner) (*VideoSegment, error) {
	var seg VideoSegment
	var startTime, endTime int64
	var reason, filePath sql.NullString
	var blob []byte

	if err := row.Scan(&seg.SessionID, &seg.CameraID, &startTime, &endTime, &reason, &seg.SizeBytes, &seg.Storage, &filePath, &blob); err != nil {
		return nil, err
	}
	seg.StartTime = time.Unix(0, startTime)
	seg.EndTime = time.Unix(0, endTime)
	seg.RecordingReason = reason.String
	seg.FilePath = filePath.String
	seg.InlineBlob = blob
	return &seg, nil
}

func (s *Store) OldestMP4SegmentsBefore(ctx context.Context, cutoff time.Time) ([]VideoSegment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, camera_id, start_time, end_time, recording_reason, size_bytes, storage, file_path, inline_blob
		FROM mp4_segments WHERE end_time < ? ORDER BY start_time ASC
	`, cutoff.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VideoSegment
	for rows.Next() {
		seg, err := scanMP4Segment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *seg)
	}
	return out, rows.Err()
}

func (s *Store) DeleteMP4Segment(ctx context.Context, sessionID int64, startTime time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mp4_segments WHERE session_id = ? AND start_time = ?`, sessionID, startTime.UnixNano())
	return err
}

// GetMP4SegmentByStartTime returns the segment whose start_time exactly
// matches startTime, for the HTTP layer's /cameras/{id}/frames/{filename}
// route: filenames are derived 1:1 from start_time, so retrieval parses the
// filename back into a timestamp and looks up the exact row rather than
// pattern-matching on the stored path.
func (s *Store) GetMP4SegmentByStartTime(ctx context.Context, cameraID string, startTime time.Time) (*VideoSegment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, camera_id, start_time, end_time, recording_reason, size_bytes, storage, file_path, inline_blob
		FROM mp4_segments WHERE camera_id = ? AND start_time = ?
	`, cameraID, startTime.UnixNano())
	return scanMP4Segment(row)
}

// --- hls segments ---

// InsertHLSSegment is OR REPLACE so re-synthesizing a fallback playlist for
// the same range (same deterministic synthetic session id and segment
// index) after its cache entry expires overwrites cleanly instead of
// violating the (session_id, segment_index) primary key.
func (s *Store) InsertHLSSegment(ctx context.Context, seg *HlsSegment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO hls_segments (session_id, segment_index, start_time, duration_seconds, payload, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?)
	`, seg.SessionID, seg.SegmentIndex, seg.StartTime.UnixNano(), seg.DurationSeconds, seg.Payload, seg.SizeBytes)
	return err
}

func (s *Store) ListHLSSegments(ctx context.Context, sessionID int64) ([]HlsSegment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, segment_index, start_time, duration_seconds, payload, size_bytes
		FROM hls_segments WHERE session_id = ? ORDER BY segment_index ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HlsSegment
	for rows.Next() {
		var seg HlsSegment
		var startTime int64
		if err := rows.Scan(&seg.SessionID, &seg.SegmentIndex, &startTime, &seg.DurationSeconds, &seg.Payload, &seg.SizeBytes); err != nil {
			return nil, err
		}
		seg.StartTime = time.Unix(0, startTime)
		out = append(out, seg)
	}
	return out, rows.Err()
}

// GetHLSSegmentBySessionAndIndex returns one segment's bytes for the
// HTTP layer's /cameras/{id}/frames/{filename} route, where filename
// encodes "segment-{sessionID}-{index}.ts".
func (s *Store) GetHLSSegmentBySessionAndIndex(ctx context.Context, sessionID, index int64) (*HlsSegment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, segment_index, start_time, duration_seconds, payload, size_bytes
		FROM hls_segments WHERE session_id = ? AND segment_index = ?
	`, sessionID, index)

	var seg HlsSegment
	var startTime int64
	if err := row.Scan(&seg.SessionID, &seg.SegmentIndex, &startTime, &seg.DurationSeconds, &seg.Payload, &seg.SizeBytes); err != nil {
		return nil, err
	}
	seg.StartTime = time.Unix(0, startTime)
	return &seg, nil
}

// ListHLSSegmentsInRange returns hls segments belonging to sessions whose
// camera_id matches and whose start_time falls within [start,end), joined
// through sessions since hls_segments itself carries no camera_id column.
func (s *Store) ListHLSSegmentsInRange(ctx context.Context, cameraID string, start, end time.Time) ([]HlsSegment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.session_id, h.segment_index, h.start_time, h.duration_seconds, h.payload, h.size_bytes
		FROM hls_segments h
		JOIN sessions s ON s.id = h.session_id
		WHERE s.camera_id = ? AND h.start_time >= ? AND h.start_time < ?
		ORDER BY h.start_time ASC
	`, cameraID, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HlsSegment
	for rows.Next() {
		var seg HlsSegment
		var startTime int64
		if err := rows.Scan(&seg.SessionID, &seg.SegmentIndex, &startTime, &seg.DurationSeconds, &seg.Payload, &seg.SizeBytes); err != nil {
			return nil, err
		}
		seg.StartTime = time.Unix(0, startTime)
		out = append(out, seg)
	}
	return out, rows.Err()
}

func (s *Store) DeleteHLSSegmentsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM hls_segments WHERE start_time < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- hls playlist cache ---

func (s *Store) PutHLSCache(ctx context.Context, c *HlsPlaylistCache) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO hls_cache (playlist_id, camera_id, t1, t2, segment_duration, playlist_text, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.PlaylistID, c.CameraID, c.T1.UnixNano(), c.T2.UnixNano(), int64(c.SegmentDuration), c.PlaylistText, c.CreatedAt.UnixNano(), c.ExpiresAt.UnixNano())
	return err
}

func (s *Store) GetHLSCache(ctx context.Context, playlistID string) (*HlsPlaylistCache, error) {
	var c HlsPlaylistCache
	var t1, t2, segDur, createdAt, expiresAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT playlist_id, camera_id, t1, t2, segment_duration, playlist_text, created_at, expires_at
		FROM hls_cache WHERE playlist_id = ?
	`, playlistID).Scan(&c.PlaylistID, &c.CameraID, &t1, &t2, &segDur, &c.PlaylistText, &createdAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	c.T1, c.T2 = time.Unix(0, t1), time.Unix(0, t2)
	c.SegmentDuration = time.Duration(segDur)
	c.CreatedAt = time.Unix(0, createdAt)
	c.ExpiresAt = time.Unix(0, expiresAt)
	return &c, nil
}

// FindCachedPlaylist returns an unexpired cache entry for the exact
// (camera, t1, t2, segment_duration) key, so repeat requests for the same
// synthesized range are served from cache rather than re-invoking the
// encoder.
func (s *Store) FindCachedPlaylist(ctx context.Context, cameraID string, t1, t2 time.Time, segDuration time.Duration, now time.Time) (*HlsPlaylistCache, error) {
	var c HlsPlaylistCache
	var rt1, rt2, rSegDur, createdAt, expiresAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT playlist_id, camera_id, t1, t2, segment_duration, playlist_text, created_at, expires_at
		FROM hls_cache
		WHERE camera_id = ? AND t1 = ? AND t2 = ? AND segment_duration = ? AND expires_at > ?
		ORDER BY created_at DESC LIMIT 1
	`, cameraID, t1.UnixNano(), t2.UnixNano(), int64(segDuration), now.UnixNano()).
		Scan(&c.PlaylistID, &c.CameraID, &rt1, &rt2, &rSegDur, &c.PlaylistText, &createdAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	c.T1, c.T2 = time.Unix(0, rt1), time.Unix(0, rt2)
	c.SegmentDuration = time.Duration(rSegDur)
	c.CreatedAt = time.Unix(0, createdAt)
	c.ExpiresAt = time.Unix(0, expiresAt)
	return &c, nil
}

func (s *Store) DeleteExpiredHLSCache(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM hls_cache WHERE expires_at < ?`, now.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBlob(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return b
}
