package storage

// recordings.go contains Store methods for recording CRUD operations.
// Sessions are stored as a JSON document plus a few indexed columns for
// cheap listing.

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"log"

	"github.com/devbridge/agent/internal/errors"
	"github.com/devbridge/agent/internal/recording"
)

// maxRecordings is the retention cap. Older recordings are deleted when
// the cap is exceeded.
const maxRecordings = 50

// RecordingInfo is a listing row: the session metadata without the
// event payload.
type RecordingInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	StartTime  int64  `json:"startTime"`
	EndTime    int64  `json:"endTime"`
	EventCount int    `json:"eventCount"`
}

// SaveRecording persists a finalized session, enforcing retention.
func (s *Store) SaveRecording(session *recording.Session) error {
	if session == nil {
		return errors.New(errors.CodeStorageSaveFailed, "session cannot be nil")
	}
	if session.Active() {
		return errors.New(errors.CodeStorageSaveFailed, "cannot save an active session")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(errors.CodeStorageSaveFailed, "encode session", err)
	}

	log.Printf("storage: saving recording %s (%q, %d events)", session.ID, session.Name, len(session.Events))

	const query = `
		INSERT OR REPLACE INTO recordings
			(id, name, started_at, ended_at, event_count, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query,
		session.ID,
		session.Name,
		session.StartTime,
		session.EndTime,
		len(session.Events),
		string(data),
	)
	if err != nil {
		return errors.Wrap(errors.CodeStorageSaveFailed, "save recording", err)
	}

	// Enforce retention: delete the oldest recordings beyond the cap.
	const cleanup = `
		DELETE FROM recordings WHERE id IN (
			SELECT id FROM recordings ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)
	`
	if _, err := s.db.Exec(cleanup, maxRecordings); err != nil {
		return errors.Wrap(errors.CodeStorageSaveFailed, "enforce retention", err)
	}
	return nil
}

// GetRecording loads a stored session by id. Returns a
// recording.not_found error when the id does not exist.
func (s *Store) GetRecording(id string) (*recording.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow(`SELECT data FROM recordings WHERE id = ?`, id).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.New(errors.CodeRecordingNotFound, "recording "+id+" not found")
	}
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorageQueryFailed, "load recording", err)
	}

	var session recording.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, errors.Wrap(errors.CodeStorageQueryFailed, "decode recording", err)
	}
	return &session, nil
}

// ListRecordings returns metadata for every stored recording, newest
// first.
func (s *Store) ListRecordings() ([]RecordingInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, name, started_at, ended_at, event_count
		FROM recordings
		ORDER BY started_at DESC
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorageQueryFailed, "list recordings", err)
	}
	defer rows.Close()

	var infos []RecordingInfo
	for rows.Next() {
		var info RecordingInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.StartTime, &info.EndTime, &info.EventCount); err != nil {
			return nil, errors.Wrap(errors.CodeStorageQueryFailed, "scan recording row", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.CodeStorageQueryFailed, "iterate recordings", err)
	}
	return infos, nil
}

// DeleteRecording removes a stored recording. Deleting an unknown id is
// a recording.not_found error.
func (s *Store) DeleteRecording(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(errors.CodeStorageQueryFailed, "delete recording", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.CodeStorageQueryFailed, "delete recording", err)
	}
	if n == 0 {
		return errors.New(errors.CodeRecordingNotFound, "recording "+id+" not found")
	}
	return nil
}
