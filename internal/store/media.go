package store

import (
	"context"
	"database/sql"
	"time"
)

const audioColumns = `owner_ref, question_id, version, blob_key, content_type, size, original_transcript, edited_transcript,
	transcript_status, transcript_error, transcript_attempts, created_at, updated_at`

// InsertAudioVersion appends the next version for (owner, question). Versions
// start at 1 and increase by one; a concurrent append that picks the same
// number loses on the primary key and is retried by WithTx.
func (s *Store) InsertAudioVersion(ctx context.Context, v AudioVersion) (AudioVersion, error) {
	err := s.WithTx(ctx, "add audio version", func(tx *Tx) error {
		var next int
		if err := tx.queryRow(ctx, `
			SELECT COALESCE(MAX(version), 0) + 1 FROM audio_versions WHERE owner_ref=? AND question_id=?
		`, v.OwnerRef, v.QuestionID).Scan(&next); err != nil {
			return txFail("next audio version", err)
		}
		v.Version = next
		v.TranscriptStatus = TranscriptPending
		v.TranscriptError = ""
		v.OriginalTranscript, v.EditedTranscript = nil, nil
		v.CreatedAt, v.UpdatedAt = tx.now, tx.now
		_, err := tx.exec(ctx, `
			INSERT INTO audio_versions (owner_ref, question_id, version, blob_key, content_type, size,
				transcript_status, transcript_error, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, '', ?, ?)
		`, v.OwnerRef, v.QuestionID, v.Version, v.BlobKey, v.ContentType, v.Size, v.TranscriptStatus,
			formatTime(tx.now), formatTime(tx.now))
		return txFail("insert audio version", err)
	})
	if err != nil {
		return AudioVersion{}, err
	}
	return v, nil
}

func (s *Store) GetAudioVersion(ctx context.Context, owner, questionID string, version int) (AudioVersion, error) {
	row := s.queryRow(ctx, `SELECT `+audioColumns+` FROM audio_versions WHERE owner_ref=? AND question_id=? AND version=?`,
		owner, questionID, version)
	v, err := scanAudioVersion(row)
	if err != nil {
		return AudioVersion{}, fail("get audio version", err)
	}
	return v, nil
}

// CurrentAudioVersion returns the highest version for (owner, question).
func (s *Store) CurrentAudioVersion(ctx context.Context, owner, questionID string) (AudioVersion, error) {
	row := s.queryRow(ctx, `
		SELECT `+audioColumns+` FROM audio_versions WHERE owner_ref=? AND question_id=?
		ORDER BY version DESC LIMIT 1
	`, owner, questionID)
	v, err := scanAudioVersion(row)
	if err != nil {
		return AudioVersion{}, fail("current audio version", err)
	}
	return v, nil
}

// ListAudioVersions returns every version for (owner, question) in ascending order.
func (s *Store) ListAudioVersions(ctx context.Context, owner, questionID string) ([]AudioVersion, error) {
	return s.listAudio(ctx, "list audio versions", `
		SELECT `+audioColumns+` FROM audio_versions WHERE owner_ref=? AND question_id=? ORDER BY version
	`, owner, questionID)
}

// ListOwnerAudio returns all versions held by owner, grouped by question.
func (s *Store) ListOwnerAudio(ctx context.Context, owner string) ([]AudioVersion, error) {
	return s.listAudio(ctx, "list owner audio", `
		SELECT `+audioColumns+` FROM audio_versions WHERE owner_ref=? ORDER BY question_id, version
	`, owner)
}

// ListTranscriptsNeedingWork returns versions whose transcript is pending
// since before cutoff, or failed, and that have failed fewer than
// MaxRecoveryAttempts times.
func (s *Store) ListTranscriptsNeedingWork(ctx context.Context, cutoff time.Time, limit int) ([]AudioVersion, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.listAudio(ctx, "list transcripts needing work", `
		SELECT `+audioColumns+` FROM audio_versions
		WHERE ((transcript_status=? AND updated_at < ?) OR transcript_status=?) AND transcript_attempts < ?
		ORDER BY updated_at
		LIMIT ?
	`, TranscriptPending, formatTime(cutoff), TranscriptFailed, MaxRecoveryAttempts, limit)
}

// SetOriginalTranscript stores the machine transcript once. The edited
// transcript defaults to it unless the contributor already edited. It reports
// false when an original was already stored.
func (s *Store) SetOriginalTranscript(ctx context.Context, owner, questionID string, version int, text string) (bool, error) {
	res, err := s.exec(ctx, `
		UPDATE audio_versions
		SET original_transcript=?, edited_transcript=COALESCE(edited_transcript, ?),
			transcript_status=?, transcript_error='', updated_at=?
		WHERE owner_ref=? AND question_id=? AND version=? AND original_transcript IS NULL
	`, text, text, TranscriptReady, formatTime(s.timestamp()), owner, questionID, version)
	if err != nil {
		return false, fail("set original transcript", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fail("set original transcript", err)
	}
	if affected == 0 {
		if _, err := s.GetAudioVersion(ctx, owner, questionID, version); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// MarkTranscript sets the transcript status of a version whose original
// transcript has not been stored yet. Marking it failed counts an attempt.
func (s *Store) MarkTranscript(ctx context.Context, owner, questionID string, version int, status, reason string) error {
	failed := 0
	if status == TranscriptFailed {
		failed = 1
	}
	_, err := s.exec(ctx, `
		UPDATE audio_versions SET transcript_status=?, transcript_error=?, transcript_attempts=transcript_attempts+?, updated_at=?
		WHERE owner_ref=? AND question_id=? AND version=? AND original_transcript IS NULL
	`, status, reason, failed, formatTime(s.timestamp()), owner, questionID, version)
	return fail("mark transcript", err)
}

// UpdateEditedTranscript replaces the contributor-edited transcript. The
// original transcript is never touched.
func (s *Store) UpdateEditedTranscript(ctx context.Context, owner, questionID string, version int, text string) (AudioVersion, error) {
	res, err := s.exec(ctx, `
		UPDATE audio_versions SET edited_transcript=?, updated_at=?
		WHERE owner_ref=? AND question_id=? AND version=?
	`, text, formatTime(s.timestamp()), owner, questionID, version)
	if err != nil {
		return AudioVersion{}, fail("edit transcript", err)
	}
	if err := requireAffected(res, "edit transcript", "audio version %s/%s/%d", owner, questionID, version); err != nil {
		return AudioVersion{}, err
	}
	return s.GetAudioVersion(ctx, owner, questionID, version)
}

func (s *Store) listAudio(ctx context.Context, op, query string, args ...any) ([]AudioVersion, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fail(op, err)
	}
	defer rows.Close()

	var out []AudioVersion
	for rows.Next() {
		v, err := scanAudioVersion(rows)
		if err != nil {
			return nil, fail(op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(op, err)
	}
	return out, nil
}

func scanAudioVersion(row scanner) (AudioVersion, error) {
	var (
		v                    AudioVersion
		original, edited     sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&v.OwnerRef, &v.QuestionID, &v.Version, &v.BlobKey, &v.ContentType, &v.Size, &original, &edited,
		&v.TranscriptStatus, &v.TranscriptError, &v.TranscriptAttempts, &createdAt, &updatedAt); err != nil {
		return AudioVersion{}, err
	}
	if original.Valid {
		text := original.String
		v.OriginalTranscript = &text
	}
	if edited.Valid {
		text := edited.String
		v.EditedTranscript = &text
	}
	var err error
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return AudioVersion{}, err
	}
	if v.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return AudioVersion{}, err
	}
	return v, nil
}

// PutBlob stores audio bytes under their content address. Storing the same
// key twice is a no-op.
func (s *Store) PutBlob(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.exec(ctx, `
		INSERT INTO audio_blobs (key, content_type, size, data, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO NOTHING
	`, key, contentType, int64(len(data)), data, formatTime(s.timestamp()))
	return fail("put blob", err)
}

func (s *Store) GetBlob(ctx context.Context, key string) ([]byte, string, error) {
	var (
		data        []byte
		contentType string
	)
	if err := s.queryRow(ctx, `SELECT data, content_type FROM audio_blobs WHERE key=?`, key).Scan(&data, &contentType); err != nil {
		return nil, "", fail("get blob", err)
	}
	return data, contentType, nil
}
