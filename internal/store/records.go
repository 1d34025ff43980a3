package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/failure"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/keys"
)

const recordColumns = `id, contributor_key, ordinal, form_type, draft_id, content_json, case_start_date, created_at, amended_at,
	followup_status, followup_error, followup_attempts, followup_updated_at`

// InsertRecord writes a newly promoted record. A clash on the contributor's
// ordinal or on the source draft surfaces as failure.ErrAllocationConflict.
func (t *Tx) InsertRecord(ctx context.Context, r Record) error {
	encoded, err := json.Marshal(r.Content)
	if err != nil {
		return fmt.Errorf("encode record content: %w", err)
	}
	if r.FollowUpStatus == "" {
		r.FollowUpStatus = FollowUpNone
	}
	now := formatTime(t.now)
	_, err = t.exec(ctx, `
		INSERT INTO records (id, contributor_key, ordinal, form_type, draft_id, content_json, case_start_date, created_at,
			followup_status, followup_error, followup_attempts, followup_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', 0, ?)
	`, r.ID, r.ContributorKey, r.Ordinal, r.FormType, r.DraftID, string(encoded), r.CaseStartDate, now, r.FollowUpStatus, now)
	return txFail("insert record", err)
}

// RekeyMedia moves every audio version owned by from to to, keeping version
// numbers and transcripts.
func (t *Tx) RekeyMedia(ctx context.Context, from, to string) (int64, error) {
	res, err := t.exec(ctx, `UPDATE audio_versions SET owner_ref=?, updated_at=? WHERE owner_ref=?`, to, formatTime(t.now), from)
	if err != nil {
		return 0, txFail("rekey media", err)
	}
	moved, err := res.RowsAffected()
	if err != nil {
		return 0, txFail("rekey media", err)
	}
	return moved, nil
}

func (s *Store) GetRecord(ctx context.Context, recordID string) (Record, error) {
	row := s.queryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE id=?`, recordID)
	record, err := scanRecord(row)
	if err != nil {
		return Record{}, fail("get record", err)
	}
	return record, nil
}

// GetRecordByDraftID returns the record promoted from draftID.
func (s *Store) GetRecordByDraftID(ctx context.Context, draftID string) (Record, error) {
	row := s.queryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE draft_id=?`, draftID)
	record, err := scanRecord(row)
	if err != nil {
		return Record{}, fail("get record by draft", err)
	}
	return record, nil
}

// LatestRecord returns the contributor's most recent record of formType, or of
// any form type when formType is empty.
func (s *Store) LatestRecord(ctx context.Context, contributorKey, formType string) (Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE contributor_key=?`
	args := []any{contributorKey}
	if formType != "" {
		query += ` AND form_type=?`
		args = append(args, formType)
	}
	query += ` ORDER BY ordinal DESC LIMIT 1`
	record, err := scanRecord(s.queryRow(ctx, query, args...))
	if err != nil {
		return Record{}, fail("latest record", err)
	}
	return record, nil
}

// ListRecords returns a contributor's records in ordinal order.
func (s *Store) ListRecords(ctx context.Context, contributorKey string) ([]Record, error) {
	return s.listRecords(ctx, "list records",
		`SELECT `+recordColumns+` FROM records WHERE contributor_key=? ORDER BY ordinal`, contributorKey)
}

// ListRecentRecords returns the newest records across all contributors.
func (s *Store) ListRecentRecords(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.listRecords(ctx, "list recent records",
		`SELECT `+recordColumns+` FROM records ORDER BY created_at DESC, id LIMIT ?`, limit)
}

// ListRecordsNeedingFollowUps returns records whose follow-up batch is
// pending since before cutoff, or failed, and that have been requested fewer
// than MaxRecoveryAttempts times.
func (s *Store) ListRecordsNeedingFollowUps(ctx context.Context, cutoff time.Time, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.listRecords(ctx, "list records needing follow-ups", `
		SELECT `+recordColumns+` FROM records
		WHERE ((followup_status=? AND followup_updated_at < ?) OR followup_status=?) AND followup_attempts < ?
		ORDER BY followup_updated_at
		LIMIT ?
	`, FollowUpPending, formatTime(cutoff), FollowUpFailed, MaxRecoveryAttempts, limit)
}

// SearchRecords is the SQL fallback for record search. It matches the query
// case-insensitively against the record id and its stored content.
func (s *Store) SearchRecords(ctx context.Context, query, contributorKey string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	sqlQuery := `SELECT ` + recordColumns + ` FROM records WHERE (LOWER(id) LIKE ? OR LOWER(content_json) LIKE ?)`
	args := []any{pattern, pattern}
	if contributorKey != "" {
		sqlQuery += ` AND contributor_key=?`
		args = append(args, contributorKey)
	}
	sqlQuery += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)
	return s.listRecords(ctx, "search records", sqlQuery, args...)
}

func (s *Store) listRecords(ctx context.Context, op, query string, args ...any) ([]Record, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fail(op, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fail(op, err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(op, err)
	}
	return out, nil
}

// AmendRecordAnswers merges answers into a record's narrative answers.
// Answers can be replaced but never removed, so a blank value is rejected.
// Identity fields never change.
func (s *Store) AmendRecordAnswers(ctx context.Context, recordID string, answers map[string]string) (Record, error) {
	for questionID, answer := range answers {
		if strings.TrimSpace(answer) == "" {
			return Record{}, failure.New(failure.ErrValidation, "amend record", "answer %s must not be blank", questionID)
		}
	}
	err := s.WithTx(ctx, "amend record", func(tx *Tx) error {
		var raw string
		if err := tx.queryRow(ctx, `SELECT content_json FROM records WHERE id=?`, recordID).Scan(&raw); err != nil {
			return txFail("amend record", err)
		}
		var content Content
		if err := decodeJSON(raw, &content); err != nil {
			return err
		}
		if content.Answers == nil {
			content.Answers = map[string]string{}
		}
		for questionID, answer := range answers {
			content.Answers[questionID] = answer
		}
		encoded, err := json.Marshal(content)
		if err != nil {
			return fmt.Errorf("encode record content: %w", err)
		}
		_, err = tx.exec(ctx, `UPDATE records SET content_json=?, amended_at=? WHERE id=?`, string(encoded), formatTime(tx.now), recordID)
		return txFail("amend record", err)
	})
	if err != nil {
		return Record{}, err
	}
	return s.GetRecord(ctx, recordID)
}

// DeleteRecord removes a record with its follow-ups and audio. The
// contributor's high-water mark is untouched, so the ordinal stays retired.
func (s *Store) DeleteRecord(ctx context.Context, recordID string) error {
	return s.WithTx(ctx, "delete record", func(tx *Tx) error {
		if _, err := tx.exec(ctx, `DELETE FROM followup_questions WHERE record_id=?`, recordID); err != nil {
			return txFail("delete record follow-ups", err)
		}
		if _, err := tx.exec(ctx, `DELETE FROM audio_versions WHERE owner_ref=?`, keys.RecordOwner(recordID)); err != nil {
			return txFail("delete record audio", err)
		}
		res, err := tx.exec(ctx, `DELETE FROM records WHERE id=?`, recordID)
		if err != nil {
			return txFail("delete record", err)
		}
		return requireAffected(res, "delete record", "record %s", recordID)
	})
}

// MarkFollowUpsPending flags a record's follow-up batch as requested.
func (s *Store) MarkFollowUpsPending(ctx context.Context, recordID string) error {
	_, err := s.exec(ctx, `
		UPDATE records SET followup_status=?, followup_error='', followup_attempts=followup_attempts+1, followup_updated_at=?
		WHERE id=? AND followup_status<>?
	`, FollowUpPending, formatTime(s.timestamp()), recordID, FollowUpReady)
	return fail("mark follow-ups pending", err)
}

// MarkFollowUpsFailed records a failed generation attempt. A batch that is
// already ready is left alone.
func (s *Store) MarkFollowUpsFailed(ctx context.Context, recordID, reason string) error {
	_, err := s.exec(ctx, `
		UPDATE records SET followup_status=?, followup_error=?, followup_updated_at=?
		WHERE id=? AND followup_status<>?
	`, FollowUpFailed, reason, formatTime(s.timestamp()), recordID, FollowUpReady)
	return fail("mark follow-ups failed", err)
}

func scanRecord(row scanner) (Record, error) {
	var (
		r                    Record
		content              string
		createdAt, updatedAt string
		amendedAt            sql.NullString
	)
	if err := row.Scan(&r.ID, &r.ContributorKey, &r.Ordinal, &r.FormType, &r.DraftID, &content, &r.CaseStartDate,
		&createdAt, &amendedAt, &r.FollowUpStatus, &r.FollowUpError, &r.FollowUpAttempts, &updatedAt); err != nil {
		return Record{}, err
	}
	if err := decodeJSON(content, &r.Content); err != nil {
		return Record{}, err
	}
	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return Record{}, err
	}
	if r.FollowUpUpdatedAt, err = parseTime(updatedAt); err != nil {
		return Record{}, err
	}
	if r.AmendedAt, err = parseNullTime(amendedAt); err != nil {
		return Record{}, err
	}
	return r, nil
}
