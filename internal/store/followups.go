package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const followUpColumns = `id, record_id, category, ordinal, text, answer_text, answer_audio_question_id, answered_at, created_at`

// SaveFollowUpBatch stores a record's generated follow-up questions and marks
// the batch ready, all in one transaction. If the record already holds a
// batch nothing is written and false is returned.
func (s *Store) SaveFollowUpBatch(ctx context.Context, recordID string, questions []FollowUpQuestion) (bool, error) {
	saved := false
	err := s.WithTx(ctx, "save follow-ups", func(tx *Tx) error {
		saved = false
		var existing int
		if err := tx.queryRow(ctx, `SELECT COUNT(*) FROM followup_questions WHERE record_id=?`, recordID).Scan(&existing); err != nil {
			return txFail("count follow-ups", err)
		}
		if existing > 0 {
			return nil
		}
		now := formatTime(tx.now)
		for _, q := range questions {
			id := q.ID
			if id == "" {
				id = uuid.NewString()
			}
			if _, err := tx.exec(ctx, `
				INSERT INTO followup_questions (id, record_id, category, ordinal, text, answer_text, answer_audio_question_id, created_at)
				VALUES (?, ?, ?, ?, ?, '', '', ?)
			`, id, recordID, q.Category, q.Ordinal, q.Text, now); err != nil {
				return txFail("insert follow-up", err)
			}
		}
		res, err := tx.exec(ctx, `
			UPDATE records SET followup_status=?, followup_error='', followup_updated_at=? WHERE id=?
		`, FollowUpReady, now, recordID)
		if err != nil {
			return txFail("mark follow-ups ready", err)
		}
		if err := requireAffected(res, "mark follow-ups ready", "record %s", recordID); err != nil {
			return err
		}
		saved = true
		return nil
	})
	return saved, err
}

// ListFollowUps returns a record's follow-ups ordered by category then ordinal.
func (s *Store) ListFollowUps(ctx context.Context, recordID string) ([]FollowUpQuestion, error) {
	rows, err := s.query(ctx, `
		SELECT `+followUpColumns+` FROM followup_questions WHERE record_id=? ORDER BY category, ordinal
	`, recordID)
	if err != nil {
		return nil, fail("list follow-ups", err)
	}
	defer rows.Close()

	var out []FollowUpQuestion
	for rows.Next() {
		q, err := scanFollowUp(rows)
		if err != nil {
			return nil, fail("list follow-ups", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list follow-ups", err)
	}
	return out, nil
}

func (s *Store) GetFollowUp(ctx context.Context, recordID, questionID string) (FollowUpQuestion, error) {
	row := s.queryRow(ctx, `SELECT `+followUpColumns+` FROM followup_questions WHERE record_id=? AND id=?`, recordID, questionID)
	q, err := scanFollowUp(row)
	if err != nil {
		return FollowUpQuestion{}, fail("get follow-up", err)
	}
	return q, nil
}

// AnswerFollowUp sets the answer fields of a follow-up question. The
// question text itself is immutable.
func (s *Store) AnswerFollowUp(ctx context.Context, recordID, questionID, answerText, audioQuestionID string) (FollowUpQuestion, error) {
	res, err := s.exec(ctx, `
		UPDATE followup_questions SET answer_text=?, answer_audio_question_id=?, answered_at=?
		WHERE record_id=? AND id=?
	`, answerText, audioQuestionID, formatTime(s.timestamp()), recordID, questionID)
	if err != nil {
		return FollowUpQuestion{}, fail("answer follow-up", err)
	}
	if err := requireAffected(res, "answer follow-up", "follow-up %s", questionID); err != nil {
		return FollowUpQuestion{}, err
	}
	return s.GetFollowUp(ctx, recordID, questionID)
}

func scanFollowUp(row scanner) (FollowUpQuestion, error) {
	var (
		q          FollowUpQuestion
		answeredAt sql.NullString
		createdAt  string
	)
	if err := row.Scan(&q.ID, &q.RecordID, &q.Category, &q.Ordinal, &q.Text, &q.AnswerText, &q.AnswerAudioQuestionID,
		&answeredAt, &createdAt); err != nil {
		return FollowUpQuestion{}, err
	}
	var err error
	if q.AnsweredAt, err = parseNullTime(answeredAt); err != nil {
		return FollowUpQuestion{}, err
	}
	if q.CreatedAt, err = parseTime(createdAt); err != nil {
		return FollowUpQuestion{}, err
	}
	return q, nil
}
