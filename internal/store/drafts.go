package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/failure"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/keys"
)

const draftColumns = `id, contributor_key, form_type, content_json, audio_flags_json, created_at, updated_at`

// GetOrCreateDraft returns the contributor's draft for formType, creating an
// empty one when none exists. The boolean reports whether it was created.
func (s *Store) GetOrCreateDraft(ctx context.Context, contributorKey, formType string) (Draft, bool, error) {
	now := formatTime(s.timestamp())
	res, err := s.exec(ctx, `
		INSERT INTO drafts (id, contributor_key, form_type, content_json, audio_flags_json, created_at, updated_at)
		VALUES (?, ?, ?, '{}', '{}', ?, ?)
		ON CONFLICT (contributor_key, form_type) DO NOTHING
	`, uuid.NewString(), contributorKey, formType, now, now)
	if err != nil {
		return Draft{}, false, fail("create draft", err)
	}
	created := false
	if affected, err := res.RowsAffected(); err == nil && affected > 0 {
		created = true
	}
	draft, err := s.GetDraft(ctx, contributorKey, formType)
	if err != nil {
		return Draft{}, false, err
	}
	return draft, created, nil
}

func (s *Store) GetDraft(ctx context.Context, contributorKey, formType string) (Draft, error) {
	row := s.queryRow(ctx, `SELECT `+draftColumns+` FROM drafts WHERE contributor_key=? AND form_type=?`, contributorKey, formType)
	draft, err := scanDraft(row)
	if err != nil {
		return Draft{}, fail("get draft", err)
	}
	return draft, nil
}

func (s *Store) GetDraftByID(ctx context.Context, draftID string) (Draft, error) {
	row := s.queryRow(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id=?`, draftID)
	draft, err := scanDraft(row)
	if err != nil {
		return Draft{}, fail("get draft", err)
	}
	return draft, nil
}

func (s *Store) ListDrafts(ctx context.Context, contributorKey string) ([]Draft, error) {
	rows, err := s.query(ctx, `SELECT `+draftColumns+` FROM drafts WHERE contributor_key=? ORDER BY form_type`, contributorKey)
	if err != nil {
		return nil, fail("list drafts", err)
	}
	defer rows.Close()

	var out []Draft
	for rows.Next() {
		draft, err := scanDraft(rows)
		if err != nil {
			return nil, fail("list drafts", err)
		}
		out = append(out, draft)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list drafts", err)
	}
	return out, nil
}

// UpdateDraft replaces the content of an existing draft. It never creates a
// draft: once a draft has been finalized or discarded a late save fails with
// failure.ErrNotFound.
func (s *Store) UpdateDraft(ctx context.Context, contributorKey, draftID string, content Content) (Draft, error) {
	encoded, err := json.Marshal(content)
	if err != nil {
		return Draft{}, fmt.Errorf("encode draft content: %w", err)
	}
	res, err := s.exec(ctx, `UPDATE drafts SET content_json=?, updated_at=? WHERE id=? AND contributor_key=?`,
		string(encoded), formatTime(s.timestamp()), draftID, contributorKey)
	if err != nil {
		return Draft{}, fail("update draft", err)
	}
	if err := requireAffected(res, "update draft", "draft %s", draftID); err != nil {
		return Draft{}, err
	}
	return s.GetDraftByID(ctx, draftID)
}

// SetDraftAudioFlag records whether question has a recorded answer on the draft.
func (s *Store) SetDraftAudioFlag(ctx context.Context, draftID, questionID string, present bool) error {
	return s.WithTx(ctx, "set draft audio flag", func(tx *Tx) error {
		var raw string
		if err := tx.queryRow(ctx, `SELECT audio_flags_json FROM drafts WHERE id=?`, draftID).Scan(&raw); err != nil {
			return txFail("set draft audio flag", err)
		}
		flags := map[string]bool{}
		if err := decodeJSON(raw, &flags); err != nil {
			return err
		}
		flags[questionID] = present
		encoded, err := json.Marshal(flags)
		if err != nil {
			return fmt.Errorf("encode audio flags: %w", err)
		}
		_, err = tx.exec(ctx, `UPDATE drafts SET audio_flags_json=?, updated_at=? WHERE id=?`, string(encoded), formatTime(tx.now), draftID)
		return txFail("set draft audio flag", err)
	})
}

// DeleteDraft discards the contributor's draft for formType together with the
// audio recorded against it. It reports whether a draft existed.
func (s *Store) DeleteDraft(ctx context.Context, contributorKey, formType string) (bool, error) {
	deleted := false
	err := s.WithTx(ctx, "delete draft", func(tx *Tx) error {
		draft, err := tx.LoadDraft(ctx, contributorKey, formType)
		if failure.Is(err, failure.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.exec(ctx, `DELETE FROM audio_versions WHERE owner_ref=?`, keys.DraftOwner(draft.ID)); err != nil {
			return txFail("delete draft audio", err)
		}
		if err := tx.DeleteDraft(ctx, draft.ID); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// LoadDraft reads the draft inside the promotion transaction and, on
// PostgreSQL, locks it until the transaction ends.
func (t *Tx) LoadDraft(ctx context.Context, contributorKey, formType string) (Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts WHERE contributor_key=? AND form_type=?`
	if t.dialect == Postgres {
		query += ` FOR UPDATE`
	}
	draft, err := scanDraft(t.queryRow(ctx, query, contributorKey, formType))
	if err != nil {
		return Draft{}, txFail("load draft", err)
	}
	return draft, nil
}

func (t *Tx) DeleteDraft(ctx context.Context, draftID string) error {
	res, err := t.exec(ctx, `DELETE FROM drafts WHERE id=?`, draftID)
	if err != nil {
		return txFail("delete draft", err)
	}
	return requireAffected(res, "delete draft", "draft %s", draftID)
}

func scanDraft(row scanner) (Draft, error) {
	var (
		d                    Draft
		content, flags       string
		createdAt, updatedAt string
	)
	if err := row.Scan(&d.ID, &d.ContributorKey, &d.FormType, &content, &flags, &createdAt, &updatedAt); err != nil {
		return Draft{}, err
	}
	if err := decodeJSON(content, &d.Content); err != nil {
		return Draft{}, err
	}
	d.AudioFlags = map[string]bool{}
	if err := decodeJSON(flags, &d.AudioFlags); err != nil {
		return Draft{}, err
	}
	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return Draft{}, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Draft{}, err
	}
	return d, nil
}

func decodeJSON(raw string, dest any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("decode stored json: %w", err)
	}
	return nil
}
