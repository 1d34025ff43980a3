package store

import (
	"context"
	"database/sql"
	"errors"
)

// Setting keys.
const (
	SettingTranscriptionModelSize = "transcription_model_size"
)

// GetSetting returns the value for key and whether it is set.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.queryRow(ctx, `SELECT value FROM settings WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fail("get setting", err)
	}
	return value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	now := formatTime(s.timestamp())
	_, err := s.exec(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
	`, key, value, now)
	return fail("set setting", err)
}

func (s *Store) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := s.query(ctx, `SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fail("list settings", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var (
			setting   Setting
			updatedAt string
		)
		if err := rows.Scan(&setting.Key, &setting.Value, &updatedAt); err != nil {
			return nil, fail("list settings", err)
		}
		if setting.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fail("list settings", err)
		}
		out = append(out, setting)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list settings", err)
	}
	return out, nil
}
