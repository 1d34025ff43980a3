package store

import (
	"context"
	"database/sql"
	"time"
)

const sessionColumns = `token_hash, contributor_key, issued_at, expires_at, last_activity_at, last_autosave_at, expired_at, revoked_at`

func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.exec(ctx, `
		INSERT INTO sessions (token_hash, contributor_key, issued_at, expires_at, last_activity_at, last_autosave_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sess.TokenHash, sess.ContributorKey, formatTime(sess.IssuedAt), formatTime(sess.ExpiresAt),
		formatTime(sess.LastActivityAt), formatTime(sess.LastAutosaveAt))
	return fail("create session", err)
}

func (s *Store) GetSession(ctx context.Context, tokenHash string) (Session, error) {
	var (
		sess                                     Session
		issuedAt, expiresAt, activityAt, savedAt string
		expiredAt, revokedAt                     sql.NullString
	)
	err := s.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token_hash=?`, tokenHash).Scan(
		&sess.TokenHash, &sess.ContributorKey, &issuedAt, &expiresAt, &activityAt, &savedAt, &expiredAt, &revokedAt)
	if err != nil {
		return Session{}, fail("get session", err)
	}
	for _, field := range []struct {
		dst *time.Time
		raw string
	}{
		{&sess.IssuedAt, issuedAt},
		{&sess.ExpiresAt, expiresAt},
		{&sess.LastActivityAt, activityAt},
		{&sess.LastAutosaveAt, savedAt},
	} {
		if *field.dst, err = parseTime(field.raw); err != nil {
			return Session{}, fail("get session", err)
		}
	}
	if sess.ExpiredAt, err = parseNullTime(expiredAt); err != nil {
		return Session{}, fail("get session", err)
	}
	if sess.RevokedAt, err = parseNullTime(revokedAt); err != nil {
		return Session{}, fail("get session", err)
	}
	return sess, nil
}

// TouchSession advances the activity and autosave timestamps of a live
// session. A zero time leaves the column unchanged.
func (s *Store) TouchSession(ctx context.Context, tokenHash string, activityAt, autosaveAt time.Time) error {
	res, err := s.exec(ctx, `
		UPDATE sessions
		SET last_activity_at=COALESCE(?, last_activity_at), last_autosave_at=COALESCE(?, last_autosave_at)
		WHERE token_hash=? AND expired_at IS NULL AND revoked_at IS NULL
	`, nullTime(&activityAt), nullTime(&autosaveAt), tokenHash)
	if err != nil {
		return fail("touch session", err)
	}
	return requireAffected(res, "touch session", "live session")
}

// MarkSessionExpired records that the session timed out. It is idempotent.
func (s *Store) MarkSessionExpired(ctx context.Context, tokenHash string, at time.Time) error {
	_, err := s.exec(ctx, `UPDATE sessions SET expired_at=COALESCE(expired_at, ?) WHERE token_hash=?`, formatTime(at), tokenHash)
	return fail("expire session", err)
}

func (s *Store) RevokeSession(ctx context.Context, tokenHash string, at time.Time) error {
	_, err := s.exec(ctx, `UPDATE sessions SET revoked_at=COALESCE(revoked_at, ?) WHERE token_hash=?`, formatTime(at), tokenHash)
	return fail("revoke session", err)
}

// PurgeSessions deletes sessions whose bound expiry is before cutoff. It
// returns the number removed.
func (s *Store) PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM sessions WHERE expires_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fail("purge sessions", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fail("purge sessions", err)
	}
	return removed, nil
}
