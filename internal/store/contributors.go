package store

import (
	"context"
	"fmt"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/failure"
)

const contributorColumns = `key, display_name, pin_hash, role, last_ordinal, created_at, updated_at`

// CreateContributor inserts a new contributor. A taken key is a conflict.
func (s *Store) CreateContributor(ctx context.Context, c Contributor) (Contributor, error) {
	now := s.timestamp()
	if c.Role == "" {
		c.Role = RoleContributor
	}
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := s.exec(ctx, `
		INSERT INTO contributors (key, display_name, pin_hash, role, last_ordinal, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
	`, c.Key, c.DisplayName, c.PINHash, c.Role, formatTime(now), formatTime(now))
	if isUniqueViolation(err) {
		return Contributor{}, failure.New(failure.ErrConflict, "create contributor", "contributor %q already exists", c.Key)
	}
	if err != nil {
		return Contributor{}, fail("create contributor", err)
	}
	return c, nil
}

func (s *Store) GetContributor(ctx context.Context, key string) (Contributor, error) {
	row := s.queryRow(ctx, `SELECT `+contributorColumns+` FROM contributors WHERE key=?`, key)
	c, err := scanContributor(row)
	if err != nil {
		return Contributor{}, fail("get contributor", err)
	}
	return c, nil
}

func (s *Store) ListContributors(ctx context.Context) ([]Contributor, error) {
	rows, err := s.query(ctx, `SELECT `+contributorColumns+` FROM contributors ORDER BY key`)
	if err != nil {
		return nil, fail("list contributors", err)
	}
	defer rows.Close()

	var out []Contributor
	for rows.Next() {
		c, err := scanContributor(rows)
		if err != nil {
			return nil, fail("list contributors", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list contributors", err)
	}
	return out, nil
}

func (s *Store) SetContributorRole(ctx context.Context, key, role string) error {
	res, err := s.exec(ctx, `UPDATE contributors SET role=?, updated_at=? WHERE key=?`, role, formatTime(s.timestamp()), key)
	if err != nil {
		return fail("set contributor role", err)
	}
	return requireAffected(res, "set contributor role", "contributor %q", key)
}

func scanContributor(row scanner) (Contributor, error) {
	var (
		c                    Contributor
		createdAt, updatedAt string
	)
	if err := row.Scan(&c.Key, &c.DisplayName, &c.PINHash, &c.Role, &c.LastOrdinal, &createdAt, &updatedAt); err != nil {
		return Contributor{}, err
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Contributor{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Contributor{}, err
	}
	return c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func requireAffected(res rowsAffected, op, format string, args ...any) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fail(op, err)
	}
	if affected == 0 {
		return failure.New(failure.ErrNotFound, op, format+" not found", args...)
	}
	return nil
}

// NextOrdinal allocates the contributor's next record ordinal. The
// contributor row is the serialization point: its last_ordinal high-water
// mark only ever grows, so ordinals of deleted records are never reused.
func (t *Tx) NextOrdinal(ctx context.Context, contributorKey string) (int, error) {
	query := fmt.Sprintf(`
		UPDATE contributors
		SET last_ordinal = %s(last_ordinal, (SELECT COALESCE(MAX(ordinal), 0) FROM records WHERE contributor_key=?)) + 1,
			updated_at = ?
		WHERE key=?
		RETURNING last_ordinal
	`, greatest(t.dialect))
	var ordinal int
	err := t.queryRow(ctx, query, contributorKey, formatTime(t.now), contributorKey).Scan(&ordinal)
	if err != nil {
		return 0, txFail("allocate ordinal", err)
	}
	return ordinal, nil
}
