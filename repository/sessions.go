package repository

import (
	"context"
	"time"

	auth "github.com/goliatone/go-session-auth"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Sessions implements auth.SessionStore on top of bun
type Sessions struct {
	db *bun.DB
}

var _ auth.SessionStore = (*Sessions)(nil)

// NewSessions creates a new Sessions repository
func NewSessions(db *bun.DB) *Sessions {
	return &Sessions{db: db}
}

func (r *Sessions) Create(ctx context.Context, session *auth.Session) (*auth.Session, error) {
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := r.db.NewInsert().
		Model(session).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (r *Sessions) FindByID(ctx context.Context, id int64) (*auth.Session, error) {
	record := &auth.Session{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return record, nil
}

// RotateHash swaps the session hash only while it still equals previous.
// It reports false when another caller rotated it first.
func (r *Sessions) RotateHash(ctx context.Context, id int64, previous, next string) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*auth.Session)(nil)).
		Set("hash = ?", next).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Where("hash = ?", previous).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Sessions) DeleteByID(ctx context.Context, id int64) error {
	_, err := r.db.NewDelete().
		Model((*auth.Session)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (r *Sessions) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.NewDelete().
		Model((*auth.Session)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

func (r *Sessions) DeleteAllForUserExcept(ctx context.Context, userID uuid.UUID, keepID int64) error {
	_, err := r.db.NewDelete().
		Model((*auth.Session)(nil)).
		Where("user_id = ?", userID).
		Where("id != ?", keepID).
		Exec(ctx)
	return err
}

// PurgeIdle deletes sessions that were not rotated since before and
// returns how many rows were removed.
func (r *Sessions) PurgeIdle(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*auth.Session)(nil)).
		Where("updated_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
