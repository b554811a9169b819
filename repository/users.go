package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	auth "github.com/goliatone/go-session-auth"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

const (
	pgUniqueViolation  = "23505"
	pgUsersPrimaryKey  = "users_pkey"
	sqliteUniqueFailed = "UNIQUE constraint failed"
)

// Users implements auth.UserStore on top of bun
type Users struct {
	repository.Repository[*auth.User]
	db *bun.DB
}

var _ auth.UserStore = (*Users)(nil)

// NewUsers creates a new Users repository
func NewUsers(db *bun.DB) *Users {
	repo := repository.NewRepository[*auth.User](db, repository.ModelHandlers[*auth.User]{
		NewRecord: func() *auth.User { return &auth.User{} },
		GetID: func(u *auth.User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *auth.User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &Users{
		Repository: repo,
		db:         db,
	}
}

// FindByEmail returns the live user owning email.
func (r *Users) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.FindByEmailTx(ctx, r.db, email)
}

func (r *Users) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*auth.User, error) {
	record := &auth.User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", auth.NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return record, nil
}

// FindByID returns the live user with the given id.
func (r *Users) FindByID(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	return r.FindByIDTx(ctx, r.db, id)
}

func (r *Users) FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*auth.User, error) {
	record := &auth.User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return record, nil
}

// Create inserts user. A duplicated email is reported as
// auth.ErrEmailAlreadyExists and a duplicated id as auth.ErrDuplicateUserID.
func (r *Users) Create(ctx context.Context, user *auth.User) (*auth.User, error) {
	return r.CreateTx(ctx, r.db, user)
}

func (r *Users) CreateTx(ctx context.Context, tx bun.IDB, user *auth.User) (*auth.User, error) {
	prepareUserDefaults(user)

	created, err := r.Repository.CreateTx(ctx, tx, user)
	if err != nil {
		return nil, uniqueViolation(err)
	}
	return created, nil
}

// Update writes the non nil columns of patch and returns the fresh row.
func (r *Users) Update(ctx context.Context, id uuid.UUID, patch auth.UserPatch) (*auth.User, error) {
	var updated *auth.User
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		updated, err = r.UpdateTx(ctx, tx, id, patch)
		return err
	})
	return updated, err
}

func (r *Users) UpdateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, patch auth.UserPatch) (*auth.User, error) {
	now := time.Now()
	record := &auth.User{ID: id, UpdatedAt: &now}
	columns := []string{"updated_at"}

	if patch.Email != nil {
		record.Email = auth.NormalizeEmail(*patch.Email)
		columns = append(columns, "email")
	}
	if patch.PasswordHash != nil {
		record.PasswordHash = *patch.PasswordHash
		columns = append(columns, "password_hash")
	}
	if patch.FirstName != nil {
		record.FirstName = *patch.FirstName
		columns = append(columns, "first_name")
	}
	if patch.LastName != nil {
		record.LastName = *patch.LastName
		columns = append(columns, "last_name")
	}
	if patch.PhotoID != nil {
		record.PhotoID = *patch.PhotoID
		columns = append(columns, "photo_id")
	}
	if patch.Status != nil {
		record.Status = *patch.Status
		columns = append(columns, "status")
	}

	res, err := tx.NewUpdate().
		Model(record).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, uniqueViolation(err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, notFound(sql.ErrNoRows)
	}

	return r.FindByIDTx(ctx, tx, id)
}

// SoftDelete stamps deleted_at, deleted users are invisible to lookups.
func (r *Users) SoftDelete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model(&auth.User{ID: id}).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(sql.ErrNoRows)
	}

	return nil
}

func prepareUserDefaults(user *auth.User) {
	if user == nil {
		return
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.Email = auth.NormalizeEmail(user.Email)
	if user.Provider == "" {
		user.Provider = auth.ProviderEmail
	}
	if user.Role == 0 {
		user.Role = auth.RoleUser
	}
	if user.Status == "" {
		user.Status = auth.StatusInactive
	}
}

// notFound maps a missing row to auth.ErrRecordNotFound and leaves other
// errors untouched.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
		return auth.ErrRecordNotFound
	}
	return err
}

// uniqueViolation maps a unique constraint failure to the sentinel of the
// violated column. Other errors are returned untouched.
func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolation {
			return err
		}
		switch {
		case pgErr.ConstraintName == pgUsersPrimaryKey:
			return auth.ErrDuplicateUserID
		case strings.Contains(pgErr.ConstraintName, "email"):
			return auth.ErrEmailAlreadyExists
		}
		return err
	}

	msg := err.Error()
	if !strings.Contains(msg, sqliteUniqueFailed) {
		return err
	}
	switch {
	case strings.Contains(msg, "users.id"):
		return auth.ErrDuplicateUserID
	case strings.Contains(msg, "users.email"):
		return auth.ErrEmailAlreadyExists
	}
	return err
}
