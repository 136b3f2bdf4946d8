package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"tessera.social/internal/ids"
)

var _ Store = (*PGStore)(nil)

const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, role, verified, active,
	suspended, suspended_until, suspension_reason, suspended_by, suspended_at,
	created_at, updated_at`

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx,
		`insert into users(id, email, password_hash, role, verified, active)
		 values($1,$2,$3,$4,$5,$6) returning created_at, updated_at`,
		u.ID, strings.ToLower(u.Email), u.PasswordHash, string(u.Role), u.Verified, u.Active,
	)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *PGStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email=$1`, strings.ToLower(email))
	return scanUser(row)
}

func (s *PGStore) UpdateRole(ctx context.Context, id string, role Role) error {
	return s.execOne(ctx, `update users set role=$2, updated_at=now() where id=$1`, id, string(role))
}

func (s *PGStore) SetVerified(ctx context.Context, id string, verified bool) error {
	return s.execOne(ctx, `update users set verified=$2, updated_at=now() where id=$1`, id, verified)
}

func (s *PGStore) Suspend(ctx context.Context, id string, susp Suspension) error {
	return s.execOne(ctx,
		`update users set suspended=true, suspended_until=$2, suspension_reason=$3,
		 suspended_by=$4, suspended_at=$5, updated_at=now() where id=$1`,
		id, nullTime(susp.Until), susp.Reason, susp.By, susp.At,
	)
}

func (s *PGStore) ClearSuspension(ctx context.Context, id string) error {
	return s.execOne(ctx,
		`update users set suspended=false, suspended_until=null, suspension_reason='',
		 suspended_by='', suspended_at=null, updated_at=now() where id=$1`, id)
}

// LiftExpiredSuspension is a conditional update: concurrent callers race on
// the row lock and only the first one sees a matching row.
func (s *PGStore) LiftExpiredSuspension(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update users set suspended=false, suspended_until=null, suspension_reason='',
		 suspended_by='', suspended_at=null, updated_at=now()
		 where id=$1 and suspended and suspended_until is not null and suspended_until <= $2`,
		id, now.UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PGStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u           User
		role        string
		suspended   bool
		until       sql.NullTime
		reason      string
		by          string
		suspendedAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.Verified, &u.Active,
		&suspended, &until, &reason, &by, &suspendedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = Role(role)
	if suspended {
		susp := &Suspension{Reason: reason, By: by}
		if until.Valid {
			t := until.Time.UTC()
			susp.Until = &t
		}
		if suspendedAt.Valid {
			susp.At = suspendedAt.Time.UTC()
		}
		u.Suspension = susp
	}
	return &u, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
