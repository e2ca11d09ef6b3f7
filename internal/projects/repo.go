package projects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("project not found")

// DB is the subset of pgxpool.Pool the repo needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Repo struct {
	db DB
}

func NewRepo(db DB) *Repo {
	return &Repo{db: db}
}

type Project struct {
	PublicID  string    `json:"public_id"`
	OwnerUID  string    `json:"owner_uid"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Repo) Create(ctx context.Context, ownerUID, name string) (*Project, error) {
	if name == "" {
		return nil, fmt.Errorf("name required")
	}

	for i := 0; i < 5; i++ {
		publicID, err := NewPublicID("proj")
		if err != nil {
			return nil, err
		}

		const q = `
insert into projects (public_id, owner_uid, name)
values ($1, $2, $3)
returning public_id, owner_uid, name, created_at, updated_at;
`
		var p Project
		err = r.db.QueryRow(ctx, q, publicID, ownerUID, name).
			Scan(&p.PublicID, &p.OwnerUID, &p.Name, &p.CreatedAt, &p.UpdatedAt)

		if err == nil {
			return &p, nil
		}

		// unique violation on public_id → retry
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("failed to generate unique project id")
}

func (r *Repo) List(ctx context.Context, ownerUID string) ([]Project, error) {
	const q = `
select public_id, owner_uid, name, created_at, updated_at
from projects
where owner_uid = $1 and deleted_at is null
order by created_at desc;
`
	rows, err := r.db.Query(ctx, q, ownerUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Project, 0, 16)
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.PublicID, &p.OwnerUID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) Get(ctx context.Context, ownerUID, publicID string) (*Project, error) {
	const q = `
select public_id, owner_uid, name, created_at, updated_at
from projects
where owner_uid = $1 and public_id = $2 and deleted_at is null;
`
	var p Project
	err := r.db.QueryRow(ctx, q, ownerUID, publicID).
		Scan(&p.PublicID, &p.OwnerUID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}
