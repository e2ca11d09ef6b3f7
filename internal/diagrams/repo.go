package diagrams

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/umlcraft/umlcraft-backend/internal/diagrams/domain"
)

// DB is the subset of pgxpool.Pool the repo needs. Kept narrow so tests
// can substitute a mock pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
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

// CreateDiagram inserts a diagram together with its version 1 in one
// transaction. A diagram never exists without at least one version.
func (r *Repo) CreateDiagram(ctx context.Context, projectPublicID, name string, kind domain.Kind, in domain.CreateVersionInput) (*domain.Diagram, *domain.DiagramVersion, error) {
	if strings.TrimSpace(projectPublicID) == "" {
		return nil, nil, fmt.Errorf("project public_id required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, nil, fmt.Errorf("diagram name required")
	}
	if !kind.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", domain.ErrInvalidKind, kind)
	}
	if strings.TrimSpace(in.SourceContent) == "" {
		return nil, nil, domain.ErrEmptyContent
	}

	diagramID, err := newTextID("dgm")
	if err != nil {
		return nil, nil, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var ok string
	err = tx.QueryRow(ctx, `
select public_id
from projects
where public_id = $1
  and deleted_at is null
`, projectPublicID).Scan(&ok)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, domain.ErrNotFound
		}
		return nil, nil, err
	}

	var d domain.Diagram
	d.PublicID = diagramID
	d.ProjectPublicID = projectPublicID
	d.Name = name
	d.Kind = kind
	d.CurrentVersion = 1

	err = tx.QueryRow(ctx, `
insert into diagrams (public_id, project_public_id, name, kind)
values ($1, $2, $3, $4)
returning created_at, updated_at
`, diagramID, projectPublicID, name, string(kind)).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, nil, err
	}

	ver, err := insertVersion(ctx, tx, diagramID, 1, in)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return &d, ver, nil
}

func (r *Repo) GetDiagram(ctx context.Context, diagramID string) (*domain.Diagram, error) {
	var d domain.Diagram
	var kind string
	err := r.db.QueryRow(ctx, `
select d.public_id, d.project_public_id, d.name, d.kind,
       coalesce(max(v.version_number), 0),
       d.created_at, d.updated_at
from diagrams d
left join diagram_versions v on v.diagram_public_id = d.public_id
where d.public_id = $1
group by d.public_id, d.project_public_id, d.name, d.kind, d.created_at, d.updated_at
`, diagramID).Scan(
		&d.PublicID, &d.ProjectPublicID, &d.Name, &kind,
		&d.CurrentVersion, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	d.Kind = domain.Kind(kind)
	return &d, nil
}

func (r *Repo) ListDiagrams(ctx context.Context, projectPublicID string) ([]domain.Diagram, error) {
	rows, err := r.db.Query(ctx, `
select d.public_id, d.project_public_id, d.name, d.kind,
       coalesce(max(v.version_number), 0),
       d.created_at, d.updated_at
from diagrams d
left join diagram_versions v on v.diagram_public_id = d.public_id
where d.project_public_id = $1
group by d.public_id, d.project_public_id, d.name, d.kind, d.created_at, d.updated_at
order by d.created_at desc
`, projectPublicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Diagram
	for rows.Next() {
		var d domain.Diagram
		var kind string
		if err := rows.Scan(
			&d.PublicID, &d.ProjectPublicID, &d.Name, &kind,
			&d.CurrentVersion, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		d.Kind = domain.Kind(kind)
		out = append(out, d)
	}
	return out, rows.Err()
}

// NextVersionNumber reports what number the next created version will
// get. Informational only: CreateVersion recomputes it inside its own
// transaction, so concurrent sessions cannot claim the same number.
func (r *Repo) NextVersionNumber(ctx context.Context, diagramID string) (int, error) {
	var ok string
	err := r.db.QueryRow(ctx, `
select public_id from diagrams where public_id = $1
`, diagramID).Scan(&ok)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}

	var next int
	err = r.db.QueryRow(ctx, `
select coalesce(max(version_number), 0) + 1
from diagram_versions
where diagram_public_id = $1
`, diagramID).Scan(&next)
	if err != nil {
		return 0, err
	}
	return next, nil
}

// ListVersions returns the history newest first.
func (r *Repo) ListVersions(ctx context.Context, diagramID string) ([]domain.DiagramVersion, error) {
	rows, err := r.db.Query(ctx, `
select id, diagram_public_id, version_number, source_content, source_language,
       coalesce(description, ''), coalesce(note, ''), author, created_at
from diagram_versions
where diagram_public_id = $1
order by version_number desc
`, diagramID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DiagramVersion
	for rows.Next() {
		var v domain.DiagramVersion
		if err := rows.Scan(
			&v.ID, &v.DiagramID, &v.VersionNumber, &v.SourceContent, &v.SourceLanguage,
			&v.Description, &v.Note, &v.Author, &v.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *Repo) GetVersion(ctx context.Context, diagramID string, number int) (*domain.DiagramVersion, error) {
	var v domain.DiagramVersion
	err := r.db.QueryRow(ctx, `
select id, diagram_public_id, version_number, source_content, source_language,
       coalesce(description, ''), coalesce(note, ''), author, created_at
from diagram_versions
where diagram_public_id = $1
  and version_number = $2
`, diagramID, number).Scan(
		&v.ID, &v.DiagramID, &v.VersionNumber, &v.SourceContent, &v.SourceLanguage,
		&v.Description, &v.Note, &v.Author, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrVersionNotFound
		}
		return nil, err
	}
	return &v, nil
}

// CreateVersion appends a new immutable version. The number is computed
// as max+1 inside a transaction that holds a row lock on the diagram, so
// numbers stay gapless and unique under concurrent saves.
func (r *Repo) CreateVersion(ctx context.Context, diagramID string, in domain.CreateVersionInput) (*domain.DiagramVersion, error) {
	if strings.TrimSpace(in.SourceContent) == "" {
		return nil, domain.ErrEmptyContent
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var ok string
	err = tx.QueryRow(ctx, `
select public_id
from diagrams
where public_id = $1
for update
`, diagramID).Scan(&ok)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	var next int
	if err := tx.QueryRow(ctx, `
select coalesce(max(version_number), 0) + 1
from diagram_versions
where diagram_public_id = $1
`, diagramID).Scan(&next); err != nil {
		return nil, err
	}

	ver, err := insertVersion(ctx, tx, diagramID, next, in)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
update diagrams set updated_at = now() where public_id = $1
`, diagramID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ver, nil
}

// AttachDescription populates the lazily generated description of an
// existing version. Calling it again with the same description is a
// no-op that still succeeds.
func (r *Repo) AttachDescription(ctx context.Context, diagramID string, number int, description string) (*domain.DiagramVersion, error) {
	var v domain.DiagramVersion
	err := r.db.QueryRow(ctx, `
update diagram_versions
set description = $3
where diagram_public_id = $1
  and version_number = $2
returning id, diagram_public_id, version_number, source_content, source_language,
          coalesce(description, ''), coalesce(note, ''), author, created_at
`, diagramID, number, description).Scan(
		&v.ID, &v.DiagramID, &v.VersionNumber, &v.SourceContent, &v.SourceLanguage,
		&v.Description, &v.Note, &v.Author, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrVersionNotFound
		}
		return nil, err
	}
	return &v, nil
}

func insertVersion(ctx context.Context, tx pgx.Tx, diagramID string, number int, in domain.CreateVersionInput) (*domain.DiagramVersion, error) {
	id, err := newTextID("dver")
	if err != nil {
		return nil, err
	}

	var v domain.DiagramVersion
	v.ID = id
	v.DiagramID = diagramID
	v.VersionNumber = number
	v.SourceContent = in.SourceContent
	v.SourceLanguage = in.SourceLanguage
	v.Note = in.Note
	v.Author = in.Author

	err = tx.QueryRow(ctx, `
insert into diagram_versions (
  id, diagram_public_id, version_number,
  source_content, source_language, note, author
)
values ($1, $2, $3, $4, $5, nullif($6,''), $7)
returning created_at
`, id, diagramID, number,
		in.SourceContent, in.SourceLanguage, in.Note, in.Author,
	).Scan(&v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func newTextID(prefix string) (string, error) {
	a, err := randInt(10000, 99999)
	if err != nil {
		return "", err
	}
	b, err := randInt(1000, 9999)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%05d-%04d", prefix, a, b), nil
}

func randInt(min, max int64) (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(max-min+1))
	if err != nil {
		return 0, err
	}
	return min + n.Int64(), nil
}
