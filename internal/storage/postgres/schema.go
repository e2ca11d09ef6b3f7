package postgres

import (
	"database/sql"
	"fmt"
)

// schema is applied at boot. Statements are idempotent so repeated boots
// are harmless.
const schema = `
create table if not exists projects (
  public_id  text primary key,
  owner_uid  text not null,
  name       text not null,
  created_at timestamptz not null default now(),
  updated_at timestamptz not null default now(),
  deleted_at timestamptz
);

create index if not exists idx_projects_owner on projects (owner_uid) where deleted_at is null;

create table if not exists diagrams (
  public_id         text primary key,
  project_public_id text not null references projects (public_id),
  name              text not null,
  kind              text not null,
  created_at        timestamptz not null default now(),
  updated_at        timestamptz not null default now()
);

create index if not exists idx_diagrams_project on diagrams (project_public_id);

create table if not exists diagram_versions (
  id                text primary key,
  diagram_public_id text not null references diagrams (public_id),
  version_number    integer not null check (version_number >= 1),
  source_content    text not null,
  source_language   text not null default '',
  description       text,
  note              text,
  author            text not null,
  created_at        timestamptz not null default now(),
  unique (diagram_public_id, version_number)
);

create index if not exists idx_versions_diagram on diagram_versions (diagram_public_id, version_number desc);
`

// ApplySchema creates the tables the service needs.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
