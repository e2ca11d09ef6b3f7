package diagrams

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umlcraft/umlcraft-backend/internal/diagrams/domain"
)

var versionCols = []string{
	"id", "diagram_public_id", "version_number", "source_content",
	"source_language", "description", "note", "author", "created_at",
}

func newMockRepo(t *testing.T) (*Repo, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepo(mock), mock
}

func TestGetVersion(t *testing.T) {
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("select id, diagram_public_id").
			WithArgs("dgm-12345-6789", 2).
			WillReturnRows(pgxmock.NewRows(versionCols).AddRow(
				"dver-11111-2222", "dgm-12345-6789", 2, "class Order {}",
				"java", "", "second pass", "u-1", now,
			))

		v, err := repo.GetVersion(context.Background(), "dgm-12345-6789", 2)
		require.NoError(t, err)
		assert.Equal(t, 2, v.VersionNumber)
		assert.Equal(t, "class Order {}", v.SourceContent)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing version maps to ErrVersionNotFound", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("select id, diagram_public_id").
			WithArgs("dgm-12345-6789", 99).
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetVersion(context.Background(), "dgm-12345-6789", 99)
		assert.ErrorIs(t, err, domain.ErrVersionNotFound)
	})
}

func TestNextVersionNumber(t *testing.T) {
	t.Run("reports max plus one", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("select public_id from diagrams").
			WithArgs("dgm-12345-6789").
			WillReturnRows(pgxmock.NewRows([]string{"public_id"}).AddRow("dgm-12345-6789"))
		mock.ExpectQuery("coalesce").
			WithArgs("dgm-12345-6789").
			WillReturnRows(pgxmock.NewRows([]string{"next"}).AddRow(4))

		next, err := repo.NextVersionNumber(context.Background(), "dgm-12345-6789")
		require.NoError(t, err)
		assert.Equal(t, 4, next)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown diagram", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("select public_id from diagrams").
			WithArgs("dgm-00000-0000").
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.NextVersionNumber(context.Background(), "dgm-00000-0000")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestCreateVersion(t *testing.T) {
	now := time.Now()

	t.Run("locks the diagram row and numbers from max", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery("for update").
			WithArgs("dgm-12345-6789").
			WillReturnRows(pgxmock.NewRows([]string{"public_id"}).AddRow("dgm-12345-6789"))
		mock.ExpectQuery("coalesce").
			WithArgs("dgm-12345-6789").
			WillReturnRows(pgxmock.NewRows([]string{"next"}).AddRow(3))
		mock.ExpectQuery("insert into diagram_versions").
			WithArgs(pgxmock.AnyArg(), "dgm-12345-6789", 3,
				"class Order {}", "java", "tweak", "u-1").
			WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))
		mock.ExpectExec("update diagrams set updated_at").
			WithArgs("dgm-12345-6789").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		v, err := repo.CreateVersion(context.Background(), "dgm-12345-6789", domain.CreateVersionInput{
			SourceContent:  "class Order {}",
			SourceLanguage: "java",
			Note:           "tweak",
			Author:         "u-1",
		})
		require.NoError(t, err)
		assert.Equal(t, 3, v.VersionNumber)
		assert.Empty(t, v.Description)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects empty content before touching the db", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		_, err := repo.CreateVersion(context.Background(), "dgm-12345-6789", domain.CreateVersionInput{
			SourceContent: "   ",
		})
		assert.ErrorIs(t, err, domain.ErrEmptyContent)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown diagram rolls back", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery("for update").
			WithArgs("dgm-00000-0000").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()

		_, err := repo.CreateVersion(context.Background(), "dgm-00000-0000", domain.CreateVersionInput{
			SourceContent: "class A {}",
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAttachDescription(t *testing.T) {
	now := time.Now()

	t.Run("returns the updated version", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("update diagram_versions").
			WithArgs("dgm-12345-6789", 2, "@startuml\n@enduml").
			WillReturnRows(pgxmock.NewRows(versionCols).AddRow(
				"dver-11111-2222", "dgm-12345-6789", 2, "class Order {}",
				"java", "@startuml\n@enduml", "", "u-1", now,
			))

		v, err := repo.AttachDescription(context.Background(), "dgm-12345-6789", 2, "@startuml\n@enduml")
		require.NoError(t, err)
		assert.Equal(t, "@startuml\n@enduml", v.Description)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing version", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("update diagram_versions").
			WithArgs("dgm-12345-6789", 42, "@startuml\n@enduml").
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.AttachDescription(context.Background(), "dgm-12345-6789", 42, "@startuml\n@enduml")
		assert.ErrorIs(t, err, domain.ErrVersionNotFound)
	})
}

func TestListVersions(t *testing.T) {
	now := time.Now()

	repo, mock := newMockRepo(t)
	rows := pgxmock.NewRows(versionCols).
		AddRow("dver-00003-0003", "dgm-12345-6789", 3, "class C {}", "java", "", "", "u-1", now).
		AddRow("dver-00002-0002", "dgm-12345-6789", 2, "class B {}", "java", "", "", "u-1", now).
		AddRow("dver-00001-0001", "dgm-12345-6789", 1, "class A {}", "java", "", "initial", "u-1", now)
	mock.ExpectQuery("order by version_number desc").
		WithArgs("dgm-12345-6789").
		WillReturnRows(rows)

	out, err := repo.ListVersions(context.Background(), "dgm-12345-6789")
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, 3, out[0].VersionNumber)
	assert.Equal(t, 1, out[2].VersionNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}
