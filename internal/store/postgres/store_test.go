package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pressroom/internal/core"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestInsertPageIfAbsentCreates(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	page := core.Page{URL: "https://a.example/story", Title: "Story", Content: "Body", SourceID: 3, BlobURI: "mem://x"}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").WithArgs(page.URL).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("INSERT INTO pages").
		WithArgs(page.URL, page.Title, page.Content, page.SourceID, page.BlobURI).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), now))
	mock.ExpectCommit()

	stored, created, err := store.InsertPageIfAbsent(context.Background(), page)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(11), stored.ID)
	require.Equal(t, now, stored.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPageIfAbsentSkipsExisting(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").WithArgs("https://a.example/story").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, created, err := store.InsertPageIfAbsent(context.Background(), core.Page{URL: "https://a.example/story", SourceID: 1})
	require.NoError(t, err)
	require.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPageIfAbsentLosesRace(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").WithArgs("https://a.example/story").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("INSERT INTO pages").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, created, err := store.InsertPageIfAbsent(context.Background(), core.Page{URL: "https://a.example/story", SourceID: 1})
	require.NoError(t, err)
	require.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertJournalistMapsUniqueViolation(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO journalists").
		WithArgs("Jane Doe", "jane-doe", "", "", "", "", "", "").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "journalists_slug_key"})

	_, err := store.InsertJournalist(context.Background(), core.Journalist{Name: "Jane Doe", Slug: "jane-doe"})
	require.ErrorIs(t, err, core.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJournalistNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM journalists j WHERE j.id").WithArgs(int64(9)).WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJournalist(context.Background(), 9)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestGetJournalistScansDerivedFields(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	cols := []string{
		"id", "name", "slug", "profile_url", "image_url", "description", "country",
		"email", "email_status", "created_at", "updated_at", "categories", "source_ids",
	}
	mock.ExpectQuery("FROM journalists j WHERE j.id").WithArgs(int64(4)).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			int64(4), "Jane Doe", "jane-doe", "https://x.com/jane", "", "Reporter", "US",
			"jane@a.example", "guessed", now, now, []string{"politics"}, []int64{3},
		))

	j, err := store.GetJournalist(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, core.EmailStatusGuessed, j.EmailStatus)
	require.Equal(t, []string{"politics"}, j.Categories)
	require.Equal(t, []int64{3}, j.SourceIDs)
}

func TestFindStaleSourcesPassesCutoffAndLimit(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	cutoff := time.Date(2024, 5, 25, 0, 0, 0, 0, time.UTC)
	crawled := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	cols := []string{"id", "url", "name", "slug", "country", "language", "locale", "priority", "last_crawled", "created_at", "categories"}
	mock.ExpectQuery("ORDER BY s.priority DESC, s.last_crawled ASC NULLS FIRST").
		WithArgs(cutoff, 2).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(2), "https://never.example", "Never", "never", "", "", "", false, (*time.Time)(nil), crawled, []string{}).
			AddRow(int64(1), "https://old.example", "Old", "old", "", "", "", false, &crawled, crawled, []string{}))

	got, err := store.FindStaleSources(context.Background(), cutoff, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Nil(t, got[0].LastCrawled)
	require.Equal(t, crawled, *got[1].LastCrawled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetJournalistEmbeddingTouchesOnlyVector(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	vec := []float32{0.1, 0.2, 0.3}

	mock.ExpectExec(`^UPDATE journalists SET embedding = \$2 WHERE id = \$1$`).
		WithArgs(int64(5), pgvector.NewVector(vec)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.SetJournalistEmbedding(context.Background(), 5, vec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCrawledMissingSource(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE sources SET last_crawled").WithArgs(int64(77), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.ErrorIs(t, store.MarkCrawled(context.Background(), 77, at), core.ErrNotFound)
}

func TestRederiveJournalistRunsInOneTransaction(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE journalists SET updated_at").WithArgs(int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM journalist_categories").WithArgs(int64(4)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("INSERT INTO journalist_categories").WithArgs(int64(4)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM journalist_sources").WithArgs(int64(4)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO journalist_sources").WithArgs(int64(4)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.RederiveJournalist(context.Background(), 4))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRederiveJournalistUnknownRollsBack(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE journalists SET updated_at").WithArgs(int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	require.ErrorIs(t, store.RederiveJournalist(context.Background(), 4), core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureCategoryFallsBackToExisting(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO categories").WithArgs("climate", "climate").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT id, name, slug FROM categories").WithArgs("climate", "climate").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "slug"}).AddRow(int64(8), "climate", "climate"))

	c, err := store.EnsureCategory(context.Background(), "climate")
	require.NoError(t, err)
	require.Equal(t, int64(8), c.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindJournalistsByNameTermsEscapesPatterns(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("ILIKE ANY").WithArgs([]string{"%.com%", `%100\%%`}).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "slug", "profile_url", "image_url", "description", "country",
			"email", "email_status", "created_at", "updated_at", "categories", "source_ids",
		}))

	got, err := store.FindJournalistsByNameTerms(context.Background(), []string{".com", "100%", " "})
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "pgx5://u:p@db:5432/pressroom", migrateURL("postgres://u:p@db:5432/pressroom"))
	require.Equal(t, "pgx5://db/pressroom", migrateURL("postgresql://db/pressroom"))
	require.Equal(t, "pgx5://already", migrateURL("pgx5://already"))
}
