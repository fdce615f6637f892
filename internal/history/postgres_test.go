package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestRecordRenderInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresWithPool(mock, "renders")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	rec := RenderRecord{
		ID:         "uuid-v7",
		URL:        "https://letterboxd.com/dave/film/parasite/",
		FilmTitle:  "Parasite",
		Preset:     "square",
		Style:      "dark",
		FontScale:  100,
		CacheHit:   false,
		DurationMS: 847,
		ImageBytes: 204800,
		CreatedAt:  now,
	}

	mock.ExpectExec("INSERT INTO renders").
		WithArgs(
			rec.ID,
			rec.URL,
			rec.FilmTitle,
			rec.Preset,
			rec.Style,
			rec.FontScale,
			rec.CacheHit,
			rec.DurationMS,
			rec.ImageBytes,
			rec.ErrorCode,
			rec.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.RecordRender(context.Background(), rec)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRenderRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresWithPool(mock, "renders")
	require.NoError(t, err)

	err = store.RecordRender(context.Background(), RenderRecord{URL: "https://letterboxd.com/x/film/y/"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentRendersScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresWithPool(mock, "renders")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "url", "film_title", "preset", "style", "font_scale",
		"cache_hit", "duration_ms", "image_bytes", "error_code", "created_at",
	}).
		AddRow("id-2", "https://letterboxd.com/a/film/b/", "B", "square", "dark", 100, true, int64(12), 1024, "", now).
		AddRow("id-1", "https://letterboxd.com/c/film/d/", "D", "portrait", "light", 120, false, int64(933), 2048, "", now.Add(-time.Minute))

	mock.ExpectQuery("SELECT id, url, film_title").
		WithArgs(2).
		WillReturnRows(rows)

	records, err := store.RecentRenders(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "id-2", records[0].ID)
	require.True(t, records[0].CacheHit)
	require.Equal(t, "D", records[1].FilmTitle)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentRendersQueryFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresWithPool(mock, "renders")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, url, film_title").
		WithArgs(20).
		WillReturnError(errors.New("connection refused"))

	_, err = store.RecentRenders(context.Background(), 0)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresWithPoolValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresWithPool(nil, "renders")
	require.Error(t, err)

	_, err = NewPostgresWithPool(mock, "renders; DROP TABLE renders")
	require.Error(t, err)

	store, err := NewPostgresWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, "renders", store.table)
}

func TestNoopStore(t *testing.T) {
	t.Parallel()

	store := NewNoop()
	require.NoError(t, store.RecordRender(context.Background(), RenderRecord{ID: "x"}))
	records, err := store.RecentRenders(context.Background(), 5)
	require.NoError(t, err)
	require.Empty(t, records)
	store.Close()
}
