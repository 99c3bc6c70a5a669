package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMigratedStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := testDatabaseURL(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn, DefaultPoolOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, resetPublicSchema(ctx, db))
	_, err = ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations"), zerolog.Nop())
	require.NoError(t, err)

	return NewPostgresStore(db), ctx
}

func TestPostgresSnapshotThenUpdateNumbersVersionsContiguously(t *testing.T) {
	s, ctx := openMigratedStore(t)

	user, err := s.CreateUser(ctx, "ada", "hash")
	require.NoError(t, err)

	idea, err := s.CreateIdea(ctx, NewIdea{Title: "Kiln", Description: "slow-fired thoughts", Rank: 1, OwnerID: &user.ID})
	require.NoError(t, err)
	assert.False(t, idea.Published)
	assert.Equal(t, idea.DateCreated, idea.DateModified)

	for i := 0; i < 3; i++ {
		err := s.InTx(ctx, func(tx IdeaTx) error {
			current, err := tx.LockIdea(ctx, idea.ID)
			if err != nil {
				return err
			}
			if _, err := tx.SnapshotIdea(ctx, current.ID, current.State()); err != nil {
				return err
			}
			_, err = tx.UpdateIdeaRank(ctx, current.ID, current.Rank+4)
			return err
		})
		require.NoError(t, err)
	}

	current, err := s.GetIdea(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, current.Rank, "rank is clamped at the upper bound")

	versions, err := s.ListVersions(ctx, idea.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{versions[0].VersionNumber, versions[1].VersionNumber, versions[2].VersionNumber})
	assert.Equal(t, 1, versions[2].Rank)
	assert.Equal(t, 5, versions[1].Rank)
	assert.Equal(t, 9, versions[0].Rank)
}

func TestPostgresRolledBackTxLeavesNoVersion(t *testing.T) {
	s, ctx := openMigratedStore(t)

	idea, err := s.CreateIdea(ctx, NewIdea{Title: "t", Description: "d", Rank: 1})
	require.NoError(t, err)
	assert.Nil(t, idea.OwnerID)

	boom := errors.New("boom")
	err = s.InTx(ctx, func(tx IdeaTx) error {
		if _, err := tx.SnapshotIdea(ctx, idea.ID, idea.State()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	versions, err := s.ListVersions(ctx, idea.ID)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestPostgresIdeaVersionsRejectUpdate(t *testing.T) {
	s, ctx := openMigratedStore(t)

	idea, err := s.CreateIdea(ctx, NewIdea{Title: "t", Description: "d", Rank: 2})
	require.NoError(t, err)
	_, err = s.SnapshotIdea(ctx, idea.ID, idea.State())
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx, `UPDATE idea_versions SET title='rewritten' WHERE idea_id=$1`, idea.ID)
	require.Error(t, err)
	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
	assert.Equal(t, "55000", pgErr.SQLState())
}

func TestPostgresDeleteIdeaCascadesVersions(t *testing.T) {
	s, ctx := openMigratedStore(t)

	idea, err := s.CreateIdea(ctx, NewIdea{Title: "t", Description: "d", Rank: 1})
	require.NoError(t, err)
	_, err = s.SnapshotIdea(ctx, idea.ID, idea.State())
	require.NoError(t, err)

	removed, err := s.DeleteIdea(ctx, idea.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.DeleteIdea(ctx, idea.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = s.GetIdea(ctx, idea.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	var count int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM idea_versions WHERE idea_id=$1`, idea.ID).Scan(&count))
	assert.Zero(t, count)
}

func TestPostgresCreateIdeaRejectsInvalidInput(t *testing.T) {
	s, ctx := openMigratedStore(t)

	_, err := s.CreateIdea(ctx, NewIdea{Title: "t", Description: "d", Rank: 11})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.CreateIdea(ctx, NewIdea{Title: "  ", Description: "d", Rank: 1})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestPostgresUsernameIsUnique(t *testing.T) {
	s, ctx := openMigratedStore(t)

	_, err := s.CreateUser(ctx, "grace", "hash")
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, "grace", "other")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = s.CreateUser(ctx, "Grace", "hash")
	assert.NoError(t, err, "usernames are case-sensitive")
}

func TestPostgresPublicFeedJoinsUsernames(t *testing.T) {
	s, ctx := openMigratedStore(t)

	user, err := s.CreateUser(ctx, "lin", "hash")
	require.NoError(t, err)
	draft, err := s.CreateIdea(ctx, NewIdea{Title: "draft", Description: "d", Rank: 1, OwnerID: &user.ID})
	require.NoError(t, err)
	public, err := s.CreateIdea(ctx, NewIdea{Title: "public", Description: "d", Rank: 1, OwnerID: &user.ID})
	require.NoError(t, err)
	_, err = s.PublishIdea(ctx, public.ID)
	require.NoError(t, err)

	feed, err := s.ListPublicFeed(ctx)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, public.ID, feed[0].ID)
	assert.Equal(t, "lin", feed[0].Username)

	mine, err := s.ListIdeasByOwner(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	published, err := s.ListPublishedIdeasByOwner(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.NotEqual(t, draft.ID, published[0].ID)
}
