package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const ideaColumns = `id, title, description, rank, user_id, published, date_created, date_modified`

const versionColumns = `id, idea_id, version_number, title, description, rank, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdea(row rowScanner) (Idea, error) {
	var (
		idea  Idea
		owner sql.NullInt64
	)
	if err := row.Scan(&idea.ID, &idea.Title, &idea.Description, &idea.Rank, &owner, &idea.Published, &idea.DateCreated, &idea.DateModified); err != nil {
		return Idea{}, err
	}
	if owner.Valid {
		id := owner.Int64
		idea.OwnerID = &id
	}
	return idea, nil
}

func scanVersion(row rowScanner) (IdeaVersion, error) {
	var v IdeaVersion
	err := row.Scan(&v.ID, &v.IdeaID, &v.VersionNumber, &v.Title, &v.Description, &v.Rank, &v.CreatedAt)
	return v, err
}

func (s *PostgresStore) queryIdeas(ctx context.Context, query string, args ...any) ([]Idea, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ideas := make([]Idea, 0)
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, err
		}
		ideas = append(ideas, idea)
	}
	return ideas, rows.Err()
}

func (s *PostgresStore) CreateIdea(ctx context.Context, idea NewIdea) (Idea, error) {
	if err := idea.Validate(); err != nil {
		return Idea{}, err
	}
	var owner any
	if idea.OwnerID != nil {
		owner = *idea.OwnerID
	}
	row := s.conn.QueryRowContext(ctx, `
		INSERT INTO ideas (title, description, rank, user_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+ideaColumns, idea.Title, idea.Description, idea.Rank, owner)
	created, err := scanIdea(row)
	if err != nil {
		return Idea{}, fmt.Errorf("insert idea: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetIdea(ctx context.Context, id int64) (Idea, error) {
	return scanIdea(s.conn.QueryRowContext(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE id=$1`, id))
}

// LockIdea reads the idea and holds a row lock until the surrounding
// transaction ends. Outside a transaction it behaves like GetIdea.
func (s *PostgresStore) LockIdea(ctx context.Context, id int64) (Idea, error) {
	return scanIdea(s.conn.QueryRowContext(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE id=$1 FOR UPDATE`, id))
}

func (s *PostgresStore) ListIdeas(ctx context.Context) ([]Idea, error) {
	ideas, err := s.queryIdeas(ctx, `SELECT `+ideaColumns+` FROM ideas ORDER BY date_created DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	return ideas, nil
}

func (s *PostgresStore) ListIdeasByOwner(ctx context.Context, ownerID int64) ([]Idea, error) {
	ideas, err := s.queryIdeas(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE user_id=$1 ORDER BY date_created DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list ideas by owner: %w", err)
	}
	return ideas, nil
}

func (s *PostgresStore) ListPublishedIdeas(ctx context.Context) ([]Idea, error) {
	ideas, err := s.queryIdeas(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE published ORDER BY date_modified ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list published ideas: %w", err)
	}
	return ideas, nil
}

func (s *PostgresStore) ListPublishedIdeasByOwner(ctx context.Context, ownerID int64) ([]Idea, error) {
	ideas, err := s.queryIdeas(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE published AND user_id=$1 ORDER BY date_modified DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list published ideas by owner: %w", err)
	}
	return ideas, nil
}

// ListPublicFeed returns every published idea that has an author, joined with
// the author's username, oldest modification first.
func (s *PostgresStore) ListPublicFeed(ctx context.Context) ([]PublicIdea, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT i.id, i.title, i.description, i.rank, i.user_id, i.published, i.date_created, i.date_modified, u.username
		FROM ideas i
		JOIN users u ON u.id = i.user_id
		WHERE i.published
		ORDER BY i.date_modified ASC, i.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list public feed: %w", err)
	}
	defer rows.Close()

	feed := make([]PublicIdea, 0)
	for rows.Next() {
		var (
			item  PublicIdea
			owner sql.NullInt64
		)
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.Rank, &owner, &item.Published, &item.DateCreated, &item.DateModified, &item.Username); err != nil {
			return nil, fmt.Errorf("scan public idea: %w", err)
		}
		if owner.Valid {
			id := owner.Int64
			item.OwnerID = &id
		}
		feed = append(feed, item)
	}
	return feed, rows.Err()
}

func (s *PostgresStore) UpdateIdea(ctx context.Context, id int64, patch IdeaPatch) (Idea, error) {
	if err := patch.Validate(); err != nil {
		return Idea{}, err
	}
	sets := make([]string, 0, 4)
	args := make([]any, 0, 4)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if patch.Title.Set {
		add("title", patch.Title.Value)
	}
	if patch.Description.Set {
		add("description", patch.Description.Value)
	}
	if patch.Rank.Set {
		add("rank", patch.Rank.Value)
	}
	sets = append(sets, "date_modified=NOW()")
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE ideas SET %s WHERE id=$%d RETURNING %s`, strings.Join(sets, ", "), len(args), ideaColumns)
	return scanIdea(s.conn.QueryRowContext(ctx, query, args...))
}

// UpdateIdeaRank clamps rank into [MinRank, MaxRank] and never rejects it.
func (s *PostgresStore) UpdateIdeaRank(ctx context.Context, id int64, rank int) (Idea, error) {
	return scanIdea(s.conn.QueryRowContext(ctx, `
		UPDATE ideas SET rank=$1, date_modified=NOW()
		WHERE id=$2
		RETURNING `+ideaColumns, ClampRank(rank), id))
}

func (s *PostgresStore) PublishIdea(ctx context.Context, id int64) (Idea, error) {
	return scanIdea(s.conn.QueryRowContext(ctx, `
		UPDATE ideas SET published=TRUE, date_modified=NOW()
		WHERE id=$1
		RETURNING `+ideaColumns, id))
}

// DeleteIdea removes the idea; its versions go with it via ON DELETE CASCADE.
func (s *PostgresStore) DeleteIdea(ctx context.Context, id int64) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM ideas WHERE id=$1`, id)
	if err != nil {
		return false, fmt.Errorf("delete idea: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete idea rows: %w", err)
	}
	return n > 0, nil
}

// SnapshotIdea appends the next version for ideaID. Callers must hold the
// idea's row lock (LockIdea) so concurrent snapshots cannot pick the same number.
func (s *PostgresStore) SnapshotIdea(ctx context.Context, ideaID int64, state IdeaState) (IdeaVersion, error) {
	row := s.conn.QueryRowContext(ctx, `
		INSERT INTO idea_versions (idea_id, version_number, title, description, rank)
		SELECT $1, COALESCE(MAX(version_number), 0) + 1, $2, $3, $4
		FROM idea_versions
		WHERE idea_id = $1
		RETURNING `+versionColumns, ideaID, state.Title, state.Description, ClampRank(state.Rank))
	version, err := scanVersion(row)
	if err != nil {
		return IdeaVersion{}, fmt.Errorf("snapshot idea %d: %w", ideaID, err)
	}
	return version, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, ideaID int64) ([]IdeaVersion, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT `+versionColumns+` FROM idea_versions WHERE idea_id=$1 ORDER BY version_number DESC`, ideaID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	versions := make([]IdeaVersion, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
