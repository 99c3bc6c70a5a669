package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over the ideas.fts column as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks published ideas with plainto_tsquery and ts_rank, using
// ts_headline for the snippet.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	q = normalize(q)

	where, args := ftsWhere(q)

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM ideas i JOIN users u ON u.id = i.user_id WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT i.id, i.title,
			ts_headline('english', i.description, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			u.username, i.rank
		FROM ideas i
		JOIN users u ON u.id = i.user_id
		WHERE %s
		ORDER BY ts_rank(i.fts, plainto_tsquery('english', $1)) DESC, i.date_modified DESC
		LIMIT %d OFFSET %d`, where, q.Limit, q.Offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Username, &r.Rank); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

func ftsWhere(q Query) (string, []any) {
	clauses := []string{"i.published", "i.fts @@ plainto_tsquery('english', $1)"}
	args := []any{q.Text}
	if q.Username != "" {
		args = append(args, q.Username)
		clauses = append(clauses, fmt.Sprintf("u.username = $%d", len(args)))
	}
	if q.MinRank > 0 {
		args = append(args, q.MinRank)
		clauses = append(clauses, fmt.Sprintf("i.rank >= $%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

// LoadPublished returns every published idea with an author, for reindexing.
func (p *PgFTS) LoadPublished(ctx context.Context) ([]IdeaRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT i.id, i.title, i.description, i.rank, u.username, i.date_modified
		FROM ideas i
		JOIN users u ON u.id = i.user_id
		WHERE i.published
	`)
	if err != nil {
		return nil, fmt.Errorf("load published ideas: %w", err)
	}
	defer rows.Close()

	records := make([]IdeaRecord, 0)
	for rows.Next() {
		var (
			r        IdeaRecord
			modified sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Rank, &r.Username, &modified); err != nil {
			return nil, fmt.Errorf("scan published idea: %w", err)
		}
		if modified.Valid {
			r.DateModified = modified.Time.Unix()
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
