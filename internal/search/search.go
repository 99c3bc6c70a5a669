package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Username string `json:"username"`
	Rank     int    `json:"rank"`
}

// Query describes a search over published ideas.
type Query struct {
	Text     string
	Username string // empty = every author
	MinRank  int    // 0 = no lower bound
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push ideas into a search index.
type Indexer interface {
	IndexIdeas(ideas []IdeaRecord) error
	DeleteIdea(id int64) error
}

// IdeaRecord is the data we index for a published idea.
type IdeaRecord struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Rank         int    `json:"rank"`
	Username     string `json:"username"`
	DateModified int64  `json:"dateModified"`
}

func normalize(q Query) Query {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
