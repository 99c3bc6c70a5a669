package app

import (
	"context"
	"strings"

	"percolator/api/internal/search"
	"percolator/api/internal/store"
)

// ListAllPublic returns every published idea that has an author, oldest
// modification first.
func (s *Service) ListAllPublic(ctx context.Context) ([]store.PublicIdea, error) {
	feed, err := s.store.ListPublicFeed(ctx)
	if err != nil {
		return nil, s.translate(err, "Ideas")
	}
	return feed, nil
}

func (s *Service) ListPublicByUser(ctx context.Context, username string) ([]store.Idea, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, s.translate(err, "User")
	}
	ideas, err := s.store.ListPublishedIdeasByOwner(ctx, user.ID)
	if err != nil {
		return nil, s.translate(err, "Ideas")
	}
	return ideas, nil
}

// ViewPublic resolves a published idea through its author. Drafts, unknown
// users and ideas owned by someone else are all NotFound.
func (s *Service) ViewPublic(ctx context.Context, username string, ideaID int64) (store.PublicIdea, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return store.PublicIdea{}, s.translate(err, "User")
	}
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		return store.PublicIdea{}, s.translate(err, "Idea")
	}
	if !idea.Published || !idea.OwnedBy(user.ID) {
		return store.PublicIdea{}, notFound("Idea not found")
	}
	return store.PublicIdea{Idea: idea, Username: user.Username}, nil
}

// ViewPublicHistory is the read-only archive of a published idea.
func (s *Service) ViewPublicHistory(ctx context.Context, username string, ideaID int64) ([]store.IdeaVersion, error) {
	if _, err := s.ViewPublic(ctx, username, ideaID); err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, ideaID)
	if err != nil {
		return nil, s.translate(err, "Versions")
	}
	return versions, nil
}

// SearchPublic runs a full-text query over published ideas.
func (s *Service) SearchPublic(ctx context.Context, q search.Query) (search.Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return search.Response{}, validationError("Query is required", map[string]string{"q": "required"})
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text, Backend: "none"}, nil
	}
	return s.search.Search(ctx, q), nil
}
