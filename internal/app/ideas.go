package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"percolator/api/internal/export"
	"percolator/api/internal/gitrepo"
	"percolator/api/internal/metrics"
	"percolator/api/internal/rbac"
	"percolator/api/internal/search"
	"percolator/api/internal/store"
)

type CreateIdeaInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Rank        *int   `json:"rank"`
}

// ListIdeas returns the caller's ideas. Anonymous callers see every idea
// when anonymous mode is on, and only published ideas otherwise.
func (s *Service) ListIdeas(ctx context.Context, identity Identity) ([]store.Idea, error) {
	var (
		ideas []store.Idea
		err   error
	)
	switch {
	case !identity.Anonymous():
		ideas, err = s.store.ListIdeasByOwner(ctx, identity.UserID)
	case s.cfg.AllowAnonymous:
		ideas, err = s.store.ListIdeas(ctx)
	default:
		ideas, err = s.store.ListPublishedIdeas(ctx)
	}
	if err != nil {
		return nil, s.translate(err, "Ideas")
	}
	return ideas, nil
}

func (s *Service) GetIdea(ctx context.Context, identity Identity, ideaID int64) (store.Idea, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		return store.Idea{}, s.translate(err, "Idea")
	}
	if err := s.authorize(identity, idea, rbac.ActionRead); err != nil {
		return store.Idea{}, err
	}
	return idea, nil
}

// CreateIdea stores a new draft. Rank defaults to 1 and, unlike ChangeRank,
// is rejected rather than clamped when out of range.
func (s *Service) CreateIdea(ctx context.Context, identity Identity, input CreateIdeaInput) (store.Idea, error) {
	idea, err := s.createIdea(ctx, identity, input)
	s.record("create", err)
	return idea, err
}

func (s *Service) createIdea(ctx context.Context, identity Identity, input CreateIdeaInput) (store.Idea, error) {
	if identity.Anonymous() && !s.cfg.AllowAnonymous {
		return store.Idea{}, unauthenticated()
	}
	draft := store.NewIdea{
		Title:       input.Title,
		Description: input.Description,
		Rank:        store.MinRank,
	}
	if input.Rank != nil {
		draft.Rank = *input.Rank
	}
	if !identity.Anonymous() {
		owner := identity.UserID
		draft.OwnerID = &owner
	}
	if err := draft.Validate(); err != nil {
		return store.Idea{}, s.translate(err, "Idea")
	}

	created, err := s.store.CreateIdea(ctx, draft)
	if err != nil {
		return store.Idea{}, s.translate(err, "Idea")
	}
	s.mirror(created, identity, func(h historyMirror) error {
		return h.EnsureIdeaRepo(created.ID, contentOf(created), authorName(identity))
	})
	return created, nil
}

// EditIdea archives the current state and then applies patch. The patch is
// validated after the ownership check, so strangers always see Forbidden.
func (s *Service) EditIdea(ctx context.Context, identity Identity, ideaID int64, patch store.IdeaPatch) (store.Idea, error) {
	return s.mutate(ctx, identity, ideaID, "edit", rbac.ActionWrite, true, func(tx store.IdeaTx) (store.Idea, error) {
		if patch.Empty() {
			return store.Idea{}, validationError("At least one of title, description or rank is required", nil)
		}
		return tx.UpdateIdea(ctx, ideaID, patch)
	})
}

// ChangeRank archives the current state and stores rank clamped into [1, 10].
func (s *Service) ChangeRank(ctx context.Context, identity Identity, ideaID int64, rank int) (store.Idea, error) {
	return s.mutate(ctx, identity, ideaID, "rank", rbac.ActionWrite, true, func(tx store.IdeaTx) (store.Idea, error) {
		return tx.UpdateIdeaRank(ctx, ideaID, rank)
	})
}

// PublishIdea makes the idea public. It is one-way and takes no snapshot.
func (s *Service) PublishIdea(ctx context.Context, identity Identity, ideaID int64) (store.Idea, error) {
	return s.mutate(ctx, identity, ideaID, "publish", rbac.ActionPublish, false, func(tx store.IdeaTx) (store.Idea, error) {
		return tx.PublishIdea(ctx, ideaID)
	})
}

func (s *Service) DeleteIdea(ctx context.Context, identity Identity, ideaID int64) (bool, error) {
	if identity.Anonymous() {
		err := unauthenticated()
		s.record("delete", err)
		return false, err
	}
	var deleted bool
	err := s.store.InTx(ctx, func(tx store.IdeaTx) error {
		current, err := tx.LockIdea(ctx, ideaID)
		if err != nil {
			return err
		}
		if err := s.authorize(identity, current, rbac.ActionDelete); err != nil {
			return err
		}
		deleted, err = tx.DeleteIdea(ctx, ideaID)
		return err
	})
	err = s.translate(err, "Idea")
	s.record("delete", err)
	if err != nil {
		return false, err
	}

	if s.search != nil {
		s.search.DeleteIdea(ideaID)
	}
	if s.history != nil {
		if err := s.history.RemoveIdeaRepo(ideaID); err != nil {
			s.log.Warn().Err(err).Int64("idea_id", ideaID).Msg("remove history mirror")
		}
	}
	return deleted, nil
}

// mutate runs the snapshot-then-mutate unit of work. The idea row is locked
// for the whole transaction so version numbers stay contiguous.
func (s *Service) mutate(
	ctx context.Context,
	identity Identity,
	ideaID int64,
	operation string,
	action rbac.Action,
	snapshot bool,
	apply func(tx store.IdeaTx) (store.Idea, error),
) (store.Idea, error) {
	if identity.Anonymous() {
		err := unauthenticated()
		s.record(operation, err)
		return store.Idea{}, err
	}

	var (
		updated store.Idea
		version store.IdeaVersion
	)
	err := s.store.InTx(ctx, func(tx store.IdeaTx) error {
		current, err := tx.LockIdea(ctx, ideaID)
		if err != nil {
			return err
		}
		if err := s.authorize(identity, current, action); err != nil {
			return err
		}
		if snapshot {
			if version, err = tx.SnapshotIdea(ctx, ideaID, current.State()); err != nil {
				return err
			}
		}
		updated, err = apply(tx)
		return err
	})
	err = s.translate(err, "Idea")
	s.record(operation, err)
	if err != nil {
		return store.Idea{}, err
	}

	if snapshot {
		metrics.ObserveVersion()
		s.mirror(updated, identity, func(h historyMirror) error {
			_, err := h.CommitVersion(updated.ID, contentOf(updated), authorName(identity), fmt.Sprintf("version %d", version.VersionNumber))
			return err
		})
	} else {
		s.mirror(updated, identity, func(h historyMirror) error {
			if _, err := h.CommitVersion(updated.ID, contentOf(updated), authorName(identity), "published"); err != nil {
				return err
			}
			return h.TagHead(updated.ID, "published")
		})
	}
	s.reindex(updated, identity)
	return updated, nil
}

// ListVersions returns the owner's archive for the idea, newest first.
func (s *Service) ListVersions(ctx context.Context, identity Identity, ideaID int64) ([]store.IdeaVersion, error) {
	if identity.Anonymous() {
		return nil, unauthenticated()
	}
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, s.translate(err, "Idea")
	}
	if err := s.authorize(identity, idea, rbac.ActionHistory); err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, ideaID)
	if err != nil {
		return nil, s.translate(err, "Versions")
	}
	return versions, nil
}

const shareExcerptLength = 200

// ShareText composes the social post for an idea. Nothing is sent anywhere.
func (s *Service) ShareText(ctx context.Context, identity Identity, ideaID int64) (string, error) {
	if identity.Anonymous() {
		return "", unauthenticated()
	}
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		return "", s.translate(err, "Idea")
	}
	if err := s.authorize(identity, idea, rbac.ActionShare); err != nil {
		return "", err
	}
	return composeShareText(idea), nil
}

func composeShareText(idea store.Idea) string {
	excerpt := idea.Description
	if utf8.RuneCountInString(excerpt) > shareExcerptLength {
		excerpt = string([]rune(excerpt)[:shareExcerptLength]) + "..."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "💡 New idea: %s\n\n%s\n\nMaturity: %d/10\n", idea.Title, excerpt, idea.Rank)
	b.WriteString("#ThoughtPercolator #Ideas #Innovation")
	return b.String()
}

type ExportOutput struct {
	Result *export.Result
	URL    string
}

// ExportIdea renders the idea for its owner, or for anyone once published.
// With store set the artifact is uploaded and a download URL returned.
func (s *Service) ExportIdea(ctx context.Context, identity Identity, ideaID int64, format export.Format, storeResult bool) (ExportOutput, error) {
	if s.exports == nil {
		return ExportOutput{}, domainError(ErrUnavailable, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		return ExportOutput{}, s.translate(err, "Idea")
	}
	if err := s.authorize(identity, idea, rbac.ActionExport); err != nil {
		return ExportOutput{}, err
	}
	if storeResult && !s.exports.StorageEnabled() {
		return ExportOutput{}, domainError(ErrUnavailable, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export storage is not configured", nil)
	}

	doc := export.Document{Idea: idea}
	if idea.OwnerID != nil {
		owner, err := s.store.GetUserByID(ctx, *idea.OwnerID)
		if err != nil {
			return ExportOutput{}, s.translate(err, "Author")
		}
		doc.Author = owner.Username
	}
	if doc.Versions, err = s.store.ListVersions(ctx, ideaID); err != nil {
		return ExportOutput{}, s.translate(err, "Versions")
	}

	res, err := s.exports.Export(ctx, doc, format)
	if err != nil {
		return ExportOutput{}, exportError(err)
	}
	out := ExportOutput{Result: res}
	if storeResult {
		if out.URL, err = s.exports.Store(ctx, ideaID, res); err != nil {
			return ExportOutput{}, exportError(err)
		}
	}
	return out, nil
}

func exportError(err error) error {
	switch {
	case errors.Is(err, export.ErrUnsupportedFormat):
		return validationError(err.Error(), map[string]string{"format": "oneof"})
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrStorageDisabled):
		e := domainError(ErrUnavailable, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export format is unavailable", nil)
		e.cause = err
		return e
	default:
		e := domainError(ErrStorage, http.StatusInternalServerError, "EXPORT_FAILED", "Export failed", nil)
		e.cause = err
		return e
	}
}

// mirror runs a best-effort history mirror update. Failures are logged only.
func (s *Service) mirror(idea store.Idea, identity Identity, fn func(historyMirror) error) {
	if s.history == nil {
		return
	}
	if err := fn(s.history); err != nil {
		s.log.Warn().Err(err).Int64("idea_id", idea.ID).Msg("history mirror update")
	}
}

// reindex pushes published ideas with a known author to the search index.
func (s *Service) reindex(idea store.Idea, identity Identity) {
	if s.search == nil || !idea.Published || idea.OwnerID == nil {
		return
	}
	s.search.IndexIdea(search.IdeaRecord{
		ID:           idea.ID,
		Title:        idea.Title,
		Description:  idea.Description,
		Rank:         idea.Rank,
		Username:     identity.Username,
		DateModified: idea.DateModified.Unix(),
	})
}

func contentOf(idea store.Idea) gitrepo.Content {
	return gitrepo.Content{
		Title:       idea.Title,
		Description: idea.Description,
		Rank:        idea.Rank,
		Published:   idea.Published,
	}
}

func authorName(identity Identity) string {
	if identity.Username == "" {
		return "anonymous"
	}
	return identity.Username
}
