package app

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"percolator/api/internal/authpw"
	"percolator/api/internal/config"
	"percolator/api/internal/store"
)

// memStore is an in-memory dataStore. InTx works on a private copy that is
// swapped in only when fn succeeds, and holds the store lock for the whole
// transaction the way a row lock would.
type memStore struct {
	mu      sync.Mutex
	data    *memData
	pingErr error
	// failMutation is returned by the next update inside a transaction.
	failMutation error
}

type refreshRow struct {
	user      store.User
	expiresAt time.Time
}

type memData struct {
	clock       time.Time
	nextUser    int64
	nextIdea    int64
	nextVersion int64
	users       []store.User
	ideas       map[int64]store.Idea
	versions    map[int64][]store.IdeaVersion
	refresh     map[string]refreshRow
	revoked     map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{data: &memData{
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ideas:    map[int64]store.Idea{},
		versions: map[int64][]store.IdeaVersion{},
		refresh:  map[string]refreshRow{},
		revoked:  map[string]time.Time{},
	}}
}

func (d *memData) clone() *memData {
	c := *d
	c.users = append([]store.User(nil), d.users...)
	c.ideas = make(map[int64]store.Idea, len(d.ideas))
	for id, idea := range d.ideas {
		c.ideas[id] = idea
	}
	c.versions = make(map[int64][]store.IdeaVersion, len(d.versions))
	for id, versions := range d.versions {
		c.versions[id] = append([]store.IdeaVersion(nil), versions...)
	}
	c.refresh = make(map[string]refreshRow, len(d.refresh))
	for k, v := range d.refresh {
		c.refresh[k] = v
	}
	c.revoked = make(map[string]time.Time, len(d.revoked))
	for k, v := range d.revoked {
		c.revoked[k] = v
	}
	return &c
}

func (d *memData) tick() time.Time {
	d.clock = d.clock.Add(time.Second)
	return d.clock
}

func (s *memStore) InTx(ctx context.Context, fn func(store.IdeaTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	working := s.data.clone()
	if err := fn(&memTx{data: working, store: s}); err != nil {
		return err
	}
	s.data = working
	return nil
}

// view runs fn against committed data outside any transaction.
func (s *memStore) view(fn func(tx *memTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTx{data: s.data, store: s})
}

type memTx struct {
	data  *memData
	store *memStore
}

func (t *memTx) takeFailure() error {
	err := t.store.failMutation
	t.store.failMutation = nil
	return err
}

func (t *memTx) CreateIdea(ctx context.Context, idea store.NewIdea) (store.Idea, error) {
	if err := idea.Validate(); err != nil {
		return store.Idea{}, err
	}
	t.data.nextIdea++
	now := t.data.tick()
	created := store.Idea{
		ID:           t.data.nextIdea,
		Title:        idea.Title,
		Description:  idea.Description,
		Rank:         idea.Rank,
		OwnerID:      idea.OwnerID,
		DateCreated:  now,
		DateModified: now,
	}
	t.data.ideas[created.ID] = created
	return created, nil
}

func (t *memTx) GetIdea(ctx context.Context, id int64) (store.Idea, error) {
	idea, ok := t.data.ideas[id]
	if !ok {
		return store.Idea{}, sql.ErrNoRows
	}
	return idea, nil
}

func (t *memTx) LockIdea(ctx context.Context, id int64) (store.Idea, error) {
	return t.GetIdea(ctx, id)
}

func (t *memTx) filter(keep func(store.Idea) bool, newestFirst bool) []store.Idea {
	out := make([]store.Idea, 0)
	for _, idea := range t.data.ideas {
		if keep(idea) {
			out = append(out, idea)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].ID > out[j].ID
		}
		return out[i].DateModified.Before(out[j].DateModified)
	})
	return out
}

func (t *memTx) ListIdeas(ctx context.Context) ([]store.Idea, error) {
	return t.filter(func(store.Idea) bool { return true }, true), nil
}

func (t *memTx) ListIdeasByOwner(ctx context.Context, ownerID int64) ([]store.Idea, error) {
	return t.filter(func(i store.Idea) bool { return i.OwnedBy(ownerID) }, true), nil
}

func (t *memTx) update(id int64, fn func(*store.Idea)) (store.Idea, error) {
	if err := t.takeFailure(); err != nil {
		return store.Idea{}, err
	}
	idea, ok := t.data.ideas[id]
	if !ok {
		return store.Idea{}, sql.ErrNoRows
	}
	fn(&idea)
	idea.DateModified = t.data.tick()
	t.data.ideas[id] = idea
	return idea, nil
}

func (t *memTx) UpdateIdea(ctx context.Context, id int64, patch store.IdeaPatch) (store.Idea, error) {
	if err := patch.Validate(); err != nil {
		return store.Idea{}, err
	}
	return t.update(id, func(idea *store.Idea) {
		if patch.Title.Set {
			idea.Title = patch.Title.Value
		}
		if patch.Description.Set {
			idea.Description = patch.Description.Value
		}
		if patch.Rank.Set {
			idea.Rank = patch.Rank.Value
		}
	})
}

func (t *memTx) UpdateIdeaRank(ctx context.Context, id int64, rank int) (store.Idea, error) {
	return t.update(id, func(idea *store.Idea) { idea.Rank = store.ClampRank(rank) })
}

func (t *memTx) PublishIdea(ctx context.Context, id int64) (store.Idea, error) {
	return t.update(id, func(idea *store.Idea) { idea.Published = true })
}

func (t *memTx) DeleteIdea(ctx context.Context, id int64) (bool, error) {
	if _, ok := t.data.ideas[id]; !ok {
		return false, nil
	}
	delete(t.data.ideas, id)
	delete(t.data.versions, id)
	return true, nil
}

func (t *memTx) SnapshotIdea(ctx context.Context, ideaID int64, state store.IdeaState) (store.IdeaVersion, error) {
	next := 1
	for _, v := range t.data.versions[ideaID] {
		if v.VersionNumber >= next {
			next = v.VersionNumber + 1
		}
	}
	t.data.nextVersion++
	version := store.IdeaVersion{
		ID:            t.data.nextVersion,
		IdeaID:        ideaID,
		VersionNumber: next,
		Title:         state.Title,
		Description:   state.Description,
		Rank:          store.ClampRank(state.Rank),
		CreatedAt:     t.data.tick(),
	}
	t.data.versions[ideaID] = append(t.data.versions[ideaID], version)
	return version, nil
}

func (t *memTx) ListVersions(ctx context.Context, ideaID int64) ([]store.IdeaVersion, error) {
	versions := append([]store.IdeaVersion{}, t.data.versions[ideaID]...)
	sort.Slice(versions, func(i, j int) bool { return versions[i].VersionNumber > versions[j].VersionNumber })
	return versions, nil
}

func (s *memStore) CreateIdea(ctx context.Context, idea store.NewIdea) (out store.Idea, err error) {
	err = s.view(func(tx *memTx) error { out, err = tx.CreateIdea(ctx, idea); return err })
	return out, err
}

func (s *memStore) GetIdea(ctx context.Context, id int64) (out store.Idea, err error) {
	err = s.view(func(tx *memTx) error { out, err = tx.GetIdea(ctx, id); return err })
	return out, err
}

func (s *memStore) LockIdea(ctx context.Context, id int64) (store.Idea, error) {
	return s.GetIdea(ctx, id)
}

func (s *memStore) ListIdeas(ctx context.Context) (out []store.Idea, err error) {
	err = s.view(func(tx *memTx) error { out, err = tx.ListIdeas(ctx); return err })
	return out, err
}

func (s *memStore) ListIdeasByOwner(ctx context.Context, ownerID int64) (out []store.Idea, err error) {
	err = s.view(func(tx *memTx) error { out, err = tx.ListIdeasByOwner(ctx, ownerID); return err })
	return out, err
}

func (s *memStore) UpdateIdea(ctx context.Context, id int64, patch store.IdeaPatch) (out store.Idea, err error) {
	err = s.view(func(tx *memTx) error { out, err = tx.UpdateIdea(ctx, id, patch); return err })
	return out, err
}

func (s *memStore) UpdateIdeaRank(ctx context.Context, id int64, rank int) (out store.Idea, err error) {
	err = s.view(func(tx *memTx) error { out, err = tx.UpdateIdeaRank(ctx, id, rank); return err })
	return out, err
}

func (s *memStore) PublishIdea(ctx context.Context, id int64) (out store.Idea, err error) {
	err = s.view(func(tx *memTx) error { out, err = tx.PublishIdea(ctx, id); return err })
	return out, err
}

func (s *memStore) DeleteIdea(ctx context.Context, id int64) (out bool, err error) {
	err = s.view(func(tx *memTx) error { out, err = tx.DeleteIdea(ctx, id); return err })
	return out, err
}

func (s *memStore) SnapshotIdea(ctx context.Context, ideaID int64, state store.IdeaState) (out store.IdeaVersion, err error) {
	err = s.view(func(tx *memTx) error { out, err = tx.SnapshotIdea(ctx, ideaID, state); return err })
	return out, err
}

func (s *memStore) ListVersions(ctx context.Context, ideaID int64) (out []store.IdeaVersion, err error) {
	err = s.view(func(tx *memTx) error { out, err = tx.ListVersions(ctx, ideaID); return err })
	return out, err
}

func (s *memStore) ListPublishedIdeas(ctx context.Context) (out []store.Idea, err error) {
	err = s.view(func(tx *memTx) error {
		out = tx.filter(func(i store.Idea) bool { return i.Published }, true)
		return nil
	})
	return out, err
}

func (s *memStore) ListPublishedIdeasByOwner(ctx context.Context, ownerID int64) (out []store.Idea, err error) {
	err = s.view(func(tx *memTx) error {
		out = tx.filter(func(i store.Idea) bool { return i.Published && i.OwnedBy(ownerID) }, true)
		return nil
	})
	return out, err
}

func (s *memStore) ListPublicFeed(ctx context.Context) (out []store.PublicIdea, err error) {
	err = s.view(func(tx *memTx) error {
		out = make([]store.PublicIdea, 0)
		for _, idea := range tx.filter(func(i store.Idea) bool { return i.Published && i.OwnerID != nil }, false) {
			for _, u := range tx.data.users {
				if u.ID == *idea.OwnerID {
					out = append(out, store.PublicIdea{Idea: idea, Username: u.Username})
				}
			}
		}
		return nil
	})
	return out, err
}

func (s *memStore) CreateUser(ctx context.Context, username, passwordHash string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.data.users {
		if u.Username == username {
			return store.User{}, store.ErrUsernameTaken
		}
	}
	s.data.nextUser++
	user := store.User{ID: s.data.nextUser, Username: username, PasswordHash: passwordHash, CreatedAt: s.data.tick()}
	s.data.users = append(s.data.users, user)
	return user, nil
}

func (s *memStore) GetUserByID(ctx context.Context, userID int64) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.data.users {
		if u.ID == userID {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (s *memStore) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.data.users {
		if u.Username == username {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (s *memStore) Ping(ctx context.Context) error {
	return s.pingErr
}

func (s *memStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.refresh[tokenHash] = refreshRow{user: user, expiresAt: expiresAt}
	return nil
}

func (s *memStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.data.refresh[tokenHash]
	if !ok || time.Now().After(row.expiresAt) {
		return store.User{}, sql.ErrNoRows
	}
	return row.user, nil
}

func (s *memStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.refresh, tokenHash)
	return nil
}

func (s *memStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.revoked[jti] = exp
	return nil
}

func (s *memStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data.revoked[jti]
	return ok, nil
}

func newTestService(ms *memStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:      "test-secret",
			AccessTTL:      time.Hour,
			RefreshTTL:     24 * time.Hour,
			CORSOrigins:    []string{"*"},
			MetricsEnabled: true,
		},
		store:     ms,
		sessions:  ms,
		passwords: authpw.NewService(ms).WithCost(bcrypt.MinCost),
		log:       zerolog.Nop(),
	}
}
