package store

import "time"

const (
	MinRank = 1
	MaxRank = 10
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Idea is the current state of a journaled thought. OwnerID is nil for
// ideas created while anonymous mode was enabled.
type Idea struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Rank         int       `json:"rank"`
	OwnerID      *int64    `json:"userId"`
	Published    bool      `json:"published"`
	DateCreated  time.Time `json:"dateCreated"`
	DateModified time.Time `json:"dateModified"`
}

// State returns the content fields captured by a version snapshot.
func (i Idea) State() IdeaState {
	return IdeaState{Title: i.Title, Description: i.Description, Rank: i.Rank}
}

// OwnedBy reports whether userID owns the idea. Unowned ideas are owned by nobody.
func (i Idea) OwnedBy(userID int64) bool {
	return i.OwnerID != nil && userID != 0 && *i.OwnerID == userID
}

type IdeaState struct {
	Title       string
	Description string
	Rank        int
}

// IdeaVersion is an immutable snapshot of an idea taken before a content
// mutation. VersionNumber is contiguous from 1 per idea.
type IdeaVersion struct {
	ID            int64     `json:"id"`
	IdeaID        int64     `json:"ideaId"`
	VersionNumber int       `json:"versionNumber"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Rank          int       `json:"rank"`
	CreatedAt     time.Time `json:"createdAt"`
}

// PublicIdea is a published idea joined with its author's username.
type PublicIdea struct {
	Idea
	Username string `json:"username"`
}

type NewIdea struct {
	Title       string `json:"title" validate:"notblank"`
	Description string `json:"description" validate:"notblank"`
	Rank        int    `json:"rank" validate:"min=1,max=10"`
	OwnerID     *int64 `json:"-"`
}

// IdeaPatch carries a partial edit. Unset fields are left untouched.
type IdeaPatch struct {
	Title       Field[string] `json:"title"`
	Description Field[string] `json:"description"`
	Rank        Field[int]    `json:"rank"`
}

func (p IdeaPatch) Empty() bool {
	return !p.Title.Set && !p.Description.Set && !p.Rank.Set
}

// ClampRank forces rank into [MinRank, MaxRank].
func ClampRank(rank int) int {
	if rank < MinRank {
		return MinRank
	}
	if rank > MaxRank {
		return MaxRank
	}
	return rank
}
