package gitrepo

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
)

func TestIdeaRepoLifecycle(t *testing.T) {
	svc := New(t.TempDir())

	initial := Content{Title: "Kiln", Description: "slow-fired thoughts", Rank: 1}
	if err := svc.EnsureIdeaRepo(1, initial, "ada"); err != nil {
		t.Fatalf("EnsureIdeaRepo() error = %v", err)
	}
	if err := svc.EnsureIdeaRepo(1, Content{Title: "ignored"}, "ada"); err != nil {
		t.Fatalf("EnsureIdeaRepo() second call error = %v", err)
	}

	updated := initial
	updated.Rank = 4
	commit, err := svc.CommitVersion(1, updated, "ada", "version 1")
	if err != nil {
		t.Fatalf("CommitVersion() error = %v", err)
	}
	if commit.Hash == "" || commit.Message != "version 1" || commit.Author != "ada" {
		t.Fatalf("unexpected commit: %+v", commit)
	}

	history, err := svc.History(1, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected baseline + 1 commit, got %d", len(history))
	}
	if history[0].Hash != commit.Hash {
		t.Fatalf("history must be newest first: %+v", history)
	}

	baseline, err := svc.ContentAt(1, history[1].Hash)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	if baseline != initial {
		t.Fatalf("baseline content = %+v, want %+v", baseline, initial)
	}

	head, info, err := svc.HeadContent(1)
	if err != nil {
		t.Fatalf("HeadContent() error = %v", err)
	}
	if head.Rank != 4 || info.Hash != commit.Hash {
		t.Fatalf("unexpected head: %+v %+v", head, info)
	}
}

func TestCommitVersionCreatesMissingRepo(t *testing.T) {
	svc := New(t.TempDir())

	commit, err := svc.CommitVersion(9, Content{Title: "t", Description: "d", Rank: 2}, "lin", "version 3")
	if err != nil {
		t.Fatalf("CommitVersion() error = %v", err)
	}
	if commit.Message != "baseline" {
		t.Fatalf("first commit of a fresh repo is the baseline, got %q", commit.Message)
	}
}

func TestCommitVersionSkipsUnchangedContent(t *testing.T) {
	svc := New(t.TempDir())
	content := Content{Title: "t", Description: "d", Rank: 2}
	if err := svc.EnsureIdeaRepo(2, content, "ada"); err != nil {
		t.Fatalf("EnsureIdeaRepo() error = %v", err)
	}
	if _, err := svc.CommitVersion(2, content, "ada", "version 1"); err != nil {
		t.Fatalf("CommitVersion() error = %v", err)
	}
	history, _ := svc.History(2, 0)
	if len(history) != 1 {
		t.Fatalf("expected no new commit for identical content, got %d commits", len(history))
	}
}

func TestHistoryLimit(t *testing.T) {
	svc := New(t.TempDir())
	for i := 1; i <= 4; i++ {
		if _, err := svc.CommitVersion(3, Content{Title: "t", Description: "d", Rank: i}, "ada", fmt.Sprintf("version %d", i)); err != nil {
			t.Fatalf("CommitVersion() error = %v", err)
		}
	}
	history, err := svc.History(3, 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
}

func TestTagHeadAndRemove(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir)
	if err := svc.EnsureIdeaRepo(4, Content{Title: "t", Description: "d", Rank: 1}, "ada"); err != nil {
		t.Fatalf("EnsureIdeaRepo() error = %v", err)
	}
	if err := svc.TagHead(4, "published"); err != nil {
		t.Fatalf("TagHead() error = %v", err)
	}
	if err := svc.TagHead(4, "published"); err != nil {
		t.Fatalf("TagHead() twice error = %v", err)
	}

	if err := svc.RemoveIdeaRepo(4); err != nil {
		t.Fatalf("RemoveIdeaRepo() error = %v", err)
	}
	if _, err := os.Stat(svc.repoPath(4)); !os.IsNotExist(err) {
		t.Fatalf("repo directory should be gone, stat err = %v", err)
	}
	if _, err := svc.History(4, 0); !errors.Is(err, ErrRepoNotFound) {
		t.Fatalf("History() after removal error = %v, want ErrRepoNotFound", err)
	}
	if err := svc.RemoveIdeaRepo(4); err != nil {
		t.Fatalf("RemoveIdeaRepo() on missing repo error = %v", err)
	}
}

func TestConcurrentCommitVersionSameIdea(t *testing.T) {
	svc := New(t.TempDir())
	initial := Content{Title: "t", Description: "d", Rank: 1}
	if err := svc.EnsureIdeaRepo(5, initial, "ada"); err != nil {
		t.Fatalf("EnsureIdeaRepo() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := initial
			next.Description = fmt.Sprintf("description-%02d", idx)
			if _, err := svc.CommitVersion(5, next, "ada", fmt.Sprintf("version %d", idx+1)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("CommitVersion() concurrent error = %v", err)
	}

	history, err := svc.History(5, 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("expected %d commits in history, got %d", writers+1, len(history))
	}

	head, _, err := svc.HeadContent(5)
	if err != nil {
		t.Fatalf("HeadContent() error = %v", err)
	}
	if !strings.HasPrefix(head.Description, "description-") {
		t.Fatalf("unexpected head content after concurrent commits: %+v", head)
	}
}

func TestSanitizeEmail(t *testing.T) {
	cases := map[string]string{"Ada Lovelace": "Ada.Lovelace", "lin_z": "lin.z", "!!!": "user"}
	for in, want := range cases {
		if got := sanitizeEmail(in); got != want {
			t.Fatalf("sanitizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
