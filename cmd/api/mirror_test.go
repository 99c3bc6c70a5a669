package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"percolator/api/internal/gitrepo"
)

func TestMirrorCommands(t *testing.T) {
	cfg.ReposDir = t.TempDir()
	t.Cleanup(func() { cfg.ReposDir = "" })

	repos := gitrepo.New(cfg.ReposDir)
	require.NoError(t, repos.EnsureIdeaRepo(3, gitrepo.Content{Title: "Kiln", Description: "d", Rank: 1}, "ada"))
	_, err := repos.CommitVersion(3, gitrepo.Content{Title: "Kiln", Description: "d", Rank: 4}, "ada", "version 1")
	require.NoError(t, err)

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	mirrorLimit = 0
	require.NoError(t, runMirrorLog(cmd, []string{"3"}))
	assert.Contains(t, out.String(), "version 1")
	assert.Contains(t, out.String(), "baseline")

	out.Reset()
	require.NoError(t, runMirrorShow(cmd, []string{"3"}))
	var head gitrepo.Content
	require.NoError(t, json.Unmarshal(out.Bytes(), &head))
	assert.Equal(t, 4, head.Rank)

	out.Reset()
	require.NoError(t, runMirrorShow(cmd, []string{"3", "HEAD~1"}))
	var first gitrepo.Content
	require.NoError(t, json.Unmarshal(out.Bytes(), &first))
	assert.Equal(t, 1, first.Rank)
}

func TestMirrorCommandsRejectBadInput(t *testing.T) {
	cfg.ReposDir = ""
	assert.Error(t, runMirrorLog(&cobra.Command{}, []string{"3"}))

	cfg.ReposDir = t.TempDir()
	t.Cleanup(func() { cfg.ReposDir = "" })
	assert.Error(t, runMirrorLog(&cobra.Command{}, []string{"abc"}))
	assert.ErrorIs(t, runMirrorShow(&cobra.Command{}, []string{"99"}), gitrepo.ErrRepoNotFound)
}
