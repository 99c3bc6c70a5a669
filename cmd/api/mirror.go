package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"percolator/api/internal/gitrepo"
)

var (
	mirrorCmd = &cobra.Command{
		Use:   "mirror",
		Short: "Inspect the git mirror of idea histories",
	}
	mirrorLogCmd = &cobra.Command{
		Use:   "log <idea-id>",
		Short: "List mirrored commits for an idea, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runMirrorLog,
	}
	mirrorShowCmd = &cobra.Command{
		Use:   "show <idea-id> [revision]",
		Short: "Print the idea content at a revision (default head)",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runMirrorShow,
	}

	mirrorLimit int
)

func init() {
	mirrorLogCmd.Flags().IntVar(&mirrorLimit, "limit", 20, "maximum commits to list, 0 for all")
	mirrorCmd.AddCommand(mirrorLogCmd, mirrorShowCmd)
	rootCmd.AddCommand(mirrorCmd)
}

func mirrorService() (*gitrepo.Service, error) {
	if cfg.ReposDir == "" {
		return nil, errors.New("PERCOLATOR_REPOS_DIR is not set")
	}
	return gitrepo.New(cfg.ReposDir), nil
}

func parseIdeaID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid idea id %q", raw)
	}
	return id, nil
}

func runMirrorLog(cmd *cobra.Command, args []string) error {
	repos, err := mirrorService()
	if err != nil {
		return err
	}
	ideaID, err := parseIdeaID(args[0])
	if err != nil {
		return err
	}
	commits, err := repos.History(ideaID, mirrorLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, c := range commits {
		fmt.Fprintf(out, "%s  %s  %-12s %s\n", c.Hash, c.CreatedAt.Format("2006-01-02 15:04"), c.Author, c.Message)
	}
	return nil
}

func runMirrorShow(cmd *cobra.Command, args []string) error {
	repos, err := mirrorService()
	if err != nil {
		return err
	}
	ideaID, err := parseIdeaID(args[0])
	if err != nil {
		return err
	}

	var content gitrepo.Content
	if len(args) == 2 {
		content, err = repos.ContentAt(ideaID, args[1])
	} else {
		content, _, err = repos.HeadContent(ideaID)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(content)
}
