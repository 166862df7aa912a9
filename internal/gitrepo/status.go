// Package gitrepo commits published files into the git repository that
// contains them.
package gitrepo

import (
	"errors"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

type Status struct {
	IsRepo bool   `json:"isRepo"`
	Root   string `json:"root,omitempty"`
	Branch string `json:"branch,omitempty"`
	Head   string `json:"head,omitempty"`
	Dirty  bool   `json:"dirty"`
}

// open finds the repository containing dir, walking up like git does.
func open(dir string) (*git.Repository, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
}

// GetStatus reports on the repository containing dir. A dir outside any
// repository is not an error; IsRepo is false.
func GetStatus(dir string) (Status, error) {
	repo, err := open(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Status{IsRepo: false}, nil
	}
	if err != nil {
		return Status{}, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return Status{}, err
	}
	st := Status{IsRepo: true, Root: wt.Filesystem.Root()}

	head, err := repo.Head()
	switch {
	case err == nil:
		st.Branch = head.Name().Short()
		st.Head = head.Hash().String()[:7]
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// Unborn branch: nothing committed yet.
	default:
		return Status{}, err
	}

	ws, err := wt.Status()
	if err != nil {
		return Status{}, err
	}
	st.Dirty = !ws.IsClean()
	return st, nil
}
