package gitrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var ErrNotRepo = errors.New("not inside a git repository")

type CommitResult struct {
	Committed bool   `json:"committed"`
	Hash      string `json:"hash,omitempty"`
}

// CommitPaths stages paths (absolute, or relative to the working dir) and
// commits them with message. Committed is false when none of them changed.
// Anything the user already staged is included in the commit.
func CommitPaths(paths []string, message string) (CommitResult, error) {
	if len(paths) == 0 {
		return CommitResult{}, nil
	}
	repo, err := open(filepath.Dir(paths[0]))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return CommitResult{}, ErrNotRepo
	}
	if err != nil {
		return CommitResult{}, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return CommitResult{}, err
	}
	root := resolve(wt.Filesystem.Root())

	rels := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return CommitResult{}, err
		}
		rel, err := filepath.Rel(root, resolve(abs))
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return CommitResult{}, fmt.Errorf("path is outside repository %s: %s", root, p)
		}
		rel = filepath.ToSlash(rel)
		if _, err := wt.Add(rel); err != nil {
			return CommitResult{}, fmt.Errorf("git add %s: %w", rel, err)
		}
		rels = append(rels, rel)
	}

	ws, err := wt.Status()
	if err != nil {
		return CommitResult{}, err
	}
	staged := false
	for _, rel := range rels {
		if fs, ok := ws[rel]; ok && fs.Staging != git.Unmodified && fs.Staging != git.Untracked {
			staged = true
			break
		}
	}
	if !staged {
		return CommitResult{}, nil
	}

	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = fmt.Sprintf("minder: publish (%s)", time.Now().UTC().Format(time.RFC3339))
	}
	hash, err := wt.Commit(msg, &git.CommitOptions{Author: signature(repo)})
	if err != nil {
		return CommitResult{}, err
	}
	return CommitResult{Committed: true, Hash: hash.String()}, nil
}

// signature uses the repository's user, then the global one, then a
// fixed fallback so commits never fail for want of an identity.
func signature(repo *git.Repository) *object.Signature {
	sig := &object.Signature{Name: "minder", Email: "minder@localhost", When: time.Now()}
	if c, err := repo.Config(); err == nil && c.User.Name != "" {
		sig.Name, sig.Email = c.User.Name, c.User.Email
		return sig
	}
	if c, err := config.LoadConfig(config.GlobalScope); err == nil && c.User.Name != "" {
		sig.Name, sig.Email = c.User.Name, c.User.Email
	}
	return sig
}

// resolve canonicalises symlinked temp dirs (macOS /var -> /private/var).
func resolve(p string) string {
	if v, err := filepath.EvalSymlinks(p); err == nil {
		return v
	}
	if _, err := os.Stat(p); err != nil {
		if v, err := filepath.EvalSymlinks(filepath.Dir(p)); err == nil {
			return filepath.Join(v, filepath.Base(p))
		}
	}
	return p
}
