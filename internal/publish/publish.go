package publish

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"minder-cli/internal/outline"
)

type WriteOptions struct {
	IncludeIDs bool
	Overwrite  bool
}

type WriteResult struct {
	Written []string `json:"written"`
}

// WriteOutline renders the engine's current rows to <toDir>/<projectID>.md.
func WriteOutline(e *outline.Engine, title string, toDir string, opt WriteOptions) (WriteResult, error) {
	if e == nil {
		return WriteResult{}, errors.New("missing engine")
	}
	projectID := strings.TrimSpace(e.ProjectID())
	if projectID == "" {
		return WriteResult{}, errors.New("no project loaded")
	}
	toDir = strings.TrimSpace(toDir)
	if toDir == "" {
		return WriteResult{}, errors.New("missing --to")
	}
	toDir = filepath.Clean(toDir)

	md := RenderOutlineMarkdown(title, e.Filter(), e.Rows(), RenderOptions{IncludeIDs: opt.IncludeIDs})

	if err := os.MkdirAll(toDir, 0o755); err != nil {
		return WriteResult{}, err
	}
	outPath := filepath.Join(toDir, projectID+".md")
	if err := writeFile(outPath, []byte(md), opt.Overwrite); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Written: []string{outPath}}, nil
}

func writeFile(path string, b []byte, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return errors.New("file exists (use --overwrite): " + path)
		}
	}
	return os.WriteFile(path, b, 0o644)
}
