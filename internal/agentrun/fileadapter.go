package agentrun

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// WorkingCopyFiles implements ctxbuild.FileSource by walking a directory
// on disk, skipping version control and build-output directories a
// context pack never needs to see.
type WorkingCopyFiles struct {
	root string
}

// NewWorkingCopyFiles returns a FileSource rooted at root.
func NewWorkingCopyFiles(root string) *WorkingCopyFiles {
	return &WorkingCopyFiles{root: root}
}

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".cache":       true,
}

// ListFiles returns every regular file under root, as paths relative to
// it, skipping vcs/dependency/cache directories.
func (w *WorkingCopyFiles) ListFiles(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			if skippedDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// ReadFile reads path, which must be relative to root.
func (w *WorkingCopyFiles) ReadFile(ctx context.Context, path string) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	clean := filepath.Clean("/" + path)
	full := filepath.Join(w.root, clean)
	if !strings.HasPrefix(full, filepath.Clean(w.root)+string(filepath.Separator)) {
		return "", os.ErrPermission
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
