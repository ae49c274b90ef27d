package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cmf-bridge/internal/policy/domain"
)

// FileRepository loads policies from a .rego file or from every .rego file
// in a directory.
type FileRepository struct {
	path string
}

// NewFileRepository returns a repository reading path on every ListEnabled.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

// ListEnabled reads the policy files. Every file found is enabled.
func (r *FileRepository) ListEnabled(ctx context.Context) ([]*domain.Policy, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	files := []string{r.path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(r.path, "*.rego"))
		if err != nil {
			return nil, fmt.Errorf("policy: %w", err)
		}
		sort.Strings(files)
	}
	out := make([]*domain.Policy, 0, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("policy: %w", err)
		}
		fi, err := os.Stat(f)
		if err != nil {
			return nil, fmt.Errorf("policy: %w", err)
		}
		out = append(out, &domain.Policy{
			ID:        f,
			Name:      strings.TrimSuffix(filepath.Base(f), ".rego"),
			Rules:     string(b),
			Enabled:   true,
			CreatedAt: fi.ModTime().UTC(),
		})
	}
	return out, nil
}
