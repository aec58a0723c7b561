// Package vault provides read access to a markdown note vault.
package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideVault means a requested note path escapes the vault root.
var ErrOutsideVault = errors.New("path outside vault")

// Match is a single search hit: the note path plus a context snippet.
type Match struct {
	Path    string `json:"path"`
	Snippet string `json:"snippet"`
}

// Vault reads markdown notes below a single root directory.
type Vault struct {
	root string
}

func New(root string) (*Vault, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault root: %w", err)
	}
	return &Vault{root: abs}, nil
}

func (v *Vault) Root() string { return v.root }

// resolve makes a note path absolute and rejects anything that escapes
// the vault root, including symlinked escapes.
func (v *Vault) resolve(notePath string) (string, error) {
	joined := filepath.Join(v.root, notePath)
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("note not found: %s", notePath)
		}
		return "", err
	}
	rel, err := filepath.Rel(v.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideVault
	}
	return resolved, nil
}

// Read returns the contents of a single note.
func (v *Vault) Read(notePath string) (string, error) {
	path, err := v.resolve(notePath)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read note: %w", err)
	}
	return string(data), nil
}

// Search scans every markdown file for the query (case-insensitive) and
// returns up to limit matches with a one-line snippet each.
func (v *Vault) Search(query string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}
	needle := strings.ToLower(query)

	var matches []Match
	err := filepath.WalkDir(v.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		if len(matches) >= limit {
			return fs.SkipAll
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				rel, _ := filepath.Rel(v.root, path)
				matches = append(matches, Match{Path: rel, Snippet: strings.TrimSpace(line)})
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search vault: %w", err)
	}
	return matches, nil
}
