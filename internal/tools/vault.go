package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/penates/penates/internal/vault"
)

// SearchNotesTool searches the markdown vault.
type SearchNotesTool struct {
	vault *vault.Vault
}

func NewSearchNotesTool(v *vault.Vault) *SearchNotesTool { return &SearchNotesTool{vault: v} }

func (t *SearchNotesTool) Name() string { return "search_notes" }

func (t *SearchNotesTool) Description() string {
	return "Search the note vault for markdown notes containing a query."
}

func (t *SearchNotesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Text to search for",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum matches to return (default 10)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchNotesTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := GetString(params, "query", "")
	if query == "" {
		return "Error: query is required", nil
	}
	matches, err := t.vault.Search(query, GetInt(params, "limit", 10))
	if err != nil {
		return fmt.Sprintf("Error searching notes: %v", err), nil
	}
	if len(matches) == 0 {
		return "No notes found.", nil
	}
	var out strings.Builder
	for _, m := range matches {
		out.WriteString(fmt.Sprintf("%s: %s\n", m.Path, m.Snippet))
	}
	return out.String(), nil
}

// ReadNoteTool reads a single note from the vault.
type ReadNoteTool struct {
	vault *vault.Vault
}

func NewReadNoteTool(v *vault.Vault) *ReadNoteTool { return &ReadNoteTool{vault: v} }

func (t *ReadNoteTool) Name() string { return "read_note" }

func (t *ReadNoteTool) Description() string {
	return "Read a markdown note from the vault by its relative path."
}

func (t *ReadNoteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Note path relative to the vault root",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadNoteTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path := GetString(params, "path", "")
	if path == "" {
		return "Error: path is required", nil
	}
	content, err := t.vault.Read(path)
	if err != nil {
		return fmt.Sprintf("Error reading note: %v", err), nil
	}
	return content, nil
}
