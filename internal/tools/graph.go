package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/penates/penates/internal/graph"
)

// GraphRememberTool stores or updates a memory node, optionally linking it.
type GraphRememberTool struct {
	graph *graph.Graph
}

func NewGraphRememberTool(g *graph.Graph) *GraphRememberTool { return &GraphRememberTool{graph: g} }

func (t *GraphRememberTool) Name() string { return "memory_remember" }

func (t *GraphRememberTool) Description() string {
	return "Store a fact in the memory graph, optionally linking it to an existing entry."
}

func (t *GraphRememberTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Short unique name for the memory",
			},
			"kind": map[string]any{
				"type":        "string",
				"description": "Category, e.g. person, place, appliance, note",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The fact to remember",
			},
			"link_to": map[string]any{
				"type":        "string",
				"description": "Optional name of an existing memory to link to",
			},
			"relation": map[string]any{
				"type":        "string",
				"description": "Relation label for the link (default: related)",
			},
		},
		"required": []string{"name", "content"},
	}
}

func (t *GraphRememberTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	name := GetString(params, "name", "")
	content := GetString(params, "content", "")
	if name == "" || content == "" {
		return "Error: name and content are required", nil
	}
	if err := t.graph.AddNode(name, GetString(params, "kind", "note"), content); err != nil {
		return fmt.Sprintf("Error storing memory: %v", err), nil
	}
	result := fmt.Sprintf("Remembered %q", name)

	if linkTo := GetString(params, "link_to", ""); linkTo != "" {
		relation := GetString(params, "relation", "related")
		if err := t.graph.AddEdge(name, linkTo, relation, 1.0); err != nil {
			return fmt.Sprintf("%s, but linking failed: %v", result, err), nil
		}
		result += fmt.Sprintf(", linked to %q (%s)", linkTo, relation)
	}
	return result, nil
}

// GraphSearchTool searches the memory graph.
type GraphSearchTool struct {
	graph *graph.Graph
}

func NewGraphSearchTool(g *graph.Graph) *GraphSearchTool { return &GraphSearchTool{graph: g} }

func (t *GraphSearchTool) Name() string { return "memory_search" }

func (t *GraphSearchTool) Description() string {
	return "Search the memory graph for entries matching a query."
}

func (t *GraphSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Text to search for",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum results (default 10)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *GraphSearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := GetString(params, "query", "")
	if query == "" {
		return "Error: query is required", nil
	}
	nodes, err := t.graph.Search(query, GetInt(params, "limit", 10))
	if err != nil {
		return fmt.Sprintf("Error searching memory: %v", err), nil
	}
	if len(nodes) == 0 {
		return "No memories found.", nil
	}
	var out strings.Builder
	for _, n := range nodes {
		out.WriteString(fmt.Sprintf("%s [%s]: %s\n", n.Name, n.Kind, n.Content))
	}
	return out.String(), nil
}

// GraphConnectionsTool walks the neighborhood of a memory.
type GraphConnectionsTool struct {
	graph *graph.Graph
}

func NewGraphConnectionsTool(g *graph.Graph) *GraphConnectionsTool {
	return &GraphConnectionsTool{graph: g}
}

func (t *GraphConnectionsTool) Name() string { return "memory_connections" }

func (t *GraphConnectionsTool) Description() string {
	return "Show memories connected to an entry, up to a given depth."
}

func (t *GraphConnectionsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Memory name to start from",
			},
			"depth": map[string]any{
				"type":        "integer",
				"description": "How many hops to follow (default 2)",
			},
		},
		"required": []string{"name"},
	}
}

func (t *GraphConnectionsTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	name := GetString(params, "name", "")
	if name == "" {
		return "Error: name is required", nil
	}
	nodes, err := t.graph.Traverse(name, GetInt(params, "depth", 2))
	if err != nil {
		return fmt.Sprintf("Error traversing memory: %v", err), nil
	}
	var out strings.Builder
	for _, n := range nodes {
		out.WriteString(fmt.Sprintf("%s [%s]: %s\n", n.Name, n.Kind, n.Content))
	}
	return out.String(), nil
}

// GraphStatsTool reports memory graph size.
type GraphStatsTool struct {
	graph *graph.Graph
}

func NewGraphStatsTool(g *graph.Graph) *GraphStatsTool { return &GraphStatsTool{graph: g} }

func (t *GraphStatsTool) Name() string { return "memory_stats" }

func (t *GraphStatsTool) Description() string {
	return "Report how many memories and connections are stored."
}

func (t *GraphStatsTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *GraphStatsTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	stats, err := t.graph.Stats()
	if err != nil {
		return fmt.Sprintf("Error reading stats: %v", err), nil
	}
	data, _ := json.Marshal(stats)
	return string(data), nil
}
