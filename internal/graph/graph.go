// Package graph implements the associative memory graph: named nodes
// connected by weighted, typed edges, stored in sqlite.
package graph

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNodeNotFound means the named node does not exist.
var ErrNodeNotFound = errors.New("node not found")

// Node is a single memory entry.
type Node struct {
	ID        int64     `json:"-"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Edge is a directed, typed relation between two nodes.
type Edge struct {
	From     string  `json:"from"`
	To       string  `json:"to"`
	Relation string  `json:"relation"`
	Weight   float64 `json:"weight"`
}

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL,
	kind TEXT NOT NULL DEFAULT 'note',
	content TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name);

CREATE TABLE IF NOT EXISTS edges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	from_node INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
	to_node INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
	relation TEXT NOT NULL DEFAULT 'related',
	weight REAL NOT NULL DEFAULT 1.0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(from_node, to_node, relation)
);
CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_node);
CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_node);
`

// Graph is the sqlite-backed memory graph.
type Graph struct {
	db *sql.DB
}

func New(dbPath string) (*Graph, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open graph db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply graph schema: %w", err)
	}
	return &Graph{db: db}, nil
}

func (g *Graph) Close() error {
	return g.db.Close()
}

// AddNode creates or updates a node. Re-adding an existing name replaces
// its content and kind.
func (g *Graph) AddNode(name, kind, content string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("empty node name")
	}
	if kind == "" {
		kind = "note"
	}
	_, err := g.db.Exec(`
		INSERT INTO nodes (name, kind, content) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET kind = excluded.kind, content = excluded.content, updated_at = CURRENT_TIMESTAMP`,
		name, kind, content)
	if err != nil {
		return fmt.Errorf("failed to add node: %w", err)
	}
	return nil
}

// AddEdge connects two existing nodes. Re-adding the same relation
// updates its weight.
func (g *Graph) AddEdge(from, to, relation string, weight float64) error {
	fromID, err := g.nodeID(from)
	if err != nil {
		return err
	}
	toID, err := g.nodeID(to)
	if err != nil {
		return err
	}
	if relation == "" {
		relation = "related"
	}
	if weight <= 0 {
		weight = 1.0
	}
	_, err = g.db.Exec(`
		INSERT INTO edges (from_node, to_node, relation, weight) VALUES (?, ?, ?, ?)
		ON CONFLICT(from_node, to_node, relation) DO UPDATE SET weight = excluded.weight`,
		fromID, toID, relation, weight)
	if err != nil {
		return fmt.Errorf("failed to add edge: %w", err)
	}
	return nil
}

func (g *Graph) nodeID(name string) (int64, error) {
	var id int64
	err := g.db.QueryRow(`SELECT id FROM nodes WHERE name = ?`, strings.TrimSpace(name)).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s", ErrNodeNotFound, name)
	}
	return id, err
}

// Get returns a node by name.
func (g *Graph) Get(name string) (*Node, error) {
	var n Node
	err := g.db.QueryRow(
		`SELECT id, name, kind, content, created_at, updated_at FROM nodes WHERE name = ?`,
		strings.TrimSpace(name)).
		Scan(&n.ID, &n.Name, &n.Kind, &n.Content, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return &n, nil
}

// Search returns nodes whose name or content contains the query,
// most recently updated first.
func (g *Graph) Search(query string, limit int) ([]*Node, error) {
	if limit <= 0 {
		limit = 10
	}
	like := "%" + query + "%"
	rows, err := g.db.Query(`
		SELECT id, name, kind, content, created_at, updated_at FROM nodes
		WHERE name LIKE ? OR content LIKE ?
		ORDER BY updated_at DESC LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// Connected returns the direct neighbors of a node with their relations.
func (g *Graph) Connected(name string) ([]Edge, error) {
	id, err := g.nodeID(name)
	if err != nil {
		return nil, err
	}
	rows, err := g.db.Query(`
		SELECT nf.name, nt.name, e.relation, e.weight
		FROM edges e
		JOIN nodes nf ON nf.id = e.from_node
		JOIN nodes nt ON nt.id = e.to_node
		WHERE e.from_node = ? OR e.to_node = ?
		ORDER BY e.weight DESC`, id, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.From, &e.To, &e.Relation, &e.Weight); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Traverse walks the graph breadth-first from a starting node up to
// maxDepth hops away and returns the visited nodes in discovery order.
func (g *Graph) Traverse(start string, maxDepth int) ([]*Node, error) {
	if maxDepth <= 0 {
		maxDepth = 2
	}
	root, err := g.Get(start)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{root.Name: true}
	result := []*Node{root}
	frontier := []string{root.Name}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, name := range frontier {
			edges, err := g.Connected(name)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				for _, neighbor := range []string{e.From, e.To} {
					if visited[neighbor] {
						continue
					}
					visited[neighbor] = true
					node, err := g.Get(neighbor)
					if err != nil {
						continue
					}
					result = append(result, node)
					next = append(next, neighbor)
				}
			}
		}
		frontier = next
	}
	return result, nil
}

// Stats returns node and edge counts plus a breakdown by kind.
func (g *Graph) Stats() (map[string]any, error) {
	var nodes, edges int
	if err := g.db.QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&nodes); err != nil {
		return nil, err
	}
	if err := g.db.QueryRow(`SELECT COUNT(*) FROM edges`).Scan(&edges); err != nil {
		return nil, err
	}

	kinds := map[string]int{}
	rows, err := g.db.Query(`SELECT kind, COUNT(*) FROM nodes GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		kinds[kind] = n
	}

	return map[string]any{
		"nodes": nodes,
		"edges": edges,
		"kinds": kinds,
	}, rows.Err()
}

func scanNodes(rows *sql.Rows) ([]*Node, error) {
	var out []*Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Name, &n.Kind, &n.Content, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}
