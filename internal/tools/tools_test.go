package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/penates/penates/internal/store"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(NewReadFileTool())
	r.Register(NewListDirTool())

	if _, ok := r.Get("read_file"); !ok {
		t.Fatal("read_file not registered")
	}
	if _, ok := r.Get("unknown_tool"); ok {
		t.Fatal("unexpected tool")
	}
	if _, err := r.Execute(context.Background(), "unknown_tool", nil); err == nil {
		t.Fatal("executing unknown tool should error")
	}

	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	fn := defs[0]["function"].(map[string]any)
	if fn["name"] != "read_file" {
		t.Fatalf("definitions should preserve registration order, got %v", fn["name"])
	}
}

func TestParamHelpers(t *testing.T) {
	params := map[string]any{"s": "x", "n": float64(7), "b": true}
	if GetString(params, "s", "") != "x" || GetString(params, "missing", "d") != "d" {
		t.Fatal("GetString")
	}
	if GetInt(params, "n", 0) != 7 || GetInt(params, "missing", 3) != 3 {
		t.Fatal("GetInt")
	}
	if !GetBool(params, "b", false) || GetBool(params, "missing", true) != true {
		t.Fatal("GetBool")
	}
}

func TestWriteFileContainment(t *testing.T) {
	root := t.TempDir()
	tool := NewWriteFileTool([]string{root})

	out, _ := tool.Execute(context.Background(), map[string]any{
		"path":    filepath.Join(root, "sub", "note.txt"),
		"content": "hi",
	})
	if !strings.Contains(out, "Successfully wrote") {
		t.Fatalf("write inside root failed: %q", out)
	}
	data, err := os.ReadFile(filepath.Join(root, "sub", "note.txt"))
	if err != nil || string(data) != "hi" {
		t.Fatalf("file not written: %v %q", err, data)
	}

	out, _ = tool.Execute(context.Background(), map[string]any{
		"path":    filepath.Join(t.TempDir(), "escape.txt"),
		"content": "nope",
	})
	if !strings.Contains(out, "outside allowed roots") {
		t.Fatalf("write outside root allowed: %q", out)
	}
}

func TestReadFileTool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	os.WriteFile(path, []byte("content"), 0o644)
	tool := NewReadFileTool()

	out, _ := tool.Execute(context.Background(), map[string]any{"path": path})
	if out != "content" {
		t.Fatalf("unexpected read: %q", out)
	}
	out, _ = tool.Execute(context.Background(), map[string]any{"path": path + ".missing"})
	if !strings.Contains(out, "file not found") {
		t.Fatalf("unexpected missing-file output: %q", out)
	}
}

func TestParseFeed(t *testing.T) {
	rss := `<?xml version="1.0"?><rss version="2.0"><channel><title>News</title>
		<item><title>First</title><link>http://a</link><pubDate>Mon</pubDate></item>
		<item><title>Second</title><link>http://b</link></item>
	</channel></rss>`
	title, items := parseFeed([]byte(rss))
	if title != "News" || len(items) != 2 || items[0].Title != "First" {
		t.Fatalf("rss parse failed: %q %+v", title, items)
	}

	atom := `<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"><title>Blog</title>
		<entry><title>Post</title><link href="http://c"/><updated>2026-01-01</updated></entry>
	</feed>`
	title, items = parseFeed([]byte(atom))
	if title != "Blog" || len(items) != 1 || items[0].Link != "http://c" {
		t.Fatalf("atom parse failed: %q %+v", title, items)
	}

	if _, items := parseFeed([]byte("not xml")); items != nil {
		t.Fatal("garbage should yield no entries")
	}
}

type fakeScheduler struct {
	jobs map[string]*store.ScheduledJob
}

func (f *fakeScheduler) Add(name, schedule, prompt string) (*store.ScheduledJob, error) {
	if schedule == "bad" {
		return nil, errors.New("unrecognized schedule")
	}
	j := &store.ScheduledJob{JobID: "j1", Name: name, Schedule: schedule, Prompt: prompt}
	f.jobs[name] = j
	return j, nil
}

func (f *fakeScheduler) Remove(idOrName string) error {
	if _, ok := f.jobs[idOrName]; !ok {
		return store.ErrJobNotFound
	}
	delete(f.jobs, idOrName)
	return nil
}

func (f *fakeScheduler) List() ([]*store.ScheduledJob, error) {
	var out []*store.ScheduledJob
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

func TestScheduleTools(t *testing.T) {
	fs := &fakeScheduler{jobs: map[string]*store.ScheduledJob{}}
	ctx := context.Background()

	add := NewScheduleAddTool(fs)
	out, _ := add.Execute(ctx, map[string]any{"name": "n", "schedule": "0 8 * * *", "prompt": "p"})
	if !strings.Contains(out, "Scheduled") {
		t.Fatalf("add failed: %q", out)
	}
	out, _ = add.Execute(ctx, map[string]any{"name": "n2", "schedule": "bad", "prompt": "p"})
	if !strings.Contains(out, "Error adding job") {
		t.Fatalf("bad schedule accepted: %q", out)
	}

	list := NewScheduleListTool(fs)
	out, _ = list.Execute(ctx, nil)
	if !strings.Contains(out, "0 8 * * *") {
		t.Fatalf("list missing job: %q", out)
	}

	remove := NewScheduleRemoveTool(fs)
	out, _ = remove.Execute(ctx, map[string]any{"job": "n"})
	if !strings.Contains(out, "Removed") {
		t.Fatalf("remove failed: %q", out)
	}
	out, _ = remove.Execute(ctx, map[string]any{"job": "n"})
	if !strings.Contains(out, "Error") {
		t.Fatalf("missing job remove should report error: %q", out)
	}
}
