package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// FeedTool fetches and summarizes an RSS or Atom feed.
type FeedTool struct {
	httpClient *http.Client
}

func NewFeedTool() *FeedTool {
	return &FeedTool{httpClient: &http.Client{Timeout: 10 * time.Second}}
}

func (t *FeedTool) Name() string { return "read_rss" }

func (t *FeedTool) Description() string {
	return "Fetch an RSS or Atom feed and return its most recent entries."
}

func (t *FeedTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The feed URL",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of entries to return (default 5)",
			},
		},
		"required": []string{"url"},
	}
}

type rssFeed struct {
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
}

type atomFeed struct {
	Title   string `xml:"title"`
	Entries []struct {
		Title string `xml:"title"`
		Link  struct {
			Href string `xml:"href,attr"`
		} `xml:"link"`
		Updated string `xml:"updated"`
	} `xml:"entry"`
}

func (t *FeedTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	feedURL := GetString(params, "url", "")
	limit := GetInt(params, "limit", 5)
	if feedURL == "" {
		return "Error: url is required", nil
	}
	if limit <= 0 {
		limit = 5
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return fmt.Sprintf("Error: invalid feed url: %v", err), nil
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Sprintf("Error fetching feed: %v", err), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Error fetching feed: %s", resp.Status), nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return fmt.Sprintf("Error reading feed: %v", err), nil
	}

	title, entries := parseFeed(data)
	if len(entries) == 0 {
		return "Feed contains no entries.", nil
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}

	var out strings.Builder
	if title != "" {
		out.WriteString(title + "\n")
	}
	for _, e := range entries {
		out.WriteString(fmt.Sprintf("- %s", e.Title))
		if e.PubDate != "" {
			out.WriteString(" (" + e.PubDate + ")")
		}
		if e.Link != "" {
			out.WriteString("\n  " + e.Link)
		}
		out.WriteString("\n")
	}
	return out.String(), nil
}

// parseFeed tries RSS 2.0 first, then Atom.
func parseFeed(data []byte) (string, []rssItem) {
	var rss rssFeed
	if err := xml.Unmarshal(data, &rss); err == nil && len(rss.Channel.Items) > 0 {
		return rss.Channel.Title, rss.Channel.Items
	}

	var atom atomFeed
	if err := xml.Unmarshal(data, &atom); err == nil && len(atom.Entries) > 0 {
		items := make([]rssItem, 0, len(atom.Entries))
		for _, e := range atom.Entries {
			items = append(items, rssItem{Title: e.Title, Link: e.Link.Href, PubDate: e.Updated})
		}
		return atom.Title, items
	}
	return "", nil
}
