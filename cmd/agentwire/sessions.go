package main

import (
	"fmt"
	"strings"

	"github.com/agentwire/agentwire/history"
)

// Run lists the session ids present in the configured search index.
func (c *SessionsListCmd) Run(cli *CLI) error {
	index, err := openConfiguredIndex(cli.Config)
	if err != nil {
		return err
	}
	defer index.Close()

	ids, err := index.SessionIDs()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no sessions indexed")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

// Run searches message text across indexed sessions.
func (c *SessionsSearchCmd) Run(cli *CLI) error {
	index, err := openConfiguredIndex(cli.Config)
	if err != nil {
		return err
	}
	defer index.Close()

	hits, err := index.Search(strings.Join(c.Query, " "), c.Session, c.Limit)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, hit := range hits {
		fmt.Printf("%.2f  %s  %s: %s\n", hit.Score, hit.SessionID, hit.Role, excerpt(hit.Text, 120))
	}
	return nil
}

// openConfiguredIndex opens the path-backed index named in the config.
// Inspection commands need persisted history; an in-memory index from a
// previous run has nothing to show.
func openConfiguredIndex(configPath string) (*history.SearchIndex, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.History.IndexPath == "" {
		return nil, fmt.Errorf("history.index_path is not configured; nothing persisted to inspect")
	}
	return history.OpenSearchIndex(cfg.History.IndexPath)
}

// excerpt truncates s to at most n bytes on a word boundary.
func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}
