package history

import (
	"fmt"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/agentwire/agentwire/protocol"
)

// SearchIndex is a full-text index over the text content of persisted
// session chains, backing the CLI's `sessions search` command.
type SearchIndex struct {
	mu    sync.Mutex
	index bleve.Index
}

// Hit is one scored search result.
type Hit struct {
	SessionID string  `json:"sessionId"`
	UUID      string  `json:"uuid"`
	Role      string  `json:"role"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
}

// messageDocument is the indexed representation of one message.
type messageDocument struct {
	SessionID string `json:"sessionId"`
	Role      string `json:"role"`
	Text      string `json:"text"`
}

// buildSearchMapping creates the index mapping: analyzed text, exact-match
// session id and role.
func buildSearchMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textField)

	keywordField := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("sessionId", keywordField)
	docMapping.AddFieldMappingsAt("role", keywordField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// NewSearchIndex creates an in-memory search index.
func NewSearchIndex() (*SearchIndex, error) {
	index, err := bleve.NewMemOnly(buildSearchMapping())
	if err != nil {
		return nil, fmt.Errorf("creating search index: %w", err)
	}
	return &SearchIndex{index: index}, nil
}

// OpenSearchIndex opens or creates a path-backed search index.
func OpenSearchIndex(path string) (*SearchIndex, error) {
	index, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(path, buildSearchMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("opening search index: %w", err)
	}
	return &SearchIndex{index: index}, nil
}

// Index adds a message's text content to the index. Messages without text
// blocks are skipped.
func (s *SearchIndex) Index(msg protocol.Message) error {
	text := msg.Text()
	if text == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.index.Index(msg.UUID, messageDocument{
		SessionID: msg.SessionID,
		Role:      msg.Role,
		Text:      text,
	})
}

// IndexChain indexes every message of a chain.
func (s *SearchIndex) IndexChain(messages []protocol.Message) error {
	for _, msg := range messages {
		if err := s.Index(msg); err != nil {
			return err
		}
	}
	return nil
}

// Search returns up to limit scored hits for the query, optionally
// restricted to one session.
func (s *SearchIndex) Search(queryText, sessionID string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}

	matchQuery := bleve.NewMatchQuery(queryText)
	matchQuery.SetField("text")

	var req *bleve.SearchRequest
	if sessionID != "" {
		sessionQuery := bleve.NewTermQuery(sessionID)
		sessionQuery.SetField("sessionId")

		boolQuery := bleve.NewBooleanQuery()
		boolQuery.AddMust(matchQuery)
		boolQuery.AddMust(sessionQuery)
		req = bleve.NewSearchRequest(boolQuery)
	} else {
		req = bleve.NewSearchRequest(matchQuery)
	}
	req.Size = limit
	req.Fields = []string{"sessionId", "role", "text"}

	s.mu.Lock()
	results, err := s.index.Search(req)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(results.Hits))
	for _, h := range results.Hits {
		hit := Hit{UUID: h.ID, Score: h.Score}
		if v, ok := h.Fields["sessionId"].(string); ok {
			hit.SessionID = v
		}
		if v, ok := h.Fields["role"].(string); ok {
			hit.Role = v
		}
		if v, ok := h.Fields["text"].(string); ok {
			hit.Text = v
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// SessionIDs returns the distinct session ids present in the index,
// sorted.
func (s *SearchIndex) SessionIDs() ([]string, error) {
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = 0
	req.AddFacet("sessions", bleve.NewFacetRequest("sessionId", 1000))

	s.mu.Lock()
	results, err := s.index.Search(req)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	facet, ok := results.Facets["sessions"]
	if !ok || facet.Terms == nil {
		return nil, nil
	}
	terms := facet.Terms.Terms()
	ids := make([]string, 0, len(terms))
	for _, term := range terms {
		ids = append(ids, term.Term)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close releases the underlying index.
func (s *SearchIndex) Close() error {
	return s.index.Close()
}
