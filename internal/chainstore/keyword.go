package chainstore

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// keywordIndex is an in-memory bleve index over chain task text. It is
// rebuilt wholesale on external database changes; chain volume is small
// enough that a full rebuild is cheap.
type keywordIndex struct {
	mu  sync.RWMutex
	idx bleve.Index
}

func newKeywordIndex() (*keywordIndex, error) {
	idx, err := bleve.NewMemOnly(buildChainMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}
	return &keywordIndex{idx: idx}, nil
}

func buildChainMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()

	chainMapping := bleve.NewDocumentMapping()

	taskField := bleve.NewTextFieldMapping()
	taskField.Analyzer = standard.Name
	taskField.Store = false
	taskField.Index = true
	chainMapping.AddFieldMappingsAt("task", taskField)

	indexMapping.DefaultMapping = chainMapping
	return indexMapping
}

// index adds one chain's task text.
func (k *keywordIndex) index(id, task string) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.idx.Index(id, map[string]interface{}{"task": task})
}

// search returns up to n chain ids ranked by keyword relevance.
func (k *keywordIndex) search(query string, n int) ([]scored, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	q := bleve.NewMatchQuery(query)
	q.SetField("task")

	req := bleve.NewSearchRequest(q)
	req.Size = n

	res, err := k.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	hits := make([]scored, 0, len(res.Hits))
	for _, hit := range res.Hits {
		hits = append(hits, scored{id: hit.ID, score: hit.Score})
	}
	return hits, nil
}

// rebuild replaces the index contents with the given id -> task docs.
func (k *keywordIndex) rebuild(docs map[string]string) error {
	fresh, err := bleve.NewMemOnly(buildChainMapping())
	if err != nil {
		return fmt.Errorf("failed to rebuild keyword index: %w", err)
	}

	batch := fresh.NewBatch()
	for id, task := range docs {
		if err := batch.Index(id, map[string]interface{}{"task": task}); err != nil {
			fresh.Close()
			return fmt.Errorf("failed to batch chain %s: %w", id, err)
		}
	}
	if err := fresh.Batch(batch); err != nil {
		fresh.Close()
		return fmt.Errorf("failed to apply keyword batch: %w", err)
	}

	k.mu.Lock()
	old := k.idx
	k.idx = fresh
	k.mu.Unlock()

	return old.Close()
}

func (k *keywordIndex) close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.idx.Close()
}
