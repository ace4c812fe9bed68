// Package memclient provides an in-memory searchindex.SearchClient, used by
// unit tests across the engine so no live search cluster is required.
package memclient

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"connectorsync/internal/searchindex"
)

type doc struct {
	source      map[string]any
	seqNo       int64
	primaryTerm int64
}

// Client is a goroutine-safe in-memory implementation of
// searchindex.SearchClient. Refresh is a no-op: writes are visible
// immediately.
type Client struct {
	mu      sync.Mutex
	indices map[string]map[string]*doc
}

var _ searchindex.SearchClient = (*Client)(nil)

// New returns an empty Client.
func New() *Client {
	return &Client{indices: make(map[string]map[string]*doc)}
}

func (c *Client) index(name string) map[string]*doc {
	idx, ok := c.indices[name]
	if !ok {
		idx = make(map[string]*doc)
		c.indices[name] = idx
	}
	return idx
}

// Refresh is a no-op: the in-memory store has no write buffering.
func (c *Client) Refresh(ctx context.Context, index string) error {
	return nil
}

// Search returns hits in insertion-stable order is not guaranteed (maps
// have no order); callers that depend on ordering should sort results
// themselves, as a real cluster also offers no implicit ordering beyond
// relevance score.
func (c *Client) Search(ctx context.Context, index string, query map[string]any, from, size int, expandWildcards string) (searchindex.SearchResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.index(index)
	ids := make([]string, 0, len(idx))
	for id := range idx {
		ids = append(ids, id)
	}

	total := len(ids)
	if from >= total {
		return searchindex.SearchResponse{Total: total}, nil
	}
	end := min(from+size, total)

	hits := make([]searchindex.Hit, 0, end-from)
	for _, id := range ids[from:end] {
		d := idx[id]
		hits = append(hits, searchindex.Hit{
			ID:          id,
			Source:      maps.Clone(d.source),
			SeqNo:       d.seqNo,
			PrimaryTerm: d.primaryTerm,
		})
	}

	return searchindex.SearchResponse{Hits: hits, Total: total}, nil
}

// Index creates or fully replaces the document at id, bumping its seq_no.
func (c *Client) Index(ctx context.Context, index, id string, source map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.index(index)
	seqNo := int64(0)
	if existing, ok := idx[id]; ok {
		seqNo = existing.seqNo + 1
	}
	idx[id] = &doc{source: maps.Clone(source), seqNo: seqNo, primaryTerm: 1}
	return nil
}

// Update merges partial into the existing document at id. retryOnConflict
// is accepted for interface compatibility; the in-memory store has no
// concurrent-writer conflicts to retry around.
func (c *Client) Update(ctx context.Context, index, id string, partial map[string]any, retryOnConflict int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.index(index)
	existing, ok := idx[id]
	if !ok {
		return fmt.Errorf("document not found: %s/%s", index, id)
	}

	merged := maps.Clone(existing.source)
	maps.Copy(merged, partial)
	idx[id] = &doc{source: merged, seqNo: existing.seqNo + 1, primaryTerm: existing.primaryTerm}
	return nil
}

// Delete removes the document at id. Deleting an absent document is not an
// error, matching a real cluster's delete-by-id semantics under this
// gateway's usage (callers never rely on a "not found" signal).
func (c *Client) Delete(ctx context.Context, index, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.index(index), id)
	return nil
}
