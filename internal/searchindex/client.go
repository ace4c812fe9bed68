// Package searchindex provides a typed wrapper over a search cluster for a
// single named index: a paged query iterator, upsert-by-id, and
// partial-update with retry-on-conflict. It is domain-agnostic — hydration
// from a raw hit into a concrete record type is delegated to a
// caller-supplied factory function.
package searchindex

import "context"

// Hit is one raw search result: its document id, source body, and the
// internal `_seq_no`/`_primary_term` pair a future update must present to
// detect a concurrent write (optimistic concurrency control).
type Hit struct {
	ID          string
	Source      map[string]any
	SeqNo       int64
	PrimaryTerm int64
}

// SearchResponse is one page of search results.
type SearchResponse struct {
	Hits  []Hit
	Total int
}

// SearchClient is the minimal transport surface the Gateway needs from a
// search cluster. A concrete implementation wraps a real client (see
// internal/searchindex/esclient); an in-memory implementation backs tests
// (see internal/searchindex/memclient).
type SearchClient interface {
	// Refresh makes all operations performed on the index since the last
	// refresh visible to search.
	Refresh(ctx context.Context, index string) error

	// Search returns one page of results matching query, starting at
	// offset and returning at most size hits. expandWildcards is
	// "hidden" or "open" per spec.md §4.1.
	Search(ctx context.Context, index string, query map[string]any, from, size int, expandWildcards string) (SearchResponse, error)

	// Index creates or fully replaces the document at id.
	Index(ctx context.Context, index, id string, doc map[string]any) error

	// Update applies a partial document merge at id, retrying up to
	// retryOnConflict times on a version conflict.
	Update(ctx context.Context, index, id string, partial map[string]any, retryOnConflict int) error

	// Delete removes the document at id. It is not an error if the
	// document does not exist.
	Delete(ctx context.Context, index, id string) error
}
