package searchindex

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"connectorsync/internal/logging"
)

const defaultPageSize = 100

// Factory hydrates a raw Hit into a concrete record type T. Factories are
// supplied by the caller (connector, sync job, or document history
// gateways) — the Gateway itself knows nothing about the shape of T.
type Factory[T any] func(hit Hit) (T, error)

// Gateway is a typed wrapper over a SearchClient for one named index.
// It is generic over the hydrated record type T; the gateway logic
// (paging, refresh, retry, expand_wildcards selection) is identical
// regardless of what T is.
type Gateway[T any] struct {
	client SearchClient
	index  string
	make   Factory[T]
	logger *slog.Logger
}

// New constructs a Gateway bound to a single index. make hydrates raw hits
// into T; logger is optional (see internal/logging).
func New[T any](client SearchClient, index string, make Factory[T], logger *slog.Logger) *Gateway[T] {
	return &Gateway[T]{
		client: client,
		index:  index,
		make:   make,
		logger: logging.Default(logger).With("component", "searchindex", "index", index),
	}
}

// expandWildcards returns "hidden" for a dot-prefixed (system) index name,
// "open" otherwise, per spec.md §4.1.
func expandWildcards(index string) string {
	if strings.HasPrefix(index, ".") {
		return "hidden"
	}
	return "open"
}

// GetAll returns a lazy sequence of hydrated records matching query. It
// issues a refresh on the index before the first page so results reflect
// any writes that just happened, then pages via from/size until the
// accumulated hit count reaches the reported total.
//
// query may be nil, meaning "match everything". pageSize defaults to 100
// when <= 0.
//
// On a transport error the sequence logs and terminates cleanly — callers
// observe a short sequence, never a panic or a propagated error. This
// mirrors the async-generator behavior of the system it models: a broken
// connection ends the stream rather than crashing the caller.
func (g *Gateway[T]) GetAll(ctx context.Context, query map[string]any, pageSize int) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		if pageSize <= 0 {
			pageSize = defaultPageSize
		}

		if err := g.client.Refresh(ctx, g.index); err != nil {
			g.logger.Error("refresh failed, ending sequence", "error", err)
			return
		}

		wildcards := expandWildcards(g.index)
		count := 0
		offset := 0

		for {
			resp, err := g.client.Search(ctx, g.index, query, offset, pageSize, wildcards)
			if err != nil {
				g.logger.Error("search failed, ending sequence", "error", err, "offset", offset)
				return
			}

			for _, hit := range resp.Hits {
				record, err := g.make(hit)
				if err != nil {
					g.logger.Error("hydration failed, skipping hit", "error", err, "id", hit.ID)
					continue
				}
				if !yield(record, nil) {
					return
				}
			}

			count += len(resp.Hits)
			if count >= resp.Total || len(resp.Hits) == 0 {
				return
			}
			offset += len(resp.Hits)
		}
	}
}

// Upsert creates or fully replaces the document at id.
func (g *Gateway[T]) Upsert(ctx context.Context, id string, doc map[string]any) error {
	if err := g.client.Index(ctx, g.index, id, doc); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", g.index, id, err)
	}
	return nil
}

// Update applies a partial merge at id, retrying on version conflict up to
// retryOnConflict times (0 means no retry).
func (g *Gateway[T]) Update(ctx context.Context, id string, partial map[string]any, retryOnConflict int) error {
	if err := g.client.Update(ctx, g.index, id, partial, retryOnConflict); err != nil {
		return fmt.Errorf("update %s/%s: %w", g.index, id, err)
	}
	return nil
}

// Delete removes the document at id.
func (g *Gateway[T]) Delete(ctx context.Context, id string) error {
	if err := g.client.Delete(ctx, g.index, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", g.index, id, err)
	}
	return nil
}

// Index returns the name of the index this gateway is bound to.
func (g *Gateway[T]) Index() string {
	return g.index
}
