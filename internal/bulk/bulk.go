// Package bulk implements the Bulk Ingestion Coordinator: it reconciles
// a Source's document stream against a target Search-Index Gateway,
// downloading only the documents that actually changed, and reports how
// many were indexed and deleted.
package bulk

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"connectorsync/internal/logging"
	"connectorsync/internal/searchindex"
	"connectorsync/internal/source"
)

// DefaultOptions are the coordinator's tunables before any
// Source.TweakBulkOptions override is applied.
var DefaultOptions = source.BulkOptions{
	ConcurrentDownloads: 10,
	ChunkSize:           500,
	Pipeline:            "",
}

// existingDoc is the gateway's existing view of one indexed document:
// only what the diff algorithm needs.
type existingDoc struct {
	timestamp string
}

// makeExisting hydrates an existingDoc from a search hit, keeping only
// the _timestamp field the diff algorithm compares against.
func makeExisting(hit searchindex.Hit) (*existingDoc, error) {
	ts, _ := hit.Source["_timestamp"].(string)
	return &existingDoc{timestamp: ts}, nil
}

// Result is the outcome of one bulk ingestion run.
type Result struct {
	IndexedDocumentCount int
	DeletedDocumentCount int
}

// Coordinator reconciles one Source against one target index.
type Coordinator struct {
	client searchindex.SearchClient
	index  string
	logger *slog.Logger
}

// New builds a Coordinator targeting index via client.
func New(client searchindex.SearchClient, index string, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		client: client,
		index:  index,
		logger: logging.Default(logger).With("component", "bulk", "index", index),
	}
}

// downloadResult pairs a diff decision with its (possibly nil) resolved
// download fields, ready for enqueuing into a bulk batch.
type downloadResult struct {
	op     string // "create" or "update"
	id     string
	fields map[string]any
	err    error
}

// Run streams src's documents (honoring filtering), diffs them against
// the target index's current contents, and flushes create/update
// operations in chunk_size batches. Downloads run with at most
// opts.ConcurrentDownloads outstanding at any instant; once the stream
// ends, every document not observed in it is deleted, one request per
// document.
func (c *Coordinator) Run(ctx context.Context, src source.Source, filtering source.Filtering) (Result, error) {
	opts := DefaultOptions
	if tweaker, ok := src.(source.BulkOptionsTweaker); ok {
		opts = tweaker.TweakBulkOptions(opts)
	}

	existing, err := c.loadExisting(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("bulk: load existing documents: %w", err)
	}
	seen := make(map[string]bool, len(existing))

	sem := semaphore.NewWeighted(int64(opts.ConcurrentDownloads))
	resultsCh := make(chan downloadResult, opts.ChunkSize)
	doneCh := make(chan struct{})

	var indexed, deleted int
	go func() {
		defer close(doneCh)
		batch := make([]downloadResult, 0, opts.ChunkSize)
		for r := range resultsCh {
			if r.err != nil {
				c.logger.Warn("download failed, skipping document", "id", r.id, "error", r.err)
				continue
			}
			batch = append(batch, r)
			if len(batch) >= opts.ChunkSize {
				indexed += c.flush(ctx, batch)
				batch = batch[:0]
			}
		}
		if len(batch) > 0 {
			indexed += c.flush(ctx, batch)
		}
	}()

	for y, err := range src.GetDocs(ctx, filtering) {
		if err != nil {
			c.logger.Error("source stream error", "error", err)
			continue
		}

		op, existingTS, isChange := diff(y.Doc.ID, y.Doc.Timestamp, existing, seen)
		if !isChange {
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			c.logger.Warn("bulk run cancelled while waiting for download slot", "error", err)
			break
		}

		doc, download := y.Doc, y.Download
		go func(op, id, existingTS string, fields map[string]any) {
			defer sem.Release(1)
			downloaded, err := download(ctx, true, existingTS)
			if err != nil {
				resultsCh <- downloadResult{op: op, id: id, err: err}
				return
			}
			merged := mergeFields(fields, downloaded)
			resultsCh <- downloadResult{op: op, id: id, fields: merged}
		}(op, doc.ID, existingTS, doc.Fields)
	}

	// Wait for every outstanding download to finish before closing the
	// channel, so the flush goroutine sees every result. The wait ignores
	// cancellation of ctx: closing the channel while a download goroutine
	// can still send on it would panic.
	_ = sem.Acquire(context.WithoutCancel(ctx), int64(opts.ConcurrentDownloads))
	close(resultsCh)
	<-doneCh

	for id := range existing {
		if seen[id] {
			continue
		}
		if err := c.client.Delete(ctx, c.index, id); err != nil {
			c.logger.Warn("failed to delete stale document", "id", id, "error", err)
			continue
		}
		deleted++
	}

	return Result{IndexedDocumentCount: indexed, DeletedDocumentCount: deleted}, nil
}

// diff decides what to do with one streamed document: "create" if its id
// is unseen in the index, "update" if the indexed copy is stale, or "" if
// it is already current. Marks id seen in all three cases except create,
// where there is nothing yet to mark.
func diff(id, timestamp string, existing map[string]*existingDoc, seen map[string]bool) (op, existingTS string, isChange bool) {
	ex, ok := existing[id]
	if !ok {
		return "create", "", true
	}
	seen[id] = true
	if ex.timestamp < timestamp {
		return "update", ex.timestamp, true
	}
	return "", ex.timestamp, false
}

// mergeFields combines a document's own fields with its downloaded
// fields, the downloaded fields taking precedence.
func mergeFields(fields, downloaded map[string]any) map[string]any {
	merged := make(map[string]any, len(fields)+len(downloaded))
	for k, v := range fields {
		merged[k] = v
	}
	for k, v := range downloaded {
		merged[k] = v
	}
	return merged
}

// loadExisting pages the target index and returns an id→existingDoc map
// of every document currently in it.
func (c *Coordinator) loadExisting(ctx context.Context) (map[string]*existingDoc, error) {
	gateway := searchindex.New(c.client, c.index, makeExistingWithID, c.logger)
	out := make(map[string]*existingDoc)
	for rec, err := range gateway.GetAll(ctx, nil, 1000) {
		if err != nil {
			return nil, err
		}
		out[rec.id] = rec.existingDoc
	}
	return out, nil
}

// idExisting pairs an existingDoc with the id it was hydrated from,
// since searchindex.Factory only sees the raw hit.
type idExisting struct {
	id string
	*existingDoc
}

func makeExistingWithID(hit searchindex.Hit) (idExisting, error) {
	doc, err := makeExisting(hit)
	if err != nil {
		return idExisting{}, err
	}
	return idExisting{id: hit.ID, existingDoc: doc}, nil
}

// flush indexes or updates every result in batch and returns how many
// succeeded. A create is written with Index, since its id is by
// construction absent from the target index; an update goes through
// Update with up to 3 retries on version conflict.
func (c *Coordinator) flush(ctx context.Context, batch []downloadResult) int {
	succeeded := 0
	for _, r := range batch {
		var err error
		switch r.op {
		case "create":
			err = c.client.Index(ctx, c.index, r.id, r.fields)
		case "update":
			err = c.client.Update(ctx, c.index, r.id, r.fields, 3)
		}
		if err != nil {
			c.logger.Warn("bulk flush failed for document", "op", r.op, "id", r.id, "error", err)
			continue
		}
		succeeded++
	}
	return succeeded
}
