// Package esclient implements searchindex.SearchClient against a real
// Elasticsearch cluster via github.com/elastic/go-elasticsearch/v7.
package esclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"

	"connectorsync/internal/searchindex"
)

// Client wraps a configured *elasticsearch.Client.
type Client struct {
	es *elasticsearch.Client
}

var _ searchindex.SearchClient = (*Client)(nil)

// New builds a Client from addresses, optional basic-auth credentials, and
// an optional API key. Either username/password or apiKey may be set, not
// both; an empty apiKey falls back to username/password (or to no auth at
// all in a development cluster).
func New(addresses []string, username, password, apiKey string) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
		APIKey:    apiKey,
	}
	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("build elasticsearch client: %w", err)
	}
	return &Client{es: es}, nil
}

func (c *Client) Refresh(ctx context.Context, index string) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(index),
	)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("refresh %s: %s", index, res.String())
	}
	return nil
}

func (c *Client) Search(ctx context.Context, index string, query map[string]any, from, size int, expandWildcards string) (searchindex.SearchResponse, error) {
	body := map[string]any{"from": from, "size": size}
	if query != nil {
		body["query"] = query
	} else {
		body["query"] = map[string]any{"match_all": map[string]any{}}
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return searchindex.SearchResponse{}, fmt.Errorf("encode query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(&buf),
		c.es.Search.WithExpandWildcards(expandWildcards),
		c.es.Search.WithSeqNoPrimaryTerm(true),
	)
	if err != nil {
		return searchindex.SearchResponse{}, fmt.Errorf("search %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return searchindex.SearchResponse{}, fmt.Errorf("search %s: %s", index, res.String())
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID          string         `json:"_id"`
				Source      map[string]any `json:"_source"`
				SeqNo       int64          `json:"_seq_no"`
				PrimaryTerm int64          `json:"_primary_term"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return searchindex.SearchResponse{}, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]searchindex.Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, searchindex.Hit{
			ID:          h.ID,
			Source:      h.Source,
			SeqNo:       h.SeqNo,
			PrimaryTerm: h.PrimaryTerm,
		})
	}

	return searchindex.SearchResponse{Hits: hits, Total: parsed.Hits.Total.Value}, nil
}

func (c *Client) Index(ctx context.Context, index, id string, doc map[string]any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       &buf,
		Refresh:    "false",
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index %s/%s: %s", index, id, res.String())
	}
	return nil
}

func (c *Client) Update(ctx context.Context, index, id string, partial map[string]any, retryOnConflict int) error {
	var buf bytes.Buffer
	payload := map[string]any{"doc": partial}
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return fmt.Errorf("encode update: %w", err)
	}

	req := esapi.UpdateRequest{
		Index:           index,
		DocumentID:      id,
		Body:            &buf,
		RetryOnConflict: retryOnConflictParam(retryOnConflict),
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("update %s/%s: %s", index, id, res.String())
	}
	return nil
}

func retryOnConflictParam(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}

func (c *Client) Delete(ctx context.Context, index, id string) error {
	req := esapi.DeleteRequest{
		Index:      index,
		DocumentID: id,
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()
	// A 404 here means the document was already gone, which callers treat
	// the same as a successful delete (spec.md §4.1/4.6 never inspects a
	// "not found" signal from delete).
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("delete %s/%s: %s", index, id, res.String())
	}
	return nil
}
