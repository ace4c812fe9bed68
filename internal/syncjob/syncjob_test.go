package syncjob

import (
	"context"
	"errors"
	"testing"
	"time"

	"connectorsync/internal/filter"
	"connectorsync/internal/searchindex"
	"connectorsync/internal/searchindex/memclient"
)

func newGateway() *searchindex.Gateway[*Job] {
	return searchindex.New(memclient.New(), ".elastic-connectors-sync-jobs", MakeJob, nil)
}

func TestJob_DurationBeforeStart(t *testing.T) {
	job := New("connector-1", newGateway())
	if job.Duration() != -1 {
		t.Errorf("expected -1 duration before start, got %v", job.Duration())
	}
}

func TestJob_StartAndDone(t *testing.T) {
	gw := newGateway()
	job := New("connector-1", gw)
	ctx := context.Background()

	active := filter.NewFilter(map[string]any{
		"advanced_snippet": map[string]any{"value": map[string]any{"find": map[string]any{}}},
		"rules":            []any{map[string]any{"id": float64(3)}},
	})

	if err := job.Start(ctx, active); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if job.Status != InProgress {
		t.Errorf("expected in_progress, got %s", job.Status)
	}
	if job.JobID == "" {
		t.Error("expected job id to be assigned")
	}
	if job.Duration() != -1 {
		t.Errorf("expected -1 duration while in progress, got %v", job.Duration())
	}

	snippet, ok := job.Filtering["advanced_snippet"].(map[string]any)
	if !ok || snippet["find"] == nil {
		t.Errorf("expected flattened advanced_snippet, got %+v", job.Filtering["advanced_snippet"])
	}

	job.now = func() time.Time { return job.CreatedAt.Add(200 * time.Millisecond) }
	if err := job.Done(ctx, 12, 34, nil); err != nil {
		t.Fatalf("Done: %v", err)
	}
	if job.Status != Completed {
		t.Errorf("expected completed, got %s", job.Status)
	}
	if job.IndexedDocumentCount != 12 || job.DeletedDocumentCount != 34 {
		t.Errorf("unexpected counts: %+v", job)
	}
	if job.Duration() < 200*time.Millisecond {
		t.Errorf("expected duration >= 200ms, got %v", job.Duration())
	}
}

func TestJob_DoneWithError(t *testing.T) {
	gw := newGateway()
	job := New("connector-1", gw)
	ctx := context.Background()

	if err := job.Start(ctx, filter.NewFilter(nil)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := job.Done(ctx, 0, 0, errors.New("boom")); err != nil {
		t.Fatalf("Done: %v", err)
	}
	if job.Status != Failed {
		t.Errorf("expected failed, got %s", job.Status)
	}
	if job.Error != "boom" {
		t.Errorf("expected error message preserved, got %q", job.Error)
	}
}

func TestJob_CancelAndSuspend(t *testing.T) {
	gw := newGateway()
	ctx := context.Background()

	job := New("connector-1", gw)
	_ = job.Start(ctx, filter.NewFilter(nil))
	if err := job.Cancel(ctx); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if job.Status != Canceling {
		t.Errorf("expected canceling, got %s", job.Status)
	}
	if job.Duration() != -1 {
		t.Error("canceling is not terminal, duration should be -1")
	}

	job2 := New("connector-2", gw)
	_ = job2.Start(ctx, filter.NewFilter(nil))
	if err := job2.Suspend(ctx); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if job2.Status != Suspended {
		t.Errorf("expected suspended, got %s", job2.Status)
	}
}

func TestTransformFiltering(t *testing.T) {
	got := TransformFiltering(map[string]any{
		"advanced_snippet": map[string]any{"value": map[string]any{"query": map[string]any{}}},
	})
	snippet, ok := got["advanced_snippet"].(map[string]any)
	if !ok || snippet["query"] == nil {
		t.Errorf("expected lifted value, got %+v", got)
	}

	got = TransformFiltering(nil)
	if snippet, ok := got["advanced_snippet"].(map[string]any); !ok || len(snippet) != 0 {
		t.Errorf("expected empty advanced_snippet default, got %+v", got)
	}
	if rules, ok := got["rules"].([]any); !ok || len(rules) != 0 {
		t.Errorf("expected empty rules default, got %+v", got)
	}

	got = TransformFiltering(map[string]any{})
	if snippet, ok := got["advanced_snippet"].(map[string]any); !ok || len(snippet) != 0 {
		t.Errorf("expected empty advanced_snippet default for empty map, got %+v", got)
	}
}
