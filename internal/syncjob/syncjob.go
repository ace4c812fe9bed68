// Package syncjob implements the Sync Job Record: the lifecycle of one
// sync run, persisted to the `.elastic-connectors-sync-jobs` index via a
// searchindex.Gateway.
package syncjob

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"connectorsync/internal/filter"
	"connectorsync/internal/searchindex"
)

// Status is one of the Sync Job's lifecycle states.
type Status string

const (
	Pending    Status = "pending"
	InProgress Status = "in_progress"
	Canceling  Status = "canceling"
	Completed  Status = "completed"
	Failed     Status = "failed"
	Suspended  Status = "suspended"
)

// terminal reports whether status is one of the two terminal states.
// completed_at is set if and only if status is terminal (spec.md §3).
func (s Status) terminal() bool {
	return s == Completed || s == Failed
}

// Job is one sync job record. Job is a plain value struct: mutating
// methods set a dirty flag and Flush persists the change, mirroring the
// Connector Record's sync_doc/dirty-flag convention (spec.md §4.5).
type Job struct {
	JobID                string
	ConnectorID          string
	Filtering            map[string]any
	Status               Status
	CreatedAt            time.Time
	CompletedAt          time.Time
	IndexedDocumentCount int
	DeletedDocumentCount int
	Error                string

	gateway *searchindex.Gateway[*Job]
	dirty   bool
	now     func() time.Time
}

// MakeJob hydrates a raw Hit into a *Job. Pass to searchindex.New when
// constructing the jobs gateway.
func MakeJob(hit searchindex.Hit) (*Job, error) {
	j := &Job{JobID: hit.ID}
	if v, ok := hit.Source["connector_id"].(string); ok {
		j.ConnectorID = v
	}
	if v, ok := hit.Source["filtering"].(map[string]any); ok {
		j.Filtering = v
	}
	if v, ok := hit.Source["status"].(string); ok {
		j.Status = Status(v)
	}
	if v, ok := hit.Source["created_at"].(string); ok {
		j.CreatedAt, _ = time.Parse(time.RFC3339, v)
	}
	if v, ok := hit.Source["completed_at"].(string); ok && v != "" {
		j.CompletedAt, _ = time.Parse(time.RFC3339, v)
	}
	if v, ok := hit.Source["indexed_document_count"].(float64); ok {
		j.IndexedDocumentCount = int(v)
	}
	if v, ok := hit.Source["deleted_document_count"].(float64); ok {
		j.DeletedDocumentCount = int(v)
	}
	if v, ok := hit.Source["error"].(string); ok {
		j.Error = v
	}
	return j, nil
}

// New creates an unstarted job bound to gateway, for the given connector.
func New(connectorID string, gateway *searchindex.Gateway[*Job]) *Job {
	return &Job{
		ConnectorID: connectorID,
		Status:      Pending,
		gateway:     gateway,
		now:         time.Now,
	}
}

// Bind attaches gateway to a job hydrated via MakeJob, so later
// transitions (Fail, Cancel, ...) can Flush. MakeJob itself cannot set
// this, since searchindex.Factory has no gateway to pass in, mirroring
// connector.Connector.Bind.
func (j *Job) Bind(gateway *searchindex.Gateway[*Job]) {
	j.gateway = gateway
}

// TransformFiltering lifts advanced_snippet.value one level so the
// snapshot embedded in a sync job matches what a Source's query builder
// expects, per spec.md §4.4: input {"advanced_snippet":{"value": V}} ->
// {"advanced_snippet": V}. Input {} or nil -> {"advanced_snippet":{},
// "rules":[]}.
func TransformFiltering(raw map[string]any) map[string]any {
	result := map[string]any{
		"advanced_snippet": map[string]any{},
		"rules":            []any{},
	}
	if raw == nil {
		return result
	}
	if snippet, ok := raw["advanced_snippet"].(map[string]any); ok {
		if value, ok := snippet["value"]; ok {
			result["advanced_snippet"] = value
		}
	}
	if rules, ok := raw["rules"].([]any); ok {
		result["rules"] = rules
	}
	if validation, ok := raw["validation"]; ok {
		result["validation"] = validation
	}
	return result
}

// Start transitions the job to in_progress, embeds the flattened active
// filtering snapshot, assigns a job id, and persists the new record. The
// snapshot is already flattened (spec.md §3: "the active filter,
// flattened: advanced_snippet.value lifted one level") because
// filter.Filter's accessors return the lifted view directly.
func (j *Job) Start(ctx context.Context, filtering filter.Filter) error {
	j.JobID = uuid.NewString()
	j.Status = InProgress
	j.CreatedAt = j.clock()
	j.Filtering = map[string]any{
		"advanced_snippet": filtering.GetAdvancedRules(),
		"rules":            filtering.GetBasicRules(),
	}
	j.dirty = true
	return j.Flush(ctx)
}

// Done transitions the job to completed or failed, sets the document
// counts, completed_at, and an optional error, and flushes.
func (j *Job) Done(ctx context.Context, indexed, deleted int, jobErr error) error {
	j.IndexedDocumentCount = indexed
	j.DeletedDocumentCount = deleted
	j.CompletedAt = j.clock()
	if jobErr != nil {
		j.Status = Failed
		j.Error = jobErr.Error()
	} else {
		j.Status = Completed
	}
	j.dirty = true
	return j.Flush(ctx)
}

// Suspend is a terminal-adjacent transition used when the service shuts
// down mid-sync; the job is not complete but must stop being polled as
// live.
func (j *Job) Suspend(ctx context.Context) error {
	j.Status = Suspended
	j.dirty = true
	return j.Flush(ctx)
}

// Fail moves the job straight to failed, recording err.
func (j *Job) Fail(ctx context.Context, err error) error {
	j.Status = Failed
	j.CompletedAt = j.clock()
	if err != nil {
		j.Error = err.Error()
	}
	j.dirty = true
	return j.Flush(ctx)
}

// Cancel moves the job into canceling. A running sync does not check for
// this status; the orchestrator's job sweep fails a canceling job once
// its connector's last_seen is older than the stuck-jobs threshold.
func (j *Job) Cancel(ctx context.Context) error {
	j.Status = Canceling
	j.dirty = true
	return j.Flush(ctx)
}

// Duration returns time since created_at for a completed job, or -1 if
// the job has not yet completed.
func (j *Job) Duration() time.Duration {
	if !j.Status.terminal() || j.CompletedAt.IsZero() {
		return -1
	}
	return j.CompletedAt.Sub(j.CreatedAt)
}

func (j *Job) clock() time.Time {
	if j.now != nil {
		return j.now()
	}
	return time.Now()
}

func (j *Job) doc() map[string]any {
	doc := map[string]any{
		"connector_id":           j.ConnectorID,
		"filtering":              j.Filtering,
		"status":                 string(j.Status),
		"created_at":             j.CreatedAt.UTC().Format(time.RFC3339),
		"indexed_document_count": j.IndexedDocumentCount,
		"deleted_document_count": j.DeletedDocumentCount,
		"error":                  j.Error,
	}
	if !j.CompletedAt.IsZero() {
		doc["completed_at"] = j.CompletedAt.UTC().Format(time.RFC3339)
	}
	return doc
}

// Flush persists the job document if dirty, and clears the dirty flag.
func (j *Job) Flush(ctx context.Context) error {
	if !j.dirty || j.gateway == nil {
		j.dirty = false
		return nil
	}
	if err := j.gateway.Upsert(ctx, j.JobID, j.doc()); err != nil {
		return fmt.Errorf("flush sync job %s: %w", j.JobID, err)
	}
	j.dirty = false
	return nil
}
