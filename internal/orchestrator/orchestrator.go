// Package orchestrator drives the per-tick reconciliation loop: paging
// due connectors, claiming and preparing each one's Source, running the
// Bulk Ingestion Coordinator, persisting the resulting Connector/SyncJob
// state, and sweeping orphaned, stuck, and pending jobs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/robfig/cron/v3"

	"connectorsync/internal/bulk"
	"connectorsync/internal/connector"
	"connectorsync/internal/filter"
	"connectorsync/internal/logging"
	"connectorsync/internal/searchindex"
	"connectorsync/internal/source"
	"connectorsync/internal/syncjob"
)

// cronParser interprets a connector's scheduling.interval as a
// seconds-precision quartz-style cron expression, per spec.md §6
// "Quartz-cron strings are interpreted with seconds precision."
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var (
	errOrphanedJob = errors.New("orphaned: connector no longer exists")
	errStuckJob    = errors.New("stuck: owning replica's heartbeat expired")
)

// Validator is the external callback invoked when a connector's active
// filter carries advanced rules and sync rules are feature-enabled
// (spec.md §4.7 step 5). A nil Validator skips this step entirely.
type Validator func(ctx context.Context, connectorID string, advancedRules map[string]any) error

// Config configures one Orchestrator instance.
type Config struct {
	// ServiceTypes restricts which connectors this replica claims. Empty
	// means "every service_type this binary's Registry knows how to
	// construct" (spec.md §4.7 step 1).
	ServiceTypes []string

	HeartbeatInterval   time.Duration
	StuckJobsThreshold  time.Duration
	ConcurrentDownloads int
	ChunkSize           int
	Pipeline            string

	Validator Validator
	Logger    *slog.Logger
	Now       func() time.Time
}

// Orchestrator is the L7 reconciliation loop.
type Orchestrator struct {
	client     searchindex.SearchClient
	connectors *searchindex.Gateway[*connector.Connector]
	jobs       *searchindex.Gateway[*syncjob.Job]
	registry   *source.Registry

	serviceTypes        []string
	heartbeatInterval   time.Duration
	stuckJobsThreshold  time.Duration
	concurrentDownloads int
	chunkSize           int
	pipeline            string
	validator           Validator

	logger    *slog.Logger
	now       func() time.Time
	scheduler *Scheduler
}

// New builds an Orchestrator. connectors/jobs are the control-index
// gateways; registry supplies this binary's Source adapters; client is
// the shared search-cluster client the Bulk Coordinator targets.
func New(
	client searchindex.SearchClient,
	connectors *searchindex.Gateway[*connector.Connector],
	jobs *searchindex.Gateway[*syncjob.Job],
	registry *source.Registry,
	cfg Config,
) (*Orchestrator, error) {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := logging.Default(cfg.Logger).With("component", "orchestrator")

	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	stuck := cfg.StuckJobsThreshold
	if stuck <= 0 {
		stuck = 5 * time.Minute
	}
	concurrentDownloads := cfg.ConcurrentDownloads
	if concurrentDownloads <= 0 {
		concurrentDownloads = bulk.DefaultOptions.ConcurrentDownloads
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = bulk.DefaultOptions.ChunkSize
	}

	sched, err := newScheduler(logger, 4)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	return &Orchestrator{
		client:              client,
		connectors:          connectors,
		jobs:                jobs,
		registry:            registry,
		serviceTypes:        cfg.ServiceTypes,
		heartbeatInterval:   heartbeat,
		stuckJobsThreshold:  stuck,
		concurrentDownloads: concurrentDownloads,
		chunkSize:           chunkSize,
		pipeline:            cfg.Pipeline,
		validator:           cfg.Validator,
		logger:              logger,
		now:                 now,
		scheduler:           sched,
	}, nil
}

// Start registers the tick loop on pollInterval (a seconds-precision
// cron expression) and begins reconciling connectors.
func (o *Orchestrator) Start(ctx context.Context, pollInterval string) error {
	return o.scheduler.AddJob("tick", pollInterval, func() { o.Tick(ctx) })
}

// Stop shuts down the scheduler, waiting for any in-flight tick to
// finish (spec.md §5: "lets in-flight ones reach the next suspension
// point... no forced termination").
func (o *Orchestrator) Stop() error {
	return o.scheduler.Stop()
}

// claims reports whether this replica claims connectors of serviceType:
// the registry must know how to construct it, and either ServiceTypes is
// empty (claim everything the registry supports) or serviceType is
// explicitly listed.
func (o *Orchestrator) claims(serviceType string) bool {
	if _, ok := o.registry.Get(serviceType); !ok {
		return false
	}
	if len(o.serviceTypes) == 0 {
		return true
	}
	return slices.Contains(o.serviceTypes, serviceType)
}

// serviceConfigs builds the connector.ServiceConfig map Prepare needs,
// from every service_type this replica's registry supports. The two
// packages each declare their own default-configuration field shape
// (source.ConfigField vs connector.ConfigValue) to keep connector
// independent of the adapter-facing source package, so this is a
// conversion point, not a passthrough.
func (o *Orchestrator) serviceConfigs() map[string]connector.ServiceConfig {
	out := make(map[string]connector.ServiceConfig)
	for _, st := range o.registry.ServiceTypes() {
		adapter, ok := o.registry.Get(st)
		if !ok {
			continue
		}
		defaultConfiguration := adapter.DefaultConfiguration
		out[st] = connector.ServiceConfig{
			DefaultConfiguration: func() map[string]connector.ConfigValue {
				fields := defaultConfiguration()
				out := make(map[string]connector.ConfigValue, len(fields))
				for field, f := range fields {
					out[field] = connector.ConfigValue{Value: f.Value, Label: f.Label, Type: string(f.Type)}
				}
				return out
			},
		}
	}
	return out
}

// Tick runs one reconciliation pass: paging every connector, reconciling
// the ones this replica claims and that are due, then sweeping orphaned,
// stuck, and pending sync jobs.
func (o *Orchestrator) Tick(ctx context.Context) {
	now := o.now()
	known := make(map[string]*connector.Connector)
	serviceConfigs := o.serviceConfigs()

	for c, err := range o.connectors.GetAll(ctx, nil, 100) {
		if err != nil {
			o.logger.Error("connector paging failed, ending tick", "error", err)
			break
		}
		known[c.ID] = c

		if !o.claims(c.ServiceType) {
			continue
		}
		c.Bind(o.connectors, o.logger)
		o.processConnector(ctx, c, serviceConfigs, now)
	}

	o.sweepJobs(ctx, known, now)
}

// processConnector reconciles one connector if it is due, per spec.md
// §4.7 steps 2-6.
func (o *Orchestrator) processConnector(ctx context.Context, c *connector.Connector, serviceConfigs map[string]connector.ServiceConfig, now time.Time) {
	due, err := o.dueForSync(c, now)
	if err != nil {
		o.logger.Warn("invalid schedule, skipping connector", "connector_id", c.ID, "error", err)
		return
	}
	if !due {
		return
	}

	c.StartHeartbeat(ctx, o.heartbeatInterval)
	defer c.Close()

	if err := c.Prepare(serviceConfigs); err != nil {
		o.logger.Warn("prepare failed, connector needs configuration", "connector_id", c.ID, "error", err)
		c.SetError(err.Error())
		if flushErr := c.SyncDoc(ctx); flushErr != nil {
			o.logger.Error("failed to flush connector after prepare failure", "connector_id", c.ID, "error", flushErr)
		}
		return
	}

	src, err := o.registry.New(c.ServiceType, configValues(c.Configuration))
	if err != nil {
		o.failConnector(ctx, c, err)
		return
	}
	if closer, ok := src.(source.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	if err := src.Ping(ctx); err != nil {
		o.failConnector(ctx, c, fmt.Errorf("ping: %w", err))
		return
	}

	activeFilter := c.Filtering.Get(filter.Active, filter.DefaultDomain)
	if o.validator != nil && c.Features.SyncRulesEnabled() && activeFilter.HasAdvancedRules() {
		if err := o.validator(ctx, c.ID, activeFilter.GetAdvancedRules()); err != nil {
			o.logger.Warn("advanced rules failed external validation, syncing anyway", "connector_id", c.ID, "error", err)
		}
	}

	job := syncjob.New(c.ID, o.jobs)
	if err := job.Start(ctx, activeFilter); err != nil {
		o.logger.Error("failed to start sync job", "connector_id", c.ID, "error", err)
		return
	}

	coord := bulk.New(o.client, c.IndexName, o.logger)
	result, err := coord.Run(ctx, src, activeFilter)
	if err != nil {
		if doneErr := job.Done(ctx, 0, 0, err); doneErr != nil {
			o.logger.Error("failed to persist failed sync job", "connector_id", c.ID, "error", doneErr)
		}
		o.failConnector(ctx, c, err)
		return
	}

	if err := job.Done(ctx, result.IndexedDocumentCount, result.DeletedDocumentCount, nil); err != nil {
		o.logger.Error("failed to persist completed sync job", "connector_id", c.ID, "error", err)
	}

	c.SetLastSyncStatus("completed")
	c.SetLastSynced(now)
	c.ClearSyncNow()
	if err := c.SyncDoc(ctx); err != nil {
		o.logger.Error("failed to flush connector after successful sync", "connector_id", c.ID, "error", err)
	}
}

// failConnector records err on c and flushes, per spec.md §4.7 step 6
// "On exception... set status=error, last_sync_error=str(exc)".
func (o *Orchestrator) failConnector(ctx context.Context, c *connector.Connector, err error) {
	o.logger.Warn("sync failed", "connector_id", c.ID, "error", err)
	if setErr := c.SetStatus(connector.Error); setErr != nil {
		o.logger.Error("failed to set connector error status", "connector_id", c.ID, "error", setErr)
	}
	c.SetError(err.Error())
	c.SetLastSyncStatus("error")
	if flushErr := c.SyncDoc(ctx); flushErr != nil {
		o.logger.Error("failed to flush connector after sync failure", "connector_id", c.ID, "error", flushErr)
	}
}

// dueForSync decides whether c should sync this tick: an explicit
// sync_now request, or its own cron schedule firing since last_synced —
// either way gated by the claim guard (last_seen stale relative to
// STUCK_JOBS_THRESHOLD), so a live replica already working this
// connector is never double-claimed (spec.md §4.7 step 3, §5 "the claim
// guard").
func (o *Orchestrator) dueForSync(c *connector.Connector, now time.Time) (bool, error) {
	requested := c.SyncNow
	if !requested {
		fires, err := o.scheduleFires(c, now)
		if err != nil {
			return false, err
		}
		requested = fires
	}
	if !requested {
		return false, nil
	}
	return c.StaleThreshold(o.stuckJobsThreshold, now), nil
}

// scheduleFires reports whether c's own cron schedule has a fire time
// at or before now since it last synced. A connector that has never
// synced is always due.
func (o *Orchestrator) scheduleFires(c *connector.Connector, now time.Time) (bool, error) {
	if !c.Scheduling.Enabled || c.Scheduling.Interval == "" {
		return false, nil
	}
	if c.LastSynced.IsZero() {
		return true, nil
	}
	sched, err := cronParser.Parse(c.Scheduling.Interval)
	if err != nil {
		return false, fmt.Errorf("parse scheduling.interval %q: %w", c.Scheduling.Interval, err)
	}
	return !sched.Next(c.LastSynced).After(now), nil
}

// configValues flattens a connector's configuration map to the plain
// field->value mapping a Source factory expects.
func configValues(cfg map[string]connector.ConfigValue) map[string]any {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v.Value
	}
	return out
}

// sweepJobs implements spec.md §4.7 step 7: orphaned jobs (connector no
// longer known) are marked failed; stuck jobs (non-terminal, owning
// connector's heartbeat expired) are marked failed; pending jobs for
// known connectors are left alone, resumed naturally on their
// connector's next due check.
func (o *Orchestrator) sweepJobs(ctx context.Context, known map[string]*connector.Connector, now time.Time) {
	for job, err := range o.jobs.GetAll(ctx, nil, 100) {
		if err != nil {
			o.logger.Error("sync job paging failed, ending sweep", "error", err)
			return
		}

		job.Bind(o.jobs)

		owner, ok := known[job.ConnectorID]
		switch {
		case !ok:
			if failErr := job.Fail(ctx, errOrphanedJob); failErr != nil {
				o.logger.Error("failed to mark orphaned job failed", "job_id", job.JobID, "error", failErr)
			}

		case job.Status == syncjob.InProgress || job.Status == syncjob.Canceling:
			if owner.StaleThreshold(o.stuckJobsThreshold, now) {
				if failErr := job.Fail(ctx, errStuckJob); failErr != nil {
					o.logger.Error("failed to mark stuck job failed", "job_id", job.JobID, "error", failErr)
				}
			}

		case job.Status == syncjob.Pending:
			o.logger.Debug("pending job found for known connector, leaving for next due check",
				"job_id", job.JobID, "connector_id", job.ConnectorID)
		}
	}
}
