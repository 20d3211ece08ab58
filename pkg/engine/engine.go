// Package engine implements the sync engine processor invoked by an
// external periodic tick: advisory lock, circuit breakers, claim,
// dispatch, and backoff scheduling, wired on top of pkg/queue,
// pkg/registry, and pkg/breaker.
package engine

import (
	"fmt"
	"time"

	"github.com/kavachlabs/erpsync/pkg/advisorylock"
	"github.com/kavachlabs/erpsync/pkg/breaker"
	"github.com/kavachlabs/erpsync/pkg/config"
	"github.com/kavachlabs/erpsync/pkg/obs"
	"github.com/kavachlabs/erpsync/pkg/queue"
	"github.com/kavachlabs/erpsync/pkg/registry"
)

// FailureNotifier is invoked when a module's consecutive failures cross
// the configured threshold.
type FailureNotifier func(module string, consecutiveFailures int)

// Engine runs one tick at a time against a single tenant's queue.
type Engine struct {
	tenant     string
	lockPath   string
	queue      *queue.Repository
	registry   *registry.Registry
	breakers   *breaker.Manager
	config     config.Config
	logger     *obs.Logger
	notify     FailureNotifier
	moduleFails map[string]int
}

// New builds an Engine for tenant, serialised across processes by a file
// lock at lockPath.
func New(tenant, lockPath string, q *queue.Repository, r *registry.Registry, b *breaker.Manager, cfg config.Config, logger *obs.Logger, notify FailureNotifier) *Engine {
	if logger == nil {
		logger = obs.Default()
	}
	return &Engine{
		tenant:      tenant,
		lockPath:    lockPath,
		queue:       q,
		registry:    r,
		breakers:    b,
		config:      cfg,
		logger:      logger,
		notify:      notify,
		moduleFails: make(map[string]int),
	}
}

// failureNotificationThreshold is the default consecutive-failure count
// that trips an admin notification, independent of the breaker's own
// N=5 threshold.
const failureNotificationThreshold = 3

// TickResult summarises one Tick invocation for logging/metrics.
type TickResult struct {
	LockAcquired bool
	Claimed      int
	Completed    int
	Retried      int
	Failed       int
	Skipped      int
}

func moduleFromEntityType(r *registry.Registry, entityType string) (registry.Module, bool) {
	for _, m := range r.All() {
		if !r.IsEnabled(m.ID()) {
			continue
		}
		for et := range m.RemoteModels() {
			if et == entityType {
				return m, true
			}
		}
	}
	return nil, false
}

func directionAllowed(cfg config.Config, direction queue.Direction) bool {
	switch direction {
	case queue.DirectionPush:
		return cfg.AllowsPush()
	case queue.DirectionPull:
		return cfg.AllowsPull()
	default:
		return true
	}
}

// Tick runs the full per-tick algorithm against up to batch_size
// pending jobs.
func (e *Engine) Tick(now func() time.Time) (TickResult, error) {
	if now == nil {
		now = time.Now
	}
	var result TickResult

	lock, acquired, err := advisorylock.Acquire(e.lockPath)
	if err != nil {
		return result, fmt.Errorf("engine: acquire lock: %w", err)
	}
	if !acquired {
		return result, nil
	}
	result.LockAcquired = true
	defer lock.Release()

	global := e.breakers.Global()

	batchSize := e.config.Sync.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	jobs, err := e.queue.FetchPending(e.tenant, batchSize, now())
	if err != nil {
		return result, fmt.Errorf("engine: fetch pending: %w", err)
	}
	if len(jobs) == 0 {
		return result, nil
	}

	eligible := make([]queue.Job, 0, len(jobs))
	ids := make([]uint64, 0, len(jobs))
	for _, job := range jobs {
		if !directionAllowed(e.config, job.Direction) {
			result.Skipped++
			continue
		}
		eligible = append(eligible, job)
		ids = append(ids, job.ID)
	}

	if len(ids) > 0 {
		claimed, err := e.queue.Claim(ids)
		if err != nil {
			return result, fmt.Errorf("engine: claim: %w", err)
		}
		result.Claimed = claimed
		e.dispatchBatch(eligible, now, global, &result)
	}

	if err := e.breakers.Persist(); err != nil {
		e.logger.Warn("tenant=%s: persist breaker state: %v", e.tenant, err)
	}

	return result, nil
}

// jobGroup collects every claimed job sharing one (module, entity_type,
// action, direction), the unit the optional push_batch/pull_batch hook
// operates on.
type jobGroup struct {
	mod        registry.Module
	entityType string
	action     queue.Action
	direction  queue.Direction
	jobs       []queue.Job
}

// dispatchBatch resolves each job's module and breaker admission exactly
// as a single-job dispatch would, then groups the admitted jobs so a
// module implementing BatchPusher/BatchPuller is offered the whole group
// in one call instead of one round-trip per job.
func (e *Engine) dispatchBatch(jobs []queue.Job, now func() time.Time, global *breaker.Breaker, result *TickResult) {
	groups := make(map[string]*jobGroup)
	var order []string

	for _, job := range jobs {
		if !global.Allow(now()) {
			scheduled := now().Add(e.moduleCoolDown())
			e.queue.UpdateStatus(job.ID, queue.StatusPending, queue.Patch{ScheduledAt: &scheduled})
			result.Skipped++
			continue
		}

		mod, found := moduleFromEntityType(e.registry, job.EntityType)
		if !found {
			msg := fmt.Sprintf("no module registered for entity_type %q", job.EntityType)
			e.queue.UpdateStatus(job.ID, queue.StatusFailed, queue.Patch{ErrorMessage: &msg})
			result.Failed++
			continue
		}

		moduleBreaker := e.breakers.Module(mod.ID())
		if !moduleBreaker.Allow(now()) {
			scheduled := now().Add(e.moduleCoolDown())
			e.queue.UpdateStatus(job.ID, queue.StatusPending, queue.Patch{ScheduledAt: &scheduled})
			result.Skipped++
			continue
		}

		key := mod.ID() + "|" + job.EntityType + "|" + string(job.Action) + "|" + string(job.Direction)
		g, ok := groups[key]
		if !ok {
			g = &jobGroup{mod: mod, entityType: job.EntityType, action: job.Action, direction: job.Direction}
			groups[key] = g
			order = append(order, key)
		}
		g.jobs = append(g.jobs, job)
	}

	for _, key := range order {
		e.dispatchGroup(groups[key], now, global, result)
	}
}

// dispatchGroup runs one group through its module's batch hook when
// available, falling back to a per-job Push/Pull call otherwise.
func (e *Engine) dispatchGroup(g *jobGroup, now func() time.Time, global *breaker.Breaker, result *TickResult) {
	moduleBreaker := e.breakers.Module(g.mod.ID())

	regJobs := make([]registry.Job, len(g.jobs))
	for i, job := range g.jobs {
		regJobs[i] = registry.Job{Tenant: job.Tenant, EntityType: job.EntityType, LocalID: job.LocalID, RemoteID: job.RemoteID, Payload: job.Payload}
	}

	var results []registry.Result
	if g.direction == queue.DirectionPush {
		if pusher, ok := g.mod.(registry.BatchPusher); ok {
			results = pusher.PushBatch(regJobs)
		}
	} else if puller, ok := g.mod.(registry.BatchPuller); ok {
		results = puller.PullBatch(regJobs)
	}
	if results == nil {
		results = make([]registry.Result, len(regJobs))
		for i, regJob := range regJobs {
			if g.direction == queue.DirectionPush {
				results[i] = g.mod.Push(regJob)
			} else {
				results[i] = g.mod.Pull(regJob)
			}
		}
	}

	for i, job := range g.jobs {
		res := registry.Fail(false, "batch hook returned fewer results than jobs submitted")
		if i < len(results) {
			res = results[i]
		}
		e.recordResult(job, res, now, global, moduleBreaker, g.mod.ID(), result)
	}
}

func (e *Engine) recordResult(job queue.Job, res registry.Result, now func() time.Time, global, moduleBreaker *breaker.Breaker, moduleID string, result *TickResult) {
	if !res.Failed {
		processedAt := now()
		e.queue.UpdateStatus(job.ID, queue.StatusCompleted, queue.Patch{ProcessedAt: &processedAt})
		global.RecordSuccess()
		moduleBreaker.RecordSuccess()
		e.moduleFails[moduleID] = 0
		result.Completed++
		return
	}

	global.RecordFailure(now())
	moduleBreaker.RecordFailure(now())

	attempts := job.Attempts + 1
	if res.Retryable && attempts < job.MaxAttempts {
		scheduled := now().Add(queue.NextBackoff(attempts))
		e.queue.UpdateStatus(job.ID, queue.StatusPending, queue.Patch{
			Attempts:    &attempts,
			ScheduledAt: &scheduled,
		})
		result.Retried++
		return
	}

	e.queue.UpdateStatus(job.ID, queue.StatusFailed, queue.Patch{
		Attempts:     &attempts,
		ErrorMessage: &res.Message,
	})
	result.Failed++

	e.moduleFails[moduleID]++
	if e.moduleFails[moduleID] >= failureNotificationThreshold && e.notify != nil {
		e.notify(moduleID, e.moduleFails[moduleID])
	}
}

func (e *Engine) moduleCoolDown() time.Duration {
	return breaker.DefaultCoolDown
}
