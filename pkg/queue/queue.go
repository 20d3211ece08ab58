// Package queue implements the durable sync_queue job repository, built
// on a gorm/sqlite repository shape (check-exists-then-update-or-create,
// AutoMigrate on open) with a dead-letter-queue-style backoff-on-retry
// idiom.
package queue

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Direction is the push/pull axis of a job.
type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
)

// Action is the create/update/delete axis of a job.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Status is a job's lifecycle state, transitioned per the state machine
// in transitions below.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("queue: job not found")

// Job is the gorm row for the sync_queue table, with a composite index
// on (tenant, priority, status, scheduled_at) for the polling query.
type Job struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	Tenant       string `gorm:"size:128;index:idx_sync_queue_poll,priority:1"`
	Module       string `gorm:"size:128;index"`
	EntityType   string `gorm:"size:128"`
	Direction    Direction `gorm:"size:8"`
	Action       Action    `gorm:"size:8"`
	LocalID      *int64
	RemoteID     *int64
	Payload      string `gorm:"type:text"`
	Priority     int    `gorm:"index:idx_sync_queue_poll,priority:2"`
	Status       Status `gorm:"size:16;index:idx_sync_queue_poll,priority:3"`
	Attempts     int
	MaxAttempts  int
	ErrorMessage string `gorm:"type:text"`
	ScheduledAt  time.Time `gorm:"index:idx_sync_queue_poll,priority:4"`
	CreatedAt    time.Time
	ProcessedAt  *time.Time
}

// TableName pins the gorm table name to sync_queue.
func (Job) TableName() string { return "sync_queue" }

// Spec is the caller-supplied shape for enqueue.
type Spec struct {
	Tenant      string
	Module      string
	EntityType  string
	Direction   Direction
	Action      Action
	LocalID     *int64
	RemoteID    *int64
	Payload     string
	Priority    int
	MaxAttempts int
	ScheduledAt time.Time
}

// Stats is the aggregate counters operation's result.
type Stats struct {
	Pending        int64
	Processing     int64
	Completed      int64
	Failed         int64
	Total          int64
	DepthByModule  map[string]int64
	AvgLatencySecs float64
	SuccessRate    float64
}

// Repository is the durable job store.
type Repository struct {
	db *gorm.DB
}

// New opens/migrates the sync_queue table on db.
func New(db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(&Job{}); err != nil {
		return nil, fmt.Errorf("queue: migrate: %w", err)
	}
	return &Repository{db: db}, nil
}

func normalizeSpec(spec Spec) Spec {
	if spec.Priority == 0 {
		spec.Priority = 5
	}
	if spec.MaxAttempts == 0 {
		spec.MaxAttempts = 3
	}
	if spec.ScheduledAt.IsZero() {
		spec.ScheduledAt = time.Now()
	}
	return spec
}

// Enqueue inserts a new row unless a pending row sharing the deduplication
// key (tenant, module, entity_type, local_id, remote_id, direction) exists,
// in which case the existing row's payload/action/priority are updated
// and its id returned.
func (r *Repository) Enqueue(spec Spec) (uint64, error) {
	spec = normalizeSpec(spec)

	var id uint64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing Job
		q := tx.Where("tenant = ? AND module = ? AND entity_type = ? AND direction = ? AND status = ?",
			spec.Tenant, spec.Module, spec.EntityType, spec.Direction, StatusPending)
		q = whereNullableInt64(q, "local_id", spec.LocalID)
		q = whereNullableInt64(q, "remote_id", spec.RemoteID)

		err := q.First(&existing).Error
		if err == nil {
			existing.Payload = spec.Payload
			existing.Action = spec.Action
			existing.Priority = spec.Priority
			if err := tx.Model(&existing).Updates(map[string]interface{}{
				"payload":  existing.Payload,
				"action":   existing.Action,
				"priority": existing.Priority,
			}).Error; err != nil {
				return err
			}
			id = existing.ID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		job := Job{
			Tenant:      spec.Tenant,
			Module:      spec.Module,
			EntityType:  spec.EntityType,
			Direction:   spec.Direction,
			Action:      spec.Action,
			LocalID:     spec.LocalID,
			RemoteID:    spec.RemoteID,
			Payload:     spec.Payload,
			Priority:    spec.Priority,
			Status:      StatusPending,
			MaxAttempts: spec.MaxAttempts,
			ScheduledAt: spec.ScheduledAt,
			CreatedAt:   time.Now(),
		}
		if err := tx.Create(&job).Error; err != nil {
			return err
		}
		id = job.ID
		return nil
	})
	return id, err
}

func whereNullableInt64(q *gorm.DB, col string, v *int64) *gorm.DB {
	if v == nil {
		return q.Where(col + " IS NULL")
	}
	return q.Where(col+" = ?", *v)
}

// FetchPending returns up to limit pending, due rows ordered by
// (priority asc, scheduled_at asc, created_at asc, id asc), scoped to tenant.
func (r *Repository) FetchPending(tenant string, limit int, now time.Time) ([]Job, error) {
	var jobs []Job
	err := r.db.Where("tenant = ? AND status = ? AND scheduled_at <= ?", tenant, StatusPending, now).
		Order("priority asc, scheduled_at asc, created_at asc, id asc").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// Claim atomically transitions the listed pending jobs to processing.
// Returns the count actually transitioned; jobs no longer pending (raced
// away by cancellation or another claimant) are silently skipped.
func (r *Repository) Claim(jobIDs []uint64) (int, error) {
	if len(jobIDs) == 0 {
		return 0, nil
	}
	res := r.db.Model(&Job{}).
		Where("id IN ? AND status = ?", jobIDs, StatusPending).
		Update("status", StatusProcessing)
	return int(res.RowsAffected), res.Error
}

// Patch is the optional attribute set update_status may apply alongside
// the new status.
type Patch struct {
	ErrorMessage *string
	Attempts     *int
	ScheduledAt  *time.Time
	ProcessedAt  *time.Time
}

// transitions enumerates the permitted status graph:
// pending<->processing, processing->{completed,failed}, and
// pending->cancelled.
var transitions = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusCompleted: true, StatusFailed: true, StatusPending: true},
}

// UpdateStatus applies an allowed transition plus an optional patch.
func (r *Repository) UpdateStatus(jobID uint64, newStatus Status, patch Patch) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var job Job
		if err := tx.First(&job, jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if !transitions[job.Status][newStatus] {
			return fmt.Errorf("queue: illegal transition %s -> %s", job.Status, newStatus)
		}

		updates := map[string]interface{}{"status": newStatus}
		if patch.ErrorMessage != nil {
			updates["error_message"] = *patch.ErrorMessage
		}
		if patch.Attempts != nil {
			updates["attempts"] = *patch.Attempts
		}
		if patch.ScheduledAt != nil {
			updates["scheduled_at"] = *patch.ScheduledAt
		}
		if patch.ProcessedAt != nil {
			updates["processed_at"] = *patch.ProcessedAt
		}
		return tx.Model(&job).Updates(updates).Error
	})
}

// Cancel succeeds only if the job is pending.
func (r *Repository) Cancel(jobID uint64) (bool, error) {
	res := r.db.Model(&Job{}).
		Where("id = ? AND status = ?", jobID, StatusPending).
		Update("status", StatusCancelled)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RetryFailed resets every failed job to pending, clears error_message, and
// sets scheduled_at to now. Completed jobs are untouched.
func (r *Repository) RetryFailed() (int, error) {
	res := r.db.Model(&Job{}).
		Where("status = ?", StatusFailed).
		Updates(map[string]interface{}{
			"status":        StatusPending,
			"error_message": "",
			"scheduled_at":  time.Now(),
		})
	return int(res.RowsAffected), res.Error
}

// Cleanup deletes completed/failed/cancelled rows older than the cutoff.
func (r *Repository) Cleanup(days int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res := r.db.Where("status IN ? AND created_at < ?",
		[]Status{StatusCompleted, StatusFailed, StatusCancelled}, cutoff).
		Delete(&Job{})
	return int(res.RowsAffected), res.Error
}

// Stats returns aggregate counters; callers may cache this briefly
// since it scans the whole table.
func (r *Repository) Stats(tenant string) (Stats, error) {
	var stats Stats
	stats.DepthByModule = map[string]int64{}

	base := r.db.Model(&Job{}).Where("tenant = ?", tenant)

	counts := []struct {
		status Status
		dest   *int64
	}{
		{StatusPending, &stats.Pending},
		{StatusProcessing, &stats.Processing},
		{StatusCompleted, &stats.Completed},
		{StatusFailed, &stats.Failed},
	}
	for _, c := range counts {
		if err := base.Session(&gorm.Session{}).Where("status = ?", c.status).Count(c.dest).Error; err != nil {
			return stats, err
		}
	}
	if err := base.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return stats, err
	}

	var byModule []struct {
		Module string
		Count  int64
	}
	if err := base.Session(&gorm.Session{}).Select("module, count(*) as count").Group("module").Scan(&byModule).Error; err != nil {
		return stats, err
	}
	for _, row := range byModule {
		stats.DepthByModule[row.Module] = row.Count
	}

	var avgLatency float64
	err := base.Session(&gorm.Session{}).
		Where("status = ? AND processed_at IS NOT NULL", StatusCompleted).
		Select("AVG((julianday(processed_at) - julianday(created_at)) * 86400)").
		Row().Scan(&avgLatency)
	if err == nil {
		stats.AvgLatencySecs = avgLatency
	}

	terminal := stats.Completed + stats.Failed
	if terminal > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(terminal)
	}

	return stats, nil
}

// NextBackoff computes the bounded-exponential backoff the engine uses on
// a retryable failure: min(attempts^2*60, 3600) seconds.
func NextBackoff(attempts int) time.Duration {
	seconds := attempts * attempts * 60
	if seconds > 3600 {
		seconds = 3600
	}
	return time.Duration(seconds) * time.Second
}
