package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tadhub/tadhub/internal/jobs"
	"github.com/tadhub/tadhub/internal/rbac"
)

// TemplateSyncer runs one reconciler pass under the sync lease.
type TemplateSyncer interface {
	SyncNow(ctx context.Context, opts rbac.SyncOptions) (rbac.SyncReport, error)
}

// TemplateSyncJob handles TaskTemplateSync.
type TemplateSyncJob struct {
	Syncer  TemplateSyncer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewTemplateSyncJob constructs the job handler.
func NewTemplateSyncJob(syncer TemplateSyncer, logger *slog.Logger, metrics *jobmetrics.Metrics) *TemplateSyncJob {
	return &TemplateSyncJob{Syncer: syncer, Logger: logger, Metrics: metrics}
}

// Handle runs the sync. A run already in progress elsewhere counts as done.
func (j *TemplateSyncJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Syncer == nil {
		return errors.New("template sync: dependencies not configured")
	}
	var payload TemplateSyncPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("template sync: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	tenantID, err := parseOptionalUUID(payload.TenantID)
	if err != nil {
		return fmt.Errorf("template sync: invalid tenant id %q: %w", payload.TenantID, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskTemplateSync)
	defer func() {
		err = tracker.End(err)
	}()

	report, err := j.Syncer.SyncNow(ctx, rbac.SyncOptions{TenantID: tenantID})
	if errors.Is(err, rbac.ErrSyncInProgress) {
		j.log().Info("template sync skipped, lease held", slog.String("tenant_id", payload.TenantID))
		return nil
	}
	if err != nil {
		j.log().Error("template sync",
			slog.String("tenant_id", payload.TenantID),
			slog.Int("templates_done", len(report.Templates)),
			slog.Any("error", err))
		return err
	}
	return nil
}

func (j *TemplateSyncJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
