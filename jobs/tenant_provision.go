package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/tadhub/tadhub/internal/jobs"
	"github.com/tadhub/tadhub/internal/rbac"
)

// TenantProvisioner provisions template and domain roles for a tenant.
type TenantProvisioner interface {
	ProvisionTenant(ctx context.Context, req rbac.ProvisionRequest) (rbac.ProvisionReport, error)
}

// TenantProvisionJob handles TaskTenantProvision.
type TenantProvisionJob struct {
	Provisioner TenantProvisioner
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// NewTenantProvisionJob constructs the job handler.
func NewTenantProvisionJob(provisioner TenantProvisioner, logger *slog.Logger, metrics *jobmetrics.Metrics) *TenantProvisionJob {
	return &TenantProvisionJob{Provisioner: provisioner, Logger: logger, Metrics: metrics}
}

// Handle provisions one tenant. Every step is idempotent, so failures are
// returned for asynq to retry; malformed payloads are dropped.
func (j *TenantProvisionJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Provisioner == nil {
		return errors.New("tenant provision: dependencies not configured")
	}
	var payload TenantProvisionPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("tenant provision: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil || tenantID == uuid.Nil {
		return fmt.Errorf("tenant provision: invalid tenant id %q: %w", payload.TenantID, asynq.SkipRetry)
	}
	owner, err := parseOptionalUUID(payload.OwnerUserID)
	if err != nil {
		return fmt.Errorf("tenant provision: invalid owner id %q: %w", payload.OwnerUserID, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskTenantProvision)
	defer func() {
		err = tracker.End(err)
	}()

	req := rbac.ProvisionRequest{TenantID: tenantID}
	if owner != uuid.Nil {
		req.OwnerUserID = uuid.NullUUID{UUID: owner, Valid: true}
	}
	report, err := j.Provisioner.ProvisionTenant(ctx, req)
	if err != nil {
		j.log().Error("tenant provision", slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
		return err
	}
	if len(report.Seed.Unresolved) > 0 {
		j.log().Warn("tenant provision unresolved permissions",
			slog.String("tenant_id", tenantID.String()),
			slog.Int("count", len(report.Seed.Unresolved)))
	}
	return nil
}

func (j *TenantProvisionJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
