package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTenantProvision provisions the roles of a newly created tenant.
	TaskTenantProvision = "rbac:tenant_provision"
	// TaskTemplateSync reconciles role templates with the permission catalog.
	TaskTemplateSync = "rbac:template_sync"
)

// TenantProvisionPayload is emitted when a tenant is created.
type TenantProvisionPayload struct {
	TenantID    string `json:"tenant_id"`
	OwnerUserID string `json:"owner_user_id,omitempty"`
}

// TemplateSyncPayload scopes a sync run. An empty TenantID syncs every tenant.
type TemplateSyncPayload struct {
	TenantID string `json:"tenant_id,omitempty"`
}

// NewTenantProvisionTask builds a provisioning task. A Nil owner is omitted.
func NewTenantProvisionTask(tenantID, ownerUserID uuid.UUID) (*asynq.Task, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("tenant provision: tenant id required")
	}
	payload := TenantProvisionPayload{TenantID: tenantID.String()}
	if ownerUserID != uuid.Nil {
		payload.OwnerUserID = ownerUserID.String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTenantProvision, body, asynq.Queue(QueueDefault), asynq.MaxRetry(10)), nil
}

// NewTemplateSyncTask builds a sync task; uuid.Nil means all tenants.
func NewTemplateSyncTask(tenantID uuid.UUID) (*asynq.Task, error) {
	var payload TemplateSyncPayload
	if tenantID != uuid.Nil {
		payload.TenantID = tenantID.String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTemplateSync, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

func parseOptionalUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(raw)
}
