package rbac

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// ProvisionRequest describes a freshly created tenant.
type ProvisionRequest struct {
	TenantID uuid.UUID
	// OwnerUserID, when valid, receives the Owner role.
	OwnerUserID uuid.NullUUID
}

// ProvisionReport summarises ProvisionTenant.
type ProvisionReport struct {
	TenantID      uuid.UUID  `json:"tenant_id"`
	RolesCloned   int        `json:"roles_cloned"`
	Sync          SyncReport `json:"sync"`
	Seed          SeedReport `json:"seed"`
	OwnerAssigned bool       `json:"owner_assigned"`
}

// Provisioner runs the tenant creation workflow: template clones, a tenant
// scoped sync to fill them, domain role seeding and the owner assignment.
// Each step is idempotent so the whole workflow can be retried.
type Provisioner struct {
	repo       Repository
	reconciler *Reconciler
	seeder     *DomainSeeder
	cache      Invalidator
	logger     *slog.Logger
}

// NewProvisioner constructs a Provisioner.
func NewProvisioner(repo Repository, reconciler *Reconciler, seeder *DomainSeeder, cache Invalidator, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{repo: repo, reconciler: reconciler, seeder: seeder, cache: cache, logger: logger}
}

// ProvisionTenant provisions roles for req.TenantID.
func (p *Provisioner) ProvisionTenant(ctx context.Context, req ProvisionRequest) (ProvisionReport, error) {
	report := ProvisionReport{TenantID: req.TenantID}
	if req.TenantID == uuid.Nil {
		return report, fmt.Errorf("%w: tenant id required", ErrValidation)
	}
	logger := p.logger.With(slog.String("tenant_id", req.TenantID.String()))

	defs := p.reconciler.Templates()
	cloned, err := p.cloneTemplates(ctx, req.TenantID, defs)
	if err != nil {
		return report, err
	}
	report.RolesCloned = cloned

	catalog, err := p.repo.ListPermissions(ctx)
	if err != nil {
		return report, err
	}
	report.Sync, err = p.reconciler.Sync(ctx, catalog, defs, SyncOptions{TenantID: req.TenantID})
	if err != nil {
		return report, err
	}

	report.Seed, err = p.seeder.SeedTenant(ctx, req.TenantID)
	if err != nil {
		return report, err
	}

	if req.OwnerUserID.Valid {
		report.OwnerAssigned, err = p.assignOwner(ctx, req.TenantID, req.OwnerUserID.UUID)
		if err != nil {
			return report, err
		}
		if report.OwnerAssigned && p.cache != nil {
			if err := p.cache.Bump(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("rbac cache bump", slog.Any("error", err))
			}
		}
	}

	logger.Info("rbac tenant provisioned",
		slog.Int("roles", report.RolesCloned+report.Seed.RolesCreated),
		slog.Int("added", report.Sync.RolePermissionsAdded+report.Seed.PermissionsGranted),
		slog.Bool("owner_assigned", report.OwnerAssigned),
	)
	return report, nil
}

// cloneTemplates creates one tenant role per template, linked by template id.
func (p *Provisioner) cloneTemplates(ctx context.Context, tenantID uuid.UUID, defs []TemplateDef) (int, error) {
	cloned := 0
	err := p.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cloned = 0
		for _, def := range defs {
			if def.Validate() != nil {
				continue
			}
			tmpl, _, err := tx.InsertTemplate(ctx, RoleTemplate{
				Name:         def.Name,
				Description:  def.Description,
				IsSystem:     def.IsSystem,
				DisplayOrder: def.DisplayOrder,
			})
			if err != nil {
				return err
			}
			_, created, err := tx.InsertRole(ctx, Role{
				TenantID:     tenantID,
				Name:         tmpl.Name,
				Description:  tmpl.Description,
				IsSystem:     tmpl.IsSystem,
				IsDefault:    tmpl.Name == TemplateViewer,
				DisplayOrder: tmpl.DisplayOrder,
				TemplateID:   uuid.NullUUID{UUID: tmpl.ID, Valid: true},
			})
			if err != nil {
				return fmt.Errorf("clone %q: %w", def.Name, err)
			}
			if created {
				cloned++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rbac: clone templates for %s: %w", tenantID, err)
	}
	return cloned, nil
}

func (p *Provisioner) assignOwner(ctx context.Context, tenantID, userID uuid.UUID) (bool, error) {
	var assigned bool
	err := p.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		owner, err := tx.RoleByName(ctx, tenantID, TemplateOwner)
		if err != nil {
			return err
		}
		assigned, err = tx.AssignUserRole(ctx, UserRole{TenantID: tenantID, UserID: userID, RoleID: owner.ID})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("rbac: assign owner for %s: %w", tenantID, err)
	}
	return assigned, nil
}
