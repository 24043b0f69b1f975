package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// SeedReport summarises one domain role seeding run for a tenant.
type SeedReport struct {
	TenantID           uuid.UUID `json:"tenant_id"`
	RolesCreated       int       `json:"roles_created"`
	PermissionsGranted int       `json:"permissions_granted"`
	Unresolved         []string  `json:"unresolved,omitempty"`
}

// DomainSeeder provisions the fixed vertical roles of a tenant from static
// permission lists. It is independent of template selectors.
type DomainSeeder struct {
	repo    Repository
	logger  *slog.Logger
	cache   Invalidator
	metrics GrantRecorder
}

// NewDomainSeeder constructs a DomainSeeder. cache and metrics may be nil.
func NewDomainSeeder(repo Repository, logger *slog.Logger, cache Invalidator, metrics GrantRecorder) *DomainSeeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &DomainSeeder{repo: repo, logger: logger, cache: cache, metrics: metrics}
}

// SeedTenant seeds AgencyRoles for the tenant.
func (s *DomainSeeder) SeedTenant(ctx context.Context, tenantID uuid.UUID) (SeedReport, error) {
	return s.SeedTenantRoles(ctx, tenantID, AgencyRoles())
}

// SeedTenantRoles creates each missing role with no template link and grants
// the resolvable part of its static list. Keys absent from the catalog are
// logged and skipped. Every step is insert-if-absent, so a retry resumes a
// partial run and a later call picks up keys added to the catalog since.
func (s *DomainSeeder) SeedTenantRoles(ctx context.Context, tenantID uuid.UUID, defs []DomainRoleDef) (SeedReport, error) {
	report := SeedReport{TenantID: tenantID}
	if tenantID == uuid.Nil {
		return report, fmt.Errorf("%w: tenant id required", ErrValidation)
	}
	for _, d := range defs {
		if strings.TrimSpace(d.Name) == "" {
			return report, fmt.Errorf("%w: domain role name required", ErrValidation)
		}
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		report = SeedReport{TenantID: tenantID}

		var keys []string
		for _, d := range defs {
			keys = append(keys, d.Permissions...)
		}
		resolved, err := tx.PermissionsByName(ctx, keys)
		if err != nil {
			return err
		}

		for _, d := range defs {
			role, created, err := tx.InsertRole(ctx, Role{
				TenantID:     tenantID,
				Name:         d.Name,
				Description:  d.Description,
				DisplayOrder: d.DisplayOrder,
			})
			if err != nil {
				return fmt.Errorf("role %q: %w", d.Name, err)
			}
			if created {
				report.RolesCreated++
			}

			ids := make([]uuid.UUID, 0, len(d.Permissions))
			for _, key := range d.Permissions {
				p, ok := resolved[key]
				if !ok || !p.Scope.Tenantable() {
					s.logger.Warn("rbac domain role permission unresolved",
						slog.String("tenant_id", tenantID.String()),
						slog.String("role", d.Name),
						slog.String("permission", key),
					)
					report.Unresolved = append(report.Unresolved, d.Name+":"+key)
					continue
				}
				ids = append(ids, p.ID)
			}
			n, err := tx.GrantRolePermissions(ctx, tenantID, role.ID, ids)
			if err != nil {
				return fmt.Errorf("role %q: %w", d.Name, err)
			}
			report.PermissionsGranted += n
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("rbac: seed tenant %s: %w", tenantID, err)
	}

	if s.metrics != nil {
		s.metrics.AddGrants("domain", report.PermissionsGranted)
	}
	if report.PermissionsGranted > 0 && s.cache != nil {
		if err := s.cache.Bump(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("rbac cache bump", slog.Any("error", err))
		}
	}
	s.logger.Info("rbac domain roles seeded",
		slog.String("tenant_id", tenantID.String()),
		slog.Int("roles", report.RolesCreated),
		slog.Int("added", report.PermissionsGranted),
		slog.Int("unresolved", len(report.Unresolved)),
	)
	return report, nil
}
