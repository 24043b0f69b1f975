package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tadhub/tadhub/internal/platform/lease"
)

// ErrSyncInProgress is returned by SyncNow when another instance holds the sync lease.
var ErrSyncInProgress = fmt.Errorf("%w: template sync already running", ErrConflict)

const (
	defaultTemplateTimeout = 30 * time.Second
	defaultLeaseTTL        = 2 * time.Minute
	syncLeaseKey           = "rbac:sync"
)

// Invalidator drops cached permission sets after grants change.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// GrantRecorder receives the number of join rows written per level.
type GrantRecorder interface {
	AddGrants(level string, count int)
}

// Locker hands out exclusive leases.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*lease.Lease, error)
}

// SyncOptions narrows a sync pass.
type SyncOptions struct {
	// TenantID restricts role propagation to one tenant. Templates are always merged.
	TenantID uuid.UUID
}

// TemplateResult describes what one template's reconciliation wrote.
type TemplateResult struct {
	Template         string `json:"template"`
	Created          bool   `json:"created"`
	Desired          int    `json:"desired"`
	TemplateAdded    int    `json:"template_added"`
	DerivedRoles     int    `json:"derived_roles"`
	RolesChanged     int    `json:"roles_changed"`
	RolePermsAdded   int    `json:"role_permissions_added"`
	DurationMillisec int64  `json:"duration_ms"`
}

// SyncReport summarises a Reconciler pass.
type SyncReport struct {
	TenantID                 uuid.UUID        `json:"tenant_id,omitempty"`
	StartedAt                time.Time        `json:"started_at"`
	FinishedAt               time.Time        `json:"finished_at"`
	Templates                []TemplateResult `json:"templates"`
	Skipped                  []string         `json:"skipped,omitempty"`
	TemplatesCreated         int              `json:"templates_created"`
	TemplatePermissionsAdded int              `json:"template_permissions_added"`
	RolesChanged             int              `json:"roles_changed"`
	RolePermissionsAdded     int              `json:"role_permissions_added"`
}

// Writes returns the number of rows the pass inserted.
func (r SyncReport) Writes() int {
	return r.TemplatesCreated + r.TemplatePermissionsAdded + r.RolePermissionsAdded
}

func (r *SyncReport) add(res TemplateResult) {
	r.Templates = append(r.Templates, res)
	if res.Created {
		r.TemplatesCreated++
	}
	r.TemplatePermissionsAdded += res.TemplateAdded
	r.RolesChanged += res.RolesChanged
	r.RolePermissionsAdded += res.RolePermsAdded
}

// ReconcilerConfig wires optional collaborators of the Reconciler.
type ReconcilerConfig struct {
	Templates       []TemplateDef
	TemplateTimeout time.Duration
	LeaseTTL        time.Duration
	Locker          Locker
	Cache           Invalidator
	Metrics         GrantRecorder
}

// Reconciler merges template selector output into templates and their derived
// tenant roles. It only ever adds join rows.
type Reconciler struct {
	repo            Repository
	logger          *slog.Logger
	templates       []TemplateDef
	templateTimeout time.Duration
	leaseTTL        time.Duration
	locker          Locker
	cache           Invalidator
	metrics         GrantRecorder
}

// NewReconciler constructs a Reconciler. Templates default to DefaultTemplates.
func NewReconciler(repo Repository, logger *slog.Logger, cfg ReconcilerConfig) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Templates == nil {
		cfg.Templates = DefaultTemplates()
	}
	if cfg.TemplateTimeout <= 0 {
		cfg.TemplateTimeout = defaultTemplateTimeout
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	return &Reconciler{
		repo:            repo,
		logger:          logger,
		templates:       cfg.Templates,
		templateTimeout: cfg.TemplateTimeout,
		leaseTTL:        cfg.LeaseTTL,
		locker:          cfg.Locker,
		cache:           cfg.Cache,
		metrics:         cfg.Metrics,
	}
}

// Templates returns the configured template definitions.
func (r *Reconciler) Templates() []TemplateDef {
	return append([]TemplateDef(nil), r.templates...)
}

// SyncNow loads the current catalog and runs one pass over the configured
// templates. When a Locker is configured the pass runs under a lease and
// ErrSyncInProgress is returned if another instance already holds it.
func (r *Reconciler) SyncNow(ctx context.Context, opts SyncOptions) (SyncReport, error) {
	if r.locker != nil {
		key := syncLeaseKey
		if opts.TenantID != uuid.Nil {
			key = syncLeaseKey + ":" + opts.TenantID.String()
		}
		l, err := r.locker.Acquire(ctx, key, r.leaseTTL)
		if errors.Is(err, lease.ErrHeld) {
			return SyncReport{TenantID: opts.TenantID}, ErrSyncInProgress
		}
		if err != nil {
			return SyncReport{TenantID: opts.TenantID}, fmt.Errorf("rbac: acquire sync lease: %w", err)
		}
		defer func() {
			if err := l.Release(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("rbac sync lease release", slog.Any("error", err))
			}
		}()
	}
	catalog, err := r.repo.ListPermissions(ctx)
	if err != nil {
		return SyncReport{TenantID: opts.TenantID}, err
	}
	return r.Sync(ctx, catalog, r.templates, opts)
}

// Sync reconciles every template definition against catalog. Each template
// commits in its own transaction; cancellation is honoured between templates
// only. On failure the report covers the templates committed so far.
func (r *Reconciler) Sync(ctx context.Context, catalog []Permission, defs []TemplateDef, opts SyncOptions) (SyncReport, error) {
	report := SyncReport{TenantID: opts.TenantID, StartedAt: time.Now().UTC()}

	valid := make([]TemplateDef, 0, len(defs))
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			r.logger.Warn("rbac template skipped", slog.String("template", def.Name), slog.Any("error", err))
			report.Skipped = append(report.Skipped, def.Name)
			continue
		}
		if _, dup := seen[def.Name]; dup {
			r.logger.Warn("rbac template skipped", slog.String("template", def.Name), slog.String("reason", "duplicate name"))
			report.Skipped = append(report.Skipped, def.Name)
			continue
		}
		seen[def.Name] = struct{}{}
		valid = append(valid, def)
	}

	var runErr error
	for _, def := range valid {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		res, err := r.syncTemplate(ctx, catalog, def, opts.TenantID)
		if err != nil {
			runErr = fmt.Errorf("rbac: sync template %q: %w", def.Name, err)
			break
		}
		report.add(res)
		if res.Created || res.TemplateAdded > 0 || res.RolePermsAdded > 0 {
			r.logger.Info("rbac template synced",
				slog.String("template", def.Name),
				slog.Bool("created", res.Created),
				slog.Int("added", res.TemplateAdded),
				slog.Int("roles", res.RolesChanged),
				slog.Int("role_permissions", res.RolePermsAdded),
			)
		}
	}

	report.FinishedAt = time.Now().UTC()
	r.record(ctx, report)
	attrs := []any{
		slog.Int("templates", len(report.Templates)),
		slog.Int("template_permissions", report.TemplatePermissionsAdded),
		slog.Int("role_permissions", report.RolePermissionsAdded),
		slog.Int("skipped", len(report.Skipped)),
	}
	if opts.TenantID != uuid.Nil {
		attrs = append(attrs, slog.String("tenant_id", opts.TenantID.String()))
	}
	if runErr != nil {
		r.logger.Error("rbac sync aborted", append(attrs, slog.Any("error", runErr))...)
		return report, runErr
	}
	r.logger.Info("rbac sync complete", attrs...)
	return report, nil
}

func (r *Reconciler) syncTemplate(ctx context.Context, catalog []Permission, def TemplateDef, tenantID uuid.UUID) (TemplateResult, error) {
	start := time.Now()
	desired := def.Desired(catalog)
	res := TemplateResult{Template: def.Name, Desired: len(desired)}

	// A started template finishes even if the caller is cancelled meanwhile.
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.templateTimeout)
	defer cancel()

	err := r.repo.WithTx(txCtx, func(ctx context.Context, tx TxRepository) error {
		res = TemplateResult{Template: def.Name, Desired: len(desired)}

		tmpl, created, err := tx.InsertTemplate(ctx, RoleTemplate{
			Name:         def.Name,
			Description:  def.Description,
			IsSystem:     def.IsSystem,
			DisplayOrder: def.DisplayOrder,
		})
		if err != nil {
			return err
		}
		res.Created = created

		current := map[uuid.UUID]struct{}{}
		if !created {
			if current, err = tx.TemplatePermissionIDs(ctx, tmpl.ID); err != nil {
				return err
			}
		}
		if res.TemplateAdded, err = tx.GrantTemplatePermissions(ctx, tmpl.ID, missingIDs(desired, current)); err != nil {
			return err
		}

		candidates, err := tx.DerivedRoleCandidates(ctx, tmpl, tenantID)
		if err != nil {
			return err
		}
		derived := make([]Role, 0, len(candidates))
		roleIDs := make([]uuid.UUID, 0, len(candidates))
		for _, role := range candidates {
			if !IsDerivedFrom(role, tmpl) {
				continue
			}
			if tenantID != uuid.Nil && role.TenantID != tenantID {
				continue
			}
			derived = append(derived, role)
			roleIDs = append(roleIDs, role.ID)
		}
		res.DerivedRoles = len(derived)
		if len(derived) == 0 {
			return nil
		}

		granted, err := tx.RolePermissionIDs(ctx, roleIDs)
		if err != nil {
			return err
		}
		for _, role := range derived {
			missing := missingIDs(desired, granted[role.ID])
			if len(missing) == 0 {
				continue
			}
			n, err := tx.GrantRolePermissions(ctx, role.TenantID, role.ID, missing)
			if err != nil {
				return err
			}
			if n > 0 {
				res.RolesChanged++
				res.RolePermsAdded += n
			}
		}
		return nil
	})
	if err != nil {
		return TemplateResult{}, err
	}
	res.DurationMillisec = time.Since(start).Milliseconds()
	return res, nil
}

func (r *Reconciler) record(ctx context.Context, report SyncReport) {
	if r.metrics != nil {
		r.metrics.AddGrants("template", report.TemplatePermissionsAdded)
		r.metrics.AddGrants("role", report.RolePermissionsAdded)
	}
	if r.cache == nil || report.RolePermissionsAdded == 0 {
		return
	}
	if err := r.cache.Bump(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn("rbac cache bump", slog.Any("error", err))
	}
}

// missingIDs returns the ids of want absent from have, preserving want's order.
func missingIDs(want []Permission, have map[uuid.UUID]struct{}) []uuid.UUID {
	var out []uuid.UUID
	for _, p := range want {
		if _, ok := have[p.ID]; ok {
			continue
		}
		out = append(out, p.ID)
	}
	return out
}
