package rbac

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tadhub/tadhub/internal/platform/db"
)

// Repository is the store consumed by the provisioning engine and the read path.
type Repository interface {
	// Write operations (transactional)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	// Read operations
	ListPermissions(ctx context.Context) ([]Permission, error)
	ListTemplates(ctx context.Context) ([]RoleTemplate, error)
	TemplatePermissionNames(ctx context.Context, templateID uuid.UUID) ([]string, error)
	UserPermissions(ctx context.Context, tenantID, userID uuid.UUID) (UserPermissions, error)
}

// TxRepository exposes the writes of one provisioning transaction. Inserts
// are insert-if-absent against a unique key and report whether a row was
// written, so concurrent or replayed runs never duplicate a grant.
type TxRepository interface {
	InsertPermission(ctx context.Context, p Permission) (bool, error)
	PermissionsByName(ctx context.Context, names []string) (map[string]Permission, error)

	TemplateByName(ctx context.Context, name string) (RoleTemplate, error)
	InsertTemplate(ctx context.Context, t RoleTemplate) (RoleTemplate, bool, error)
	TemplatePermissionIDs(ctx context.Context, templateID uuid.UUID) (map[uuid.UUID]struct{}, error)
	GrantTemplatePermissions(ctx context.Context, templateID uuid.UUID, permissionIDs []uuid.UUID) (int, error)

	// DerivedRoleCandidates returns live roles that may be derived from tmpl.
	// A zero tenantID means every tenant.
	DerivedRoleCandidates(ctx context.Context, tmpl RoleTemplate, tenantID uuid.UUID) ([]Role, error)
	RolePermissionIDs(ctx context.Context, roleIDs []uuid.UUID) (map[uuid.UUID]map[uuid.UUID]struct{}, error)
	GrantRolePermissions(ctx context.Context, tenantID, roleID uuid.UUID, permissionIDs []uuid.UUID) (int, error)

	RoleByName(ctx context.Context, tenantID uuid.UUID, name string) (Role, error)
	InsertRole(ctx context.Context, r Role) (Role, bool, error)
	AssignUserRole(ctx context.Context, ur UserRole) (bool, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// repository implements Repository using pgxpool.
type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a Postgres backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// txRepository implements TxRepository.
type txRepository struct {
	tx querier
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	return storeErr("rbac: tx", err)
}

const permissionColumns = `id, name, description, module, scope, display_order, created_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	var scope string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Module, &scope, &p.DisplayOrder, &p.CreatedAt); err != nil {
		return Permission{}, err
	}
	p.Scope = Scope(scope)
	return p, nil
}

// ListPermissions returns the full catalog ordered by module then display order.
func (r *repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY module, display_order, name`)
	if err != nil {
		return nil, storeErr("rbac: list permissions", err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("rbac: list permissions", err)
	}
	return perms, nil
}

const templateColumns = `id, name, description, is_system, display_order, created_at`

func scanTemplate(row pgx.Row) (RoleTemplate, error) {
	var t RoleTemplate
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.IsSystem, &t.DisplayOrder, &t.CreatedAt)
	return t, err
}

// ListTemplates returns role templates ordered for display.
func (r *repository) ListTemplates(ctx context.Context) ([]RoleTemplate, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+templateColumns+` FROM role_templates ORDER BY display_order, name`)
	if err != nil {
		return nil, storeErr("rbac: list templates", err)
	}
	defer rows.Close()
	var templates []RoleTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("rbac: list templates", err)
	}
	return templates, nil
}

// TemplatePermissionNames returns the materialized permission set of a template.
func (r *repository) TemplatePermissionNames(ctx context.Context, templateID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.name
		FROM role_template_permissions tp
		JOIN permissions p ON p.id = tp.permission_id
		WHERE tp.template_id = $1
		ORDER BY p.name`, templateID)
	if err != nil {
		return nil, storeErr("rbac: template permissions", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storeErr("rbac: template permissions", err)
	}
	return names, nil
}

// UserPermissions resolves the roles and permission names of a user inside one tenant.
func (r *repository) UserPermissions(ctx context.Context, tenantID, userID uuid.UUID) (UserPermissions, error) {
	out := UserPermissions{TenantID: tenantID, UserID: userID}

	rows, err := r.pool.Query(ctx, `
		SELECT r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id AND r.tenant_id = ur.tenant_id
		WHERE ur.tenant_id = $1 AND ur.user_id = $2 AND r.deleted_at IS NULL
		ORDER BY r.name`, tenantID, userID)
	if err != nil {
		return out, storeErr("rbac: user roles", err)
	}
	out.Roles, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return out, storeErr("rbac: user roles", err)
	}
	if len(out.Roles) == 0 {
		return out, nil
	}

	rows, err = r.pool.Query(ctx, `
		SELECT DISTINCT p.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id AND r.tenant_id = ur.tenant_id AND r.deleted_at IS NULL
		JOIN role_permissions rp ON rp.role_id = r.id AND rp.tenant_id = ur.tenant_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.tenant_id = $1 AND ur.user_id = $2
		ORDER BY p.name`, tenantID, userID)
	if err != nil {
		return out, storeErr("rbac: user permissions", err)
	}
	out.Permissions, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return out, storeErr("rbac: user permissions", err)
	}
	return out, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
