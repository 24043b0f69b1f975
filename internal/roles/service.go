package roles

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tadhub/tadhub/internal/rbac"
)

// Repository defines data access methods for roles.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	ListRoles(ctx context.Context, tenantID uuid.UUID) ([]Role, error)
	GetRole(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error)
	ListUserRoles(ctx context.Context, tenantID, userID uuid.UUID) ([]Role, error)
}

// TxRepository exposes transactional role writes. Every method filters by tenant.
type TxRepository interface {
	GetRole(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error)
	NameTaken(ctx context.Context, tenantID uuid.UUID, name string, exclude uuid.UUID) (bool, error)
	InsertRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	SoftDeleteRole(ctx context.Context, tenantID, roleID uuid.UUID, at time.Time) error
	ResolvePermissions(ctx context.Context, names []string) (map[string]uuid.UUID, error)
	ReplaceRolePermissions(ctx context.Context, tenantID, roleID uuid.UUID, permissionIDs []uuid.UUID) error
	RoleMembers(ctx context.Context, tenantID, roleID uuid.UUID) ([]uuid.UUID, error)
	InsertAssignment(ctx context.Context, a Assignment) (bool, error)
	DeleteAssignment(ctx context.Context, tenantID, userID, roleID uuid.UUID) (bool, error)
}

// Invalidator drops cached permission sets of a user.
type Invalidator interface {
	InvalidateUser(ctx context.Context, tenantID, userID uuid.UUID) error
}

// Service handles custom role management and role assignment.
type Service struct {
	repo     Repository
	cache    Invalidator
	logger   *slog.Logger
	validate *validator.Validate
	reserved map[string]struct{}
}

// NewService builds Service instance. Role names equal to a template name are
// reserved, since an unlinked role with such a name is treated as derived.
func NewService(repo Repository, cache Invalidator, logger *slog.Logger, templates []rbac.TemplateDef) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	reserved := make(map[string]struct{}, len(templates))
	for _, t := range templates {
		reserved[t.Name] = struct{}{}
	}
	return &Service{repo: repo, cache: cache, logger: logger, validate: validator.New(), reserved: reserved}
}

// ListRoles returns the live roles of a tenant.
func (s *Service) ListRoles(ctx context.Context, tenantID uuid.UUID) ([]Role, error) {
	return s.repo.ListRoles(ctx, tenantID)
}

// GetRole returns one role of a tenant.
func (s *Service) GetRole(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error) {
	return s.repo.GetRole(ctx, tenantID, roleID)
}

// ListUserRoles returns the roles assigned to a user.
func (s *Service) ListUserRoles(ctx context.Context, tenantID, userID uuid.UUID) ([]Role, error) {
	return s.repo.ListUserRoles(ctx, tenantID, userID)
}

// CreateRole inserts a custom role with an explicit permission set.
func (s *Service) CreateRole(ctx context.Context, tenantID uuid.UUID, in CreateRoleInput) (Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := s.validate.Struct(in); err != nil {
		return Role{}, fmt.Errorf("%w: %v", rbac.ErrValidation, err)
	}
	if err := s.checkName(in.Name); err != nil {
		return Role{}, err
	}

	var created Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		taken, err := tx.NameTaken(ctx, tenantID, in.Name, uuid.Nil)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: role %q already exists", rbac.ErrConflict, in.Name)
		}
		ids, err := resolve(ctx, tx, in.Permissions)
		if err != nil {
			return err
		}
		created, err = tx.InsertRole(ctx, Role{
			TenantID:     tenantID,
			Name:         in.Name,
			Description:  in.Description,
			DisplayOrder: in.DisplayOrder,
		})
		if err != nil {
			return err
		}
		if err := tx.ReplaceRolePermissions(ctx, tenantID, created.ID, ids); err != nil {
			return err
		}
		created.Permissions = sortedKeys(in.Permissions)
		return nil
	})
	if err != nil {
		return Role{}, err
	}
	s.logger.Info("role created", slog.String("tenant_id", tenantID.String()), slog.String("role", created.Name))
	return created, nil
}

// UpdateRole edits a non-system role. A non-nil Permissions replaces the
// role's grants, which is how operators revoke access by hand.
func (s *Service) UpdateRole(ctx context.Context, tenantID, roleID uuid.UUID, in UpdateRoleInput) (Role, error) {
	if err := s.validate.Struct(in); err != nil {
		return Role{}, fmt.Errorf("%w: %v", rbac.ErrValidation, err)
	}

	var (
		updated Role
		members []uuid.UUID
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRole(ctx, tenantID, roleID)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return fmt.Errorf("%w: system role %q cannot be modified", rbac.ErrValidation, role.Name)
		}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return fmt.Errorf("%w: role name required", rbac.ErrValidation)
			}
			if name != role.Name {
				if err := s.checkName(name); err != nil {
					return err
				}
				taken, err := tx.NameTaken(ctx, tenantID, name, role.ID)
				if err != nil {
					return err
				}
				if taken {
					return fmt.Errorf("%w: role %q already exists", rbac.ErrConflict, name)
				}
				role.Name = name
			}
		}
		if in.Description != nil {
			role.Description = strings.TrimSpace(*in.Description)
		}
		if in.DisplayOrder != nil {
			role.DisplayOrder = *in.DisplayOrder
		}
		if updated, err = tx.UpdateRole(ctx, role); err != nil {
			return err
		}
		updated.Permissions = role.Permissions
		if in.Permissions == nil {
			return nil
		}
		ids, err := resolve(ctx, tx, in.Permissions)
		if err != nil {
			return err
		}
		if err := tx.ReplaceRolePermissions(ctx, tenantID, role.ID, ids); err != nil {
			return err
		}
		updated.Permissions = sortedKeys(in.Permissions)
		members, err = tx.RoleMembers(ctx, tenantID, role.ID)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	s.invalidate(ctx, tenantID, members...)
	return updated, nil
}

// DeleteRole soft deletes a non-system role that no user holds.
func (s *Service) DeleteRole(ctx context.Context, tenantID, roleID uuid.UUID) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRole(ctx, tenantID, roleID)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return fmt.Errorf("%w: system role %q cannot be deleted", rbac.ErrValidation, role.Name)
		}
		members, err := tx.RoleMembers(ctx, tenantID, roleID)
		if err != nil {
			return err
		}
		if len(members) > 0 {
			return fmt.Errorf("%w: role %q is assigned to %d users", rbac.ErrValidation, role.Name, len(members))
		}
		return tx.SoftDeleteRole(ctx, tenantID, roleID, time.Now().UTC())
	})
	if err != nil {
		return err
	}
	s.logger.Info("role deleted", slog.String("tenant_id", tenantID.String()), slog.String("role_id", roleID.String()))
	return nil
}

// AssignRole gives a role to a user. Assigning a held role is a conflict.
func (s *Service) AssignRole(ctx context.Context, tenantID, userID, roleID uuid.UUID, assignedBy uuid.NullUUID) error {
	if userID == uuid.Nil {
		return fmt.Errorf("%w: user id required", rbac.ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetRole(ctx, tenantID, roleID); err != nil {
			return err
		}
		inserted, err := tx.InsertAssignment(ctx, Assignment{
			TenantID:   tenantID,
			UserID:     userID,
			RoleID:     roleID,
			AssignedAt: time.Now().UTC(),
			AssignedBy: assignedBy,
		})
		if err != nil {
			return err
		}
		if !inserted {
			return fmt.Errorf("%w: role already assigned", rbac.ErrConflict)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, tenantID, userID)
	return nil
}

// RemoveRole takes a role away from a user.
func (s *Service) RemoveRole(ctx context.Context, tenantID, userID, roleID uuid.UUID) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		removed, err := tx.DeleteAssignment(ctx, tenantID, userID, roleID)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: role assignment", rbac.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, tenantID, userID)
	return nil
}

func (s *Service) checkName(name string) error {
	if _, ok := s.reserved[name]; ok {
		return fmt.Errorf("%w: role name %q is reserved for a template", rbac.ErrValidation, name)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, tenantID uuid.UUID, users ...uuid.UUID) {
	if s.cache == nil {
		return
	}
	for _, u := range users {
		if err := s.cache.InvalidateUser(ctx, tenantID, u); err != nil {
			s.logger.Warn("role cache invalidate", slog.String("user_id", u.String()), slog.Any("error", err))
		}
	}
}

func resolve(ctx context.Context, tx TxRepository, names []string) ([]uuid.UUID, error) {
	keys := sortedKeys(names)
	found, err := tx.ResolvePermissions(ctx, keys)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(keys))
	var unknown []string
	for _, k := range keys {
		id, ok := found[k]
		if !ok {
			unknown = append(unknown, k)
			continue
		}
		ids = append(ids, id)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: unknown permissions %s", rbac.ErrValidation, strings.Join(unknown, ", "))
	}
	return ids, nil
}

func sortedKeys(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
