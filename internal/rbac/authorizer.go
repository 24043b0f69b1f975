package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Authorizer answers permission checks for a user inside a tenant.
type Authorizer struct {
	repo   Repository
	cache  *Cache
	logger *slog.Logger
	loads  singleflight.Group
}

// NewAuthorizer constructs an Authorizer. cache may be nil.
func NewAuthorizer(repo Repository, cache *Cache, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{repo: repo, cache: cache, logger: logger}
}

// UserPermissions returns the roles and permission names of a user in a tenant.
// Concurrent misses for the same user share one store load.
func (a *Authorizer) UserPermissions(ctx context.Context, tenantID, userID uuid.UUID) (UserPermissions, error) {
	stamp, err := a.cache.Stamp(ctx, tenantID, userID)
	cacheOK := err == nil
	if err != nil {
		a.logger.Warn("rbac cache stamp", slog.Any("error", err))
	} else if cached, ok, err := a.cache.Get(ctx, stamp, tenantID, userID); err != nil {
		a.logger.Warn("rbac cache read", slog.Any("error", err))
	} else if ok {
		return cached, nil
	}

	key := fmt.Sprintf("%s:%s:%d:%d", tenantID, userID, stamp.Global, stamp.User)
	ch := a.loads.DoChan(key, func() (interface{}, error) {
		loadCtx := context.WithoutCancel(ctx)
		perms, err := a.repo.UserPermissions(loadCtx, tenantID, userID)
		if err != nil {
			return UserPermissions{}, err
		}
		if !cacheOK {
			return perms, nil
		}
		if err := a.cache.Set(loadCtx, stamp, perms); err != nil {
			a.logger.Warn("rbac cache write", slog.Any("error", err))
		}
		return perms, nil
	})
	select {
	case <-ctx.Done():
		return UserPermissions{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return UserPermissions{}, res.Err
		}
		return res.Val.(UserPermissions), nil
	}
}

// HasPermission reports whether the user holds key in the tenant. Unknown
// users, tenants or keys and lookup failures all answer false.
func (a *Authorizer) HasPermission(ctx context.Context, userID, tenantID uuid.UUID, key string) bool {
	return a.HasAllPermissions(ctx, userID, tenantID, key)
}

// HasAnyPermission reports whether the user holds at least one of keys.
func (a *Authorizer) HasAnyPermission(ctx context.Context, userID, tenantID uuid.UUID, keys ...string) bool {
	required := normalizePermissions(keys)
	granted, ok := a.granted(ctx, userID, tenantID, required)
	if !ok {
		return false
	}
	return hasAnyPermission(granted, required)
}

// HasAllPermissions reports whether the user holds every one of keys.
func (a *Authorizer) HasAllPermissions(ctx context.Context, userID, tenantID uuid.UUID, keys ...string) bool {
	required := normalizePermissions(keys)
	granted, ok := a.granted(ctx, userID, tenantID, required)
	if !ok {
		return false
	}
	return hasAllPermissions(granted, required)
}

func (a *Authorizer) granted(ctx context.Context, userID, tenantID uuid.UUID, required []string) ([]string, bool) {
	if userID == uuid.Nil || tenantID == uuid.Nil || len(required) == 0 {
		return nil, false
	}
	perms, err := a.UserPermissions(ctx, tenantID, userID)
	if err != nil {
		a.logger.Warn("rbac permission lookup",
			slog.String("tenant_id", tenantID.String()),
			slog.String("user_id", userID.String()),
			slog.Any("error", err),
		)
		return nil, false
	}
	return perms.Permissions, true
}

// InvalidateUser orphans the cached sets of one user.
func (a *Authorizer) InvalidateUser(ctx context.Context, tenantID, userID uuid.UUID) error {
	return a.cache.Invalidate(ctx, tenantID, userID)
}

// Bump drops every cached set.
func (a *Authorizer) Bump(ctx context.Context) error {
	return a.cache.Bump(ctx)
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := unique[p]; dup {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(granted []string, required []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[p] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted []string, required []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[p] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
