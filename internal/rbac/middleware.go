package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/tadhub/tadhub/internal/platform/httpx"
)

// Checker is the permission gate consulted by Middleware.
type Checker interface {
	HasAnyPermission(ctx context.Context, userID, tenantID uuid.UUID, keys ...string) bool
	HasAllPermissions(ctx context.Context, userID, tenantID uuid.UUID, keys ...string) bool
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Checker Checker
	Logger  *slog.Logger
}

// Identify resolves the request principal from identity headers.
func (m Middleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := PrincipalFromRequest(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require any", perms, m.Checker.HasAnyPermission)
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require all", perms, m.Checker.HasAllPermissions)
}

func (m Middleware) require(msg string, perms []string, check func(context.Context, uuid.UUID, uuid.UUID, ...string) bool) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if check(r.Context(), p.UserID, p.TenantID, normalized...) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Debug(msg,
					slog.String("tenant_id", p.TenantID.String()),
					slog.String("user_id", p.UserID.String()),
					slog.Any("permissions", normalized),
				)
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}
