package rbac

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tadhub/tadhub/internal/platform/httpx"
)

// Identity headers set by the upstream gateway after authentication.
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
}

type principalKey struct{}

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by Identify.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// PrincipalFromRequest parses the identity headers.
func PrincipalFromRequest(r *http.Request) (Principal, error) {
	tenant, err := parseHeaderID(r, HeaderTenantID)
	if err != nil {
		return Principal{}, err
	}
	user, err := parseHeaderID(r, HeaderUserID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{TenantID: tenant, UserID: user}, nil
}

func parseHeaderID(r *http.Request, header string) (uuid.UUID, error) {
	raw := strings.TrimSpace(r.Header.Get(header))
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: missing %s", httpx.ErrUnauthorized, header)
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", httpx.ErrUnauthorized, header)
	}
	return id, nil
}
