package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/tadhub/tadhub/internal/platform/httpx"
)

// Handler exposes the catalog, templates, permission checks and on-demand sync over JSON.
type Handler struct {
	logger     *slog.Logger
	repo       Repository
	reconciler *Reconciler
	authorizer *Authorizer
	rbac       Middleware
	syncLimit  func(http.Handler) http.Handler
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, repo Repository, reconciler *Reconciler, authorizer *Authorizer, rbac Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := httprate.Limit(2, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		if p, ok := PrincipalFromContext(r.Context()); ok {
			return "tenant:" + p.TenantID.String(), nil
		}
		return httprate.KeyByIP(r)
	}))
	return &Handler{
		logger:     logger,
		repo:       repo,
		reconciler: reconciler,
		authorizer: authorizer,
		rbac:       rbac,
		syncLimit:  limiter,
	}
}

// MountRoutes registers rbac routes. The router must already run Middleware.Identify.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me/permissions", h.myPermissions)
	r.Get("/check", h.check)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(PermRolesView, PermRolesManage))
		r.Get("/permissions", h.listPermissions)
		r.Get("/templates", h.listTemplates)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(PermRolesManage))
		r.Use(h.syncLimit)
		r.Post("/sync", h.sync)
	})
}

type permissionResponse struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Module       string `json:"module"`
	Scope        Scope  `json:"scope"`
	DisplayOrder int    `json:"display_order"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.repo.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, p := range perms {
		if !p.Scope.Tenantable() {
			continue
		}
		out = append(out, permissionResponse{
			Name:         p.Name,
			Description:  p.Description,
			Module:       p.Module,
			Scope:        p.Scope,
			DisplayOrder: p.DisplayOrder,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

type templateResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	IsSystem    bool     `json:"is_system"`
	Selector    string   `json:"selector,omitempty"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.repo.ListTemplates(r.Context())
	if err != nil {
		h.fail(w, "list templates", err)
		return
	}
	selectors := make(map[string]string)
	for _, def := range h.reconciler.Templates() {
		selectors[def.Name] = def.Selector.String()
	}
	out := make([]templateResponse, 0, len(templates))
	for _, t := range templates {
		names, err := h.repo.TemplatePermissionNames(r.Context(), t.ID)
		if err != nil {
			h.fail(w, "template permissions", err)
			return
		}
		if names == nil {
			names = []string{}
		}
		out = append(out, templateResponse{
			ID:          t.ID.String(),
			Name:        t.Name,
			Description: t.Description,
			IsSystem:    t.IsSystem,
			Selector:    selectors[t.Name],
			Permissions: names,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"templates": out})
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	perms, err := h.authorizer.UserPermissions(r.Context(), p.TenantID, p.UserID)
	if err != nil {
		h.fail(w, "user permissions", err)
		return
	}
	if perms.Roles == nil {
		perms.Roles = []string{}
	}
	if perms.Permissions == nil {
		perms.Permissions = []string{}
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	key := strings.TrimSpace(r.URL.Query().Get("permission"))
	if key == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "permission query parameter required")
		return
	}
	allowed := h.authorizer.HasPermission(r.Context(), p.UserID, p.TenantID, key)
	httpx.JSON(w, http.StatusOK, map[string]any{"permission": key, "allowed": allowed})
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	report, err := h.reconciler.SyncNow(r.Context(), SyncOptions{TenantID: p.TenantID})
	if errors.Is(err, ErrSyncInProgress) {
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
		return
	}
	if err != nil {
		h.fail(w, "sync", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrValidation) && !errors.Is(err, ErrConflict) {
		h.logger.Error("rbac "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
