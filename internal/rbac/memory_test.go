package rbac

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type userRoleKey struct {
	tenant, user, role uuid.UUID
}

type memoryState struct {
	permissions   map[string]Permission
	templates     map[string]RoleTemplate
	templatePerms map[uuid.UUID]map[uuid.UUID]struct{}
	roles         map[uuid.UUID]Role
	rolePerms     map[uuid.UUID]map[uuid.UUID]struct{}
	userRoles     map[userRoleKey]UserRole
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		permissions:   make(map[string]Permission, len(s.permissions)),
		templates:     make(map[string]RoleTemplate, len(s.templates)),
		templatePerms: make(map[uuid.UUID]map[uuid.UUID]struct{}, len(s.templatePerms)),
		roles:         make(map[uuid.UUID]Role, len(s.roles)),
		rolePerms:     make(map[uuid.UUID]map[uuid.UUID]struct{}, len(s.rolePerms)),
		userRoles:     make(map[userRoleKey]UserRole, len(s.userRoles)),
	}
	for k, v := range s.permissions {
		out.permissions[k] = v
	}
	for k, v := range s.templates {
		out.templates[k] = v
	}
	for k, v := range s.templatePerms {
		out.templatePerms[k] = copySet(v)
	}
	for k, v := range s.roles {
		out.roles[k] = v
	}
	for k, v := range s.rolePerms {
		out.rolePerms[k] = copySet(v)
	}
	for k, v := range s.userRoles {
		out.userRoles[k] = v
	}
	return out
}

func copySet(in map[uuid.UUID]struct{}) map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

// memoryRepo stages each transaction on a copy and swaps it in on success.
type memoryRepo struct {
	mu    sync.Mutex
	state *memoryState

	// fail, when set, is consulted before every tx write; a non-nil return aborts it.
	fail func(op, subject string) error
	// roleWrites records the tenant of every role scoped write.
	roleWrites []uuid.UUID
	userLoads  int
	// replay runs every tx callback once on a discarded copy first, the way
	// the Postgres adapter reruns a transaction aborted by a conflict.
	replay bool
}

type memoryTx struct {
	repo  *memoryRepo
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: (&memoryState{}).clone()}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replay {
		if err := fn(ctx, &memoryTx{repo: r, state: r.state.clone()}); err != nil {
			return err
		}
	}
	staged := r.state.clone()
	if err := fn(ctx, &memoryTx{repo: r, state: staged}); err != nil {
		return err
	}
	r.state = staged
	return nil
}

func (r *memoryRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Permission, 0, len(r.state.permissions))
	for _, p := range r.state.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *memoryRepo) ListTemplates(ctx context.Context) ([]RoleTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RoleTemplate, 0, len(r.state.templates))
	for _, t := range r.state.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out, nil
}

func (r *memoryRepo) TemplatePermissionNames(ctx context.Context, templateID uuid.UUID) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.names(r.state.templatePerms[templateID]), nil
}

func (r *memoryRepo) UserPermissions(ctx context.Context, tenantID, userID uuid.UUID) (UserPermissions, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userLoads++
	if r.fail != nil {
		if err := r.fail("UserPermissions", userID.String()); err != nil {
			return UserPermissions{}, err
		}
	}
	out := UserPermissions{TenantID: tenantID, UserID: userID}
	granted := map[uuid.UUID]struct{}{}
	for k := range r.state.userRoles {
		if k.tenant != tenantID || k.user != userID {
			continue
		}
		role, ok := r.state.roles[k.role]
		if !ok || role.TenantID != tenantID || role.DeletedAt != nil {
			continue
		}
		out.Roles = append(out.Roles, role.Name)
		for id := range r.state.rolePerms[role.ID] {
			granted[id] = struct{}{}
		}
	}
	sort.Strings(out.Roles)
	out.Permissions = r.state.names(granted)
	return out, nil
}

func (s *memoryState) names(ids map[uuid.UUID]struct{}) []string {
	var out []string
	for _, p := range s.permissions {
		if _, ok := ids[p.ID]; ok {
			out = append(out, p.Name)
		}
	}
	sort.Strings(out)
	return out
}

// helpers used directly by tests

func (r *memoryRepo) addPermission(name, module string, scope Scope) Permission {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := Permission{ID: uuid.New(), Name: name, Module: module, Scope: scope, CreatedAt: time.Now()}
	r.state.permissions[name] = p
	return p
}

func (r *memoryRepo) addRole(tenantID uuid.UUID, name string, templateID uuid.NullUUID) Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	role := Role{ID: uuid.New(), TenantID: tenantID, Name: name, TemplateID: templateID}
	r.state.roles[role.ID] = role
	return role
}

func (r *memoryRepo) grant(roleID uuid.UUID, names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.state.rolePerms[roleID]
	if !ok {
		set = map[uuid.UUID]struct{}{}
		r.state.rolePerms[roleID] = set
	}
	for _, n := range names {
		set[r.state.permissions[n].ID] = struct{}{}
	}
}

func (r *memoryRepo) assign(tenantID, userID, roleID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.userRoles[userRoleKey{tenantID, userID, roleID}] = UserRole{TenantID: tenantID, UserID: userID, RoleID: roleID}
}

func (r *memoryRepo) rolePermissionNames(roleID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.names(r.state.rolePerms[roleID])
}

func (r *memoryRepo) templateNamed(name string) (RoleTemplate, []string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.state.templates[name]
	if !ok {
		return RoleTemplate{}, nil, false
	}
	return t, r.state.names(r.state.templatePerms[t.ID]), true
}

func (r *memoryRepo) roleNamed(tenantID uuid.UUID, name string) (Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range r.state.roles {
		if role.TenantID == tenantID && role.Name == name && role.DeletedAt == nil {
			return role, true
		}
	}
	return Role{}, false
}

func (r *memoryRepo) countPermissions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.permissions)
}

// TxRepository

func (t *memoryTx) check(op, subject string) error {
	if t.repo.fail == nil {
		return nil
	}
	return t.repo.fail(op, subject)
}

func (t *memoryTx) InsertPermission(ctx context.Context, p Permission) (bool, error) {
	if err := t.check("InsertPermission", p.Name); err != nil {
		return false, err
	}
	if _, ok := t.state.permissions[p.Name]; ok {
		return false, nil
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	t.state.permissions[p.Name] = p
	return true, nil
}

func (t *memoryTx) PermissionsByName(ctx context.Context, names []string) (map[string]Permission, error) {
	out := make(map[string]Permission)
	for _, n := range names {
		if p, ok := t.state.permissions[n]; ok {
			out[n] = p
		}
	}
	return out, nil
}

func (t *memoryTx) TemplateByName(ctx context.Context, name string) (RoleTemplate, error) {
	tmpl, ok := t.state.templates[name]
	if !ok {
		return RoleTemplate{}, ErrNotFound
	}
	return tmpl, nil
}

func (t *memoryTx) InsertTemplate(ctx context.Context, tmpl RoleTemplate) (RoleTemplate, bool, error) {
	if err := t.check("InsertTemplate", tmpl.Name); err != nil {
		return RoleTemplate{}, false, err
	}
	if existing, ok := t.state.templates[tmpl.Name]; ok {
		return existing, false, nil
	}
	if tmpl.ID == uuid.Nil {
		tmpl.ID = uuid.New()
	}
	tmpl.CreatedAt = time.Now()
	t.state.templates[tmpl.Name] = tmpl
	return tmpl, true, nil
}

func (t *memoryTx) TemplatePermissionIDs(ctx context.Context, templateID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	return copySet(t.state.templatePerms[templateID]), nil
}

func (t *memoryTx) GrantTemplatePermissions(ctx context.Context, templateID uuid.UUID, ids []uuid.UUID) (int, error) {
	if err := t.check("GrantTemplatePermissions", templateID.String()); err != nil {
		return 0, err
	}
	set, ok := t.state.templatePerms[templateID]
	if !ok {
		set = map[uuid.UUID]struct{}{}
		t.state.templatePerms[templateID] = set
	}
	n := 0
	for _, id := range ids {
		if _, dup := set[id]; dup {
			continue
		}
		set[id] = struct{}{}
		n++
	}
	return n, nil
}

func (t *memoryTx) DerivedRoleCandidates(ctx context.Context, tmpl RoleTemplate, tenantID uuid.UUID) ([]Role, error) {
	var out []Role
	for _, role := range t.state.roles {
		if role.DeletedAt != nil {
			continue
		}
		if tenantID != uuid.Nil && role.TenantID != tenantID {
			continue
		}
		linked := role.TemplateID.Valid && role.TemplateID.UUID == tmpl.ID
		legacy := !role.TemplateID.Valid && role.Name == tmpl.Name
		if linked || legacy {
			out = append(out, role)
		}
	}
	return out, nil
}

func (t *memoryTx) RolePermissionIDs(ctx context.Context, roleIDs []uuid.UUID) (map[uuid.UUID]map[uuid.UUID]struct{}, error) {
	out := make(map[uuid.UUID]map[uuid.UUID]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		if set, ok := t.state.rolePerms[id]; ok {
			out[id] = copySet(set)
		}
	}
	return out, nil
}

func (t *memoryTx) GrantRolePermissions(ctx context.Context, tenantID, roleID uuid.UUID, ids []uuid.UUID) (int, error) {
	if err := t.check("GrantRolePermissions", roleID.String()); err != nil {
		return 0, err
	}
	role, ok := t.state.roles[roleID]
	if !ok || role.TenantID != tenantID || len(ids) == 0 {
		return 0, nil
	}
	t.repo.roleWrites = append(t.repo.roleWrites, tenantID)
	set, ok := t.state.rolePerms[roleID]
	if !ok {
		set = map[uuid.UUID]struct{}{}
		t.state.rolePerms[roleID] = set
	}
	n := 0
	for _, id := range ids {
		if _, dup := set[id]; dup {
			continue
		}
		set[id] = struct{}{}
		n++
	}
	return n, nil
}

func (t *memoryTx) RoleByName(ctx context.Context, tenantID uuid.UUID, name string) (Role, error) {
	for _, role := range t.state.roles {
		if role.TenantID == tenantID && role.Name == name && role.DeletedAt == nil {
			return role, nil
		}
	}
	return Role{}, ErrNotFound
}

func (t *memoryTx) InsertRole(ctx context.Context, r Role) (Role, bool, error) {
	if err := t.check("InsertRole", r.Name); err != nil {
		return Role{}, false, err
	}
	if existing, err := t.RoleByName(ctx, r.TenantID, r.Name); err == nil {
		return existing, false, nil
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	t.repo.roleWrites = append(t.repo.roleWrites, r.TenantID)
	t.state.roles[r.ID] = r
	return r, true, nil
}

func (t *memoryTx) AssignUserRole(ctx context.Context, ur UserRole) (bool, error) {
	role, ok := t.state.roles[ur.RoleID]
	if !ok || role.TenantID != ur.TenantID {
		return false, nil
	}
	key := userRoleKey{ur.TenantID, ur.UserID, ur.RoleID}
	if _, ok := t.state.userRoles[key]; ok {
		return false, nil
	}
	t.state.userRoles[key] = ur
	return true, nil
}

type countingInvalidator struct {
	mu    sync.Mutex
	bumps int
}

func (c *countingInvalidator) Bump(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumps++
	return nil
}

type recordedGrants map[string]int

func (g recordedGrants) AddGrants(level string, count int) {
	g[level] += count
}
