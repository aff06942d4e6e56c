package permission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coreagent/platform/internal/persistence/model"
	"github.com/coreagent/platform/internal/persistence/repo"
	"github.com/coreagent/platform/internal/platform/logger"
)

// ErrNodeNotRegistered is returned by operations that require a
// permission node to already exist. Matches register-before-use in
// permission_manager.py: granting or revoking an unknown node fails.
var ErrNodeNotRegistered = errors.New("permission node not registered")

// Node is a registrable capability. Plugin is the plugin that owns it;
// DefaultGrant is the fallback used when no user-level decision exists.
type Node struct {
	Name         string
	Plugin       string
	Description  string
	DefaultGrant bool
}

// Manager is the permission registry and decision point. A zero
// Manager is not usable; construct with New.
type Manager struct {
	log  *logger.Logger
	repo repo.PermissionRepo

	mu          sync.RWMutex
	masterUsers map[User]struct{}
}

// New constructs a Manager backed by repo and an initial master-user
// set loaded from [permission] master_users.
func New(log *logger.Logger, permRepo repo.PermissionRepo, masterUsers []User) *Manager {
	m := &Manager{
		log:  log.With("component", "PermissionManager"),
		repo: permRepo,
	}
	m.ReloadMasterUsers(masterUsers)
	return m
}

// ReloadMasterUsers replaces the master-user set, mirroring
// reload_master_users: operators can rotate master users without
// restarting the process.
func (m *Manager) ReloadMasterUsers(users []User) {
	set := make(map[User]struct{}, len(users))
	for _, u := range users {
		set[u] = struct{}{}
	}
	m.mu.Lock()
	m.masterUsers = set
	m.mu.Unlock()
	m.log.Info("master users loaded", "count", len(set))
}

// IsMaster reports whether user bypasses all permission checks.
func (m *Manager) IsMaster(user User) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.masterUsers[user]
	return ok
}

// Check reports whether user holds node. Master users always hold
// every node. An unregistered node is never held by anyone.
func (m *Manager) Check(ctx context.Context, user User, node string) (bool, error) {
	if m.IsMaster(user) {
		return true, nil
	}
	return m.repo.EffectiveGrant(ctx, nil, user.Platform, user.UserID, node)
}

// RegisterNode upserts a permission node's registration, used by
// plugins at load time to declare the capabilities they gate.
func (m *Manager) RegisterNode(ctx context.Context, node Node) error {
	return m.repo.RegisterNode(ctx, nil, &model.PermissionNode{
		NodeName:     node.Name,
		Plugin:       node.Plugin,
		Description:  node.Description,
		DefaultGrant: node.DefaultGrant,
	})
}

// Grant gives user an explicit grant of node. It fails against an
// unregistered node, matching grant_permission.
func (m *Manager) Grant(ctx context.Context, user User, node string) error {
	if err := m.requireNode(ctx, node); err != nil {
		return err
	}
	return m.repo.Grant(ctx, nil, user.Platform, user.UserID, node)
}

// Revoke gives user an explicit revocation of node. Like Grant, it
// requires the node to exist, and writes a granted=false row rather
// than deleting any prior decision.
func (m *Manager) Revoke(ctx context.Context, user User, node string) error {
	if err := m.requireNode(ctx, node); err != nil {
		return err
	}
	return m.repo.Revoke(ctx, nil, user.Platform, user.UserID, node)
}

func (m *Manager) requireNode(ctx context.Context, node string) error {
	n, err := m.repo.GetNode(ctx, nil, node)
	if err != nil {
		return err
	}
	if n == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotRegistered, node)
	}
	return nil
}

// UserPermissions lists every node user effectively holds: every node
// for a master user, otherwise each node whose explicit grant (or,
// absent one, default_grant) resolves true.
func (m *Manager) UserPermissions(ctx context.Context, user User) ([]string, error) {
	nodes, err := m.repo.ListNodes(ctx, nil)
	if err != nil {
		return nil, err
	}
	if m.IsMaster(user) {
		names := make([]string, len(nodes))
		for i, n := range nodes {
			names[i] = n.NodeName
		}
		return names, nil
	}

	grants, err := m.repo.ListGrants(ctx, nil, user.Platform, user.UserID)
	if err != nil {
		return nil, err
	}
	explicit := make(map[string]bool, len(grants))
	for _, g := range grants {
		explicit[g.NodeName] = g.Granted
	}

	var out []string
	for _, n := range nodes {
		if granted, ok := explicit[n.NodeName]; ok {
			if granted {
				out = append(out, n.NodeName)
			}
			continue
		}
		if n.DefaultGrant {
			out = append(out, n.NodeName)
		}
	}
	return out, nil
}

// AllNodes returns every registered permission node.
func (m *Manager) AllNodes(ctx context.Context) ([]Node, error) {
	nodes, err := m.repo.ListNodes(ctx, nil)
	if err != nil {
		return nil, err
	}
	return toNodes(nodes), nil
}

// PluginNodes returns the permission nodes registered by plugin.
func (m *Manager) PluginNodes(ctx context.Context, plugin string) ([]Node, error) {
	nodes, err := m.repo.ListNodesByPlugin(ctx, nil, plugin)
	if err != nil {
		return nil, err
	}
	return toNodes(nodes), nil
}

// DeletePluginPermissions removes every node registered by plugin and
// every user decision against them, used when a plugin is unloaded.
func (m *Manager) DeletePluginPermissions(ctx context.Context, plugin string) error {
	return m.repo.DeletePluginNodes(ctx, nil, plugin)
}

// UsersWithPermission lists users holding an explicit grant of node,
// plus every master user. It does not enumerate users relying on the
// node's default_grant, matching get_users_with_permission.
func (m *Manager) UsersWithPermission(ctx context.Context, node string) ([]User, error) {
	n, err := m.repo.GetNode(ctx, nil, node)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, nil
	}

	seen := make(map[User]struct{})
	var out []User

	m.mu.RLock()
	for u := range m.masterUsers {
		if _, ok := seen[u]; !ok {
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	m.mu.RUnlock()

	holders, err := m.repo.ListGrantedUsers(ctx, nil, node)
	if err != nil {
		return nil, err
	}
	for _, h := range holders {
		u := User{Platform: h.Platform, UserID: h.UserID}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out, nil
}

func toNodes(nodes []*model.PermissionNode) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = Node{
			Name:         n.NodeName,
			Plugin:       n.Plugin,
			Description:  n.Description,
			DefaultGrant: n.DefaultGrant,
		}
	}
	return out
}
