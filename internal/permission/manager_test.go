package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coreagent/platform/internal/coreerr"
	"github.com/coreagent/platform/internal/persistence/model"
	"github.com/coreagent/platform/internal/platform/logger"
)

// fakePermissionRepo is an in-memory stand-in for repo.PermissionRepo,
// exercising Manager's decision logic without a database.
type fakePermissionRepo struct {
	nodes map[string]*model.PermissionNode
	users map[[3]string]*model.UserPermission
}

func newFakePermissionRepo() *fakePermissionRepo {
	return &fakePermissionRepo{
		nodes: make(map[string]*model.PermissionNode),
		users: make(map[[3]string]*model.UserPermission),
	}
}

func (f *fakePermissionRepo) RegisterNode(_ context.Context, _ *gorm.DB, node *model.PermissionNode) error {
	cp := *node
	f.nodes[node.NodeName] = &cp
	return nil
}

func (f *fakePermissionRepo) GetNode(_ context.Context, _ *gorm.DB, nodeName string) (*model.PermissionNode, error) {
	return f.nodes[nodeName], nil
}

func (f *fakePermissionRepo) ListNodes(_ context.Context, _ *gorm.DB) ([]*model.PermissionNode, error) {
	var out []*model.PermissionNode
	for _, n := range f.nodes {
		out = append(out, n)
	}
	return out, nil
}

func (f *fakePermissionRepo) ListNodesByPlugin(_ context.Context, _ *gorm.DB, plugin string) ([]*model.PermissionNode, error) {
	var out []*model.PermissionNode
	for _, n := range f.nodes {
		if n.Plugin == plugin {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakePermissionRepo) DeletePluginNodes(_ context.Context, _ *gorm.DB, plugin string) error {
	for name, n := range f.nodes {
		if n.Plugin == plugin {
			delete(f.nodes, name)
			for key, u := range f.users {
				if u.NodeName == name {
					delete(f.users, key)
				}
			}
		}
	}
	return nil
}

func (f *fakePermissionRepo) Grant(ctx context.Context, tx *gorm.DB, platform, userID, nodeName string) error {
	return f.setGranted(platform, userID, nodeName, true)
}

func (f *fakePermissionRepo) Revoke(ctx context.Context, tx *gorm.DB, platform, userID, nodeName string) error {
	return f.setGranted(platform, userID, nodeName, false)
}

func (f *fakePermissionRepo) setGranted(platform, userID, nodeName string, granted bool) error {
	key := [3]string{platform, userID, nodeName}
	f.users[key] = &model.UserPermission{Platform: platform, UserID: userID, NodeName: nodeName, Granted: granted}
	return nil
}

func (f *fakePermissionRepo) EffectiveGrant(_ context.Context, _ *gorm.DB, platform, userID, nodeName string) (bool, error) {
	if u, ok := f.users[[3]string{platform, userID, nodeName}]; ok {
		return u.Granted, nil
	}
	n, ok := f.nodes[nodeName]
	if !ok {
		return false, nil
	}
	return n.DefaultGrant, nil
}

func (f *fakePermissionRepo) ListGrants(_ context.Context, _ *gorm.DB, platform, userID string) ([]*model.UserPermission, error) {
	var out []*model.UserPermission
	for key, u := range f.users {
		if key[0] == platform && key[1] == userID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakePermissionRepo) ListGrantedUsers(_ context.Context, _ *gorm.DB, nodeName string) ([]*model.UserPermission, error) {
	var out []*model.UserPermission
	for _, u := range f.users {
		if u.NodeName == nodeName && u.Granted {
			out = append(out, u)
		}
	}
	return out, nil
}

func testManager(t *testing.T, repo *fakePermissionRepo, masters []User) *Manager {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return New(log, repo, masters)
}

func TestCheckUsesNodeDefaultWhenNoExplicitGrant(t *testing.T) {
	repo := newFakePermissionRepo()
	repo.nodes["weather.lookup"] = &model.PermissionNode{NodeName: "weather.lookup", Plugin: "weather", DefaultGrant: true}
	mgr := testManager(t, repo, nil)

	ok, err := mgr.Check(context.Background(), User{Platform: "discord", UserID: "u1"}, "weather.lookup")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckUnregisteredNodeIsNeverGranted(t *testing.T) {
	repo := newFakePermissionRepo()
	mgr := testManager(t, repo, nil)

	ok, err := mgr.Check(context.Background(), User{Platform: "discord", UserID: "u1"}, "missing.node")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMasterUserBypassesEverything(t *testing.T) {
	repo := newFakePermissionRepo()
	master := User{Platform: "discord", UserID: "admin"}
	mgr := testManager(t, repo, []User{master})

	ok, err := mgr.Check(context.Background(), master, "anything.at.all")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRevokeOverridesDefaultGrantWithoutDeletingTheNode(t *testing.T) {
	repo := newFakePermissionRepo()
	repo.nodes["admin.reload"] = &model.PermissionNode{NodeName: "admin.reload", DefaultGrant: true}
	mgr := testManager(t, repo, nil)
	user := User{Platform: "discord", UserID: "u1"}
	ctx := context.Background()

	require.NoError(t, mgr.Revoke(ctx, user, "admin.reload"))
	ok, err := mgr.Check(ctx, user, "admin.reload")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mgr.Grant(ctx, user, "admin.reload"))
	ok, err = mgr.Check(ctx, user, "admin.reload")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGrantFailsAgainstUnregisteredNode(t *testing.T) {
	repo := newFakePermissionRepo()
	mgr := testManager(t, repo, nil)

	err := mgr.Grant(context.Background(), User{Platform: "discord", UserID: "u1"}, "missing.node")
	assert.ErrorIs(t, err, ErrNodeNotRegistered)
}

func TestUserPermissionsListsMasterUserEveryNode(t *testing.T) {
	repo := newFakePermissionRepo()
	repo.nodes["a"] = &model.PermissionNode{NodeName: "a"}
	repo.nodes["b"] = &model.PermissionNode{NodeName: "b"}
	master := User{Platform: "discord", UserID: "admin"}
	mgr := testManager(t, repo, []User{master})

	nodes, err := mgr.UserPermissions(context.Background(), master)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, nodes)
}

func TestUsersWithPermissionIncludesMastersAndExplicitGrantsOnly(t *testing.T) {
	repo := newFakePermissionRepo()
	repo.nodes["a"] = &model.PermissionNode{NodeName: "a", DefaultGrant: true}
	master := User{Platform: "discord", UserID: "admin"}
	grantee := User{Platform: "discord", UserID: "u1"}
	defaultHolder := User{Platform: "discord", UserID: "u2"}
	mgr := testManager(t, repo, []User{master})
	ctx := context.Background()

	require.NoError(t, mgr.Grant(ctx, grantee, "a"))

	users, err := mgr.UsersWithPermission(ctx, "a")
	require.NoError(t, err)
	assert.Contains(t, users, master)
	assert.Contains(t, users, grantee)
	assert.NotContains(t, users, defaultHolder)
}

func TestAuthorizeDeniesWithoutGrant(t *testing.T) {
	repo := newFakePermissionRepo()
	repo.nodes["admin.reload"] = &model.PermissionNode{NodeName: "admin.reload"}
	mgr := testManager(t, repo, nil)

	err := mgr.Authorize(context.Background(), User{Platform: "discord", UserID: "u1"}, "admin.reload")
	var denied *coreerr.PermissionDenied
	assert.ErrorAs(t, err, &denied)
}

func TestAuthorizeAllowsEmptyNode(t *testing.T) {
	mgr := testManager(t, newFakePermissionRepo(), nil)
	err := mgr.Authorize(context.Background(), User{Platform: "discord", UserID: "u1"}, "")
	assert.NoError(t, err)
}
