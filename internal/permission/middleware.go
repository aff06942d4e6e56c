package permission

import (
	"context"

	"github.com/coreagent/platform/internal/coreerr"
)

// Authorize gates invocation of a COMMAND, PLUS_COMMAND, ACTION, or
// TOOL component behind its declared permission node. It fails closed:
// a lookup error denies the request rather than letting it through,
// matching check_permission's own return-False-on-error behavior.
// Callers in internal/reply consult this before dispatching a
// component that declared a permission node in its manifest.
func (m *Manager) Authorize(ctx context.Context, user User, node string) error {
	if node == "" {
		return nil
	}
	granted, err := m.Check(ctx, user, node)
	if err != nil {
		m.log.Error("permission check failed, denying", "platform", user.Platform, "user_id", user.UserID, "node", node, "error", err)
		return &coreerr.PermissionDenied{Node: node, UserID: user.UserID}
	}
	if !granted {
		return &coreerr.PermissionDenied{Node: node, UserID: user.UserID}
	}
	return nil
}
