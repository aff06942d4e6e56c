// Package permission implements the permission-node registry: plugins
// register capabilities as named nodes, operators grant or revoke them
// per (platform, user), and a master-user override bypasses every
// check. Grounded on permission_manager.py's PermissionManager.
package permission

// User identifies who a permission decision applies to. Platform is
// the messaging platform the user is addressing the bot from (e.g.
// "discord", "qq"); UserID is that platform's native user identifier.
type User struct {
	Platform string
	UserID   string
}
