package permission

import (
	"fmt"
	"strings"

	"github.com/coreagent/platform/internal/platform/logger"
)

// ParseMasterUsers parses the [permission] master_users config value:
// a comma-separated list of "platform:user_id" pairs. A malformed
// entry is logged and skipped rather than failing the whole list,
// matching _load_master_users's tolerance for bad entries in the
// original config file.
func ParseMasterUsers(raw string, log *logger.Logger) []User {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var out []User
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			if log != nil {
				log.Warn("master_users entry malformed, expected platform:user_id", "entry", entry)
			}
			continue
		}
		out = append(out, User{Platform: parts[0], UserID: parts[1]})
	}
	return out
}

// FormatMasterUser renders a User the way ParseMasterUsers expects to
// read it back, for round-tripping config edits made through the CLI.
func FormatMasterUser(u User) string {
	return fmt.Sprintf("%s:%s", u.Platform, u.UserID)
}
