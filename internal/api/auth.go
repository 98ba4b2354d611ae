package api

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Role names attached to the request context after authentication.
const (
	RoleAPI       = "api"
	RoleDeveloper = "developer"
	RoleAdmin     = "admin"

	roleContextKey = "auth_role"
)

// keySet holds the configured bearer keys for one role.
type keySet struct {
	role string
	keys []string
}

func splitKeys(env string) []string {
	var out []string
	for _, k := range strings.Split(os.Getenv(env), ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// loadKeySets reads the role key lists from the environment. Order matters:
// admin is checked first so an admin key always yields the admin role.
func loadKeySets() []keySet {
	return []keySet{
		{role: RoleAdmin, keys: splitKeys("MCP_ADMIN_KEYS")},
		{role: RoleDeveloper, keys: splitKeys("MCP_DEVELOPER_KEYS")},
		{role: RoleAPI, keys: splitKeys("MCP_API_KEYS")},
	}
}

func matchKey(sets []keySet, presented string) (string, bool) {
	for _, set := range sets {
		for _, k := range set.keys {
			if subtle.ConstantTimeCompare([]byte(presented), []byte(k)) == 1 {
				return set.role, true
			}
		}
	}
	return "", false
}

// AuthMiddleware validates bearer keys against MCP_API_KEYS, MCP_DEVELOPER_KEYS
// and MCP_ADMIN_KEYS and stores the matched role on the context. If no keys are
// configured at all, requests pass with the admin role (development mode).
// WARNING: in GIN_MODE=release, leaving all key lists unset exposes every
// protected route. Always configure keys in production.
func AuthMiddleware() gin.HandlerFunc {
	sets := loadKeySets()
	configured := 0
	for _, s := range sets {
		configured += len(s.keys)
	}

	log := logrus.WithField("component", "api")
	if configured == 0 && os.Getenv("GIN_MODE") == "release" {
		log.Warn("No MCP_API_KEYS / MCP_DEVELOPER_KEYS / MCP_ADMIN_KEYS configured in release mode. " +
			"All protected endpoints are publicly accessible.")
	}

	return func(c *gin.Context) {
		if configured == 0 {
			c.Set(roleContextKey, RoleAdmin)
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "authentication",
				"hint":  "Use: Authorization: Bearer <key>",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication"})
			c.Abort()
			return
		}

		role, ok := matchKey(sets, parts[1])
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "authentication"})
			c.Abort()
			return
		}

		c.Set(roleContextKey, role)
		c.Next()
	}
}

// RequireRole rejects requests whose authenticated role is not one of the
// allowed roles. Admin always passes.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(roleContextKey)
		if role == RoleAdmin {
			c.Next()
			return
		}
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "authentication", "details": "insufficient role"})
		c.Abort()
	}
}
