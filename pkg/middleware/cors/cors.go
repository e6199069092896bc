package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	allowedMethods = "GET, POST, DELETE, OPTIONS"
	allowedHeaders = "Authorization, Content-Type, X-Request-ID"
	// Browsers need Content-Disposition to name downloaded audit exports.
	exposedHeaders = "X-Request-ID, Content-Disposition"
	maxAgeSeconds  = "600"
)

// New returns CORS middleware. An empty allow list serves any origin without credentials;
// listed origins are echoed back with credentials. Preflights from other origins get 403.
func New(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin = normalize(origin); origin != "" {
			allowed[origin] = struct{}{}
		}
	}
	wildcard := len(allowed) == 0

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""
		header := c.Writer.Header()
		header.Add("Vary", "Origin")

		switch {
		case origin == "":
		case wildcard:
			header.Set("Access-Control-Allow-Origin", "*")
		case isAllowed(allowed, origin):
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
		default:
			if preflight {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}
		header.Set("Access-Control-Expose-Headers", exposedHeaders)

		if preflight {
			header.Set("Access-Control-Allow-Methods", allowedMethods)
			header.Set("Access-Control-Allow-Headers", allowedHeaders)
			header.Set("Access-Control-Max-Age", maxAgeSeconds)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func normalize(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}

func isAllowed(allowed map[string]struct{}, origin string) bool {
	_, ok := allowed[normalize(origin)]
	return ok
}
