package daemon

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ozonassist/internal/api"
	"ozonassist/internal/logging"
	"ozonassist/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

// requestContext tags each request with an id, echoed in the response.
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// requestLogger records method, route, status, and latency for each request.
// Agent polling is frequent, so successful GETs log at debug.
func requestLogger(logger *slog.Logger, recorder *metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		recorder.Request(route, c.Request.Method, strconv.Itoa(code), latency)

		attrs := logging.Args(
			logging.String("method", c.Request.Method),
			logging.String("path", c.Request.URL.Path),
			logging.Int("status", code),
			logging.Duration("latency", latency),
			logging.String("client_ip", c.ClientIP()),
			logging.String(logging.FieldRequestID, logging.RequestID(c.Request.Context())),
		)
		switch {
		case code >= http.StatusInternalServerError:
			logger.Error("http request", attrs...)
		case c.Request.Method == http.MethodGet && code < http.StatusBadRequest:
			logger.Debug("http request", attrs...)
		default:
			logger.Info("http request", attrs...)
		}
	}
}

// recovery converts a handler panic into a 500 envelope.
func recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.ErrorWithContext(logger, "handler panic", "handler_panic",
					logging.String("panic", fmt.Sprint(rec)),
					logging.String("path", c.Request.URL.Path),
					logging.String("stack", string(debug.Stack())),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, api.Fail("internal server error"))
			}
		}()
		c.Next()
	}
}

const adminPrefix = "/api/admin"

// originPolicy is the set of browser origins the agent routes accept.
type originPolicy struct {
	open bool
	set  map[string]struct{}
}

func newOriginPolicy(allowed []string) originPolicy {
	policy := originPolicy{open: len(allowed) == 0, set: make(map[string]struct{}, len(allowed))}
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			policy.open = true
		}
		policy.set[origin] = struct{}{}
	}
	return policy
}

func (p originPolicy) allows(origin string) bool {
	if p.open || origin == "" {
		return true
	}
	_, ok := p.set[origin]
	return ok
}

// checkOrigin is the websocket upgrader's origin check.
func (p originPolicy) checkOrigin(r *http.Request) bool {
	return p.allows(r.Header.Get("Origin"))
}

// cors opens the agent routes to the browser extension. Preflight requests end
// here. Admin routes get no CORS headers, so browsers keep them same-origin.
func cors(policy originPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, adminPrefix) {
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}
		origin := c.GetHeader("Origin")
		switch {
		case policy.open:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && policy.allows(origin):
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// adminGuard protects the admin routes. Requests a browser marks as coming
// from another site are refused, and when token is set every request must
// carry "Authorization: Bearer <token>".
func adminGuard(token string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if crossOrigin(c.Request) {
			logger.Warn("cross-origin admin request refused",
				logging.String("origin", c.GetHeader("Origin")),
				logging.String("path", c.Request.URL.Path),
				logging.String(logging.FieldEventType, "admin_cross_origin"),
				logging.String(logging.FieldImpact, "request was not executed"),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, api.Fail("cross-origin admin requests are not allowed"))
			return
		}
		if token == "" {
			c.Next()
			return
		}
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api.Fail("unauthorized"))
			return
		}
		c.Next()
	}
}

// crossOrigin reports whether a browser sent r on behalf of another site.
// Non-browser clients send neither header.
func crossOrigin(r *http.Request) bool {
	switch r.Header.Get("Sec-Fetch-Site") {
	case "cross-site", "same-site":
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return false
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return true
	}
	return !strings.EqualFold(parsed.Host, r.Host)
}
