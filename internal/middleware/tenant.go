package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/uilm/uilm-service/internal/auth"
	"github.com/uilm/uilm-service/internal/tenant"
)

const (
	// ProjectKeyHeader names the tenant when header tenancy is allowed.
	ProjectKeyHeader = "X-Project-Key"
	// ActorHeader optionally names the actor alongside ProjectKeyHeader.
	ActorHeader = "X-Actor"

	tenantKey = "tenant"
)

// TokenVerifier resolves a bearer token to a tenant.
type TokenVerifier interface {
	Verify(token string) (tenant.Tenant, error)
}

// TenantMiddleware resolves the caller's tenant and stores it for handlers.
// A bearer token is verified when verifier is set; otherwise, or when the
// request has no Authorization header, X-Project-Key is accepted only if
// allowHeader is true. Requests with no resolvable tenant get 401.
func TenantMiddleware(verifier TokenVerifier, allowHeader bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authHeader := c.GetHeader("Authorization"); authHeader != "" && verifier != nil {
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			token = strings.TrimSpace(token)
			if !ok || token == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Authorization header must be 'Bearer <token>'",
				})
				return
			}
			t, err := verifier.Verify(token)
			if err != nil {
				msg := "Invalid or expired token"
				if errors.Is(err, auth.ErrNoTenantClaim) {
					msg = "Token does not name a project"
				}
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
				return
			}
			c.Set(tenantKey, t)
			c.Next()
			return
		}

		if allowHeader {
			if key := strings.TrimSpace(c.GetHeader(ProjectKeyHeader)); key != "" {
				c.Set(tenantKey, tenant.New(key, strings.TrimSpace(c.GetHeader(ActorHeader))))
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing project credentials"})
	}
}

// TenantFrom returns the tenant stored by TenantMiddleware.
func TenantFrom(c *gin.Context) (tenant.Tenant, bool) {
	v, ok := c.Get(tenantKey)
	if !ok {
		return tenant.Tenant{}, false
	}
	t, ok := v.(tenant.Tenant)
	return t, ok
}

// SetTenant stores t for handlers. Used by tests and internal callers.
func SetTenant(c *gin.Context, t tenant.Tenant) {
	c.Set(tenantKey, t)
}

// RequireTenant returns the resolved tenant or aborts with 401.
func RequireTenant(c *gin.Context) (tenant.Tenant, bool) {
	t, ok := TenantFrom(c)
	if !ok || t.ProjectKey == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing project credentials"})
		return tenant.Tenant{}, false
	}
	return t, true
}
