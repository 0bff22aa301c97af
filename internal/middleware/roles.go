package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mayfest/accounts/internal/models"
	"github.com/mayfest/accounts/pkg/crypto"
	"github.com/mayfest/accounts/pkg/errors"
	"github.com/mayfest/accounts/pkg/metrics"
	"github.com/mayfest/accounts/pkg/response"
)

// ServiceKeyHeader carries the shared key of machine callers.
const ServiceKeyHeader = "X-Service-Key"

// RequireRoles admits callers holding one of roles. When roles include
// models.RoleService, a request presenting ServiceKeyHeader is judged by that
// key alone. Otherwise a valid bearer token with a listed role is required:
// a missing or invalid credential yields 401, a valid token with another role 403.
func RequireRoles(tokens AccessVerifier, serviceKey string, roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	userRoles := false
	for _, role := range roles {
		allowed[role] = struct{}{}
		if role != models.RoleService {
			userRoles = true
		}
	}
	_, serviceAllowed := allowed[models.RoleService]
	forbidden := errors.ErrForbidden.WithMessage(fmt.Sprintf("requires one of the following roles: %s", strings.Join(roles, ", ")))

	return func(c *gin.Context) {
		if serviceAllowed {
			if presented := c.GetHeader(ServiceKeyHeader); presented != "" {
				if serviceKey != "" && crypto.ConstantTimeEqual(presented, serviceKey) {
					metrics.RoleChecks.WithLabelValues(models.RoleService, "allowed").Inc()
					c.Set(CtxRoleKey, models.RoleService)
					c.Next()
					return
				}
				metrics.RoleChecks.WithLabelValues(models.RoleService, "denied").Inc()
				response.Error(c, errors.ErrUnauthorized.WithMessage("invalid service key"))
				c.Abort()
				return
			}
		}

		if userRoles {
			if token, ok := bearerToken(c); ok {
				claims, valid := tokens.VerifyAccess(token)
				if !valid {
					response.Error(c, errors.ErrUnauthorized)
					c.Abort()
					return
				}
				if _, ok := allowed[claims.Role]; !ok {
					metrics.RoleChecks.WithLabelValues(claims.Role, "denied").Inc()
					response.Error(c, forbidden)
					c.Abort()
					return
				}
				metrics.RoleChecks.WithLabelValues(claims.Role, "allowed").Inc()
				setIdentity(c, claims)
				c.Next()
				return
			}
		}

		c.Header("WWW-Authenticate", "Bearer")
		response.Error(c, errors.ErrUnauthorized)
		c.Abort()
	}
}
