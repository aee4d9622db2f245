package middleware

import (
	"net/http"
	"strings"

	"github.com/Zydiag/learn-backend/internal/app/auth/service"
	"github.com/Zydiag/learn-backend/internal/domain/user/model"
	"github.com/Zydiag/learn-backend/internal/domain/user/token"

	"github.com/gin-gonic/gin"
)

const (
	identityKey = "auth_user"
	claimsKey   = "auth_claims"

	AccessTokenCookie = "accessToken"
)

// Authenticate is the request gate: it accepts the access token from the
// accessToken cookie or an Authorization bearer header, validates it, and
// attaches the resolved user and claims to the request context. On any
// failure the request is aborted with 401 — никогда не пропускаем дальше
// неаутентифицированный запрос.
func Authenticate(svc service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractToken(c)
		if raw == "" {
			abortUnauthorized(c)
			return
		}

		user, claims, err := svc.Validate(c.Request.Context(), raw)
		if err != nil {
			abortUnauthorized(c)
			return
		}

		c.Set(identityKey, user)
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil && cookie != "" {
		return cookie
	}
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// Identity returns the authenticated user attached by Authenticate.
func Identity(c *gin.Context) (model.User, bool) {
	if value, ok := c.Get(identityKey); ok {
		if user, ok := value.(model.User); ok {
			return user, true
		}
	}
	return model.User{}, false
}

// Claims returns the access-token claims attached by Authenticate.
func Claims(c *gin.Context) (token.AccessClaims, bool) {
	if value, ok := c.Get(claimsKey); ok {
		if claims, ok := value.(token.AccessClaims); ok {
			return claims, true
		}
	}
	return token.AccessClaims{}, false
}
