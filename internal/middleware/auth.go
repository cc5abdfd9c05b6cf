package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/stockalert-api/pkg/auth"
	"github.com/jwalitptl/stockalert-api/pkg/httputil"
)

const ContextUserID = "user_id"

type AuthMiddleware struct {
	jwtService auth.JWTService
}

func NewAuthMiddleware(jwtService auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
	}
}

// Authenticate verifies the dashboard session token and sets the user id in context
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			httputil.AbortWithError(c, http.StatusUnauthorized, "missing authorization header")
			return
		}

		claims, err := m.jwtService.ValidateToken(token)
		if err != nil {
			httputil.AbortWithError(c, http.StatusUnauthorized, "invalid token")
			return
		}

		userID, _ := claims.UserID()
		c.Set(ContextUserID, userID)
		c.Next()
	}
}

// UserIDFromContext returns the id stored by Authenticate.
func UserIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
