package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"carboniq/farm-portal/farm-portal-backend/pkg/security"
)

const (
	contextUserID = "auth.user_id"
	contextEmail  = "auth.email"

	// LoginPath is where unauthenticated clients are sent
	LoginPath = "/auth"
)

// TokenParser validates session tokens
type TokenParser interface {
	Authenticate(token string) (*security.SessionClaims, error)
}

// RequireAuth rejects requests without a valid bearer token
func RequireAuth(parser TokenParser) gin.HandlerFunc {
	return authenticate(parser, false)
}

// RequireSocketAuth is RequireAuth for websocket upgrades, where browsers cannot set headers.
// It also accepts the token as a "token" query parameter.
func RequireSocketAuth(parser TokenParser) gin.HandlerFunc {
	return authenticate(parser, true)
}

func authenticate(parser TokenParser, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" && allowQuery {
			token = c.Query("token")
		}
		if token == "" {
			unauthorized(c, "authentication required")
			return
		}

		claims, err := parser.Authenticate(token)
		if err != nil {
			unauthorized(c, "invalid or expired token")
			return
		}
		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			unauthorized(c, "invalid or expired token")
			return
		}

		c.Set(contextUserID, userID)
		c.Set(contextEmail, claims.Email)
		c.Next()
	}
}

// UserID returns the authenticated user set by RequireAuth
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(contextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "redirect": LoginPath})
}
