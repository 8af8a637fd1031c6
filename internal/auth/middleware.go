package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"carbon-scribe/marketplace/marketplace-backend/internal/api"
	"carbon-scribe/marketplace/marketplace-backend/internal/apperr"
)

const actorKey = "auth.actor"

// Authenticate requires a valid bearer token and stores the Actor on the context
func Authenticate(verifier *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorResponse{
				Success:   false,
				Message:   "missing bearer token",
				ErrorCode: "UNAUTHORIZED",
			})
			return
		}
		actor, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorResponse{
				Success:   false,
				Message:   "invalid bearer token",
				ErrorCode: "UNAUTHORIZED",
			})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// RequireRole rejects callers whose role is not listed
func RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := ActorFrom(c)
		if !actor.Is(roles...) {
			api.RespondError(c, nil, &apperr.ForbiddenError{Reason: "role " + string(actor.Role) + " may not perform this action"})
			return
		}
		c.Next()
	}
}

// ActorFrom returns the authenticated actor, or the zero Actor when none was set
func ActorFrom(c *gin.Context) Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(Actor); ok {
			return actor
		}
	}
	return Actor{}
}
