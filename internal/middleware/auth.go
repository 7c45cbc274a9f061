package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/notify-api/internal/handler"
	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/repository"
)

const (
	HeaderAPIKey  = "X-API-Key"
	ContextAppID  = "appID"
	ContextCaller = "caller"
)

type AuthMiddleware struct {
	apiKeys repository.APIKeyRepository
}

func NewAuthMiddleware(apiKeys repository.APIKeyRepository) *AuthMiddleware {
	return &AuthMiddleware{apiKeys: apiKeys}
}

// Authenticate resolves the caller from its API key and sets app info
// in context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderAPIKey)
		if key == "" {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing API key"))
			c.Abort()
			return
		}

		caller, err := m.apiKeys.LookupByKey(c.Request.Context(), key)
		if err != nil {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid API key"))
			c.Abort()
			return
		}
		if !caller.IsActive {
			c.JSON(http.StatusForbidden, handler.NewErrorResponse("application is deactivated"))
			c.Abort()
			return
		}

		c.Set(ContextAppID, caller.AppID)
		c.Set(ContextCaller, caller)
		c.Next()
	}
}

// CallerFromContext returns the authenticated caller, if any.
func CallerFromContext(c *gin.Context) (*model.Caller, bool) {
	v, ok := c.Get(ContextCaller)
	if !ok {
		return nil, false
	}
	caller, ok := v.(*model.Caller)
	return caller, ok
}
