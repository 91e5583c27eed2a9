package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"matrimony-chat/services"
	"matrimony-chat/utils"
)

const clientKey = "client"

// RequireIdentity rejects requests while nobody is logged in and stores the
// current Client in the context.
func RequireIdentity(manager *services.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, err := manager.Current()
		if err != nil {
			utils.RespondError(c, http.StatusUnauthorized, err.Error())
			c.Abort()
			return
		}
		c.Set(clientKey, client)
		c.Next()
	}
}

// ClientFromContext returns the Client stored by RequireIdentity.
func ClientFromContext(c *gin.Context) *services.Client {
	if v, ok := c.Get(clientKey); ok {
		if client, ok := v.(*services.Client); ok {
			return client
		}
	}
	return nil
}
