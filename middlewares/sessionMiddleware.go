package middlewares

import (
	"context"
	"net/http"

	"bitbucket.org/planfox/reports_backend/config"
	"bitbucket.org/planfox/reports_backend/models"
	"bitbucket.org/planfox/reports_backend/utils"
	"github.com/gin-gonic/gin"
)

func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		username, exists, err := config.GetRedisValue("Token:" + token)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := context.WithValue(c.Request.Context(), utils.ContextKeyToken, token)
		ctx = context.WithValue(ctx, utils.ContextKeyUsername, username)
		ctx = context.WithValue(ctx, utils.ContextKeyUserName, resolveUserName(ctx, username))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// resolveUserName looks up the display name for lock attribution. Redis
// first, DB as fallback; an empty name is acceptable.
func resolveUserName(ctx context.Context, username string) string {
	var user models.User
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err == nil && exists {
		return user.Name
	}
	db := config.GetDB()
	if db == nil {
		return ""
	}
	if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Take(&user).Error; err != nil {
		return ""
	}
	return user.Name
}
