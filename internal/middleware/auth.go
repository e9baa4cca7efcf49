package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"prepdocs-go/pkg/log"
	"prepdocs-go/pkg/token"
)

// SkillAuth 创建一个 Gin 中间件，用于 skill 接口的 JWT 认证。
// token 需以 "Bearer <token>" 的形式提供，并带有 skill 权限。
func SkillAuth(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权头"})
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的授权头格式"})
			return
		}

		claims, err := jwtManager.VerifyToken(strings.TrimPrefix(authHeader, bearerPrefix))
		if err != nil {
			log.Warnf("skill 请求 token 校验失败: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
			return
		}
		if claims.Scope != token.SkillScope {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token 缺少 skill 权限"})
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}
