package handler

import (
	"net/http"
	"strconv"
	"time"

	"mealsub/internal/service"
	"mealsub/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	actorKey = "actor"
)

// LoggerMiddleware 日志中间件
func LoggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if query != "" {
			path = path + "?" + query
		}
		log.Info("http",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic", zap.Any("error", err), zap.String("path", c.Request.URL.Path), zap.Stack("stack"))
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
					Code:    response.CodeServerError,
					Message: "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-User-ID, X-User-Role")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// IdentityMiddleware 读取上游鉴权网关写入的身份头
// 未知角色按普通用户处理
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader(HeaderUserID), 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Response{
				Code:    response.CodeUnauthorized,
				Message: "未登录",
			})
			return
		}

		role := service.RoleStandard
		if service.Role(c.GetHeader(HeaderUserRole)) == service.RoleElevated {
			role = service.RoleElevated
		}
		c.Set(actorKey, service.Actor{UserID: userID, Role: role})
		c.Next()
	}
}

// RequireElevated 仅管理员可访问
func RequireElevated() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !actorFrom(c).Role.Elevated() {
			c.AbortWithStatusJSON(http.StatusOK, response.Response{
				Code:    response.CodeForbidden,
				Message: "无权限",
			})
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) service.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(service.Actor); ok {
			return actor
		}
	}
	return service.Actor{Role: service.RoleStandard}
}
