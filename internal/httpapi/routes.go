package httpapi

import (
	"voicebridge/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the call API on v1. The caller installs authentication
// (and rate limiting) on the group first.
func (h Handlers) Register(v1 *gin.RouterGroup) {
	v1.Use(rbac.RequireIdentity())

	callsGroup := v1.Group("/calls")
	callsGroup.Use(rbac.RequireAnyRole(rbac.RoleUser))
	{
		callsGroup.POST("", h.PlaceCall)
		callsGroup.GET("", h.ListCalls)
		callsGroup.GET("/history", h.ListHistory)
		callsGroup.GET("/pending", h.ListPending)
		callsGroup.POST("/pending/:id/accept", h.AcceptPending)
		callsGroup.POST("/pending/:id/reject", h.RejectPending)
		callsGroup.GET("/:id", h.GetCall)
		callsGroup.POST("/:id/hangup", h.Hangup)
	}

	admin := v1.Group("/admin")
	admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin, rbac.RoleSupport))
	{
		admin.GET("/calls/summary", h.CallsSummary)
	}
}
