package api

import (
	"whatsapp-crm/internal/store"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the collaborator API under r.
func RegisterRoutes(r gin.IRouter, st *store.Store) {
	automation := NewAutomationHandler(st)
	dashboard := NewDashboardHandler(st)
	numbers := NewWhatsAppHandler(st)

	api := r.Group("/api")
	{
		api.GET("/flows", automation.GetFlows)
		api.GET("/flows/:id", automation.GetFlow)
		api.PUT("/flows/:id/nodes", automation.ReplaceNodes)
		api.GET("/logs", automation.GetLogs)

		api.GET("/enquiries", dashboard.GetEnquiries)
		api.GET("/messages", dashboard.GetMessages)

		api.PATCH("/numbers/:phoneNumberId", numbers.UpdateNumberSettings)
	}
}
