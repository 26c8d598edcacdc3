package api

import (
	"net/http"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/store"

	"github.com/gin-gonic/gin"
)

type DashboardHandler struct {
	store *store.Store
}

func NewDashboardHandler(st *store.Store) *DashboardHandler {
	return &DashboardHandler{store: st}
}

// GetEnquiries lists enquiries, most recently active first. ?status= filters.
func (h *DashboardHandler) GetEnquiries(c *gin.Context) {
	enquiries, err := h.store.ListEnquiries(c.Request.Context(), c.Query("status"), queryLimit(c, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if enquiries == nil {
		enquiries = []models.Enquiry{}
	}
	c.JSON(http.StatusOK, enquiries)
}

// GetMessages lists messages newest first. ?phone= narrows to one customer thread.
func (h *DashboardHandler) GetMessages(c *gin.Context) {
	messages, err := h.store.ListMessages(c.Request.Context(), c.Query("phone"), queryLimit(c, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, messages)
}
