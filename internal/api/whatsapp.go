package api

import (
	"errors"
	"net/http"

	"whatsapp-crm/internal/automation"
	"whatsapp-crm/internal/store"

	"github.com/gin-gonic/gin"
)

// WhatsAppHandler manages per-number automation settings.
type WhatsAppHandler struct {
	store *store.Store
}

func NewWhatsAppHandler(st *store.Store) *WhatsAppHandler {
	return &WhatsAppHandler{store: st}
}

type numberSettingsRequest struct {
	ActiveBotFlowID   *uint `json:"activeBotFlowId"`
	ClearBotFlow      bool  `json:"clearBotFlow"`
	IsFollowUpEnabled *bool `json:"isFollowUpEnabled"`
	IsReviewEnabled   *bool `json:"isReviewEnabled"`
}

// UpdateNumberSettings changes the active flow and follow-up switches of a
// business number. A flow is only activated if its graph validates.
func (h *WhatsAppHandler) UpdateNumberSettings(c *gin.Context) {
	phoneNumberID := c.Param("phoneNumberId")

	var req numberSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	updates := map[string]interface{}{}
	switch {
	case req.ClearBotFlow:
		updates["active_bot_flow_id"] = nil
	case req.ActiveBotFlowID != nil:
		flow, err := h.store.BotFlowWithNodes(ctx, *req.ActiveBotFlowID)
		if err != nil {
			respondLookupError(c, err, "Flow not found")
			return
		}
		if err := automation.ValidateGraph(flow); err != nil {
			var verr *automation.ValidationError
			if errors.As(err, &verr) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Flow cannot be activated", "issues": verr.Issues})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		updates["active_bot_flow_id"] = flow.ID
	}
	if req.IsFollowUpEnabled != nil {
		updates["is_follow_up_enabled"] = *req.IsFollowUpEnabled
	}
	if req.IsReviewEnabled != nil {
		updates["is_review_enabled"] = *req.IsReviewEnabled
	}

	pn, err := h.store.UpdatePhoneNumberSettings(ctx, phoneNumberID, updates)
	if err != nil {
		respondLookupError(c, err, "Phone number not found")
		return
	}
	c.JSON(http.StatusOK, pn)
}
