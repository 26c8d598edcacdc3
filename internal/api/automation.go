package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"whatsapp-crm/internal/automation"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/store"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

// AutomationHandler serves the bot flow authoring endpoints.
type AutomationHandler struct {
	store *store.Store
}

func NewAutomationHandler(st *store.Store) *AutomationHandler {
	return &AutomationHandler{store: st}
}

// GetFlows returns every bot flow with its nodes
func (h *AutomationHandler) GetFlows(c *gin.Context) {
	flows, err := h.store.BotFlows(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if flows == nil {
		flows = []models.BotFlow{}
	}
	c.JSON(http.StatusOK, flows)
}

// GetFlow returns one flow with its nodes
func (h *AutomationHandler) GetFlow(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	flow, err := h.store.BotFlowWithNodes(c.Request.Context(), id)
	if err != nil {
		respondLookupError(c, err, "Flow not found")
		return
	}
	c.JSON(http.StatusOK, flow)
}

type nodeRequest struct {
	NodeKey        string               `json:"nodeKey" binding:"required"`
	MessageType    string               `json:"messageType" binding:"required,oneof=text buttons list"`
	MessageText    string               `json:"messageText"`
	SaveToField    string               `json:"saveToField"`
	NextNodeKey    string               `json:"nextNodeKey"`
	Buttons        []models.NodeButton  `json:"buttons" binding:"max=3"`
	ListButtonText string               `json:"listButtonText" binding:"max=20"`
	ListSections   []models.ListSection `json:"listSections"`
}

type replaceNodesRequest struct {
	StartNodeKey string        `json:"startNodeKey"`
	Nodes        []nodeRequest `json:"nodes" binding:"required,dive"`
}

func (r nodeRequest) toModel() models.BotNode {
	return models.BotNode{
		NodeKey:        r.NodeKey,
		MessageType:    r.MessageType,
		MessageText:    r.MessageText,
		SaveToField:    r.SaveToField,
		NextNodeKey:    r.NextNodeKey,
		Buttons:        datatypes.NewJSONType(r.Buttons),
		ListButtonText: r.ListButtonText,
		ListSections:   datatypes.NewJSONType(r.ListSections),
	}
}

// ReplaceNodes swaps a flow's node set after checking the new graph is closed.
func (h *AutomationHandler) ReplaceNodes(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	var req replaceNodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	flow, err := h.store.BotFlow(ctx, id)
	if err != nil {
		respondLookupError(c, err, "Flow not found")
		return
	}

	candidate := *flow
	if req.StartNodeKey != "" {
		candidate.StartNodeKey = req.StartNodeKey
	}
	candidate.Nodes = make([]models.BotNode, 0, len(req.Nodes))
	for _, n := range req.Nodes {
		candidate.Nodes = append(candidate.Nodes, n.toModel())
	}

	if err := automation.ValidateGraph(&candidate); err != nil {
		var verr *automation.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Invalid flow", "issues": verr.Issues})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.ReplaceNodes(ctx, id, candidate.StartNodeKey, candidate.Nodes); err != nil {
		slog.ErrorContext(ctx, "failed to replace flow nodes", "flow_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	slog.InfoContext(ctx, "flow nodes replaced", "flow_id", id, "nodes", len(candidate.Nodes))

	updated, err := h.store.BotFlowWithNodes(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, updated)
}

// GetLogs returns the operator log, newest first
func (h *AutomationHandler) GetLogs(c *gin.Context) {
	logs, err := h.store.RecentLogs(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []models.Log{}
	}
	c.JSON(http.StatusOK, logs)
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return uint(id), true
}

const maxLimit = 500

// queryLimit reads ?limit=, clamped to (0, maxLimit].
func queryLimit(c *gin.Context, def int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func respondLookupError(c *gin.Context, err error, notFoundMsg string) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMsg})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
