package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"whatsapp-crm/internal/attribution"
	"whatsapp-crm/internal/buffer"
	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/events"
	"whatsapp-crm/internal/logger"
	"whatsapp-crm/internal/media"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/store"
	"whatsapp-crm/internal/whatsapp"
	wire "whatsapp-crm/pkg/models"

	"github.com/gin-gonic/gin"
)

const businessAccountObject = "whatsapp_business_account"

// Credentials resolves the token of a business number.
type Credentials interface {
	Credentials(ctx context.Context, recipientID string) (whatsapp.Credentials, error)
}

type Handler struct {
	verifyToken string
	store       *store.Store
	creds       Credentials
	attributor  *attribution.Attributor
	rehoster    *media.Rehoster
	publisher   events.Publisher
	buffer      *buffer.Buffer[Inbound]
	dispatcher  Dispatcher
	now         func() time.Time
}

// NewHandler wires the webhook. rehoster may be nil to keep provider media
// references only.
func NewHandler(
	cfg *config.Config,
	st *store.Store,
	creds Credentials,
	attributor *attribution.Attributor,
	rehoster *media.Rehoster,
	publisher events.Publisher,
	dispatcher Dispatcher,
) *Handler {
	h := &Handler{
		verifyToken: cfg.VerifyToken,
		store:       st,
		creds:       creds,
		attributor:  attributor,
		rehoster:    rehoster,
		publisher:   publisher,
		dispatcher:  dispatcher,
		now:         time.Now,
	}
	h.buffer = buffer.New(cfg.BufferDelay, h.flush)
	return h
}

// WithClock overrides the clock used for attribution windows.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// Close flushes every pending batch.
func (h *Handler) Close() {
	h.buffer.Close()
}

func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token != "" && token == h.verifyToken {
		slog.Info("webhook verified")
		c.String(http.StatusOK, challenge)
		return
	}
	slog.Warn("webhook verification failed", "mode", mode)
	c.Status(http.StatusForbidden)
}

// HandleMessage accepts a provider notification. Anything that parses gets a
// 200 so the provider does not redeliver; failures are logged.
func (h *Handler) HandleMessage(c *gin.Context) {
	var payload wire.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		slog.Warn("malformed webhook payload", "error", err)
		c.Status(http.StatusOK)
		return
	}
	if payload.Object != businessAccountObject {
		c.Status(http.StatusNotFound)
		return
	}

	ctx := c.Request.Context()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			h.processChange(ctx, change.Value)
		}
	}
	c.Status(http.StatusOK)
}

func (h *Handler) processChange(ctx context.Context, value wire.ChangeValue) {
	recipientID := value.Metadata.PhoneNumberID
	if recipientID == "" {
		slog.WarnContext(ctx, "webhook change without phone_number_id, skipping")
		return
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{RecipientID: recipientID, Component: "webhook"})

	contactName := "NA"
	if len(value.Contacts) > 0 && value.Contacts[0].Profile.Name != "" {
		contactName = value.Contacts[0].Profile.Name
	}

	for i := range value.Messages {
		h.handleInbound(ctx, recipientID, contactName, &value.Messages[i])
	}
	for _, st := range value.Statuses {
		h.handleStatus(ctx, st)
	}
}

func (h *Handler) handleInbound(ctx context.Context, recipientID, contactName string, msg *wire.InboundMessage) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Phone: msg.From})

	exists, err := h.store.MessageExists(ctx, msg.ID)
	if err != nil {
		slog.ErrorContext(ctx, "dedup lookup failed", "wamid", msg.ID, "error", err)
		return
	}
	if exists {
		slog.DebugContext(ctx, "duplicate delivery ignored", "wamid", msg.ID)
		return
	}

	now := h.now().UTC()
	rec := &models.Message{
		MessageID:   msg.ID,
		From:        msg.From,
		RecipientID: recipientID,
		Direction:   models.DirectionIncoming,
		Type:        msg.Type,
		Timestamp:   parseTimestamp(msg.Timestamp, now),
		Status:      models.StatusReceived,
	}
	item := Inbound{Message: rec, ContactName: contactName}
	normalize(msg, rec, &item)

	if m := msg.Media(); m != nil {
		rec.MediaID = m.ID
		rec.MediaType = m.MimeType
		rec.MediaFilename = m.Filename
		h.rehost(ctx, recipientID, rec)
	}

	res := h.attributor.Attribute(ctx, attribution.Input{
		Phone:       msg.From,
		Body:        rec.Body,
		ContextID:   rec.ContextID,
		ButtonReply: msg.Type == "button" || msg.Type == "interactive",
		Now:         now,
	})
	if res.Campaign != nil {
		rec.CampaignID = &res.Campaign.ID
		item.Campaign = res.Campaign
		slog.DebugContext(ctx, "reply attributed to campaign", "campaign_id", res.Campaign.ID, "method", res.Method)
	}
	item.IsDirectReply = res.IsDirectReply

	inserted, err := h.store.CreateMessage(ctx, rec)
	if err != nil {
		slog.ErrorContext(ctx, "failed to store inbound message", "wamid", msg.ID, "error", err)
		return
	}
	if !inserted {
		slog.DebugContext(ctx, "concurrent duplicate delivery ignored", "wamid", msg.ID)
		return
	}

	h.publisher.Publish(ctx, events.NewMessage, events.NewMessagePayload{
		From:        msg.From,
		RecipientID: recipientID,
		Message:     rec,
	})

	if strings.TrimSpace(rec.Body) == "" && item.ReplyID == "" {
		return
	}
	h.buffer.Ingest(bufferKey(recipientID, msg.From), item)
}

// normalize fills the canonical body and the reply metadata for each message kind.
func normalize(msg *wire.InboundMessage, rec *models.Message, item *Inbound) {
	if msg.Context != nil {
		rec.ContextID = msg.Context.ID
		rec.ContextFrom = msg.Context.From
	}

	switch {
	case msg.Text != nil:
		rec.Body = msg.Text.Body
	case msg.Reaction != nil:
		rec.Body = msg.Reaction.Emoji
		rec.ReactionEmoji = msg.Reaction.Emoji
		rec.ReactionMessageID = msg.Reaction.MessageID
	case msg.Interactive != nil && msg.Interactive.ButtonReply != nil:
		rec.Body = msg.Interactive.ButtonReply.Title
		item.ReplyID = msg.Interactive.ButtonReply.ID
		item.ReplyTitle = msg.Interactive.ButtonReply.Title
	case msg.Interactive != nil && msg.Interactive.ListReply != nil:
		rec.Body = msg.Interactive.ListReply.Title
		item.ReplyID = msg.Interactive.ListReply.ID
		item.ReplyTitle = msg.Interactive.ListReply.Title
	case msg.Button != nil:
		rec.Body = msg.Button.Text
	case msg.Media() != nil:
		rec.Body = msg.Media().Caption
	}
}

// rehost copies media to durable storage. Failures keep the provider reference.
func (h *Handler) rehost(ctx context.Context, recipientID string, rec *models.Message) {
	if h.rehoster == nil {
		return
	}
	creds, err := h.creds.Credentials(ctx, recipientID)
	if err != nil {
		slog.WarnContext(ctx, "cannot fetch media without credentials", "media_id", rec.MediaID, "error", err)
		return
	}
	res, err := h.rehoster.Rehost(ctx, creds, rec.MediaID)
	if err != nil {
		slog.WarnContext(ctx, "media re-host failed", "media_id", rec.MediaID, "error", err)
		return
	}
	rec.MediaURL = res.URL
	rec.MediaType = res.MimeType
	if rec.MediaFilename == "" {
		rec.MediaFilename = res.Filename
	}
}

func (h *Handler) handleStatus(ctx context.Context, st wire.MessageStatus) {
	reason := failureReason(st.Errors)

	msgUpdated, err := h.store.UpdateMessageStatus(ctx, st.ID, st.Status, reason)
	if err != nil {
		slog.ErrorContext(ctx, "failed to update message status", "wamid", st.ID, "error", err)
	}
	sendUpdated, err := h.store.UpdateCampaignSendStatus(ctx, st.ID, st.Status, reason)
	if err != nil {
		slog.ErrorContext(ctx, "failed to update campaign send status", "wamid", st.ID, "error", err)
	}
	if !msgUpdated && !sendUpdated {
		return
	}

	if reason != "" {
		slog.WarnContext(ctx, "message delivery failed", "wamid", st.ID, "reason", reason)
	}
	h.publisher.Publish(ctx, events.MessageStatusUpdate, events.StatusPayload{
		WAMID:         st.ID,
		Status:        st.Status,
		FailureReason: reason,
		From:          st.RecipientID,
	})
	if sendUpdated {
		h.publisher.Publish(ctx, events.CampaignsUpdated, gin.H{"wamid": st.ID, "status": st.Status})
	}
}

func failureReason(errs []wire.StatusError) string {
	if len(errs) == 0 {
		return ""
	}
	e := errs[0]
	detail := e.Detail()
	if detail == "" {
		detail = "No details"
	}
	return fmt.Sprintf("%d - %s (%s)", e.Code, e.Title, detail)
}

// parseTimestamp reads the provider's unix-seconds string.
func parseTimestamp(ts string, fallback time.Time) time.Time {
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Unix(secs, 0).UTC()
}

func bufferKey(recipientID, from string) string {
	return recipientID + ":" + from
}
