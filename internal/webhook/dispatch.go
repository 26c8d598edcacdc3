package webhook

import (
	"context"
	"log/slog"
	"strings"

	"whatsapp-crm/internal/automation"
	"whatsapp-crm/internal/logger"
	"whatsapp-crm/internal/models"

	"github.com/google/uuid"
)

// Inbound is one accepted message waiting in the debounce buffer.
type Inbound struct {
	Message       *models.Message
	ContactName   string
	ReplyID       string
	ReplyTitle    string
	IsDirectReply bool
	Campaign      *models.Campaign
}

// Dispatcher receives each coalesced turn.
type Dispatcher interface {
	Dispatch(ctx context.Context, t *automation.Turn)
}

// Aggregate merges a burst into one turn: bodies joined in arrival order,
// metadata from the last message, the first attributed campaign, and a direct
// reply if any message was one.
func Aggregate(items []Inbound) *automation.Turn {
	if len(items) == 0 {
		return nil
	}
	last := items[len(items)-1]
	t := &automation.Turn{
		ID:          uuid.NewString(),
		Phone:       last.Message.From,
		RecipientID: last.Message.RecipientID,
		ContactName: last.ContactName,
		ReplyID:     last.ReplyID,
		ReplyTitle:  last.ReplyTitle,
		BatchSize:   len(items),
	}

	bodies := make([]string, 0, len(items))
	for _, it := range items {
		if b := strings.TrimSpace(it.Message.Body); b != "" {
			bodies = append(bodies, b)
		}
		if t.Campaign == nil && it.Campaign != nil {
			t.Campaign = it.Campaign
		}
		if it.IsDirectReply {
			t.IsDirectReply = true
		}
	}
	t.Body = strings.Join(bodies, ". ")
	return t
}

// flush runs on the buffer's timer goroutine, detached from any request.
func (h *Handler) flush(key string, items []Inbound) {
	t := Aggregate(items)
	if t == nil {
		return
	}
	ctx := logger.WithLogFields(context.Background(), logger.LogFields{
		Phone:       t.Phone,
		RecipientID: t.RecipientID,
		TurnID:      t.ID,
		Component:   "buffer",
	})
	slog.DebugContext(ctx, "dispatching buffered turn", "key", key, "messages", len(items))
	h.dispatcher.Dispatch(ctx, t)
}
