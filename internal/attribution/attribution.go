// Package attribution decides which campaign, if any, an inbound message is a reply to.
package attribution

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/store"
)

const (
	MethodContext = "context"
	MethodKeyword = "keyword"
	MethodRecency = "recency"
)

// Keywords force the extended lookback when found anywhere in the body.
var Keywords = []string{
	"yes, i am interested",
	"not interested",
	"stop",
	"subscribe",
	"نعم، مهتم",
}

// Sends is the campaign send history attribution reads from.
type Sends interface {
	CampaignSendByMessageID(ctx context.Context, messageID string) (*models.CampaignSend, error)
	LatestSuccessfulSend(ctx context.Context, phone string, since time.Time) (*models.CampaignSend, error)
}

type Input struct {
	Phone     string
	Body      string
	ContextID string
	// ButtonReply marks interactive and template button replies.
	ButtonReply bool
	Now         time.Time
}

type Result struct {
	Campaign      *models.Campaign
	IsDirectReply bool
	Method        string
}

type Attributor struct {
	sends         Sends
	keywordWindow time.Duration
	recencyWindow time.Duration
}

func New(sends Sends, keywordWindow, recencyWindow time.Duration) *Attributor {
	return &Attributor{
		sends:         sends,
		keywordWindow: keywordWindow,
		recencyWindow: recencyWindow,
	}
}

// Attribute applies the rules in priority order; the first match wins.
// Lookup failures are logged and treated as no match.
func (a *Attributor) Attribute(ctx context.Context, in Input) Result {
	res := Result{IsDirectReply: in.ButtonReply}

	if in.ContextID != "" {
		send, err := a.sends.CampaignSendByMessageID(ctx, in.ContextID)
		switch {
		case err == nil && send.Campaign.ID != 0:
			res.Campaign = &send.Campaign
			res.IsDirectReply = true
			res.Method = MethodContext
			return res
		case err != nil && !errors.Is(err, store.ErrNotFound):
			slog.WarnContext(ctx, "context attribution lookup failed", "context_id", in.ContextID, "error", err)
		}
	}

	lower := strings.ToLower(in.Body)
	if HasKeyword(lower) {
		if c := a.latest(ctx, in.Phone, in.Now.Add(-a.keywordWindow)); c != nil {
			res.Campaign = c
			res.Method = MethodKeyword
			return res
		}
	}

	if !strings.Contains(lower, "http") {
		if c := a.latest(ctx, in.Phone, in.Now.Add(-a.recencyWindow)); c != nil {
			res.Campaign = c
			res.Method = MethodRecency
			return res
		}
	}

	return res
}

func (a *Attributor) latest(ctx context.Context, phone string, since time.Time) *models.Campaign {
	send, err := a.sends.LatestSuccessfulSend(ctx, phone, since)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "campaign send lookup failed", "phone", phone, "error", err)
		}
		return nil
	}
	if send.Campaign.ID == 0 {
		return nil
	}
	return &send.Campaign
}

// HasKeyword reports whether the lowercased body contains an attribution keyword.
func HasKeyword(lower string) bool {
	for _, k := range Keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
