// Package outbound is the single send path: every message the core emits is
// sent through the provider, persisted as an outgoing Message and broadcast.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"whatsapp-crm/internal/events"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/store"
	"whatsapp-crm/internal/whatsapp"

	"gorm.io/datatypes"
)

// Provider is the messaging API surface the core depends on.
type Provider interface {
	SendText(ctx context.Context, creds whatsapp.Credentials, to, body, replyTo string) (string, error)
	SendButtons(ctx context.Context, creds whatsapp.Credentials, to, body string, buttons []models.InteractiveButton) (string, error)
	SendList(ctx context.Context, creds whatsapp.Credentials, to, body, button string, sections []models.InteractiveSection) (string, error)
}

// Outgoing addresses one send. Creds is resolved by the caller through Credentials.
type Outgoing struct {
	To          string
	RecipientID string
	Creds       whatsapp.Credentials
	Tag         string
	CampaignID  *uint
}

type Sender struct {
	provider  Provider
	store     *store.Store
	publisher events.Publisher
	now       func() time.Time
}

func NewSender(provider Provider, st *store.Store, publisher events.Publisher) *Sender {
	return &Sender{
		provider:  provider,
		store:     st,
		publisher: publisher,
		now:       time.Now,
	}
}

// WithClock overrides the clock used to timestamp persisted messages.
func (s *Sender) WithClock(now func() time.Time) *Sender {
	s.now = now
	return s
}

// Credentials resolves the access token of the business number recipientID.
func (s *Sender) Credentials(ctx context.Context, recipientID string) (whatsapp.Credentials, error) {
	pn, err := s.store.PhoneNumber(ctx, recipientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return whatsapp.Credentials{}, fmt.Errorf("phone number %s: %w", recipientID, whatsapp.ErrNoCredentials)
		}
		return whatsapp.Credentials{}, err
	}
	creds := whatsapp.Credentials{
		AccessToken:   pn.WabaAccount.AccessToken,
		PhoneNumberID: pn.PhoneNumberID,
	}
	if !creds.Valid() {
		return creds, fmt.Errorf("phone number %s: %w", recipientID, whatsapp.ErrNoCredentials)
	}
	return creds, nil
}

func (s *Sender) Text(ctx context.Context, out Outgoing, body string) (*models.Message, error) {
	return s.TextReply(ctx, out, body, "")
}

// TextReply sends body quoting the message replyTo.
func (s *Sender) TextReply(ctx context.Context, out Outgoing, body, replyTo string) (*models.Message, error) {
	wamid, err := s.provider.SendText(ctx, out.Creds, out.To, body, replyTo)
	if err != nil {
		return nil, fmt.Errorf("send text to %s: %w", out.To, err)
	}
	msg := s.message(out, wamid, "text", body)
	msg.ContextID = replyTo
	s.record(ctx, msg)
	return msg, nil
}

func (s *Sender) Buttons(ctx context.Context, out Outgoing, body string, buttons []models.InteractiveButton) (*models.Message, error) {
	wamid, err := s.provider.SendButtons(ctx, out.Creds, out.To, body, buttons)
	if err != nil {
		return nil, fmt.Errorf("send buttons to %s: %w", out.To, err)
	}
	msg := s.message(out, wamid, "interactive", body)
	msg.Interactive = datatypes.NewJSONType(models.Interactive{
		Type:    models.KindButtons,
		Body:    body,
		Buttons: buttons,
	})
	s.record(ctx, msg)
	return msg, nil
}

func (s *Sender) List(ctx context.Context, out Outgoing, body, button string, sections []models.InteractiveSection) (*models.Message, error) {
	wamid, err := s.provider.SendList(ctx, out.Creds, out.To, body, button, sections)
	if err != nil {
		return nil, fmt.Errorf("send list to %s: %w", out.To, err)
	}
	msg := s.message(out, wamid, "interactive", body)
	msg.Interactive = datatypes.NewJSONType(models.Interactive{
		Type:        models.KindList,
		Body:        body,
		ButtonLabel: button,
		Sections:    sections,
	})
	s.record(ctx, msg)
	return msg, nil
}

// Replay re-sends a previously persisted outgoing message in its original kind.
func (s *Sender) Replay(ctx context.Context, out Outgoing, prev *models.Message) (*models.Message, error) {
	ia := prev.Interactive.Data()
	switch ia.Type {
	case models.KindButtons:
		return s.Buttons(ctx, out, ia.Body, ia.Buttons)
	case models.KindList:
		return s.List(ctx, out, ia.Body, ia.ButtonLabel, ia.Sections)
	}
	return s.Text(ctx, out, prev.Body)
}

func (s *Sender) message(out Outgoing, wamid, kind, body string) *models.Message {
	return &models.Message{
		MessageID:   wamid,
		From:        out.To,
		RecipientID: out.RecipientID,
		Direction:   models.DirectionOutgoing,
		Type:        kind,
		Body:        body,
		Timestamp:   s.now().UTC(),
		CampaignID:  out.CampaignID,
		Status:      models.StatusSent,
		Tag:         out.Tag,
		Read:        true,
	}
}

// record persists and broadcasts a message the provider already accepted.
// A persistence failure is only logged since the customer already has the message.
func (s *Sender) record(ctx context.Context, msg *models.Message) {
	if _, err := s.store.CreateMessage(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "failed to persist outgoing message", "wamid", msg.MessageID, "error", err)
	}
	s.publisher.Publish(ctx, events.NewMessage, events.NewMessagePayload{
		From:        msg.From,
		RecipientID: msg.RecipientID,
		Message:     msg,
	})
}
