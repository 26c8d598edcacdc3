package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"whatsapp-crm/internal/logger"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/outbound"
	"whatsapp-crm/internal/store"
	"whatsapp-crm/internal/whatsapp"
)

type Options struct {
	CoolOff          time.Duration
	LeadNotifyNumber string
}

// Engine decides what each buffered turn triggers: an unsubscribe exchange,
// a campaign auto-reply or a step of the bot flow.
type Engine struct {
	store  *store.Store
	sender *outbound.Sender
	opts   Options
	now    func() time.Time
}

func NewEngine(st *store.Store, sender *outbound.Sender, opts Options) *Engine {
	if opts.CoolOff <= 0 {
		opts.CoolOff = time.Hour
	}
	return &Engine{
		store:  st,
		sender: sender,
		opts:   opts,
		now:    time.Now,
	}
}

// WithClock overrides the engine's clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Intent is the single action a turn resolves to.
type Intent string

const (
	IntentNone                  Intent = "none"
	IntentReasonDetail          Intent = "reason_detail"
	IntentStop                  Intent = "stop"
	IntentReason                Intent = "reason"
	IntentSystemReply           Intent = "system_reply"
	IntentResubscribe           Intent = "resubscribe"
	IntentCampaignInterested    Intent = "campaign_interested"
	IntentCampaignInterestedAr  Intent = "campaign_interested_ar"
	IntentCampaignNotInterested Intent = "campaign_not_interested"
	IntentBot                   Intent = "bot"
)

// Condition matches the lowercased turn body.
type Condition struct {
	Operator string // equals, contains, starts_with
	Value    string
}

func (c Condition) Match(lower string) bool {
	value := strings.ToLower(c.Value)
	switch c.Operator {
	case "equals":
		return lower == value
	case "contains":
		return strings.Contains(lower, value)
	case "starts_with":
		return strings.HasPrefix(lower, value)
	}
	return false
}

func anyMatch(conds []Condition, lower string) bool {
	for _, c := range conds {
		if c.Match(lower) {
			return true
		}
	}
	return false
}

var (
	stopConditions = []Condition{
		{Operator: "contains", Value: "stop"},
		{Operator: "contains", Value: "إيقاف"},
	}
	leadStopConditions = []Condition{
		{Operator: "contains", Value: "stop"},
		{Operator: "contains", Value: "unsubscribe"},
		{Operator: "contains", Value: "cancel"},
		{Operator: "contains", Value: "opt out"},
		{Operator: "contains", Value: "remove"},
	}
	systemReplyPrefixes = []string{"stuck_", "followup_", ReplyRatePrefix}
)

type classifier struct {
	intent Intent
	match  func(t *Turn, lower string, contact *models.Contact) bool
}

// policy is evaluated in order; the first match wins.
var policy = []classifier{
	{IntentReasonDetail, func(_ *Turn, lower string, c *models.Contact) bool {
		return c != nil && c.UnsubscribeReason == reasonOther && c.IsSubscribed && !strings.Contains(lower, "stop")
	}},
	{IntentStop, func(_ *Turn, lower string, _ *models.Contact) bool {
		return anyMatch(stopConditions, lower)
	}},
	{IntentReason, func(_ *Turn, lower string, _ *models.Contact) bool {
		return isUnsubscribeReason(lower)
	}},
	{IntentSystemReply, func(t *Turn, _ string, _ *models.Contact) bool {
		for _, p := range systemReplyPrefixes {
			if strings.HasPrefix(t.ReplyID, p) {
				return true
			}
		}
		return false
	}},
	{IntentResubscribe, func(_ *Turn, _ string, c *models.Contact) bool {
		return c != nil && !c.IsSubscribed
	}},
	{IntentCampaignInterested, func(t *Turn, lower string, _ *models.Contact) bool {
		return t.IsCampaignReply() && strings.Contains(lower, "yes, i am interested")
	}},
	{IntentCampaignInterestedAr, func(t *Turn, lower string, _ *models.Contact) bool {
		return t.IsCampaignReply() && strings.Contains(lower, "نعم، مهتم")
	}},
	{IntentCampaignNotInterested, func(t *Turn, lower string, _ *models.Contact) bool {
		return t.IsCampaignReply() && strings.Contains(lower, "not interested")
	}},
	{IntentBot, func(t *Turn, _ string, _ *models.Contact) bool {
		return !t.IsCampaignReply()
	}},
}

// Classify resolves a turn to one intent. contact may be nil.
func Classify(t *Turn, contact *models.Contact) Intent {
	if strings.TrimSpace(t.Body) == "" && t.ReplyID == "" {
		return IntentNone
	}
	lower := t.lower()
	for _, c := range policy {
		if c.match(t, lower, contact) {
			return c.intent
		}
	}
	return IntentNone
}

func isUnsubscribeReason(lower string) bool {
	for _, r := range UnsubscribeReasons {
		if strings.ToLower(r) == lower {
			return true
		}
	}
	return false
}

// Dispatch runs lead routing and then the action the turn classifies to.
// Failures are logged; nothing is returned to the buffer.
func (e *Engine) Dispatch(ctx context.Context, t *Turn) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Phone:       t.Phone,
		RecipientID: t.RecipientID,
		TurnID:      t.ID,
		Component:   "automation",
	})

	creds, credErr := e.sender.Credentials(ctx, t.RecipientID)
	e.routeLead(ctx, t, creds, credErr == nil)
	if credErr != nil {
		slog.ErrorContext(ctx, "no credentials for business number, skipping auto-reply", "error", credErr)
		return
	}

	contact, err := e.store.ContactByPhone(ctx, t.Phone)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.ErrorContext(ctx, "failed to load contact", "error", err)
		return
	}

	intent := Classify(t, contact)
	slog.InfoContext(ctx, "turn classified", "intent", intent, "messages", t.BatchSize, "body", logger.Truncate(t.Body, 80))

	out := outbound.Outgoing{
		To:          t.Phone,
		RecipientID: t.RecipientID,
		Creds:       creds,
		Tag:         models.TagAutoReply,
	}
	if t.Campaign != nil {
		out.CampaignID = &t.Campaign.ID
	}

	switch intent {
	case IntentReasonDetail:
		err = e.unsubscribe(ctx, out, contact, t.Body)
	case IntentStop:
		err = e.askUnsubscribeReason(ctx, out)
	case IntentReason:
		err = e.recordReason(ctx, out, contact, t.Body)
	case IntentResubscribe:
		err = e.resubscribe(ctx, out, contact)
	case IntentCampaignInterested:
		err = e.campaignAnswer(ctx, out, t, contact, models.LangEnglish, true)
	case IntentCampaignInterestedAr:
		err = e.campaignAnswer(ctx, out, t, contact, models.LangArabic, true)
	case IntentCampaignNotInterested:
		err = e.campaignAnswer(ctx, out, t, contact, models.LangEnglish, false)
	case IntentSystemReply, IntentBot:
		err = e.HandleTurn(ctx, t, creds)
		if errors.Is(err, ErrFlowNotConfigured) {
			slog.DebugContext(ctx, "bot disabled for business number", "error", err)
			err = nil
		}
	}
	if err != nil {
		slog.ErrorContext(ctx, "turn handling failed", "intent", intent, "error", err)
	}
}

// routeLead credits direct campaign replies and announces new leads.
func (e *Engine) routeLead(ctx context.Context, t *Turn, creds whatsapp.Credentials, canSend bool) {
	if t.Campaign == nil || !t.IsDirectReply || strings.TrimSpace(t.Body) == "" {
		return
	}
	if anyMatch(leadStopConditions, t.lower()) {
		slog.InfoContext(ctx, "campaign reply is an opt-out, not a lead", "campaign_id", t.Campaign.ID)
		return
	}

	count, err := e.store.CountIncomingForCampaign(ctx, t.Phone, t.Campaign.ID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count campaign replies", "campaign_id", t.Campaign.ID, "error", err)
	} else if count <= int64(t.BatchSize+2) {
		e.announceLead(ctx, t, creds, canSend)
	}

	if err := e.store.IncrementReplyCount(ctx, t.Campaign.ID); err != nil {
		slog.ErrorContext(ctx, "failed to increment campaign reply count", "campaign_id", t.Campaign.ID, "error", err)
	}
}

func (e *Engine) announceLead(ctx context.Context, t *Turn, creds whatsapp.Credentials, canSend bool) {
	name := "Unknown"
	if c, err := e.store.ContactByPhone(ctx, t.Phone); err == nil && c.Name != "" {
		name = c.Name
	}
	campaign := t.Campaign.TemplateName
	if campaign == "" {
		campaign = t.Campaign.Name
	}
	if campaign == "" {
		campaign = "Unknown Campaign"
	}

	slog.InfoContext(ctx, "new lead from campaign", "campaign_id", t.Campaign.ID, "campaign", t.Campaign.Name)
	msg := fmt.Sprintf("New lead %s (%s) replied to campaign %q", t.Phone, name, t.Campaign.Name)
	if err := e.store.CreateLog(ctx, models.LogSuccess, msg, &t.Campaign.ID); err != nil {
		slog.ErrorContext(ctx, "failed to write lead log", "error", err)
	}

	if e.opts.LeadNotifyNumber == "" || !canSend {
		return
	}
	out := outbound.Outgoing{
		To:          e.opts.LeadNotifyNumber,
		RecipientID: t.RecipientID,
		Creds:       creds,
		Tag:         models.TagLeadNotice,
		CampaignID:  &t.Campaign.ID,
	}
	body := fmt.Sprintf(leadNotificationFmt, name, t.Phone, campaign)
	if _, err := e.sender.Text(ctx, out, body); err != nil {
		slog.ErrorContext(ctx, "failed to notify lead number", "error", err)
	}
}

// askUnsubscribeReason acknowledges a stop request and offers the reason list.
// The contact stays subscribed until a reason is picked.
func (e *Engine) askUnsubscribeReason(ctx context.Context, out outbound.Outgoing) error {
	if _, err := e.sender.Text(ctx, out, textUnsubscribeAsk); err != nil {
		return err
	}
	rows := make([]models.InteractiveRow, 0, len(UnsubscribeReasons))
	for _, r := range UnsubscribeReasons {
		rows = append(rows, models.InteractiveRow{ID: reasonID(r), Title: r})
	}
	_, err := e.sender.List(ctx, out, textReasonListBody, textReasonButton, []models.InteractiveSection{
		{Title: textReasonSection, Rows: rows},
	})
	return err
}

func reasonID(reason string) string {
	return ReplyReasonPrefix + strings.ReplaceAll(strings.ToLower(reason), " ", "_")
}

// recordReason handles a picked reason. "Other" asks for free text first.
func (e *Engine) recordReason(ctx context.Context, out outbound.Outgoing, contact *models.Contact, body string) error {
	reason := strings.TrimSpace(body)
	if !strings.EqualFold(reason, reasonOther) {
		return e.unsubscribe(ctx, out, contact, reason)
	}
	if contact != nil {
		contact.UnsubscribeReason = reasonOther
		if err := e.store.SaveContact(ctx, contact); err != nil {
			return err
		}
	}
	_, err := e.sender.Text(ctx, out, textReasonOtherAsk)
	return err
}

// unsubscribe opts the contact out and parks it on the unsubscriber list,
// remembering the list it came from.
func (e *Engine) unsubscribe(ctx context.Context, out outbound.Outgoing, contact *models.Contact, reason string) error {
	if contact != nil {
		list, err := e.store.ContactListByName(ctx, unsubscriberList)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		if contact.ContactListID == nil || *contact.ContactListID != list.ID {
			contact.PreviousContactListID = contact.ContactListID
		}
		contact.ContactListID = &list.ID
		contact.IsSubscribed = false
		contact.UnsubscribeReason = reason
		contact.UnsubscribeDate = &now
		if err := e.store.SaveContact(ctx, contact); err != nil {
			return err
		}
		msg := fmt.Sprintf("Contact %s unsubscribed: %s", contact.PhoneNumber, reason)
		if err := e.store.CreateLog(ctx, models.LogInfo, msg, out.CampaignID); err != nil {
			slog.ErrorContext(ctx, "failed to write unsubscribe log", "error", err)
		}
		slog.InfoContext(ctx, "contact unsubscribed", "reason", reason)
	}
	_, err := e.sender.Text(ctx, out, textUnsubscribed)
	return err
}

func (e *Engine) resubscribe(ctx context.Context, out outbound.Outgoing, contact *models.Contact) error {
	contact.IsSubscribed = true
	if contact.PreviousContactListID != nil {
		contact.ContactListID = contact.PreviousContactListID
		contact.PreviousContactListID = nil
	}
	contact.UnsubscribeReason = ""
	contact.UnsubscribeDate = nil
	if err := e.store.SaveContact(ctx, contact); err != nil {
		return err
	}
	slog.InfoContext(ctx, "contact resubscribed")
	_, err := e.sender.Text(ctx, out, textWelcomeBack)
	return err
}

// campaignAnswer records a keyword answer to a campaign as an already ended
// enquiry, so neither the bot nor the follow-up rules pick it up.
func (e *Engine) campaignAnswer(ctx context.Context, out outbound.Outgoing, t *Turn, contact *models.Contact, lang string, interested bool) error {
	now := e.now().UTC()
	en := &models.Enquiry{
		Phone:                  t.Phone,
		RecipientID:            t.RecipientID,
		ConversationState:      models.StateEnd,
		Language:               lang,
		CreatedAt:              now,
		UpdatedAt:              now,
		EndedAt:                &now,
		EndMessageSent:         true,
		CompletionFollowUpSent: true,
	}

	var reply string
	if interested {
		en.Status = models.EnquiryHandover
		en.HandoverReason = "Campaign Interested"
		if lang == models.LangArabic {
			en.HandoverReason = "Campaign Interested (Arabic)"
		}
		en.EntrySource = "Campaign: " + t.Campaign.Name
		en.Name = "NA"
		if contact != nil && contact.Name != "" {
			en.Name = contact.Name
		} else if t.ContactName != "" {
			en.Name = t.ContactName
		}
		reply = textInterested.In(lang)
	} else {
		en.Status = models.EnquiryClosed
		en.HandoverReason = "Campaign Not Interested"
		reply = textNotInterested
	}

	if err := e.store.CreateEnquiry(ctx, en); err != nil {
		return err
	}
	slog.InfoContext(ctx, "campaign answer recorded", "campaign_id", t.Campaign.ID, "status", en.Status, "enquiry_id", en.ID)
	_, err := e.sender.Text(ctx, out, reply)
	return err
}
