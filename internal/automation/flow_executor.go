package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"whatsapp-crm/internal/logger"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/outbound"
	"whatsapp-crm/internal/store"
	"whatsapp-crm/internal/whatsapp"
)

var (
	ErrFlowNotConfigured = errors.New("no active bot flow")
	ErrNodeNotFound      = errors.New("bot node not found")
)

const (
	recentOutgoingLimit = 20
	replayFallbackText  = "How can we help?"
	defaultEntrySource  = "WhatsApp"
)

// conversation carries one turn through the bot.
type conversation struct {
	e       *Engine
	out     outbound.Outgoing
	enquiry *models.Enquiry
	graph   *Graph
	now     time.Time
}

// HandleTurn advances the bot conversation of t's sender by one step.
func (e *Engine) HandleTurn(ctx context.Context, t *Turn, creds whatsapp.Credentials) error {
	now := e.now().UTC()

	enquiry, err := e.store.LatestEnquiry(ctx, t.Phone, t.RecipientID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load enquiry: %w", err)
	}
	if enquiry != nil {
		ctx = logger.WithLogFields(ctx, logger.LogFields{EnquiryID: logger.Ptr(enquiry.ID)})
	}

	c := &conversation{
		e:       e,
		enquiry: enquiry,
		now:     now,
		out: outbound.Outgoing{
			To:          t.Phone,
			RecipientID: t.RecipientID,
			Creds:       creds,
			Tag:         models.TagBot,
		},
	}

	// 1. Answers to scheduler prompts need no flow.
	switch {
	case t.ReplyID == ReplyStuckContinue:
		return c.resume(ctx)
	case t.ReplyID == ReplyStuckEnd:
		return c.endChat(ctx)
	case strings.HasPrefix(t.ReplyID, ReplyRatePrefix):
		return c.rate(ctx, t.ReplyID)
	}

	// 2. Load the business number's active flow.
	flow, graph, err := e.LoadGraph(ctx, t.RecipientID)
	if err != nil {
		return err
	}
	c.graph = graph

	// 3. Completion follow-up answers re-enter the flow.
	if t.ReplyID == ReplyFollowUpYes || t.ReplyID == ReplyFollowUpNo {
		return c.followUpAnswer(ctx, flow, t.ReplyID == ReplyFollowUpYes)
	}

	// 4. An ended conversation stays silent until the cool-off passes.
	if enquiry != nil && enquiry.IsEnded() {
		if now.Sub(enquiry.UpdatedAt) < e.opts.CoolOff {
			slog.DebugContext(ctx, "conversation ended recently, staying silent",
				"updated_at", enquiry.UpdatedAt, "cool_off", e.opts.CoolOff)
			return nil
		}
		return c.restart(ctx, t)
	}

	// 5. First contact.
	if enquiry == nil {
		return c.start(ctx, t, nil)
	}

	// 6. A property link mid-flow only records the project.
	if strings.Contains(t.lower(), "http") {
		if project, pageURL := ProjectFromURL(t.Body); project != "" {
			enquiry.ProjectName = project
			enquiry.PageURL = pageURL
			enquiry.UpdatedAt = now
			return e.store.SaveEnquiry(ctx, enquiry)
		}
	}

	// 7. Record the answer and move to the next node.
	return c.advance(ctx, t)
}

// LoadGraph loads the active flow of the business number recipientID.
func (e *Engine) LoadGraph(ctx context.Context, recipientID string) (*models.BotFlow, *Graph, error) {
	pn, err := e.store.PhoneNumber(ctx, recipientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("number %s: %w", recipientID, ErrFlowNotConfigured)
		}
		return nil, nil, err
	}
	if pn.ActiveBotFlowID == nil {
		return nil, nil, fmt.Errorf("number %s: %w", recipientID, ErrFlowNotConfigured)
	}
	flow, err := e.store.BotFlowWithNodes(ctx, *pn.ActiveBotFlowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("flow %d: %w", *pn.ActiveBotFlowID, ErrFlowNotConfigured)
		}
		return nil, nil, err
	}
	return flow, NewGraph(flow), nil
}

// start opens a new enquiry. Answers already given in prev are carried over
// and their questions skipped.
func (c *conversation) start(ctx context.Context, t *Turn, prev *models.Enquiry) error {
	en := &models.Enquiry{
		Phone:       t.Phone,
		RecipientID: t.RecipientID,
		BotFlowID:   &c.graph.FlowID,
		Status:      models.EnquiryOpen,
		Language:    models.LangEnglish,
		EntrySource: defaultEntrySource,
		CreatedAt:   c.now,
		UpdatedAt:   c.now,
	}
	if prev != nil {
		en.Name = prev.Name
		en.Email = prev.Email
		en.SkipName = prev.Name != ""
		en.SkipEmail = prev.Email != ""
		en.Language = prev.Lang()
	}
	if hasArabic(t.Body) {
		en.Language = models.LangArabic
	}
	if project, pageURL := ProjectFromURL(t.Body); project != "" {
		en.ProjectName = project
		en.PageURL = pageURL
	}
	c.enquiry = en
	return c.begin(ctx)
}

// restart reopens an ended conversation after the cool-off. Closed and
// handed-over enquiries are kept as records and superseded.
func (c *conversation) restart(ctx context.Context, t *Turn) error {
	en := c.enquiry
	if en.Status != models.EnquiryOpen {
		return c.start(ctx, t, en)
	}

	en.ConversationState = ""
	en.BotFlowID = &c.graph.FlowID
	en.EndedAt = nil
	en.EndMessageSent = false
	en.NodeFollowUpSent = false
	en.CompletionFollowUpSent = false
	en.LastStuckFollowUpSentAt = nil
	en.ReviewStatus = ""
	en.ReviewRating = 0
	en.SkipName = en.Name != ""
	en.SkipEmail = en.Email != ""
	if project, pageURL := ProjectFromURL(t.Body); project != "" {
		en.ProjectName = project
		en.PageURL = pageURL
	}
	return c.begin(ctx)
}

// begin sends the start node. A plain greeting is followed straight away by
// the first question.
func (c *conversation) begin(ctx context.Context) error {
	if err := c.enter(ctx, c.graph.StartKey); err != nil {
		return err
	}
	start, ok := c.graph.Node(c.graph.StartKey)
	if !ok || c.enquiry.ConversationState != c.graph.StartKey {
		return nil
	}
	if start.MessageType == models.NodeText && start.SaveToField == "" &&
		start.NextNodeKey != "" && start.NextNodeKey != models.StateEnd {
		return c.enter(ctx, start.NextNodeKey)
	}
	return nil
}

// advance stores the answer to the current node and enters the next one.
func (c *conversation) advance(ctx context.Context, t *Turn) error {
	en := c.enquiry
	node, ok := c.graph.Node(en.ConversationState)
	if !ok {
		slog.ErrorContext(ctx, "current node missing from flow", "node", en.ConversationState, "flow_id", c.graph.FlowID)
		return fmt.Errorf("%w: %q in flow %d", ErrNodeNotFound, en.ConversationState, c.graph.FlowID)
	}
	if c.skips(node) {
		return c.enter(ctx, node.NextNodeKey)
	}

	var next string
	switch node.MessageType {
	case models.NodeButtons, models.NodeList:
		if t.ReplyID == "" {
			slog.DebugContext(ctx, "waiting for an option to be picked", "node", node.NodeKey)
			return nil
		}
		if !node.HasOption(t.ReplyID) {
			slog.WarnContext(ctx, "reply matches no option of the current node", "node", node.NodeKey, "reply_id", t.ReplyID)
			return nil
		}
		if node.SaveToField != "" {
			en.SetField(canonicalField(node.SaveToField), t.ReplyTitle)
		}
		next = t.ReplyID

	default:
		if node.SaveToField != "" {
			field := canonicalField(node.SaveToField)
			answer := strings.TrimSpace(t.Body)
			switch {
			case strings.EqualFold(answer, "skip"):
				answer = ""
			case field == "email":
				answer = strings.ToLower(answer)
				if !IsValidEmail(answer) {
					out := c.out
					out.Tag = models.TagSystemResponse
					_, err := c.e.sender.Text(ctx, out, textInvalidEmail.In(en.Lang()))
					return err
				}
			}
			en.SetField(field, answer)
		}
		next = node.NextNodeKey
	}

	if next == "" {
		slog.ErrorContext(ctx, "node has no next node", "node", node.NodeKey, "flow_id", c.graph.FlowID)
		return fmt.Errorf("%w: node %s has no next node", ErrNodeNotFound, node.NodeKey)
	}
	return c.enter(ctx, next)
}

// enter sends the node at key, or the first node after it whose answer is
// already known, and makes it the current state.
func (c *conversation) enter(ctx context.Context, key string) error {
	for hops := 0; hops <= c.graph.Len(); hops++ {
		if key == models.StateEnd {
			return c.finish(ctx)
		}
		node, ok := c.graph.Node(key)
		if !ok {
			slog.ErrorContext(ctx, "next node missing from flow", "node", key, "flow_id", c.graph.FlowID)
			return fmt.Errorf("%w: %q in flow %d", ErrNodeNotFound, key, c.graph.FlowID)
		}
		if c.skips(node) {
			slog.DebugContext(ctx, "skipping question, answer already known", "node", key, "field", node.SaveToField)
			key = node.NextNodeKey
			continue
		}

		if err := c.send(ctx, node); err != nil {
			return err
		}
		now := c.now
		c.enquiry.ConversationState = key
		c.enquiry.LastNodeSentAt = &now
		c.enquiry.NodeFollowUpSent = false
		c.enquiry.UpdatedAt = now
		return c.save(ctx)
	}
	return fmt.Errorf("skip chain in flow %d does not terminate", c.graph.FlowID)
}

// finish sends the END node once and marks the conversation ended.
func (c *conversation) finish(ctx context.Context) error {
	en := c.enquiry
	if !en.EndMessageSent {
		if node, ok := c.graph.Node(models.StateEnd); ok {
			if err := c.send(ctx, node); err != nil {
				return err
			}
		}
		en.EndMessageSent = true
	}
	now := c.now
	en.ConversationState = models.StateEnd
	en.EndedAt = &now
	en.UpdatedAt = now
	return c.save(ctx)
}

func (c *conversation) skips(node *models.BotNode) bool {
	switch canonicalField(node.SaveToField) {
	case "name":
		return c.enquiry.SkipName
	case "email":
		return c.enquiry.SkipEmail
	}
	return false
}

// send renders node for the enquiry. Option ids are the keys they lead to.
func (c *conversation) send(ctx context.Context, node *models.BotNode) error {
	text := FillTemplate(node.MessageText, c.enquiry)

	var err error
	switch node.MessageType {
	case models.NodeButtons:
		var buttons []models.InteractiveButton
		for _, b := range node.Buttons.Data() {
			buttons = append(buttons, models.InteractiveButton{ID: b.NextNodeKey, Title: b.Title})
		}
		_, err = c.e.sender.Buttons(ctx, c.out, text, buttons)
	case models.NodeList:
		var sections []models.InteractiveSection
		for _, s := range node.ListSections.Data() {
			section := models.InteractiveSection{Title: s.Title}
			for _, r := range s.Rows {
				section.Rows = append(section.Rows, models.InteractiveRow{ID: r.NextNodeKey, Title: r.Title, Description: r.Description})
			}
			sections = append(sections, section)
		}
		button := node.ListButtonText
		if button == "" {
			button = defaultListButton
		}
		_, err = c.e.sender.List(ctx, c.out, text, button, sections)
	default:
		_, err = c.e.sender.Text(ctx, c.out, text)
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to send node", "node", node.NodeKey, "error", err)
		return fmt.Errorf("send node %s: %w", node.NodeKey, err)
	}
	return nil
}

func (c *conversation) save(ctx context.Context) error {
	if c.enquiry.ID == 0 {
		return c.e.store.CreateEnquiry(ctx, c.enquiry)
	}
	return c.e.store.SaveEnquiry(ctx, c.enquiry)
}

// resume answers "Continue" on a stuck prompt by repeating the last thing the
// bot asked.
func (c *conversation) resume(ctx context.Context) error {
	en := c.enquiry
	msgs, err := c.e.store.RecentOutgoing(ctx, c.out.To, c.out.RecipientID, recentOutgoingLimit)
	if err != nil {
		return err
	}
	if prev := lastBotPrompt(msgs); prev != nil {
		replay := *prev
		if !replay.IsInteractive() && replay.Body == "" {
			replay.Body = replayFallbackText
		}
		_, err = c.e.sender.Replay(ctx, c.out, &replay)
	} else {
		_, err = c.e.sender.Text(ctx, c.out, textContinueFallback.In(en.Lang()))
	}
	if err != nil {
		return err
	}

	// An ended conversation only gets the replay; touching it would restart the cool-off.
	if en == nil || en.IsEnded() {
		return nil
	}
	now := c.now
	en.LastStuckFollowUpSentAt = &now
	en.UpdatedAt = now
	return c.save(ctx)
}

// lastBotPrompt returns the newest message that is not itself a stuck prompt.
func lastBotPrompt(msgs []models.Message) *models.Message {
	for i := range msgs {
		m := &msgs[i]
		if m.Tag == models.TagStuckPrompt || hasStuckButtons(m) {
			continue
		}
		return m
	}
	return nil
}

func hasStuckButtons(m *models.Message) bool {
	for _, b := range m.Interactive.Data().Buttons {
		if strings.HasPrefix(b.ID, "stuck_") {
			return true
		}
	}
	return false
}

// endChat answers "End Chat" on a stuck prompt.
func (c *conversation) endChat(ctx context.Context) error {
	en := c.enquiry
	if en == nil || en.IsEnded() {
		slog.DebugContext(ctx, "ignoring end chat without an active conversation")
		return nil
	}
	if _, err := c.e.sender.Text(ctx, c.out, textBye.In(en.Lang())); err != nil {
		return err
	}
	now := c.now
	en.ConversationState = models.StateEnd
	en.Status = models.EnquiryClosed
	en.EndedAt = &now
	en.UpdatedAt = now
	return c.save(ctx)
}

// rate stores a satisfaction rating picked from the review list.
func (c *conversation) rate(ctx context.Context, replyID string) error {
	n, err := strconv.Atoi(strings.TrimPrefix(replyID, ReplyRatePrefix))
	if err != nil || n < 1 || n > 5 {
		slog.WarnContext(ctx, "unknown rating reply", "reply_id", replyID)
		return nil
	}
	en := c.enquiry
	if en == nil {
		slog.DebugContext(ctx, "rating without an enquiry", "rating", n)
		return nil
	}
	en.ReviewRating = n
	en.ReviewStatus = models.ReviewReceived
	en.UpdatedAt = c.now
	if err := c.save(ctx); err != nil {
		return err
	}

	out := c.out
	out.Tag = models.TagSystemResponse
	_, err = c.e.sender.Text(ctx, out, textRatingThanks.In(en.Lang()))
	return err
}

// followUpAnswer handles the yes/no completion follow-up buttons.
func (c *conversation) followUpAnswer(ctx context.Context, flow *models.BotFlow, yes bool) error {
	en := c.enquiry
	if en == nil {
		slog.DebugContext(ctx, "follow-up answer without an enquiry")
		return nil
	}

	target := flow.CompletionFollowUpNoNodeKey
	if yes {
		target = flow.CompletionFollowUpYesNodeKey
		en.AgentContacted = true
	} else {
		en.AgentContacted = false
		en.NeedsImmediateAttention = true
	}
	if target == "" {
		slog.WarnContext(ctx, "flow has no completion follow-up target", "flow_id", flow.ID, "yes", yes)
		en.UpdatedAt = c.now
		return c.save(ctx)
	}

	en.EndMessageSent = false
	en.EndedAt = nil
	en.NodeFollowUpSent = false
	return c.enter(ctx, target)
}
