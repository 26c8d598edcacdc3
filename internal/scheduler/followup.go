package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"whatsapp-crm/internal/automation"
	"whatsapp-crm/internal/logger"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/outbound"
	"whatsapp-crm/internal/store"
)

type FollowUpOptions struct {
	StuckAfter    time.Duration
	StuckCooldown time.Duration
	TimeoutAfter  time.Duration
	ReviewAfter   time.Duration
}

func DefaultFollowUpOptions() FollowUpOptions {
	return FollowUpOptions{
		StuckAfter:    3 * time.Minute,
		StuckCooldown: 24 * time.Hour,
		TimeoutAfter:  10 * time.Minute,
		ReviewAfter:   time.Minute,
	}
}

// FollowUp nudges idle conversations, closes the ones that stay silent and
// asks finished ones for a rating.
type FollowUp struct {
	store  *store.Store
	sender *outbound.Sender
	opts   FollowUpOptions
}

// NewFollowUp fills zero durations in opts from DefaultFollowUpOptions.
func NewFollowUp(st *store.Store, sender *outbound.Sender, opts FollowUpOptions) *FollowUp {
	def := DefaultFollowUpOptions()
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = def.StuckAfter
	}
	if opts.StuckCooldown <= 0 {
		opts.StuckCooldown = def.StuckCooldown
	}
	if opts.TimeoutAfter <= 0 {
		opts.TimeoutAfter = def.TimeoutAfter
	}
	if opts.ReviewAfter <= 0 {
		opts.ReviewAfter = def.ReviewAfter
	}
	return &FollowUp{store: st, sender: sender, opts: opts}
}

// Sweep applies the stuck, timeout and review rules in that order. A failure
// on one enquiry never stops the others.
func (f *FollowUp) Sweep(ctx context.Context, now time.Time) {
	now = now.UTC()
	f.stuck(ctx, now)
	f.timeouts(ctx, now)
	f.reviews(ctx, now)
}

func (f *FollowUp) stuck(ctx context.Context, now time.Time) {
	updatedBefore := now.Add(-f.opts.StuckAfter)
	stuckBefore := now.Add(-f.opts.StuckCooldown)

	candidates, err := f.store.StuckCandidates(ctx, updatedBefore, stuckBefore)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list stuck enquiries", "error", err)
		return
	}
	sent := 0
	for i := range candidates {
		en := &candidates[i]
		ectx := enquiryContext(ctx, en)
		ok, err := f.sendStuck(ectx, en, now, updatedBefore, stuckBefore)
		if err != nil {
			slog.ErrorContext(ectx, "stuck follow-up failed", "error", err)
			continue
		}
		if ok {
			sent++
		}
	}
	if sent > 0 {
		slog.InfoContext(ctx, "stuck follow-ups sent", "count", sent)
	}
}

func (f *FollowUp) sendStuck(ctx context.Context, en *models.Enquiry, now, updatedBefore, stuckBefore time.Time) (bool, error) {
	out, err := f.outgoing(ctx, en, models.TagStuckPrompt)
	if err != nil {
		return false, err
	}
	claimed, err := f.store.ClaimStuckFollowUp(ctx, en.ID, now, updatedBefore, stuckBefore)
	if err != nil || !claimed {
		return false, err
	}

	body, buttons := automation.StuckPrompt(en.Lang())
	if _, err := f.sender.Buttons(ctx, out, body, buttons); err != nil {
		if rerr := f.store.ReleaseStuckFollowUp(ctx, en.ID, now, en.LastStuckFollowUpSentAt, en.UpdatedAt); rerr != nil {
			slog.ErrorContext(ctx, "failed to release stuck follow-up claim", "error", rerr)
		}
		return false, fmt.Errorf("send stuck prompt: %w", err)
	}
	return true, nil
}

func (f *FollowUp) timeouts(ctx context.Context, now time.Time) {
	cutoff := now.Add(-f.opts.TimeoutAfter)

	candidates, err := f.store.TimeoutCandidates(ctx, cutoff)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list timed out enquiries", "error", err)
		return
	}
	for i := range candidates {
		en := &candidates[i]
		ectx := enquiryContext(ctx, en)
		if err := f.closeTimedOut(ectx, en, now, cutoff); err != nil {
			slog.ErrorContext(ectx, "timeout close failed", "error", err)
		}
	}
}

// closeTimedOut ends the enquiry before sending; a failed send leaves it closed.
func (f *FollowUp) closeTimedOut(ctx context.Context, en *models.Enquiry, now, cutoff time.Time) error {
	out, err := f.outgoing(ctx, en, models.TagTimeoutClose)
	if err != nil {
		return err
	}
	closed, err := f.store.CloseTimedOut(ctx, en.ID, now, cutoff)
	if err != nil || !closed {
		return err
	}
	slog.InfoContext(ctx, "closed timed out enquiry")

	if _, err := f.sender.Text(ctx, out, automation.TimeoutText(en.Lang())); err != nil {
		return fmt.Errorf("send timeout text: %w", err)
	}
	return nil
}

func (f *FollowUp) reviews(ctx context.Context, now time.Time) {
	candidates, err := f.store.ReviewCandidates(ctx, now.Add(-f.opts.ReviewAfter))
	if err != nil {
		slog.ErrorContext(ctx, "failed to list review candidates", "error", err)
		return
	}
	for i := range candidates {
		en := &candidates[i]
		ectx := enquiryContext(ctx, en)
		if err := f.requestReview(ectx, en); err != nil {
			slog.ErrorContext(ectx, "review request failed", "error", err)
		}
	}
}

func (f *FollowUp) requestReview(ctx context.Context, en *models.Enquiry) error {
	out, err := f.outgoing(ctx, en, models.TagReviewRequest)
	if err != nil {
		return err
	}
	claimed, err := f.store.ClaimCompletionFollowUp(ctx, en.ID)
	if err != nil || !claimed {
		return err
	}

	body, button, sections := automation.ReviewRequest()
	if _, err := f.sender.List(ctx, out, body, button, sections); err != nil {
		if rerr := f.store.ReleaseCompletionFollowUp(ctx, en.ID); rerr != nil {
			slog.ErrorContext(ctx, "failed to release review claim", "error", rerr)
		}
		return fmt.Errorf("send review request: %w", err)
	}
	slog.InfoContext(ctx, "review request sent")
	return nil
}

func (f *FollowUp) outgoing(ctx context.Context, en *models.Enquiry, tag string) (outbound.Outgoing, error) {
	creds, err := f.sender.Credentials(ctx, en.RecipientID)
	if err != nil {
		return outbound.Outgoing{}, err
	}
	return outbound.Outgoing{
		To:          en.Phone,
		RecipientID: en.RecipientID,
		Creds:       creds,
		Tag:         tag,
	}, nil
}

func enquiryContext(ctx context.Context, en *models.Enquiry) context.Context {
	return logger.WithLogFields(ctx, logger.LogFields{
		Phone:       en.Phone,
		RecipientID: en.RecipientID,
		EnquiryID:   logger.Ptr(en.ID),
	})
}
