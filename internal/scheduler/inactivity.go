package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/store"
)

// InactivityCloser silently ends conversations nobody touched for a while,
// whatever their status.
type InactivityCloser struct {
	store *store.Store
	after time.Duration
}

func NewInactivityCloser(st *store.Store, after time.Duration) *InactivityCloser {
	if after <= 0 {
		after = 15 * time.Minute
	}
	return &InactivityCloser{store: st, after: after}
}

func (c *InactivityCloser) Sweep(ctx context.Context, now time.Time) {
	now = now.UTC()
	cutoff := now.Add(-c.after)

	inactive, err := c.store.InactiveEnquiries(ctx, cutoff)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list inactive enquiries", "error", err)
		return
	}
	ended := 0
	for i := range inactive {
		en := &inactive[i]
		ectx := enquiryContext(ctx, en)
		ok, err := c.store.EndInactive(ectx, en.ID, now, cutoff)
		if err != nil {
			slog.ErrorContext(ectx, "failed to end inactive enquiry", "error", err)
			continue
		}
		if !ok {
			continue
		}
		ended++
		msg := fmt.Sprintf("Enquiry for %s ended due to inactivity (%d mins).", en.Phone, int(c.after.Minutes()))
		if err := c.store.CreateLog(ectx, models.LogInfo, msg, nil); err != nil {
			slog.WarnContext(ectx, "failed to write inactivity log", "error", err)
		}
	}
	if ended > 0 {
		slog.InfoContext(ctx, "ended inactive enquiries", "count", ended)
	}
}
