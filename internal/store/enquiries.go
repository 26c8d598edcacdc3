package store

import (
	"context"
	"fmt"
	"time"

	"whatsapp-crm/internal/models"
)

var inactiveStatuses = []string{models.EnquiryClosed, models.EnquiryHandover}

// LatestEnquiry returns the most recently updated enquiry for the pair.
func (s *Store) LatestEnquiry(ctx context.Context, phone, recipientID string) (*models.Enquiry, error) {
	var e models.Enquiry
	err := s.db.WithContext(ctx).
		Where("phone = ? AND recipient_id = ?", phone, recipientID).
		Order("updated_at DESC").Order("id DESC").
		First(&e).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (s *Store) Enquiry(ctx context.Context, id uint) (*models.Enquiry, error) {
	var e models.Enquiry
	if err := s.db.WithContext(ctx).First(&e, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (s *Store) CreateEnquiry(ctx context.Context, e *models.Enquiry) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("create enquiry for %s: %w", e.Phone, err)
	}
	return nil
}

func (s *Store) SaveEnquiry(ctx context.Context, e *models.Enquiry) error {
	if err := s.db.WithContext(ctx).Save(e).Error; err != nil {
		return fmt.Errorf("save enquiry %d: %w", e.ID, err)
	}
	return nil
}

func (s *Store) ListEnquiries(ctx context.Context, status string, limit int) ([]models.Enquiry, error) {
	q := s.db.WithContext(ctx).Order("updated_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.Enquiry
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// StuckCandidates lists open, non-terminal enquiries idle since updatedBefore
// whose last stuck prompt (if any) is no newer than stuckBefore.
func (s *Store) StuckCandidates(ctx context.Context, updatedBefore, stuckBefore time.Time) ([]models.Enquiry, error) {
	var out []models.Enquiry
	err := s.db.WithContext(ctx).
		Where("conversation_state <> ? AND status NOT IN ?", models.StateEnd, inactiveStatuses).
		Where("updated_at <= ?", updatedBefore).
		Where("last_stuck_follow_up_sent_at IS NULL OR last_stuck_follow_up_sent_at <= ?", stuckBefore).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("stuck candidates: %w", err)
	}
	return out, nil
}

// ClaimStuckFollowUp stamps the stuck prompt time only if the enquiry is
// still eligible. False means another tick or an inbound message won.
func (s *Store) ClaimStuckFollowUp(ctx context.Context, id uint, now, updatedBefore, stuckBefore time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Enquiry{}).
		Where("id = ?", id).
		Where("conversation_state <> ? AND status NOT IN ?", models.StateEnd, inactiveStatuses).
		Where("updated_at <= ?", updatedBefore).
		Where("last_stuck_follow_up_sent_at IS NULL OR last_stuck_follow_up_sent_at <= ?", stuckBefore).
		Updates(map[string]interface{}{
			"last_stuck_follow_up_sent_at": now,
			"updated_at":                   now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim stuck follow-up %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseStuckFollowUp restores the values overwritten by a claim whose send failed.
func (s *Store) ReleaseStuckFollowUp(ctx context.Context, id uint, claimedAt time.Time, prevStuck *time.Time, prevUpdated time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Enquiry{}).
		Where("id = ? AND last_stuck_follow_up_sent_at = ?", id, claimedAt).
		Updates(map[string]interface{}{
			"last_stuck_follow_up_sent_at": prevStuck,
			"updated_at":                   prevUpdated,
		}).Error
}

// TimeoutCandidates lists open, non-terminal enquiries whose stuck prompt went
// unanswered since cutoff.
func (s *Store) TimeoutCandidates(ctx context.Context, cutoff time.Time) ([]models.Enquiry, error) {
	var out []models.Enquiry
	err := s.db.WithContext(ctx).
		Where("conversation_state <> ? AND status NOT IN ?", models.StateEnd, inactiveStatuses).
		Where("last_stuck_follow_up_sent_at IS NOT NULL AND last_stuck_follow_up_sent_at <= ?", cutoff).
		Where("updated_at <= ?", cutoff).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("timeout candidates: %w", err)
	}
	return out, nil
}

// CloseTimedOut ends the enquiry if it is still a timeout candidate. The
// completion follow-up is marked sent so no review request follows.
func (s *Store) CloseTimedOut(ctx context.Context, id uint, now, cutoff time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Enquiry{}).
		Where("id = ?", id).
		Where("conversation_state <> ? AND status NOT IN ?", models.StateEnd, inactiveStatuses).
		Where("last_stuck_follow_up_sent_at IS NOT NULL AND last_stuck_follow_up_sent_at <= ?", cutoff).
		Where("updated_at <= ?", cutoff).
		Updates(map[string]interface{}{
			"conversation_state":        models.StateEnd,
			"status":                    models.EnquiryClosed,
			"ended_at":                  now,
			"updated_at":                now,
			"completion_follow_up_sent": true,
		})
	if res.Error != nil {
		return false, fmt.Errorf("close timed out enquiry %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReviewCandidates lists ended enquiries still owed a completion follow-up.
func (s *Store) ReviewCandidates(ctx context.Context, endedBefore time.Time) ([]models.Enquiry, error) {
	var out []models.Enquiry
	err := s.db.WithContext(ctx).
		Where("conversation_state = ? AND completion_follow_up_sent = ?", models.StateEnd, false).
		Where("ended_at IS NOT NULL AND ended_at <= ?", endedBefore).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("review candidates: %w", err)
	}
	return out, nil
}

// ClaimCompletionFollowUp flips completion_follow_up_sent from false to true.
// Exactly one caller observes true for a given enquiry.
func (s *Store) ClaimCompletionFollowUp(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Enquiry{}).
		Where("id = ? AND conversation_state = ? AND completion_follow_up_sent = ?", id, models.StateEnd, false).
		Updates(map[string]interface{}{
			"completion_follow_up_sent": true,
			"review_status":             models.ReviewPending,
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim completion follow-up %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ReleaseCompletionFollowUp(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&models.Enquiry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"completion_follow_up_sent": false,
			"review_status":             "",
		}).Error
}

// InactiveEnquiries lists non-terminal enquiries untouched since cutoff, whatever their status.
func (s *Store) InactiveEnquiries(ctx context.Context, cutoff time.Time) ([]models.Enquiry, error) {
	var out []models.Enquiry
	err := s.db.WithContext(ctx).
		Where("conversation_state <> ? AND updated_at <= ?", models.StateEnd, cutoff).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("inactive enquiries: %w", err)
	}
	return out, nil
}

func (s *Store) EndInactive(ctx context.Context, id uint, now, cutoff time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Enquiry{}).
		Where("id = ? AND conversation_state <> ? AND updated_at <= ?", id, models.StateEnd, cutoff).
		Updates(map[string]interface{}{
			"conversation_state": models.StateEnd,
			"ended_at":           now,
			"updated_at":         now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("end inactive enquiry %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}
