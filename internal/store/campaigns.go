package store

import (
	"context"
	"fmt"
	"time"

	"whatsapp-crm/internal/models"

	"gorm.io/gorm"
)

// successfulSendStatuses are the campaign send states a reply can be attributed to.
var successfulSendStatuses = []string{models.StatusSent, models.StatusDelivered, models.StatusRead}

func (s *Store) CampaignSendByMessageID(ctx context.Context, messageID string) (*models.CampaignSend, error) {
	var cs models.CampaignSend
	err := s.db.WithContext(ctx).Preload("Campaign").
		Where("message_id = ?", messageID).
		First(&cs).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &cs, nil
}

// LatestSuccessfulSend returns the newest send to phone at or after since.
func (s *Store) LatestSuccessfulSend(ctx context.Context, phone string, since time.Time) (*models.CampaignSend, error) {
	var cs models.CampaignSend
	err := s.db.WithContext(ctx).Preload("Campaign").
		Where("contact_phone = ? AND status IN ? AND sent_at >= ?", phone, successfulSendStatuses, since).
		Order("sent_at DESC").Order("id DESC").
		First(&cs).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &cs, nil
}

func (s *Store) CreateCampaignSend(ctx context.Context, cs *models.CampaignSend) error {
	return s.db.WithContext(ctx).Create(cs).Error
}

// UpdateCampaignSendStatus mirrors a provider delivery status onto the send row.
func (s *Store) UpdateCampaignSendStatus(ctx context.Context, messageID, status, failureReason string) (bool, error) {
	updates := map[string]interface{}{"status": status}
	if failureReason != "" {
		updates["failure_reason"] = failureReason
	}
	res := s.db.WithContext(ctx).Model(&models.CampaignSend{}).
		Where("message_id = ?", messageID).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update campaign send %s: %w", messageID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) IncrementReplyCount(ctx context.Context, campaignID uint) error {
	return s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", campaignID).
		UpdateColumn("reply_count", gorm.Expr("reply_count + ?", 1)).Error
}

func (s *Store) Campaign(ctx context.Context, id uint) (*models.Campaign, error) {
	var c models.Campaign
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}
