package store

import (
	"context"
	"fmt"

	"whatsapp-crm/internal/models"

	"gorm.io/gorm/clause"
)

func (s *Store) MessageExists(ctx context.Context, messageID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("message_id = ?", messageID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check message %s: %w", messageID, err)
	}
	return count > 0, nil
}

// CreateMessage inserts m unless a row with the same provider id exists.
// It reports false when another writer got there first.
func (s *Store) CreateMessage(ctx context.Context, m *models.Message) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_id"}}, DoNothing: true}).
		Create(m)
	if res.Error != nil {
		return false, fmt.Errorf("insert message %s: %w", m.MessageID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) UpdateMessageStatus(ctx context.Context, messageID, status, failureReason string) (bool, error) {
	updates := map[string]interface{}{"status": status}
	if failureReason != "" {
		updates["failure_reason"] = failureReason
	}
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("message_id = ?", messageID).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update message status %s: %w", messageID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RecentOutgoing returns the outgoing messages of a thread, most recently stored first.
func (s *Store) RecentOutgoing(ctx context.Context, phone, recipientID string, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("from_phone = ? AND recipient_id = ? AND direction = ?", phone, recipientID, models.DirectionOutgoing).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("recent outgoing for %s: %w", phone, err)
	}
	return msgs, nil
}

func (s *Store) CountIncomingForCampaign(ctx context.Context, phone string, campaignID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("from_phone = ? AND campaign_id = ? AND direction = ?", phone, campaignID, models.DirectionIncoming).
		Count(&count).Error
	return count, err
}

func (s *Store) ListMessages(ctx context.Context, phone string, limit int) ([]models.Message, error) {
	q := s.db.WithContext(ctx).Order("occurred_at DESC").Limit(limit)
	if phone != "" {
		q = q.Where("from_phone = ?", phone)
	}
	var msgs []models.Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
