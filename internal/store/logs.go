package store

import (
	"context"

	"whatsapp-crm/internal/models"
)

func (s *Store) CreateLog(ctx context.Context, level, message string, campaignID *uint) error {
	return s.db.WithContext(ctx).Create(&models.Log{
		Level:      level,
		Message:    message,
		CampaignID: campaignID,
	}).Error
}

func (s *Store) RecentLogs(ctx context.Context, limit int) ([]models.Log, error) {
	var logs []models.Log
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&logs).Error
	return logs, err
}
