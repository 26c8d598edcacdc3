package store

import (
	"context"
	"fmt"

	"whatsapp-crm/internal/models"
)

// PhoneNumber looks a business number up by the provider's phone_number_id.
func (s *Store) PhoneNumber(ctx context.Context, phoneNumberID string) (*models.PhoneNumber, error) {
	var pn models.PhoneNumber
	err := s.db.WithContext(ctx).Preload("WabaAccount").
		Where("phone_number_id = ?", phoneNumberID).
		First(&pn).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &pn, nil
}

// UpdatePhoneNumberSettings applies the given column updates and returns the fresh row.
func (s *Store) UpdatePhoneNumberSettings(ctx context.Context, phoneNumberID string, updates map[string]interface{}) (*models.PhoneNumber, error) {
	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&models.PhoneNumber{}).
			Where("phone_number_id = ?", phoneNumberID).
			Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("update phone number %s: %w", phoneNumberID, res.Error)
		}
	}
	return s.PhoneNumber(ctx, phoneNumberID)
}
