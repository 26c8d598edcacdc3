package store

import (
	"context"
	"fmt"

	"whatsapp-crm/internal/models"
)

func (s *Store) ContactByPhone(ctx context.Context, phone string) (*models.Contact, error) {
	var c models.Contact
	err := s.db.WithContext(ctx).
		Where("phone_number = ?", phone).
		Order("id ASC").
		First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) CreateContact(ctx context.Context, c *models.Contact) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("create contact %s: %w", c.PhoneNumber, err)
	}
	return nil
}

func (s *Store) SaveContact(ctx context.Context, c *models.Contact) error {
	if err := s.db.WithContext(ctx).Save(c).Error; err != nil {
		return fmt.Errorf("save contact %s: %w", c.PhoneNumber, err)
	}
	return nil
}

// ContactListByName returns the named list, creating it on first use.
func (s *Store) ContactListByName(ctx context.Context, name string) (*models.ContactList, error) {
	list := models.ContactList{Name: name}
	err := s.db.WithContext(ctx).
		Where(models.ContactList{Name: name}).
		FirstOrCreate(&list).Error
	if err != nil {
		return nil, fmt.Errorf("contact list %q: %w", name, err)
	}
	return &list, nil
}
