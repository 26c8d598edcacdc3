package store

import (
	"context"
	"fmt"

	"whatsapp-crm/internal/models"

	"gorm.io/gorm"
)

func (s *Store) BotFlow(ctx context.Context, id uint) (*models.BotFlow, error) {
	var f models.BotFlow
	if err := s.db.WithContext(ctx).First(&f, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

// BotFlowWithNodes loads a flow and all of its nodes.
func (s *Store) BotFlowWithNodes(ctx context.Context, id uint) (*models.BotFlow, error) {
	var f models.BotFlow
	err := s.db.WithContext(ctx).
		Preload("Nodes", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&f, id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

func (s *Store) BotFlows(ctx context.Context) ([]models.BotFlow, error) {
	var flows []models.BotFlow
	err := s.db.WithContext(ctx).
		Preload("Nodes", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("id ASC").
		Find(&flows).Error
	return flows, err
}

func (s *Store) CreateBotFlow(ctx context.Context, f *models.BotFlow) error {
	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		return fmt.Errorf("create bot flow %q: %w", f.Name, err)
	}
	return nil
}

// ReplaceNodes swaps the node set of a flow in a single transaction.
func (s *Store) ReplaceNodes(ctx context.Context, flowID uint, startNodeKey string, nodes []models.BotNode) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("flow_id = ?", flowID).Delete(&models.BotNode{}).Error; err != nil {
			return fmt.Errorf("delete nodes of flow %d: %w", flowID, err)
		}
		for i := range nodes {
			nodes[i].ID = 0
			nodes[i].FlowID = flowID
		}
		if len(nodes) > 0 {
			if err := tx.Create(&nodes).Error; err != nil {
				return fmt.Errorf("insert nodes of flow %d: %w", flowID, err)
			}
		}
		if startNodeKey != "" {
			if err := tx.Model(&models.BotFlow{}).Where("id = ?", flowID).
				Update("start_node_key", startNodeKey).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
