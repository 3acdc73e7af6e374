package order

import (
	"context"
	"fmt"
	"time"

	"github.com/example/marketplace/pkg/models"
	"github.com/google/uuid"
)

type NewAddress struct {
	Name    string
	Phone   string
	Line    string
	City    string
	State   string
	Pincode string
}

// AddAddress stores a shipping address for the user. The first address
// becomes the default.
func (s *Service) AddAddress(ctx context.Context, userID string, na NewAddress) (*models.Address, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Address{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to count addresses: %w", err)
	}

	address := &models.Address{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      na.Name,
		Phone:     na.Phone,
		Line:      na.Line,
		City:      na.City,
		State:     na.State,
		Pincode:   na.Pincode,
		IsDefault: count == 0,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(address).Error; err != nil {
		return nil, fmt.Errorf("failed to create address: %w", err)
	}
	return address, nil
}

func (s *Service) ListAddresses(ctx context.Context, userID string) ([]models.Address, error) {
	var addresses []models.Address
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default DESC, created_at DESC").
		Find(&addresses).Error; err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	return addresses, nil
}
