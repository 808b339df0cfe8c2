// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Identity
// model.
//
// Lookups by phone or email return the oldest matching identity so that
// repeated resolution is stable even if two rows ever carry the same person.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
)

// CreateIdentity inserts a new identity. An empty id gets a random UUID.
// Phone and email are stored as given; pass nil to leave them unset.
func CreateIdentity(ctx context.Context, db *gorm.DB, id, name string, phone, email *string, role domain.Role) (*domain.Identity, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	idn := &domain.Identity{
		ID:        id,
		Name:      name,
		Phone:     phone,
		Email:     email,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(idn).Error; err != nil {
		return nil, err
	}
	return idn, nil
}

// GetIdentity fetches an identity by id, or ErrNotFound.
func GetIdentity(ctx context.Context, db *gorm.DB, id string) (*domain.Identity, error) {
	var idn domain.Identity
	if err := db.WithContext(ctx).Where("id = ?", id).First(&idn).Error; err != nil {
		return nil, err
	}
	return &idn, nil
}

// FindIdentityByContact returns the oldest identity matching phone OR email.
// Empty arguments are ignored; when both are empty it returns ErrNotFound
// without touching the database.
func FindIdentityByContact(ctx context.Context, db *gorm.DB, phone, email string) (*domain.Identity, error) {
	q := db.WithContext(ctx).Model(&domain.Identity{})
	switch {
	case phone != "" && email != "":
		q = q.Where("phone = ? OR email = ?", phone, email)
	case phone != "":
		q = q.Where("phone = ?", phone)
	case email != "":
		q = q.Where("email = ?", email)
	default:
		return nil, ErrNotFound
	}

	var idn domain.Identity
	if err := q.Order("created_at ASC, id ASC").First(&idn).Error; err != nil {
		return nil, err
	}
	return &idn, nil
}

// UpdateIdentityName sets the display name. Returns ErrNotFound if no row
// matched.
func UpdateIdentityName(ctx context.Context, db *gorm.DB, id, name string) error {
	res := db.WithContext(ctx).
		Model(&domain.Identity{}).
		Where("id = ?", id).
		Updates(map[string]any{"name": name, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
