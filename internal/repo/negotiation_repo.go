// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Negotiation model.
//
// Error semantics:
//   - When a negotiation is not found, functions return ErrNotFound.
//   - Other DB errors are propagated unchanged so that the resilient executor
//     can classify them.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
)

// CreateNegotiation inserts n. Empty ID and Status are filled with a random
// UUID and OPEN. Associations are never written through this call.
func CreateNegotiation(ctx context.Context, db *gorm.DB, n *domain.Negotiation) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = domain.NegotiationOpen
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = n.CreatedAt
	return db.WithContext(ctx).Omit(clause.Associations).Create(n).Error
}

// GetNegotiation fetches a negotiation with its buyer and seller identities.
func GetNegotiation(ctx context.Context, db *gorm.DB, id string) (*domain.Negotiation, error) {
	var n domain.Negotiation
	err := db.WithContext(ctx).
		Preload("Buyer").
		Preload("Seller").
		Where("id = ?", id).
		First(&n).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// CountNegotiations counts negotiations, optionally filtered by status.
func CountNegotiations(ctx context.Context, db *gorm.DB, status domain.NegotiationStatus) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.Negotiation{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Count(&total).Error
	return total, err
}

// ListNegotiationsPage returns a page of negotiations, most recently active
// first, optionally filtered by status.
func ListNegotiationsPage(ctx context.Context, db *gorm.DB, status domain.NegotiationStatus, offset, limit int) ([]domain.Negotiation, error) {
	out := []domain.Negotiation{}
	q := db.WithContext(ctx).Preload("Buyer").Preload("Seller")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("updated_at DESC, id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// UpdateNegotiationStatus sets status unconditionally. Returns ErrNotFound if
// no row matched.
func UpdateNegotiationStatus(ctx context.Context, db *gorm.DB, id string, status domain.NegotiationStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.Negotiation{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceNegotiationOnMessage moves an OPEN negotiation to IN_PROGRESS with a
// single conditional update, so concurrent first messages transition it at
// most once. Any other status only has its updated_at touched. It reports
// whether this call performed the transition.
func AdvanceNegotiationOnMessage(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	next, _ := domain.NegotiationOpen.AdvanceOnMessage()
	res := db.WithContext(ctx).
		Model(&domain.Negotiation{}).
		Where("id = ? AND status = ?", id, domain.NegotiationOpen).
		Updates(map[string]any{"status": next, "updated_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	res = db.WithContext(ctx).
		Model(&domain.Negotiation{}).
		Where("id = ?", id).
		Update("updated_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, ErrNotFound
	}
	return false, nil
}
