// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Order model.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
)

// ErrStaleStatus is returned by UpdateOrderStatus when the order is no longer
// in the expected state.
var ErrStaleStatus = errors.New("order status changed concurrently")

// CreateOrder inserts o. Empty ID and Status are filled with a random UUID
// and PENDING.
func CreateOrder(ctx context.Context, db *gorm.DB, o *domain.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = domain.OrderPending
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	return db.WithContext(ctx).Create(o).Error
}

// GetOrder fetches an order by id, or ErrNotFound.
func GetOrder(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error) {
	var o domain.Order
	if err := db.WithContext(ctx).Where("id = ?", id).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// CountOrders counts orders, optionally filtered by status.
func CountOrders(ctx context.Context, db *gorm.DB, status domain.OrderStatus) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.Order{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Count(&total).Error
	return total, err
}

// ListOrdersPage returns a page of orders, newest first.
func ListOrdersPage(ctx context.Context, db *gorm.DB, status domain.OrderStatus, offset, limit int) ([]domain.Order, error) {
	out := []domain.Order{}
	q := db.WithContext(ctx)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// UpdateOrderStatus moves an order from one status to another. The update is
// conditional on from, so two concurrent transitions cannot both win; the
// loser gets ErrStaleStatus.
func UpdateOrderStatus(ctx context.Context, db *gorm.DB, id string, from, to domain.OrderStatus) error {
	now := time.Now().UTC()
	cols := map[string]any{"status": to, "updated_at": now}
	if to == domain.OrderCompleted {
		cols["completed_at"] = now
	}
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// TouchOrder bumps updated_at so list views reflect chat activity.
func TouchOrder(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	res := db.WithContext(ctx).Model(&domain.Order{}).Where("id = ?", id).Update("updated_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
