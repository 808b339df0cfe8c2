// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the two
// message ledgers (negotiation and order messages).
//
// Both ledgers are append-only and ordered by (created_at ASC, id ASC); the
// auto-increment id breaks ties between rows written in the same instant in
// insertion order.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
)

// CreateNegotiationMessage inserts m and fills its ID. A repeated
// (negotiation_id, client_key) pair fails with a uniqueness violation.
func CreateNegotiationMessage(ctx context.Context, db *gorm.DB, m *domain.NegotiationMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Omit(clause.Associations).Create(m).Error
}

// FindNegotiationMessageByKey returns the message stored under clientKey in
// the given negotiation, with its sender loaded.
func FindNegotiationMessageByKey(ctx context.Context, db *gorm.DB, negotiationID, clientKey string) (*domain.NegotiationMessage, error) {
	var m domain.NegotiationMessage
	err := db.WithContext(ctx).
		Preload("Sender").
		Where("negotiation_id = ? AND client_key = ?", negotiationID, clientKey).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListNegotiationMessages returns the ledger of a negotiation in
// chronological order with senders loaded. limit <= 0 means no limit. The
// result is never nil.
func ListNegotiationMessages(ctx context.Context, db *gorm.DB, negotiationID string, limit int) ([]domain.NegotiationMessage, error) {
	out := []domain.NegotiationMessage{}
	q := db.WithContext(ctx).
		Preload("Sender").
		Where("negotiation_id = ?", negotiationID).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CreateOrderMessage inserts m and fills its ID.
func CreateOrderMessage(ctx context.Context, db *gorm.DB, m *domain.OrderMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Omit(clause.Associations).Create(m).Error
}

// FindOrderMessageByKey returns the order message stored under clientKey.
func FindOrderMessageByKey(ctx context.Context, db *gorm.DB, orderID, clientKey string) (*domain.OrderMessage, error) {
	var m domain.OrderMessage
	err := db.WithContext(ctx).
		Where("order_id = ? AND client_key = ?", orderID, clientKey).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListOrderMessages returns the ledger of an order in chronological order.
// The result is never nil.
func ListOrderMessages(ctx context.Context, db *gorm.DB, orderID string, limit int) ([]domain.OrderMessage, error) {
	out := []domain.OrderMessage{}
	q := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
