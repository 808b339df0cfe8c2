// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// for conditional responses (ETag generation) in the HTTP layer, which keeps
// client polling cheap.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
)

// LedgerStats summarizes a message ledger for cache validation.
type LedgerStats struct {
	Count     int64
	MaxID     uint64
	LastWrite *time.Time
}

// NegotiationMessagesStats returns the message count, the highest message id
// and the newest created_at for a negotiation. With no messages, Count is 0
// and LastWrite is nil.
func NegotiationMessagesStats(ctx context.Context, db *gorm.DB, negotiationID string) (LedgerStats, error) {
	q := db.WithContext(ctx).Model(&domain.NegotiationMessage{}).Where("negotiation_id = ?", negotiationID)
	return ledgerStats(q)
}

// OrderMessagesStats is NegotiationMessagesStats for order ledgers.
func OrderMessagesStats(ctx context.Context, db *gorm.DB, orderID string) (LedgerStats, error) {
	q := db.WithContext(ctx).Model(&domain.OrderMessage{}).Where("order_id = ?", orderID)
	return ledgerStats(q)
}

func ledgerStats(q *gorm.DB) (LedgerStats, error) {
	var st LedgerStats

	// Count
	if err := q.Session(&gorm.Session{}).Count(&st.Count).Error; err != nil {
		return LedgerStats{}, err
	}
	if st.Count == 0 {
		return st, nil
	}

	// Latest row (avoid MAX() -> TEXT in SQLite)
	var row struct {
		ID        uint64
		CreatedAt time.Time
	}
	if err := q.Session(&gorm.Session{}).Select("id", "created_at").Order("id DESC").Limit(1).Scan(&row).Error; err != nil {
		return LedgerStats{}, err
	}
	st.MaxID = row.ID
	st.LastWrite = &row.CreatedAt
	return st, nil
}
