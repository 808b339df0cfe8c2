// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides lookups on the per-thread client keys
// that make message appends safe to retry.
package repo

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
)

// ThreadKind selects one of the two message ledgers.
type ThreadKind string

const (
	ThreadNegotiation ThreadKind = "negotiation"
	ThreadOrder       ThreadKind = "order"
)

// ClientKeyExists reports whether a message with clientKey is already stored
// in the given thread. Blank thread ids or keys never exist.
func ClientKeyExists(ctx context.Context, db *gorm.DB, kind ThreadKind, threadID, clientKey string) (bool, error) {
	if strings.TrimSpace(threadID) == "" || strings.TrimSpace(clientKey) == "" {
		return false, nil
	}

	var q *gorm.DB
	switch kind {
	case ThreadNegotiation:
		q = db.WithContext(ctx).Model(&domain.NegotiationMessage{}).
			Where("negotiation_id = ? AND client_key = ?", threadID, clientKey)
	case ThreadOrder:
		q = db.WithContext(ctx).Model(&domain.OrderMessage{}).
			Where("order_id = ? AND client_key = ?", threadID, clientKey)
	default:
		return false, nil
	}

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
