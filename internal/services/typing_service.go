// Package services – TypingService
//
// This file implements best-effort typing markers. A marker is a short-lived
// in-memory entry per (thread, role); nothing is persisted and markers are
// lost on restart. Callers authorize thread access before touching markers.
package services

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
	"github.com/tbourn/dealer-negotiation-backend/internal/repo"
)

// DefaultTypingTTL is how long a marker stays visible without a refresh.
const DefaultTypingTTL = 4 * time.Second

// TypingMarker says that Role was typing in a thread at Since.
type TypingMarker struct {
	Role  domain.Role `json:"role"`
	Since time.Time   `json:"since"`
}

// TypingService stores typing markers in a bigcache instance.
type TypingService struct {
	cache *bigcache.BigCache
	ttl   time.Duration
	now   func() time.Time
}

// NewTypingService creates the marker store. Expired entries are swept by
// bigcache's clean window; reads also check freshness themselves.
func NewTypingService(ctx context.Context, ttl time.Duration) (*TypingService, error) {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Shards = 64
	cfg.CleanWindow = ttl
	cfg.MaxEntrySize = 64
	cfg.HardMaxCacheSize = 16 // MB
	cfg.Verbose = false

	cache, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &TypingService{cache: cache, ttl: ttl, now: time.Now}, nil
}

// Mark records that role is typing in the thread.
func (s *TypingService) Mark(kind repo.ThreadKind, threadID string, role domain.Role) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(s.now().UnixNano()))
	return s.cache.Set(typingKey(kind, threadID, role), buf[:])
}

// Clear removes role's marker, e.g. after the message was sent.
func (s *TypingService) Clear(kind repo.ThreadKind, threadID string, role domain.Role) {
	_ = s.cache.Delete(typingKey(kind, threadID, role))
}

// Active returns the fresh markers of every role other than viewer.
func (s *TypingService) Active(kind repo.ThreadKind, threadID string, viewer domain.Role) []TypingMarker {
	out := []TypingMarker{}
	now := s.now()
	for _, role := range []domain.Role{domain.RoleCustomer, domain.RoleDealer} {
		if role == viewer {
			continue
		}
		raw, err := s.cache.Get(typingKey(kind, threadID, role))
		if err != nil || len(raw) != 8 {
			continue
		}
		since := time.Unix(0, int64(binary.BigEndian.Uint64(raw)))
		if now.Sub(since) > s.ttl {
			continue
		}
		out = append(out, TypingMarker{Role: role, Since: since.UTC()})
	}
	return out
}

// Close releases the cache.
func (s *TypingService) Close() error { return s.cache.Close() }

func typingKey(kind repo.ThreadKind, threadID string, role domain.Role) string {
	return string(kind) + ":" + threadID + ":" + string(role)
}
