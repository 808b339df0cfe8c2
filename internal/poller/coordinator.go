// Package poller implements the client side of message notifications.
//
// A Coordinator polls one open thread at a fixed interval and alerts the
// local participant about messages written by the other side. It counts
// messages instead of tracking ids, so it only relies on the ledger being
// append-only and ordered.
package poller

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultInterval is the polling period when Coordinator.Interval is unset.
const DefaultInterval = 1500 * time.Millisecond

// Message is one ledger entry as seen by a poller.
type Message struct {
	ID         uint64    `json:"id"`
	SenderRole string    `json:"sender_role"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Snapshot is the result of one fetch.
type Snapshot struct {
	Messages []Message
	Status   string
	Locked   bool

	// Degraded snapshots were served without storage and carry no messages.
	Degraded bool
	// NotModified means the ledger is unchanged since the previous fetch.
	NotModified bool
}

// TypingMarker says that Role was typing at Since.
type TypingMarker struct {
	Role  string    `json:"role"`
	Since time.Time `json:"since"`
}

// Source fetches the current state of a thread.
type Source interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// TypingSource fetches the other party's typing markers.
type TypingSource interface {
	Typing(ctx context.Context) ([]TypingMarker, error)
}

// Notifier raises alerts. Sound and Toast fire at most once per tick;
// Platform additionally fires when the view is not focused.
type Notifier interface {
	Sound()
	Toast(latest Message, count int)
	Platform(latest Message, count int)
}

// Focus reports whether the thread view currently has focus.
type Focus interface {
	Focused() bool
}

// FocusFunc adapts a function to Focus.
type FocusFunc func() bool

// Focused implements Focus.
func (f FocusFunc) Focused() bool { return f() }

// Coordinator runs the polling loop for one thread view.
type Coordinator struct {
	Source   Source
	Notifier Notifier
	Focus    Focus // nil means always focused

	// LocalRole is the role of the participant running the view. Messages
	// with this sender role never alert.
	LocalRole string
	Interval  time.Duration

	// Typing and OnTyping are optional; typing failures are ignored.
	Typing   TypingSource
	OnTyping func([]TypingMarker)
	// OnUpdate, when set, receives every snapshot that carried data.
	OnUpdate func(Snapshot)

	lastSeen  int
	baselined bool
}

// LastSeen returns the number of messages already accounted for.
func (c *Coordinator) LastSeen() int { return c.lastSeen }

// Run loads the baseline, then ticks until ctx is done or the thread is
// locked. It returns ctx.Err() on cancellation and nil on lock.
func (c *Coordinator) Run(ctx context.Context) error {
	interval := c.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	if c.Tick(ctx) {
		return nil
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if c.Tick(ctx) {
				return nil
			}
		}
	}
}

// Tick performs one poll and reports whether polling should stop.
//
// The first successful, non-degraded fetch only records the baseline: the
// history loaded when the view opens is never announced. Later fetches
// announce messages beyond the baseline that came from the other role.
func (c *Coordinator) Tick(ctx context.Context) (stop bool) {
	c.pollTyping(ctx)

	snap, err := c.Source.Fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Debug().Err(err).Msg("poll failed, skipping tick")
		}
		return false
	}
	if snap.NotModified || snap.Degraded {
		return false
	}
	if c.OnUpdate != nil {
		c.OnUpdate(snap)
	}

	n := len(snap.Messages)
	switch {
	case !c.baselined:
		c.baselined = true
		c.lastSeen = n
	case n > c.lastSeen:
		c.announce(snap.Messages[c.lastSeen:])
		c.lastSeen = n
	case n < c.lastSeen:
		// The ledger never shrinks; resync instead of announcing old rows.
		c.lastSeen = n
	}
	return snap.Locked
}

func (c *Coordinator) announce(delta []Message) {
	var (
		latest Message
		count  int
	)
	for _, m := range delta {
		if m.SenderRole == c.LocalRole {
			continue
		}
		latest = m
		count++
	}
	if count == 0 || c.Notifier == nil {
		return
	}
	c.Notifier.Sound()
	c.Notifier.Toast(latest, count)
	if c.Focus != nil && !c.Focus.Focused() {
		c.Notifier.Platform(latest, count)
	}
}

func (c *Coordinator) pollTyping(ctx context.Context) {
	if c.Typing == nil || c.OnTyping == nil {
		return
	}
	markers, err := c.Typing.Typing(ctx)
	if err != nil {
		return
	}
	c.OnTyping(markers)
}
