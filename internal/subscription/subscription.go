package subscription

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/livefeed/internal/model"
)

// Subscription is one active config plus the loop-owned cursor of points that
// were pulled but are not yet due. Pending state is touched only by the
// synchronizer goroutine.
type Subscription struct {
	ID      uuid.UUID
	Config  model.SubscriptionConfig
	AddedAt time.Time

	removed atomic.Bool

	pending []model.DataPoint
	lastEnd time.Time
}

func newSubscription(cfg model.SubscriptionConfig, at time.Time) *Subscription {
	return &Subscription{
		ID:      uuid.New(),
		Config:  cfg,
		AddedAt: at,
	}
}

// Removed reports whether removal was requested.
func (s *Subscription) Removed() bool {
	return s.removed.Load()
}

// Enqueue appends points in arrival order.
func (s *Subscription) Enqueue(points ...model.DataPoint) {
	s.pending = append(s.pending, points...)
}

// Release returns the queued points whose EndTime is not after now. Points in
// the future stay queued. Bars and custom points that are not newer than the
// last released one are dropped; dropped reports how many.
//
// A slice holds one bar and one universe payload per Symbol, so those configs
// release at most one point per call and leave later due points queued for
// the next slice.
func (s *Subscription) Release(now time.Time) (out []model.DataPoint, dropped int) {
	if len(s.pending) == 0 {
		return nil, 0
	}

	single := s.Config.DataType == model.DataTradeBar || s.Config.DataType == model.DataUniverse
	keep := s.pending[:0]
	for _, p := range s.pending {
		if p.EndTime.After(now) || (single && len(out) > 0) {
			keep = append(keep, p)
			continue
		}
		if p.Kind != model.DataTick && !s.lastEnd.IsZero() && !p.EndTime.After(s.lastEnd) {
			dropped++
			continue
		}
		if p.EndTime.After(s.lastEnd) {
			s.lastEnd = p.EndTime
		}
		out = append(out, p)
	}

	// Clear the tail so released points can be collected.
	for i := len(keep); i < len(s.pending); i++ {
		s.pending[i] = model.DataPoint{}
	}
	s.pending = keep
	return out, dropped
}

// Pending returns the number of queued points.
func (s *Subscription) Pending() int {
	return len(s.pending)
}

// LastEndTime returns the EndTime of the newest released point.
func (s *Subscription) LastEndTime() time.Time {
	return s.lastEnd
}
