package model

import "time"

// SecurityChanges is the add/remove delta attached to the slice in which it
// takes effect.
type SecurityChanges struct {
	Time    time.Time
	Added   []Symbol
	Removed []Symbol
}

// IsEmpty reports whether the record carries no change.
func (c SecurityChanges) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// Merge coalesces records in order: an add followed by a removal of the same
// Symbol cancels out, as does a removal followed by a re-add.
func Merge(records []SecurityChanges) SecurityChanges {
	var out SecurityChanges
	added := make(map[Symbol]int)
	removed := make(map[Symbol]int)
	var order []Symbol
	seen := make(map[Symbol]struct{})

	for _, r := range records {
		if r.Time.After(out.Time) {
			out.Time = r.Time
		}
		for _, s := range r.Added {
			if removed[s] > 0 {
				removed[s]--
			} else {
				added[s]++
			}
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				order = append(order, s)
			}
		}
		for _, s := range r.Removed {
			if added[s] > 0 {
				added[s]--
			} else {
				removed[s]++
			}
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				order = append(order, s)
			}
		}
	}

	for _, s := range order {
		if added[s] > 0 {
			out.Added = append(out.Added, s)
		}
		if removed[s] > 0 {
			out.Removed = append(out.Removed, s)
		}
	}
	return out
}

// TimeSlice is everything known as of Time, grouped by Symbol per category.
type TimeSlice struct {
	Time     time.Time
	Ticks    map[Symbol][]DataPoint // Arrival order per Symbol
	Bars     map[Symbol]DataPoint   // Latest bar per Symbol
	Custom   map[Symbol][]DataPoint // Arrival order per Symbol
	Universe map[Symbol]DataPoint   // Latest selection payload per universe
	Changes  []SecurityChanges      // One record per subscription mutation
}

// NewTimeSlice returns an empty slice stamped at t (UTC).
func NewTimeSlice(t time.Time) TimeSlice {
	return TimeSlice{
		Time:     t.UTC(),
		Ticks:    make(map[Symbol][]DataPoint),
		Bars:     make(map[Symbol]DataPoint),
		Custom:   make(map[Symbol][]DataPoint),
		Universe: make(map[Symbol]DataPoint),
	}
}

// Add files a data point under its category.
func (s *TimeSlice) Add(d DataPoint) {
	switch d.Kind {
	case DataTick:
		s.Ticks[d.Symbol] = append(s.Ticks[d.Symbol], d)
	case DataTradeBar:
		s.Bars[d.Symbol] = d
	case DataCustom:
		s.Custom[d.Symbol] = append(s.Custom[d.Symbol], d)
	case DataUniverse:
		s.Universe[d.Symbol] = d
	}
}

// HasData reports whether any category holds data.
func (s TimeSlice) HasData() bool {
	return len(s.Ticks) > 0 || len(s.Bars) > 0 || len(s.Custom) > 0 || len(s.Universe) > 0
}

// Symbols returns every Symbol with market data in the slice. Universe
// payload keys are not included.
func (s TimeSlice) Symbols() map[Symbol]struct{} {
	out := make(map[Symbol]struct{}, len(s.Ticks)+len(s.Bars)+len(s.Custom))
	for sym := range s.Ticks {
		out[sym] = struct{}{}
	}
	for sym := range s.Bars {
		out[sym] = struct{}{}
	}
	for sym := range s.Custom {
		out[sym] = struct{}{}
	}
	return out
}

// Contains reports whether sym has market data in the slice.
func (s TimeSlice) Contains(sym Symbol) bool {
	if _, ok := s.Ticks[sym]; ok {
		return true
	}
	if _, ok := s.Bars[sym]; ok {
		return true
	}
	_, ok := s.Custom[sym]
	return ok
}

// DataCount returns the number of data points in the slice.
func (s TimeSlice) DataCount() int {
	n := len(s.Bars) + len(s.Universe)
	for _, ticks := range s.Ticks {
		n += len(ticks)
	}
	for _, points := range s.Custom {
		n += len(points)
	}
	return n
}

// NetChanges coalesces the slice's change records.
func (s TimeSlice) NetChanges() SecurityChanges {
	return Merge(s.Changes)
}
