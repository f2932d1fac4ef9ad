// Package universe applies universe selection results to the subscription
// collection.
//
// Selection logic is supplied by the caller. The Applier only diffs a
// selection against the current membership and adds or releases the member
// configs. Configs are reference counted per owner (the user or a universe)
// so a security added by the user survives universe churn, and a security
// selected by two universes stays until both release it.
package universe

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/livefeed/internal/model"
	"github.com/rickgao/livefeed/internal/subscription"
)

// Errors
var (
	ErrUnknownUniverse   = errors.New("unknown universe")
	ErrUniverseExists    = errors.New("universe already added")
	ErrSelectionInFlight = errors.New("selection already in progress")
)

// State is the selection state of one universe.
type State int

const (
	StateIdle State = iota
	StateSelecting
	StateApplying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StateApplying:
		return "applying"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SelectFunc maps a selection payload to the desired members.
type SelectFunc func(at time.Time, candidates []model.Symbol) []model.Symbol

// Settings are applied to every member a universe adds.
type Settings struct {
	DataType         model.DataType // Defaults to tick
	Resolution       model.Resolution
	TickType         model.TickType // Defaults to trade for ticks
	DataTimeZone     string
	ExchangeTimeZone string
	FillForward      bool
	ExtendedHours    bool
}

// ConfigFor returns the member config for sym.
func (s Settings) ConfigFor(sym model.Symbol) model.SubscriptionConfig {
	dt := s.DataType
	if dt == "" {
		dt = model.DataTick
	}
	tt := s.TickType
	if tt == "" && dt == model.DataTick {
		tt = model.TickTrade
	}
	return model.SubscriptionConfig{
		Symbol:           sym,
		DataType:         dt,
		Resolution:       s.Resolution,
		DataTimeZone:     s.DataTimeZone,
		ExchangeTimeZone: s.ExchangeTimeZone,
		TickType:         tt,
		FillForward:      s.FillForward,
		ExtendedHours:    s.ExtendedHours,
	}
}

// Universe is a named, dynamically selected set of securities.
type Universe struct {
	Symbol     model.Symbol
	Resolution model.Resolution // Selection cadence
	Settings   Settings
	Select     SelectFunc // nil keeps the payload members as they are
}

// Config returns the subscription that feeds the universe's payloads.
func (u Universe) Config() model.SubscriptionConfig {
	return model.SubscriptionConfig{
		Symbol:     u.Symbol,
		DataType:   model.DataUniverse,
		Resolution: u.Resolution,
		IsUniverse: true,
	}
}

// Subscriptions is the part of the collection the Applier mutates. A zero
// time stamps the mutation with the collection clock.
type Subscriptions interface {
	AddAt(cfg model.SubscriptionConfig, at time.Time) (*subscription.Subscription, error)
	RemoveAt(cfg model.SubscriptionConfig, at time.Time) bool
}

// userOwner marks configs added directly by the user.
var userOwner = model.Symbol{}

type universeState struct {
	u       Universe
	state   State
	members map[model.Symbol]model.SubscriptionConfig
}

// Applier turns selection payloads into collection mutations.
type Applier struct {
	subs   Subscriptions
	logger *slog.Logger

	mu        sync.Mutex
	universes map[model.Symbol]*universeState
	owners    map[model.SubscriptionConfig]map[model.Symbol]struct{}
	adopted   map[model.SubscriptionConfig]struct{} // Held but added outside the applier
}

// NewApplier creates an Applier over subs.
func NewApplier(subs Subscriptions, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		subs:      subs,
		logger:    logger,
		universes: make(map[model.Symbol]*universeState),
		owners:    make(map[model.SubscriptionConfig]map[model.Symbol]struct{}),
		adopted:   make(map[model.SubscriptionConfig]struct{}),
	}
}

// AddUniverse registers u and subscribes to its payloads.
func (a *Applier) AddUniverse(u Universe) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.universes[u.Symbol]; ok {
		return fmt.Errorf("%w: %s", ErrUniverseExists, u.Symbol)
	}
	if _, err := a.subs.AddAt(u.Config(), time.Time{}); err != nil {
		return fmt.Errorf("add universe %s: %w", u.Symbol, err)
	}

	a.universes[u.Symbol] = &universeState{
		u:       u,
		members: make(map[model.Symbol]model.SubscriptionConfig),
	}
	a.logger.Info("universe added", "universe", u.Symbol.String())
	return nil
}

// RemoveUniverse releases every member u owns and stops its payloads.
func (a *Applier) RemoveUniverse(sym model.Symbol) (model.SecurityChanges, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.universes[sym]
	if !ok {
		return model.SecurityChanges{}, false
	}
	delete(a.universes, sym)

	var out model.SecurityChanges
	for _, m := range sortedMembers(st.members) {
		if a.release(st.members[m], sym, time.Time{}) {
			out.Removed = append(out.Removed, m)
		}
	}
	a.subs.RemoveAt(st.u.Config(), time.Time{})

	a.logger.Info("universe removed", "universe", sym.String(), "released", len(out.Removed))
	return out, true
}

// AddSecurity adds cfg on behalf of the user. Adding a config a universe
// already holds takes a user reference without touching the collection.
func (a *Applier) AddSecurity(cfg model.SubscriptionConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.owners[cfg][userOwner]; ok {
		return &subscription.DuplicateSubscriptionError{Config: cfg}
	}
	_, err := a.acquire(cfg, userOwner, time.Time{})
	return err
}

// RemoveSecurity drops the user's reference to cfg. The config leaves the
// collection only if no universe still selects it.
func (a *Applier) RemoveSecurity(cfg model.SubscriptionConfig) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.owners[cfg][userOwner]; !ok {
		return false
	}
	a.release(cfg, userOwner, time.Time{})
	return true
}

// OnSelection applies a universe payload and returns the resulting
// collection changes. Mutations are stamped at the payload's EndTime.
func (a *Applier) OnSelection(p model.DataPoint) (model.SecurityChanges, error) {
	a.mu.Lock()
	st, ok := a.universes[p.Symbol]
	if !ok {
		a.mu.Unlock()
		return model.SecurityChanges{}, fmt.Errorf("%w: %s", ErrUnknownUniverse, p.Symbol)
	}
	if st.state != StateIdle {
		a.mu.Unlock()
		return model.SecurityChanges{}, fmt.Errorf("%w: %s", ErrSelectionInFlight, p.Symbol)
	}
	st.state = StateSelecting
	sel := st.u.Select
	a.mu.Unlock()

	selected := p.Members
	if sel != nil {
		selected = sel(p.EndTime, p.Members)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// The universe may have been removed while selecting.
	if a.universes[p.Symbol] != st {
		return model.SecurityChanges{}, nil
	}
	st.state = StateApplying
	defer func() { st.state = StateIdle }()

	want := make(map[model.Symbol]struct{}, len(selected))
	for _, sym := range selected {
		if !sym.IsZero() {
			want[sym] = struct{}{}
		}
	}

	out := model.SecurityChanges{Time: p.EndTime}
	for _, sym := range sortedMembers(st.members) {
		if _, keep := want[sym]; keep {
			continue
		}
		if a.release(st.members[sym], p.Symbol, p.EndTime) {
			out.Removed = append(out.Removed, sym)
		}
		delete(st.members, sym)
	}

	var errs []error
	for _, sym := range sortedSet(want) {
		if _, have := st.members[sym]; have {
			continue
		}
		cfg := st.u.Settings.ConfigFor(sym)
		added, err := a.acquire(cfg, p.Symbol, p.EndTime)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		st.members[sym] = cfg
		if added {
			out.Added = append(out.Added, sym)
		}
	}

	a.logger.Debug("universe selection applied",
		"universe", p.Symbol.String(),
		"members", len(st.members),
		"added", len(out.Added),
		"removed", len(out.Removed),
	)
	return out, errors.Join(errs...)
}

// State returns the selection state of a universe.
func (a *Applier) State(sym model.Symbol) (State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.universes[sym]
	if !ok {
		return StateIdle, false
	}
	return st.state, true
}

// Members returns the current members of a universe.
func (a *Applier) Members(sym model.Symbol) []model.Symbol {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.universes[sym]
	if !ok {
		return nil
	}
	return sortedMembers(st.members)
}

// Owners returns how many owners hold cfg.
func (a *Applier) Owners(cfg model.SubscriptionConfig) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.owners[cfg])
}

// acquire records owner on cfg and adds cfg to the collection when it is the
// first owner. It reports whether the collection changed. Caller must hold mu.
func (a *Applier) acquire(cfg model.SubscriptionConfig, owner model.Symbol, at time.Time) (bool, error) {
	set := a.owners[cfg]
	if set == nil {
		set = make(map[model.Symbol]struct{})
	}
	if _, ok := set[owner]; ok {
		return false, nil
	}

	added := false
	if len(set) == 0 {
		_, err := a.subs.AddAt(cfg, at)
		switch {
		case err == nil:
			added = true
		case errors.Is(err, subscription.ErrDuplicateSubscription):
			// Added outside the applier; never removed by it.
			a.adopted[cfg] = struct{}{}
		default:
			return false, err
		}
	}

	set[owner] = struct{}{}
	a.owners[cfg] = set
	return added, nil
}

// release drops owner from cfg and removes cfg from the collection when no
// owner is left and the applier added it. It reports whether the collection
// changed. Caller must hold mu.
func (a *Applier) release(cfg model.SubscriptionConfig, owner model.Symbol, at time.Time) bool {
	set, ok := a.owners[cfg]
	if !ok {
		return false
	}
	if _, ok := set[owner]; !ok {
		return false
	}
	delete(set, owner)
	if len(set) > 0 {
		return false
	}
	delete(a.owners, cfg)
	if _, ok := a.adopted[cfg]; ok {
		delete(a.adopted, cfg)
		return false
	}
	return a.subs.RemoveAt(cfg, at)
}

func sortedMembers(m map[model.Symbol]model.SubscriptionConfig) []model.Symbol {
	out := make([]model.Symbol, 0, len(m))
	for sym := range m {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func sortedSet(m map[model.Symbol]struct{}) []model.Symbol {
	out := make([]model.Symbol, 0, len(m))
	for sym := range m {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
