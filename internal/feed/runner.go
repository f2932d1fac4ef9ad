package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/livefeed/internal/clock"
	"github.com/rickgao/livefeed/internal/metrics"
	"github.com/rickgao/livefeed/internal/model"
	"github.com/rickgao/livefeed/internal/source"
	"github.com/rickgao/livefeed/internal/subscription"
	"github.com/rickgao/livefeed/internal/synchronizer"
	"github.com/rickgao/livefeed/internal/universe"
)

// Default configuration values.
const (
	DefaultTickInterval = 100 * time.Millisecond
	DefaultSliceBuffer  = 64
)

// Config holds Runner configuration.
type Config struct {
	TickInterval      time.Duration // Loop cadence
	GracePeriod       time.Duration // Delay before the first pull
	HeartbeatInterval time.Duration // Emit empty slices at least this often (0 disables)
	SliceBuffer       int           // Slices the consumer may lag behind
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval: DefaultTickInterval,
		SliceBuffer:  DefaultSliceBuffer,
	}
}

// State is the Runner lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateInitialized
	StateRunning
	StateStopped
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Runner drives the synchronization loop.
type Runner struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	state  atomic.Int32
	initMu sync.Mutex

	// Set by Initialize.
	adapters *source.Set
	subs     *subscription.Collection
	applier  *universe.Applier
	sync     *synchronizer.Synchronizer

	slices   chan model.TimeSlice
	exit     chan struct{}
	exitOnce sync.Once

	lastSlice atomic.Int64 // UnixNano of the last handed-off slice
	errMu     sync.Mutex
	err       error
}

// New creates a Runner. clk nil means the wall clock.
func New(cfg Config, clk clock.Clock, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.SliceBuffer <= 0 {
		cfg.SliceBuffer = DefaultSliceBuffer
	}

	return &Runner{
		cfg:    cfg,
		clock:  clk,
		logger: logger,
		slices: make(chan model.TimeSlice, cfg.SliceBuffer),
		exit:   make(chan struct{}),
	}
}

// Initialize wires the adapters. Earlier adapters win when more than one
// accepts a config. It does not block and may be called once.
func (r *Runner) Initialize(adapters ...source.Adapter) error {
	r.initMu.Lock()
	defer r.initMu.Unlock()

	if r.State() != StateCreated {
		return ErrAlreadyInitialized
	}

	r.adapters = source.NewSet(adapters...)
	r.subs = subscription.NewCollection(r.adapters, r.clock, r.logger)
	r.applier = universe.NewApplier(r.subs, r.logger)
	r.sync = synchronizer.New(synchronizer.Config{
		GracePeriod:       r.cfg.GracePeriod,
		HeartbeatInterval: r.cfg.HeartbeatInterval,
	}, r.subs, r.adapters, r.clock, r.logger)
	r.sync.SetSelectionHandler(r.applier)

	// Components are visible to other goroutines once the state is stored.
	r.state.Store(int32(StateInitialized))

	r.logger.Info("feed initialized", "adapters", len(adapters), "tick_interval", r.cfg.TickInterval)
	return nil
}

// initialized reports whether Initialize completed.
func (r *Runner) initialized() bool {
	return r.State() != StateCreated
}

// Run drives the loop until Exit, ctx cancellation or a fault. It returns nil
// on a clean stop and *UnexpectedLoopError on a fault. Slices is closed when
// Run returns.
func (r *Runner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateInitialized), int32(StateRunning)) {
		if r.State() == StateCreated {
			return ErrNotInitialized
		}
		return ErrAlreadyRunning
	}
	defer close(r.slices)

	r.logger.Info("feed started")

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if r.stopping(ctx) {
			return r.stop()
		}

		slice, ok, err := r.step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return r.stop()
			}
			return r.fault(err)
		}

		if ok && !r.handoff(ctx, slice) {
			return r.stop()
		}

		select {
		case <-ticker.C:
		case <-r.exit:
			return r.stop()
		case <-ctx.Done():
			return r.stop()
		}
	}
}

// step runs one synchronizer step and converts panics into errors.
func (r *Runner) step(ctx context.Context) (slice model.TimeSlice, ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &UnexpectedLoopError{Cause: fmt.Errorf("panic: %v", rec), Stack: debug.Stack()}
		}
	}()
	return r.sync.Step(ctx)
}

// handoff delivers slice to the consumer. It reports false if Exit or ctx
// won before the consumer accepted it.
func (r *Runner) handoff(ctx context.Context, slice model.TimeSlice) bool {
	if r.stopping(ctx) {
		return false
	}

	start := time.Now()
	select {
	case r.slices <- slice:
	case <-r.exit:
		return false
	case <-ctx.Done():
		return false
	}
	metrics.HandoffWait.Observe(time.Since(start).Seconds())
	r.lastSlice.Store(slice.Time.UnixNano())
	return true
}

func (r *Runner) stopping(ctx context.Context) bool {
	select {
	case <-r.exit:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (r *Runner) stop() error {
	r.state.Store(int32(StateStopped))
	r.logger.Info("feed stopped")
	return nil
}

func (r *Runner) fault(err error) error {
	var loopErr *UnexpectedLoopError
	if !errors.As(err, &loopErr) {
		loopErr = &UnexpectedLoopError{Cause: err}
	}

	r.errMu.Lock()
	r.err = loopErr
	r.errMu.Unlock()
	r.state.Store(int32(StateFaulted))

	r.logger.Error("feed loop faulted", "err", loopErr.Cause, "stack", string(loopErr.Stack))
	return loopErr
}

// Exit stops Run. It is idempotent and safe from any goroutine.
func (r *Runner) Exit() {
	r.exitOnce.Do(func() { close(r.exit) })
}

// Slices returns the channel of emitted slices.
func (r *Runner) Slices() <-chan model.TimeSlice {
	return r.slices
}

// State returns the lifecycle state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Err returns the fault that stopped the loop, if any.
func (r *Runner) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

// LastSliceTime returns the time of the last slice handed to the consumer.
func (r *Runner) LastSliceTime() time.Time {
	n := r.lastSlice.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// AddSubscription subscribes cfg on behalf of the user.
func (r *Runner) AddSubscription(cfg model.SubscriptionConfig) error {
	if !r.initialized() {
		return ErrNotInitialized
	}
	return r.applier.AddSecurity(cfg)
}

// RemoveSubscription releases the user's subscription to cfg. It returns
// false if the user did not hold it.
func (r *Runner) RemoveSubscription(cfg model.SubscriptionConfig) bool {
	if !r.initialized() {
		return false
	}
	return r.applier.RemoveSecurity(cfg)
}

// AddUniverse registers a universe.
func (r *Runner) AddUniverse(u universe.Universe) error {
	if !r.initialized() {
		return ErrNotInitialized
	}
	return r.applier.AddUniverse(u)
}

// RemoveUniverse removes a universe and releases its members.
func (r *Runner) RemoveUniverse(sym model.Symbol) bool {
	if !r.initialized() {
		return false
	}
	_, ok := r.applier.RemoveUniverse(sym)
	return ok
}

// UniverseMembers returns the current members of a universe.
func (r *Runner) UniverseMembers(sym model.Symbol) []model.Symbol {
	if !r.initialized() {
		return nil
	}
	return r.applier.Members(sym)
}

// Subscriptions returns the active configs.
func (r *Runner) Subscriptions() []model.SubscriptionConfig {
	if !r.initialized() {
		return nil
	}
	snap := r.subs.Snapshot()
	out := make([]model.SubscriptionConfig, len(snap))
	for i, s := range snap {
		out[i] = s.Config
	}
	return out
}
