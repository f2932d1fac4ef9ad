// feedbench drives the runner with synthetic ticks and reports throughput.
// Usage: go run ./cmd/feedbench --symbols 600 --duration 10s
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/livefeed/internal/feed"
	"github.com/rickgao/livefeed/internal/model"
	"github.com/rickgao/livefeed/internal/source"
)

func main() {
	symbols := flag.Int("symbols", 600, "number of synthetic symbols")
	producers := flag.Int("producers", 6, "concurrent tick producers")
	duration := flag.Duration("duration", 10*time.Second, "how long to produce ticks")
	tickInterval := flag.Duration("tick-interval", time.Millisecond, "runner loop cadence")
	pause := flag.Duration("pause", time.Millisecond, "producer pause between rounds")
	target := flag.Float64("target", 70_000, "minimum ticks/s; exit non-zero below it")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := run(ctx, config{
		symbols:      *symbols,
		producers:    max(*producers, 1),
		duration:     *duration,
		tickInterval: *tickInterval,
		pause:        *pause,
	}, logger)
	if err != nil {
		logger.Error("benchmark failed", "error", err)
		os.Exit(1)
	}

	logger.Info("benchmark complete",
		"symbols", *symbols,
		"pushed", res.pushed,
		"emitted", res.emitted,
		"slices", res.slices,
		"elapsed", res.elapsed.Round(time.Millisecond),
		"ticks_per_sec", fmt.Sprintf("%.0f", res.rate()),
	)
	if res.rate() < *target {
		logger.Error("throughput below target", "target", *target)
		os.Exit(1)
	}
}

type config struct {
	symbols      int
	producers    int
	duration     time.Duration
	tickInterval time.Duration
	pause        time.Duration
}

type result struct {
	pushed  int64
	emitted int64
	slices  int64
	elapsed time.Duration
}

func (r result) rate() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.emitted) / r.elapsed.Seconds()
}

func run(ctx context.Context, cfg config, logger *slog.Logger) (result, error) {
	syms := make([]model.Symbol, cfg.symbols)
	for i := range syms {
		syms[i] = model.NewSymbol(fmt.Sprintf("SYN%04d", i), "usa", model.SecurityEquity)
	}

	ticks := source.NewTickSource(source.TickSourceConfig{
		Name:          "synthetic",
		BufferSize:    100_000,
		MaxBufferSize: 1_000_000,
	}, logger)
	defer ticks.Close()

	runner := feed.New(feed.Config{TickInterval: cfg.tickInterval, SliceBuffer: 4096}, nil, logger)
	if err := runner.Initialize(ticks); err != nil {
		return result{}, err
	}
	for _, sym := range syms {
		sub := model.SubscriptionConfig{Symbol: sym, DataType: model.DataTick, TickType: model.TickTrade}
		if err := runner.AddSubscription(sub); err != nil {
			return result{}, fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}

	var pushed, emitted, slices atomic.Int64
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return runner.Run(gctx)
	})

	g.Go(func() error {
		for s := range runner.Slices() {
			slices.Add(1)
			for _, tt := range s.Ticks {
				emitted.Add(int64(len(tt)))
			}
		}
		return nil
	})

	start := time.Now()
	produceCtx, produceCancel := context.WithTimeout(gctx, cfg.duration)
	defer produceCancel()

	var producers errgroup.Group
	per := (len(syms) + cfg.producers - 1) / cfg.producers
	price := decimal.NewFromInt(100)
	qty := decimal.NewFromInt(1)
	for lo := 0; lo < len(syms); lo += per {
		batch := syms[lo:min(lo+per, len(syms))]
		producers.Go(func() error {
			for produceCtx.Err() == nil {
				now := time.Now()
				for _, sym := range batch {
					if ticks.Push(model.NewTradeTick(sym, now, price, qty)) {
						pushed.Add(1)
					}
				}
				if cfg.pause > 0 {
					time.Sleep(cfg.pause)
				}
			}
			return nil
		})
	}
	producers.Wait()

	// Let the loop drain what was pushed before stopping it.
	deadline := time.Now().Add(5 * time.Second)
	for emitted.Load() < pushed.Load() && time.Now().Before(deadline) && ctx.Err() == nil {
		time.Sleep(cfg.tickInterval)
	}
	elapsed := time.Since(start)

	runner.Exit()
	if err := g.Wait(); err != nil {
		return result{}, err
	}

	return result{
		pushed:  pushed.Load(),
		emitted: emitted.Load(),
		slices:  slices.Load(),
		elapsed: elapsed,
	}, nil
}
