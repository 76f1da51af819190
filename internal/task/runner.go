// Package task runs registered trading strategies against the engine. A
// strategy plans orders; the runner submits them, serializing strategies
// that touch the same instruments so they never race on a position.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/reconcile"
)

// Strategy plans orders for a fixed set of instruments. Plan must be pure
// with respect to the engine: it returns requests and never submits itself.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Instruments returns the instruments this strategy trades. Used to
	// decide which strategies may run concurrently.
	Instruments() []string

	// Plan produces zero or more order requests for the current cycle.
	Plan(ctx context.Context) ([]domain.OrderRequest, error)
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Submitter is the slice of the engine the runner needs.
type Submitter interface {
	SubmitStrategyOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderRecord, error)
	Reconcile(ctx context.Context) (*reconcile.Result, error)
}

// Runner executes strategies from a registry through the engine.
type Runner struct {
	registry *Registry
	engine   Submitter
	log      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-instrument serialization
}

// NewRunner creates a Runner over the given registry and engine.
func NewRunner(registry *Registry, engine Submitter) *Runner {
	return &Runner{
		registry: registry,
		engine:   engine,
		log:      slog.Default().With("component", "task"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// instrumentLocks returns the mutexes for a strategy's instruments in a
// stable order, creating them on first sight. Sorted acquisition keeps two
// overlapping strategies from deadlocking.
func (r *Runner) instrumentLocks(instruments []string) []*sync.Mutex {
	sorted := append([]string(nil), instruments...)
	sort.Strings(sorted)

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*sync.Mutex, 0, len(sorted))
	seen := make(map[string]bool, len(sorted))
	for _, ins := range sorted {
		if seen[ins] {
			continue
		}
		seen[ins] = true
		m, ok := r.locks[ins]
		if !ok {
			m = &sync.Mutex{}
			r.locks[ins] = m
		}
		out = append(out, m)
	}
	return out
}

// RunOnce runs the named strategies (all registered when names is empty)
// and submits every planned order. Strategies with disjoint instrument sets
// run concurrently; overlapping ones take turns. A reconciliation pass runs
// after the batch so fills and ambiguous submissions resolve promptly.
func (r *Runner) RunOnce(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		names = r.registry.List()
	}

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var errs []error

	for _, name := range names {
		s, ok := r.registry.Get(name)
		if !ok {
			errMu.Lock()
			errs = append(errs, fmt.Errorf("task: strategy %q not registered", name))
			errMu.Unlock()
			continue
		}
		wg.Add(1)
		go func(s Strategy) {
			defer wg.Done()
			if err := r.runStrategy(ctx, s); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("task: strategy %q: %w", s.Name(), err))
				errMu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	if len(names) > 0 {
		if _, err := r.engine.Reconcile(ctx); err != nil {
			r.log.Warn("post-batch reconciliation failed", "error", err)
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) runStrategy(ctx context.Context, s Strategy) error {
	locks := r.instrumentLocks(s.Instruments())
	for _, m := range locks {
		m.Lock()
	}
	defer func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}()

	reqs, err := s.Plan(ctx)
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}

	for _, req := range reqs {
		rec, err := r.engine.SubmitStrategyOrder(ctx, req)
		if err != nil {
			// A rejection of one order does not stop the rest of the plan.
			r.log.Warn("strategy order failed",
				"strategy", s.Name(), "instrument", req.Instrument, "error", err)
			continue
		}
		r.log.Info("strategy order submitted",
			"strategy", s.Name(), "key", rec.Key(), "instrument", req.Instrument)
	}
	return nil
}

// Run executes RunOnce on the given interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.log.Warn("strategy cycle finished with errors", "error", err)
			}
		}
	}
}
