package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/vitos/grid_ladder/internal/domain"
	"go.uber.org/zap"
)

// Supervisor runs strategy instances keyed by id and forwards live edits to them.
type Supervisor struct {
	deps       Deps
	logger     *zap.Logger
	strategies map[string]*runner
	closed     bool
	mu         sync.Mutex
	wg         sync.WaitGroup

	// ctx is the parent of every run context; Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

// runner stays registered until its loop returns, so a stopping id cannot be
// started twice. stopping is guarded by Supervisor.mu.
type runner struct {
	strategy Strategy
	cancel   context.CancelFunc
	stopping bool
}

func (r *runner) exited() bool {
	select {
	case <-r.strategy.Done():
		return true
	default:
		return false
	}
}

func NewSupervisor(deps Deps) *Supervisor {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		deps:       deps,
		logger:     logger,
		strategies: make(map[string]*runner),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start builds the requested variant and runs it in its own goroutine. The
// instance leaves the registry when its loop returns. Restarting an id that is
// still stopping waits for the old loop to exit, bounded by ctx.
func (s *Supervisor) Start(ctx context.Context, req StartRequest) (domain.Snapshot, error) {
	if req.ID != "" {
		if err := s.awaitExit(ctx, req.ID); err != nil {
			return domain.Snapshot{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.ctx.Err() != nil {
		return domain.Snapshot{}, fmt.Errorf("supervisor is shutting down: %w", domain.ErrNotRunning)
	}
	if err := s.checkFree(req.ID); err != nil {
		return domain.Snapshot{}, err
	}

	strategy, err := NewStrategy(s.deps, req)
	if err != nil {
		return domain.Snapshot{}, err
	}
	id := strategy.ID()
	if err := s.checkFree(id); err != nil {
		return domain.Snapshot{}, err
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	r := &runner{strategy: strategy, cancel: cancel}
	s.strategies[id] = r
	RunningStrategies.Inc()

	s.wg.Add(1)
	go s.run(runCtx, r)

	s.logger.Info("Strategy registered",
		zap.String("id", id),
		zap.String("symbol", strategy.Symbol()),
		zap.String("variant", strategy.Variant()),
	)
	return strategy.Snapshot(), nil
}

// checkFree reports whether id can take a new runner. A stopped runner whose
// loop already returned is replaced; its run goroutine then leaves the entry alone.
// Must be called with s.mu held.
func (s *Supervisor) checkFree(id string) error {
	if id == "" {
		return nil
	}
	r, exists := s.strategies[id]
	if !exists || (r.stopping && r.exited()) {
		return nil
	}
	if r.stopping {
		return fmt.Errorf("strategy %s is still stopping: %w", id, domain.ErrAlreadyRunning)
	}
	return fmt.Errorf("strategy %s: %w", id, domain.ErrAlreadyRunning)
}

// awaitExit blocks until a stopping instance registered under id has left its loop.
func (s *Supervisor) awaitExit(ctx context.Context, id string) error {
	s.mu.Lock()
	r, exists := s.strategies[id]
	s.mu.Unlock()
	if !exists || !r.stopping {
		return nil
	}

	s.logger.Info("Waiting for previous instance to stop", zap.String("id", id))
	select {
	case <-r.strategy.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("strategy %s is still stopping: %w", id, domain.ErrAlreadyRunning)
	}
}

func (s *Supervisor) run(ctx context.Context, r *runner) {
	defer s.wg.Done()
	defer r.cancel()

	id := r.strategy.ID()
	if err := r.strategy.Run(ctx); err != nil {
		s.logger.Error("Strategy exited with error", zap.String("id", id), zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.strategies[id]
	if !ok || cur != r {
		// the id was already taken over by a restart
		return
	}
	delete(s.strategies, id)
	if !r.stopping {
		RunningStrategies.Dec()
	}
	forgetStrategyMetrics(id)
}

// Stop asks an instance to finish its current cycle and exit. Resting orders
// stay on the exchange unless the instance was configured with cancelOnStop.
// The id stays reserved until the loop has returned.
func (s *Supervisor) Stop(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.strategies[id]
	if !exists || r.stopping {
		return fmt.Errorf("strategy %s: %w", id, domain.ErrNotFound)
	}
	r.stopping = true
	r.strategy.Stop()
	RunningStrategies.Dec()

	s.logger.Info("Strategy stopped", zap.String("id", id))
	return nil
}

// List returns the ids of running instances, sorted.
func (s *Supervisor) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.strategies))
	for id, r := range s.strategies {
		if !r.stopping {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *Supervisor) ListAll() []domain.Snapshot {
	ids := s.List()
	out := make([]domain.Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, err := s.Snapshot(id); err == nil {
			out = append(out, snap)
		}
	}
	return out
}

func (s *Supervisor) Snapshot(id string) (domain.Snapshot, error) {
	r, err := s.get(id)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return r.strategy.Snapshot(), nil
}

func (s *Supervisor) get(id string) (*runner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.strategies[id]
	if !exists || r.stopping {
		return nil, fmt.Errorf("strategy %s: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

func (s *Supervisor) editor(id string) (LevelEditor, error) {
	r, err := s.get(id)
	if err != nil {
		return nil, err
	}
	ed, ok := r.strategy.(LevelEditor)
	if !ok {
		return nil, fmt.Errorf("%s levels are computed: %w", r.strategy.Variant(), domain.ErrUnsupported)
	}
	return ed, nil
}

func (s *Supervisor) SetProfitMargin(ctx context.Context, id string, margin float64) error {
	if margin < 0 {
		return fmt.Errorf("profit margin %v must not be negative: %w", margin, domain.ErrInvalidArgument)
	}
	r, err := s.get(id)
	if err != nil {
		return err
	}
	return r.strategy.SetProfitMargin(ctx, margin)
}

func (s *Supervisor) AddLevel(ctx context.Context, id string, price, quantity decimal.Decimal) (int, error) {
	ed, err := s.editor(id)
	if err != nil {
		return 0, err
	}
	return ed.AddLevel(ctx, price, quantity)
}

func (s *Supervisor) RemoveLevel(ctx context.Context, id string, index int) error {
	ed, err := s.editor(id)
	if err != nil {
		return err
	}
	return ed.RemoveLevel(ctx, index)
}

func (s *Supervisor) UpdateLevelPrice(ctx context.Context, id string, index int, price decimal.Decimal) error {
	ed, err := s.editor(id)
	if err != nil {
		return err
	}
	return ed.UpdateLevelPrice(ctx, index, price)
}

func (s *Supervisor) UpdateLevelQuantity(ctx context.Context, id string, index int, quantity decimal.Decimal) error {
	ed, err := s.editor(id)
	if err != nil {
		return err
	}
	return ed.UpdateLevelQuantity(ctx, index, quantity)
}

func (s *Supervisor) StopLevel(ctx context.Context, id string, index int) error {
	ed, err := s.editor(id)
	if err != nil {
		return err
	}
	return ed.StopLevel(ctx, index)
}

func (s *Supervisor) ReactivateLevel(ctx context.Context, id string, index int) error {
	ed, err := s.editor(id)
	if err != nil {
		return err
	}
	return ed.ReactivateLevel(ctx, index)
}

func (s *Supervisor) ClearLevels(ctx context.Context, id string) error {
	ed, err := s.editor(id)
	if err != nil {
		return err
	}
	return ed.ClearLevels(ctx)
}

// Shutdown stops every instance and waits for their loops to return. If ctx
// expires first the run contexts are cancelled, which interrupts in-flight calls.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, r := range s.strategies {
		if r.stopping {
			continue
		}
		r.stopping = true
		r.strategy.Stop()
		RunningStrategies.Dec()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("All strategies stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
