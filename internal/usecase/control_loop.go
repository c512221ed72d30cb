package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitos/trade_engine/internal/domain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrLoopRunning   = errors.New("control loop already running")
	ErrEngineStopped = errors.New("engine stopped")
)

type LoopConfig struct {
	Interval         time.Duration
	BackoffMax       time.Duration
	Workers          int
	MaxOpenPositions int
	StakeAmount      float64
	Whitelist        []string
	Blacklist        []string
}

// ControlLoop runs ticks: every open position is handled, then one new position may be admitted.
// Only one tick executes at a time.
type ControlLoop struct {
	service *PositionService
	repo    domain.PositionRepository
	state   *domain.ProcessState
	notify  *notifications
	locks   *keyedLocks
	cfg     LoopConfig
	logger  *zap.Logger

	tickMu   sync.Mutex
	failures atomic.Int32

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewControlLoop(
	service *PositionService,
	repo domain.PositionRepository,
	state *domain.ProcessState,
	notifier domain.Notifier,
	cfg LoopConfig,
	logger *zap.Logger,
) *ControlLoop {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BackoffMax < cfg.Interval {
		cfg.BackoffMax = cfg.Interval
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxOpenPositions < 1 {
		cfg.MaxOpenPositions = 1
	}
	logger = logger.Named("loop")
	return &ControlLoop{
		service: service,
		repo:    repo,
		state:   state,
		notify:  &notifications{notifier: notifier, logger: logger},
		locks:   newKeyedLocks(),
		cfg:     cfg,
		logger:  logger,
		stopped: make(chan struct{}),
	}
}

func (l *ControlLoop) State() *domain.ProcessState {
	return l.state
}

// Stopped is closed when the engine moves to STOPPED.
func (l *ControlLoop) Stopped() <-chan struct{} {
	return l.stopped
}

// Tick runs one iteration and reports whether a position was opened or a sell was placed.
// Any error makes the tick report no work; fatal errors also stop the engine.
func (l *ControlLoop) Tick(ctx context.Context) bool {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	if l.state.Get() == domain.StateStopped {
		return false
	}

	didWork, err := l.process(ctx)
	if err != nil {
		l.handleFailure(ctx, err)
		return false
	}
	l.failures.Store(0)
	return didWork
}

func (l *ControlLoop) process(ctx context.Context) (bool, error) {
	open, err := l.repo.QueryPositions(ctx, true)
	if err != nil {
		return false, fmt.Errorf("query open positions: %w", err)
	}

	var (
		sold  atomic.Int32
		errMu sync.Mutex
		errs  error
		g     errgroup.Group
	)
	g.SetLimit(l.cfg.Workers)
	for _, pos := range open {
		g.Go(func() error {
			unlock := l.locks.Lock(pos.ID)
			defer unlock()

			didSell, err := l.service.Handle(ctx, pos)
			if err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
				return nil
			}
			if didSell {
				sold.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	if errs != nil {
		return false, errs
	}
	didWork := sold.Load() > 0

	// Admission reads the open count after all per-position work has settled.
	open, err = l.repo.QueryPositions(ctx, true)
	if err != nil {
		return didWork, fmt.Errorf("query open positions: %w", err)
	}
	if len(open) >= l.cfg.MaxOpenPositions {
		return didWork, nil
	}

	pos, err := l.service.Create(ctx, l.cfg.StakeAmount, l.cfg.Whitelist, l.cfg.Blacklist)
	if err != nil {
		if domain.IsContractViolation(err) {
			l.logger.Info("No position opened", zap.Error(err))
			return didWork, nil
		}
		return didWork, err
	}
	return didWork || pos != nil, nil
}

func (l *ControlLoop) handleFailure(ctx context.Context, err error) {
	var fatal error
	for _, e := range multierr.Errors(err) {
		if !domain.IsTransient(e) {
			fatal = e
			break
		}
	}

	if fatal == nil {
		n := l.failures.Add(1)
		l.logger.Warn("Transient failure, retrying next tick",
			zap.Error(err),
			zap.Int32("consecutive", n))
		return
	}

	if !l.state.Stop(fatal.Error()) {
		return
	}
	l.logger.Error("Fatal failure, stopping engine", zap.Error(fatal))
	l.notify.send(ctx, stoppedMessage(fatal.Error()))
	l.once.Do(func() { close(l.stopped) })
}

// Run ticks until ctx is cancelled or the engine stops. Cancellation never interrupts a tick
// in progress; it takes effect between ticks.
func (l *ControlLoop) Run(ctx context.Context) error {
	tickCtx := context.WithoutCancel(ctx)
	for {
		if l.state.Get() == domain.StateStopped {
			return fmt.Errorf("%w: %s", ErrEngineStopped, l.state.Reason())
		}
		if ctx.Err() != nil {
			return nil
		}

		l.Tick(tickCtx)

		timer := time.NewTimer(l.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.Info("Control loop shut down")
			return nil
		case <-l.stopped:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// nextDelay is the tick interval, doubled per consecutive transient failure up to BackoffMax.
func (l *ControlLoop) nextDelay() time.Duration {
	delay := l.cfg.Interval
	for i := int32(0); i < l.failures.Load(); i++ {
		delay *= 2
		if delay >= l.cfg.BackoffMax {
			return l.cfg.BackoffMax
		}
	}
	return delay
}

// Start runs the loop in the background.
func (l *ControlLoop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Get() == domain.StateStopped {
		return ErrEngineStopped
	}
	if l.done != nil {
		return ErrLoopRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done

	go func() {
		defer close(done)
		if err := l.Run(runCtx); err != nil {
			l.logger.Warn("Control loop exited", zap.Error(err))
		}
		l.mu.Lock()
		if l.done == done {
			l.cancel()
			l.done = nil
			l.cancel = nil
		}
		l.mu.Unlock()
	}()

	l.logger.Info("Control loop started", zap.Duration("interval", l.cfg.Interval))
	return nil
}

// Stop asks the background loop to exit and waits for the in-flight tick to finish.
func (l *ControlLoop) Stop(ctx context.Context) error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *ControlLoop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done != nil
}
