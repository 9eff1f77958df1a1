package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"hedgepool/crypto"
	"hedgepool/native/hedging"
	"hedgepool/native/reserves"
	"hedgepool/observability"
)

// Task names reported to metrics and logs.
const (
	TaskRebalance       = "rebalance"
	TaskSplitFees       = "split_fees"
	TaskSplitLendReward = "split_lend_rewards"
	TaskUpdateFees      = "update_fees"
	TaskLend            = "lend"
	TaskLiquidate       = "liquidate"
	TaskForceClose      = "force_close"
)

// Scheduler runs the keeper operations on a fixed cadence.
type Scheduler struct {
	keeper         *Orchestrator
	account        crypto.Address
	interval       time.Duration
	lendInterval   time.Duration
	autoLend       bool
	autoLiquidate  bool
	autoForceClose bool
	logger         *slog.Logger
	metrics        *observability.KeeperMetrics
	nowFn          func() time.Time

	mu       sync.Mutex
	lastLend time.Time
	once     sync.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *observability.KeeperMetrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLending enables the lend/withdraw cycle, run at most once per interval.
func WithLending(interval time.Duration) Option {
	return func(s *Scheduler) {
		s.autoLend = true
		s.lendInterval = interval
	}
}

func WithAutoLiquidate(enabled bool) Option {
	return func(s *Scheduler) { s.autoLiquidate = enabled }
}

func WithAutoForceClose(enabled bool) Option {
	return func(s *Scheduler) { s.autoForceClose = enabled }
}

func WithNowFunc(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewScheduler builds a scheduler acting as account.
func NewScheduler(o *Orchestrator, account crypto.Address, interval time.Duration, opts ...Option) (*Scheduler, error) {
	if o == nil {
		return nil, fmt.Errorf("keeper: orchestrator required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("keeper: interval must be positive")
	}
	s := &Scheduler{
		keeper:   o,
		account:  account,
		interval: interval,
		logger:   slog.Default(),
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Run blocks, ticking until ctx is cancelled. Task failures are logged and
// never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.once.Do(func() {
		s.logger.Info("keeper scheduler started", "interval", s.interval.String(), "account", s.account.String())
	})
	for {
		if err := s.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("keeper tick finished with errors", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one pass over every whitelisted asset and returns the joined
// task failures.
func (s *Scheduler) Tick(ctx context.Context) error {
	start := s.nowFn()
	defer func() { s.metrics.ObserveTick(time.Since(start)) }()

	assets, err := s.keeper.Assets(ctx)
	if err != nil {
		return err
	}
	lend := s.lendDue(start)
	var errs []error
	for _, asset := range assets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.maintain(ctx, asset, lend); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) lendDue(now time.Time) bool {
	if !s.autoLend {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastLend.IsZero() && now.Sub(s.lastLend) < s.lendInterval {
		return false
	}
	s.lastLend = now
	return true
}

func (s *Scheduler) maintain(ctx context.Context, asset string, lend bool) error {
	var errs []error
	run := func(task string, fn func() error) {
		err := fn()
		if expected(err) {
			s.logger.Debug("keeper task skipped", "task", task, "asset", asset, "reason", err.Error())
			err = nil
		}
		s.metrics.RecordTask(task, asset, err)
		if err != nil {
			s.logger.Error("keeper task failed", "task", task, "asset", asset, "error", err)
			errs = append(errs, fmt.Errorf("%s %s: %w", task, asset, err))
		}
	}
	k, acct := s.keeper, s.account
	run(TaskRebalance, func() error { _, err := k.RebalancePool(ctx, acct, asset); return err })
	run(TaskSplitFees, func() error { _, err := k.SplitFees(ctx, acct, asset); return err })
	run(TaskSplitLendReward, func() error { _, err := k.SplitLendRewards(ctx, acct, asset); return err })
	if s.autoLiquidate || s.autoForceClose {
		run(TaskLiquidate, func() error { return s.exits(ctx, asset) })
	}
	if lend && k.reserves != nil {
		run(TaskLend, func() error { return s.cycleLoan(ctx, asset) })
	}
	run(TaskUpdateFees, func() error { _, err := k.UpdateFeesPercentage(ctx, acct, asset); return err })
	return errors.Join(errs...)
}

// cycleLoan withdraws a matured loan or lends when none is outstanding.
func (s *Scheduler) cycleLoan(ctx context.Context, asset string) error {
	_, lent, err := s.keeper.reserves.Loan(ctx, asset)
	if err != nil {
		return err
	}
	if lent {
		_, err = s.keeper.WithdrawLendedReserves(ctx, s.account, asset)
		return err
	}
	_, err = s.keeper.LendReserves(ctx, s.account, asset)
	return err
}

// exits liquidates under-margined positions, then force closes the largest
// positions while the pool stays above its hedge limit.
func (s *Scheduler) exits(ctx context.Context, asset string) error {
	h := s.keeper.hedging
	if h == nil {
		return nil
	}
	positions, err := h.Positions(ctx, asset)
	if err != nil {
		return err
	}
	var errs []error
	open := positions[:0]
	for _, pos := range positions {
		if pos.IsClosed() {
			continue
		}
		if s.autoLiquidate {
			health, err := h.Inspect(ctx, pos.Nonce)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if health.Liquidable {
				err := s.keeper.LiquidateHedgingPosition(ctx, s.account, pos.Nonce)
				s.metrics.RecordTask(TaskLiquidate, asset, err)
				if err != nil {
					errs = append(errs, fmt.Errorf("liquidate %d: %w", pos.Nonce, err))
				} else {
					s.logger.Info("position liquidated", "asset", asset, "nonce", pos.Nonce)
				}
				continue
			}
		}
		open = append(open, pos)
	}
	if !s.autoForceClose {
		return errors.Join(errs...)
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].Covered.Cmp(open[j].Covered) > 0 })
	for _, pos := range open {
		_, err := s.keeper.ForceCloseHedgingPosition(ctx, s.account, pos.Nonce)
		if errors.Is(err, hedging.ErrUnderLimitHedge) {
			break
		}
		s.metrics.RecordTask(TaskForceClose, asset, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("force close %d: %w", pos.Nonce, err))
			continue
		}
		s.logger.Info("position force closed", "asset", asset, "nonce", pos.Nonce)
	}
	return errors.Join(errs...)
}

// expected reports outcomes that only mean there is nothing to do yet.
func expected(err error) bool {
	for _, target := range []error{
		reserves.ErrTooEarly,
		reserves.ErrNothingToLend,
		reserves.ErrReservesFloor,
		reserves.ErrDepositPending,
		reserves.ErrWithdrawPending,
		hedging.ErrUnderLimitHedge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
