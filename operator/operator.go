package operator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orepool/operator/ledger"
	"github.com/orepool/operator/logging"
	"github.com/orepool/operator/shared"
)

var (
	settlementsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pool",
		Subsystem: "operator",
		Name:      "settlements_total",
		Help:      "Number of settlement ticks by outcome",
	}, []string{"result"})

	loopStateMetric = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pool",
		Subsystem: "operator",
		Name:      "loop_state",
		Help:      "Current state of a settlement loop",
	}, []string{"loop"})

	stakeCommitsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pool",
		Subsystem: "operator",
		Name:      "stake_commits_total",
		Help:      "Number of stake commitments by outcome",
	}, []string{"result"})
)

// State of a settlement loop.
type State int32

const (
	StateIdle State = iota
	StateBuilding
	StateSubmitting
	StateConfirmed
	StateRetryPending
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateSubmitting:
		return "submitting"
	case StateConfirmed:
		return "confirmed"
	case StateRetryPending:
		return "retry-pending"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type loopState struct {
	name  string
	state atomic.Int32
}

func (l *loopState) set(s State) {
	l.state.Store(int32(s))
	loopStateMetric.WithLabelValues(l.name).Set(float64(s))
}

func (l *loopState) get() State {
	return State(l.state.Load())
}

//go:generate mockgen -package mocks -destination mocks/ledger.go . Ledger

// Ledger submits transactions on behalf of the pool authority.
type Ledger interface {
	Submit(ctx context.Context, tx *ledger.Transaction) error
	Pool(ctx context.Context) (*ledger.PoolAccount, error)
	Authority() shared.PublicKey
}

// Drainer hands over the scores of the live epoch.
type Drainer interface {
	DrainAndReset() *shared.Snapshot
}

// Operator periodically settles aggregated scores against the ledger
// and commits the pool stake to the configured boosts.
type Operator struct {
	cfg      Config
	drainer  Drainer
	client   Ledger
	store    *settlementStore
	tickUnit time.Duration

	attribution loopState
	stake       loopState

	// the settlement retained for retry, owned by the attribution loop
	pending *Settlement
	// guards Run
	running sync.Mutex
}

type newOperatorOptionFunc func(*Operator)

func withTickUnit(unit time.Duration) newOperatorOptionFunc {
	return func(o *Operator) {
		o.tickUnit = unit
	}
}

// New creates an operator persisting its settlements in datadir.
func New(cfg Config, drainer Drainer, client Ledger, datadir string, opts ...newOperatorOptionFunc) (*Operator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid operator config: %w", err)
	}
	store, err := openSettlementStore(datadir)
	if err != nil {
		return nil, err
	}
	o := &Operator{
		cfg:         cfg,
		drainer:     drainer,
		client:      client,
		store:       store,
		tickUnit:    time.Minute,
		attribution: loopState{name: "attribution"},
		stake:       loopState{name: "stake"},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.attribution.set(StateIdle)
	o.stake.set(StateIdle)
	return o, nil
}

func (o *Operator) Close() error {
	return o.store.Close()
}

// State of the attribution loop.
func (o *Operator) State() State {
	return o.attribution.get()
}

// StakeState of the stake commitment loop.
func (o *Operator) StakeState() State {
	return o.stake.get()
}

// LastEpoch is the highest epoch a settlement was built for.
func (o *Operator) LastEpoch() (uint64, error) {
	return o.store.LastEpoch()
}

// FailedSettlements returns settlements awaiting manual intervention.
func (o *Operator) FailedSettlements() ([]*Settlement, error) {
	return o.store.Failed()
}

// Run runs the settlement loops until ctx is cancelled.
// Failures of a tick are logged and never stop the loops.
func (o *Operator) Run(ctx context.Context) error {
	if !o.running.TryLock() {
		return errors.New("operator is already running")
	}
	defer o.running.Unlock()

	logger := logging.FromContext(ctx).Named("operator")
	logger.Info("starting operator", zap.Object("config", o.cfg))
	if err := o.recoverExecution(ctx); err != nil {
		return fmt.Errorf("recovering settlements: %w", err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		o.attributionLoop(logging.NewContext(ctx, logger.Named("attribution")))
		return nil
	})
	if o.cfg.stakeEnabled() {
		eg.Go(func() error {
			o.stakeLoop(logging.NewContext(ctx, logger.Named("stake")))
			return nil
		})
	} else {
		logger.Info("stake commitments disabled")
	}
	err := eg.Wait()
	logger.Info("operator stopped")
	return err
}

func (o *Operator) recoverExecution(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	pending, err := o.store.Pending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	// Settlements are serialized, there is at most one pending. Nonces of any
	// other would overlap with it.
	for _, s := range pending[1:] {
		s.Failure = fmt.Sprintf("superseded by pending settlement of epoch %d", pending[0].Epoch)
		logger.Error("found extra pending settlement, manual intervention required",
			zap.String("id", s.ID),
			zap.Uint64("epoch", s.Epoch),
			logging.Alert(),
		)
		if err := o.store.Fail(s); err != nil {
			return err
		}
	}
	o.pending = pending[0]
	logger.Info("recovered pending settlement",
		zap.String("id", o.pending.ID),
		zap.Uint64("epoch", o.pending.Epoch),
		zap.Uint64("confirmed", o.pending.Confirmed),
		zap.Int("transactions", len(o.pending.Transactions)),
	)
	return nil
}

func (o *Operator) attributionLoop(ctx context.Context) {
	logger := logging.FromContext(ctx)
	interval := o.cfg.attributionInterval(o.tickUnit)
	logger.Info("attribution loop started", zap.Duration("interval", interval))

	// settle once on start, then every interval
	o.settle(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.settle(ctx)
		}
	}
}

// settle runs one attribution tick: it retries the retained settlement,
// or drains the live epoch and settles it.
func (o *Operator) settle(ctx context.Context) {
	logger := logging.FromContext(ctx)
	if o.pending != nil {
		logger.Info("retrying pending settlement",
			zap.Uint64("epoch", o.pending.Epoch),
			zap.Uint64("retries", o.pending.Retries),
		)
		o.submit(ctx, o.pending)
		return
	}

	o.attribution.set(StateBuilding)
	// read the pool before draining so that a failure leaves scores in the live epoch
	pool, err := o.client.Pool(ctx)
	if err != nil {
		logger.Warn("failed to read pool account, settlement postponed", zap.Error(err))
		settlementsMetric.WithLabelValues("postponed").Inc()
		o.attribution.set(StateIdle)
		return
	}
	snapshot := o.drainer.DrainAndReset()
	snapshot.Reservoir = pool.Reservoir
	logger = logger.With(zap.Uint64("epoch", snapshot.Epoch))
	if snapshot.IsEmpty() {
		logger.Debug("no contributions in epoch")
		settlementsMetric.WithLabelValues("empty").Inc()
		o.attribution.set(StateIdle)
		return
	}

	attributions := ComputeAttribution(snapshot)
	if len(attributions) == 0 {
		logger.Info("nothing to attribute", zap.Object("snapshot", snapshot))
		settlementsMetric.WithLabelValues("empty").Inc()
		o.attribution.set(StateIdle)
		return
	}
	settlement, err := BuildSettlement(snapshot, attributions, o.client.Authority(), pool.Nonce, o.cfg.MaxCreditsPerTx)
	if err != nil {
		logger.Error("failed to build settlement", zap.Object("snapshot", snapshot), zap.Error(err), logging.Alert())
		settlementsMetric.WithLabelValues("failed").Inc()
		o.attribution.set(StateFailed)
		return
	}
	logger.Info("settling epoch",
		zap.Object("snapshot", snapshot),
		zap.String("id", settlement.ID),
		zap.Int("members", len(attributions)),
		zap.Uint64("credited", attributions.Total()),
		zap.Int("transactions", len(settlement.Transactions)),
		zap.Binary("root", settlement.Root),
	)
	o.submit(ctx, settlement)
}

// submit persists the settlement and submits its remaining transactions in
// nonce order.
func (o *Operator) submit(ctx context.Context, settlement *Settlement) {
	logger := logging.FromContext(ctx).With(
		zap.String("id", settlement.ID),
		zap.Uint64("epoch", settlement.Epoch),
	)
	if err := o.store.Save(settlement); err != nil {
		logger.Error("failed to persist settlement", zap.Error(err), logging.Alert())
		o.retain(settlement)
		return
	}

	o.attribution.set(StateSubmitting)
	for _, tx := range settlement.Remaining() {
		tx := tx
		err := o.client.Submit(ctx, &tx)
		switch {
		case err == nil:
			settlement.Confirmed++
			if err := o.store.Save(settlement); err != nil {
				logger.Warn("failed to persist settlement progress", zap.Error(err))
			}
		case errors.Is(err, ledger.ErrPermanent):
			settlement.Failure = err.Error()
			logger.Error("settlement failed permanently, manual intervention required",
				zap.Uint64("confirmed", settlement.Confirmed),
				zap.Int("transactions", len(settlement.Transactions)),
				zap.Error(err),
				logging.Alert(),
			)
			if err := o.store.Fail(settlement); err != nil {
				logger.Error("failed to persist failed settlement", zap.Error(err), logging.Alert())
			}
			o.pending = nil
			settlementsMetric.WithLabelValues("failed").Inc()
			o.attribution.set(StateFailed)
			return
		default:
			settlement.Retries++
			logger.Warn("settlement not confirmed, retrying next tick",
				zap.Uint64("confirmed", settlement.Confirmed),
				zap.Int("transactions", len(settlement.Transactions)),
				zap.Error(err),
			)
			if err := o.store.Save(settlement); err != nil {
				logger.Warn("failed to persist settlement progress", zap.Error(err))
			}
			o.retain(settlement)
			return
		}
	}

	if err := o.store.Delete(settlement); err != nil {
		logger.Warn("failed to delete confirmed settlement", zap.Error(err))
	}
	o.pending = nil
	settlementsMetric.WithLabelValues("confirmed").Inc()
	o.attribution.set(StateConfirmed)
	logger.Info("settlement confirmed",
		zap.Uint64("credited", settlement.Total()),
		zap.Int("transactions", len(settlement.Transactions)),
	)
}

func (o *Operator) retain(settlement *Settlement) {
	o.pending = settlement
	settlementsMetric.WithLabelValues("retry").Inc()
	o.attribution.set(StateRetryPending)
}

func (o *Operator) stakeLoop(ctx context.Context) {
	logger := logging.FromContext(ctx)
	interval := o.cfg.stakeInterval(o.tickUnit)
	logger.Info("stake loop started", zap.Duration("interval", interval), zap.Int("boosts", len(o.cfg.Boosts)))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var epoch uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			epoch++
			if err := o.commitStake(ctx, epoch); err != nil {
				logger.Warn("stake commitment incomplete", zap.Uint64("epoch", epoch), zap.Error(err))
			}
		}
	}
}

// commitStake commits the pool stake to every boost concurrently.
// A failing boost never prevents the others from being committed.
func (o *Operator) commitStake(ctx context.Context, epoch uint64) error {
	logger := logging.FromContext(ctx)
	o.stake.set(StateSubmitting)

	var (
		mu        sync.Mutex
		result    *multierror.Error
		permanent bool
		eg        errgroup.Group
	)
	authority := o.client.Authority()
	for _, boost := range o.cfg.Boosts {
		boost := boost
		eg.Go(func() error {
			err := o.client.Submit(ctx, ledger.NewCommitStake(authority, boost, epoch))
			switch {
			case err == nil:
				stakeCommitsMetric.WithLabelValues("confirmed").Inc()
				logger.Debug("stake committed", zap.Stringer("boost", boost))
				return nil
			case errors.Is(err, ledger.ErrPermanent):
				stakeCommitsMetric.WithLabelValues("failed").Inc()
				logger.Error("stake commitment rejected", zap.Stringer("boost", boost), zap.Error(err), logging.Alert())
			default:
				stakeCommitsMetric.WithLabelValues("retry").Inc()
				logger.Warn("stake commitment not confirmed", zap.Stringer("boost", boost), zap.Error(err))
			}
			mu.Lock()
			result = multierror.Append(result, fmt.Errorf("boost %s: %w", boost, err))
			permanent = permanent || errors.Is(err, ledger.ErrPermanent)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	err := result.ErrorOrNil()
	switch {
	case err == nil:
		o.stake.set(StateConfirmed)
	case permanent:
		o.stake.set(StateFailed)
	default:
		o.stake.set(StateRetryPending)
	}
	return err
}
