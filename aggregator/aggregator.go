package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/orepool/operator/logging"
	"github.com/orepool/operator/shared"
)

const numShards = 16

var (
	contributionsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pool",
		Subsystem: "aggregator",
		Name:      "contributions_total",
		Help:      "Number of recorded contributions",
	})

	scoreMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pool",
		Subsystem: "aggregator",
		Name:      "score_total",
		Help:      "Sum of recorded contribution scores",
	})

	membersMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pool",
		Subsystem: "aggregator",
		Name:      "members",
		Help:      "Number of members that contributed to the live epoch",
	})

	drainLatencyMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pool",
		Subsystem: "aggregator",
		Name:      "drain_duration_seconds",
		Help:      "Time the live epoch was held exclusively while draining",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 16),
	})
)

// Source delivers validated contributions.
type Source interface {
	Next(ctx context.Context) (shared.Contribution, error)
}

type shard struct {
	mu     sync.Mutex
	scores map[shared.PublicKey]uint64
}

type epoch struct {
	id     uint64
	shards [numShards]shard
}

func newEpoch(id uint64) *epoch {
	e := &epoch{id: id}
	for i := range e.shards {
		e.shards[i].scores = make(map[shared.PublicKey]uint64)
	}
	return e
}

func (e *epoch) shardOf(member shared.PublicKey) *shard {
	return &e.shards[member[0]%numShards]
}

// add returns true if the member is new in this epoch.
func (e *epoch) add(member shared.PublicKey, score uint64) bool {
	s := e.shardOf(member)
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.scores[member]
	sum, carry := bits.Add64(current, score, 0)
	if carry != 0 {
		panic(fmt.Sprintf("score of member %s overflows in epoch %d", member, e.id))
	}
	s.scores[member] = sum
	return !ok
}

func (e *epoch) get(member shared.PublicKey) uint64 {
	s := e.shardOf(member)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scores[member]
}

// snapshot must only be called once no writer can reach the epoch.
func (e *epoch) snapshot(takenAt time.Time) *shared.Snapshot {
	snap := &shared.Snapshot{
		Epoch:   e.id,
		Scores:  make(map[shared.PublicKey]uint64),
		TakenAt: takenAt,
	}
	for i := range e.shards {
		for member, score := range e.shards[i].scores {
			total, carry := bits.Add64(snap.TotalScore, score, 0)
			if carry != 0 {
				panic(fmt.Sprintf("total score overflows in epoch %d", e.id))
			}
			snap.TotalScore = total
			snap.Scores[member] = score
		}
	}
	return snap
}

// Aggregator accumulates contribution scores of the live epoch.
//
// Record and Query only share-lock the live epoch and serialize on a per-member shard,
// so ingestion is not blocked by other writers. DrainAndReset takes the
// exclusive lock just long enough to swap the live epoch for an empty one.
type Aggregator struct {
	mu   sync.RWMutex
	live *epoch

	now func() time.Time
}

type newAggregatorOptions struct {
	epoch uint64
	now   func() time.Time
}

type newAggregatorOptionFunc func(*newAggregatorOptions)

// WithEpoch sets the id of the first live epoch.
func WithEpoch(epoch uint64) newAggregatorOptionFunc {
	return func(opts *newAggregatorOptions) {
		opts.epoch = epoch
	}
}

func withClock(now func() time.Time) newAggregatorOptionFunc {
	return func(opts *newAggregatorOptions) {
		opts.now = now
	}
}

func New(opts ...newAggregatorOptionFunc) *Aggregator {
	options := newAggregatorOptions{
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Aggregator{
		live: newEpoch(options.epoch),
		now:  options.now,
	}
}

// Record adds the contribution score to its member's live score.
// Contributions are validated upstream, so there is nothing to reject here.
func (a *Aggregator) Record(c shared.Contribution) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	// the members gauge is reset under the write lock on drain
	if a.live.add(c.Member, c.Score) {
		membersMetric.Inc()
	}
	contributionsMetric.Inc()
	scoreMetric.Add(float64(c.Score))
}

// Query returns the live, not yet settled, score of the member.
func (a *Aggregator) Query(member shared.PublicKey) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.live.get(member)
}

// Epoch returns the id of the live epoch.
func (a *Aggregator) Epoch() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.live.id
}

// DrainAndReset closes the live epoch and opens the next one.
// Every contribution recorded before the swap is in the returned snapshot,
// every contribution recorded after it lands in the new live epoch.
func (a *Aggregator) DrainAndReset() *shared.Snapshot {
	start := time.Now()
	a.mu.Lock()
	drained := a.live
	a.live = newEpoch(drained.id + 1)
	membersMetric.Set(0)
	a.mu.Unlock()
	drainLatencyMetric.Observe(time.Since(start).Seconds())

	return drained.snapshot(a.now())
}

// Run records contributions from the source until the context is canceled.
func (a *Aggregator) Run(ctx context.Context, source Source) error {
	logger := logging.FromContext(ctx).Named("aggregator")
	logger.Info("processing contributions", zap.Uint64("epoch", a.Epoch()))
	for {
		c, err := source.Next(ctx)
		if err == nil {
			a.Record(c)
			logger.Debug("recorded contribution", zap.Stringer("member", c.Member), zap.Uint64("score", c.Score))
			continue
		}
		switch {
		case ctx.Err() != nil:
			logger.Info("stopped processing contributions")
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		default:
			return fmt.Errorf("receiving contribution: %w", err)
		}
	}
}
