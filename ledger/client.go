package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orepool/operator/logging"
	"github.com/orepool/operator/shared"
	"github.com/orepool/operator/signing"
)

var (
	submissionsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pool",
		Subsystem: "ledger",
		Name:      "submissions_total",
		Help:      "Number of submitted transactions by outcome",
	}, []string{"kind", "result"})

	attemptsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pool",
		Subsystem: "ledger",
		Name:      "attempts_total",
		Help:      "Number of submission attempts",
	}, []string{"kind"})

	latencyMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pool",
		Subsystem: "ledger",
		Name:      "submit_latency_seconds",
		Help:      "Time from first attempt to final outcome of a submission",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	})
)

const confirmedCacheSize = 1024

func DefaultConfig() Config {
	return Config{
		AttemptTimeout: 30 * time.Second,
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     15 * time.Second,
	}
}

//nolint:lll
type Config struct {
	URL            string        `long:"ledger-url"      description:"URL of the ledger gateway (empty runs an in-memory development ledger)"`
	AttemptTimeout time.Duration `long:"attempt-timeout" description:"Timeout of a single submission attempt, confirmation included"`
	MaxAttempts    uint          `long:"max-attempts"    description:"Maximum number of attempts per transaction"`
	InitialBackoff time.Duration `long:"initial-backoff" description:"Delay before the first retry"`
	MaxBackoff     time.Duration `long:"max-backoff"     description:"Maximum delay between retries"`
}

func (c Config) Validate() error {
	if c.AttemptTimeout <= 0 {
		return errors.New("attempt timeout must be positive")
	}
	if c.MaxAttempts == 0 {
		return errors.New("max attempts must be positive")
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("invalid backoff range [%v, %v]", c.InitialBackoff, c.MaxBackoff)
	}
	return nil
}

// implement zap.ObjectMarshaler interface.
func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("url", c.URL)
	enc.AddDuration("attempt-timeout", c.AttemptTimeout)
	enc.AddUint("max-attempts", c.MaxAttempts)
	enc.AddDuration("initial-backoff", c.InitialBackoff)
	enc.AddDuration("max-backoff", c.MaxBackoff)
	return nil
}

// Client submits transactions signed by the pool authority and drives them
// to a definitive outcome.
type Client struct {
	backend   Backend
	authority *signing.Keypair
	cfg       Config
	confirmed *lru.Cache
}

type newClientOptionFunc func(*Client)

func WithConfig(cfg Config) newClientOptionFunc {
	return func(c *Client) {
		c.cfg = cfg
	}
}

func NewClient(backend Backend, authority *signing.Keypair, opts ...newClientOptionFunc) (*Client, error) {
	confirmed, err := lru.New(confirmedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating confirmed cache: %w", err)
	}
	c := &Client{
		backend:   backend,
		authority: authority,
		cfg:       DefaultConfig(),
		confirmed: confirmed,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Authority is the pool authority the client signs for.
func (c *Client) Authority() shared.PublicKey {
	return c.authority.PublicKey()
}

// Pool reads the pool account of the authority.
func (c *Client) Pool(ctx context.Context) (*PoolAccount, error) {
	return c.backend.Pool(ctx, c.Authority())
}

// Submit drives tx to a definitive outcome.
// It returns nil once the transaction is confirmed, an error wrapping
// ErrPermanent when the ledger rejected it for good, and an error wrapping
// ErrTransient when the retry budget was exhausted or ctx was cancelled.
// A transaction rejected with an error wrapping ErrTransient may be submitted
// again: it is never applied twice.
func (c *Client) Submit(ctx context.Context, tx *Transaction) error {
	tx = tx.clone()
	tx.Pool = c.Authority()
	logger := logging.FromContext(ctx).With(zap.Object("tx", tx))
	digest := tx.ContentDigest()
	if c.confirmed.Contains(digest) {
		logger.Debug("transaction already confirmed")
		return nil
	}

	started := time.Now()
	err := c.submit(ctx, tx)
	latencyMetric.Observe(time.Since(started).Seconds())
	switch {
	case err == nil:
		c.confirmed.Add(digest, struct{}{})
		submissionsMetric.WithLabelValues(tx.Kind.String(), "confirmed").Inc()
		logger.Debug("transaction confirmed")
	case errors.Is(err, ErrPermanent):
		submissionsMetric.WithLabelValues(tx.Kind.String(), "permanent").Inc()
	default:
		submissionsMetric.WithLabelValues(tx.Kind.String(), "transient").Inc()
	}
	return err
}

func (c *Client) submit(ctx context.Context, tx *Transaction) error {
	logger := logging.FromContext(ctx)
	var (
		attempts uint
		// set once an attempt may have applied tx without us observing it
		ambiguous bool
	)
	op := func() error {
		attempts++
		attemptsMetric.WithLabelValues(tx.Kind.String()).Inc()

		if ambiguous && tx.Kind == KindAttribute {
			applied, err := c.applied(ctx, tx)
			if err != nil {
				return err
			}
			if applied {
				logger.Info("transaction applied by an earlier attempt", zap.Uint("attempts", attempts))
				return nil
			}
		}

		err := c.attempt(ctx, tx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrNonceMismatch) && tx.Kind == KindAttribute:
			applied, rerr := c.applied(ctx, tx)
			switch {
			case rerr != nil:
				ambiguous = true
				return rerr
			case applied:
				return nil
			default:
				return backoff.Permanent(err)
			}
		case IsPermanent(err):
			return backoff.Permanent(err)
		}
		if isAmbiguous(err) {
			ambiguous = true
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		logger.Warn("transaction attempt failed, retrying",
			zap.Uint("attempt", attempts),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(op, c.backoff(ctx), notify)
	switch {
	case err == nil:
		return nil
	case IsPermanent(err):
		return Classify(err)
	default:
		return fmt.Errorf("%w: gave up after %d attempts: %w", ErrTransient, attempts, err)
	}
}

func (c *Client) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1)), ctx)
}

// attempt stamps, signs, sends and awaits tx under the attempt timeout.
func (c *Client) attempt(ctx context.Context, tx *Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	reference, err := c.backend.LatestReference(ctx)
	if err != nil {
		return fmt.Errorf("fetching reference: %w", err)
	}
	tx.Reference = reference
	signed, err := signing.Sign(*tx, c.authority)
	if err != nil {
		return fmt.Errorf("%w: signing: %w", ErrPermanent, err)
	}
	id, err := c.backend.Send(ctx, &SignedTransaction{
		Transaction: *signed.Data(),
		Signature:   signed.Signature(),
	})
	if err != nil {
		return fmt.Errorf("sending: %w", err)
	}
	if err := c.backend.Confirm(ctx, id); err != nil {
		return fmt.Errorf("confirming %s: %w", id, err)
	}
	return nil
}

// applied reports whether the ledger has applied tx. The pool nonce moves
// past tx.Nonce only by applying the one transaction the authority signed
// with that nonce.
func (c *Client) applied(ctx context.Context, tx *Transaction) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()
	pool, err := c.backend.Pool(ctx, tx.Pool)
	if err != nil {
		return false, fmt.Errorf("reading pool account: %w", err)
	}
	if pool.Nonce > tx.Nonce {
		return true, nil
	}
	return false, nil
}
