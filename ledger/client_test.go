package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/orepool/operator/ledger"
	"github.com/orepool/operator/ledger/mocks"
	"github.com/orepool/operator/logging"
	"github.com/orepool/operator/shared"
	"github.com/orepool/operator/signing"
)

func testConfig() ledger.Config {
	return ledger.Config{
		AttemptTimeout: time.Second,
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func key(b byte) shared.PublicKey {
	return shared.PublicKey{b, 0xaa, b}
}

type fixture struct {
	ledger    *ledger.InMemory
	client    *ledger.Client
	keypair   *signing.Keypair
	authority shared.PublicKey
}

func newFixture(t *testing.T, reservoir uint64, members ...shared.PublicKey) *fixture {
	t.Helper()
	keypair, err := signing.GenerateKeypair(nil)
	require.NoError(t, err)
	l := ledger.NewInMemory()
	require.NoError(t, l.CreatePool(keypair.PublicKey(), reservoir))
	for _, m := range members {
		require.NoError(t, l.OpenMember(keypair.PublicKey(), m))
	}
	client, err := ledger.NewClient(l, keypair, ledger.WithConfig(testConfig()))
	require.NoError(t, err)
	return &fixture{ledger: l, client: client, keypair: keypair, authority: keypair.PublicKey()}
}

func (f *fixture) balance(t *testing.T, member shared.PublicKey) uint64 {
	t.Helper()
	m, err := f.ledger.Member(context.Background(), member)
	require.NoError(t, err)
	return m.Balance
}

func (f *fixture) pool(t *testing.T) *ledger.PoolAccount {
	t.Helper()
	p, err := f.ledger.Pool(context.Background(), f.authority)
	require.NoError(t, err)
	return p
}

func testContext(t *testing.T) context.Context {
	return logging.NewContext(context.Background(), zaptest.NewLogger(t))
}

func TestClientSubmitAttribution(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 120, key(1), key(2), key(3))

	tx := ledger.NewAttribution(f.authority, 0, 7, []ledger.Credit{
		{Member: key(1), Amount: 20},
		{Member: key(2), Amount: 40},
		{Member: key(3), Amount: 60},
	})
	require.NoError(t, f.client.Submit(testContext(t), tx))

	require.Equal(t, uint64(20), f.balance(t, key(1)))
	require.Equal(t, uint64(40), f.balance(t, key(2)))
	require.Equal(t, uint64(60), f.balance(t, key(3)))
	pool := f.pool(t)
	require.Zero(t, pool.Reservoir)
	require.Equal(t, uint64(1), pool.Nonce)
	require.Equal(t, uint64(7), pool.LastEpoch)
	require.Equal(t, uint64(3), pool.TotalMembers)
}

func TestClientRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		inject func(l *ledger.InMemory)
	}{
		{
			name: "lost before applied",
			inject: func(l *ledger.InMemory) {
				l.FailNext(ledger.ErrUnavailable)
				l.FailNext(context.DeadlineExceeded)
			},
		},
		{
			name: "applied but outcome lost",
			inject: func(l *ledger.InMemory) {
				l.FailNext(ledger.ErrUnavailable)
				l.FailNextApplied(context.DeadlineExceeded)
			},
		},
		{
			name: "stale reference",
			inject: func(l *ledger.InMemory) {
				l.FailNext(ledger.ErrStaleReference)
				l.FailNext(ledger.ErrStaleReference)
			},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, 100, key(1), key(2))
			tc.inject(f.ledger)

			tx := ledger.NewAttribution(f.authority, 0, 1, []ledger.Credit{
				{Member: key(1), Amount: 30},
				{Member: key(2), Amount: 45},
			})
			require.NoError(t, f.client.Submit(testContext(t), tx))

			require.Equal(t, uint64(30), f.balance(t, key(1)))
			require.Equal(t, uint64(45), f.balance(t, key(2)))
			pool := f.pool(t)
			require.Equal(t, uint64(25), pool.Reservoir)
			require.Equal(t, uint64(1), pool.Nonce)
		})
	}
}

func TestClientPermanentFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10, key(1))

	t.Run("reservoir insufficient", func(t *testing.T) {
		tx := ledger.NewAttribution(f.authority, 0, 1, []ledger.Credit{{Member: key(1), Amount: 11}})
		err := f.client.Submit(testContext(t), tx)
		require.ErrorIs(t, err, ledger.ErrPermanent)
		require.ErrorIs(t, err, ledger.ErrReservoirInsufficient)
	})
	t.Run("unknown member", func(t *testing.T) {
		tx := ledger.NewAttribution(f.authority, 0, 1, []ledger.Credit{{Member: key(9), Amount: 1}})
		err := f.client.Submit(testContext(t), tx)
		require.ErrorIs(t, err, ledger.ErrPermanent)
		require.ErrorIs(t, err, ledger.ErrInvalidAccount)
	})
	t.Run("nonce ahead of pool", func(t *testing.T) {
		tx := ledger.NewAttribution(f.authority, 3, 1, []ledger.Credit{{Member: key(1), Amount: 1}})
		err := f.client.Submit(testContext(t), tx)
		require.ErrorIs(t, err, ledger.ErrPermanent)
		require.ErrorIs(t, err, ledger.ErrNonceMismatch)
	})

	require.Zero(t, f.balance(t, key(1)))
	require.Equal(t, uint64(10), f.pool(t).Reservoir)
}

func TestClientTransientExhaustionThenResubmit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 50, key(1))
	for i := 0; i < int(testConfig().MaxAttempts); i++ {
		f.ledger.FailNext(ledger.ErrUnavailable)
	}

	tx := ledger.NewAttribution(f.authority, 0, 1, []ledger.Credit{{Member: key(1), Amount: 50}})
	err := f.client.Submit(testContext(t), tx)
	require.ErrorIs(t, err, ledger.ErrTransient)
	require.NotErrorIs(t, err, ledger.ErrPermanent)
	require.Zero(t, f.balance(t, key(1)))

	require.NoError(t, f.client.Submit(testContext(t), tx))
	require.Equal(t, uint64(50), f.balance(t, key(1)))
}

// A transaction applied by a previous process run is recognized by its nonce.
func TestClientAlreadyAppliedNonce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 50, key(1))
	tx := ledger.NewAttribution(f.authority, 0, 1, []ledger.Credit{{Member: key(1), Amount: 20}})
	require.NoError(t, f.client.Submit(testContext(t), tx))

	// same transaction, fresh reference, fresh client state
	f.ledger.ExpireReferences()
	restarted := newClientFor(t, f)
	require.NoError(t, restarted.Submit(testContext(t), tx))
	require.Equal(t, uint64(20), f.balance(t, key(1)))
	require.Equal(t, uint64(1), f.pool(t).Nonce)
}

func newClientFor(t *testing.T, f *fixture) *ledger.Client {
	t.Helper()
	c, err := ledger.NewClient(f.ledger, f.keypair, ledger.WithConfig(testConfig()))
	require.NoError(t, err)
	return c
}

func TestClientCommitStakeIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	boost := key(42)
	require.NoError(t, f.ledger.CreateBoost(boost))
	require.NoError(t, f.ledger.AddPendingStake(f.authority, 100))

	// applied, the client retries blindly
	f.ledger.FailNextApplied(context.DeadlineExceeded)
	require.NoError(t, f.client.Submit(testContext(t), ledger.NewCommitStake(f.authority, boost, 1)))

	acc, err := f.ledger.Boost(context.Background(), boost)
	require.NoError(t, err)
	require.Equal(t, uint64(100), acc.Staked)
	require.Equal(t, uint64(2), acc.Commits)
	require.Zero(t, f.pool(t).PendingStake)

	// the next tick commits again
	require.NoError(t, f.ledger.AddPendingStake(f.authority, 50))
	require.NoError(t, f.client.Submit(testContext(t), ledger.NewCommitStake(f.authority, boost, 2)))
	acc, err = f.ledger.Boost(context.Background(), boost)
	require.NoError(t, err)
	require.Equal(t, uint64(150), acc.Staked)
}

func TestClientUnknownBoost(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	err := f.client.Submit(testContext(t), ledger.NewCommitStake(f.authority, key(42), 1))
	require.ErrorIs(t, err, ledger.ErrPermanent)
	require.ErrorIs(t, err, ledger.ErrInvalidAccount)
}

func TestClientAttemptsAreBounded(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	keypair, err := signing.GenerateKeypair(nil)
	require.NoError(t, err)
	cfg := testConfig()
	cfg.MaxAttempts = 3
	client, err := ledger.NewClient(backend, keypair, ledger.WithConfig(cfg))
	require.NoError(t, err)

	backend.EXPECT().LatestReference(gomock.Any()).Return(ledger.Reference{1}, nil).Times(3)
	backend.EXPECT().Send(gomock.Any(), gomock.Any()).Return(ledger.TxID(""), ledger.ErrUnavailable).Times(3)
	// an unavailable ledger may have applied the transaction
	backend.EXPECT().Pool(gomock.Any(), keypair.PublicKey()).Return(&ledger.PoolAccount{Nonce: 4}, nil).Times(2)

	tx := ledger.NewAttribution(keypair.PublicKey(), 4, 1, []ledger.Credit{{Member: key(1), Amount: 1}})
	err = client.Submit(testContext(t), tx)
	require.ErrorIs(t, err, ledger.ErrTransient)
	require.ErrorIs(t, err, ledger.ErrUnavailable)
}

func TestClientConfirmedTransactionIsNotResent(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)
	keypair, err := signing.GenerateKeypair(nil)
	require.NoError(t, err)
	client, err := ledger.NewClient(backend, keypair, ledger.WithConfig(testConfig()))
	require.NoError(t, err)

	backend.EXPECT().LatestReference(gomock.Any()).Return(ledger.Reference{1}, nil)
	backend.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, tx *ledger.SignedTransaction) (ledger.TxID, error) {
			_, err := signing.Verify(tx.Transaction, tx.Signature, keypair.PublicKey())
			require.NoError(t, err)
			return tx.ID(), nil
		})
	backend.EXPECT().Confirm(gomock.Any(), gomock.Any()).Return(nil)

	tx := ledger.NewAttribution(keypair.PublicKey(), 0, 1, []ledger.Credit{{Member: key(1), Amount: 1}})
	require.NoError(t, client.Submit(testContext(t), tx))
	require.NoError(t, client.Submit(testContext(t), tx))
}

func TestClientCancelled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10, key(1))
	ctx, cancel := context.WithCancel(testContext(t))
	cancel()

	tx := ledger.NewAttribution(f.authority, 0, 1, []ledger.Credit{{Member: key(1), Amount: 1}})
	err := f.client.Submit(ctx, tx)
	require.ErrorIs(t, err, ledger.ErrTransient)
	require.Zero(t, f.balance(t, key(1)))
}

func TestClassify(t *testing.T) {
	t.Parallel()
	require.Nil(t, ledger.Classify(nil))
	require.ErrorIs(t, ledger.Classify(ledger.ErrStaleReference), ledger.ErrTransient)
	require.ErrorIs(t, ledger.Classify(context.DeadlineExceeded), ledger.ErrTransient)
	require.ErrorIs(t, ledger.Classify(ledger.ErrMalformed), ledger.ErrPermanent)
	require.ErrorIs(t, ledger.Classify(ledger.ErrUnauthorized), ledger.ErrPermanent)

	wrapped := ledger.Classify(ledger.ErrReservoirInsufficient)
	require.Equal(t, wrapped, ledger.Classify(wrapped))
	require.ErrorIs(t, wrapped, ledger.ErrReservoirInsufficient)
}
