package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/minio/sha256-simd"

	"github.com/orepool/operator/shared"
	"github.com/orepool/operator/signing"
)

// Number of most recent references transactions may be built against.
const referenceWindow = 32

type fault struct {
	err     error
	applied bool
}

// InMemory is an in-process ledger enforcing the pool program rules.
// It backs the development mode and tests.
type InMemory struct {
	mu      sync.Mutex
	pools   map[shared.PublicKey]*PoolAccount
	members map[shared.PublicKey]*MemberAccount
	boosts  map[shared.PublicKey]*BoostAccount

	references []Reference
	sequence   uint64
	// confirmed transactions
	txs map[TxID]struct{}

	faults []fault
}

var _ Backend = (*InMemory)(nil)

func NewInMemory() *InMemory {
	l := &InMemory{
		pools:   make(map[shared.PublicKey]*PoolAccount),
		members: make(map[shared.PublicKey]*MemberAccount),
		boosts:  make(map[shared.PublicKey]*BoostAccount),
		txs:     make(map[TxID]struct{}),
	}
	l.advance()
	return l
}

// FailNext makes the next Send fail with err without applying the transaction.
func (l *InMemory) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = append(l.faults, fault{err: err})
}

// FailNextApplied makes the next Send apply the transaction and then fail with err,
// as if the outcome was lost on its way back.
func (l *InMemory) FailNextApplied(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = append(l.faults, fault{err: err, applied: true})
}

// ExpireReferences invalidates all references handed out so far.
func (l *InMemory) ExpireReferences() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.references = nil
	l.advance()
}

func (l *InMemory) advance() {
	l.sequence++
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], l.sequence)
	l.references = append(l.references, Reference(sha256.Sum256(seq[:])))
	if len(l.references) > referenceWindow {
		l.references = l.references[len(l.references)-referenceWindow:]
	}
}

func (l *InMemory) validReference(r Reference) bool {
	for _, ref := range l.references {
		if ref == r {
			return true
		}
	}
	return false
}

// CreatePool opens a pool account controlled by authority.
func (l *InMemory) CreatePool(authority shared.PublicKey, reservoir uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pools[authority]; ok {
		return fmt.Errorf("%w: pool %s", ErrAccountExists, authority)
	}
	l.pools[authority] = &PoolAccount{Authority: authority, Reservoir: reservoir}
	return nil
}

// Fund adds amount to the pool reservoir.
func (l *InMemory) Fund(authority shared.PublicKey, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pool, ok := l.pools[authority]
	if !ok {
		return fmt.Errorf("%w: pool %s", ErrAccountNotFound, authority)
	}
	if pool.Reservoir > math.MaxUint64-amount {
		return fmt.Errorf("%w: reservoir overflow", ErrMalformed)
	}
	pool.Reservoir += amount
	return nil
}

// AddPendingStake adds stake waiting to be committed to boosts.
func (l *InMemory) AddPendingStake(authority shared.PublicKey, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pool, ok := l.pools[authority]
	if !ok {
		return fmt.Errorf("%w: pool %s", ErrAccountNotFound, authority)
	}
	if pool.PendingStake > math.MaxUint64-amount {
		return fmt.Errorf("%w: pending stake overflow", ErrMalformed)
	}
	pool.PendingStake += amount
	return nil
}

// OpenMember registers member in the pool.
func (l *InMemory) OpenMember(authority, member shared.PublicKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pool, ok := l.pools[authority]
	if !ok {
		return fmt.Errorf("%w: pool %s", ErrAccountNotFound, authority)
	}
	if _, ok := l.members[member]; ok {
		return fmt.Errorf("%w: member %s", ErrAccountExists, member)
	}
	l.members[member] = &MemberAccount{Authority: member, Pool: authority}
	pool.TotalMembers++
	return nil
}

func (l *InMemory) CreateBoost(boost shared.PublicKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.boosts[boost]; ok {
		return fmt.Errorf("%w: boost %s", ErrAccountExists, boost)
	}
	l.boosts[boost] = &BoostAccount{Boost: boost}
	return nil
}

func (l *InMemory) LatestReference(ctx context.Context) (Reference, error) {
	if err := ctx.Err(); err != nil {
		return Reference{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advance()
	return l.references[len(l.references)-1], nil
}

func (l *InMemory) Send(ctx context.Context, tx *SignedTransaction) (TxID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	id := tx.ID()
	if len(l.faults) > 0 {
		f := l.faults[0]
		l.faults = l.faults[1:]
		if f.applied {
			if err := l.apply(tx); err == nil {
				l.txs[id] = struct{}{}
			}
		}
		return "", f.err
	}
	if _, ok := l.txs[id]; ok {
		return id, nil
	}
	if err := l.apply(tx); err != nil {
		return "", err
	}
	l.txs[id] = struct{}{}
	return id, nil
}

func (l *InMemory) Confirm(ctx context.Context, id TxID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.txs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrTxNotFound, id)
	}
	return nil
}

func (l *InMemory) Pool(ctx context.Context, authority shared.PublicKey) (*PoolAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pool, ok := l.pools[authority]
	if !ok {
		return nil, fmt.Errorf("%w: pool %s", ErrAccountNotFound, authority)
	}
	p := *pool
	return &p, nil
}

func (l *InMemory) Member(ctx context.Context, member shared.PublicKey) (*MemberAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.members[member]
	if !ok {
		return nil, fmt.Errorf("%w: member %s", ErrAccountNotFound, member)
	}
	c := *m
	return &c, nil
}

func (l *InMemory) Boost(ctx context.Context, boost shared.PublicKey) (*BoostAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.boosts[boost]
	if !ok {
		return nil, fmt.Errorf("%w: boost %s", ErrAccountNotFound, boost)
	}
	c := *b
	return &c, nil
}

// apply validates tx against the rules and applies it atomically.
func (l *InMemory) apply(stx *SignedTransaction) error {
	tx := &stx.Transaction
	if !l.validReference(tx.Reference) {
		return fmt.Errorf("%w: %s", ErrStaleReference, tx.Reference)
	}
	if _, err := signing.Verify(*tx, stx.Signature, tx.Pool); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	pool, ok := l.pools[tx.Pool]
	if !ok {
		return fmt.Errorf("%w: pool %s", ErrInvalidAccount, tx.Pool)
	}
	switch tx.Kind {
	case KindAttribute:
		return l.applyAttribution(pool, tx)
	case KindCommitStake:
		return l.applyCommitStake(pool, tx)
	default:
		return fmt.Errorf("%w: unknown kind %v", ErrMalformed, tx.Kind)
	}
}

func (l *InMemory) applyAttribution(pool *PoolAccount, tx *Transaction) error {
	if tx.Nonce != pool.Nonce {
		return fmt.Errorf("%w: pool at %d, transaction at %d", ErrNonceMismatch, pool.Nonce, tx.Nonce)
	}
	if len(tx.Credits) == 0 {
		return fmt.Errorf("%w: no credits", ErrMalformed)
	}
	var sum uint64
	for _, c := range tx.Credits {
		if sum > math.MaxUint64-c.Amount {
			return fmt.Errorf("%w: credits overflow", ErrMalformed)
		}
		sum += c.Amount
		member, ok := l.members[c.Member]
		if !ok || member.Pool != pool.Authority {
			return fmt.Errorf("%w: member %s", ErrInvalidAccount, c.Member)
		}
		if member.Balance > math.MaxUint64-c.Amount {
			return fmt.Errorf("%w: member %s balance overflow", ErrMalformed, c.Member)
		}
	}
	if sum != tx.Debit {
		return fmt.Errorf("%w: debit %d does not match credits %d", ErrMalformed, tx.Debit, sum)
	}
	if tx.Debit > pool.Reservoir {
		return fmt.Errorf("%w: debit %d, reservoir %d", ErrReservoirInsufficient, tx.Debit, pool.Reservoir)
	}

	for _, c := range tx.Credits {
		l.members[c.Member].Balance += c.Amount
	}
	pool.Reservoir -= tx.Debit
	pool.Nonce++
	if tx.Epoch > pool.LastEpoch {
		pool.LastEpoch = tx.Epoch
	}
	return nil
}

func (l *InMemory) applyCommitStake(pool *PoolAccount, tx *Transaction) error {
	boost, ok := l.boosts[tx.Boost]
	if !ok {
		return fmt.Errorf("%w: boost %s", ErrInvalidAccount, tx.Boost)
	}
	if boost.Staked > math.MaxUint64-pool.PendingStake {
		return fmt.Errorf("%w: stake overflow", ErrMalformed)
	}
	boost.Staked += pool.PendingStake
	boost.Commits++
	pool.PendingStake = 0
	return nil
}
