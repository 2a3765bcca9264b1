package ledger

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/sha256-simd"
	"github.com/mr-tron/base58"
	"github.com/spacemeshos/go-scale"
	"go.uber.org/zap/zapcore"

	"github.com/orepool/operator/shared"
)

//go:generate mockgen -package mocks -destination mocks/backend.go . Backend

// Backend is the I/O boundary to the ledger. It carries no business logic.
type Backend interface {
	// LatestReference returns a recent reference point transactions must be built against.
	LatestReference(ctx context.Context) (Reference, error)
	// Send submits a signed transaction and returns its id.
	// Business rule violations detected before inclusion are returned as errors.
	Send(ctx context.Context, tx *SignedTransaction) (TxID, error)
	// Confirm blocks until the transaction is confirmed, failed or the context is done.
	Confirm(ctx context.Context, id TxID) error

	Pool(ctx context.Context, authority shared.PublicKey) (*PoolAccount, error)
	Member(ctx context.Context, member shared.PublicKey) (*MemberAccount, error)
	Boost(ctx context.Context, boost shared.PublicKey) (*BoostAccount, error)
}

type Kind uint8

const (
	KindAttribute Kind = iota + 1
	KindCommitStake
)

func (k Kind) String() string {
	switch k {
	case KindAttribute:
		return "attribute"
	case KindCommitStake:
		return "commit_stake"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Reference is a recent ledger reference point (a blockhash).
// Transactions built against an expired reference are rejected.
type Reference [32]byte

func (r Reference) String() string {
	return base58.Encode(r[:])
}

func (r Reference) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Reference) UnmarshalText(text []byte) error {
	b, err := base58.Decode(string(text))
	if err != nil {
		return fmt.Errorf("decoding reference: %w", err)
	}
	if len(b) != len(r) {
		return fmt.Errorf("invalid reference length %d", len(b))
	}
	copy(r[:], b)
	return nil
}

// TxID identifies a submitted transaction.
type TxID string

type Credit struct {
	Member shared.PublicKey `json:"member"`
	Amount uint64           `json:"amount"`
}

// Transaction mutates ledger accounts on behalf of the pool authority.
//
// Attribution transactions are version guarded: the ledger applies one only
// if Nonce equals the pool nonce, and increments the nonce when it does.
// Re-submitting an applied attribution transaction can therefore never
// credit members twice.
type Transaction struct {
	Kind      Kind             `json:"kind"`
	Pool      shared.PublicKey `json:"pool"`
	Nonce     uint64           `json:"nonce"`
	Epoch     uint64           `json:"epoch"`
	Credits   []Credit         `json:"credits,omitempty"`
	Debit     uint64           `json:"debit"`
	Boost     shared.PublicKey `json:"boost"`
	Reference Reference        `json:"reference"`
}

// NewAttribution builds a transaction crediting members and debiting the
// pool reservoir by the credited sum.
func NewAttribution(pool shared.PublicKey, nonce, epoch uint64, credits []Credit) *Transaction {
	var debit uint64
	for _, c := range credits {
		debit += c.Amount
	}
	return &Transaction{
		Kind:    KindAttribute,
		Pool:    pool,
		Nonce:   nonce,
		Epoch:   epoch,
		Credits: credits,
		Debit:   debit,
	}
}

// NewCommitStake builds a transaction committing the pool's pending stake to a boost.
// Epoch numbers the stake tick so that commits of different ticks are distinct.
func NewCommitStake(pool, boost shared.PublicKey, epoch uint64) *Transaction {
	return &Transaction{
		Kind:  KindCommitStake,
		Pool:  pool,
		Epoch: epoch,
		Boost: boost,
	}
}

func (t *Transaction) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := t.encodeContent(enc)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, t.Reference[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// encodeContent encodes everything but the reference.
func (t *Transaction) encodeContent(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeCompact8(enc, uint8(t.Kind))
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, t.Pool[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	for _, v := range []uint64{t.Nonce, t.Epoch, t.Debit} {
		n, err := scale.EncodeCompact64(enc, v)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact32(enc, uint32(len(t.Credits)))
		if err != nil {
			return total, fmt.Errorf("encoding credits length: %w", err)
		}
		total += n
		for _, c := range t.Credits {
			n, err := scale.EncodeByteArray(enc, c.Member[:])
			if err != nil {
				return total, err
			}
			total += n
			n, err = scale.EncodeCompact64(enc, c.Amount)
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	{
		n, err := scale.EncodeByteArray(enc, t.Boost[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// ContentDigest identifies the mutation independently of the reference
// it was stamped with.
func (t *Transaction) ContentDigest() [32]byte {
	var buf bytes.Buffer
	if _, err := t.encodeContent(scale.NewEncoder(&buf)); err != nil {
		// encoding into a bytes.Buffer cannot fail
		panic(err)
	}
	return sha256.Sum256(buf.Bytes())
}

func (t *Transaction) clone() *Transaction {
	c := *t
	c.Credits = append([]Credit(nil), t.Credits...)
	return &c
}

// implement zap.ObjectMarshaler interface.
func (t *Transaction) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("kind", t.Kind.String())
	switch t.Kind {
	case KindAttribute:
		enc.AddUint64("nonce", t.Nonce)
		enc.AddUint64("epoch", t.Epoch)
		enc.AddInt("credits", len(t.Credits))
		enc.AddUint64("debit", t.Debit)
	case KindCommitStake:
		enc.AddUint64("epoch", t.Epoch)
		enc.AddString("boost", t.Boost.String())
	}
	return nil
}

// SignedTransaction is a transaction signed by the pool authority.
type SignedTransaction struct {
	Transaction Transaction `json:"transaction"`
	Signature   []byte      `json:"signature"`
}

// ID is the transaction id: its signature in base58, as on the ledger.
func (s *SignedTransaction) ID() TxID {
	return TxID(base58.Encode(s.Signature))
}

type PoolAccount struct {
	Authority    shared.PublicKey `json:"authority"`
	TotalMembers uint64           `json:"total_members"`
	// Reservoir is the reward budget available for attribution (the bus).
	Reservoir    uint64 `json:"reservoir"`
	Nonce        uint64 `json:"nonce"`
	LastEpoch    uint64 `json:"last_epoch"`
	PendingStake uint64 `json:"pending_stake"`
}

type MemberAccount struct {
	Authority shared.PublicKey `json:"authority"`
	Pool      shared.PublicKey `json:"pool"`
	Balance   uint64           `json:"balance"`
}

type BoostAccount struct {
	Boost   shared.PublicKey `json:"boost"`
	Staked  uint64           `json:"staked"`
	Commits uint64           `json:"commits"`
}
