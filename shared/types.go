package shared

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mr-tron/base58"
	"go.uber.org/zap/zapcore"
	"golang.org/x/exp/maps"
)

// PublicKeySize is the length of an identity on the ledger.
const PublicKeySize = 32

var ErrInvalidPublicKey = errors.New("invalid public key")

// PublicKey identifies a pool member, the pool authority or a boost.
type PublicKey [PublicKeySize]byte

// ParsePublicKey decodes a base58 encoded public key.
func ParsePublicKey(s string) (PublicKey, error) {
	var key PublicKey
	b, err := base58.Decode(s)
	if err != nil {
		return key, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(b) != PublicKeySize {
		return key, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(b))
	}
	copy(key[:], b)
	return key, nil
}

func (k PublicKey) String() string {
	return base58.Encode(k[:])
}

func (k PublicKey) Bytes() []byte {
	return k[:]
}

func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// UnmarshalFlag implements flags.Unmarshaler.
func (k *PublicKey) UnmarshalFlag(value string) error {
	key, err := ParsePublicKey(value)
	if err != nil {
		return err
	}
	*k = key
	return nil
}

func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PublicKey) UnmarshalText(text []byte) error {
	return k.UnmarshalFlag(string(text))
}

// Contribution is a validated unit of work submitted by a pool member.
// Score is derived from the proof difficulty upstream.
type Contribution struct {
	Member    PublicKey
	Score     uint64
	Timestamp time.Time
	// Epoch the contributor believed it was submitting to.
	// The aggregator assigns contributions to its live epoch regardless.
	Epoch uint64
}

// Snapshot is an immutable capture of one epoch's aggregated scores.
type Snapshot struct {
	Epoch      uint64
	Scores     map[PublicKey]uint64
	TotalScore uint64
	// Reservoir is the reward budget available when the snapshot was settled.
	Reservoir uint64
	TakenAt   time.Time
}

// Members returns member identities in canonical order.
func (s *Snapshot) Members() []PublicKey {
	keys := maps.Keys(s.Scores)
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	return keys
}

func (s *Snapshot) Score(member PublicKey) uint64 {
	return s.Scores[member]
}

func (s *Snapshot) IsEmpty() bool {
	return s.TotalScore == 0
}

// implement zap.ObjectMarshaler interface.
func (s *Snapshot) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("epoch", s.Epoch)
	enc.AddInt("members", len(s.Scores))
	enc.AddUint64("total_score", s.TotalScore)
	enc.AddUint64("reservoir", s.Reservoir)
	return nil
}

// Attribution is the reward owed to a member for one epoch.
type Attribution struct {
	Member PublicKey
	Amount uint64
}

type Attributions []Attribution

func (a Attributions) Total() (total uint64) {
	for _, attr := range a {
		total += attr.Amount
	}
	return total
}
