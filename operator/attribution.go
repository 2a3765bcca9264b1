package operator

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/orepool/operator/ledger"
	"github.com/orepool/operator/shared"
)

// ComputeAttribution splits the snapshot reservoir among members pro rata
// to their score: reward(m) = floor(reservoir * score(m) / total).
// The rounding remainder is not distributed. Members whose reward rounds
// down to zero are omitted. Attributions are in canonical member order.
func ComputeAttribution(snapshot *shared.Snapshot) shared.Attributions {
	if snapshot.TotalScore == 0 || snapshot.Reservoir == 0 {
		return nil
	}
	reservoir := new(big.Int).SetUint64(snapshot.Reservoir)
	total := new(big.Int).SetUint64(snapshot.TotalScore)

	var (
		attributions shared.Attributions
		sum          uint64
		reward       big.Int
	)
	for _, member := range snapshot.Members() {
		reward.SetUint64(snapshot.Scores[member])
		reward.Mul(&reward, reservoir)
		reward.Quo(&reward, total)
		if !reward.IsUint64() {
			panic(fmt.Sprintf("reward of %s overflows: %s", member, reward.String()))
		}
		amount := reward.Uint64()
		if amount == 0 {
			continue
		}
		sum += amount
		attributions = append(attributions, shared.Attribution{Member: member, Amount: amount})
	}
	if sum > snapshot.Reservoir {
		panic(fmt.Sprintf("attribution of epoch %d distributes %d out of %d", snapshot.Epoch, sum, snapshot.Reservoir))
	}
	return attributions
}

// Settlement is the set of transactions crediting one epoch's attribution.
// It is persisted before submission and retained until every transaction is
// confirmed or one of them fails permanently.
type Settlement struct {
	ID         string
	Epoch      uint64
	Reservoir  uint64
	TotalScore uint64
	// unix nanoseconds
	TakenAt int64
	// Merkle root of the attribution
	Root         []byte
	Transactions []ledger.Transaction
	// Transactions[:Confirmed] are confirmed.
	Confirmed uint64
	// Number of ticks the settlement was retried.
	Retries uint64
	// The permanent failure of a failed settlement.
	Failure string
}

// Remaining returns the transactions not confirmed yet.
func (s *Settlement) Remaining() []ledger.Transaction {
	return s.Transactions[s.Confirmed:]
}

// Total is the sum credited by the settlement.
func (s *Settlement) Total() uint64 {
	var total uint64
	for _, tx := range s.Transactions {
		total += tx.Debit
	}
	return total
}

// BuildSettlement chunks attributions into transactions of at most
// maxCredits credits each. Transaction i is guarded by nonce+i.
func BuildSettlement(
	snapshot *shared.Snapshot,
	attributions shared.Attributions,
	pool shared.PublicKey,
	nonce uint64,
	maxCredits int,
) (*Settlement, error) {
	if maxCredits <= 0 {
		return nil, fmt.Errorf("invalid max credits per transaction: %d", maxCredits)
	}
	root, err := attributions.Root()
	if err != nil {
		return nil, fmt.Errorf("computing attribution root: %w", err)
	}
	s := &Settlement{
		ID:         uuid.NewString(),
		Epoch:      snapshot.Epoch,
		Reservoir:  snapshot.Reservoir,
		TotalScore: snapshot.TotalScore,
		TakenAt:    snapshot.TakenAt.UnixNano(),
		Root:       root,
	}
	for start := 0; start < len(attributions); start += maxCredits {
		end := start + maxCredits
		if end > len(attributions) {
			end = len(attributions)
		}
		credits := make([]ledger.Credit, 0, end-start)
		for _, a := range attributions[start:end] {
			credits = append(credits, ledger.Credit{Member: a.Member, Amount: a.Amount})
		}
		tx := ledger.NewAttribution(pool, nonce+uint64(len(s.Transactions)), snapshot.Epoch, credits)
		s.Transactions = append(s.Transactions, *tx)
	}
	return s, nil
}
