package operator

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orepool/operator/shared"
)

func member(b byte) shared.PublicKey {
	return shared.PublicKey{b, 0x17, b}
}

func snapshotOf(reservoir uint64, scores ...uint64) *shared.Snapshot {
	s := &shared.Snapshot{
		Epoch:     1,
		Scores:    make(map[shared.PublicKey]uint64),
		Reservoir: reservoir,
		TakenAt:   time.Unix(1700000000, 0),
	}
	for i, score := range scores {
		s.Scores[member(byte(i+1))] = score
		s.TotalScore += score
	}
	return s
}

func TestComputeAttribution(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		reservoir uint64
		scores    []uint64
		expected  shared.Attributions
	}{
		{
			name:      "exact split",
			reservoir: 120,
			scores:    []uint64{10, 20, 30},
			expected: shared.Attributions{
				{Member: member(1), Amount: 20},
				{Member: member(2), Amount: 40},
				{Member: member(3), Amount: 60},
			},
		},
		{
			name:      "remainder retained",
			reservoir: 10,
			scores:    []uint64{1, 1, 1},
			expected: shared.Attributions{
				{Member: member(1), Amount: 3},
				{Member: member(2), Amount: 3},
				{Member: member(3), Amount: 3},
			},
		},
		{
			name:      "zero rewards omitted",
			reservoir: 10,
			scores:    []uint64{1, 1000},
			expected: shared.Attributions{
				{Member: member(2), Amount: 9},
			},
		},
		{
			name:      "empty reservoir",
			reservoir: 0,
			scores:    []uint64{5, 5},
		},
		{
			name:      "no contributions",
			reservoir: 100,
		},
		{
			name:      "no 64-bit overflow",
			reservoir: math.MaxUint64,
			scores:    []uint64{math.MaxUint64 / 2, math.MaxUint64 / 2},
			expected: shared.Attributions{
				{Member: member(1), Amount: math.MaxUint64 / 2},
				{Member: member(2), Amount: math.MaxUint64 / 2},
			},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, ComputeAttribution(snapshotOf(tc.reservoir, tc.scores...)))
		})
	}
}

func TestComputeAttributionNeverExceedsReservoir(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		members := 1 + rng.Intn(100)
		scores := make([]uint64, members)
		for j := range scores {
			scores[j] = uint64(rng.Int63n(1 << 40))
		}
		reservoir := rng.Uint64()
		snapshot := snapshotOf(reservoir, scores...)

		attributions := ComputeAttribution(snapshot)
		total := attributions.Total()
		require.LessOrEqual(t, total, reservoir)
		if snapshot.TotalScore > 0 {
			// each member loses less than one unit to rounding
			require.Greater(t, total+uint64(members), reservoir)
		}
		for _, a := range attributions {
			require.NotZero(t, a.Amount)
		}
	}
}

func TestBuildSettlement(t *testing.T) {
	t.Parallel()
	scores := make([]uint64, 45)
	for i := range scores {
		scores[i] = uint64(i + 1)
	}
	snapshot := snapshotOf(1_000_000, scores...)
	attributions := ComputeAttribution(snapshot)
	require.Len(t, attributions, 45)
	authority := member(200)

	settlement, err := BuildSettlement(snapshot, attributions, authority, 7, 20)
	require.NoError(t, err)
	require.NotEmpty(t, settlement.ID)
	require.Equal(t, snapshot.Epoch, settlement.Epoch)
	require.Equal(t, snapshot.TakenAt.UnixNano(), settlement.TakenAt)
	require.Len(t, settlement.Transactions, 3)
	require.Equal(t, attributions.Total(), settlement.Total())

	var credits int
	for i, tx := range settlement.Transactions {
		require.Equal(t, uint64(7+i), tx.Nonce)
		require.Equal(t, authority, tx.Pool)
		require.Equal(t, snapshot.Epoch, tx.Epoch)
		require.LessOrEqual(t, len(tx.Credits), 20)
		credits += len(tx.Credits)
	}
	require.Equal(t, 45, credits)
	require.Len(t, settlement.Transactions[2].Credits, 5)

	root, err := attributions.Root()
	require.NoError(t, err)
	require.Equal(t, root, settlement.Root)
	require.Len(t, settlement.Remaining(), 3)
	settlement.Confirmed = 2
	require.Len(t, settlement.Remaining(), 1)

	_, err = BuildSettlement(snapshot, attributions, authority, 0, 0)
	require.Error(t, err)
}
