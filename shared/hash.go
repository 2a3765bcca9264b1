package shared

import (
	"bytes"
	"fmt"

	"github.com/minio/sha256-simd" // simd optimized sha256 computation
	"github.com/spacemeshos/go-scale"
	"github.com/spacemeshos/merkle-tree"
)

func (a *Attribution) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteArray(enc, a.Member[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, a.Amount)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// HashAttributionTreeNode hashes two children of the attribution tree.
// The 0x01 prefix separates inner nodes from leaves.
func HashAttributionTreeNode(buf, lChild, rChild []byte) []byte {
	hasher := sha256.New()
	_, _ = hasher.Write([]byte{0x01})
	_, _ = hasher.Write(lChild)
	_, _ = hasher.Write(rChild)
	return hasher.Sum(buf)
}

func hashAttributionLeaf(a *Attribution) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(0x00)
	if _, err := a.EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return nil, err
	}
	sum := sha256.Sum256(buf.Bytes())
	return sum[:], nil
}

// Root is a Merkle commitment to the attributions in their current order.
// It lets a member prove the reward it was settled against the published root.
func (a Attributions) Root() ([]byte, error) {
	tree, err := merkle.NewTreeBuilder().
		WithHashFunc(HashAttributionTreeNode).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize merkle tree: %w", err)
	}
	for i := range a {
		leaf, err := hashAttributionLeaf(&a[i])
		if err != nil {
			return nil, fmt.Errorf("encoding attribution of %s: %w", a[i].Member, err)
		}
		if err := tree.AddLeaf(leaf); err != nil {
			return nil, err
		}
	}
	return tree.Root(), nil
}
