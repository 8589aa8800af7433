// Package merkle aggregates ordered record fingerprints into a single root.
//
// Levels are built by hashing adjacent pairs; an odd level duplicates its last
// element first. A single leaf is its own root.
package merkle

import (
	"fmt"

	"github.com/ghalamif/ColdAnchor/internal/core/hasher"
	"github.com/ghalamif/ColdAnchor/internal/domain"
)

func Root(leaves []domain.Digest) (domain.Digest, error) {
	if len(leaves) == 0 {
		return domain.Digest{}, domain.ErrEmptyBatch
	}
	level := make([]domain.Digest, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0], nil
}

func nextLevel(level []domain.Digest) []domain.Digest {
	if len(level)%2 == 1 {
		level = append(level, level[len(level)-1])
	}
	parent := make([]domain.Digest, 0, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		parent = append(parent, hasher.Combine(level[i], level[i+1]))
	}
	return parent
}

// Step is one sibling on the path from a leaf to the root.
type Step struct {
	Sibling domain.Digest `json:"sibling"`
	// Left is true when the sibling sits to the left of the running hash.
	Left bool `json:"left"`
}

// Proof returns the inclusion path for leaves[index].
func Proof(leaves []domain.Digest, index int) ([]Step, error) {
	if len(leaves) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("leaf index %d out of range [0,%d)", index, len(leaves))
	}
	level := make([]domain.Digest, len(leaves))
	copy(level, leaves)

	var path []Step
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		if index%2 == 0 {
			path = append(path, Step{Sibling: level[index+1]})
		} else {
			path = append(path, Step{Sibling: level[index-1], Left: true})
		}
		level = nextLevel(level)
		index /= 2
	}
	return path, nil
}

// VerifyProof folds leaf along path and compares the result with root.
func VerifyProof(leaf domain.Digest, path []Step, root domain.Digest) bool {
	acc := leaf
	for _, s := range path {
		if s.Left {
			acc = hasher.Combine(s.Sibling, acc)
		} else {
			acc = hasher.Combine(acc, s.Sibling)
		}
	}
	return acc == root
}
