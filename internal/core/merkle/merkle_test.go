package merkle

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"testing"

	"github.com/ghalamif/ColdAnchor/internal/core/hasher"
	"github.com/ghalamif/ColdAnchor/internal/domain"
)

func leaves(n int) []domain.Digest {
	out := make([]domain.Digest, n)
	for i := range out {
		out[i] = sha256.Sum256([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return out
}

func TestRootEmptyBatch(t *testing.T) {
	if _, err := Root(nil); !errors.Is(err, domain.ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestRootSingleLeafIsLeaf(t *testing.T) {
	l := leaves(1)
	root, err := Root(l)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if root != l[0] {
		t.Fatalf("single leaf root should equal the leaf")
	}
}

func TestRootFourLeaves(t *testing.T) {
	l := leaves(4)
	root, err := Root(l)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	want := hasher.Combine(hasher.Combine(l[0], l[1]), hasher.Combine(l[2], l[3]))
	if root != want {
		t.Fatalf("unexpected root %s, want %s", root, want)
	}
}

func TestRootOddLevelDuplicatesLast(t *testing.T) {
	l := leaves(3)
	root, err := Root(l)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	want := hasher.Combine(hasher.Combine(l[0], l[1]), hasher.Combine(l[2], l[2]))
	if root != want {
		t.Fatalf("unexpected root for 3 leaves")
	}

	l5 := leaves(5)
	root5, _ := Root(l5)
	left := hasher.Combine(hasher.Combine(l5[0], l5[1]), hasher.Combine(l5[2], l5[3]))
	e := hasher.Combine(l5[4], l5[4])
	right := hasher.Combine(e, e)
	if root5 != hasher.Combine(left, right) {
		t.Fatalf("unexpected root for 5 leaves")
	}
}

func TestRootDoesNotMutateInput(t *testing.T) {
	l := leaves(3)
	backing := make([]domain.Digest, 3, 8)
	copy(backing, l)
	if _, err := Root(backing); err != nil {
		t.Fatalf("root: %v", err)
	}
	if backing[:4][3] != (domain.Digest{}) {
		t.Fatalf("root wrote past the input length")
	}
}

func TestRootIsOrderSensitive(t *testing.T) {
	l := leaves(4)
	root, _ := Root(l)
	swapped := []domain.Digest{l[1], l[0], l[2], l[3]}
	other, _ := Root(swapped)
	if root == other {
		t.Fatalf("permuted input produced the same root")
	}

	same := []domain.Digest{l[0], l[0], l[0]}
	r1, _ := Root(same)
	r2, _ := Root([]domain.Digest{l[0], l[0], l[0]})
	if r1 != r2 {
		t.Fatalf("root must be deterministic")
	}
}

func TestProofRoundTrip(t *testing.T) {
	for n := 1; n <= 9; n++ {
		l := leaves(n)
		root, _ := Root(l)
		for i := range l {
			path, err := Proof(l, i)
			if err != nil {
				t.Fatalf("n=%d i=%d proof: %v", n, i, err)
			}
			if !VerifyProof(l[i], path, root) {
				t.Fatalf("n=%d i=%d proof did not verify", n, i)
			}
			if n > 1 && VerifyProof(l[(i+1)%n], path, root) && l[(i+1)%n] != l[i] {
				t.Fatalf("n=%d i=%d proof verified the wrong leaf", n, i)
			}
		}
	}
}

func TestProofOutOfRange(t *testing.T) {
	if _, err := Proof(leaves(2), 2); err == nil {
		t.Fatalf("expected out of range error")
	}
}
