package mps

import (
	"math/rand/v2"
	"testing"

	"github.com/zqguo/mps/degfre"
	"github.com/zqguo/mps/tensor"
)

// leafTree builds a three layer tree over four leaves:
//
//	sys ─┬─ A ─┬─ a0
//	     │     └─ a1
//	     └─ B ─┬─ b0
//	           └─ b1
func leafTree(t *testing.T, qns tensor.QNs) *degfre.Tree {
	t.Helper()
	tr := degfre.New("system", "block", "site")
	steps := []struct{ parent, name string }{
		{"", "sys"}, {"sys", "A"}, {"sys", "B"},
	}
	for _, s := range steps {
		if err := tr.Add(s.parent, s.name); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	for _, s := range []struct{ parent, name string }{
		{"A", "a0"}, {"A", "a1"}, {"B", "b0"}, {"B", "b1"},
	} {
		var err error
		if qns != nil {
			err = tr.AddQN(s.parent, s.name, qns)
		} else {
			err = tr.AddDim(s.parent, s.name, 2)
		}
		if err != nil {
			t.Fatalf("%+v", err)
		}
	}
	if err := tr.Freeze(); err != nil {
		t.Fatalf("%+v", err)
	}
	return tr
}

// leafChain builds a random chain whose sites are the tree's finest layer.
func leafChain(t *testing.T, rng *rand.Rand, qns tensor.QNs) *MPS {
	t.Helper()
	names := []string{"a0", "a1", "b0", "b1"}
	sites := make([]tensor.Label, 0, len(names))
	bonds := make([]tensor.Label, 0, len(names)+1)
	for i, name := range names {
		if qns != nil {
			sites = append(sites, tensor.NewQNLabel(name, qns, tensor.None))
			bonds = append(bonds, tensor.NewQNLabel(bondName(i), tensor.Mono(0, 1), tensor.None))
		} else {
			sites = append(sites, tensor.NewLabel(name, 2, tensor.None))
			bonds = append(bonds, tensor.NewLabel(bondName(i), 1, tensor.None))
		}
	}
	if qns != nil {
		bonds = append(bonds, tensor.NewQNLabel(bondName(len(names)), tensor.Mono(2, 1), tensor.None))
	} else {
		bonds = append(bonds, tensor.NewLabel(bondName(len(names)), 1, tensor.None))
	}
	m, err := Random(rng, sites, bonds, 2, 4)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return m
}

func bondName(i int) string {
	return []string{"w0", "w1", "w2", "w3", "w4"}[i]
}

func TestRelayerRoundTrip(t *testing.T) {
	t.Parallel()
	tree := leafTree(t, nil)
	rng := rand.New(rand.NewPCG(11, 12))
	m := leafChain(t, rng, nil)
	original := stateOf(t, m)

	coarse, w, err := m.Relayer(tree, "block", Trunc{})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if w != 0 {
		t.Fatalf("%f", w)
	}
	if coarse.Len() != 2 {
		t.Fatalf("%d", coarse.Len())
	}
	if id := coarse.Tensor(0).Label(S).ID; id != "A" {
		t.Fatalf("%s", id)
	}
	if dim := coarse.Tensor(1).Label(S).Dim; dim != 4 {
		t.Fatalf("%d", dim)
	}
	if id := coarse.Tensor(0).Label(L).ID; id != "block:0" {
		t.Fatalf("%s", id)
	}
	if !closeSlice(stateOf(t, coarse), original) {
		t.Fatalf("%#v", stateOf(t, coarse))
	}
	// The receiver is untouched.
	if !closeSlice(stateOf(t, m), original) || m.Cut() != 2 {
		t.Fatalf("receiver changed")
	}

	fine, w, err := coarse.Relayer(tree, "site", Trunc{})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if w > testTol {
		t.Fatalf("%f", w)
	}
	if fine.Len() != 4 || fine.Cut() != 4 {
		t.Fatalf("%d %d", fine.Len(), fine.Cut())
	}
	if id := fine.Tensor(0).Label(S).ID; id != "a0" {
		t.Fatalf("%s", id)
	}
	if !closeSlice(stateOf(t, fine), original) {
		t.Fatalf("%#v", stateOf(t, fine))
	}
	for i, ok := range fine.IsCanonical() {
		if !ok {
			t.Fatalf("site %d not canonical", i)
		}
	}
}

func TestRelayerQN(t *testing.T) {
	t.Parallel()
	qubit := tensor.QNs{{N: 0, Dim: 1}, {N: 1, Dim: 1}}
	tree := leafTree(t, qubit)
	rng := rand.New(rand.NewPCG(13, 14))
	m := leafChain(t, rng, qubit)
	original := stateOf(t, m)

	coarse, _, err := m.Relayer(tree, "block", Trunc{})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if got := coarse.Tensor(0).Label(S).QNs.Dim(); got != 4 {
		t.Fatalf("%d", got)
	}
	if !closeSlice(stateOf(t, coarse), original) {
		t.Fatalf("%#v", stateOf(t, coarse))
	}

	fine, w, err := coarse.Relayer(tree, "site", Trunc{})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if w > testTol {
		t.Fatalf("%f", w)
	}
	if !closeSlice(stateOf(t, fine), original) {
		t.Fatalf("%#v", stateOf(t, fine))
	}
}

func TestRelayerSameLayer(t *testing.T) {
	t.Parallel()
	tree := leafTree(t, nil)
	rng := rand.New(rand.NewPCG(15, 16))
	m := leafChain(t, rng, nil)

	same, w, err := m.Relayer(tree, "site", Trunc{})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if w != 0 || same == m {
		t.Fatalf("expected an independent copy")
	}
	if !closeSlice(stateOf(t, same), stateOf(t, m)) {
		t.Fatalf("%#v", stateOf(t, same))
	}
}

func TestRelayerErrors(t *testing.T) {
	t.Parallel()
	tree := leafTree(t, nil)
	rng := rand.New(rand.NewPCG(17, 18))
	m := leafChain(t, rng, nil)

	if _, _, err := m.Relayer(tree, "atom", Trunc{}); err == nil {
		t.Fatalf("expected unknown layer error")
	}

	// Sites that are not tree labels are rejected.
	sites, bonds := qubitLabels(4)
	other, err := Random(rng, sites, bonds, 2, 4)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, _, err := other.Relayer(tree, "block", Trunc{}); err == nil {
		t.Fatalf("expected unknown site error")
	}

	// A partial chain does not cover the layer.
	names := []string{"a0", "a1"}
	psites := []tensor.Label{
		tensor.NewLabel(names[0], 2, tensor.None),
		tensor.NewLabel(names[1], 2, tensor.None),
	}
	pbonds := []tensor.Label{
		tensor.NewLabel("w0", 1, tensor.None),
		tensor.NewLabel("w1", 1, tensor.None),
		tensor.NewLabel("w2", 1, tensor.None),
	}
	partial, err := ProductState([][]float64{{1, 0}, {0, 1}}, psites, pbonds)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, _, err := partial.Relayer(tree, "block", Trunc{}); err == nil {
		t.Fatalf("expected coverage error")
	}
}
