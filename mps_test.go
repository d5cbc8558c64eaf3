package mps

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/zqguo/mps/tensor"
)

const testTol = 1e-9

// qubitLabels builds n ungraded qubit sites with dimension-1 boundary bonds.
func qubitLabels(n int) ([]tensor.Label, []tensor.Label) {
	sites := make([]tensor.Label, 0, n)
	bonds := make([]tensor.Label, 0, n+1)
	for i := 0; i < n; i++ {
		sites = append(sites, tensor.NewLabel(fmt.Sprintf("s%d", i), 2, tensor.None))
		bonds = append(bonds, tensor.NewLabel(fmt.Sprintf("v%d", i), 1, tensor.None))
	}
	bonds = append(bonds, tensor.NewLabel(fmt.Sprintf("v%d", n), 1, tensor.None))
	return sites, bonds
}

// gradedQubitLabels builds n charge-graded qubit sites, with boundary bonds
// pinning the total charge to q.
func gradedQubitLabels(n, q int) ([]tensor.Label, []tensor.Label) {
	qubit := tensor.QNs{{N: 0, Dim: 1}, {N: 1, Dim: 1}}
	sites := make([]tensor.Label, 0, n)
	bonds := make([]tensor.Label, 0, n+1)
	for i := 0; i < n; i++ {
		sites = append(sites, tensor.NewQNLabel(fmt.Sprintf("s%d", i), qubit, tensor.None))
		bonds = append(bonds, tensor.NewQNLabel(fmt.Sprintf("v%d", i), tensor.Mono(0, 1), tensor.None))
	}
	bonds = append(bonds, tensor.NewQNLabel(fmt.Sprintf("v%d", n), tensor.Mono(q, 1), tensor.None))
	return sites, bonds
}

func stateOf(t *testing.T, m *MPS) []float64 {
	t.Helper()
	v, err := m.State()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return v
}

func TestFromStateRoundTrip(t *testing.T) {
	t.Parallel()
	state := []float64{0.3, -1.2, 0.7, 0.1, 2.1, 0.4, -0.5, 0.9}
	sites, bonds := qubitLabels(3)
	for cut := 0; cut <= 3; cut++ {
		t.Run(fmt.Sprintf("%d", cut), func(t *testing.T) {
			t.Parallel()
			m, err := FromState(state, sites, bonds, cut, Trunc{})
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if m.Cut() != cut {
				t.Fatalf("%d, expected %d", m.Cut(), cut)
			}
			if !closeSlice(stateOf(t, m), state) {
				t.Fatalf("%#v", stateOf(t, m))
			}
			for i, ok := range m.IsCanonical() {
				if !ok {
					t.Fatalf("site %d not canonical", i)
				}
			}
		})
	}
}

func TestFromStateQN(t *testing.T) {
	t.Parallel()
	// Support on |01> and |10>, total charge 1.
	state := []float64{0, 0.6, 0.8, 0}
	sites, bonds := gradedQubitLabels(2, 1)
	for cut := 0; cut <= 2; cut++ {
		t.Run(fmt.Sprintf("%d", cut), func(t *testing.T) {
			t.Parallel()
			m, err := FromState(state, sites, bonds, cut, Trunc{})
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if m.Mode() != QN {
				t.Fatalf("%v", m.Mode())
			}
			if !closeSlice(stateOf(t, m), state) {
				t.Fatalf("%#v", stateOf(t, m))
			}
		})
	}
}

func TestProductState(t *testing.T) {
	t.Parallel()
	sites, bonds := qubitLabels(3)
	m, err := ProductState([][]float64{{1, 0}, {0, 1}, {0.6, 0.8}}, sites, bonds)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	expected := make([]float64, 8)
	expected[2] = 0.6 // |010>
	expected[3] = 0.8 // |011>
	if !closeSlice(stateOf(t, m), expected) {
		t.Fatalf("%#v", stateOf(t, m))
	}
	if m.NMax() != 1 || m.Cut() != -1 {
		t.Fatalf("%d %d", m.NMax(), m.Cut())
	}
}

func TestProductStateQN(t *testing.T) {
	t.Parallel()
	sites, bonds := gradedQubitLabels(2, 1)
	m, err := ProductState([][]float64{{1, 0}, {0, 1}}, sites, bonds)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !closeSlice(stateOf(t, m), []float64{0, 1, 0, 0}) {
		t.Fatalf("%#v", stateOf(t, m))
	}
	// The right bond of each tensor carries the accumulated charge.
	if got := m.Tensor(0).Label(R).QNs.ChargeAt(0); got != 0 {
		t.Fatalf("%d", got)
	}
	if got := m.Tensor(1).Label(R).QNs.ChargeAt(0); got != 1 {
		t.Fatalf("%d", got)
	}

	// A vector spread over two charge sectors is rejected.
	if _, err := ProductState([][]float64{{1, 1}, {0, 1}}, sites, bonds); err == nil {
		t.Fatalf("expected charge sector error")
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(1, 2))
	sites, bonds := qubitLabels(5)
	m, err := Random(rng, sites, bonds, 2, 4)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	before := stateOf(t, m)
	for sweep := 0; sweep < 2; sweep++ {
		if _, err := m.Canonicalize(3, Trunc{}); err != nil {
			t.Fatalf("%+v", err)
		}
		if !closeSlice(stateOf(t, m), before) {
			t.Fatalf("sweep %d changed the state", sweep)
		}
		for i, ok := range m.IsCanonical() {
			if !ok {
				t.Fatalf("sweep %d site %d not canonical", sweep, i)
			}
		}
	}
}

func TestNorm(t *testing.T) {
	t.Parallel()
	state := []float64{0.3, -1.2, 0.7, 0.1, 2.1, 0.4, -0.5, 0.9}
	var norm2 float64
	for _, v := range state {
		norm2 += v * v
	}
	sites, bonds := qubitLabels(3)
	m, err := FromState(state, sites, bonds, 1, Trunc{})
	if err != nil {
		t.Fatalf("%+v", err)
	}

	norm, err := m.Norm()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if math.Abs(norm-math.Sqrt(norm2)) > testTol {
		t.Fatalf("%f, expected %f", norm, math.Sqrt(norm2))
	}

	// Truncation never increases the norm.
	if _, err := m.Canonicalize(1, Trunc{NMax: 1}); err != nil {
		t.Fatalf("%+v", err)
	}
	truncated, err := m.Norm()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if truncated > norm+testTol {
		t.Fatalf("%f > %f", truncated, norm)
	}
}

func TestShiftLocality(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(3, 4))
	sites, bonds := qubitLabels(6)
	m, err := Random(rng, sites, bonds, 3, 4)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	before := stateOf(t, m)
	ptrs := make([]*tensor.Dense, m.Len())
	for i := range ptrs {
		ptrs[i] = m.ms[i]
	}

	if _, err := m.ShiftRight(1, Trunc{}); err != nil {
		t.Fatalf("%+v", err)
	}
	for i := range ptrs {
		touched := i == 3 || i == 4
		if (m.ms[i] != ptrs[i]) != touched {
			t.Fatalf("site %d", i)
		}
	}
	if m.Cut() != 4 {
		t.Fatalf("%d", m.Cut())
	}
	if !closeSlice(stateOf(t, m), before) {
		t.Fatalf("shift changed the state")
	}

	if _, err := m.ShiftLeft(4, Trunc{}); err != nil {
		t.Fatalf("%+v", err)
	}
	if m.Cut() != 0 {
		t.Fatalf("%d", m.Cut())
	}
	if !closeSlice(stateOf(t, m), before) {
		t.Fatalf("shift changed the state")
	}
}

func TestShiftErrors(t *testing.T) {
	t.Parallel()
	sites, bonds := qubitLabels(2)
	m, err := ProductState([][]float64{{1, 0}, {0, 1}}, sites, bonds)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := m.ShiftRight(1, Trunc{}); err == nil {
		t.Fatalf("expected error without a center")
	}
	if err := m.Reset(1); err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := m.ShiftRight(2, Trunc{}); err == nil {
		t.Fatalf("expected out of range error")
	}
	if _, err := m.ShiftLeft(2, Trunc{}); err == nil {
		t.Fatalf("expected out of range error")
	}
	// Failed shifts leave the chain untouched.
	if m.Cut() != 1 {
		t.Fatalf("%d", m.Cut())
	}
	if err := m.Reset(3); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestShifted(t *testing.T) {
	t.Parallel()
	state := []float64{0.3, -1.2, 0.7, 0.1, 2.1, 0.4, -0.5, 0.9}
	sites, bonds := qubitLabels(3)
	m, err := FromState(state, sites, bonds, 1, Trunc{})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	shifted, _, err := m.ShiftedRight(2, Trunc{})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if m.Cut() != 1 || shifted.Cut() != 3 {
		t.Fatalf("%d %d", m.Cut(), shifted.Cut())
	}
	if !closeSlice(stateOf(t, shifted), state) {
		t.Fatalf("%#v", stateOf(t, shifted))
	}

	shifted, _, err = m.ShiftedLeft(1, Trunc{})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if m.Cut() != 1 || shifted.Cut() != 0 {
		t.Fatalf("%d %d", m.Cut(), shifted.Cut())
	}
	if !closeSlice(stateOf(t, shifted), state) {
		t.Fatalf("%#v", stateOf(t, shifted))
	}
}

func TestTruncationWeight(t *testing.T) {
	t.Parallel()
	// Schmidt values 0.8 and 0.6 across the middle bond.
	state := []float64{0.8, 0, 0, 0.6}
	sites, bonds := qubitLabels(2)
	m, err := FromState(state, sites, bonds, 1, Trunc{})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !closeSlice(m.Lambda().Data(), []float64{0.8, 0.6}) {
		t.Fatalf("%#v", m.Lambda().Data())
	}

	w, err := m.Canonicalize(1, Trunc{NMax: 1})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if math.Abs(w-0.36) > testTol {
		t.Fatalf("%f, expected 0.36", w)
	}
	norm, err := m.Norm()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if math.Abs(norm-0.8) > testTol {
		t.Fatalf("%f", norm)
	}
}

func TestCompress(t *testing.T) {
	t.Parallel()
	state := []float64{0.8, 0, 0, 0.6}
	sites, bonds := qubitLabels(2)
	m, err := FromState(state, sites, bonds, 1, Trunc{})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	weights, err := m.Compress(2, 1, Trunc{NMax: 1})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(weights) != 2 {
		t.Fatalf("%#v", weights)
	}
	if math.Abs(weights[0]-0.36) > testTol {
		t.Fatalf("%#v", weights)
	}
	// The second sweep finds nothing left to discard.
	if weights[1] > testTol {
		t.Fatalf("%#v", weights)
	}
}

func TestOverlap(t *testing.T) {
	t.Parallel()
	state := []float64{0.3, -1.2, 0.7, 0.1, 2.1, 0.4, -0.5, 0.9}
	sites, bonds := qubitLabels(3)
	m, err := FromState(state, sites, bonds, 2, Trunc{})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	norm, err := m.Norm()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	ov, err := Overlap(m, m)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if math.Abs(ov-norm*norm) > testTol {
		t.Fatalf("%f, expected %f", ov, norm*norm)
	}

	// Orthogonal product states overlap to zero.
	a, err := ProductState([][]float64{{1, 0}, {1, 0}, {1, 0}}, sites, bonds)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	b, err := ProductState([][]float64{{1, 0}, {1, 0}, {0, 1}}, sites, bonds)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	ov, err = Overlap(a, b)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if math.Abs(ov) > testTol {
		t.Fatalf("%f", ov)
	}
}

func TestAddScale(t *testing.T) {
	t.Parallel()
	sites, bonds := qubitLabels(2)
	a, err := ProductState([][]float64{{1, 0}, {1, 0}}, sites, bonds)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	b, err := ProductState([][]float64{{0, 1}, {0, 1}}, sites, bonds)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	b.Scale(-2)

	sum, err := Add(a, b)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !closeSlice(stateOf(t, sum), []float64{1, 0, 0, -2}) {
		t.Fatalf("%#v", stateOf(t, sum))
	}
	if sum.NMax() != 2 {
		t.Fatalf("%d", sum.NMax())
	}

	sum.Scale(0.5)
	if !closeSlice(stateOf(t, sum), []float64{0.5, 0, 0, -1}) {
		t.Fatalf("%#v", stateOf(t, sum))
	}
}

func TestAddChargeMismatch(t *testing.T) {
	t.Parallel()
	// Same bond dimensions, different total charge on the kept right edge.
	sitesA, bondsA := gradedQubitLabels(2, 1)
	a, err := ProductState([][]float64{{1, 0}, {0, 1}}, sitesA, bondsA)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	sitesB, bondsB := gradedQubitLabels(2, 2)
	b, err := ProductState([][]float64{{0, 1}, {0, 1}}, sitesB, bondsB)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := Add(a, b); err == nil {
		t.Fatalf("expected charge block mismatch")
	}
}

func TestConcatenate(t *testing.T) {
	t.Parallel()
	sitesA := []tensor.Label{tensor.NewLabel("s0", 2, tensor.None)}
	bondsA := []tensor.Label{tensor.NewLabel("v0", 1, tensor.None), tensor.NewLabel("v1", 1, tensor.None)}
	a, err := ProductState([][]float64{{0.6, 0.8}}, sitesA, bondsA)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	sitesB := []tensor.Label{tensor.NewLabel("s1", 2, tensor.None)}
	bondsB := []tensor.Label{tensor.NewLabel("v1", 1, tensor.None), tensor.NewLabel("v2", 1, tensor.None)}
	b, err := ProductState([][]float64{{0, 1}}, sitesB, bondsB)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	m, err := Concatenate([]*MPS{a, b}, NB, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if m.Len() != 2 || m.Cut() != 1 {
		t.Fatalf("%d %d", m.Len(), m.Cut())
	}
	if !closeSlice(stateOf(t, m), []float64{0, 0.6, 0, 0.8}) {
		t.Fatalf("%#v", stateOf(t, m))
	}

	// Mismatching joints are rejected.
	if _, err := Concatenate([]*MPS{a, a.Copy()}, NB, -1); err == nil {
		t.Fatalf("expected joint error")
	}

	empty, err := Concatenate(nil, NB, -1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if empty.Len() != 0 {
		t.Fatalf("%d", empty.Len())
	}
}

func TestRandom(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(5, 6))
	sites, bonds := qubitLabels(5)
	m, err := Random(rng, sites, bonds, 2, 3)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if m.Cut() != 2 {
		t.Fatalf("%d", m.Cut())
	}
	if m.NMax() > 3 {
		t.Fatalf("%d", m.NMax())
	}
	for i, ok := range m.IsCanonical() {
		if !ok {
			t.Fatalf("site %d not canonical", i)
		}
	}
	norm, err := m.Norm()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if norm <= 0 {
		t.Fatalf("%f", norm)
	}

	// A negative cut leaves no center.
	m2, err := Random(rng, sites, bonds, -1, 3)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if m2.Cut() != -1 || m2.Lambda() != nil {
		t.Fatalf("%d", m2.Cut())
	}
}

func TestRandomQN(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(7, 8))
	sites, bonds := gradedQubitLabels(4, 2)
	m, err := Random(rng, sites, bonds, 2, 3)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// The state has support only on basis states of total charge 2.
	state := stateOf(t, m)
	var support float64
	for idx, v := range state {
		charge := 0
		for b := 0; b < 4; b++ {
			charge += (idx >> uint(3-b)) & 1
		}
		if charge != 2 && math.Abs(v) > testTol {
			t.Fatalf("index %d charge %d value %f", idx, charge, v)
		}
		support += v * v
	}
	if support <= 0 {
		t.Fatalf("zero state")
	}
}

func TestDaggerTable(t *testing.T) {
	t.Parallel()
	sites, bonds := gradedQubitLabels(2, 1)
	m, err := ProductState([][]float64{{1, 0}, {0, 1}}, sites, bonds)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	d := m.Dagger()
	if d.Tensor(0).Label(S).Flow != tensor.Out {
		t.Fatalf("%#v", d.Tensor(0).Labels())
	}
	// The original is untouched.
	if m.Tensor(0).Label(S).Flow != tensor.In {
		t.Fatalf("%#v", m.Tensor(0).Labels())
	}

	tbl := m.Table()
	if tbl["s0"] != 0 || tbl["s1"] != 1 {
		t.Fatalf("%#v", tbl)
	}
}

func TestRelabel(t *testing.T) {
	t.Parallel()
	sites, bonds := qubitLabels(2)
	m, err := ProductState([][]float64{{1, 0}, {0, 1}}, sites, bonds)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	sites2 := []tensor.Label{tensor.NewLabel("x0", 2, tensor.None), tensor.NewLabel("x1", 2, tensor.None)}
	bonds2 := []tensor.Label{
		tensor.NewLabel("w0", 1, tensor.None),
		tensor.NewLabel("w1", 1, tensor.None),
		tensor.NewLabel("w2", 1, tensor.None),
	}
	if err := m.Relabel(sites2, bonds2); err != nil {
		t.Fatalf("%+v", err)
	}
	if m.Tensor(0).Label(S).ID != "x0" || m.Tensor(1).Label(L).ID != "w1" {
		t.Fatalf("%#v", m.Tensor(0).Labels())
	}

	// Dimension mismatches are rejected.
	bad := []tensor.Label{tensor.NewLabel("x0", 3, tensor.None), tensor.NewLabel("x1", 2, tensor.None)}
	if err := m.Relabel(bad, bonds2); err == nil {
		t.Fatalf("expected dimension error")
	}
}

func closeSlice(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > testTol {
			return false
		}
	}
	return true
}
