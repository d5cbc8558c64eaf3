// Package mps implements the matrix product state representation of a
// many-body quantum state, together with the algorithms that keep it in a
// numerically stable, memory-bounded canonical form.
//
// References:
//   - The density-matrix renormalization group in the age of matrix product states, Ulrich Schollwock
package mps

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/zqguo/mps/tensor"
)

const (
	// L is the axis of the left virtual bond of a chain tensor.
	L = 0
	// S is the axis of the physical site leg.
	S = 1
	// R is the axis of the right virtual bond.
	R = 2

	// tmpID names the new bond of an in-flight decomposition.
	tmpID = "__svd__"
)

// Mode selects whether the legs of a chain carry quantum number structure.
type Mode uint8

const (
	// NB is the mode without good quantum numbers.
	NB Mode = iota
	// QN is the mode with good quantum numbers.
	QN
)

func (m Mode) String() string {
	if m == QN {
		return "QN"
	}
	return "NB"
}

// Trunc bounds the rank kept by a truncated decomposition.
// The zero value keeps the full rank.
type Trunc struct {
	// NMax is the maximum number of singular values kept. Zero keeps all.
	NMax int
	// Tol discards singular values below it. Zero discards none.
	Tol float64
}

// MPS is a matrix product state: an ordered chain of 3-leg tensors
// (left bond, physical site, right bond), together with the singular value
// diagonal Lambda on the bond at the orthogonality center, the cut.
// Tensors at positions before the cut are left-orthonormal, tensors at and
// after the cut are right-orthonormal.
//
// An MPS is not safe for concurrent use; Copy is the isolation mechanism.
type MPS struct {
	mode   Mode
	ms     []*tensor.Dense
	lambda *tensor.Diag
	cut    int
}

// New creates a chain from a list of 3-leg tensors, taking ownership of them.
// lambda and cut come together: pass nil and -1 for a chain without a center.
func New(mode Mode, ms []*tensor.Dense, lambda *tensor.Diag, cut int) (*MPS, error) {
	if (lambda == nil) != (cut < 0) {
		return nil, errors.Errorf("lambda %v cut %d", lambda != nil, cut)
	}
	if cut > len(ms) {
		return nil, errors.Errorf("cut %d out of range [0,%d]", cut, len(ms))
	}
	m := &MPS{mode: mode, ms: append([]*tensor.Dense(nil), ms...), lambda: lambda, cut: cut}
	if m.cut < 0 {
		m.cut = -1
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MPS) validate() error {
	for i, t := range m.ms {
		if t.NDim() != 3 {
			return errors.Errorf("tensor %d has %d legs", i, t.NDim())
		}
		for _, l := range t.Labels() {
			if (m.mode == QN) != l.Graded() {
				return errors.Errorf("tensor %d leg %s grading does not match mode %v", i, l.ID, m.mode)
			}
		}
		if m.mode == QN {
			if t.Label(L).Flow != tensor.In || t.Label(S).Flow != tensor.In || t.Label(R).Flow != tensor.Out {
				return errors.Errorf("tensor %d flows %#v", i, t.Labels())
			}
		}
		if i > 0 {
			prev := m.ms[i-1].Label(R)
			cur := t.Label(L)
			if prev.ID != cur.ID || prev.Dim != cur.Dim {
				return errors.Errorf("bond %d: %#v %#v", i, prev, cur)
			}
		}
	}
	if m.lambda != nil && !m.lambda.IsScalar() {
		want := m.bondLabel(m.cut)
		got := m.lambda.Label()
		if got.ID != want.ID || got.Dim != want.Dim {
			return errors.Errorf("lambda %#v bond %#v", got, want)
		}
	}
	return nil
}

// bondLabel returns the label of the i-th virtual bond, 0 <= i <= Len().
func (m *MPS) bondLabel(i int) tensor.Label {
	if i == len(m.ms) {
		return m.ms[len(m.ms)-1].Label(R)
	}
	return m.ms[i].Label(L)
}

// Mode returns the quantum number mode of the chain.
func (m *MPS) Mode() Mode { return m.mode }

// Len returns the number of physical sites.
func (m *MPS) Len() int { return len(m.ms) }

// Tensor returns the chain tensor at position i. Callers must not modify it.
func (m *MPS) Tensor(i int) *tensor.Dense { return m.ms[i] }

// Cut returns the position of the orthogonality center, or -1 if the chain
// has no distinguished center.
func (m *MPS) Cut() int { return m.cut }

// Lambda returns the singular value diagonal at the cut, or nil.
// Callers must not modify it.
func (m *MPS) Lambda() *tensor.Diag { return m.lambda }

// Sites returns the physical site labels, with flows cleared.
func (m *MPS) Sites() []tensor.Label {
	sites := make([]tensor.Label, 0, len(m.ms))
	for _, t := range m.ms {
		sites = append(sites, t.Label(S).WithFlow(tensor.None))
	}
	return sites
}

// Bonds returns the Len()+1 virtual bond labels, with flows cleared.
func (m *MPS) Bonds() []tensor.Label {
	bonds := make([]tensor.Label, 0, len(m.ms)+1)
	for i, t := range m.ms {
		if i == 0 {
			bonds = append(bonds, t.Label(L).WithFlow(tensor.None))
		}
		bonds = append(bonds, t.Label(R).WithFlow(tensor.None))
	}
	return bonds
}

// NMax returns the maximum bond dimension of the chain.
func (m *MPS) NMax() int {
	nmax := 0
	for _, b := range m.Bonds() {
		nmax = max(nmax, b.Dim)
	}
	return nmax
}

// Table maps each site identifier to its position in the chain.
func (m *MPS) Table() map[string]int {
	t := make(map[string]int, len(m.ms))
	for i, mi := range m.ms {
		t[mi.Label(S).ID] = i
	}
	return t
}

// Copy returns a deep copy of the chain.
func (m *MPS) Copy() *MPS {
	c := &MPS{mode: m.mode, ms: make([]*tensor.Dense, 0, len(m.ms)), cut: m.cut}
	for _, t := range m.ms {
		c.ms = append(c.ms, t.Clone())
	}
	if m.lambda != nil {
		c.lambda = m.lambda.Clone()
	}
	return c
}

// Dagger returns the conjugate transpose of the chain.
func (m *MPS) Dagger() *MPS {
	c := m.Copy()
	for i, t := range c.ms {
		c.ms[i] = t.Dagger()
	}
	return c
}

// Relabel replaces the site and bond labels of the chain.
func (m *MPS) Relabel(sites, bonds []tensor.Label) error {
	if len(sites) != len(m.ms) || len(bonds) != len(m.ms)+1 {
		return errors.Errorf("%d sites %d bonds for %d tensors", len(sites), len(bonds), len(m.ms))
	}
	for i, t := range m.ms {
		sh := t.Shape()
		if bonds[i].Dim != sh[L] || sites[i].Dim != sh[S] || bonds[i+1].Dim != sh[R] {
			return errors.Errorf("tensor %d shape %#v labels %#v %#v %#v", i, sh, bonds[i], sites[i], bonds[i+1])
		}
	}
	in, out := flows(m.mode)
	for i, t := range m.ms {
		t.ReplaceLabel(L, bonds[i].WithFlow(in))
		t.ReplaceLabel(S, sites[i].WithFlow(in))
		t.ReplaceLabel(R, bonds[i+1].WithFlow(out))
	}
	if m.lambda != nil && !m.lambda.IsScalar() {
		m.lambda.Relabel(bonds[m.cut].WithFlow(tensor.None))
	}
	return nil
}

// State contracts the whole chain back into a flat state vector.
// At least one of the two boundary bonds must have dimension 1.
func (m *MPS) State() ([]float64, error) {
	if len(m.ms) == 0 {
		return nil, errors.Errorf("empty chain")
	}
	b0, bn := m.bondLabel(0).Dim, m.bondLabel(len(m.ms)).Dim
	if b0 != 1 && bn != 1 {
		return nil, errors.Errorf("boundary bond dimensions %d %d", b0, bn)
	}
	c := m.Copy()
	c.mergeCenter()
	p := c.ms[0]
	for _, t := range c.ms[1:] {
		p = must(tensor.Contract(p, t))
	}
	return p.Data(), nil
}

// Norm returns the euclidean norm of the state, computed by a full
// rightward sweep without truncation.
func (m *MPS) Norm() (float64, error) {
	if len(m.ms) == 0 {
		return 0, errors.Errorf("empty chain")
	}
	c := m.Copy()
	if err := c.Reset(0); err != nil {
		return 0, errors.Wrap(err, "")
	}
	if _, err := c.ShiftRight(len(c.ms), Trunc{}); err != nil {
		return 0, errors.Wrap(err, "")
	}
	return c.lambda.Norm(), nil
}

func (m *MPS) String() string {
	ss := make([]string, 0, len(m.ms)+1)
	for i, t := range m.ms {
		if m.cut == i {
			ss = append(ss, fmt.Sprintf("Lambda: %s(%d)", m.lambda.Label().ID, m.lambda.Dim()))
		}
		ss = append(ss, t.String())
	}
	if m.cut == len(m.ms) && m.cut >= 0 {
		ss = append(ss, fmt.Sprintf("Lambda: %s(%d)", m.lambda.Label().ID, m.lambda.Dim()))
	}
	return strings.Join(ss, "\n")
}

// FromState converts the flat state vector into a mixed-canonical chain with
// the orthogonality center at cut. The boundary bond at the cut side of an
// edge cut must have dimension 1.
func FromState(state []float64, sites, bonds []tensor.Label, cut int, tr Trunc) (*MPS, error) {
	n := len(sites)
	if n == 0 || len(bonds) != n+1 {
		return nil, errors.Errorf("%d sites %d bonds", n, len(bonds))
	}
	if cut < 0 || cut > n {
		return nil, errors.Errorf("cut %d out of range [0,%d]", cut, n)
	}
	mode, err := modeOf(sites, bonds)
	if err != nil {
		return nil, err
	}
	if cut == 0 && bonds[0].Dim != 1 {
		return nil, errors.Errorf("left boundary bond dimension %d", bonds[0].Dim)
	}
	if cut == n && bonds[n].Dim != 1 {
		return nil, errors.Errorf("right boundary bond dimension %d", bonds[n].Dim)
	}

	in, out := flows(mode)
	legs := make([]tensor.Label, 0, n+2)
	legs = append(legs, bonds[0].WithFlow(in))
	for _, s := range sites {
		legs = append(legs, s.WithFlow(in))
	}
	legs = append(legs, bonds[n].WithFlow(out))
	t, err := tensor.New(state, legs)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	bids := make([]string, 0, n+1)
	for _, b := range bonds {
		bids = append(bids, b.ID)
	}
	ms, s, rest, _, err := splitSites(t, bids, cut, tr)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	lambda := s
	if cut == 0 || cut == n {
		if lambda, err = boundaryDiag(rest, s, bids[cut]); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	return New(mode, ms, lambda, cut)
}

// ProductState builds a bond-dimension-1 chain from one vector per site.
// In QN mode every vector must be supported on a single charge sector.
func ProductState(vectors [][]float64, sites, bonds []tensor.Label) (*MPS, error) {
	n := len(vectors)
	if n == 0 || len(sites) != n || len(bonds) != n+1 {
		return nil, errors.Errorf("%d vectors %d sites %d bonds", n, len(sites), len(bonds))
	}
	mode, err := modeOf(sites, bonds)
	if err != nil {
		return nil, err
	}
	in, out := flows(mode)

	leftQ := 0
	if mode == QN {
		if bonds[0].Dim != 1 {
			return nil, errors.Errorf("left boundary bond dimension %d", bonds[0].Dim)
		}
		leftQ = bonds[0].QNs.ChargeAt(0)
	}
	ms := make([]*tensor.Dense, 0, n)
	for i, v := range vectors {
		if len(v) != sites[i].Dim {
			return nil, errors.Errorf("vector %d length %d site dim %d", i, len(v), sites[i].Dim)
		}
		var left, right tensor.Label
		switch mode {
		case QN:
			q, err := supportCharge(v, sites[i].QNs)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("vector %d", i))
			}
			left = bonds[i].WithQNs(tensor.Mono(leftQ, 1)).WithFlow(in)
			leftQ += q
			right = bonds[i+1].WithQNs(tensor.Mono(leftQ, 1)).WithFlow(out)
		default:
			left, right = bonds[i].WithFlow(in), bonds[i+1].WithFlow(out)
			if i > 0 {
				left = left.WithDim(1)
			}
			right = right.WithDim(1)
		}
		t, err := tensor.New(v, []tensor.Label{left, sites[i].WithFlow(in), right})
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		ms = append(ms, t)
	}
	return New(mode, ms, nil, -1)
}

// supportCharge returns the charge of the single sector the vector lives in.
func supportCharge(v []float64, qns tensor.QNs) (int, error) {
	q, found := 0, false
	for i, x := range v {
		if x == 0 {
			continue
		}
		c := qns.ChargeAt(i)
		switch {
		case !found:
			q, found = c, true
		case c != q:
			return 0, errors.Errorf("support spans charges %d and %d", q, c)
		}
	}
	if !found {
		return 0, errors.Errorf("zero vector")
	}
	return q, nil
}

// Concatenate joins independently built chains into one. The right bond of
// each chain must carry the same identifier and dimension as the left bond of
// the next. mode is only consulted when chains is empty. A non-negative cut
// canonicalizes the result there.
func Concatenate(chains []*MPS, mode Mode, cut int) (*MPS, error) {
	if len(chains) == 0 {
		return &MPS{mode: mode, cut: -1}, nil
	}
	r := chains[0].Copy()
	if err := r.Reset(-1); err != nil {
		return nil, errors.Wrap(err, "")
	}
	for i, c := range chains[1:] {
		if c.Mode() != r.mode {
			return nil, errors.Errorf("chain %d mode %v", i+1, c.Mode())
		}
		prev := r.ms[len(r.ms)-1].Label(R)
		next := c.ms[0].Label(L)
		if prev.ID != next.ID || prev.Dim != next.Dim {
			return nil, errors.Errorf("chain %d joint: %#v %#v", i+1, prev, next)
		}
		c = c.Copy()
		if err := c.Reset(-1); err != nil {
			return nil, errors.Wrap(err, "")
		}
		r.ms = append(r.ms, c.ms...)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	if cut >= 0 {
		if _, err := r.Canonicalize(cut, Trunc{}); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	return r, nil
}

// Overlap returns the inner product <b|a> of two chains over the same sites.
func Overlap(a, b *MPS) (float64, error) {
	if a.Len() == 0 || a.Len() != b.Len() {
		return 0, errors.Errorf("%d %d sites", a.Len(), b.Len())
	}
	for i := range a.ms {
		sa, sb := a.ms[i].Label(S), b.ms[i].Label(S)
		if sa.ID != sb.ID || sa.Dim != sb.Dim {
			return 0, errors.Errorf("site %d: %#v %#v", i, sa, sb)
		}
	}
	x := a.Copy()
	x.mergeCenter()
	y := b.Copy()
	y.mergeCenter()

	var r *tensor.Dense
	for i := range x.ms {
		yi := y.ms[i].Dagger()
		yi.RelabelID(yi.Label(L).ID, yi.Label(L).ID+"'")
		yi.RelabelID(yi.Label(R).ID, yi.Label(R).ID+"'")
		if i == 0 {
			r = must(tensor.Contract(x.ms[i], yi))
			continue
		}
		r = must(tensor.Contract(r, x.ms[i]))
		r = must(tensor.Contract(r, yi))
	}
	if r.Size() != 1 {
		return 0, errors.Errorf("boundary bond dimensions %#v", r.Shape())
	}
	return r.Data()[0], nil
}

// modeOf derives the quantum number mode from the labels, which must be
// either all graded or all ungraded.
func modeOf(sites, bonds []tensor.Label) (Mode, error) {
	graded := sites[0].Graded()
	for _, l := range append(append([]tensor.Label(nil), sites...), bonds...) {
		if l.Graded() != graded {
			return NB, errors.Errorf("leg %s grading is mixed", l.ID)
		}
	}
	if graded {
		return QN, nil
	}
	return NB, nil
}

func flows(mode Mode) (in, out tensor.Flow) {
	if mode == QN {
		return tensor.In, tensor.Out
	}
	return tensor.None, tensor.None
}

func must(t *tensor.Dense, err error) *tensor.Dense {
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return t
}

// boundaryDiag folds the leftover boundary factor into the singular values,
// yielding the diagonal that lives on a dimension-1 boundary bond named id.
// rest and s must still carry the decomposition's temporary bond label.
func boundaryDiag(rest *tensor.Dense, s *tensor.Diag, id string) (*tensor.Diag, error) {
	w := tensor.MulDiag(rest, s)
	return tensor.NewDiag(s.Label().WithID(id).WithFlow(tensor.None), w.Data())
}
