package mps

import (
	"fmt"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/zqguo/mps/tensor"
)

// Random builds a random chain over the given sites with bond dimensions
// capped at nmax. Without quantum numbers the tensor entries are drawn
// uniformly from [-1, 1); with quantum numbers the state is a random
// superposition of up to nmax charge-conserving product basis states, where
// the total charge is fixed by the two boundary bonds. A non-negative cut
// canonicalizes the result there; a negative cut leaves no center.
func Random(rng *rand.Rand, sites, bonds []tensor.Label, cut, nmax int) (*MPS, error) {
	n := len(sites)
	if n == 0 || len(bonds) != n+1 {
		return nil, errors.Errorf("%d sites %d bonds", n, len(bonds))
	}
	if nmax < 1 {
		return nil, errors.Errorf("nmax %d", nmax)
	}
	if cut > n {
		return nil, errors.Errorf("cut %d out of range [0,%d]", cut, n)
	}
	mode, err := modeOf(sites, bonds)
	if err != nil {
		return nil, err
	}

	var m *MPS
	switch mode {
	case QN:
		m, err = randomQN(rng, sites, bonds, nmax)
	default:
		m, err = randomNB(rng, sites, bonds, nmax)
	}
	if err != nil {
		return nil, err
	}

	at := cut
	if at < 0 {
		at = n / 2
	}
	if _, err := m.Canonicalize(at, Trunc{NMax: nmax}); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if cut < 0 {
		if err := m.Reset(-1); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	return m, nil
}

func randomNB(rng *rand.Rand, sites, bonds []tensor.Label, nmax int) (*MPS, error) {
	n := len(sites)
	// Bond dimensions grow from both edges and saturate at nmax.
	dims := make([]int, n+1)
	dims[0], dims[n] = bonds[0].Dim, bonds[n].Dim
	fwd := dims[0]
	for i := 0; i < n; i++ {
		fwd = min(fwd*sites[i].Dim, nmax)
		dims[i+1] = fwd
	}
	bwd := bonds[n].Dim
	for i := n - 1; i >= 0; i-- {
		bwd = min(bwd*sites[i].Dim, nmax)
		dims[i] = min(dims[i], bwd)
	}
	dims[0], dims[n] = bonds[0].Dim, bonds[n].Dim

	ms := make([]*tensor.Dense, 0, n)
	for i := 0; i < n; i++ {
		legs := []tensor.Label{
			bonds[i].WithDim(dims[i]),
			sites[i],
			bonds[i+1].WithDim(dims[i+1]),
		}
		data := make([]float64, dims[i]*sites[i].Dim*dims[i+1])
		for j := range data {
			data[j] = rng.Float64()*2 - 1
		}
		t, err := tensor.New(data, legs)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		ms = append(ms, t)
	}
	return New(NB, ms, nil, -1)
}

func randomQN(rng *rand.Rand, sites, bonds []tensor.Label, nmax int) (*MPS, error) {
	n := len(sites)
	if bonds[0].Dim != 1 || bonds[n].Dim != 1 {
		return nil, errors.Errorf("boundary bond dimensions %d %d", bonds[0].Dim, bonds[n].Dim)
	}
	target := bonds[n].QNs.ChargeAt(0) - bonds[0].QNs.ChargeAt(0)

	var m *MPS
	seen := make(map[string]bool)
	for try := 0; try < 200*nmax && len(seen) < nmax; try++ {
		idx := make([]int, n)
		q := 0
		for i, s := range sites {
			idx[i] = rng.IntN(s.Dim)
			q += s.QNs.ChargeAt(idx[i])
		}
		if q != target || seen[fmt.Sprint(idx)] {
			continue
		}
		seen[fmt.Sprint(idx)] = true

		vectors := make([][]float64, n)
		for i, s := range sites {
			vectors[i] = make([]float64, s.Dim)
			vectors[i][idx[i]] = 1
		}
		p, err := ProductState(vectors, sites, bonds)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		p.Scale(rng.Float64()*2 - 1)
		if m == nil {
			m = p
			continue
		}
		if m, err = Add(m, p); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	if m == nil {
		return nil, errors.Errorf("no product basis state with total charge %d", target)
	}
	return m, nil
}
