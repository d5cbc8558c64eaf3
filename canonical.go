package mps

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// canonicalTol is the tolerance of the isometry checks in IsCanonical.
const canonicalTol = 1e-10

// Canonicalize brings the chain into mixed canonical form with the center at
// cut, sweeping through the nearer edge first so every tensor is re-derived
// from a truncated decomposition. It returns the total discarded weight.
func (m *MPS) Canonicalize(cut int, tr Trunc) (float64, error) {
	n := len(m.ms)
	if cut < 0 || cut > n {
		return 0, errors.Errorf("cut %d out of range [0,%d]", cut, n)
	}
	if n == 0 {
		return 0, errors.Errorf("empty chain")
	}
	var w1, w2 float64
	var err error
	if cut <= n/2 {
		if err = m.Reset(n); err != nil {
			return 0, errors.Wrap(err, "")
		}
		if w1, err = m.ShiftLeft(n, tr); err != nil {
			return w1, errors.Wrap(err, "")
		}
		w2, err = m.ShiftRight(cut, tr)
	} else {
		if err = m.Reset(0); err != nil {
			return 0, errors.Wrap(err, "")
		}
		if w1, err = m.ShiftRight(n, tr); err != nil {
			return w1, errors.Wrap(err, "")
		}
		w2, err = m.ShiftLeft(n-cut, tr)
	}
	if err != nil {
		return w1 + w2, errors.Wrap(err, "")
	}
	return w1 + w2, nil
}

// Compress runs nsweep full left-right canonicalization sweeps with the given
// truncation, returning the discarded weight of each sweep. The center ends
// at cut.
func (m *MPS) Compress(nsweep, cut int, tr Trunc) ([]float64, error) {
	if nsweep < 0 {
		return nil, errors.Errorf("nsweep %d", nsweep)
	}
	weights := make([]float64, 0, nsweep)
	for i := 0; i < nsweep; i++ {
		w, err := m.Canonicalize(cut, tr)
		if err != nil {
			return weights, errors.Wrap(err, "")
		}
		weights = append(weights, w)
	}
	return weights, nil
}

// IsCanonical reports, per site, whether the tensor satisfies the isometry
// condition its side of the cut requires: left-orthonormal before the cut,
// right-orthonormal at and after it. Without a center every tensor is held
// to the right-orthonormal condition.
func (m *MPS) IsCanonical() []bool {
	ok := make([]bool, len(m.ms))
	for i, t := range m.ms {
		if m.cut >= 0 && i < m.cut {
			ok[i] = isLeftIsometry(t.Data(), t.Shape())
		} else {
			ok[i] = isRightIsometry(t.Data(), t.Shape())
		}
	}
	return ok
}

// isLeftIsometry checks sum_{l,s} M[l,s,a] M[l,s,b] == delta(a,b).
func isLeftIsometry(data []float64, shape []int) bool {
	a := mat.NewDense(shape[0]*shape[1], shape[2], data)
	var g mat.Dense
	g.Mul(a.T(), a)
	return isIdentity(&g)
}

// isRightIsometry checks sum_{s,r} M[a,s,r] M[b,s,r] == delta(a,b).
func isRightIsometry(data []float64, shape []int) bool {
	a := mat.NewDense(shape[0], shape[1]*shape[2], data)
	var g mat.Dense
	g.Mul(a, a.T())
	return isIdentity(&g)
}

func isIdentity(g *mat.Dense) bool {
	n, _ := g.Dims()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(g.At(i, j)-want) > canonicalTol {
				return false
			}
		}
	}
	return true
}
