package mps

import (
	"github.com/pkg/errors"

	"github.com/zqguo/mps/tensor"
)

// Reset merges the current Lambda into its neighbouring tensor and, for a
// non-negative cut, re-installs a unit scalar diagonal there. Reset(-1)
// leaves the chain without a center.
func (m *MPS) Reset(cut int) error {
	if cut > len(m.ms) {
		return errors.Errorf("cut %d out of range [0,%d]", cut, len(m.ms))
	}
	m.mergeCenter()
	if cut >= 0 {
		m.cut = cut
		m.lambda = tensor.Scalar(1)
	}
	return nil
}

// mergeCenter multiplies Lambda into the tensor right of the cut, or into
// the last tensor when the cut is at the right edge, and clears the center.
func (m *MPS) mergeCenter() {
	if m.cut < 0 {
		return
	}
	if m.cut == len(m.ms) {
		i := len(m.ms) - 1
		m.ms[i] = tensor.MulDiag(m.ms[i], m.lambda)
	} else {
		m.ms[m.cut] = tensor.MulDiag(m.ms[m.cut], m.lambda)
	}
	m.cut, m.lambda = -1, nil
}

// ShiftRight moves the orthogonality center k bonds to the right, one
// truncated decomposition per bond, and returns the total discarded weight.
// A negative k shifts left. The bounds are checked before any mutation.
func (m *MPS) ShiftRight(k int, tr Trunc) (float64, error) {
	if k < 0 {
		return m.ShiftLeft(-k, tr)
	}
	if m.cut < 0 {
		return 0, errors.Errorf("chain has no orthogonality center")
	}
	if m.cut+k > len(m.ms) {
		return 0, errors.Errorf("cut %d + %d out of range [0,%d]", m.cut, k, len(m.ms))
	}
	var discarded float64
	for i := 0; i < k; i++ {
		w, err := m.shiftRightOne(tr)
		if err != nil {
			return discarded, errors.Wrap(err, "")
		}
		discarded += w
	}
	return discarded, nil
}

// ShiftLeft moves the orthogonality center k bonds to the left.
// A negative k shifts right.
func (m *MPS) ShiftLeft(k int, tr Trunc) (float64, error) {
	if k < 0 {
		return m.ShiftRight(-k, tr)
	}
	if m.cut < 0 {
		return 0, errors.Errorf("chain has no orthogonality center")
	}
	if m.cut-k < 0 {
		return 0, errors.Errorf("cut %d - %d out of range [0,%d]", m.cut, k, len(m.ms))
	}
	var discarded float64
	for i := 0; i < k; i++ {
		w, err := m.shiftLeftOne(tr)
		if err != nil {
			return discarded, errors.Wrap(err, "")
		}
		discarded += w
	}
	return discarded, nil
}

// ShiftedRight is the non-mutating form of ShiftRight.
func (m *MPS) ShiftedRight(k int, tr Trunc) (*MPS, float64, error) {
	c := m.Copy()
	w, err := c.ShiftRight(k, tr)
	if err != nil {
		return nil, 0, err
	}
	return c, w, nil
}

// ShiftedLeft is the non-mutating form of ShiftLeft.
func (m *MPS) ShiftedLeft(k int, tr Trunc) (*MPS, float64, error) {
	c := m.Copy()
	w, err := c.ShiftLeft(k, tr)
	if err != nil {
		return nil, 0, err
	}
	return c, w, nil
}

// shiftRightOne absorbs Lambda into the tensor at the cut, factorizes it
// with the left bond and the site as rows, keeps the left isometry in place,
// and pushes the weight onto the next bond. Only the tensors adjacent to the
// cut are touched.
func (m *MPS) shiftRightOne(tr Trunc) (float64, error) {
	t := tensor.MulDiag(m.ms[m.cut], m.lambda)
	l, r := t.Label(L), t.Label(R)
	u, s, v, w, err := tensor.SVD(t, []string{l.ID, t.Label(S).ID}, tmpID, tr.NMax, tr.Tol)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	u.RelabelID(tmpID, r.ID)
	m.ms[m.cut] = u

	if m.cut == len(m.ms)-1 {
		lambda, err := boundaryDiag(v, s, r.ID)
		if err != nil {
			return 0, errors.Wrap(err, "")
		}
		m.lambda = lambda
	} else {
		next := must(tensor.Contract(v, m.ms[m.cut+1]))
		next.RelabelID(tmpID, r.ID)
		m.ms[m.cut+1] = next
		s.Relabel(s.Label().WithID(r.ID))
		m.lambda = s
	}
	m.cut++
	return w, nil
}

// shiftLeftOne is the mirror of shiftRightOne.
func (m *MPS) shiftLeftOne(tr Trunc) (float64, error) {
	t := tensor.MulDiag(m.ms[m.cut-1], m.lambda)
	l := t.Label(L)
	u, s, v, w, err := tensor.SVD(t, []string{l.ID}, tmpID, tr.NMax, tr.Tol)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	v.RelabelID(tmpID, l.ID)
	m.ms[m.cut-1] = v

	if m.cut == 1 {
		lambda, err := boundaryDiag(u, s, l.ID)
		if err != nil {
			return 0, errors.Wrap(err, "")
		}
		m.lambda = lambda
	} else {
		prev := must(tensor.Contract(m.ms[m.cut-2], u))
		prev.RelabelID(tmpID, l.ID)
		m.ms[m.cut-2] = prev
		s.Relabel(s.Label().WithID(l.ID))
		m.lambda = s
	}
	m.cut--
	return w, nil
}
