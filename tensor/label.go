// Package tensor implements dense tensors with named, directional legs,
// contraction over matching legs, and truncated singular value decomposition,
// optionally graded by conserved quantum numbers.
//
// References:
//   - The density-matrix renormalization group in the age of matrix product states, Ulrich Schollwock
package tensor

import (
	"fmt"
)

// Flow is the direction of a leg.
type Flow int8

const (
	// None marks a leg without a direction, such as a singular value diagonal.
	None Flow = 0
	// In marks an inbound leg.
	In Flow = 1
	// Out marks an outbound leg.
	Out Flow = -1
)

// Sector is a charge block of a leg dimension.
type Sector struct {
	// N is the conserved charge of the block.
	N int
	// Dim is the number of states in the block.
	Dim int
}

// QNs is the quantum number decomposition of a leg dimension,
// as an ordered run of charge blocks.
type QNs []Sector

// Dim returns the total dimension of the decomposition.
func (q QNs) Dim() int {
	d := 0
	for _, s := range q {
		d += s.Dim
	}
	return d
}

// ChargeAt returns the charge of the i-th state of the leg.
func (q QNs) ChargeAt(i int) int {
	for _, s := range q {
		if i < s.Dim {
			return s.N
		}
		i -= s.Dim
	}
	panic(fmt.Sprintf("%d %#v", i, q))
}

// TensorSum composes two decompositions in kronecker order,
// so that state i*o.Dim()+j carries charge q[i]+o[j].
func (q QNs) TensorSum(o QNs) QNs {
	r := make(QNs, 0, len(q)*len(o))
	for _, a := range q {
		for _, b := range o {
			r = append(r, Sector{N: a.N + b.N, Dim: a.Dim * b.Dim})
		}
	}
	return r
}

// Mono returns a decomposition with all dim states carrying charge n.
func Mono(n, dim int) QNs {
	return QNs{{N: n, Dim: dim}}
}

// Equal reports whether both decompositions have the same charge blocks.
func (q QNs) Equal(o QNs) bool {
	if len(q) != len(o) {
		return false
	}
	for i := range q {
		if q[i] != o[i] {
			return false
		}
	}
	return true
}

// Label identifies a leg of a tensor.
type Label struct {
	// ID is the identifier of the leg. Two legs contract when their IDs match.
	ID string
	// Dim is the dimension of the leg.
	Dim int
	// QNs is the quantum number decomposition of Dim.
	// A nil QNs means the leg carries no quantum number structure.
	QNs QNs
	// Flow is the direction of the leg.
	Flow Flow
}

// NewLabel returns a leg without quantum number structure.
func NewLabel(id string, dim int, flow Flow) Label {
	return Label{ID: id, Dim: dim, Flow: flow}
}

// NewQNLabel returns a leg whose dimension decomposes into charge blocks.
func NewQNLabel(id string, qns QNs, flow Flow) Label {
	return Label{ID: id, Dim: qns.Dim(), QNs: qns, Flow: flow}
}

// Graded reports whether the leg carries quantum number structure.
func (l Label) Graded() bool { return l.QNs != nil }

// Dual returns the leg with its flow reversed.
func (l Label) Dual() Label {
	l.Flow = -l.Flow
	return l
}

// WithID returns the leg with a new identifier.
func (l Label) WithID(id string) Label {
	l.ID = id
	return l
}

// WithFlow returns the leg with a new flow.
func (l Label) WithFlow(f Flow) Label {
	l.Flow = f
	return l
}

// WithDim returns the leg with a new dimension and no quantum number structure.
func (l Label) WithDim(dim int) Label {
	l.Dim = dim
	l.QNs = nil
	return l
}

// WithQNs returns the leg with a new quantum number decomposition.
func (l Label) WithQNs(q QNs) Label {
	l.QNs = q
	l.Dim = q.Dim()
	return l
}

// Union merges several legs into one whose dimension is the product of the
// parts, in kronecker order. The merged leg is graded only if every part is.
func Union(ls []Label, id string, flow Flow) Label {
	dim := 1
	graded := len(ls) > 0
	for _, l := range ls {
		dim *= l.Dim
		if !l.Graded() {
			graded = false
		}
	}
	m := Label{ID: id, Dim: dim, Flow: flow}
	if graded {
		qns := ls[0].QNs
		for _, l := range ls[1:] {
			qns = qns.TensorSum(l.QNs)
		}
		m.QNs = qns
	}
	return m
}

// contractible reports whether legs a and b may be contracted against each
// other. IDs and dimensions must match; graded legs must have opposite flows
// and the same charge blocks, while ungraded legs contract regardless of
// direction.
func contractible(a, b Label) bool {
	if a.ID != b.ID || a.Dim != b.Dim {
		return false
	}
	if a.Graded() != b.Graded() {
		return false
	}
	if a.Graded() && (a.Flow != -b.Flow || !a.QNs.Equal(b.QNs)) {
		return false
	}
	return true
}
