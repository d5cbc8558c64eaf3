package tensor

import (
	"fmt"
	"math"
	"slices"

	"github.com/pkg/errors"
)

// Diag is a 1-leg diagonal tensor holding singular values.
// A Diag with an empty identifier is a scalar and multiplies whole tensors.
type Diag struct {
	label Label
	data  []float64
}

// NewDiag creates a diagonal tensor on the given leg.
func NewDiag(label Label, data []float64) (*Diag, error) {
	if label.ID != "" && label.Dim != len(data) {
		return nil, errors.Errorf("leg %s dim %d data %d", label.ID, label.Dim, len(data))
	}
	if label.ID == "" && len(data) != 1 {
		return nil, errors.Errorf("scalar data %d", len(data))
	}
	return &Diag{label: label, data: slices.Clone(data)}, nil
}

// Scalar returns a label-free diagonal holding a single value.
func Scalar(v float64) *Diag {
	return &Diag{data: []float64{v}}
}

// IsScalar reports whether the diagonal carries no leg.
func (d *Diag) IsScalar() bool { return d.label.ID == "" }

// Label returns the leg of the diagonal.
func (d *Diag) Label() Label { return d.label }

// Dim returns the dimension of the diagonal.
func (d *Diag) Dim() int { return len(d.data) }

// Data returns the diagonal values. Callers must not modify them.
func (d *Diag) Data() []float64 { return d.data }

// At returns the i-th diagonal value.
func (d *Diag) At(i int) float64 { return d.data[i] }

// Clone returns a deep copy of the diagonal.
func (d *Diag) Clone() *Diag {
	return &Diag{label: d.label, data: slices.Clone(d.data)}
}

// Scale multiplies every value by c and returns the diagonal.
func (d *Diag) Scale(c float64) *Diag {
	for i := range d.data {
		d.data[i] *= c
	}
	return d
}

// Relabel replaces the leg of the diagonal, keeping its values.
func (d *Diag) Relabel(l Label) *Diag {
	if l.ID != "" && l.Dim != len(d.data) {
		panic(fmt.Sprintf("%s %d %d", l.ID, l.Dim, len(d.data)))
	}
	d.label = l
	return d
}

// Norm returns the euclidean norm of the diagonal values.
func (d *Diag) Norm() float64 {
	var s float64
	for _, v := range d.data {
		s += v * v
	}
	return math.Sqrt(s)
}

// MulDiag multiplies t by the diagonal d along the leg whose identifier
// matches d. A scalar diagonal scales the whole tensor.
func MulDiag(t *Dense, d *Diag) *Dense {
	if d.IsScalar() {
		return t.Clone().Scale(d.data[0])
	}
	i := t.Axis(d.label.ID)
	if i < 0 || t.shape[i] != len(d.data) {
		panic(fmt.Sprintf("%s(%d) %#v", d.label.ID, len(d.data), t.labels))
	}
	r := t.Clone()
	st := r.strides()
	outer := 1
	for k := 0; k < i; k++ {
		outer *= r.shape[k]
	}
	for o := 0; o < outer; o++ {
		base := o * st[i] * r.shape[i]
		for x := 0; x < r.shape[i]; x++ {
			for p := 0; p < st[i]; p++ {
				r.data[base+x*st[i]+p] *= d.data[x]
			}
		}
	}
	return r
}
