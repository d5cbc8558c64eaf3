package tensor

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Dense is a dense tensor with named legs, stored in row-major order
// following the order of its labels.
type Dense struct {
	labels []Label
	shape  []int
	data   []float64
}

// New creates a tensor from raw row-major data and an ordered list of legs.
func New(data []float64, labels []Label) (*Dense, error) {
	size := 1
	for _, l := range labels {
		if l.Dim <= 0 {
			return nil, errors.Errorf("leg %s dim %d", l.ID, l.Dim)
		}
		if l.Graded() && l.QNs.Dim() != l.Dim {
			return nil, errors.Errorf("leg %s dim %d qns %#v", l.ID, l.Dim, l.QNs)
		}
		size *= l.Dim
	}
	if len(data) != size {
		return nil, errors.Errorf("data %d size %d", len(data), size)
	}
	t := &Dense{labels: slices.Clone(labels), data: slices.Clone(data)}
	t.shape = make([]int, 0, len(labels))
	for _, l := range labels {
		t.shape = append(t.shape, l.Dim)
	}
	return t, nil
}

// Zeros creates a zero tensor with the given legs.
func Zeros(labels ...Label) *Dense {
	size := 1
	for _, l := range labels {
		size *= l.Dim
	}
	t, err := New(make([]float64, size), labels)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return t
}

// Labels returns a copy of the legs of the tensor.
func (t *Dense) Labels() []Label { return slices.Clone(t.labels) }

// Label returns the i-th leg.
func (t *Dense) Label(i int) Label { return t.labels[i] }

// NDim returns the number of legs.
func (t *Dense) NDim() int { return len(t.labels) }

// Shape returns a copy of the dimensions of the tensor.
func (t *Dense) Shape() []int { return slices.Clone(t.shape) }

// Size returns the total number of elements.
func (t *Dense) Size() int { return len(t.data) }

// Data returns the backing row-major data. Callers must not modify it.
func (t *Dense) Data() []float64 { return t.data }

// Axis returns the position of the leg with the given identifier, or -1.
func (t *Dense) Axis(id string) int {
	for i, l := range t.labels {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (t *Dense) strides() []int {
	st := make([]int, len(t.shape))
	p := 1
	for i := len(t.shape) - 1; i >= 0; i-- {
		st[i] = p
		p *= t.shape[i]
	}
	return st
}

func (t *Dense) offset(ix []int) int {
	if len(ix) != len(t.shape) {
		panic(fmt.Sprintf("%#v %#v", ix, t.shape))
	}
	p := 0
	for i, x := range ix {
		if x < 0 || x >= t.shape[i] {
			panic(fmt.Sprintf("%#v %#v", ix, t.shape))
		}
		p = p*t.shape[i] + x
	}
	return p
}

// At returns the element at the given indices.
func (t *Dense) At(ix ...int) float64 { return t.data[t.offset(ix)] }

// SetAt sets the element at the given indices.
func (t *Dense) SetAt(ix []int, v float64) { t.data[t.offset(ix)] = v }

// Clone returns a deep copy of the tensor.
func (t *Dense) Clone() *Dense {
	return &Dense{labels: slices.Clone(t.labels), shape: slices.Clone(t.shape), data: slices.Clone(t.data)}
}

// Scale multiplies every element by c and returns the tensor.
func (t *Dense) Scale(c float64) *Dense {
	for i := range t.data {
		t.data[i] *= c
	}
	return t
}

// Dagger returns the conjugate transpose of the tensor.
// For real data this reverses the flow of every leg.
func (t *Dense) Dagger() *Dense {
	d := t.Clone()
	for i := range d.labels {
		d.labels[i] = d.labels[i].Dual()
	}
	return d
}

// RelabelID renames the leg old to id, keeping its dimension and flow.
func (t *Dense) RelabelID(old, id string) *Dense {
	i := t.Axis(old)
	if i < 0 {
		panic(fmt.Sprintf("%s %#v", old, t.labels))
	}
	t.labels[i].ID = id
	return t
}

// ReplaceLabel replaces the i-th leg. The dimension must be unchanged.
func (t *Dense) ReplaceLabel(i int, l Label) *Dense {
	if l.Dim != t.shape[i] {
		panic(fmt.Sprintf("%d %d", l.Dim, t.shape[i]))
	}
	t.labels[i] = l
	return t
}

// Transpose returns a new tensor with the legs permuted,
// so that leg i of the result is leg perm[i] of t.
func (t *Dense) Transpose(perm ...int) *Dense {
	n := len(t.shape)
	if len(perm) != n {
		panic(fmt.Sprintf("%#v %#v", perm, t.shape))
	}
	labels := make([]Label, n)
	shape := make([]int, n)
	for i, p := range perm {
		labels[i] = t.labels[p]
		shape[i] = t.shape[p]
	}
	src := t.strides()
	dstStrides := make([]int, n)
	for i, p := range perm {
		dstStrides[i] = src[p]
	}
	data := make([]float64, len(t.data))
	ix := make([]int, n)
	for p := range data {
		off := 0
		for i, x := range ix {
			off += x * dstStrides[i]
		}
		data[p] = t.data[off]
		for i := n - 1; i >= 0; i-- {
			ix[i]++
			if ix[i] < shape[i] {
				break
			}
			ix[i] = 0
		}
	}
	return &Dense{labels: labels, shape: shape, data: data}
}

// Contract contracts a and b over every pair of legs with matching
// identifiers. Legs with matching identifiers but incompatible dimensions,
// grading or flows are an error.
func Contract(a, b *Dense) (*Dense, error) {
	var aC, bC []int
	for i, al := range a.labels {
		j := b.Axis(al.ID)
		if j < 0 {
			continue
		}
		if !contractible(al, b.labels[j]) {
			return nil, errors.Errorf("leg %s: %#v %#v", al.ID, al, b.labels[j])
		}
		aC = append(aC, i)
		bC = append(bC, j)
	}

	aF := freeAxes(a, aC)
	bF := freeAxes(b, bC)
	ta := a.Transpose(append(slices.Clone(aF), aC...)...)
	tb := b.Transpose(append(slices.Clone(bC), bF...)...)

	m, k, n := 1, 1, 1
	labels := make([]Label, 0, len(aF)+len(bF))
	for _, i := range aF {
		m *= a.shape[i]
		labels = append(labels, a.labels[i])
	}
	for _, i := range aC {
		k *= a.shape[i]
	}
	for _, j := range bF {
		n *= b.shape[j]
		labels = append(labels, b.labels[j])
	}

	c := mat.NewDense(m, n, nil)
	c.Mul(mat.NewDense(m, k, ta.data), mat.NewDense(k, n, tb.data))
	return New(c.RawMatrix().Data, labels)
}

func freeAxes(t *Dense, contracted []int) []int {
	free := make([]int, 0, len(t.shape)-len(contracted))
	for i := range t.shape {
		if !slices.Contains(contracted, i) {
			free = append(free, i)
		}
	}
	return free
}

// Merge reshapes a contiguous run of legs, given in order by identifier,
// into the single leg merged. The merged dimension must equal the product of
// the parts.
func Merge(t *Dense, ids []string, merged Label) (*Dense, error) {
	if len(ids) == 0 {
		return nil, errors.Errorf("no legs to merge")
	}
	start := t.Axis(ids[0])
	if start < 0 {
		return nil, errors.Errorf("leg %s not found", ids[0])
	}
	dim := 1
	for i, id := range ids {
		if start+i >= len(t.labels) || t.labels[start+i].ID != id {
			return nil, errors.Errorf("legs %#v not contiguous in %#v", ids, t.labels)
		}
		dim *= t.shape[start+i]
	}
	if merged.Dim != dim {
		return nil, errors.Errorf("merged dim %d product %d", merged.Dim, dim)
	}
	labels := slices.Clone(t.labels[:start])
	labels = append(labels, merged)
	labels = append(labels, t.labels[start+len(ids):]...)
	return New(t.data, labels)
}

// Split reshapes the leg id into several legs whose dimensions multiply to
// the original dimension.
func Split(t *Dense, id string, parts []Label) (*Dense, error) {
	i := t.Axis(id)
	if i < 0 {
		return nil, errors.Errorf("leg %s not found", id)
	}
	dim := 1
	for _, p := range parts {
		dim *= p.Dim
	}
	if dim != t.shape[i] {
		return nil, errors.Errorf("parts product %d dim %d", dim, t.shape[i])
	}
	labels := slices.Clone(t.labels[:i])
	labels = append(labels, parts...)
	labels = append(labels, t.labels[i+1:]...)
	return New(t.data, labels)
}

func (t *Dense) String() string {
	ss := make([]string, 0, len(t.labels))
	for _, l := range t.labels {
		ss = append(ss, fmt.Sprintf("%s(%d,%d)", l.ID, l.Dim, l.Flow))
	}
	return fmt.Sprintf("[%s]", strings.Join(ss, ","))
}
