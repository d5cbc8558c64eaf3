package mps

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/zqguo/mps/tensor"
)

// Scale multiplies the represented state by c without disturbing the
// canonical structure: it scales Lambda if a center exists, the first
// tensor otherwise.
func (m *MPS) Scale(c float64) {
	if m.lambda != nil {
		m.lambda.Scale(c)
		return
	}
	if len(m.ms) > 0 {
		m.ms[0].Scale(c)
	}
}

// Add returns the sum of the states of a and b as a direct sum of their
// chains. The chains must share site and bond identifiers, and their
// boundary bond dimensions must match; those boundary legs are kept while
// every interior bond dimension becomes the sum of the two. The result has
// no orthogonality center.
func Add(a, b *MPS) (*MPS, error) {
	n := a.Len()
	if n == 0 || n != b.Len() {
		return nil, errors.Errorf("%d %d sites", a.Len(), b.Len())
	}
	if a.Mode() != b.Mode() {
		return nil, errors.Errorf("modes %v %v", a.Mode(), b.Mode())
	}
	x := a.Copy()
	x.mergeCenter()
	y := b.Copy()
	y.mergeCenter()

	ms := make([]*tensor.Dense, 0, n)
	for i := 0; i < n; i++ {
		t, err := directSum(x.ms[i], y.ms[i], i == 0, i == n-1)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("site %d", i))
		}
		ms = append(ms, t)
	}
	return New(a.Mode(), ms, nil, -1)
}

// directSum embeds the two 3-leg tensors as diagonal blocks of their bond
// legs. A kept edge requires equal dimensions there and stays unblocked.
func directSum(x, y *tensor.Dense, keepLeft, keepRight bool) (*tensor.Dense, error) {
	for ax := 0; ax < 3; ax++ {
		lx, ly := x.Label(ax), y.Label(ax)
		if lx.ID != ly.ID {
			return nil, errors.Errorf("leg %d: %s %s", ax, lx.ID, ly.ID)
		}
	}
	if !sameBond(x.Label(S), y.Label(S)) {
		return nil, errors.Errorf("site legs %#v %#v", x.Label(S), y.Label(S))
	}
	if keepLeft && !sameBond(x.Label(L), y.Label(L)) {
		return nil, errors.Errorf("left boundary %#v %#v", x.Label(L), y.Label(L))
	}
	if keepRight && !sameBond(x.Label(R), y.Label(R)) {
		return nil, errors.Errorf("right boundary %#v %#v", x.Label(R), y.Label(R))
	}

	left := sumLabel(x.Label(L), y.Label(L), keepLeft)
	right := sumLabel(x.Label(R), y.Label(R), keepRight)
	t := tensor.Zeros(left, x.Label(S), right)

	var offL, offR int
	if !keepLeft {
		offL = x.Label(L).Dim
	}
	if !keepRight {
		offR = x.Label(R).Dim
	}
	addBlock(t, x, 0, 0)
	addBlock(t, y, offL, offR)
	return t, nil
}

// sameBond reports whether two kept boundary legs identify the same bond,
// including their charge blocks when graded.
func sameBond(a, b tensor.Label) bool {
	return a.Dim == b.Dim && a.QNs.Equal(b.QNs)
}

func sumLabel(lx, ly tensor.Label, keep bool) tensor.Label {
	if keep {
		return lx
	}
	l := lx.WithDim(lx.Dim + ly.Dim)
	if lx.Graded() {
		l = l.WithQNs(append(append(tensor.QNs(nil), lx.QNs...), ly.QNs...))
	}
	return l
}

// addBlock accumulates src into dst at the given bond offsets. When a kept
// edge makes the offset zero the blocks of the two summands overlap there,
// which is exactly the boundary identification the direct sum needs.
func addBlock(dst, src *tensor.Dense, offL, offR int) {
	sh := src.Shape()
	dl, ds, dr := sh[0], sh[1], sh[2]
	data := src.Data()
	ix := make([]int, 3)
	for l := 0; l < dl; l++ {
		for s := 0; s < ds; s++ {
			for r := 0; r < dr; r++ {
				ix[0], ix[1], ix[2] = l+offL, s, r+offR
				dst.SetAt(ix, dst.At(ix...)+data[(l*ds+s)*dr+r])
			}
		}
	}
}
