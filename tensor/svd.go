package tensor

import (
	"math"
	"slices"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// SVD decomposes t into u*s*v over the partition of its legs into the row
// group and the remaining column group. The new bond carries the identifier
// newID, flowing out of u and into v.
//
// Truncation keeps at most nmax singular values (nmax <= 0 keeps all) and
// discards singular values below tol (tol <= 0 discards none); when both are
// given the stricter applies. At least one value is always kept. The returned
// weight is the sum of squares of the discarded values.
//
// When every leg of t is graded, the decomposition is performed per charge
// sector and the kept sectors are attached to the new bond.
func SVD(t *Dense, row []string, newID string, nmax int, tol float64) (*Dense, *Diag, *Dense, float64, error) {
	rowAxes := make([]int, 0, len(row))
	for _, id := range row {
		i := t.Axis(id)
		if i < 0 {
			return nil, nil, nil, 0, errors.Errorf("row leg %s not in %#v", id, t.labels)
		}
		rowAxes = append(rowAxes, i)
	}
	slices.Sort(rowAxes)
	colAxes := freeAxes(t, rowAxes)
	if len(colAxes) == 0 {
		return nil, nil, nil, 0, errors.Errorf("empty column group")
	}

	tp := t.Transpose(append(slices.Clone(rowAxes), colAxes...)...)
	m, n := 1, 1
	rowLabels := make([]Label, 0, len(rowAxes))
	colLabels := make([]Label, 0, len(colAxes))
	graded := true
	for _, i := range rowAxes {
		m *= t.shape[i]
		rowLabels = append(rowLabels, t.labels[i])
		graded = graded && t.labels[i].Graded()
	}
	for _, j := range colAxes {
		n *= t.shape[j]
		colLabels = append(colLabels, t.labels[j])
		graded = graded && t.labels[j].Graded()
	}

	if !graded {
		return svdDense(tp.data, m, n, rowLabels, colLabels, newID, nmax, tol)
	}
	return svdGraded(tp.data, m, n, rowLabels, colLabels, newID, nmax, tol)
}

func svdDense(data []float64, m, n int, rowLabels, colLabels []Label, newID string, nmax int, tol float64) (*Dense, *Diag, *Dense, float64, error) {
	var svd mat.SVD
	if ok := svd.Factorize(mat.NewDense(m, n, data), mat.SVDThin); !ok {
		return nil, nil, nil, 0, errors.Errorf("factorization failed %dx%d", m, n)
	}
	sv := svd.Values(nil)
	var um, vm mat.Dense
	svd.UTo(&um)
	svd.VTo(&vm)

	k := chooseRank(sv, nmax, tol)
	var discarded float64
	for _, v := range sv[k:] {
		discarded += v * v
	}

	bond := NewLabel(newID, k, None)
	u := Zeros(append(slices.Clone(rowLabels), bond.WithFlow(None))...)
	for i := 0; i < m; i++ {
		for j := 0; j < k; j++ {
			u.data[i*k+j] = um.At(i, j)
		}
	}
	v := Zeros(append([]Label{bond.WithFlow(None)}, colLabels...)...)
	for i := 0; i < k; i++ {
		for j := 0; j < n; j++ {
			v.data[i*n+j] = vm.At(j, i)
		}
	}
	s, err := NewDiag(bond, sv[:k])
	if err != nil {
		return nil, nil, nil, 0, errors.Wrap(err, "")
	}
	return u, s, v, discarded, nil
}

// sector is one charge block of the matricized tensor.
type sector struct {
	charge int
	rows   []int
	cols   []int
	sv     []float64
	u      *mat.Dense
	v      *mat.Dense
	keep   int
}

func svdGraded(data []float64, m, n int, rowLabels, colLabels []Label, newID string, nmax int, tol float64) (*Dense, *Diag, *Dense, float64, error) {
	rowQ := chargeVector(rowLabels)
	colQ := chargeVector(colLabels)

	// The total charge of the tensor is read off its dominant entry.
	total, vmax := 0, 0.0
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			if a := math.Abs(data[i*n+j]); a > vmax {
				vmax, total = a, rowQ[i]+colQ[j]
			}
		}
	}

	rowsByQ := map[int][]int{}
	for i, q := range rowQ {
		rowsByQ[q] = append(rowsByQ[q], i)
	}
	colsByQ := map[int][]int{}
	for j, q := range colQ {
		colsByQ[q] = append(colsByQ[q], j)
	}

	charges := make([]int, 0, len(rowsByQ))
	for q := range rowsByQ {
		if len(colsByQ[total-q]) > 0 {
			charges = append(charges, q)
		}
	}
	sort.Ints(charges)
	if len(charges) == 0 {
		return nil, nil, nil, 0, errors.Errorf("no charge sectors %dx%d", m, n)
	}

	sectors := make([]*sector, 0, len(charges))
	var all []float64
	for _, q := range charges {
		sec := &sector{charge: q, rows: rowsByQ[q], cols: colsByQ[total-q]}
		block := mat.NewDense(len(sec.rows), len(sec.cols), nil)
		for bi, i := range sec.rows {
			for bj, j := range sec.cols {
				block.Set(bi, bj, data[i*n+j])
			}
		}
		var svd mat.SVD
		if ok := svd.Factorize(block, mat.SVDThin); !ok {
			return nil, nil, nil, 0, errors.Errorf("factorization failed, sector %d", q)
		}
		sec.sv = svd.Values(nil)
		sec.u, sec.v = &mat.Dense{}, &mat.Dense{}
		svd.UTo(sec.u)
		svd.VTo(sec.v)
		sectors = append(sectors, sec)
		all = append(all, sec.sv...)
	}

	// Rank singular values globally across sectors.
	sort.Sort(sort.Reverse(sort.Float64Slice(all)))
	k := chooseRank(all, nmax, tol)
	cutoff := all[k-1]
	var discarded float64
	for _, v := range all[k:] {
		discarded += v * v
	}
	kept := 0
	for _, sec := range sectors {
		for _, v := range sec.sv {
			if v >= cutoff && kept < k {
				sec.keep++
				kept++
			}
		}
	}

	qns := make(QNs, 0, len(sectors))
	svs := make([]float64, 0, kept)
	for _, sec := range sectors {
		if sec.keep == 0 {
			continue
		}
		qns = append(qns, Sector{N: sec.charge, Dim: sec.keep})
		svs = append(svs, sec.sv[:sec.keep]...)
	}

	bond := NewQNLabel(newID, qns, None)
	u := Zeros(append(slices.Clone(rowLabels), bond.WithFlow(Out))...)
	v := Zeros(append([]Label{bond.WithFlow(In)}, colLabels...)...)
	off := 0
	for _, sec := range sectors {
		for c := 0; c < sec.keep; c++ {
			for bi, i := range sec.rows {
				u.data[i*kept+off+c] = sec.u.At(bi, c)
			}
			for bj, j := range sec.cols {
				v.data[(off+c)*n+j] = sec.v.At(bj, c)
			}
		}
		off += sec.keep
	}
	s, err := NewDiag(bond, svs)
	if err != nil {
		return nil, nil, nil, 0, errors.Wrap(err, "")
	}
	return u, s, v, discarded, nil
}

// chargeVector returns the flow-signed total charge of every dense index of
// the merged legs, in kronecker order.
func chargeVector(labels []Label) []int {
	total := 1
	for _, l := range labels {
		total *= l.Dim
	}
	qs := make([]int, total)
	for p := range qs {
		rem, q := p, 0
		for i := len(labels) - 1; i >= 0; i-- {
			l := labels[i]
			q += int(l.Flow) * l.QNs.ChargeAt(rem%l.Dim)
			rem /= l.Dim
		}
		qs[p] = q
	}
	return qs
}

func chooseRank(sv []float64, nmax int, tol float64) int {
	k := len(sv)
	if tol > 0 {
		for k > 0 && sv[k-1] < tol {
			k--
		}
	}
	if nmax > 0 && k > nmax {
		k = nmax
	}
	if k == 0 && len(sv) > 0 {
		k = 1
	}
	return k
}
