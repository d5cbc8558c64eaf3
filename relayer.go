package mps

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/zqguo/mps/degfre"
	"github.com/zqguo/mps/tensor"
)

// Relayer re-expresses the chain on another layer of the degrees-of-freedom
// tree. Moving to a coarser layer contracts and merges each group of sibling
// sites into one; moving to a finer layer splits every site leg into its
// descendants and refactorizes with truncated decompositions, so the second
// value is the discarded weight (zero for a coarsening). The receiver is
// left untouched.
func (m *MPS) Relayer(tree *degfre.Tree, layer string, tr Trunc) (*MPS, float64, error) {
	if len(m.ms) == 0 {
		return nil, 0, errors.Errorf("empty chain")
	}
	newIdx, err := tree.LayerIndex(layer)
	if err != nil {
		return nil, 0, errors.Wrap(err, "")
	}
	oldIdx, err := tree.Level(m.ms[0].Label(S).ID)
	if err != nil {
		return nil, 0, errors.Wrap(err, "")
	}
	oldLabels, err := tree.Labels(tree.Layers()[oldIdx])
	if err != nil {
		return nil, 0, errors.Wrap(err, "")
	}
	if len(oldLabels) != len(m.ms) {
		return nil, 0, errors.Errorf("%d sites on a %d label layer", len(m.ms), len(oldLabels))
	}
	for i, lbl := range oldLabels {
		if got := m.ms[i].Label(S).ID; got != lbl {
			return nil, 0, errors.Errorf("site %d is %s, layer has %s", i, got, lbl)
		}
	}
	if newIdx == oldIdx {
		return m.Copy(), 0, nil
	}

	work := m.Copy()
	work.mergeCenter()
	if newIdx < oldIdx {
		c, err := coarsen(work, tree, layer, oldIdx-newIdx)
		return c, 0, err
	}
	return refine(work, tree, layer, newIdx-oldIdx, tr)
}

// siteLabel builds the label of a tree node as a physical leg.
func siteLabel(tree *degfre.Tree, mode Mode, name string) (tensor.Label, error) {
	dim, err := tree.Dim(name)
	if err != nil {
		return tensor.Label{}, errors.Wrap(err, "")
	}
	in, _ := flows(mode)
	l := tensor.Label{ID: name, Dim: dim, Flow: in}
	if mode == QN {
		qns, err := tree.QNs(name)
		if err != nil {
			return tensor.Label{}, errors.Wrap(err, "")
		}
		if qns == nil {
			return tensor.Label{}, errors.Errorf("node %s has no quantum numbers", name)
		}
		l.QNs = qns
	}
	return l, nil
}

// coarsen contracts each group of gen-th generation siblings into one tensor
// and merges their physical legs into the ancestor's leg.
func coarsen(work *MPS, tree *degfre.Tree, layer string, gen int) (*MPS, error) {
	labels, err := tree.Labels(layer)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	bondIDs, err := tree.BondIDs(layer)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	tbl := work.Table()
	ms := make([]*tensor.Dense, 0, len(labels))
	next := 0
	for i, lbl := range labels {
		desc, err := tree.Descendants(lbl, gen)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		for j, d := range desc {
			pos, ok := tbl[d]
			if !ok {
				return nil, errors.Errorf("descendant %s of %s is not a chain site", d, lbl)
			}
			if pos != next+j {
				return nil, errors.Errorf("descendant %s of %s at %d, want %d", d, lbl, pos, next+j)
			}
		}
		cur := work.ms[next].Clone()
		for j := 1; j < len(desc); j++ {
			cur = must(tensor.Contract(cur, work.ms[next+j]))
		}
		next += len(desc)

		cur.RelabelID(cur.Label(0).ID, bondIDs[i])
		cur.RelabelID(cur.Label(cur.NDim()-1).ID, bondIDs[i+1])
		merged, err := siteLabel(tree, work.mode, lbl)
		if err != nil {
			return nil, err
		}
		if cur, err = tensor.Merge(cur, desc, merged); err != nil {
			return nil, errors.Wrap(err, "")
		}
		ms = append(ms, cur)
	}
	if next != len(work.ms) {
		return nil, errors.Errorf("layer %s covers %d of %d sites", layer, next, len(work.ms))
	}
	return New(work.mode, ms, nil, -1)
}

// refine splits every site leg into its gen-th generation descendants and
// refactorizes each expanded tensor left to right, threading the leftover
// weight into the next tensor. The result carries its center on the last
// bond.
func refine(work *MPS, tree *degfre.Tree, layer string, gen int, tr Trunc) (*MPS, float64, error) {
	labels, err := tree.Labels(layer)
	if err != nil {
		return nil, 0, errors.Wrap(err, "")
	}
	bondIDs, err := tree.BondIDs(layer)
	if err != nil {
		return nil, 0, errors.Wrap(err, "")
	}
	newPos := make(map[string]int, len(labels))
	for i, lbl := range labels {
		newPos[lbl] = i
	}

	var (
		ms        []*tensor.Dense
		carryS    *tensor.Diag
		carryV    *tensor.Dense
		stopID    string
		discarded float64
	)
	start := 0
	for i, t := range work.ms {
		cur := t
		if i > 0 {
			carry := tensor.MulDiag(carryV, carryS)
			cur = must(tensor.Contract(carry, cur))
			cur.RelabelID(tmpID, stopID)
		}
		site := cur.Label(1)
		desc, err := tree.Descendants(site.ID, gen)
		if err != nil {
			return nil, 0, errors.Wrap(err, "")
		}
		parts := make([]tensor.Label, 0, len(desc))
		for j, d := range desc {
			if p, ok := newPos[d]; !ok || p != start+j {
				return nil, 0, errors.Errorf("descendant %s of %s is not at layer position %d", d, site.ID, start+j)
			}
			l, err := siteLabel(tree, work.mode, d)
			if err != nil {
				return nil, 0, err
			}
			parts = append(parts, l)
		}
		if cur, err = tensor.Split(cur, site.ID, parts); err != nil {
			return nil, 0, errors.Wrap(err, "")
		}

		bids := make([]string, len(desc)+1)
		copy(bids, bondIDs[start:start+len(desc)+1])
		us, s, v, w, err := splitSites(cur, bids, len(desc), tr)
		if err != nil {
			return nil, 0, errors.Wrap(err, fmt.Sprintf("site %d", i))
		}
		discarded += w
		ms = append(ms, us...)
		carryS, carryV, stopID = s, v, bids[len(desc)]
		start += len(desc)
	}
	if start != len(labels) {
		return nil, 0, errors.Errorf("layer %s has %d labels, chain expands to %d", layer, len(labels), start)
	}

	lambda, err := boundaryDiag(carryV, carryS, bondIDs[len(labels)])
	if err != nil {
		return nil, 0, errors.Wrap(err, "")
	}
	ms[0].RelabelID(ms[0].Label(0).ID, bondIDs[0])
	r, err := New(work.mode, ms, lambda, len(labels))
	if err != nil {
		return nil, 0, err
	}
	return r, discarded, nil
}

// splitSites factorizes a tensor with legs (left bond, k site legs, right
// bond) into k chain tensors by successive truncated decompositions, with
// the singular values ending up on the bond at cut. bondIDs names the k+1
// surrounding bonds; the outer legs keep their own identifiers. For an edge
// cut the returned s and rest (the leftover boundary factor u or v) still
// carry the temporary bond label for the caller to fold; for an interior cut
// rest is nil and s is final.
func splitSites(t *tensor.Dense, bondIDs []string, cut int, tr Trunc) ([]*tensor.Dense, *tensor.Diag, *tensor.Dense, float64, error) {
	k := t.NDim() - 2
	if k < 1 || len(bondIDs) != k+1 {
		return nil, nil, nil, 0, errors.Errorf("%d site legs %d bond ids", k, len(bondIDs))
	}
	if cut < 0 || cut > k {
		return nil, nil, nil, 0, errors.Errorf("cut %d out of range [0,%d]", cut, k)
	}
	ms := make([]*tensor.Dense, k)
	var discarded float64
	cur := t

	// Left-orthonormal factors up to the cut.
	for i := 0; i < cut; i++ {
		row := []string{cur.Label(0).ID, cur.Label(1).ID}
		if i == k-1 { // cut == k: the weight ends up past the last site
			u, s, v, w, err := tensor.SVD(cur, row, tmpID, tr.NMax, tr.Tol)
			if err != nil {
				return nil, nil, nil, 0, errors.Wrap(err, "")
			}
			discarded += w
			u.RelabelID(tmpID, bondIDs[k])
			ms[i] = u
			return ms, s, v, discarded, nil
		}
		u, s, v, w, err := tensor.SVD(cur, row, bondIDs[i+1], tr.NMax, tr.Tol)
		if err != nil {
			return nil, nil, nil, 0, errors.Wrap(err, "")
		}
		discarded += w
		ms[i] = u
		cur = tensor.MulDiag(v, s)
	}

	// Right-orthonormal factors down to the site after the cut.
	for i := k - 1; i > cut; i-- {
		row := make([]string, 0, cur.NDim()-2)
		for _, l := range cur.Labels()[:cur.NDim()-2] {
			row = append(row, l.ID)
		}
		u, s, v, w, err := tensor.SVD(cur, row, tmpID, tr.NMax, tr.Tol)
		if err != nil {
			return nil, nil, nil, 0, errors.Wrap(err, "")
		}
		discarded += w
		v.RelabelID(tmpID, bondIDs[i])
		ms[i] = v
		cur = tensor.MulDiag(u, s)
		cur.RelabelID(tmpID, bondIDs[i])
	}

	// Pivot at the cut site.
	u, s, v, w, err := tensor.SVD(cur, []string{cur.Label(0).ID}, tmpID, tr.NMax, tr.Tol)
	if err != nil {
		return nil, nil, nil, 0, errors.Wrap(err, "")
	}
	discarded += w
	if cut == 0 {
		v.RelabelID(tmpID, bondIDs[0])
		ms[0] = v
		return ms, s, u, discarded, nil
	}
	v.RelabelID(tmpID, bondIDs[cut])
	ms[cut] = v
	prev := must(tensor.Contract(ms[cut-1], u))
	prev.RelabelID(tmpID, bondIDs[cut])
	ms[cut-1] = prev
	s.Relabel(s.Label().WithID(bondIDs[cut]))
	return ms, s, nil, discarded, nil
}
