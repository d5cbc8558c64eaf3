// Package degfre implements the tree of layered physical degrees of freedom.
//
// A tree assigns every physical site to a leaf, grouped under labels of
// coarser layers. Trees are immutable after Freeze; all derived views are
// served from a lazily populated cache.
package degfre

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/zqguo/mps/tensor"
)

type node struct {
	label    string
	parent   string
	children []string
	depth    int
	dim      int
	qns      tensor.QNs
}

// Tree is the tree of the layered degrees of freedom.
type Tree struct {
	layers []string
	nodes  map[string]*node
	roots  []string
	frozen bool
	cache  map[string][]string
}

// New creates an empty tree with the given layer names, coarsest first.
func New(layers ...string) *Tree {
	return &Tree{
		layers: append([]string(nil), layers...),
		nodes:  make(map[string]*node),
		cache:  make(map[string][]string),
	}
}

// Add inserts a label under parent. An empty parent inserts at the coarsest
// layer. Labels of the finest layer must be added with AddDim or AddQN.
func (t *Tree) Add(parent, label string) error {
	return t.add(parent, label, 0, nil)
}

// AddDim inserts a finest-layer label with the given site dimension.
func (t *Tree) AddDim(parent, label string, dim int) error {
	if dim <= 0 {
		return errors.Errorf("label %s dim %d", label, dim)
	}
	return t.add(parent, label, dim, nil)
}

// AddQN inserts a finest-layer label with the given quantum number decomposition.
func (t *Tree) AddQN(parent, label string, qns tensor.QNs) error {
	if qns.Dim() <= 0 {
		return errors.Errorf("label %s qns %#v", label, qns)
	}
	return t.add(parent, label, qns.Dim(), qns)
}

func (t *Tree) add(parent, label string, dim int, qns tensor.QNs) error {
	if t.frozen {
		return errors.Errorf("tree is frozen")
	}
	if label == "" {
		return errors.Errorf("empty label")
	}
	if _, ok := t.nodes[label]; ok {
		return errors.Errorf("duplicate label %s", label)
	}
	depth := 0
	var p *node
	if parent != "" {
		var ok bool
		if p, ok = t.nodes[parent]; !ok {
			return errors.Errorf("parent %s not found", parent)
		}
		depth = p.depth + 1
	}
	if depth >= len(t.layers) {
		return errors.Errorf("label %s below the finest layer", label)
	}
	leaf := depth == len(t.layers)-1
	if leaf && dim == 0 {
		return errors.Errorf("finest-layer label %s without a dimension", label)
	}
	if !leaf && dim != 0 {
		return errors.Errorf("label %s carries a dimension above the finest layer", label)
	}
	t.nodes[label] = &node{label: label, parent: parent, depth: depth, dim: dim, qns: qns}
	if p != nil {
		p.children = append(p.children, label)
	} else {
		t.roots = append(t.roots, label)
	}
	return nil
}

// Freeze derives the dimensions of the coarser layers from the leaves and
// makes the tree immutable.
func (t *Tree) Freeze() error {
	if t.frozen {
		return errors.Errorf("tree is frozen")
	}
	for _, r := range t.roots {
		if err := t.derive(t.nodes[r]); err != nil {
			return err
		}
	}
	t.frozen = true
	return nil
}

func (t *Tree) derive(n *node) error {
	if n.depth == len(t.layers)-1 {
		return nil
	}
	if len(n.children) == 0 {
		return errors.Errorf("label %s has no children", n.label)
	}
	n.dim = 1
	graded := true
	for _, c := range n.children {
		child := t.nodes[c]
		if err := t.derive(child); err != nil {
			return err
		}
		n.dim *= child.dim
		graded = graded && child.qns != nil
	}
	if graded {
		qns := t.nodes[n.children[0]].qns
		for _, c := range n.children[1:] {
			qns = qns.TensorSum(t.nodes[c].qns)
		}
		n.qns = qns
	}
	return nil
}

// Layers returns the layer names, coarsest first.
func (t *Tree) Layers() []string { return append([]string(nil), t.layers...) }

// LayerIndex returns the position of the named layer.
func (t *Tree) LayerIndex(layer string) (int, error) {
	for i, l := range t.layers {
		if l == layer {
			return i, nil
		}
	}
	return 0, errors.Errorf("layer %s not found", layer)
}

// Level returns the layer index of the given label.
func (t *Tree) Level(label string) (int, error) {
	n, ok := t.nodes[label]
	if !ok {
		return 0, errors.Errorf("label %s not found", label)
	}
	return n.depth, nil
}

// Dim returns the dimension of the given label.
func (t *Tree) Dim(label string) (int, error) {
	if err := t.check(label); err != nil {
		return 0, err
	}
	return t.nodes[label].dim, nil
}

// QNs returns the quantum number decomposition of the given label,
// or nil if its leaves carry none.
func (t *Tree) QNs(label string) (tensor.QNs, error) {
	if err := t.check(label); err != nil {
		return nil, err
	}
	return t.nodes[label].qns, nil
}

// Labels returns the labels of a layer in depth-first order, so that the
// descendants of consecutive labels are consecutive runs of any finer layer.
func (t *Tree) Labels(layer string) ([]string, error) {
	depth, err := t.LayerIndex(layer)
	if err != nil {
		return nil, err
	}
	if !t.frozen {
		return nil, errors.Errorf("tree is not frozen")
	}
	key := fmt.Sprintf("labels/%s", layer)
	if v, ok := t.cache[key]; ok {
		return v, nil
	}
	pool := t.roots
	for d := 0; d < depth; d++ {
		next := make([]string, 0, 2*len(pool))
		for _, label := range pool {
			next = append(next, t.nodes[label].children...)
		}
		pool = next
	}
	t.cache[key] = pool
	return pool, nil
}

// Descendants returns the labels exactly generation layers below the given
// label, in depth-first order. A zero generation returns the label itself.
func (t *Tree) Descendants(label string, generation int) ([]string, error) {
	if err := t.check(label); err != nil {
		return nil, err
	}
	if generation < 0 {
		return nil, errors.Errorf("generation %d", generation)
	}
	key := fmt.Sprintf("descendants/%d/%s", generation, label)
	if v, ok := t.cache[key]; ok {
		return v, nil
	}
	pool := []string{label}
	for g := 0; g < generation; g++ {
		next := make([]string, 0, 2*len(pool))
		for _, l := range pool {
			n := t.nodes[l]
			if len(n.children) == 0 {
				return nil, errors.Errorf("label %s has no generation %d", label, generation)
			}
			next = append(next, n.children...)
		}
		pool = next
	}
	t.cache[key] = pool
	return pool, nil
}

// Ancestor returns the label exactly generation layers above the given label.
func (t *Tree) Ancestor(label string, generation int) (string, error) {
	if err := t.check(label); err != nil {
		return "", err
	}
	if generation < 0 {
		return "", errors.Errorf("generation %d", generation)
	}
	for g := 0; g < generation; g++ {
		n := t.nodes[label]
		if n.parent == "" {
			return "", errors.Errorf("label %s has no generation %d ancestor", label, generation)
		}
		label = n.parent
	}
	return label, nil
}

// BondIDs returns the n+1 virtual bond identifiers of a layer's chain.
func (t *Tree) BondIDs(layer string) ([]string, error) {
	labels, err := t.Labels(layer)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("bonds/%s", layer)
	if v, ok := t.cache[key]; ok {
		return v, nil
	}
	ids := make([]string, 0, len(labels)+1)
	for i := 0; i <= len(labels); i++ {
		ids = append(ids, fmt.Sprintf("%s:%d", layer, i))
	}
	t.cache[key] = ids
	return ids, nil
}

func (t *Tree) check(label string) error {
	if !t.frozen {
		return errors.Errorf("tree is not frozen")
	}
	if _, ok := t.nodes[label]; !ok {
		return errors.Errorf("label %s not found", label)
	}
	return nil
}
