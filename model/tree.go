/*
 * Copyright 2023 Treelite Contributors.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package model

import "sort"

// maxSplitIndex bounds split feature indices: an index must be below it. One
// bit is reserved.
const maxSplitIndex = (1 << 31) - 1

// Tree is a single decision tree stored in column order: one slice per node
// field, all indexed by the internal node ID (dense, 0..NumNodes-1).
// Variable-length node payloads (leaf vectors, category lists) live in
// shared pools with per-node [begin, end) extents.
type Tree[T FloatType] struct {
	// NumNodes is the number of allocated nodes.
	NumNodes int32

	nodeType               []TreeNodeType
	cleft                  []int32
	cright                 []int32
	splitIndex             []int32
	defaultLeft            []bool
	leafValue              []T
	threshold              []T
	cmp                    []Operator
	categoryListRightChild []bool

	// Leaf vector pool
	leafVector      []T
	leafVectorBegin []uint64
	leafVectorEnd   []uint64

	// Category list pool
	categoryList      []uint32
	categoryListBegin []uint64
	categoryListEnd   []uint64

	// Node statistics
	dataCount        []uint64
	dataCountPresent []bool
	sumHess          []float64
	sumHessPresent   []bool
	gain             []float64
	gainPresent      []bool

	hasCategoricalSplit bool

	// Extension slot counters, re-computed at serialization time.
	numOptFieldPerTree int32
	numOptFieldPerNode int32
}

// Init initializes the tree with a single root node, set up as a leaf with
// zero output.
func (t *Tree[T]) Init() {
	*t = Tree[T]{}
	t.AllocNode()
	t.SetLeafNode(0, 0)
}

// AllocNode appends a default-initialized leaf node and returns its ID. All
// node columns grow by one; pool extents of existing nodes are preserved.
func (t *Tree[T]) AllocNode() int {
	nid := int(t.NumNodes)
	t.NumNodes++
	t.nodeType = append(t.nodeType, LeafNode)
	t.cleft = append(t.cleft, -1)
	t.cright = append(t.cright, -1)
	t.splitIndex = append(t.splitIndex, 0)
	t.defaultLeft = append(t.defaultLeft, false)
	t.leafValue = append(t.leafValue, 0)
	t.threshold = append(t.threshold, 0)
	t.cmp = append(t.cmp, OpNone)
	t.categoryListRightChild = append(t.categoryListRightChild, false)
	t.leafVectorBegin = append(t.leafVectorBegin, 0)
	t.leafVectorEnd = append(t.leafVectorEnd, 0)
	t.categoryListBegin = append(t.categoryListBegin, 0)
	t.categoryListEnd = append(t.categoryListEnd, 0)
	t.dataCount = append(t.dataCount, 0)
	t.dataCountPresent = append(t.dataCountPresent, false)
	t.sumHess = append(t.sumHess, 0)
	t.sumHessPresent = append(t.sumHessPresent, false)
	t.gain = append(t.gain, 0)
	t.gainPresent = append(t.gainPresent, false)
	return nid
}

// AddChilds allocates two children for node nid and wires them up.
func (t *Tree[T]) AddChilds(nid int) (left, right int) {
	left = t.AllocNode()
	right = t.AllocNode()
	t.cleft[nid] = int32(left)
	t.cright[nid] = int32(right)
	return left, right
}

// SetChildren records the left and right child IDs of node nid.
func (t *Tree[T]) SetChildren(nid, left, right int) {
	t.cleft[nid] = int32(left)
	t.cright[nid] = int32(right)
}

// SetNumericalTestNode turns node nid into a numerical test
// "feature[splitIndex] cmp threshold".
func (t *Tree[T]) SetNumericalTestNode(
	nid int, splitIndex int32, threshold T, defaultLeft bool, cmp Operator) error {
	if splitIndex < 0 || splitIndex >= maxSplitIndex {
		return NewError(ValidationError, "split index %d out of range", splitIndex)
	}
	t.splitIndex[nid] = splitIndex
	t.defaultLeft[nid] = defaultLeft
	t.threshold[nid] = threshold
	t.cmp[nid] = cmp
	t.nodeType[nid] = NumericalTestNode
	t.categoryListRightChild[nid] = false
	return nil
}

// SetCategoricalTestNode turns node nid into a categorical test. The category
// list is appended at the tail of the pool, then sorted and deduplicated in
// place. The caller must set up category lists in node-ID order: the call
// fails if any later node already has a non-empty category list extent.
func (t *Tree[T]) SetCategoricalTestNode(nid int, splitIndex int32, defaultLeft bool,
	categoryList []uint32, categoryListRightChild bool) error {
	if splitIndex < 0 || splitIndex >= maxSplitIndex {
		return NewError(ValidationError, "split index %d out of range", splitIndex)
	}
	for k := nid + 1; k < int(t.NumNodes); k++ {
		if t.categoryListEnd[k] != t.categoryListBegin[k] {
			return NewError(StructuralError,
				"category list for node %d must be set before later nodes", nid)
		}
	}
	begin := uint64(len(t.categoryList))
	t.categoryList = append(t.categoryList, categoryList...)
	extent := t.categoryList[begin:]
	sort.Slice(extent, func(i, j int) bool { return extent[i] < extent[j] })
	// Deduplicate the freshly appended extent.
	unique := extent[:0]
	for i, c := range extent {
		if i == 0 || c != unique[len(unique)-1] {
			unique = append(unique, c)
		}
	}
	t.categoryList = t.categoryList[:int(begin)+len(unique)]
	t.categoryListBegin[nid] = begin
	t.categoryListEnd[nid] = uint64(len(t.categoryList))

	t.splitIndex[nid] = splitIndex
	t.defaultLeft[nid] = defaultLeft
	t.nodeType[nid] = CategoricalTestNode
	t.categoryListRightChild[nid] = categoryListRightChild
	t.hasCategoricalSplit = true
	return nil
}

// SetLeafNode turns node nid into a leaf with a scalar output, clearing any
// children.
func (t *Tree[T]) SetLeafNode(nid int, value T) {
	t.leafValue[nid] = value
	t.cleft[nid] = -1
	t.cright[nid] = -1
	t.nodeType[nid] = LeafNode
}

// SetLeafVectorNode turns node nid into a leaf with a vector output. The
// values are appended to the leaf-vector pool.
func (t *Tree[T]) SetLeafVectorNode(nid int, values []T) {
	begin := uint64(len(t.leafVector))
	t.leafVector = append(t.leafVector, values...)
	t.leafVectorBegin[nid] = begin
	t.leafVectorEnd[nid] = uint64(len(t.leafVector))
	t.cleft[nid] = -1
	t.cright[nid] = -1
	t.nodeType[nid] = LeafNode
}

// SetDataCount records the number of training rows that passed through the
// node.
func (t *Tree[T]) SetDataCount(nid int, dataCount uint64) {
	t.dataCount[nid] = dataCount
	t.dataCountPresent[nid] = true
}

// SetSumHess records the sum of hessians over the training rows of the node.
func (t *Tree[T]) SetSumHess(nid int, sumHess float64) {
	t.sumHess[nid] = sumHess
	t.sumHessPresent[nid] = true
}

// SetGain records the loss reduction obtained by the node's split.
func (t *Tree[T]) SetGain(nid int, gain float64) {
	t.gain[nid] = gain
	t.gainPresent[nid] = true
}

// IsLeaf tests whether node nid is a leaf.
func (t *Tree[T]) IsLeaf(nid int) bool {
	return t.cleft[nid] == -1
}

// LeftChild returns the ID of the left child, or -1 for leaves.
func (t *Tree[T]) LeftChild(nid int) int {
	return int(t.cleft[nid])
}

// RightChild returns the ID of the right child, or -1 for leaves.
func (t *Tree[T]) RightChild(nid int) int {
	return int(t.cright[nid])
}

// DefaultChild returns the child taken when the split feature is missing.
func (t *Tree[T]) DefaultChild(nid int) int {
	if t.defaultLeft[nid] {
		return int(t.cleft[nid])
	}
	return int(t.cright[nid])
}

// SplitIndex returns the feature index tested at node nid.
func (t *Tree[T]) SplitIndex(nid int) int32 {
	return t.splitIndex[nid]
}

// DefaultLeft tests whether a missing feature value routes to the left child.
func (t *Tree[T]) DefaultLeft(nid int) bool {
	return t.defaultLeft[nid]
}

// NodeType returns the type of node nid.
func (t *Tree[T]) NodeType(nid int) TreeNodeType {
	return t.nodeType[nid]
}

// Threshold returns the threshold of a numerical test node.
func (t *Tree[T]) Threshold(nid int) T {
	return t.threshold[nid]
}

// ComparisonOp returns the comparison operator of a numerical test node.
func (t *Tree[T]) ComparisonOp(nid int) Operator {
	return t.cmp[nid]
}

// LeafValue returns the scalar output of a leaf node.
func (t *Tree[T]) LeafValue(nid int) T {
	return t.leafValue[nid]
}

// LeafVector returns the vector output of a leaf node. The returned slice
// aliases the pool; it is empty if the node has no leaf vector.
func (t *Tree[T]) LeafVector(nid int) []T {
	begin, end := t.leafVectorBegin[nid], t.leafVectorEnd[nid]
	if begin >= uint64(len(t.leafVector)) || end > uint64(len(t.leafVector)) {
		return nil
	}
	return t.leafVector[begin:end]
}

// HasLeafVector tests whether the leaf node has a non-empty leaf vector.
func (t *Tree[T]) HasLeafVector(nid int) bool {
	return t.leafVectorBegin[nid] != t.leafVectorEnd[nid]
}

// CategoryList returns the sorted category list of a categorical test node.
// The returned slice aliases the pool; it is empty for numerical tests.
func (t *Tree[T]) CategoryList(nid int) []uint32 {
	begin, end := t.categoryListBegin[nid], t.categoryListEnd[nid]
	if begin >= uint64(len(t.categoryList)) || end > uint64(len(t.categoryList)) {
		return nil
	}
	return t.categoryList[begin:end]
}

// CategoryListRightChild tests whether the category list of node nid
// describes the right child (true) or the left child (false).
func (t *Tree[T]) CategoryListRightChild(nid int) bool {
	return t.categoryListRightChild[nid]
}

// HasDataCount tests whether node nid carries a data count.
func (t *Tree[T]) HasDataCount(nid int) bool {
	return t.dataCountPresent[nid]
}

// DataCount returns the data count of node nid.
func (t *Tree[T]) DataCount(nid int) uint64 {
	return t.dataCount[nid]
}

// HasSumHess tests whether node nid carries a hessian sum.
func (t *Tree[T]) HasSumHess(nid int) bool {
	return t.sumHessPresent[nid]
}

// SumHess returns the hessian sum of node nid.
func (t *Tree[T]) SumHess(nid int) float64 {
	return t.sumHess[nid]
}

// HasGain tests whether node nid carries a gain value.
func (t *Tree[T]) HasGain(nid int) bool {
	return t.gainPresent[nid]
}

// Gain returns the gain value of node nid.
func (t *Tree[T]) Gain(nid int) float64 {
	return t.gain[nid]
}

// HasCategoricalSplit tests whether the tree contains any categorical test.
func (t *Tree[T]) HasCategoricalSplit() bool {
	return t.hasCategoricalSplit
}

// Clone returns a deep copy of the tree.
func (t *Tree[T]) Clone() Tree[T] {
	clone := Tree[T]{
		NumNodes:               t.NumNodes,
		nodeType:               append([]TreeNodeType(nil), t.nodeType...),
		cleft:                  append([]int32(nil), t.cleft...),
		cright:                 append([]int32(nil), t.cright...),
		splitIndex:             append([]int32(nil), t.splitIndex...),
		defaultLeft:            append([]bool(nil), t.defaultLeft...),
		leafValue:              append([]T(nil), t.leafValue...),
		threshold:              append([]T(nil), t.threshold...),
		cmp:                    append([]Operator(nil), t.cmp...),
		categoryListRightChild: append([]bool(nil), t.categoryListRightChild...),
		leafVector:             append([]T(nil), t.leafVector...),
		leafVectorBegin:        append([]uint64(nil), t.leafVectorBegin...),
		leafVectorEnd:          append([]uint64(nil), t.leafVectorEnd...),
		categoryList:           append([]uint32(nil), t.categoryList...),
		categoryListBegin:      append([]uint64(nil), t.categoryListBegin...),
		categoryListEnd:        append([]uint64(nil), t.categoryListEnd...),
		dataCount:              append([]uint64(nil), t.dataCount...),
		dataCountPresent:       append([]bool(nil), t.dataCountPresent...),
		sumHess:                append([]float64(nil), t.sumHess...),
		sumHessPresent:         append([]bool(nil), t.sumHessPresent...),
		gain:                   append([]float64(nil), t.gain...),
		gainPresent:            append([]bool(nil), t.gainPresent...),
		hasCategoricalSplit:    t.hasCategoricalSplit,
	}
	return clone
}

// Validate checks the structural invariants of the tree: child links in
// range, every node reachable from the root exactly once, monotonic pool
// extents, and category lists sorted.
func (t *Tree[T]) Validate() error {
	n := int(t.NumNodes)
	if n == 0 {
		return NewError(StructuralError, "tree has no nodes")
	}
	seen := make([]bool, n)
	stack := []int{0}
	visited := 0
	for len(stack) > 0 {
		nid := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[nid] {
			return NewError(StructuralError, "node %d has multiple parents", nid)
		}
		seen[nid] = true
		visited++
		if t.IsLeaf(nid) {
			if t.cright[nid] != -1 {
				return NewError(StructuralError, "leaf node %d has a right child", nid)
			}
			continue
		}
		left, right := int(t.cleft[nid]), int(t.cright[nid])
		if left < 0 || left >= n || right < 0 || right >= n {
			return NewError(StructuralError,
				"node %d has out-of-range children (%d, %d)", nid, left, right)
		}
		stack = append(stack, left, right)
	}
	if visited != n {
		return NewError(StructuralError,
			"%d of %d nodes are unreachable from the root", n-visited, n)
	}
	for nid := 0; nid < n; nid++ {
		if t.leafVectorEnd[nid] < t.leafVectorBegin[nid] ||
			t.leafVectorEnd[nid] > uint64(len(t.leafVector)) {
			return NewError(StructuralError, "node %d has a bad leaf vector extent", nid)
		}
		if t.categoryListEnd[nid] < t.categoryListBegin[nid] ||
			t.categoryListEnd[nid] > uint64(len(t.categoryList)) {
			return NewError(StructuralError, "node %d has a bad category list extent", nid)
		}
		list := t.CategoryList(nid)
		for i := 1; i < len(list); i++ {
			if list[i-1] >= list[i] {
				return NewError(StructuralError,
					"category list of node %d is not sorted and unique", nid)
			}
		}
	}
	return nil
}
