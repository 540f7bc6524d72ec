package ufscore

import (
	"github.com/unionfs/ufs/internal/ufsimg"
	"golang.org/x/xerrors"
)

// dirIndex implements spec.md §4.5: a per-directory ordered set of file
// ids stored as a binary search tree of fixed-size nodes drawn from the
// shared node arena. It need not be balanced (per spec.md §4.5 and §9) —
// per-directory fanout is assumed small.
//
// Node slots [0, numAreas) are reserved one-to-one with area ids and serve
// as each directory's permanent root (see DESIGN.md for why
// this also doubles as the area/directory discriminator). Slots
// [numAreas, numNodes) are the general pool handed out for the rest of the
// tree. This implementation always stores at most one key per node — the
// on-disk format reserves room for two (NodeRecord.Key1), but nothing
// requires packing it, and a single-key node keeps insert/delete to a
// textbook recursive BST.
type dirIndex struct {
	img *ufsimg.Image
}

func newDirIndex(img *ufsimg.Image) *dirIndex {
	return &dirIndex{img: img}
}

func (d *dirIndex) poolStart() uint64 { return d.img.AreaCapacity() }

func (d *dirIndex) allocNode() (uint64, bool) {
	for i := d.poolStart(); i < d.img.NodeCapacity(); i++ {
		if d.img.ReadNode(i).InUse == 0 {
			return i, true
		}
	}
	return 0, false
}

func (d *dirIndex) freeNode(idx uint64) {
	d.img.WriteNode(idx, ufsimg.NodeRecord{})
}

// Insert adds fileID under the directory whose reserved root slot is
// rootSlot. Returns OutOfMemory if the node pool is exhausted.
func (d *dirIndex) Insert(rootSlot uint64, fileID Id) error {
	root := d.img.ReadNode(rootSlot)
	if root.NumKeys == 0 {
		root.NumKeys = 1
		root.Key0 = int64(fileID)
		root.Left, root.Right = -1, -1
		d.img.WriteNode(rootSlot, root)
		return nil
	}
	cur := rootSlot
	for {
		node := d.img.ReadNode(cur)
		if int64(fileID) == node.Key0 {
			return nil // already present; AddFile's own name-uniqueness check prevents this in practice
		}
		if int64(fileID) < node.Key0 {
			if node.Left == -1 {
				idx, ok := d.allocNode()
				if !ok {
					return newErr(OutOfMemory, xerrors.New("directory index node arena exhausted"))
				}
				d.img.WriteNode(idx, ufsimg.NodeRecord{InUse: 1, NumKeys: 1, Key0: int64(fileID), Left: -1, Right: -1})
				node.Left = int64(idx)
				d.img.WriteNode(cur, node)
				return nil
			}
			cur = uint64(node.Left)
			continue
		}
		if node.Right == -1 {
			idx, ok := d.allocNode()
			if !ok {
				return newErr(OutOfMemory, xerrors.New("directory index node arena exhausted"))
			}
			d.img.WriteNode(idx, ufsimg.NodeRecord{InUse: 1, NumKeys: 1, Key0: int64(fileID), Left: -1, Right: -1})
			node.Right = int64(idx)
			d.img.WriteNode(cur, node)
			return nil
		}
		cur = uint64(node.Right)
	}
}

// Remove deletes fileID from the directory whose reserved root slot is
// rootSlot, if present. It is a no-op if absent.
func (d *dirIndex) Remove(rootSlot uint64, fileID Id) {
	root := d.img.ReadNode(rootSlot)
	if root.NumKeys == 0 {
		return
	}
	if root.Key0 != int64(fileID) {
		if int64(fileID) < root.Key0 {
			newLeft, _ := d.removeFromSubtree(root.Left, fileID)
			root.Left = newLeft
		} else {
			newRight, _ := d.removeFromSubtree(root.Right, fileID)
			root.Right = newRight
		}
		d.img.WriteNode(rootSlot, root)
		return
	}
	// Deleting the root's own key: the root slot itself can never be
	// freed (it is the directory's permanent discriminator), so its
	// content must be replaced in place rather than unlinked.
	switch {
	case root.Left == -1 && root.Right == -1:
		root.NumKeys = 0
		root.Key0 = 0
	case root.Left != -1 && root.Right == -1:
		child := d.img.ReadNode(uint64(root.Left))
		oldLeft := uint64(root.Left)
		root.Key0, root.Left, root.Right = child.Key0, child.Left, child.Right
		d.freeNode(oldLeft)
	case root.Left == -1 && root.Right != -1:
		child := d.img.ReadNode(uint64(root.Right))
		oldRight := uint64(root.Right)
		root.Key0, root.Left, root.Right = child.Key0, child.Left, child.Right
		d.freeNode(oldRight)
	default:
		succKey, newRight := d.removeMin(uint64(root.Right))
		root.Key0 = succKey
		root.Right = newRight
	}
	d.img.WriteNode(rootSlot, root)
}

// removeFromSubtree recursively removes key from the subtree rooted at
// nodeIdx (nodeIdx == -1 denotes an empty subtree) and returns the
// subtree's possibly-new root index. Unlike the reserved per-directory
// root, every node here is free to be deallocated.
func (d *dirIndex) removeFromSubtree(nodeIdx int64, key Id) (int64, bool) {
	if nodeIdx == -1 {
		return -1, false
	}
	idx := uint64(nodeIdx)
	node := d.img.ReadNode(idx)
	switch {
	case int64(key) < node.Key0:
		newLeft, ok := d.removeFromSubtree(node.Left, key)
		node.Left = newLeft
		d.img.WriteNode(idx, node)
		return nodeIdx, ok
	case int64(key) > node.Key0:
		newRight, ok := d.removeFromSubtree(node.Right, key)
		node.Right = newRight
		d.img.WriteNode(idx, node)
		return nodeIdx, ok
	default:
		switch {
		case node.Left == -1 && node.Right == -1:
			d.freeNode(idx)
			return -1, true
		case node.Left != -1 && node.Right == -1:
			d.freeNode(idx)
			return node.Left, true
		case node.Left == -1 && node.Right != -1:
			d.freeNode(idx)
			return node.Right, true
		default:
			succKey, newRight := d.removeMin(uint64(node.Right))
			node.Key0 = succKey
			node.Right = newRight
			d.img.WriteNode(idx, node)
			return nodeIdx, true
		}
	}
}

// removeMin removes and returns the smallest key in the subtree rooted at
// nodeIdx, along with the subtree's new root index.
func (d *dirIndex) removeMin(nodeIdx uint64) (Id, int64) {
	node := d.img.ReadNode(nodeIdx)
	if node.Left == -1 {
		d.freeNode(nodeIdx)
		return Id(node.Key0), node.Right
	}
	minKey, newLeft := d.removeMin(uint64(node.Left))
	node.Left = newLeft
	d.img.WriteNode(nodeIdx, node)
	return minKey, int64(nodeIdx)
}

// Iterate returns every file id in the directory whose reserved root slot
// is rootSlot, via an in-order walk (spec.md §4.5).
func (d *dirIndex) Iterate(rootSlot uint64) []Id {
	root := d.img.ReadNode(rootSlot)
	var out []Id
	if root.NumKeys == 0 {
		return out
	}
	d.walk(root.Left, &out)
	out = append(out, Id(root.Key0))
	d.walk(root.Right, &out)
	return out
}

func (d *dirIndex) walk(nodeIdx int64, out *[]Id) {
	if nodeIdx == -1 {
		return
	}
	node := d.img.ReadNode(uint64(nodeIdx))
	d.walk(node.Left, out)
	*out = append(*out, Id(node.Key0))
	d.walk(node.Right, out)
}
