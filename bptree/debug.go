package bptree

import (
	"fmt"
	"io"

	"bptreekv/diskmgr"
)

// ToString writes a breadth-first textual dump of the tree to w, one level
// per section, for manual inspection during debugging.
func (idx *Index) ToString(w io.Writer) error {
	if idx.IsEmpty() {
		fmt.Fprintln(w, "<empty tree>")
		return nil
	}

	level := []diskmgr.PageID{idx.rootPageID}
	depth := 0
	for len(level) > 0 {
		fmt.Fprintf(w, "--- depth %d ---\n", depth)
		var next []diskmgr.PageID
		for _, id := range level {
			page, err := idx.pool.FetchPage(id)
			if err != nil {
				return err
			}
			page.RLock()
			pt := readPageType(page.Data())
			switch pt {
			case PageTypeLeaf:
				leaf, err := DecodeLeafPage(page.Data())
				page.RUnlock()
				if err != nil {
					idx.pool.UnpinPage(id, false)
					return err
				}
				fmt.Fprintf(w, "leaf page=%d parent=%d next=%d size=%d keys=", leaf.PageID(), leaf.ParentPageID(), leaf.NextPageID(), leaf.Size())
				for i := 0; i < int(leaf.Size()); i++ {
					fmt.Fprintf(w, "%s ", leaf.KeyAt(i))
				}
				fmt.Fprintln(w)
			case PageTypeInternal:
				node, err := DecodeInternalPage(page.Data())
				page.RUnlock()
				if err != nil {
					idx.pool.UnpinPage(id, false)
					return err
				}
				fmt.Fprintf(w, "internal page=%d parent=%d size=%d children=", node.PageID(), node.ParentPageID(), node.Size())
				for i := 0; i < int(node.Size()); i++ {
					fmt.Fprintf(w, "%d ", node.ValueAt(i))
					next = append(next, node.ValueAt(i))
				}
				fmt.Fprintln(w)
			default:
				page.RUnlock()
			}
			idx.pool.UnpinPage(id, false)
		}
		level = next
		depth++
	}
	return nil
}

// ToGraph writes a Graphviz DOT rendering of the tree to w: one record node
// per page and an unlabeled edge to each child, plus dashed edges along the
// leaf chain.
func (idx *Index) ToGraph(w io.Writer) error {
	fmt.Fprintln(w, "digraph g {")
	fmt.Fprintln(w, "  node [shape=record];")

	if idx.IsEmpty() {
		fmt.Fprintln(w, "}")
		return nil
	}

	visited := make(map[diskmgr.PageID]bool)
	queue := []diskmgr.PageID{idx.rootPageID}
	var leafChain []diskmgr.PageID

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		page, err := idx.pool.FetchPage(id)
		if err != nil {
			return err
		}
		page.RLock()
		pt := readPageType(page.Data())
		switch pt {
		case PageTypeLeaf:
			leaf, err := DecodeLeafPage(page.Data())
			page.RUnlock()
			if err != nil {
				idx.pool.UnpinPage(id, false)
				return err
			}
			fmt.Fprintf(w, "  p%d [label=\"leaf %d |", id, id)
			for i := 0; i < int(leaf.Size()); i++ {
				fmt.Fprintf(w, " %s |", leaf.KeyAt(i))
			}
			fmt.Fprintln(w, "\"];")
			leafChain = append(leafChain, id)
		case PageTypeInternal:
			node, err := DecodeInternalPage(page.Data())
			page.RUnlock()
			if err != nil {
				idx.pool.UnpinPage(id, false)
				return err
			}
			fmt.Fprintf(w, "  p%d [label=\"internal %d |", id, id)
			for i := 1; i < int(node.Size()); i++ {
				fmt.Fprintf(w, " %s |", node.KeyAt(i))
			}
			fmt.Fprintln(w, "\"];")
			for i := 0; i < int(node.Size()); i++ {
				child := node.ValueAt(i)
				fmt.Fprintf(w, "  p%d -> p%d;\n", id, child)
				queue = append(queue, child)
			}
		default:
			page.RUnlock()
		}
		idx.pool.UnpinPage(id, false)
	}

	for i := 0; i+1 < len(leafChain); i++ {
		fmt.Fprintf(w, "  p%d -> p%d [style=dashed];\n", leafChain[i], leafChain[i+1])
	}

	fmt.Fprintln(w, "}")
	return nil
}
