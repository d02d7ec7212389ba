// Package tree implements path-addressed mutation of name/children trees.
// The same primitives serve the local file tree and the remote metadata tree.
package tree

import (
	"vaultsync/internal/logger"
	"vaultsync/internal/pathutil"

	"go.uber.org/zap"
)

// Node is the minimal shape the primitives need. N is the pointer type
// implementing it, so the zero value of N is the absent node.
type Node[N any] interface {
	comparable
	NodeName() string
	SetNodeName(name string)
	IsDir() bool
	NodeChildren() []N
	SetNodeChildren(children []N)
	// Upsert overwrites the receiver's mutable fields with those of src.
	Upsert(src N)
	// Placeholder returns a new intermediate directory called name.
	Placeholder(name string) N
}

func child[N Node[N]](parent N, name string) (N, int) {
	for i, c := range parent.NodeChildren() {
		if c.NodeName() == name {
			return c, i
		}
	}
	var zero N
	return zero, -1
}

// Insert places node at path below root, creating intermediate directories.
// An existing node with the same name is updated in place.
func Insert[N Node[N]](root N, path string, node N) bool {
	var zero N
	if root == zero || node == zero {
		return false
	}

	parts := pathutil.Split(path)
	cur := root
	for i := 0; i < len(parts)-1; i++ {
		next, _ := child(cur, parts[i])
		if next == zero {
			next = cur.Placeholder(parts[i])
			cur.SetNodeChildren(append(cur.NodeChildren(), next))
		} else if !next.IsDir() {
			logger.Log.Warn("path segment is not a directory",
				zap.String("path", path),
				zap.String("segment", parts[i]))
			return false
		}
		cur = next
	}

	if !cur.IsDir() {
		return false
	}

	if existing, _ := child(cur, node.NodeName()); existing != zero {
		existing.Upsert(node)
		return true
	}

	cur.SetNodeChildren(append(cur.NodeChildren(), node))
	return true
}

// Remove detaches and returns the node at path, or the zero value.
func Remove[N Node[N]](root N, path string) N {
	var zero N
	parts := pathutil.Split(path)
	if root == zero || len(parts) == 0 {
		return zero
	}

	parent := Find(root, pathutil.Join(parts[:len(parts)-1]...))
	if parent == zero || !parent.IsDir() {
		return zero
	}

	found, i := child(parent, parts[len(parts)-1])
	if found == zero {
		return zero
	}

	kids := parent.NodeChildren()
	parent.SetNodeChildren(append(kids[:i:i], kids[i+1:]...))
	return found
}

// Find returns the node at path. The empty path is root itself.
func Find[N Node[N]](root N, path string) N {
	var zero N
	cur := root
	for _, part := range pathutil.Split(path) {
		if cur == zero || !cur.IsDir() {
			return zero
		}
		cur, _ = child(cur, part)
	}
	return cur
}

// Rename moves the node at from to to. A failed insert leaves the node
// detached; callers must check the result.
func Rename[N Node[N]](root N, from, to string) bool {
	if pathutil.Join(from) == pathutil.Join(to) {
		return true
	}

	var zero N
	node := Remove(root, from)
	if node == zero {
		return false
	}

	node.SetNodeName(pathutil.Basename(to, ""))
	return Insert(root, to, node)
}

// Walk visits every node below root depth-first, parents before children.
// Returning false from fn skips the node's subtree.
func Walk[N Node[N]](root N, path string, fn func(path string, n N) bool) {
	var zero N
	if root == zero {
		return
	}
	for _, c := range root.NodeChildren() {
		p := pathutil.Join(path, c.NodeName())
		if fn(p, c) && c.IsDir() {
			Walk(c, p, fn)
		}
	}
}

// Empty reports whether n is a directory with no file anywhere below it.
func Empty[N Node[N]](n N) bool {
	var zero N
	if n == zero || !n.IsDir() {
		return false
	}
	for _, c := range n.NodeChildren() {
		if !Empty(c) {
			return false
		}
	}
	return true
}
