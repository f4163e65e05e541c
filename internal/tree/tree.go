// Package tree records the shape and outcome of a run as a hierarchy of
// nodes (batch, story, scenario, step) and rolls statuses up that hierarchy.
//
// Nodes live in an arena owned by a Tree and refer to each other by NodeID,
// so there are no parent/child pointer cycles and a finished tree can be
// snapshotted directly. A Tree belongs to a single story and is not
// synchronized; the Statistics it counts into are shared and lock-free.
package tree

import (
	"fmt"

	"github.com/roach88/verdict/internal/status"
)

// NodeID addresses a node within its Tree.
type NodeID int32

// NoNode is the parent of a root node.
const NoNode NodeID = -1

type node struct {
	level       Level
	title       string
	parent      NodeID
	children    []NodeID
	hasChildren bool

	// observed is the worst status reported for the node itself before
	// resolution.
	observed    status.Status
	hasObserved bool

	status   status.Status
	resolved bool
}

// Node is a read-only view of one node.
type Node struct {
	ID          NodeID
	Level       Level
	Title       string
	Parent      NodeID
	Children    []NodeID
	HasChildren bool
	Status      status.Status
	Resolved    bool
}

// Tree is an arena of nodes.
type Tree struct {
	nodes []node
	stats *Statistics
}

// New creates an empty tree. Resolved nodes are counted into stats when it
// is non-nil.
func New(stats *Statistics) *Tree {
	return &Tree{stats: stats}
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// AddRoot allocates a parentless node.
func (t *Tree) AddRoot(level Level, title string) NodeID {
	t.nodes = append(t.nodes, node{level: level, title: title, parent: NoNode})
	return NodeID(len(t.nodes) - 1)
}

// AddChild allocates a child of parent, appends it to parent's children and
// marks parent as having children. Panics if parent does not exist.
func (t *Tree) AddChild(parent NodeID, level Level, title string) NodeID {
	p := t.mustNode(parent)
	if p.resolved {
		panic(fmt.Sprintf("tree: add child to resolved node %d", parent))
	}
	t.nodes = append(t.nodes, node{level: level, title: title, parent: parent})
	id := NodeID(len(t.nodes) - 1)
	// re-fetch: append may have moved the arena
	p = &t.nodes[parent]
	p.children = append(p.children, id)
	p.hasChildren = true
	return id
}

// DeclareChildren marks id as expecting children before any has run.
// A node that declared children but ended without any resolves to Skipped.
func (t *Tree) DeclareChildren(id NodeID) {
	t.mustNode(id).hasChildren = true
}

// Observe degrades the node's own status to s if s is worse than what was
// observed so far. Panics if the node is already resolved.
func (t *Tree) Observe(id NodeID, s status.Status) {
	n := t.mustNode(id)
	if n.resolved {
		panic(fmt.Sprintf("tree: observe %s on resolved node %d", s, id))
	}
	if !n.hasObserved || s.Priority() < n.observed.Priority() {
		n.observed = s
		n.hasObserved = true
	}
}

// Resolve sets the node's terminal status to the aggregate of statuses and
// counts it. Steps with children only wrap other steps and are not counted.
// Resolve must be called exactly once per node; a second call panics.
func (t *Tree) Resolve(id NodeID, statuses ...status.Status) status.Status {
	n := t.mustNode(id)
	if n.resolved {
		panic(fmt.Sprintf("tree: node %d (%s %q) resolved twice", id, n.level, n.title))
	}
	n.status = status.Aggregate(statuses...)
	n.resolved = true
	if t.stats != nil && (n.level != LevelStep || len(n.children) == 0) {
		t.stats.Record(n.level, n.status)
	}
	return n.status
}

// Finish resolves id from what is known about it:
//   - Skipped if it declared children but none ran,
//   - otherwise its own observed status, or Passed if nothing was observed,
//   - degraded by the worst resolved child.
func (t *Tree) Finish(id NodeID) status.Status {
	n := t.mustNode(id)
	statuses := make([]status.Status, 0, len(n.children)+1)
	switch {
	case len(n.children) == 0 && n.hasChildren:
		statuses = append(statuses, status.Skipped)
	case n.hasObserved:
		statuses = append(statuses, n.observed)
	default:
		statuses = append(statuses, status.Passed)
	}
	for _, c := range n.children {
		if child := &t.nodes[c]; child.resolved {
			statuses = append(statuses, child.status)
		}
	}
	return t.Resolve(id, statuses...)
}

// Node returns a view of id. Panics if id does not exist.
func (t *Tree) Node(id NodeID) Node {
	n := t.mustNode(id)
	return Node{
		ID:          id,
		Level:       n.level,
		Title:       n.title,
		Parent:      n.parent,
		Children:    append([]NodeID(nil), n.children...),
		HasChildren: n.hasChildren,
		Status:      n.status,
		Resolved:    n.resolved,
	}
}

// Children returns the ids of id's children in insertion order.
func (t *Tree) Children(id NodeID) []NodeID {
	return append([]NodeID(nil), t.mustNode(id).children...)
}

func (t *Tree) mustNode(id NodeID) *node {
	if id < 0 || int(id) >= len(t.nodes) {
		panic(fmt.Sprintf("tree: invalid node %d (tree has %d nodes)", id, len(t.nodes)))
	}
	return &t.nodes[id]
}

// Snapshot is a serializable copy of a subtree.
type Snapshot struct {
	Level    Level      `json:"level" yaml:"level"`
	Title    string     `json:"title,omitempty" yaml:"title,omitempty"`
	Status   string     `json:"status,omitempty" yaml:"status,omitempty"`
	Children []Snapshot `json:"children,omitempty" yaml:"children,omitempty"`
}

// Snapshot copies the subtree rooted at id. Unresolved nodes have no status.
func (t *Tree) Snapshot(id NodeID) Snapshot {
	n := t.mustNode(id)
	s := Snapshot{Level: n.level, Title: n.title}
	if n.resolved {
		s.Status = n.status.String()
	}
	for _, c := range n.children {
		s.Children = append(s.Children, t.Snapshot(c))
	}
	return s
}
