// Package doctree holds the hierarchical document representation: an
// arena of nodes keyed by id, with all inter-node references expressed
// as ids rather than pointers.
package doctree

import (
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
)

// NodeID identifies a node within (and across) trees.
type NodeID = uuid.UUID

// Relationship is the kind of link recorded between nodes. Values are
// lists of NodeIDs even where cardinality is one, to keep a uniform
// storage shape.
type Relationship string

const (
	RelParent   Relationship = "parent"
	RelChild    Relationship = "child"
	RelPrevious Relationship = "previous"
	RelNext     Relationship = "next"
	RelRoot     Relationship = "root"
)

// NodeType tags the node variant.
type NodeType string

const (
	TypeRoot         NodeType = "root"
	TypeIntermediate NodeType = "intermediate"
	TypeLeaf         NodeType = "leaf"
)

var (
	ErrMissingParent  = errors.New("node has no parent relationship")
	ErrParentNotFound = errors.New("parent node not found in tree")
	ErrLeafNotFound   = errors.New("leaf node not found in tree")
)

// Metadata is carried by every node regardless of variant.
type Metadata struct {
	DocumentID string   `json:"document_id"`
	Hierarchy  []string `json:"hierarchy"`
	NodeType   NodeType `json:"node_type"`
	ChunkSize  int      `json:"chunk_size,omitempty"`
	FileName   string   `json:"file_name,omitempty"`

	ImageAlt  string `json:"image_alt,omitempty"`
	ImagePath string `json:"image_path,omitempty"`
	ImageID   string `json:"image_id,omitempty"`
}

// Node is one entry in the tree arena. Type selects the active variant:
// Title is meaningful only on intermediate nodes, Text and Embedding only
// on leaves. After creation a node is immutable except for an
// intermediate's title (set once when its heading closes) and a leaf's
// embedding (set once by the embedding step).
type Node struct {
	ID            NodeID                    `json:"id"`
	Type          NodeType                  `json:"type"`
	Title         string                    `json:"title,omitempty"`
	Text          string                    `json:"text,omitempty"`
	Embedding     []float32                 `json:"embedding,omitempty"`
	Relationships map[Relationship][]NodeID `json:"relationships"`
	Metadata      Metadata                  `json:"metadata"`
}

// NewRoot creates the single root node for a document.
func NewRoot(documentID, fileName string) *Node {
	id := uuid.New()
	return &Node{
		ID:   id,
		Type: TypeRoot,
		Relationships: map[Relationship][]NodeID{
			RelRoot: {id},
		},
		Metadata: Metadata{
			DocumentID: documentID,
			Hierarchy:  []string{"Root"},
			NodeType:   TypeRoot,
			FileName:   fileName,
		},
	}
}

// NewIntermediate creates a heading/section node under parent. hierarchy
// is the full path including this node's own title.
func NewIntermediate(parent NodeID, title string, hierarchy []string, documentID string) *Node {
	return &Node{
		ID:    uuid.New(),
		Type:  TypeIntermediate,
		Title: title,
		Relationships: map[Relationship][]NodeID{
			RelParent: {parent},
		},
		Metadata: Metadata{
			DocumentID: documentID,
			Hierarchy:  hierarchy,
			NodeType:   TypeIntermediate,
		},
	}
}

// LeafParams collects the inputs for a leaf node.
type LeafParams struct {
	Parent     NodeID
	Text       string
	ChunkIndex int
	Hierarchy  []string
	DocumentID string
	FileName   string

	ImageAlt  string
	ImagePath string
	ImageID   string

	// Segment overrides the synthetic final hierarchy segment, e.g.
	// "table_3" or "img_0" for non-prose leaves.
	Segment string
}

// NewLeaf creates a content leaf. Its hierarchy is the given path plus a
// final segment: chunk_<index>_<size> by default (size is the byte
// length of the text at creation time), or p.Segment when set.
func NewLeaf(p LeafParams) *Node {
	size := len(p.Text)
	segment := p.Segment
	if segment == "" {
		segment = fmt.Sprintf("chunk_%d_%d", p.ChunkIndex, size)
	}
	hier := make([]string, 0, len(p.Hierarchy)+1)
	hier = append(hier, p.Hierarchy...)
	hier = append(hier, segment)

	return &Node{
		ID:   uuid.New(),
		Type: TypeLeaf,
		Text: p.Text,
		Relationships: map[Relationship][]NodeID{
			RelParent: {p.Parent},
		},
		Metadata: Metadata{
			DocumentID: p.DocumentID,
			Hierarchy:  hier,
			NodeType:   TypeLeaf,
			ChunkSize:  size,
			FileName:   p.FileName,
			ImageAlt:   p.ImageAlt,
			ImagePath:  p.ImagePath,
			ImageID:    p.ImageID,
		},
	}
}

// ParentID returns the node's parent id, if any.
func (n *Node) ParentID() (NodeID, bool) {
	return n.firstRel(RelParent)
}

// PrevID returns the previous-sibling id, if any.
func (n *Node) PrevID() (NodeID, bool) {
	return n.firstRel(RelPrevious)
}

// NextID returns the next-sibling id, if any.
func (n *Node) NextID() (NodeID, bool) {
	return n.firstRel(RelNext)
}

// Children returns the insertion-ordered child id list.
func (n *Node) Children() []NodeID {
	return n.Relationships[RelChild]
}

// IsLeaf reports whether the node is a leaf variant.
func (n *Node) IsLeaf() bool {
	return n.Type == TypeLeaf
}

func (n *Node) firstRel(kind Relationship) (NodeID, bool) {
	ids := n.Relationships[kind]
	if len(ids) == 0 {
		return NodeID{}, false
	}
	return ids[0], true
}

func (n *Node) setNext(id NodeID) {
	n.Relationships[RelNext] = []NodeID{id}
}

func (n *Node) setPrevious(id NodeID) {
	n.Relationships[RelPrevious] = []NodeID{id}
}

// Tree owns all nodes of one document, keyed by id.
type Tree struct {
	Nodes map[NodeID]*Node `json:"nodes"`
	Root  NodeID           `json:"root"`
}

// New creates a tree containing only the given root node.
func New(root *Node) *Tree {
	return &Tree{
		Nodes: map[NodeID]*Node{root.ID: root},
		Root:  root.ID,
	}
}

// AddNode inserts a node that already carries a parent relationship to an
// existing tree member. It appends the node to the parent's child list and
// wires the previous/next chain between the new node and the former last
// child.
func (t *Tree) AddNode(n *Node) error {
	parentID, ok := n.ParentID()
	if !ok {
		return fmt.Errorf("add node %s: %w", n.ID, ErrMissingParent)
	}
	parent, ok := t.Nodes[parentID]
	if !ok {
		return fmt.Errorf("add node %s: %w: %s", n.ID, ErrParentNotFound, parentID)
	}

	siblings := parent.Relationships[RelChild]
	if last := len(siblings) - 1; last >= 0 {
		if prev, ok := t.Nodes[siblings[last]]; ok {
			prev.setNext(n.ID)
			n.setPrevious(prev.ID)
		}
	}
	parent.Relationships[RelChild] = append(siblings, n.ID)

	t.Nodes[n.ID] = n
	return nil
}

// LeafNodes yields every leaf currently in the tree. Iteration order
// follows the backing map and is not insertion order; callers needing
// document order must walk the previous/next chain.
func (t *Tree) LeafNodes() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for _, n := range t.Nodes {
			if n.IsLeaf() && !yield(n) {
				return
			}
		}
	}
}

// Ancestors walks parent links from the given node to the root and
// returns the path in root-to-node order. If an id lookup breaks the
// chain the walk stops and the prefix found so far is returned.
func (t *Tree) Ancestors(id NodeID) []*Node {
	var path []*Node
	for {
		n, ok := t.Nodes[id]
		if !ok {
			break
		}
		path = append(path, n)
		parent, ok := n.ParentID()
		if !ok {
			break
		}
		id = parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// SetLeafEmbedding stores the vector on the identified leaf. Overwriting
// an existing vector is allowed.
func (t *Tree) SetLeafEmbedding(id NodeID, embedding []float32) error {
	n, ok := t.Nodes[id]
	if !ok || !n.IsLeaf() {
		return fmt.Errorf("set embedding on %s: %w", id, ErrLeafNotFound)
	}
	n.Embedding = embedding
	return nil
}
