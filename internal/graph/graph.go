package graph

import (
	"context"
	"fmt"
)

// NodeID is the arena index of a Node
type NodeID int

// Kind tags the variant of a Node
type Kind int

const (
	// Source reads elements from external storage
	Source Kind = iota
	// ParDo applies a DoFn to every element of its parent
	ParDo
	// GroupByKey repartitions its parent's KV elements so all values of a key meet in one task
	GroupByKey
	// Combine folds the grouped values of each key with an associative, commutative function
	Combine
	// Union concatenates the elements of all of its parents
	Union
)

// String returns a textual representation of this Kind
func (k Kind) String() string {
	switch k {
	case Source:
		return "Source"
	case ParDo:
		return "ParDo"
	case GroupByKey:
		return "GroupByKey"
	case Combine:
		return "Combine"
	case Union:
		return "Union"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Coder is a type-erased element type descriptor
type Coder interface {
	Name() string
	EncodeAny(v any) ([]byte, error)
	DecodeAny(data []byte) (any, error)
}

// Split describes one independently readable portion of a source
type Split interface {
	String() string
}

// Reader is the type-erased payload of a Source node
type Reader interface {
	Splits(ctx context.Context) ([]Split, error)
	Read(ctx context.Context, split Split, emit func(any) error) error
}

// Processor is a DoFn instance private to one task attempt
type Processor interface {
	Process(elem any) error
	Finish() error
}

// DoFnFactory is the type-erased payload of a ParDo node
type DoFnFactory interface {
	// NewInstance returns a fresh Processor whose output is passed to emit
	NewInstance(ctx context.Context, emit func(any) error) (Processor, error)
}

// GroupPayload describes how a GroupByKey node splits and rebuilds its elements
type GroupPayload struct {
	Key   Coder
	Value Coder
	// Split breaks a KV element into its key and value
	Split func(elem any) (key any, value any)
	// Join builds a grouped element from a key and all of its values
	Join func(key any, values []any) any
}

// CombinePayload describes a Combine node
type CombinePayload struct {
	// Combine merges two values (or partial results) of one key
	Combine func(a, b any) (any, error)
	// Fold reduces a grouped element to a single KV element
	Fold func(grouped any) (any, error)
}

// TaskInfo identifies the task attempt a Writer belongs to
type TaskInfo struct {
	RunID   string
	Stage   int
	Task    int
	Attempt int
}

// Writer is the type-erased form of a target writer
type Writer interface {
	Write(ctx context.Context, elem any) error
	Close(ctx context.Context) error
	Abort(ctx context.Context) error
}

// Sink is the type-erased form of a target
type Sink interface {
	NewWriter(ctx context.Context, info TaskInfo) (Writer, error)
}

// Write is a pending request to store a node's elements in a target
type Write struct {
	Node   NodeID
	Target string
	Type   Coder
	Sink   Sink
}

// Node is a vertex of the pipeline graph. Exactly one payload is set, matching Kind.
type Node struct {
	ID      NodeID
	Kind    Kind
	Name    string
	Parents []NodeID
	// Type describes the elements this node produces
	Type Coder
	// InType describes the elements this node expects from its parents
	InType Coder

	Source  Reader
	DoFn    DoFnFactory
	Group   *GroupPayload
	Combine *CombinePayload
}

// String returns a textual representation of this Node
func (n *Node) String() string {
	return fmt.Sprintf("%s#%d(%s)", n.Kind, n.ID, n.Name)
}

// Graph is an append-only arena of Nodes
type Graph struct {
	nodes []*Node
}

// New creates an empty Graph
func New() *Graph {
	return &Graph{}
}

// Add appends n to the arena, assigning and returning its ID
func (g *Graph) Add(n *Node) NodeID {
	n.ID = NodeID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	return n.ID
}

// Node returns the Node with the given ID, or nil if there is none
func (g *Graph) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// Len returns the number of nodes in the arena
func (g *Graph) Len() int {
	return len(g.nodes)
}
