package plan

import (
	"fmt"
	"sort"
	"strings"

	serrors "github.com/go-sif/sluice/errors"
	"github.com/go-sif/sluice/internal/graph"
)

// Options tune the planner
type Options struct {
	// LiftCombiners runs a GroupByKey's sole Combine consumer before the shuffle as well as after it
	LiftCombiners bool
}

// Plan is an execution plan for a set of pending writes
type Plan struct {
	// Stages in dependency order. Stages[i].ID == i.
	Stages []*Stage
	Writes []graph.Write
	// StageOf maps every reachable node to the Stage which executes it
	StageOf map[graph.NodeID]int
	// Consumers lists the reachable children of every reachable node. A Union
	// with the same parent twice appears twice.
	Consumers map[graph.NodeID][]graph.NodeID
	// Lifted maps a GroupByKey to the Combine node which may also run before its shuffle
	Lifted map[graph.NodeID]graph.NodeID
}

// Size returns the number of stages in this Plan
func (p *Plan) Size() int {
	return len(p.Stages)
}

// String renders the stages of this Plan, one per line
func (p *Plan) String() string {
	var res strings.Builder
	for _, s := range p.Stages {
		fmt.Fprintf(&res, "stage %d: %s nodes=%v deps=%v shuffles=%v materializes=%v writes=%d\n",
			s.ID, s.Name, s.Nodes, s.Deps, s.Shuffles, s.Materializes, len(s.Writes))
	}
	return res.String()
}

// New walks back from every write to its sources, validates the reachable subgraph and
// partitions it into fused stages
func New(g *graph.Graph, writes []graph.Write, opts Options) (*Plan, error) {
	reachable := make(map[graph.NodeID]bool)
	for _, w := range writes {
		if err := collect(g, w, reachable); err != nil {
			return nil, err
		}
	}
	ids := make([]graph.NodeID, 0, len(reachable))
	for id := range reachable {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := validateNode(g, g.Node(id)); err != nil {
			return nil, err
		}
	}
	for _, w := range writes {
		n := g.Node(w.Node)
		if w.Type == nil {
			return nil, &serrors.MissingTypeError{Node: w.Target}
		}
		if w.Type.Name() != n.Type.Name() {
			return nil, &serrors.IncompatibleTypeError{Producer: n.Name, Consumer: w.Target, Have: n.Type.Name(), Want: w.Type.Name()}
		}
	}

	p := &Plan{
		Writes:    writes,
		StageOf:   make(map[graph.NodeID]int),
		Consumers: make(map[graph.NodeID][]graph.NodeID),
		Lifted:    make(map[graph.NodeID]graph.NodeID),
	}
	for _, id := range ids {
		for _, parent := range g.Node(id).Parents {
			p.Consumers[parent] = append(p.Consumers[parent], id)
		}
	}

	// Each boundary node roots a stage holding every fused descendant reachable
	// through ParDo and Combine edges. Children are visited in id order.
	stages := make(map[graph.NodeID]*Stage)
	roots := []graph.NodeID{}
	for _, id := range ids {
		n := g.Node(id)
		if !isBoundary(n.Kind) {
			continue
		}
		s := createStage(n)
		queue := []graph.NodeID{id}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			s.Nodes = append(s.Nodes, cur)
			for _, child := range p.Consumers[cur] {
				switch g.Node(child).Kind {
				case graph.GroupByKey:
					s.Shuffles = appendUnique(s.Shuffles, child)
				case graph.Union:
					s.Materializes = appendUnique(s.Materializes, child)
				default:
					queue = append(queue, child)
				}
			}
		}
		stages[id] = s
		roots = append(roots, id)
	}

	order, err := sortStages(g, stages, roots)
	if err != nil {
		return nil, err
	}
	for i, root := range order {
		s := stages[root]
		s.ID = i
		for _, id := range s.Nodes {
			p.StageOf[id] = i
		}
		p.Stages = append(p.Stages, s)
	}
	for _, s := range p.Stages {
		for _, parent := range g.Node(s.Input).Parents {
			s.Deps = appendUniqueInt(s.Deps, p.StageOf[parent])
		}
		sort.Ints(s.Deps)
	}
	written := make(map[graph.NodeID]bool)
	for i, w := range writes {
		s := p.Stages[p.StageOf[w.Node]]
		s.Writes = append(s.Writes, i)
		written[w.Node] = true
	}

	if opts.LiftCombiners {
		for _, id := range ids {
			if g.Node(id).Kind != graph.GroupByKey || written[id] {
				continue
			}
			consumers := p.Consumers[id]
			if len(consumers) == 1 && g.Node(consumers[0]).Kind == graph.Combine {
				p.Lifted[id] = consumers[0]
			}
		}
	}
	return p, nil
}

const (
	white = iota
	grey
	black
)

// collect adds every ancestor of w's node to reachable, failing on cycles,
// dangling parents and roots which are not sources
func collect(g *graph.Graph, w graph.Write, reachable map[graph.NodeID]bool) error {
	colour := make(map[graph.NodeID]int)
	var path []string
	var visit func(id graph.NodeID) error
	visit = func(id graph.NodeID) error {
		n := g.Node(id)
		if n == nil {
			return &serrors.UnsatisfiableWriteError{Target: w.Target, Node: fmt.Sprintf("#%d", id)}
		}
		switch colour[id] {
		case grey:
			cycle := append([]string{}, path...)
			return &serrors.CycleError{Path: append(cycle, n.Name)}
		case black:
			return nil
		}
		colour[id] = grey
		path = append(path, n.Name)
		if len(n.Parents) == 0 && n.Kind != graph.Source {
			return &serrors.UnsatisfiableWriteError{Target: w.Target, Node: n.Name}
		}
		for _, parent := range n.Parents {
			if err := visit(parent); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		colour[id] = black
		reachable[id] = true
		return nil
	}
	return visit(w.Node)
}

// validateNode checks a node's payload and parent count against its kind, and
// the type of every edge leading into it
func validateNode(g *graph.Graph, n *graph.Node) error {
	if n.Type == nil {
		return &serrors.MissingTypeError{Node: n.Name}
	}
	var missing string
	switch n.Kind {
	case graph.Source:
		if len(n.Parents) != 0 {
			return &serrors.MalformedNodeError{Node: n.Name, Reason: "a source has no parents"}
		}
		if n.Source == nil {
			missing = "reader"
		}
	case graph.ParDo:
		if n.DoFn == nil {
			missing = "DoFn"
		}
	case graph.GroupByKey:
		if n.Group == nil {
			missing = "grouping"
		}
	case graph.Combine:
		if n.Combine == nil {
			missing = "combiner"
		}
	case graph.Union:
	default:
		return &serrors.MalformedNodeError{Node: n.Name, Reason: fmt.Sprintf("unknown kind %s", n.Kind)}
	}
	if missing != "" {
		return &serrors.MalformedNodeError{Node: n.Name, Reason: fmt.Sprintf("%s node has no %s", n.Kind, missing)}
	}
	if n.Kind != graph.Source && n.Kind != graph.Union && len(n.Parents) != 1 {
		return &serrors.MalformedNodeError{Node: n.Name, Reason: fmt.Sprintf("%s node needs exactly one parent, has %d", n.Kind, len(n.Parents))}
	}
	want := n.InType
	if n.Kind == graph.Union {
		want = n.Type
	}
	for _, id := range n.Parents {
		parent := g.Node(id)
		if want == nil {
			return &serrors.MissingTypeError{Node: n.Name}
		}
		if parent.Type.Name() != want.Name() {
			return &serrors.IncompatibleTypeError{Producer: parent.Name, Consumer: n.Name, Have: parent.Type.Name(), Want: want.Name()}
		}
	}
	return nil
}

// sortStages orders stage roots so that every stage follows the stages it depends on,
// breaking ties by root id
func sortStages(g *graph.Graph, stages map[graph.NodeID]*Stage, roots []graph.NodeID) ([]graph.NodeID, error) {
	owner := make(map[graph.NodeID]graph.NodeID)
	for root, s := range stages {
		for _, id := range s.Nodes {
			owner[id] = root
		}
	}
	indegree := make(map[graph.NodeID]int)
	dependents := make(map[graph.NodeID][]graph.NodeID)
	for _, root := range roots {
		seen := make(map[graph.NodeID]bool)
		for _, parent := range g.Node(root).Parents {
			dep := owner[parent]
			if seen[dep] {
				continue
			}
			seen[dep] = true
			indegree[root]++
			dependents[dep] = append(dependents[dep], root)
		}
	}
	ready := []graph.NodeID{}
	for _, root := range roots {
		if indegree[root] == 0 {
			ready = append(ready, root)
		}
	}
	order := make([]graph.NodeID, 0, len(roots))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, d := range dependents[next] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	if len(order) != len(roots) {
		return nil, &serrors.CycleError{Path: []string{"stage dependencies"}}
	}
	return order, nil
}
