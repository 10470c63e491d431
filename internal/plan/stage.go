package plan

import (
	"github.com/go-sif/sluice/internal/graph"
)

// Stage is a group of fused nodes which run together as one job.
// A Stage starts at a Source, GroupByKey or Union node and blocks
// the execution of dependent stages until it is complete.
type Stage struct {
	ID   int
	Name string
	// Input is the node whose elements feed this Stage
	Input graph.NodeID
	// Nodes lists every node executed by this Stage, Input first, parents before children
	Nodes []graph.NodeID
	// Deps lists the stages which must succeed before this one may start
	Deps []int
	// Shuffles lists the GroupByKey nodes fed by this Stage
	Shuffles []graph.NodeID
	// Materializes lists the Union nodes fed by this Stage
	Materializes []graph.NodeID
	// Writes holds indices into Plan.Writes of the writes performed by this Stage
	Writes []int
}

// createStage is a factory for Stages rooted at input
func createStage(input *graph.Node) *Stage {
	return &Stage{
		ID:           -1,
		Name:         input.Name,
		Input:        input.ID,
		Nodes:        []graph.NodeID{},
		Deps:         []int{},
		Shuffles:     []graph.NodeID{},
		Materializes: []graph.NodeID{},
		Writes:       []int{},
	}
}

// isBoundary reports whether a node of the given kind starts a new Stage
func isBoundary(k graph.Kind) bool {
	return k == graph.Source || k == graph.GroupByKey || k == graph.Union
}

func appendUnique(ids []graph.NodeID, id graph.NodeID) []graph.NodeID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func appendUniqueInt(ids []int, id int) []int {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
