// Package graph implements bounded traversal over the claim graph.
// Every traversal is depth- and node-limited; there is no unbounded walk.
package graph

import (
	"time"

	"github.com/phiacta/phiacta/store"
)

// Options bounds and filters a traversal. Zero-valued fields fall back to
// configured defaults, except MaxDepth: a traversal explicitly asked for
// depth 0 returns the start node alone, so callers use DepthUnset for
// "give me the default".
type Options struct {
	MaxDepth  int
	MaxNodes  int
	Direction string   // store.DirectionOutgoing, DirectionIncoming or DirectionBoth
	EdgeTypes []string // empty means all registered types
}

// DepthUnset requests the configured default depth.
const DepthUnset = -1

// Node is a claim reached by traversal, annotated with the minimum depth
// at which it was found.
type Node struct {
	Claim *store.Claim `json:"claim"`
	Depth int          `json:"depth"`
}

// Link is an edge between two nodes in the result set.
type Link struct {
	Edge *store.Edge `json:"edge"`
}

// Stats summarizes a traversal.
type Stats struct {
	TotalNodes int `json:"total_nodes"`
	TotalEdges int `json:"total_edges"`
	MaxDepth   int `json:"max_depth"`
}

// Result is a traversal outcome. Truncated reports that the node budget
// stopped expansion before the frontier was exhausted, so absence of a
// node is not evidence of absence of a path.
type Result struct {
	Start       string    `json:"start"`
	Nodes       []Node    `json:"nodes"`
	Links       []Link    `json:"links"`
	Truncated   bool      `json:"truncated"`
	Stats       Stats     `json:"stats"`
	GeneratedAt time.Time `json:"generated_at"`
}
