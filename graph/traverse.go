package graph

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/phiacta/phiacta/config"
	"github.com/phiacta/phiacta/errors"
	"github.com/phiacta/phiacta/store"
)

// Store is the slice of the entity store that traversal needs.
type Store interface {
	GetClaim(ctx context.Context, id string) (*store.Claim, error)
	EdgesFor(ctx context.Context, claimID, direction string, typeFilter []string) ([]*store.Edge, error)
	EdgeTypeMap(ctx context.Context) (map[string]*store.EdgeType, error)
}

// Traverser walks the claim graph breadth-first within configured bounds.
type Traverser struct {
	store  Store
	cfg    config.TraversalConfig
	logger *zap.SugaredLogger
}

// NewTraverser creates a traverser with the given bounds.
func NewTraverser(s Store, cfg config.TraversalConfig, logger *zap.SugaredLogger) *Traverser {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Traverser{store: s, cfg: cfg, logger: logger}
}

type frontierEntry struct {
	claimID string
	depth   int
	// path holds every claim id on the branch leading here. The cycle
	// guard is per-branch, not global, so a node reachable over two
	// distinct paths is still reached by both.
	path map[string]struct{}
}

// Traverse walks the graph breadth-first from startID. Output nodes are
// deduplicated by claim id at the minimum depth each was reached; cycles
// are broken per-path. A missing start claim is ErrNotFound.
func (t *Traverser) Traverse(ctx context.Context, startID string, opts Options) (*Result, error) {
	maxDepth, maxNodes, direction, err := t.resolveBounds(opts)
	if err != nil {
		return nil, err
	}

	startClaim, err := t.store.GetClaim(ctx, startID)
	if err != nil {
		return nil, err
	}

	typeRegistry, err := t.store.EdgeTypeMap(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range opts.EdgeTypes {
		if _, ok := typeRegistry[name]; !ok {
			return nil, errors.Wrapf(errors.ErrValidation, "unknown edge type %q", name)
		}
	}

	result := &Result{
		Start:       startID,
		GeneratedAt: time.Now().UTC(),
	}

	visited := map[string]*Node{
		startID: {Claim: startClaim, Depth: 0},
	}
	linkMap := make(map[string]*store.Edge)
	frontier := []frontierEntry{{
		claimID: startID,
		depth:   0,
		path:    map[string]struct{}{startID: {}},
	}}

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]

		if cur.depth >= maxDepth {
			continue
		}

		edges, err := t.store.EdgesFor(ctx, cur.claimID, store.DirectionBoth, opts.EdgeTypes)
		if err != nil {
			return nil, err
		}

		for _, edge := range edges {
			neighbor, follow := followable(edge, cur.claimID, direction, typeRegistry)
			if !follow {
				continue
			}
			if _, onPath := cur.path[neighbor]; onPath {
				// Cycle on this branch.
				continue
			}

			if _, seen := visited[neighbor]; seen {
				// Already in the result at its minimum depth; record the
				// edge and keep walking this branch through it.
				linkMap[edge.ID] = edge
			} else {
				if len(visited) >= maxNodes {
					result.Truncated = true
					continue
				}
				claim, err := t.store.GetClaim(ctx, neighbor)
				if err != nil {
					if errors.Is(err, errors.ErrNotFound) {
						// Dangling endpoint; skip rather than fail the walk.
						continue
					}
					return nil, err
				}
				visited[neighbor] = &Node{Claim: claim, Depth: cur.depth + 1}
				linkMap[edge.ID] = edge
			}

			branch := make(map[string]struct{}, len(cur.path)+1)
			for id := range cur.path {
				branch[id] = struct{}{}
			}
			branch[neighbor] = struct{}{}
			frontier = append(frontier, frontierEntry{
				claimID: neighbor,
				depth:   cur.depth + 1,
				path:    branch,
			})
		}
	}

	result.Nodes, result.Links = collect(visited, linkMap)
	result.Stats = Stats{
		TotalNodes: len(result.Nodes),
		TotalEdges: len(result.Links),
	}
	for _, n := range result.Nodes {
		if n.Depth > result.Stats.MaxDepth {
			result.Stats.MaxDepth = n.Depth
		}
	}

	t.logger.Debugw("Traversal complete",
		"start", startID,
		"nodes", result.Stats.TotalNodes,
		"edges", result.Stats.TotalEdges,
		"truncated", result.Truncated,
	)
	return result, nil
}

// Neighbors returns the nodes one hop from a claim, a convenience wrapper
// over Traverse with depth 1.
func (t *Traverser) Neighbors(ctx context.Context, claimID string, direction string, edgeTypes []string) (*Result, error) {
	return t.Traverse(ctx, claimID, Options{
		MaxDepth:  1,
		Direction: direction,
		EdgeTypes: edgeTypes,
	})
}

func (t *Traverser) resolveBounds(opts Options) (maxDepth, maxNodes int, direction string, err error) {
	maxDepth = opts.MaxDepth
	if maxDepth == DepthUnset {
		maxDepth = t.cfg.DefaultMaxDepth
	}
	if maxDepth < 0 {
		return 0, 0, "", errors.Wrapf(errors.ErrValidation, "max depth %d is negative", opts.MaxDepth)
	}
	if maxDepth > t.cfg.HardMaxDepth {
		maxDepth = t.cfg.HardMaxDepth
	}

	maxNodes = opts.MaxNodes
	if maxNodes <= 0 {
		maxNodes = t.cfg.DefaultMaxNodes
	}
	if maxNodes > t.cfg.HardMaxNodes {
		maxNodes = t.cfg.HardMaxNodes
	}

	direction = opts.Direction
	if direction == "" {
		direction = store.DirectionBoth
	}
	switch direction {
	case store.DirectionOutgoing, store.DirectionIncoming, store.DirectionBoth:
	default:
		return 0, 0, "", errors.Wrapf(errors.ErrValidation, "invalid direction %q", opts.Direction)
	}
	return maxDepth, maxNodes, direction, nil
}

// followable decides whether an edge leaving or entering current should be
// walked under the requested direction, and names the far endpoint.
// Symmetric edge types are walkable against their stored direction.
func followable(edge *store.Edge, current, direction string, registry map[string]*store.EdgeType) (string, bool) {
	outgoing := edge.SourceID == current
	symmetric := false
	if et, ok := registry[edge.EdgeType]; ok {
		symmetric = et.IsSymmetric
	}

	var neighbor string
	if outgoing {
		neighbor = edge.TargetID
	} else {
		neighbor = edge.SourceID
	}
	if neighbor == current {
		// Self-loop; nothing to expand.
		return "", false
	}

	switch direction {
	case store.DirectionBoth:
		return neighbor, true
	case store.DirectionOutgoing:
		return neighbor, outgoing || symmetric
	case store.DirectionIncoming:
		return neighbor, !outgoing || symmetric
	}
	return "", false
}

// collect converts the working maps to sorted slices for deterministic
// output across runs.
func collect(visited map[string]*Node, linkMap map[string]*store.Edge) ([]Node, []Link) {
	nodes := make([]Node, 0, len(visited))
	for _, n := range visited {
		nodes = append(nodes, *n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Depth != nodes[j].Depth {
			return nodes[i].Depth < nodes[j].Depth
		}
		return nodes[i].Claim.ID < nodes[j].Claim.ID
	})

	linkIDs := make([]string, 0, len(linkMap))
	for id := range linkMap {
		linkIDs = append(linkIDs, id)
	}
	sort.Strings(linkIDs)

	links := make([]Link, 0, len(linkIDs))
	for _, id := range linkIDs {
		links = append(links, Link{Edge: linkMap[id]})
	}
	return nodes, links
}
