package services

import (
	"container/heap"
	"math"
	"sort"
	"strings"

	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
)

// costEpsilon absorbs float noise when comparing path costs.
const costEpsilon = 1e-9

// JoinGraph is the undirected relationship graph of one snapshot.
type JoinGraph struct {
	// adjacency: table -> edges oriented away from it, sorted for
	// deterministic traversal
	adjacency map[string][]models.RelationshipEdge
	tables    map[string]bool
}

// NewJoinGraph builds the graph from the snapshot's edges. Self references
// (a manager_id pointing at the same table) are not traversable.
func NewJoinGraph(snapshot *models.CatalogSnapshot) *JoinGraph {
	g := &JoinGraph{
		adjacency: make(map[string][]models.RelationshipEdge),
		tables:    make(map[string]bool),
	}
	for _, t := range snapshot.Tables() {
		name := t.QualifiedName()
		g.tables[name] = true
		for _, e := range snapshot.EdgesOf(name) {
			if e.From == e.To || e.Confidence <= 0 {
				continue
			}
			g.adjacency[name] = append(g.adjacency[name], e)
		}
	}
	for name, edges := range g.adjacency {
		sort.SliceStable(edges, func(i, j int) bool {
			if edges[i].To != edges[j].To {
				return edges[i].To < edges[j].To
			}
			if edges[i].Confidence != edges[j].Confidence {
				return edges[i].Confidence > edges[j].Confidence
			}
			return edges[i].Constraint < edges[j].Constraint
		})
		g.adjacency[name] = edges
	}
	return g
}

// edgeWeight is 1/confidence, so declared keys (1.0) are cheapest.
func edgeWeight(e models.RelationshipEdge) float64 {
	return 1 / e.Confidence
}

// pathState is a tentative route to a table.
type pathState struct {
	table string
	cost  float64
	hops  int
	path  []string // table names from the source, inclusive
	edges []models.RelationshipEdge
	index int
}

// better orders routes by cost, then fewer tables, then the
// lexicographically smaller table-name sequence.
func (a *pathState) better(b *pathState) bool {
	if math.Abs(a.cost-b.cost) > costEpsilon {
		return a.cost < b.cost
	}
	if a.hops != b.hops {
		return a.hops < b.hops
	}
	return comparePaths(a.path, b.path) < 0
}

func comparePaths(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := strings.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

type pathQueue []*pathState

func (q pathQueue) Len() int           { return len(q) }
func (q pathQueue) Less(i, j int) bool { return q[i].better(q[j]) }
func (q pathQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *pathQueue) Push(x any) {
	s := x.(*pathState)
	s.index = len(*q)
	*q = append(*q, s)
}
func (q *pathQueue) Pop() any {
	old := *q
	n := len(old)
	s := old[n-1]
	*q = old[:n-1]
	return s
}

// shortestFrom runs Dijkstra from every table in sources at once and
// returns the best route to each reachable table within maxHops edges.
func (g *JoinGraph) shortestFrom(sources []string, maxHops int) map[string]*pathState {
	best := make(map[string]*pathState)
	done := make(map[string]bool)
	q := &pathQueue{}

	srcs := append([]string(nil), sources...)
	sort.Strings(srcs)
	for _, s := range srcs {
		st := &pathState{table: s, path: []string{s}}
		best[s] = st
		heap.Push(q, st)
	}

	for q.Len() > 0 {
		cur := heap.Pop(q).(*pathState)
		if done[cur.table] || best[cur.table] != cur {
			continue
		}
		done[cur.table] = true
		if cur.hops >= maxHops {
			continue
		}

		for _, e := range g.adjacency[cur.table] {
			if done[e.To] {
				continue
			}
			next := &pathState{
				table: e.To,
				cost:  cur.cost + edgeWeight(e),
				hops:  cur.hops + 1,
				path:  append(append([]string(nil), cur.path...), e.To),
				edges: append(append([]models.RelationshipEdge(nil), cur.edges...), e),
			}
			if prev, ok := best[e.To]; ok && !next.better(prev) {
				continue
			}
			best[e.To] = next
			heap.Push(q, next)
		}
	}
	return best
}

// ShortestPath returns the cheapest edge sequence from one table to
// another using at most maxDepth joins.
func (g *JoinGraph) ShortestPath(from, to string, maxDepth int) ([]models.RelationshipEdge, bool) {
	if !g.tables[from] || !g.tables[to] {
		return nil, false
	}
	if from == to {
		return nil, true
	}
	st, ok := g.shortestFrom([]string{from}, maxDepth)[to]
	if !ok {
		return nil, false
	}
	return st.edges, true
}

// ConnectTables grows a tree from root until it reaches every required
// table, each step attaching the required table that is cheapest to reach
// from the tree so far. The whole tree stays within maxDepth joins.
// Required tables that cannot be attached are returned as unreachable.
func (g *JoinGraph) ConnectTables(root string, required []string, maxDepth int) ([]models.RelationshipEdge, []string) {
	inTree := map[string]bool{root: true}
	var tree []string
	tree = append(tree, root)

	pending := make(map[string]bool)
	for _, r := range required {
		if r != root {
			pending[r] = true
		}
	}

	var path []models.RelationshipEdge
	for len(pending) > 0 {
		budget := maxDepth - len(path)
		if budget <= 0 {
			break
		}
		routes := g.shortestFrom(tree, budget)

		var pick *pathState
		var pickName string
		for name := range pending {
			st, ok := routes[name]
			if !ok {
				continue
			}
			if pick == nil || st.better(pick) || (!pick.better(st) && name < pickName) {
				pick, pickName = st, name
			}
		}
		if pick == nil {
			break
		}

		for _, e := range pick.edges {
			if inTree[e.To] {
				continue
			}
			inTree[e.To] = true
			tree = append(tree, e.To)
			path = append(path, e)
			delete(pending, e.To)
		}
		delete(pending, pickName)
	}

	var unreachable []string
	for name := range pending {
		unreachable = append(unreachable, name)
	}
	sort.Strings(unreachable)
	return path, unreachable
}
