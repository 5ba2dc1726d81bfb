package statectx

import (
	"log/slog"
	"sort"
)

// DependencyTracker records which store computations read which other stores
// while they evaluate, and warns about cycles. It is diagnostic only: a cycle
// is reported, never broken, and the graph grows for the scope's lifetime.
type DependencyTracker struct {
	scope   *Scope
	enabled bool
	stack   []string

	// Adjacency list: reader -> stores it read
	downstream map[string][]string
}

func newDependencyTracker(scope *Scope, enabled bool) *DependencyTracker {
	return &DependencyTracker{
		scope:      scope,
		enabled:    enabled,
		downstream: make(map[string][]string),
	}
}

// Enabled reports whether edges are being recorded.
func (t *DependencyTracker) Enabled() bool {
	return t.enabled
}

// Enter pushes name as the computation currently being evaluated.
func (t *DependencyTracker) Enter(name string) {
	t.stack = append(t.stack, name)
}

// Leave pops the current computation.
func (t *DependencyTracker) Leave() {
	if len(t.stack) > 0 {
		t.stack = t.stack[:len(t.stack)-1]
	}
}

// Current returns the computation being evaluated, or "".
func (t *DependencyTracker) Current() string {
	if len(t.stack) == 0 {
		return ""
	}
	return t.stack[len(t.stack)-1]
}

// AddDependency records that the current computation read target. When the
// edge is new and target can reach the current computation, the cycle is
// logged and returned as a path that starts and ends at the current name.
func (t *DependencyTracker) AddDependency(target string) []string {
	current := t.Current()
	if !t.enabled || current == "" {
		return nil
	}

	for _, existing := range t.downstream[current] {
		if existing == target {
			return nil
		}
	}
	t.downstream[current] = append(t.downstream[current], target)

	path := t.findPath(target, current)
	if path == nil {
		return nil
	}
	cycle := append([]string{current}, path...)

	t.scope.logger.Warn("Circular dependency detected: "+current+" -> ... -> "+target,
		slog.Any("path", cycle),
	)
	for _, ext := range t.scope.extensionsSnapshot() {
		ext.OnCycle(cycle, t.scope)
	}
	return cycle
}

// findPath runs a breadth-first search from start and returns the first path
// reaching goal, both ends included.
func (t *DependencyTracker) findPath(start, goal string) []string {
	parent := map[string]string{start: ""}
	queue := []string{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current == goal {
			var path []string
			for n := current; ; n = parent[n] {
				path = append(path, n)
				if n == start {
					break
				}
			}
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path
		}

		for _, next := range t.downstream[current] {
			if _, seen := parent[next]; !seen {
				parent[next] = current
				queue = append(queue, next)
			}
		}
	}
	return nil
}

// Graph returns a copy of the dependency graph with sorted edges.
func (t *DependencyTracker) Graph() map[string][]string {
	out := make(map[string][]string, len(t.downstream))
	for from, to := range t.downstream {
		edges := append([]string(nil), to...)
		sort.Strings(edges)
		out[from] = edges
	}
	return out
}

// Reset clears the graph and the evaluation stack.
func (t *DependencyTracker) Reset() {
	t.stack = nil
	t.downstream = make(map[string][]string)
}
