package sync

import (
	"container/heap"
	"sort"
)

// component is a strongly connected set of nodes, members in ascending
// order. cyclic is set for sets of more than one node and for a node with
// an edge to itself.
type component struct {
	members []int
	cyclic  bool
}

// orderComponents returns the strongly connected components of the graph
// in an order where every edge from -> to has from's component first. Among
// components that are free to go next, the one holding the lowest node
// index wins, so an edgeless graph keeps its input order.
func orderComponents(n int, succ [][]int) []component {
	sccOf, comps := tarjan(n, succ)

	indegree := make([]int, len(comps))
	next := make([][]int, len(comps))

	for v := 0; v < n; v++ {
		for _, w := range succ[v] {
			cv, cw := sccOf[v], sccOf[w]
			if cv == cw {
				if v == w {
					comps[cv].cyclic = true
				}
				continue
			}
			next[cv] = append(next[cv], cw)
			indegree[cw] += 1
		}
	}

	ready := &componentQueue{comps: comps}
	for c := range comps {
		if indegree[c] == 0 {
			heap.Push(ready, c)
		}
	}

	out := make([]component, 0, len(comps))
	for ready.Len() > 0 {
		c := heap.Pop(ready).(int)
		out = append(out, comps[c])

		for _, d := range next[c] {
			indegree[d] -= 1
			if indegree[d] == 0 {
				heap.Push(ready, d)
			}
		}
	}

	return out
}

// tarjan finds strongly connected components with Tarjan's algorithm and
// returns the component of every node together with the components.
func tarjan(n int, succ [][]int) ([]int, []component) {
	var (
		index   = 0
		stack   []int
		indices = make([]int, n)
		lowlink = make([]int, n)
		onStack = make([]bool, n)
		sccOf   = make([]int, n)
		comps   []component
	)

	for v := range indices {
		indices[v] = -1
	}

	var strongConnect func(int)
	strongConnect = func(v int) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range succ[v] {
			if indices[w] < 0 {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var members []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				sccOf[w] = len(comps)
				members = append(members, w)
				if w == v {
					break
				}
			}
			sort.Ints(members)
			comps = append(comps, component{members: members, cyclic: len(members) > 1})
		}
	}

	for v := 0; v < n; v++ {
		if indices[v] < 0 {
			strongConnect(v)
		}
	}

	return sccOf, comps
}

// componentQueue is a min-heap of component ids keyed by lowest member.
type componentQueue struct {
	comps []component
	ids   []int
}

func (q *componentQueue) Len() int { return len(q.ids) }

func (q *componentQueue) Less(i, j int) bool {
	return q.comps[q.ids[i]].members[0] < q.comps[q.ids[j]].members[0]
}

func (q *componentQueue) Swap(i, j int) { q.ids[i], q.ids[j] = q.ids[j], q.ids[i] }

func (q *componentQueue) Push(x any) { q.ids = append(q.ids, x.(int)) }

func (q *componentQueue) Pop() any {
	last := q.ids[len(q.ids)-1]
	q.ids = q.ids[:len(q.ids)-1]
	return last
}
