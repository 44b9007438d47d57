package workflow

import (
	"strings"

	"workflow-studio/pkg/backend"
)

// taskStatuses maps backend task states onto node runtime states.
var taskStatuses = map[string]RuntimeStatus{
	"pending":   StatusIdle,
	"queued":    StatusIdle,
	"running":   StatusRunning,
	"completed": StatusSuccess,
	"success":   StatusSuccess,
	"failed":    StatusError,
	"error":     StatusError,
}

func runtimeStatus(taskStatus string) RuntimeStatus {
	if s, ok := taskStatuses[strings.ToLower(taskStatus)]; ok {
		return s
	}
	return StatusIdle
}

// ApplyRunStatus returns a copy of g with node statuses taken from the run's
// tasks. A task whose id matches a node id applies to that node; the other
// tasks are matched to the remaining nodes in execution order.
func ApplyRunStatus(g Graph, run backend.RunStatus) Graph {
	out := Graph{
		Nodes: make([]Node, len(g.Nodes)),
		Edges: append([]Edge(nil), g.Edges...),
	}
	copy(out.Nodes, g.Nodes)

	index := make(map[string]int, len(out.Nodes))
	for i := range out.Nodes {
		out.Nodes[i].Data.Status = StatusIdle
		index[out.Nodes[i].ID] = i
	}

	assigned := make(map[string]bool, len(run.Tasks))
	var unmatched []backend.TaskStatus
	for _, task := range run.Tasks {
		if i, ok := index[task.TaskID]; ok && !assigned[task.TaskID] {
			out.Nodes[i].Data.Status = runtimeStatus(task.Status)
			assigned[task.TaskID] = true
			continue
		}
		unmatched = append(unmatched, task)
	}

	for _, id := range ExecutionOrder(out) {
		if len(unmatched) == 0 {
			break
		}
		if assigned[id] {
			continue
		}
		out.Nodes[index[id]].Data.Status = runtimeStatus(unmatched[0].Status)
		assigned[id] = true
		unmatched = unmatched[1:]
	}
	return out
}

// ExecutionOrder lists node ids breadth-first from the entry points,
// following edges in declaration order. Entry points are trigger nodes, or
// nodes without incoming edges when there is no trigger. Nodes unreachable
// from any entry point are appended in declaration order. Cycles are safe.
func ExecutionOrder(g Graph) []string {
	edgeMap := buildEdgeMap(g.Edges)
	incoming := make(map[string]bool, len(g.Edges))
	for _, e := range g.Edges {
		incoming[e.Target] = true
	}

	var roots []string
	for _, n := range g.Nodes {
		if n.Type == KindTrigger {
			roots = append(roots, n.ID)
		}
	}
	if len(roots) == 0 {
		for _, n := range g.Nodes {
			if !incoming[n.ID] {
				roots = append(roots, n.ID)
			}
		}
	}

	declared := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		declared[n.ID] = true
	}

	order := make([]string, 0, len(g.Nodes))
	visited := make(map[string]bool, len(g.Nodes))
	queue := append([]string(nil), roots...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] || !declared[id] {
			continue
		}
		visited[id] = true
		order = append(order, id)
		for _, e := range edgeMap[id] {
			if !visited[e.Target] {
				queue = append(queue, e.Target)
			}
		}
	}

	for _, n := range g.Nodes {
		if !visited[n.ID] {
			visited[n.ID] = true
			order = append(order, n.ID)
		}
	}
	return order
}

func buildEdgeMap(edges []Edge) map[string][]Edge {
	m := make(map[string][]Edge)
	for _, edge := range edges {
		m[edge.Source] = append(m[edge.Source], edge)
	}
	return m
}
