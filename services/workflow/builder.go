package workflow

import (
	"fmt"
	"sort"
)

const (
	// nodeSpacing is the horizontal distance between consecutive nodes.
	nodeSpacing = 300
	// nodeRow is the y coordinate of generated layouts.
	nodeRow = 100
)

// fixturePalette is cycled through when only bare labels are available.
var fixturePalette = []StepType{
	TypeManualTrigger,
	TypeHTTPRequest,
	TypeSet,
	TypeCode,
	TypeEmailSend,
	TypeSlack,
}

// conditionBranches names the output channels of a condition node by index.
var conditionBranches = []string{"true", "false"}

func stepNodeID(ordinal int) string { return fmt.Sprintf("step-%d", ordinal) }

func edgeID(source, target string) string { return "e-" + source + "-" + target }

// edgeIDs hands out edge ids that are unique within one graph. The plain
// e-<source>-<target> form is used when free; parallel edges get the source
// handle appended, then a counter.
type edgeIDs map[string]bool

func edgeIDsOf(edges []Edge) edgeIDs {
	ids := make(edgeIDs, len(edges))
	for _, e := range edges {
		ids[e.ID] = true
	}
	return ids
}

func (ids edgeIDs) next(source, target, handle string) string {
	id := edgeID(source, target)
	if ids[id] && handle != "" {
		id += "-" + handle
	}
	base := id
	for n := 2; ids[id]; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	ids[id] = true
	return id
}

func (ids edgeIDs) newEdge(source, target, handle string) Edge {
	return Edge{
		ID:           ids.next(source, target, handle),
		Source:       source,
		Target:       target,
		Type:         EdgeTypeGold,
		SourceHandle: handle,
	}
}

// uniqueStepNodeID returns step-<ordinal>, falling back to the position
// (step-<i+1>) and then to a counter suffix when the id is already taken.
func uniqueStepNodeID(used map[string]bool, ordinal, i int) string {
	id := stepNodeID(ordinal)
	if used[id] {
		id = stepNodeID(i + 1)
	}
	base := id
	for n := 2; used[id]; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	used[id] = true
	return id
}

// uniqueName returns name, or name suffixed " (2)", " (3)", ... when taken.
func uniqueName(used map[string]bool, name string) string {
	candidate := name
	for n := 2; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s (%d)", name, n)
	}
	used[candidate] = true
	return candidate
}

// handlesFor returns the connection points the editor draws for a kind.
func handlesFor(kind NodeKind) []Handle {
	switch kind {
	case KindTrigger:
		return []Handle{{ID: "out", Role: HandleOutput}}
	case KindCondition:
		return []Handle{
			{ID: "in", Role: HandleInput},
			{ID: "true", Role: HandleOutput, Label: "True", Offset: 35},
			{ID: "false", Role: HandleOutput, Label: "False", Offset: 65},
		}
	default:
		return []Handle{
			{ID: "in", Role: HandleInput},
			{ID: "out", Role: HandleOutput},
		}
	}
}

func cloneParams(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// FromNormalizedSteps lays steps out left to right and chains them in order.
// The first node is always the trigger. Repeated step ordinals fall back to
// the step's position so node ids stay unique.
func FromNormalizedSteps(steps []NormalizedStep) Graph {
	g := Graph{
		Nodes: make([]Node, 0, len(steps)),
		Edges: make([]Edge, 0, max(0, len(steps)-1)),
	}
	used := make(map[string]bool, len(steps))
	for i, step := range steps {
		stepType, kind := classifyAt(i, step.Action)
		g.Nodes = append(g.Nodes, Node{
			ID:       uniqueStepNodeID(used, step.Step, i),
			Type:     kind,
			Position: Position{X: float64(i * nodeSpacing), Y: nodeRow},
			Data: NodeData{
				Label:      step.Description,
				StepType:   stepType,
				Parameters: cloneParams(step.Params),
				Status:     StatusIdle,
				Handles:    handlesFor(kind),
			},
		})
	}
	ids := edgeIDs{}
	for i := 0; i+1 < len(g.Nodes); i++ {
		handle := ""
		if g.Nodes[i].Type == KindCondition {
			handle = conditionBranches[0]
		}
		g.Edges = append(g.Edges, ids.newEdge(g.Nodes[i].ID, g.Nodes[i+1].ID, handle))
	}
	return g
}

// FromExplicitWorkflow maps declared nodes 1:1 and derives edges from the
// connections. Connections naming undeclared nodes are dropped.
func FromExplicitWorkflow(wf N8nWorkflow) Graph {
	g := Graph{
		Nodes: make([]Node, 0, len(wf.Nodes)),
		Edges: []Edge{},
	}

	byName := make(map[string]*N8nNode, len(wf.Nodes))
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if _, dup := byName[n.Name]; !dup {
			byName[n.Name] = n
		}
		kind := KindOf(n.Type)
		g.Nodes = append(g.Nodes, Node{
			ID:       n.ID,
			Type:     kind,
			Position: Position{X: n.Position[0], Y: n.Position[1]},
			Data: NodeData{
				Label:      n.Name,
				StepType:   n.Type,
				Parameters: cloneParams(n.Parameters),
				Status:     StatusIdle,
				Handles:    handlesFor(kind),
			},
		})
	}

	ids := edgeIDs{}
	for _, sourceName := range connectionOrder(wf) {
		source, ok := byName[sourceName]
		if !ok {
			continue
		}
		isCondition := KindOf(source.Type) == KindCondition
		for output, links := range wf.Connections[sourceName].Main {
			for _, link := range links {
				target, ok := byName[link.Node]
				if !ok {
					continue
				}
				handle := ""
				if isCondition && output < len(conditionBranches) {
					handle = conditionBranches[output]
				}
				g.Edges = append(g.Edges, ids.newEdge(source.ID, target.ID, handle))
			}
		}
	}
	return g
}

// connectionOrder returns connection source names in declared node order,
// followed by any remaining names sorted, so edge output is deterministic.
func connectionOrder(wf N8nWorkflow) []string {
	names := make([]string, 0, len(wf.Connections))
	seen := make(map[string]bool, len(wf.Connections))
	for _, n := range wf.Nodes {
		if _, ok := wf.Connections[n.Name]; ok && !seen[n.Name] {
			seen[n.Name] = true
			names = append(names, n.Name)
		}
	}
	var rest []string
	for name := range wf.Connections {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// SequenceToExplicitWorkflow builds a linear fallback workflow from bare step
// labels, cycling node types through a fixed palette. Connections are keyed
// by node name, so repeated labels get a " (2)", " (3)", ... suffix.
func SequenceToExplicitWorkflow(labels []string) N8nWorkflow {
	wf := N8nWorkflow{
		Name:        "Generated Workflow",
		Nodes:       make([]N8nNode, 0, len(labels)),
		Connections: make(map[string]N8nConnection, len(labels)),
	}
	names := make(map[string]bool, len(labels))
	for i, label := range labels {
		wf.Nodes = append(wf.Nodes, N8nNode{
			ID:         fmt.Sprintf("node-%d", i),
			Name:       uniqueName(names, label),
			Type:       fixturePalette[i%len(fixturePalette)],
			Position:   [2]float64{float64(i * nodeSpacing), nodeRow},
			Parameters: map[string]any{},
		})
	}
	for i := 0; i+1 < len(wf.Nodes); i++ {
		wf.Connections[wf.Nodes[i].Name] = N8nConnection{
			Main: [][]N8nLink{{{Node: wf.Nodes[i+1].Name, Type: "main", Index: 0}}},
		}
	}
	return wf
}

// SequenceGraph builds the fallback workflow for labels and its graph. Node
// labels keep the original text even where the node name was made unique.
func SequenceGraph(labels []string) (N8nWorkflow, Graph) {
	wf := SequenceToExplicitWorkflow(labels)
	g := FromExplicitWorkflow(wf)
	for i := range g.Nodes {
		g.Nodes[i].Data.Label = labels[i]
	}
	return wf, g
}

// GraphFromSteps builds a graph from a decoded steps value. Bare label lists
// go through the fixture workflow; everything else is normalized.
func GraphFromSteps(raw any) Graph {
	if labels, ok := labelList(raw); ok {
		_, g := SequenceGraph(labels)
		return g
	}
	return FromNormalizedSteps(NormalizeSteps(raw))
}

// GraphFromStepsJSON is GraphFromSteps over encoded JSON. Invalid JSON
// produces an empty graph.
func GraphFromStepsJSON(data []byte) Graph {
	raw, ok := decodeSteps(data)
	if !ok {
		return FromNormalizedSteps(nil)
	}
	return GraphFromSteps(raw)
}

// labelList reports whether raw is a non-empty list made only of strings.
func labelList(raw any) ([]string, bool) {
	list := stepRecords(raw)
	if len(list) == 0 {
		return nil, false
	}
	labels := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		labels = append(labels, s)
	}
	return labels, true
}
