package workflow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator allocates ids for nodes added interactively.
type IDGenerator interface {
	NextID() string
}

// SequentialIDs yields node-<n>, node-<n+1>, ... It is safe for concurrent use.
type SequentialIDs struct {
	mu   sync.Mutex
	next int
}

// NewSequentialIDs starts counting at start.
func NewSequentialIDs(start int) *SequentialIDs {
	return &SequentialIDs{next: start}
}

func (s *SequentialIDs) NextID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("node-%d", s.next)
	s.next++
	return id
}

// UUIDIDs yields random node-<uuid> ids.
type UUIDIDs struct{}

func (UUIDIDs) NextID() string { return "node-" + uuid.NewString() }

// PaletteItem is a node type the user can drag onto the canvas.
type PaletteItem struct {
	Type  StepType `json:"type"`
	Label string   `json:"label"`
	Kind  NodeKind `json:"category"`
}

// PaletteSection groups palette items by kind.
type PaletteSection struct {
	Key   NodeKind      `json:"key"`
	Label string        `json:"label"`
	Items []PaletteItem `json:"items"`
}

var paletteItems = []PaletteItem{
	{TypeManualTrigger, "Manual Trigger", KindTrigger},
	{TypeWebhook, "Webhook", KindTrigger},
	{TypeScheduleTrigger, "Schedule", KindTrigger},
	{TypeHTTPRequest, "HTTP Request", KindAction},
	{TypeEmailSend, "Send Email", KindAction},
	{TypeSet, "Set Data", KindAction},
	{TypeCode, "Code", KindAction},
	{TypeSlack, "Slack", KindAction},
	{TypeIf, "IF Condition", KindCondition},
}

// Palette returns the draggable node types grouped into sections.
func Palette() []PaletteSection {
	sections := []PaletteSection{
		{Key: KindTrigger, Label: "Triggers"},
		{Key: KindAction, Label: "Actions"},
		{Key: KindCondition, Label: "Logic"},
	}
	for i := range sections {
		for _, item := range paletteItems {
			if item.Kind == sections[i].Key {
				sections[i].Items = append(sections[i].Items, item)
			}
		}
	}
	return sections
}

var (
	ErrUnknownNode   = errors.New("unknown node")
	ErrSelfLoop      = errors.New("cannot connect a node to itself")
	ErrDuplicateEdge = errors.New("nodes are already connected")
	ErrInvalidHandle = errors.New("invalid source handle")
)

// EditorSession is an in-memory graph being edited. It owns its graph and
// id allocator; callers get copies through Snapshot.
type EditorSession struct {
	mu    sync.Mutex
	ids   IDGenerator
	graph Graph
}

// NewEditorSession starts editing a copy of g with ids from ids.
func NewEditorSession(g Graph, ids IDGenerator) *EditorSession {
	return &EditorSession{ids: ids, graph: cloneGraph(g)}
}

// AddNode places a new idle node of the given type and returns it.
func (s *EditorSession) AddNode(t StepType, label string, pos Position) Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind := KindOf(t)
	n := Node{
		ID:       s.ids.NextID(),
		Type:     kind,
		Position: pos,
		Data: NodeData{
			Label:      label,
			StepType:   t,
			Parameters: map[string]any{},
			Status:     StatusIdle,
			Handles:    handlesFor(kind),
		},
	}
	s.graph.Nodes = append(s.graph.Nodes, n)
	return n
}

// Connect adds a gold edge from source to target. Condition sources need a
// "true" or "false" handle; other nodes take none.
func (s *EditorSession) Connect(source, target, handle string) (Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.find(source)
	if !ok {
		return Edge{}, fmt.Errorf("source %q: %w", source, ErrUnknownNode)
	}
	if _, ok := s.find(target); !ok {
		return Edge{}, fmt.Errorf("target %q: %w", target, ErrUnknownNode)
	}
	if source == target {
		return Edge{}, ErrSelfLoop
	}
	if src.Type == KindCondition {
		if handle != conditionBranches[0] && handle != conditionBranches[1] {
			return Edge{}, fmt.Errorf("%q on condition node %q: %w", handle, source, ErrInvalidHandle)
		}
	} else if handle != "" {
		return Edge{}, fmt.Errorf("%q on %s node %q: %w", handle, src.Type, source, ErrInvalidHandle)
	}
	for _, e := range s.graph.Edges {
		if e.Source == source && e.Target == target && e.SourceHandle == handle {
			return Edge{}, ErrDuplicateEdge
		}
	}

	e := edgeIDsOf(s.graph.Edges).newEdge(source, target, handle)
	s.graph.Edges = append(s.graph.Edges, e)
	return e, nil
}

// DeleteNodes removes the given nodes and every edge touching them.
func (s *EditorSession) DeleteNodes(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	nodes := s.graph.Nodes[:0]
	for _, n := range s.graph.Nodes {
		if !drop[n.ID] {
			nodes = append(nodes, n)
		}
	}
	s.graph.Nodes = nodes

	edges := s.graph.Edges[:0]
	for _, e := range s.graph.Edges {
		if !drop[e.Source] && !drop[e.Target] {
			edges = append(edges, e)
		}
	}
	s.graph.Edges = edges
}

// Snapshot returns a copy of the current graph.
func (s *EditorSession) Snapshot() Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneGraph(s.graph)
}

func (s *EditorSession) find(id string) (Node, bool) {
	for _, n := range s.graph.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

func cloneGraph(g Graph) Graph {
	out := Graph{
		Nodes: make([]Node, len(g.Nodes)),
		Edges: make([]Edge, len(g.Edges)),
	}
	for i, n := range g.Nodes {
		n.Data.Parameters = cloneParams(n.Data.Parameters)
		n.Data.Handles = append([]Handle(nil), n.Data.Handles...)
		out.Nodes[i] = n
	}
	copy(out.Edges, g.Edges)
	return out
}
