package workflow

// NodeKind is the rendering category of a graph node.
type NodeKind string

const (
	KindTrigger   NodeKind = "trigger"
	KindAction    NodeKind = "action"
	KindCondition NodeKind = "condition"
)

// RuntimeStatus is the execution state shown on a node.
type RuntimeStatus string

const (
	StatusIdle    RuntimeStatus = "idle"
	StatusRunning RuntimeStatus = "running"
	StatusSuccess RuntimeStatus = "success"
	StatusError   RuntimeStatus = "error"
)

// EdgeTypeGold is the only edge variant the editor renders.
const EdgeTypeGold = "gold"

// Graph is the node-and-edge model handed to the graph editor.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is a positioned graph node. Type carries the NodeKind so the editor
// picks the trigger/action/condition component.
type Node struct {
	ID       string   `json:"id"`
	Type     NodeKind `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// Position holds x/y coordinates for rendering the node on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData holds the display and configuration data for a node.
type NodeData struct {
	Label      string         `json:"label"`
	StepType   StepType       `json:"n8nType"`
	Parameters map[string]any `json:"parameters"`
	Status     RuntimeStatus  `json:"status"`
	Handles    []Handle       `json:"handles"`
}

// HandleRole tells whether a handle accepts or emits connections.
type HandleRole string

const (
	HandleInput  HandleRole = "input"
	HandleOutput HandleRole = "output"
)

// Handle is a connection point on a node. Offset is the vertical position in
// percent of the node height; zero means the editor's default placement.
type Handle struct {
	ID     string     `json:"id"`
	Role   HandleRole `json:"role"`
	Label  string     `json:"label,omitempty"`
	Offset float64    `json:"offset,omitempty"`
}

// Edge is a directed connection between two nodes.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	Type         string `json:"type"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// NormalizedStep is a backend step reconciled into a uniform shape.
type NormalizedStep struct {
	Step        int            `json:"step"`
	Action      string         `json:"action"`
	Description string         `json:"description"`
	Params      map[string]any `json:"params"`
}

// N8nWorkflow is the explicit node/connection workflow document.
type N8nWorkflow struct {
	Name        string                   `json:"name" yaml:"name"`
	Nodes       []N8nNode                `json:"nodes" yaml:"nodes"`
	Connections map[string]N8nConnection `json:"connections" yaml:"connections"`
}

// N8nNode is one declared node. Position is an [x, y] pair.
type N8nNode struct {
	ID         string         `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	Type       StepType       `json:"type" yaml:"type"`
	Position   [2]float64     `json:"position" yaml:"position"`
	Parameters map[string]any `json:"parameters" yaml:"parameters"`
}

// N8nConnection lists the outputs of a source node; Main[i] holds the links
// leaving output channel i.
type N8nConnection struct {
	Main [][]N8nLink `json:"main" yaml:"main"`
}

// N8nLink references a target node by name.
type N8nLink struct {
	Node  string `json:"node" yaml:"node"`
	Type  string `json:"type" yaml:"type"`
	Index int    `json:"index" yaml:"index"`
}
