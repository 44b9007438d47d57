package workflow

import (
	"fmt"
	"strings"
)

// RenderMermaid renders g as a left-to-right Mermaid flowchart. Node shapes
// follow the kind and non-idle nodes get a status class.
func RenderMermaid(title string, g Graph) string {
	var b strings.Builder

	b.WriteString("graph LR\n")
	if title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", firstLine(title))
	}

	for _, n := range g.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(n))
	}
	for _, e := range g.Edges {
		label := ""
		if e.SourceHandle != "" {
			label = fmt.Sprintf("|%s|", e.SourceHandle)
		}
		fmt.Fprintf(&b, "    %s -->%s %s\n", mermaidSafeID(e.Source), label, mermaidSafeID(e.Target))
	}

	b.WriteString("\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef success fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef error fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")

	for _, n := range g.Nodes {
		switch n.Data.Status {
		case StatusRunning, StatusSuccess, StatusError:
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(n.ID), n.Data.Status)
		}
	}
	return b.String()
}

func mermaidNodeDef(n Node) string {
	id := mermaidSafeID(n.ID)
	label := strings.ReplaceAll(firstLine(n.Data.Label), `"`, "#quot;")

	switch n.Type {
	case KindTrigger:
		return fmt.Sprintf("%s([\"%s\"])", id, label)
	case KindCondition:
		return fmt.Sprintf("%s{\"%s\"}", id, label)
	default:
		return fmt.Sprintf("%s[\"%s\"]", id, label)
	}
}

func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
