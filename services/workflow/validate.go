package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const n8nSchemaURL = "https://workflow-studio.local/schemas/n8n-workflow.json"

// n8nSchemaJSON describes the explicit workflow document accepted by the editor.
const n8nSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["nodes", "connections"],
  "properties": {
    "name": { "type": "string" },
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name", "type", "position"],
        "properties": {
          "id": { "type": "string", "minLength": 1 },
          "name": { "type": "string", "minLength": 1 },
          "type": { "type": "string", "minLength": 1 },
          "position": {
            "type": "array",
            "items": { "type": "number" },
            "minItems": 2,
            "maxItems": 2
          },
          "parameters": { "type": ["object", "null"] }
        }
      }
    },
    "connections": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["main"],
        "properties": {
          "main": {
            "type": "array",
            "items": {
              "type": "array",
              "items": {
                "type": "object",
                "required": ["node"],
                "properties": {
                  "node": { "type": "string" },
                  "type": { "type": "string" },
                  "index": { "type": "integer", "minimum": 0 }
                }
              }
            }
          }
        }
      }
    }
  }
}`

// Issue codes reported by ValidateExplicitWorkflow.
const (
	IssueSchema        = "SCHEMA"
	IssueDanglingRef   = "DANGLING_REFERENCE"
	IssueDuplicateID   = "DUPLICATE_ID"
	IssueDuplicateName = "DUPLICATE_NAME"
	IssueUnknownType   = "UNKNOWN_TYPE"
)

// Issue is a single finding about a workflow document.
type Issue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationReport lists problems in an explicit workflow document. Errors
// mean the document does not have the expected shape; warnings are things
// FromExplicitWorkflow would silently tolerate.
type ValidationReport struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

func (r *ValidationReport) addError(path, code, msg string) {
	r.Errors = append(r.Errors, Issue{Path: path, Code: code, Message: msg})
}

func (r *ValidationReport) addWarning(path, code, msg string) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Code: code, Message: msg})
}

var (
	n8nSchemaOnce sync.Once
	n8nSchema     *jsonschema.Schema
	n8nSchemaErr  error
)

func compiledN8nSchema() (*jsonschema.Schema, error) {
	n8nSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(n8nSchemaJSON))
		if err != nil {
			n8nSchemaErr = fmt.Errorf("unmarshal n8n schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(n8nSchemaURL, doc); err != nil {
			n8nSchemaErr = fmt.Errorf("add n8n schema resource: %w", err)
			return
		}
		n8nSchema, n8nSchemaErr = c.Compile(n8nSchemaURL)
	})
	return n8nSchema, n8nSchemaErr
}

// ValidateExplicitWorkflow checks an encoded workflow document against the
// schema and reports references and names the builder would drop or shadow.
func ValidateExplicitWorkflow(data []byte) ValidationReport {
	report := ValidationReport{Errors: []Issue{}, Warnings: []Issue{}}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		report.addError("/", IssueSchema, fmt.Sprintf("invalid JSON: %v", err))
		return report
	}

	schema, err := compiledN8nSchema()
	if err != nil {
		report.addError("/", IssueSchema, err.Error())
		return report
	}
	if err := schema.Validate(doc); err != nil {
		for _, v := range schemaViolations(err) {
			report.addError(v.Path, IssueSchema, v.Message)
		}
		return report
	}

	var wf N8nWorkflow
	if err := json.Unmarshal(data, &wf); err != nil {
		report.addError("/", IssueSchema, err.Error())
		return report
	}
	checkReferences(wf, &report)
	report.Valid = len(report.Errors) == 0
	return report
}

func checkReferences(wf N8nWorkflow, report *ValidationReport) {
	ids := make(map[string]bool, len(wf.Nodes))
	names := make(map[string]bool, len(wf.Nodes))
	for i, n := range wf.Nodes {
		path := fmt.Sprintf("/nodes/%d", i)
		if ids[n.ID] {
			report.addWarning(path+"/id", IssueDuplicateID, fmt.Sprintf("node id %q is declared more than once", n.ID))
		}
		ids[n.ID] = true
		if names[n.Name] {
			report.addWarning(path+"/name", IssueDuplicateName,
				fmt.Sprintf("node name %q is declared more than once; connections resolve to the first", n.Name))
		}
		names[n.Name] = true
		if _, known := nodeKinds[n.Type]; !known {
			report.addWarning(path+"/type", IssueUnknownType, fmt.Sprintf("unknown node type %q is treated as an action", n.Type))
		}
	}

	sources := make([]string, 0, len(wf.Connections))
	for name := range wf.Connections {
		sources = append(sources, name)
	}
	sort.Strings(sources)

	for _, source := range sources {
		path := "/connections/" + source
		if !names[source] {
			report.addWarning(path, IssueDanglingRef, fmt.Sprintf("source node %q is not declared; its connections are dropped", source))
			continue
		}
		for out, links := range wf.Connections[source].Main {
			for j, link := range links {
				if !names[link.Node] {
					report.addWarning(fmt.Sprintf("%s/main/%d/%d/node", path, out, j), IssueDanglingRef,
						fmt.Sprintf("target node %q is not declared; the connection is dropped", link.Node))
				}
			}
		}
	}
}

func schemaViolations(err error) []Issue {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []Issue{{Path: "/", Message: err.Error()}}
	}
	return collectViolations(verr)
}

func collectViolations(verr *jsonschema.ValidationError) []Issue {
	if len(verr.Causes) == 0 {
		return []Issue{{Path: "/" + strings.Join(verr.InstanceLocation, "/"), Message: verr.Error()}}
	}
	var out []Issue
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
