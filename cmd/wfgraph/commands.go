package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"workflow-studio/services/workflow"
)

// errWarnings signals a strict validation run that found warnings.
var errWarnings = errors.New("validation reported warnings")

type options struct {
	format string
	strict bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "wfgraph",
		Short:        "Convert workflow definitions into editor graphs",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.format, "format", "f", "json", "output format: json, yaml or mermaid")

	root.AddCommand(
		newStepsCmd(opts),
		newN8nCmd(opts),
		newSequenceCmd(opts),
		newValidateCmd(opts),
	)
	return root
}

func newStepsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "steps <file>",
		Short: "Build a graph from a backend steps payload (list or {raw_info: [...]})",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readDocument(args[0])
			if err != nil {
				return err
			}
			return writeGraph(cmd.OutOrStdout(), opts.format, args[0], workflow.GraphFromSteps(raw))
		},
	}
}

func newN8nCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "n8n <file>",
		Short: "Build a graph from an n8n-style workflow document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := readWorkflow(args[0])
			if err != nil {
				return err
			}
			return writeGraph(cmd.OutOrStdout(), opts.format, wf.Name, workflow.FromExplicitWorkflow(wf))
		},
	}
}

func newSequenceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sequence <label>...",
		Short: "Build the linear fallback workflow for bare step labels",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, g := workflow.SequenceGraph(args)
			return writeGraph(cmd.OutOrStdout(), opts.format, wf.Name, g)
		},
	}
}

func newValidateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Report schema errors and dangling references in an n8n-style document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readDocument(args[0])
			if err != nil {
				return err
			}
			data, err := json.Marshal(raw)
			if err != nil {
				return fmt.Errorf("encode %s: %w", args[0], err)
			}
			report := workflow.ValidateExplicitWorkflow(data)
			if err := writeValue(cmd.OutOrStdout(), opts.format, report); err != nil {
				return err
			}
			if !report.Valid {
				return fmt.Errorf("%s: %d schema errors", args[0], len(report.Errors))
			}
			if opts.strict && len(report.Warnings) > 0 {
				return errWarnings
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "fail when warnings are reported")
	return cmd
}

// readDocument decodes a JSON or YAML file (by extension) into a generic value.
func readDocument(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var raw any
	if isYAML(path) {
		err = yaml.Unmarshal(data, &raw)
	} else {
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return raw, nil
}

func readWorkflow(path string) (workflow.N8nWorkflow, error) {
	var wf workflow.N8nWorkflow
	data, err := os.ReadFile(path)
	if err != nil {
		return wf, fmt.Errorf("read %s: %w", path, err)
	}
	if isYAML(path) {
		err = yaml.Unmarshal(data, &wf)
	} else {
		err = json.Unmarshal(data, &wf)
	}
	if err != nil {
		return wf, fmt.Errorf("parse %s: %w", path, err)
	}
	return wf, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func writeGraph(w io.Writer, format, title string, g workflow.Graph) error {
	if format == "mermaid" {
		_, err := io.WriteString(w, workflow.RenderMermaid(title, g))
		return err
	}
	return writeValue(w, format, g)
}

func writeValue(w io.Writer, format string, v any) error {
	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// Round-trip through JSON so YAML keys match the JSON field names.
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	case "mermaid":
		return fmt.Errorf("mermaid output is only available for graphs")
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
