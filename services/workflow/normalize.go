package workflow

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
)

const (
	// unknownAction is used when a record names its action under no known field.
	unknownAction = "Unknown"
	// wrapperKey is where some backend responses nest the step list.
	wrapperKey = "raw_info"
)

// record is one untrusted step object from the backend.
type record map[string]any

// stringField returns an extractor for a non-blank string under key.
func stringField(key string) func(record) (string, bool) {
	return func(r record) (string, bool) {
		s, ok := r[key].(string)
		if !ok || strings.TrimSpace(s) == "" {
			return "", false
		}
		return s, true
	}
}

// objectField returns an extractor for a JSON object under key.
func objectField(key string) func(record) (map[string]any, bool) {
	return func(r record) (map[string]any, bool) {
		m, ok := r[key].(map[string]any)
		return m, ok
	}
}

// wrappedField returns an extractor that wraps any non-null value under key
// as {key: value}.
func wrappedField(key string) func(record) (map[string]any, bool) {
	return func(r record) (map[string]any, bool) {
		v, ok := r[key]
		if !ok || v == nil {
			return nil, false
		}
		return map[string]any{key: v}, true
	}
}

// Candidate extractors, tried in order; the first success wins.
var (
	actionExtractors = []func(record) (string, bool){
		stringField("action"),
		stringField("api"),
		stringField("api_name"),
		stringField("api_call"),
		stringField("step_name"),
	}
	descriptionExtractors = []func(record) (string, bool){
		stringField("description"),
	}
	paramsExtractors = []func(record) (map[string]any, bool){
		objectField("params"),
		objectField("parameters"),
		wrappedField("input"),
	}
)

func firstOf[T any](r record, extractors []func(record) (T, bool)) (T, bool) {
	for _, extract := range extractors {
		if v, ok := extract(r); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// stepRecords resolves the list of step records from a decoded steps value:
// a list is used as is, an object with a list under raw_info yields that
// list, and anything else yields nothing.
func stepRecords(raw any) []any {
	switch v := raw.(type) {
	case []any:
		return v
	case map[string]any:
		if list, ok := v[wrapperKey].([]any); ok {
			return list
		}
	}
	return nil
}

// NormalizeSteps reconciles the backend's inconsistent step formats into a
// uniform slice. It never fails: unrecognised input yields an empty slice
// and missing fields fall back to defaults.
func NormalizeSteps(raw any) []NormalizedStep {
	list := stepRecords(raw)
	steps := make([]NormalizedStep, 0, len(list))
	for i, item := range list {
		r, _ := item.(map[string]any)
		steps = append(steps, normalizeRecord(i, r))
	}
	return steps
}

// NormalizeStepsJSON decodes data and normalizes it. Invalid JSON yields an
// empty slice.
func NormalizeStepsJSON(data []byte) []NormalizedStep {
	raw, ok := decodeSteps(data)
	if !ok {
		return []NormalizedStep{}
	}
	return NormalizeSteps(raw)
}

func decodeSteps(data []byte) (any, bool) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, false
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}
	return raw, true
}

func normalizeRecord(i int, r record) NormalizedStep {
	action, ok := firstOf(r, actionExtractors)
	if !ok {
		action = unknownAction
	}
	description, ok := firstOf(r, descriptionExtractors)
	if !ok {
		description = action
	}
	params, ok := firstOf(r, paramsExtractors)
	if !ok {
		params = map[string]any{}
	}
	step, ok := ordinal(r["step"])
	if !ok {
		step = i + 1
	}
	return NormalizedStep{Step: step, Action: action, Description: description, Params: params}
}

// ordinal accepts whole numbers only; "3", 2.5 and NaN are rejected.
func ordinal(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}
