package index

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// IndexSchema is the declared shape of a search index
type IndexSchema struct {
	Name     string        `json:"-"`
	Settings IndexSettings `json:"settings"`
	Mappings Mappings      `json:"mappings"`
}

type IndexSettings struct {
	RefreshInterval string   `json:"refresh_interval,omitempty"`
	Analysis        Analysis `json:"analysis"`
}

// Analysis holds custom token filters and analyzers, keyed by name
type Analysis struct {
	Filter   map[string]map[string]any `json:"filter,omitempty"`
	Analyzer map[string]map[string]any `json:"analyzer,omitempty"`
}

type Mappings struct {
	Dynamic    string              `json:"dynamic,omitempty"`
	Properties map[string]Property `json:"properties"`
}

// Property is one field mapping
type Property struct {
	Type       string              `json:"type"`
	Analyzer   string              `json:"analyzer,omitempty"`
	Index      *bool               `json:"index,omitempty"`
	Fields     map[string]Property `json:"fields,omitempty"`
	Dynamic    string              `json:"dynamic,omitempty"`
	Properties map[string]Property `json:"properties,omitempty"`
}

// Body renders the create-index request body
func (s IndexSchema) Body() ([]byte, error) {
	return json.Marshal(s)
}

// AnalysisMap returns the declared analysis in the generic shape Elasticsearch
// reports from the settings API
func (s IndexSchema) AnalysisMap() (map[string]any, error) {
	data, err := json.Marshal(s.Settings.Analysis)
	if err != nil {
		return nil, fmt.Errorf("encode analysis: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return normalizeSettings(out).(map[string]any), nil
}

// AnalysisEqual compares declared and live analysis settings structurally
func AnalysisEqual(declared, live map[string]any) bool {
	if len(declared) == 0 && len(live) == 0 {
		return true
	}
	return reflect.DeepEqual(normalizeSettings(declared), normalizeSettings(live))
}

// normalizeSettings renders scalars as strings, matching how Elasticsearch
// echoes index settings back
func normalizeSettings(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeSettings(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeSettings(item)
		}
		return out
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case nil:
		return nil
	default:
		return val
	}
}
