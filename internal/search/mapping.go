package search

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Settings callers may override when creating an index. Everything else
// in the mapping template is fixed.
var settingsOverrideKeys = []string{
	"number_of_shards",
	"number_of_replicas",
	"refresh_interval",
}

// LoadMapping reads the index mapping template from disk. Templates may
// carry {index_name}, {vector_dims} and {similarity} placeholders; a
// template with concrete values passes through untouched.
func LoadMapping(path string, vars map[string]string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping %s: %w", path, err)
	}
	for key, val := range vars {
		raw = bytes.ReplaceAll(raw, []byte("{"+key+"}"), []byte(val))
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("parse mapping %s: %w", path, err)
	}
	return body, nil
}

// RenderMapping deep-copies the template and applies whitelisted settings
// overrides, leaving the template itself untouched.
func RenderMapping(template map[string]any, overrides map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(template)
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	if len(overrides) == 0 {
		return body, nil
	}
	settings, ok := body["settings"].(map[string]any)
	if !ok {
		settings = map[string]any{}
		body["settings"] = settings
	}
	for _, key := range settingsOverrideKeys {
		if val, ok := overrides[key]; ok {
			settings[key] = val
		}
	}
	return body, nil
}
