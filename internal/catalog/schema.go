// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// ManifestSchemaID is the $id of the generated manifest schema.
const ManifestSchemaID = "https://technicflux.dev/schemas/catalog-manifest.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jschema.Schema
	errSchema      error
)

// GenerateManifestSchema generates a JSON Schema from the Manifest struct.
func GenerateManifestSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Manifest{})

	schema.ID = jsonschema.ID(ManifestSchemaID)
	schema.Title = "TechnicFlux Catalog Manifest"
	schema.Description = "Schema for catalog seed files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// ValidateManifestSchema validates YAML data against the manifest schema.
func ValidateManifestSchema(data []byte) error {
	if len(data) == 0 {
		return &ValidationError{Field: "manifest", Message: "is empty"}
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}

	sch, err := manifestSchema()
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}
	if err := sch.Validate(toJSONTypes(doc)); err != nil {
		return &ValidationError{Field: "manifest", Message: FormatSchemaError(err)}
	}
	return nil
}

func manifestSchema() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := GenerateManifestSchema()
		if err != nil {
			errSchema = err
			return
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			errSchema = fmt.Errorf("failed to parse schema JSON: %w", err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource("manifest.json", doc); err != nil {
			errSchema = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		compiledSchema, errSchema = c.Compile("manifest.json")
	})
	return compiledSchema, errSchema
}

// toJSONTypes converts YAML-decoded values to JSON-compatible types.
func toJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toJSONTypes(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toJSONTypes(item)
		}
		return out
	case string, int, int64, float64, bool, nil:
		return val
	default:
		// Timestamps and other scalars go through a JSON round trip.
		if b, err := json.Marshal(val); err == nil {
			var out any
			if err := json.Unmarshal(b, &out); err == nil {
				return out
			}
		}
		return val
	}
}

// FormatSchemaError trims a schema validation error for display.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(err.Error(), "jsonschema validation failed with "+`"manifest.json#"`+"\n")
}
