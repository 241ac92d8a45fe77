package toolserver

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// schemaFor reflects the argument struct T into an object schema. Fields
// tagged jsonschema:"required" become required; everything is inlined.
func schemaFor[T any]() (map[string]any, []string, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	data, err := json.Marshal(reflector.Reflect(new(T)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode schema: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to decode schema: %w", err)
	}

	schema := map[string]any{
		"type":       "object",
		"properties": raw["properties"],
	}
	var required []string
	if req, ok := raw["required"].([]any); ok && len(req) > 0 {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
		schema["required"] = required
	}
	return schema, required, nil
}
