package tools

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/invopop/jsonschema"
)

// reflectSchema generates a JSON Schema for a tool's argument struct and
// strips trusted parameters so they are never advertised to the model.
// Trusted names are removed from both properties and required.
func reflectSchema(args any, trusted []string) (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}

	schema := reflector.Reflect(args)
	schema.Version = ""

	for _, name := range trusted {
		if schema.Properties != nil {
			schema.Properties.Delete(name)
		}
	}
	if len(trusted) > 0 {
		required := slices.DeleteFunc(slices.Clone(schema.Required), func(name string) bool {
			return slices.Contains(trusted, name)
		})
		if len(required) == 0 {
			required = nil
		}
		schema.Required = required
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}
