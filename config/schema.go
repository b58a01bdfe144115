package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/routekit/errors"
)

// configSchema is the structural contract for router config documents.
// Processor config blocks are deliberately open objects; each factory
// validates its own block.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["graph", "processors", "links"],
  "additionalProperties": false,
  "properties": {
    "graph": {
      "type": "object",
      "required": ["name"],
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "workers": {"type": "integer", "minimum": 0},
        "default_capacity": {"type": "integer", "minimum": 1}
      }
    },
    "processors": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "kind"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "kind": {"type": "string", "minLength": 1},
          "config": {"type": "object"}
        }
      }
    },
    "links": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "additionalProperties": false,
        "properties": {
          "from": {"type": "string", "pattern": "^.+\\..+$"},
          "to": {"type": "string", "pattern": "^.+\\..+$"},
          "capacity": {"type": "integer", "minimum": 1}
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(configSchema)

// validateDocument checks a JSON config document against the schema.
func validateDocument(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.WrapInvalid(err, "Config", "validateDocument", "schema validation")
	}
	if result.Valid() {
		return nil
	}

	var b strings.Builder
	for i, desc := range result.Errors() {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %s", desc.Field(), desc.Description())
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, b.String()),
		"Config", "validateDocument", "schema validation")
}
