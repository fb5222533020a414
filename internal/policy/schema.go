package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaJSON is the structural contract for overlay documents. Tier
// keys are constrained here; dimension keys inside each row are free
// strings because the registry owns the catalog and rejects unknown
// names when the overlay is merged.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "trustplane policy overlay",
  "type": "object",
  "required": ["version"],
  "additionalProperties": false,
  "properties": {
    "version": {"type": "integer"},
    "weights": {
      "type": "object",
      "additionalProperties": false,
      "patternProperties": {
        "^T[0-6]$": {
          "type": "object",
          "minProperties": 1,
          "additionalProperties": {"type": "integer", "minimum": 0, "maximum": 1000}
        }
      }
    },
    "thresholds": {
      "type": "object",
      "additionalProperties": false,
      "patternProperties": {
        "^T[0-5]$": {
          "type": "object",
          "minProperties": 1,
          "additionalProperties": {"type": "integer", "minimum": 0, "maximum": 1000}
        }
      }
    },
    "gating": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "demotion_fraction": {"type": "number", "minimum": 0.5, "maximum": 1.0},
        "auto_promote": {"type": "boolean"},
        "audit_retention": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

const schemaName = "trustplane-policy-overlay.schema.json"

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaName, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaName)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func validateDocument(doc []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(doc, &payload); err != nil {
		return fmt.Errorf("parse overlay document: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("overlay schema: %w", err)
	}
	return nil
}
