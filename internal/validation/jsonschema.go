// Package validation checks inbound wire messages against the protocol
// schema before they reach the dispatcher, so malformed client input is
// rejected with a VALIDATION_ERROR instead of surfacing as apply-time
// failures deep in the document engine.
package validation

import (
	"bytes"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/canvakit/graphsync/pkg/schema"
)

// messageSchemaJSON is the JSON Schema for inbound request envelopes.
// Embedded as a constant to avoid filesystem dependencies.
const messageSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://graphsync.dev/schemas/message.json",
  "type": "object",
  "required": ["type", "requestId"],
  "properties": {
    "type": {
      "type": "string",
      "enum": [
        "registerUserOnGraph",
        "registerUserOnNodeConfig",
        "applyInstructionToGraph",
        "applyInstructionToNodeConfig",
        "batchCreateElements",
        "batchDeleteElements",
        "generateUniqueId"
      ]
    },
    "requestId": { "type": "string", "minLength": 1 },
    "userId": { "type": "string" },
    "graphId": { "type": "string" },
    "nodeConfigId": { "type": "string" },
    "fromTimestamp": { "type": "integer", "minimum": 0 },
    "instructions": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/instruction" }
    },
    "sheetId": { "type": "string" },
    "nodes": {
      "type": "array",
      "items": { "$ref": "#/$defs/element" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/element" }
    },
    "nodeKeys": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "edgeKeys": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "ids": {
      "type": "array",
      "minItems": 1,
      "maxItems": 1024
    }
  },
  "additionalProperties": false,
  "$defs": {
    "instruction": {
      "type": "object",
      "required": ["path", "op"],
      "properties": {
        "path": {
          "type": "array",
          "minItems": 1,
          "items": {
            "anyOf": [
              { "type": "string", "minLength": 1 },
              { "type": "integer", "minimum": 0 }
            ]
          }
        },
        "op": {
          "type": "string",
          "enum": ["set", "remove", "arrayAdd", "arrayRemoveIndex", "arrayMoveIndex"]
        },
        "value": {},
        "toIndex": { "type": "integer", "minimum": 0 },
        "dontApplyToMySelf": { "type": "boolean" },
        "targetedIdentifier": { "type": "string" },
        "animatePos": { "type": "boolean" },
        "animateSize": { "type": "boolean" },
        "sheetId": { "type": "string" },
        "nodeId": { "type": "string" },
        "edgeId": { "type": "string" }
      },
      "additionalProperties": false
    },
    "element": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 }
      }
    }
  }
}`

// MessageValidator validates raw inbound envelopes against the protocol
// schema. Safe for concurrent use.
type MessageValidator struct {
	messageSchema *jsonschema.Schema
}

// NewMessageValidator compiles the embedded protocol schema.
func NewMessageValidator() (*MessageValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(messageSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal message schema: %w", err)
	}
	if err := c.AddResource("https://graphsync.dev/schemas/message.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add message schema resource: %w", err)
	}
	compiled, err := c.Compile("https://graphsync.dev/schemas/message.json")
	if err != nil {
		return nil, fmt.Errorf("compile message schema: %w", err)
	}
	return &MessageValidator{messageSchema: compiled}, nil
}

// ValidateMessage checks one raw inbound message. The returned error,
// if any, carries the VALIDATION_ERROR code.
func (v *MessageValidator) ValidateMessage(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "message is not valid JSON").WithCause(err)
	}
	if err := v.messageSchema.Validate(doc); err != nil {
		return toSyncError(err)
	}
	return nil
}

// toSyncError converts a jsonschema validation failure into the
// service's error type, keeping the most specific leaf message.
func toSyncError(err error) error {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := "/"
	if len(leaf.InstanceLocation) > 0 {
		loc = "/" + strings.Join(leaf.InstanceLocation, "/")
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "invalid message at %s: %s", loc, leaf.Error())
}
