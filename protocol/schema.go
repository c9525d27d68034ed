package protocol

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const successSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["type", "id", "result"],
	"properties": {
		"type": {"const": "success"},
		"id": {"type": "integer", "minimum": 0},
		"result": {"type": "object"}
	}
}`

const errorSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["type", "id", "error", "message"],
	"properties": {
		"type": {"const": "error"},
		"id": {"type": ["integer", "null"], "minimum": 0},
		"error": {"type": "string"},
		"message": {"type": "string"},
		"stacktrace": {"type": "string"}
	}
}`

const eventSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["type", "method", "params"],
	"properties": {
		"type": {"const": "event"},
		"method": {"type": "string", "minLength": 1},
		"params": {"type": "object"}
	}
}`

// messageSchemas holds the compiled shape of each inbound message kind.
var messageSchemas = map[MessageType]*gojsonschema.Schema{
	MessageTypeSuccess: mustCompileSchema(MessageTypeSuccess, successSchema),
	MessageTypeError:   mustCompileSchema(MessageTypeError, errorSchema),
	MessageTypeEvent:   mustCompileSchema(MessageTypeEvent, eventSchema),
}

func mustCompileSchema(kind MessageType, src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compiling %s message schema: %v", kind, err))
	}
	return schema
}

// validateShape checks data against the schema for kind. The returned error lists
// every violation.
func validateShape(kind MessageType, data []byte) error {
	schema, ok := messageSchemas[kind]
	if !ok {
		return fmt.Errorf("no schema for message type %q", kind)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validating %s message: %w", kind, err)
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("%s message does not match its shape: %s", kind, strings.Join(problems, "; "))
}
