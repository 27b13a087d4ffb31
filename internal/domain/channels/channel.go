// Package channels implements the channel registry: named channels with an
// attached JSON Schema, compiled once per load and held only in memory.
package channels

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	ErrNotFound      = errors.New("channel not found")
	ErrInvalidSchema = errors.New("invalid schema")
	ErrDuplicateName = errors.New("duplicate channel name")
)

// Channel is a registered channel together with its compiled schema. The
// compiled form is derived from Schema on every load and never serialized.
type Channel struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Schema   json.RawMessage `json:"schema"`
	compiled *jsonschema.Schema
}

// IsValid is the fast boolean check used on the hot publish path.
func (c *Channel) IsValid(instance any) bool {
	return c.compiled.Validate(instance) == nil
}

// Validate reports every schema violation for a rejected instance. It is
// materially slower than IsValid and is only called after IsValid fails.
func (c *Channel) Validate(instance any) []Violation {
	err := c.compiled.Validate(instance)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []Violation{{Kind: "schema", Message: err.Error()}}
	}
	return flatten(ve, nil)
}

// Violation is one schema-validation failure, with JSON-pointer locators
// into the instance and the schema.
type Violation struct {
	Kind         string `json:"kind"`
	Message      string `json:"message"`
	InstancePath string `json:"instancePath"`
	SchemaPath   string `json:"schemaPath"`
}

func flatten(ve *jsonschema.ValidationError, out []Violation) []Violation {
	if len(ve.Causes) == 0 {
		return append(out, Violation{
			Kind:         keyword(ve.KeywordLocation),
			Message:      ve.Message,
			InstancePath: ve.InstanceLocation,
			SchemaPath:   ve.KeywordLocation,
		})
	}
	for _, cause := range ve.Causes {
		out = flatten(cause, out)
	}
	return out
}

func keyword(location string) string {
	if i := strings.LastIndex(location, "/"); i >= 0 {
		return location[i+1:]
	}
	return location
}

// compileSchema builds the in-memory validator for a raw schema document.
func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	compiled, err := jsonschema.CompileString("schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return compiled, nil
}
