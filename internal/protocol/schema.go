package protocol

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/deltaknight858/Eco-sub001/internal/models"
)

//go:embed schema/event.schema.json
var eventSchema []byte

// SchemaURL is the $id of the embedded event schema.
const SchemaURL = "https://eco.schemas.local/protocol/event.schema.json"

// Schema returns a copy of the embedded JSON Schema document.
func Schema() []byte {
	return append([]byte(nil), eventSchema...)
}

// schemaPointer maps each event type to its definition in the schema document.
func schemaPointer(t models.EventType) string {
	return SchemaURL + "#/$defs/" + string(t) + "Event"
}

// compileSchemas compiles one schema per event type. A type without a
// definition fails construction, so a new type cannot ship without a schema.
func compileSchemas() (map[models.EventType]*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(SchemaURL, bytes.NewReader(eventSchema)); err != nil {
		return nil, fmt.Errorf("event schema load failed: %w", err)
	}

	out := make(map[models.EventType]*jsonschema.Schema, len(models.EventTypes()))
	for _, t := range models.EventTypes() {
		s, err := c.Compile(schemaPointer(t))
		if err != nil {
			return nil, fmt.Errorf("event schema compile failed for %s: %w", t, err)
		}
		out[t] = s
	}
	return out, nil
}
