package progress

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed record_schema.json
var recordSchemaJSON string

var recordSchema = jsonschema.MustCompileString("record_schema.json", recordSchemaJSON)

// validateRecord checks a stored record's shape before it is trusted. Extra
// keys are allowed so files written by newer builds still load; wrong types
// on the keys this build owns are treated like any other corruption.
func validateRecord(name string, raw json.RawMessage) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("record %q: %w", name, err)
	}
	if err := recordSchema.Validate(doc); err != nil {
		return fmt.Errorf("record %q: %w", name, err)
	}
	return nil
}
