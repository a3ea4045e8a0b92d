package record

import (
	"bytes"
	"embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var (
	schemaOnce sync.Once
	schemaSet  map[Type]*jsonschema.Schema
	schemaErr  error
)

// compiledSchema returns the compiled Draft 2020 schema for a record type.
// Schemas are embedded assets, compiled once and cached for the process.
func compiledSchema(t Type) (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schemaSet = make(map[Type]*jsonschema.Schema, len(Types))
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		for _, rt := range Types {
			name := fmt.Sprintf("schemas/%s.schema.json", rt)
			raw, err := schemaFS.ReadFile(name)
			if err != nil {
				schemaErr = fmt.Errorf("schema asset %s: %w", name, err)
				return
			}
			url := fmt.Sprintf("https://gitgov.schemas.local/%s.schema.json", rt)
			if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
				schemaErr = fmt.Errorf("schema load %s: %w", rt, err)
				return
			}
			compiled, err := c.Compile(url)
			if err != nil {
				schemaErr = fmt.Errorf("schema compile %s: %w", rt, err)
				return
			}
			schemaSet[rt] = compiled
		}
	})
	if schemaErr != nil {
		return nil, schemaErr
	}
	s, ok := schemaSet[t]
	if !ok {
		return nil, fmt.Errorf("no schema for record type %q", t)
	}
	return s, nil
}
