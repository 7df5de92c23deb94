package tools

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaCache sync.Map

var ErrInvalidParams = errors.New("invalid params")

// ValidateParams checks params against the tool's embedded JSON schema.
func ValidateParams(tool string, params map[string]any) error {
	if _, err := Lookup(tool); err != nil {
		return err
	}
	schema, err := loadSchema(tool)
	if err != nil {
		return err
	}
	var doc any = params
	if params == nil {
		doc = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if result.Valid() {
		return nil
	}
	if len(result.Errors()) == 0 {
		return ErrInvalidParams
	}
	return fmt.Errorf("%w: %s", ErrInvalidParams, result.Errors()[0].String())
}

func loadSchema(tool string) (*gojsonschema.Schema, error) {
	if val, ok := schemaCache.Load(tool); ok {
		return val.(*gojsonschema.Schema), nil
	}
	data, err := schemaFS.ReadFile("schemas/" + tool + ".json")
	if err != nil {
		return nil, err
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, err
	}
	schemaCache.Store(tool, schema)
	return schema, nil
}
