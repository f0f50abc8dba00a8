package schema

import (
	"bytes"
	"embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "mem://pdca/schemas/"

// documentSchemas maps stored filenames to their schema file.
var documentSchemas = map[string]string{
	ClientsFile:     "index.json",
	EntitiesFile:    "index.json",
	TasksFile:       "index.json",
	CyclesFile:      "index.json",
	IssuesFile:      "index.json",
	LegacyCycleFile: "index.json",
	AllTasksFile:    "index.json",
	AllCyclesFile:   "index.json",
	MasterDataFile:  "master-data.json",
	UnifiedDataFile: "unified-data.json",
}

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		entries, err := schemaFS.ReadDir("schemas")
		if err != nil {
			compileErr = err
			return
		}
		for _, e := range entries {
			raw, err := schemaFS.ReadFile("schemas/" + e.Name())
			if err != nil {
				compileErr = err
				return
			}
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
			if err != nil {
				compileErr = fmt.Errorf("schema %s: %w", e.Name(), err)
				return
			}
			if err := c.AddResource(schemaBase+e.Name(), doc); err != nil {
				compileErr = fmt.Errorf("schema %s: %w", e.Name(), err)
				return
			}
		}

		compiled = make(map[string]*jsonschema.Schema)
		for _, file := range documentSchemas {
			if _, ok := compiled[file]; ok {
				continue
			}
			sch, err := c.Compile(schemaBase + file)
			if err != nil {
				compileErr = fmt.Errorf("failed to compile %s: %w", file, err)
				return
			}
			compiled[file] = sch
		}
	})
	return compiled, compileErr
}

// ValidateDocument checks raw against the schema of filename. Unknown
// filenames are accepted as long as raw is valid JSON.
func ValidateDocument(filename string, raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%s is not valid JSON: %w", filename, err)
	}

	file, ok := documentSchemas[filename]
	if !ok {
		return nil
	}
	schemas, err := loadSchemas()
	if err != nil {
		return err
	}
	if err := schemas[file].Validate(inst); err != nil {
		return fmt.Errorf("%s does not match its schema: %w", filename, err)
	}
	return nil
}
