package protocol

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://schemas.crisis-monitor.local/"

// shared schemas that are not message types
const (
	envelopeSchema = "envelope"
	tonalitySchema = "tonality"
)

var violationPrinter = message.NewPrinter(language.English)

// schemaSet holds the compiled envelope schema and one schema per
// message type.
type schemaSet struct {
	envelope *jsonschema.Schema
	messages map[string]*jsonschema.Schema
}

var schemas = mustLoadSchemas()

func mustLoadSchemas() *schemaSet {
	set, err := loadSchemas()
	if err != nil {
		panic(fmt.Sprintf("protocol schemas: %v", err))
	}
	return set
}

func loadSchemas() (*schemaSet, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	var names []string
	for _, e := range entries {
		raw, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, err
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Name(), err)
		}
		if err := compiler.AddResource(schemaBaseURL+e.Name(), doc); err != nil {
			return nil, fmt.Errorf("add %s: %w", e.Name(), err)
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}

	set := &schemaSet{messages: make(map[string]*jsonschema.Schema)}
	for _, name := range names {
		sch, err := compiler.Compile(schemaBaseURL + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		switch name {
		case envelopeSchema:
			set.envelope = sch
		case tonalitySchema:
		default:
			set.messages[name] = sch
		}
	}
	if set.envelope == nil {
		return nil, fmt.Errorf("envelope schema missing")
	}
	return set, nil
}

// SupportedTypes lists every message type the handler accepts
func SupportedTypes() []string {
	types := make([]string, 0, len(schemas.messages))
	for t := range schemas.messages {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// validate returns one line per leaf violation, or nil when doc conforms
func validate(sch *jsonschema.Schema, doc any) []string {
	err := sch.Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{fmt.Sprintf("schema: %v", err)}
	}
	var out []string
	collectViolations(ve, &out)
	return out
}

func collectViolations(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/" + strings.Join(ve.InstanceLocation, "/")
		*out = append(*out, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(violationPrinter)))
		return
	}
	for _, c := range ve.Causes {
		collectViolations(c, out)
	}
}
