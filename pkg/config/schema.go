package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

//go:generate go run ../../tools/schema-gen -output-dir ../../schemas/v1alpha1

// SchemaID is the canonical location of the VoiceAgent schema.
const SchemaID = "https://fractflow.io/schemas/v1alpha1/voiceagent.json"

// durationPattern accepts the strings time.ParseDuration understands.
const durationPattern = `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

// GenerateSchema reflects the VoiceAgent JSON schema from VoiceAgentConfig.
// Constraints come from the jsonschema struct tags.
func GenerateSchema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		ExpandedStruct:            true,
		FieldNameTag:              "yaml",
		Mapper:                    mapSchemaType,
	}
	schema := r.Reflect(&VoiceAgentConfig{})
	schema.Version = "http://json-schema.org/draft-07/schema#"
	schema.ID = SchemaID
	schema.Title = KindVoice
	schema.Description = "FractFlow realtime voice agent configuration"
	schema.Properties.Set("$schema", &jsonschema.Schema{
		Type:        "string",
		Format:      "uri",
		Description: "JSON Schema reference URL",
	})
	return schema
}

// mapSchemaType overrides types whose YAML form differs from their Go kind.
func mapSchemaType(t reflect.Type) *jsonschema.Schema {
	switch t {
	case reflect.TypeOf(time.Duration(0)):
		return &jsonschema.Schema{Type: "string", Pattern: durationPattern}
	case reflect.TypeOf(metav1.ObjectMeta{}):
		stringMap := func() *jsonschema.Schema {
			return &jsonschema.Schema{Type: "object", AdditionalProperties: &jsonschema.Schema{Type: "string"}}
		}
		props := jsonschema.NewProperties()
		props.Set("name", &jsonschema.Schema{Type: "string"})
		props.Set("namespace", &jsonschema.Schema{Type: "string"})
		props.Set("labels", stringMap())
		props.Set("annotations", stringMap())
		return &jsonschema.Schema{Type: "object", Properties: props}
	}
	return nil
}

var schemaDocument = sync.OnceValues(func() ([]byte, error) {
	data, err := json.MarshalIndent(GenerateSchema(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return append(data, '\n'), nil
})

// compiledSchema compiles the reflected schema on first use.
var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	data, err := schemaDocument()
	if err != nil {
		return nil, err
	}
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
})

// SchemaJSON returns the indented VoiceAgent schema document.
func SchemaJSON() ([]byte, error) { return schemaDocument() }

// SchemaValidationError is one schema violation. Field is a dotted path
// such as "spec.realtime.cancelAckTimeout", or "(root)".
type SchemaValidationError struct {
	Field       string
	Description string
	Value       any
}

func (e SchemaValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("%s: %s (value: %v)", e.Field, e.Description, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Description)
}

// SchemaValidationResult lists the violations of one document, sorted by
// field.
type SchemaValidationResult struct {
	Valid  bool
	Errors []SchemaValidationError
}

var errEmptyManifest = errors.New("empty manifest")

// ValidateWithSchema checks a YAML manifest against the VoiceAgent schema.
// The error return is for documents that cannot be checked at all.
func ValidateWithSchema(yamlData []byte) (*SchemaValidationResult, error) {
	var doc any
	if err := yaml.Unmarshal(yamlData, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc == nil {
		return nil, errEmptyManifest
	}
	// yaml.v3 decodes mappings as map[string]any, which encoding/json
	// accepts as is.
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert to JSON: %w", err)
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("invalid voice agent schema: %w", err)
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	out := &SchemaValidationResult{Valid: res.Valid()}
	for _, re := range res.Errors() {
		out.Errors = append(out.Errors, SchemaValidationError{
			Field:       re.Field(),
			Description: re.Description(),
			Value:       re.Value(),
		})
	}
	sort.SliceStable(out.Errors, func(i, j int) bool { return out.Errors[i].Field < out.Errors[j].Field })
	return out, nil
}

// ValidateVoiceAgent validates a manifest against the schema and reports
// every violation in one error.
func ValidateVoiceAgent(yamlData []byte) error {
	res, err := ValidateWithSchema(yamlData)
	if err != nil {
		return err
	}
	if res.Valid {
		return nil
	}
	var b strings.Builder
	b.WriteString("voice agent configuration does not match schema:")
	for _, e := range res.Errors {
		b.WriteString("\n  - ")
		b.WriteString(e.Error())
	}
	return errors.New(b.String())
}
