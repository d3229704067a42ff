// Package stages loads task-stage definitions from JSON files and fetches
// the matching responses from the venue API.
//
// Two kinds of stages exist. Per-user stages collect one response per
// committee member, keyed by the responder's ID. Per-submission stages
// (reply_to == "forum") collect one response per submission, keyed by the
// submission ID, with the responder recorded under the "_responder" field.
package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/venuelab/confmirror/internal/venue"
)

// ResponderField keys the responder ID inside a per-submission response.
const ResponderField = "_responder"

const definitionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "content"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "committee": {"type": "string"},
    "reply_to": {"type": "string"},
    "content": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "value": {
            "type": "object",
            "properties": {
              "param": {
                "type": "object",
                "properties": {
                  "enum": {"type": "array", "items": {"type": "string"}},
                  "short": {"type": "array", "items": {"type": "string"}}
                }
              }
            }
          }
        }
      }
    }
  }
}`

// FieldParam carries the allowed values of a response field. When short is
// present and the same length as enum, responses are rewritten to the short
// form before storage.
type FieldParam struct {
	Enum  []string `json:"enum,omitempty"`
	Short []string `json:"short,omitempty"`
}

type FieldValue struct {
	Param FieldParam `json:"param"`
}

type Field struct {
	Value FieldValue `json:"value"`
}

// Definition describes one task stage as read from a JSON file.
type Definition struct {
	Name      string           `json:"name"`
	Committee string           `json:"committee,omitempty"`
	ReplyTo   string           `json:"reply_to,omitempty"`
	Content   map[string]Field `json:"content"`
}

// PerSubmission reports whether responses attach to submissions rather than
// to individual committee members.
func (d Definition) PerSubmission() bool {
	return d.ReplyTo == "forum"
}

// FieldNames returns the response fields in deterministic order.
func (d Definition) FieldNames() []string {
	names := make([]string, 0, len(d.Content))
	for name := range d.Content {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnumMapping returns, per field, the long-to-short value translation. Fields
// without a complete enum/short pair are absent.
func (d Definition) EnumMapping() map[string]map[string]string {
	mapping := map[string]map[string]string{}
	for name, field := range d.Content {
		param := field.Value.Param
		if len(param.Enum) == 0 || len(param.Enum) != len(param.Short) {
			continue
		}
		values := make(map[string]string, len(param.Enum))
		for i, long := range param.Enum {
			values[long] = param.Short[i]
		}
		mapping[name] = values
	}
	return mapping
}

func compiledSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchema))
	if err != nil {
		return nil, fmt.Errorf("parse stage schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("stage.schema.json", doc); err != nil {
		return nil, fmt.Errorf("register stage schema: %w", err)
	}
	schema, err := compiler.Compile("stage.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile stage schema: %w", err)
	}
	return schema, nil
}

// LoadDefinition reads and validates a single stage definition file.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read stage definition %s: %w", path, err)
	}
	schema, err := compiledSchema()
	if err != nil {
		return Definition{}, err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Definition{}, fmt.Errorf("parse stage definition %s: %w", path, err)
	}
	if err := schema.Validate(instance); err != nil {
		return Definition{}, fmt.Errorf("invalid stage definition %s: %w", path, err)
	}
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("decode stage definition %s: %w", path, err)
	}
	return def, nil
}

// LoadAll reads every *.json definition under dir. Files that fail to load
// are logged and skipped; a missing directory yields no definitions.
func LoadAll(dir string, log *zap.Logger) ([]Definition, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scan stage directory %s: %w", dir, err)
	}
	sort.Strings(paths)
	var defs []Definition
	for _, path := range paths {
		def, err := LoadDefinition(path)
		if err != nil {
			log.Warn("skipping stage definition", zap.String("path", path), zap.Error(err))
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// FetchResponses pulls all responses for the stage from the venue.
//
// Per-user stages return {responder: {field: value}}. Per-submission stages
// return {submission: {field: value, "_responder": responder}}. Enum values
// are translated to their short form where a mapping exists.
func FetchResponses(ctx context.Context, client venue.Client, venueID string, def Definition) (map[string]map[string]string, error) {
	if def.PerSubmission() {
		return fetchPerSubmission(ctx, client, venueID, def)
	}
	return fetchPerUser(ctx, client, venueID, def)
}

func fetchPerUser(ctx context.Context, client venue.Client, venueID string, def Definition) (map[string]map[string]string, error) {
	invitation := venueID + "/-/" + def.Name
	committee := def.Committee
	if committee == "" {
		committee = "Authors"
	}
	if strings.EqualFold(committee, "Authors") {
		invitation = venueID + "/Authors/-/" + def.Name
	}

	notes, err := client.ListAllNotes(ctx, venue.NoteQuery{Invitation: invitation})
	if err != nil {
		return nil, fmt.Errorf("fetch %s responses: %w", def.Name, err)
	}

	mapping := def.EnumMapping()
	fields := def.FieldNames()
	responses := map[string]map[string]string{}
	for _, note := range notes {
		if len(note.Signatures) == 0 || note.Signatures[0] == "" {
			continue
		}
		responses[note.Signatures[0]] = extractFields(note.Content, fields, mapping)
	}
	return responses, nil
}

func fetchPerSubmission(ctx context.Context, client venue.Client, venueID string, def Definition) (map[string]map[string]string, error) {
	submissions, err := client.ListAllNotes(ctx, venue.NoteQuery{
		Invitation: venueID + "/-/Submission",
		Details:    "replies",
	})
	if err != nil {
		return nil, fmt.Errorf("fetch submissions with replies for %s: %w", def.Name, err)
	}

	mapping := def.EnumMapping()
	fields := def.FieldNames()
	responses := map[string]map[string]string{}
	for _, submission := range submissions {
		if submission.Details == nil {
			continue
		}
		for _, reply := range submission.Details.Replies {
			if !reply.HasInvitationContaining(def.Name) {
				continue
			}
			if len(reply.Signatures) == 0 || reply.Signatures[0] == "" {
				continue
			}
			response := extractFields(reply.Content, fields, mapping)
			response[ResponderField] = reply.Signatures[0]
			responses[submission.ID] = response
		}
	}
	return responses, nil
}

func extractFields(content venue.Content, fields []string, mapping map[string]map[string]string) map[string]string {
	response := make(map[string]string, len(fields))
	for _, name := range fields {
		raw := content.String(name)
		if short, ok := mapping[name][raw]; ok {
			raw = short
		}
		response[name] = raw
	}
	return response
}
