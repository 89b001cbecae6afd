package law

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Pack is the on-disk (YAML) declaration of a ruleset.
type Pack struct {
	Version      string        `json:"version" yaml:"version"`
	Norms        []Norm        `json:"norms,omitempty" yaml:"norms,omitempty"`
	WitnessRules []WitnessRule `json:"witness_rules,omitempty" yaml:"witness_rules,omitempty"`
}

// packSchema validates pack structure before any expression is compiled, so a
// malformed file fails with a field-level error instead of a CEL one.
const packSchema = `{
  "type": "object",
  "required": ["version"],
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "norms": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "expr"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "roles": {"type": "array", "items": {"type": "string"}},
          "expr": {"type": "string", "minLength": 1}
        }
      }
    },
    "witness_rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "expr"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "witness_type": {"type": "string"},
          "roles": {"type": "array", "items": {"type": "string"}},
          "expr": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

var compiledPackSchema = jsonschema.MustCompileString("law-pack.schema.json", packSchema)

// ParsePack validates and compiles a YAML pack.
func ParsePack(data []byte) (*Ruleset, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("law: parse pack: %w", err)
	}
	if err := compiledPackSchema.Validate(normalizeYAML(generic)); err != nil {
		return nil, fmt.Errorf("law: invalid pack: %w", err)
	}

	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("law: decode pack: %w", err)
	}
	return Compile(pack.Version, pack.Norms, pack.WitnessRules)
}

// LoadPack reads and compiles a pack file.
func LoadPack(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("law: read pack %s: %w", path, err)
	}
	rs, err := ParsePack(data)
	if err != nil {
		return nil, fmt.Errorf("law: pack %s: %w", path, err)
	}
	return rs, nil
}

// normalizeYAML converts YAML-decoded values into the JSON-shaped values the
// schema validator expects (string keys, json-compatible scalars).
func normalizeYAML(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}
