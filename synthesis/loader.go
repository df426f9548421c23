package synthesis

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/pkg/timestamp"
)

// Default entity lifetimes applied when a definition file does not set
// entityExpirationTime. Containers churn fast and default much shorter.
const (
	defaultExpiration          = 8 * 24 * time.Hour
	defaultContainerExpiration = 4 * time.Hour
)

// ruleFileSchema validates the shape of a definition file before any
// typed decoding happens, so authoring mistakes fail with a path into the
// document instead of a zero-valued rule.
const ruleFileSchema = `{
  "type": "object",
  "required": ["domain", "type", "rules"],
  "properties": {
    "domain": {"type": "string", "pattern": "^[A-Z][A-Z0-9_]*$"},
    "type": {"type": "string", "pattern": "^[A-Z][A-Z0-9_]*$"},
    "goldenTags": {"type": "array", "items": {"type": "string"}},
    "configuration": {
      "type": "object",
      "properties": {
        "entityExpirationTime": {"type": "string"},
        "alertable": {"type": "boolean"},
        "isContainer": {"type": "boolean"}
      },
      "additionalProperties": false
    },
    "healthRules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["status", "when"],
        "properties": {
          "status": {"type": "string"},
          "when": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["tag", "operator"],
              "properties": {
                "tag": {"type": "string"},
                "operator": {"type": "string"},
                "value": {},
                "values": {"type": "array"}
              },
              "additionalProperties": false
            }
          }
        },
        "additionalProperties": false
      }
    },
    "rules": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["identifier"],
        "properties": {
          "identifier": {"type": ["string", "array"]},
          "name": {"type": "string"},
          "encodeIdentifierInGUID": {"type": "boolean"},
          "conditions": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["attribute"],
              "properties": {
                "attribute": {"type": "string"},
                "value": {},
                "present": {"type": "boolean"},
                "anyOf": {"type": "array"},
                "negate": {"type": "boolean"}
              },
              "additionalProperties": false
            }
          },
          "tags": {"type": "object"}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

type fileDef struct {
	Domain        string              `yaml:"domain"`
	Type          string              `yaml:"type"`
	GoldenTags    []string            `yaml:"goldenTags"`
	Configuration configDef           `yaml:"configuration"`
	HealthRules   []healthDef         `yaml:"healthRules"`
	Rules         []ruleDef           `yaml:"rules"`
}

type configDef struct {
	EntityExpirationTime string `yaml:"entityExpirationTime"`
	Alertable            bool   `yaml:"alertable"`
	IsContainer          bool   `yaml:"isContainer"`
}

type healthDef struct {
	Status string         `yaml:"status"`
	When   []healthCondDef `yaml:"when"`
}

type healthCondDef struct {
	Tag      string `yaml:"tag"`
	Operator string `yaml:"operator"`
	Value    any    `yaml:"value"`
	Values   []any  `yaml:"values"`
}

type ruleDef struct {
	// Identifier is a string (attribute reference, or a template with
	// {attr} placeholders) or a list of strings (fallback chain).
	Identifier             any               `yaml:"identifier"`
	Name                   string            `yaml:"name"`
	EncodeIdentifierInGUID bool              `yaml:"encodeIdentifierInGUID"`
	Conditions             []condDef         `yaml:"conditions"`
	Tags                   map[string]tagDef `yaml:"tags"`
}

type condDef struct {
	Attribute string `yaml:"attribute"`
	Value     any    `yaml:"value"`
	Present   *bool  `yaml:"present"`
	AnyOf     []any  `yaml:"anyOf"`
	Negate    bool   `yaml:"negate"`
}

type tagDef struct {
	Value             *string  `yaml:"value"`
	Attribute         string   `yaml:"attribute"`
	FallbackAttribute []string `yaml:"fallbackAttribute"`
	EntityTagName     string   `yaml:"entityTagName"`
	TTL               string   `yaml:"ttl"`
}

// Loader reads entity definition files into validated TypeRules blocks.
type Loader struct {
	schema *gojsonschema.Schema
}

// NewLoader compiles the definition-file schema once for reuse across
// files and reloads.
func NewLoader() (*Loader, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(ruleFileSchema))
	if err != nil {
		return nil, errors.WrapFatal(err, "synthesis", "loader", "compile schema")
	}
	return &Loader{schema: schema}, nil
}

// LoadFile parses and validates a single definition file.
func (l *Loader) LoadFile(path string) (*TypeRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapTransient(err, "synthesis", "loader", "read "+path)
	}
	tr, err := l.parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tr, nil
}

// LoadDir loads every .yml/.yaml file under dir, sorted by path so
// snapshot construction is deterministic.
func (l *Loader) LoadDir(dir string) ([]*TypeRules, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yml", ".yaml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "synthesis", "loader", "walk "+dir)
	}
	sort.Strings(paths)

	types := make([]*TypeRules, 0, len(paths))
	for _, path := range paths {
		tr, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		types = append(types, tr)
	}
	return types, nil
}

// LoadSnapshot loads a directory and compiles the result into a snapshot.
func (l *Loader) LoadSnapshot(dir string) (*Snapshot, error) {
	types, err := l.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(types)
}

func (l *Loader) parse(data []byte) (*TypeRules, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapInvalid(err, "synthesis", "loader", "parse yaml")
	}
	result, err := l.schema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, errors.WrapInvalid(err, "synthesis", "loader", "validate schema")
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidRule, strings.Join(details, "; ")),
			"synthesis", "loader", "validate schema")
	}

	var def fileDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, errors.WrapInvalid(err, "synthesis", "loader", "decode definition")
	}
	return compileFile(&def)
}

func compileFile(def *fileDef) (*TypeRules, error) {
	cfg, err := compileConfig(def.Configuration)
	if err != nil {
		return nil, err
	}

	tr := &TypeRules{
		Domain:     def.Domain,
		Type:       def.Type,
		Config:     cfg,
		GoldenTags: def.GoldenTags,
	}

	for _, h := range def.HealthRules {
		hd := HealthRuleDef{Status: strings.ToUpper(h.Status)}
		for _, c := range h.When {
			cond := TagConditionDef{
				Tag:      c.Tag,
				Operator: c.Operator,
				Value:    stringifyScalar(c.Value),
			}
			for _, v := range c.Values {
				cond.Values = append(cond.Values, stringifyScalar(v))
			}
			hd.When = append(hd.When, cond)
		}
		tr.HealthRules = append(tr.HealthRules, hd)
	}

	for i, rd := range def.Rules {
		rule, err := compileRule(rd)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		tr.Rules = append(tr.Rules, rule)
	}

	if err := tr.Validate(); err != nil {
		return nil, err
	}
	return tr, nil
}

func compileConfig(cd configDef) (TypeConfig, error) {
	cfg := TypeConfig{
		Alertable:        cd.Alertable,
		IsContainer:      cd.IsContainer,
		EntityExpiration: defaultExpiration,
	}
	if cd.IsContainer {
		cfg.EntityExpiration = defaultContainerExpiration
	}
	if cd.EntityExpirationTime != "" {
		d, never, err := timestamp.ParseTTL(cd.EntityExpirationTime)
		if err != nil {
			return TypeConfig{}, errors.WrapInvalid(
				fmt.Errorf("%w: entityExpirationTime: %v", errors.ErrInvalidRule, err),
				"synthesis", "loader", "parse expiration")
		}
		cfg.EntityExpiration = d
		cfg.NeverExpires = never
	}
	return cfg, nil
}

func compileRule(rd ruleDef) (Rule, error) {
	rule := Rule{
		NameAttribute:          rd.Name,
		EncodeIdentifierInGUID: rd.EncodeIdentifierInGUID,
	}

	spec, err := compileIdentifier(rd.Identifier)
	if err != nil {
		return Rule{}, err
	}
	rule.Identifier = spec

	for _, cd := range rd.Conditions {
		cond, err := compileCondition(cd)
		if err != nil {
			return Rule{}, err
		}
		rule.Conditions = append(rule.Conditions, cond)
	}

	if len(rd.Tags) > 0 {
		rule.Tags = make(map[string]TagMapping, len(rd.Tags))
		for key, td := range rd.Tags {
			tm, err := compileTag(td)
			if err != nil {
				return Rule{}, fmt.Errorf("tag %q: %w", key, err)
			}
			rule.Tags[key] = tm
		}
	}
	return rule, nil
}

func compileIdentifier(raw any) (IdentifierSpec, error) {
	switch v := raw.(type) {
	case string:
		if strings.ContainsRune(v, '{') {
			frags, err := ParseIdentifierTemplate(v)
			if err != nil {
				return IdentifierSpec{}, err
			}
			return IdentifierSpec{Fragments: frags}, nil
		}
		return IdentifierSpec{Attribute: v}, nil
	case []any:
		chain := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return IdentifierSpec{}, errors.WrapInvalid(
					fmt.Errorf("%w: identifier chain entries must be strings", errors.ErrInvalidRule),
					"synthesis", "loader", "compile identifier")
			}
			chain = append(chain, s)
		}
		return IdentifierSpec{FallbackChain: chain}, nil
	default:
		return IdentifierSpec{}, errors.WrapInvalid(
			fmt.Errorf("%w: identifier must be a string or list", errors.ErrInvalidRule),
			"synthesis", "loader", "compile identifier")
	}
}

func compileCondition(cd condDef) (Condition, error) {
	cond := Condition{Attribute: cd.Attribute, Negate: cd.Negate}
	switch {
	case cd.Value != nil:
		cond.Kind = AttributeEquals
		cond.Value = stringifyScalar(cd.Value)
	case len(cd.AnyOf) > 0:
		cond.Kind = AttributeAnyOf
		for _, v := range cd.AnyOf {
			cond.Values = append(cond.Values, stringifyScalar(v))
		}
	case cd.Present != nil && !*cd.Present:
		cond.Kind = AttributeAbsent
	default:
		// Bare {attribute: x} or explicit present: true.
		cond.Kind = AttributePresent
	}
	return cond, cond.Validate()
}

func compileTag(td tagDef) (TagMapping, error) {
	tm := TagMapping{
		SourceAttribute: td.Attribute,
		FallbackChain:   td.FallbackAttribute,
		EntityTagName:   td.EntityTagName,
	}
	if td.Value != nil {
		tm.Value = *td.Value
		tm.HasValue = true
	}
	if td.TTL != "" {
		d, never, err := timestamp.ParseTTL(td.TTL)
		if err != nil {
			return TagMapping{}, errors.WrapInvalid(
				fmt.Errorf("%w: ttl: %v", errors.ErrInvalidRule, err),
				"synthesis", "loader", "parse tag ttl")
		}
		if !never {
			tm.TTL = d
		}
	}
	return tm, nil
}

// stringifyScalar renders a YAML scalar the same way event attribute
// values stringify, so rule operands and event values compare cleanly.
func stringifyScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
