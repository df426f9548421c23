package relationship

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/pkg/timestamp"
	"github.com/c360/entitysynth/synthesis"
)

// Strategy names the three ways a rule resolves an endpoint GUID.
type Strategy string

const (
	// StrategyBuild derives the GUID from event attributes the same way
	// entity synthesis would: account, domain, type and identifier.
	StrategyBuild Strategy = "build"
	// StrategyExtract reads a ready-made GUID from an event attribute.
	StrategyExtract Strategy = "extract"
	// StrategyLookup queries the entity store by category and
	// field-match criteria.
	StrategyLookup Strategy = "lookup"
)

// Endpoint declares how one side of an edge resolves to a GUID. Exactly
// one strategy block is populated.
type Endpoint struct {
	Strategy Strategy

	// Build fields.
	Domain                 string
	Type                   string
	Identifier             synthesis.IdentifierSpec
	EncodeIdentifierInGUID bool

	// Extract field: the event attribute carrying the GUID.
	Attribute string

	// Lookup fields: entity category plus field → event-attribute
	// criteria resolved per event.
	Category string
	Match    map[string]string
}

// Validate checks the endpoint declares exactly one complete strategy.
func (ep Endpoint) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(
			fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidRule}, args...)...),
			"relationship", "endpoint", "validate")
	}
	switch ep.Strategy {
	case StrategyBuild:
		if ep.Domain == "" || ep.Type == "" {
			return invalid("build endpoint requires domain and type")
		}
		return ep.Identifier.Validate()
	case StrategyExtract:
		if ep.Attribute == "" {
			return invalid("extract endpoint requires an attribute")
		}
	case StrategyLookup:
		if ep.Category == "" {
			return invalid("lookup endpoint requires a category")
		}
		if len(ep.Match) == 0 {
			return invalid("lookup endpoint requires match criteria")
		}
	default:
		return invalid("unknown endpoint strategy %q", ep.Strategy)
	}
	return nil
}

// Rule declares one edge type: the guard conditions, endpoint
// resolutions, and the TTL renewed each time the edge is re-observed.
type Rule struct {
	Name       string
	Conditions []synthesis.Condition
	Type       string
	TTL        time.Duration
	Source     Endpoint
	Target     Endpoint
}

// Validate checks structural soundness at load time.
func (r Rule) Validate() error {
	wrap := func(err error) error {
		return errors.WrapInvalid(err, "relationship", "rule", "validate "+r.Name)
	}
	if r.Name == "" {
		return wrap(fmt.Errorf("%w: rule missing name", errors.ErrInvalidRule))
	}
	if r.Type == "" {
		return wrap(fmt.Errorf("%w: rule missing relationship type", errors.ErrInvalidRule))
	}
	if r.TTL <= 0 {
		return wrap(fmt.Errorf("%w: rule requires a positive ttl", errors.ErrInvalidRule))
	}
	for _, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return wrap(err)
		}
	}
	if err := r.Source.Validate(); err != nil {
		return wrap(fmt.Errorf("source: %w", err))
	}
	if err := r.Target.Validate(); err != nil {
		return wrap(fmt.Errorf("target: %w", err))
	}
	return nil
}

type ruleFile struct {
	Relationships []ruleDef `yaml:"relationships"`
}

type ruleDef struct {
	Name       string        `yaml:"name"`
	Type       string        `yaml:"relationshipType"`
	TTL        string        `yaml:"ttl"`
	Conditions []condDef     `yaml:"conditions"`
	Source     endpointDef   `yaml:"source"`
	Target     endpointDef   `yaml:"target"`
}

type condDef struct {
	Attribute string `yaml:"attribute"`
	Value     any    `yaml:"value"`
	Present   *bool  `yaml:"present"`
	AnyOf     []any  `yaml:"anyOf"`
	Negate    bool   `yaml:"negate"`
}

type endpointDef struct {
	BuildGuid   *buildDef   `yaml:"buildGuid"`
	ExtractGuid *extractDef `yaml:"extractGuid"`
	LookupGuid  *lookupDef  `yaml:"lookupGuid"`
}

type buildDef struct {
	Domain                 string `yaml:"domain"`
	Type                   string `yaml:"type"`
	Identifier             any    `yaml:"identifier"`
	EncodeIdentifierInGUID bool   `yaml:"encodeIdentifierInGUID"`
}

type extractDef struct {
	Attribute string `yaml:"attribute"`
}

type lookupDef struct {
	Category string            `yaml:"category"`
	Match    map[string]string `yaml:"match"`
}

// LoadRules parses every .yml/.yaml file under dir into validated rules,
// sorted by path for deterministic ordering.
func LoadRules(dir string) ([]Rule, error) {
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
		return nil, errors.WrapTransient(err, "relationship", "loader", "walk "+dir)
	}
	sort.Strings(paths)

	var rules []Rule
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapTransient(err, "relationship", "loader", "read "+path)
		}
		var file ruleFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, errors.WrapInvalid(err, "relationship", "loader", "parse "+path)
		}
		for i, def := range file.Relationships {
			rule, err := compileRule(def)
			if err != nil {
				return nil, fmt.Errorf("%s: relationship %d: %w", path, i, err)
			}
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

func compileRule(def ruleDef) (Rule, error) {
	rule := Rule{Name: def.Name, Type: def.Type}

	if def.TTL != "" {
		d, never, err := timestamp.ParseTTL(def.TTL)
		if err != nil {
			return Rule{}, errors.WrapInvalid(
				fmt.Errorf("%w: ttl: %v", errors.ErrInvalidRule, err),
				"relationship", "loader", "parse ttl")
		}
		if never {
			return Rule{}, errors.WrapInvalid(
				fmt.Errorf("%w: relationships may not be permanent", errors.ErrInvalidRule),
				"relationship", "loader", "parse ttl")
		}
		rule.TTL = d
	}

	for _, cd := range def.Conditions {
		cond, err := compileCondition(cd)
		if err != nil {
			return Rule{}, err
		}
		rule.Conditions = append(rule.Conditions, cond)
	}

	var err error
	if rule.Source, err = compileEndpoint(def.Source); err != nil {
		return Rule{}, fmt.Errorf("source: %w", err)
	}
	if rule.Target, err = compileEndpoint(def.Target); err != nil {
		return Rule{}, fmt.Errorf("target: %w", err)
	}

	return rule, rule.Validate()
}

func compileCondition(cd condDef) (synthesis.Condition, error) {
	cond := synthesis.Condition{Attribute: cd.Attribute, Negate: cd.Negate}
	switch {
	case cd.Value != nil:
		cond.Kind = synthesis.AttributeEquals
		cond.Value = fmt.Sprintf("%v", cd.Value)
	case len(cd.AnyOf) > 0:
		cond.Kind = synthesis.AttributeAnyOf
		for _, v := range cd.AnyOf {
			cond.Values = append(cond.Values, fmt.Sprintf("%v", v))
		}
	case cd.Present != nil && !*cd.Present:
		cond.Kind = synthesis.AttributeAbsent
	default:
		cond.Kind = synthesis.AttributePresent
	}
	return cond, cond.Validate()
}

func compileEndpoint(def endpointDef) (Endpoint, error) {
	declared := 0
	var ep Endpoint
	if def.BuildGuid != nil {
		declared++
		spec, err := compileIdentifier(def.BuildGuid.Identifier)
		if err != nil {
			return Endpoint{}, err
		}
		ep = Endpoint{
			Strategy:               StrategyBuild,
			Domain:                 def.BuildGuid.Domain,
			Type:                   def.BuildGuid.Type,
			Identifier:             spec,
			EncodeIdentifierInGUID: def.BuildGuid.EncodeIdentifierInGUID,
		}
	}
	if def.ExtractGuid != nil {
		declared++
		ep = Endpoint{Strategy: StrategyExtract, Attribute: def.ExtractGuid.Attribute}
	}
	if def.LookupGuid != nil {
		declared++
		ep = Endpoint{
			Strategy: StrategyLookup,
			Category: def.LookupGuid.Category,
			Match:    def.LookupGuid.Match,
		}
	}
	if declared != 1 {
		return Endpoint{}, errors.WrapInvalid(
			fmt.Errorf("%w: endpoint must declare exactly one of buildGuid, extractGuid, lookupGuid", errors.ErrInvalidRule),
			"relationship", "loader", "compile endpoint")
	}
	return ep, nil
}

func compileIdentifier(raw any) (synthesis.IdentifierSpec, error) {
	switch v := raw.(type) {
	case string:
		if strings.ContainsRune(v, '{') {
			frags, err := synthesis.ParseIdentifierTemplate(v)
			if err != nil {
				return synthesis.IdentifierSpec{}, err
			}
			return synthesis.IdentifierSpec{Fragments: frags}, nil
		}
		return synthesis.IdentifierSpec{Attribute: v}, nil
	case []any:
		chain := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return synthesis.IdentifierSpec{}, errors.WrapInvalid(
					fmt.Errorf("%w: identifier chain entries must be strings", errors.ErrInvalidRule),
					"relationship", "loader", "compile identifier")
			}
			chain = append(chain, s)
		}
		return synthesis.IdentifierSpec{FallbackChain: chain}, nil
	default:
		return synthesis.IdentifierSpec{}, errors.WrapInvalid(
			fmt.Errorf("%w: identifier must be a string or list", errors.ErrInvalidRule),
			"relationship", "loader", "compile identifier")
	}
}
