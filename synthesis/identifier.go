package synthesis

import (
	"fmt"
	"strings"

	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/event"
)

// Fragment is one piece of a composite identifier: either a literal chunk
// or an attribute reference, never both.
type Fragment struct {
	Literal   string
	Attribute string
}

// IdentifierSpec resolves an event to the stable identifier string that,
// with account, domain and type, determines the entity's GUID. Exactly
// one of the three strategies is populated:
//
//   - Attribute: read a single attribute directly
//   - FallbackChain: first present non-empty attribute in order
//   - Fragments: concatenation of literals and attribute values
//
// Resolution failure is a skip signal for the rule, not a pipeline error.
type IdentifierSpec struct {
	Attribute     string
	FallbackChain []string
	Fragments     []Fragment
}

// Resolve produces the identifier for e, or ErrIdentifierUnresolved when
// a required attribute is missing or empty.
func (s IdentifierSpec) Resolve(e *event.Event) (string, error) {
	switch {
	case s.Attribute != "":
		v, ok := e.GetString(s.Attribute)
		if !ok || v == "" {
			return "", unresolved("attribute %q missing", s.Attribute)
		}
		return v, nil

	case len(s.FallbackChain) > 0:
		for _, attr := range s.FallbackChain {
			if v, ok := e.GetString(attr); ok && v != "" {
				return v, nil
			}
		}
		return "", unresolved("no attribute in chain [%s] present", strings.Join(s.FallbackChain, ", "))

	case len(s.Fragments) > 0:
		var b strings.Builder
		for _, f := range s.Fragments {
			if f.Literal != "" {
				b.WriteString(f.Literal)
				continue
			}
			v, ok := e.GetString(f.Attribute)
			if !ok || v == "" {
				return "", unresolved("fragment attribute %q missing", f.Attribute)
			}
			b.WriteString(v)
		}
		return b.String(), nil

	default:
		return "", unresolved("identifier spec is empty")
	}
}

func unresolved(format string, args ...any) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrIdentifierUnresolved, fmt.Sprintf(format, args...)),
		"synthesis", "identifier", "resolve")
}

// Validate checks that exactly one strategy is declared.
func (s IdentifierSpec) Validate() error {
	strategies := 0
	if s.Attribute != "" {
		strategies++
	}
	if len(s.FallbackChain) > 0 {
		strategies++
	}
	if len(s.Fragments) > 0 {
		strategies++
		for _, f := range s.Fragments {
			if (f.Literal == "") == (f.Attribute == "") {
				return errors.WrapInvalid(
					fmt.Errorf("%w: fragment must set exactly one of literal or attribute", errors.ErrInvalidRule),
					"synthesis", "identifier", "validate")
			}
		}
	}
	if strategies != 1 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: identifier spec must declare exactly one strategy, has %d", errors.ErrInvalidRule, strategies),
			"synthesis", "identifier", "validate")
	}
	return nil
}

// ParseIdentifierTemplate compiles a template like
// "cluster:{clusterName}:{topic}" into fragments. Text outside braces is
// literal, text inside braces is an attribute reference.
func ParseIdentifierTemplate(tmpl string) ([]Fragment, error) {
	var frags []Fragment
	rest := tmpl
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			frags = append(frags, Fragment{Literal: rest})
			break
		}
		if open > 0 {
			frags = append(frags, Fragment{Literal: rest[:open]})
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: unterminated placeholder in template %q", errors.ErrInvalidRule, tmpl),
				"synthesis", "identifier", "parse template")
		}
		attr := rest[open+1 : open+closing]
		if attr == "" {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: empty placeholder in template %q", errors.ErrInvalidRule, tmpl),
				"synthesis", "identifier", "parse template")
		}
		frags = append(frags, Fragment{Attribute: attr})
		rest = rest[open+closing+1:]
	}
	return frags, nil
}
