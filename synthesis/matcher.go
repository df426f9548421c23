package synthesis

import (
	"github.com/c360/entitysynth/event"
)

// Match pairs an event with the rule selected for one entity type.
// AmbiguousWith counts the additional rules of the same type that also
// matched but were shadowed by declaration order; callers surface it as
// an operator signal rather than failing the event.
type Match struct {
	Type          *TypeRules
	Rule          *Rule
	AmbiguousWith int
}

// MatchEvent selects rules for an event across every type in the
// snapshot. Within a type the first matching rule in declaration order
// wins; across types every match stands, since one event may legitimately
// describe several entities (a cluster sample names both the cluster and
// the broker). An empty result is the normal skip path for events no rule
// covers.
func MatchEvent(types []*TypeRules, e *event.Event) []Match {
	var matches []Match
	for _, tr := range types {
		var selected *Rule
		extra := 0
		for i := range tr.Rules {
			rule := &tr.Rules[i]
			if !MatchesAll(rule.Conditions, e) {
				continue
			}
			if selected == nil {
				selected = rule
			} else {
				extra++
			}
		}
		if selected != nil {
			matches = append(matches, Match{Type: tr, Rule: selected, AmbiguousWith: extra})
		}
	}
	return matches
}
