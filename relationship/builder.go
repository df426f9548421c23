package relationship

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/entitysynth/entity"
	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/event"
	"github.com/c360/entitysynth/pkg/retry"
	"github.com/c360/entitysynth/pkg/timestamp"
	"github.com/c360/entitysynth/synthesis"
)

// EntityFinder is the slice of the entity store the builder needs for
// lookup-strategy endpoints.
type EntityFinder interface {
	FindByFields(ctx context.Context, category string, match map[string]string) ([]*entity.Entity, error)
}

// BuilderConfig bounds the external lookups a single event may trigger.
type BuilderConfig struct {
	// LookupTimeout caps one store query. A timed-out lookup skips the
	// edge for this event; the next matching event retries naturally.
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
	// LookupRate throttles store queries across all events.
	LookupRate  rate.Limit `yaml:"lookup_rate"`
	LookupBurst int        `yaml:"lookup_burst"`
}

// DefaultBuilderConfig keeps lookups cheap enough that a hostile event
// shape cannot stall the pipeline.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		LookupTimeout: 2 * time.Second,
		LookupRate:    rate.Limit(100),
		LookupBurst:   200,
	}
}

// Builder evaluates relationship rules against events and emits proposed
// edges. Endpoint resolution failures skip the edge, never the event:
// relationship synthesis is strictly best-effort on top of entity
// synthesis.
type Builder struct {
	rules    []Rule
	finder   EntityFinder
	limiter  *rate.Limiter
	retryCfg retry.Config
	timeout  time.Duration
	logger   *slog.Logger
}

// NewBuilder compiles the rule set into a builder. finder may be nil when
// no rule uses the lookup strategy.
func NewBuilder(rules []Rule, finder EntityFinder, cfg BuilderConfig) (*Builder, error) {
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		if rule.Source.Strategy == StrategyLookup || rule.Target.Strategy == StrategyLookup {
			if finder == nil {
				return nil, errors.WrapInvalid(
					fmt.Errorf("%w: rule %q uses lookup but no entity finder is configured",
						errors.ErrInvalidConfig, rule.Name),
					"relationship", "builder", "validate rules")
			}
		}
	}
	return &Builder{
		rules:    rules,
		finder:   finder,
		limiter:  rate.NewLimiter(cfg.LookupRate, cfg.LookupBurst),
		retryCfg: retry.Lookup(),
		timeout:  cfg.LookupTimeout,
		logger:   slog.Default().With("component", "relationship-builder"),
	}, nil
}

// Propose evaluates every rule against e and returns the edges whose
// endpoints both resolved. Skipped edges are logged at debug and counted
// by the caller; they are not errors.
func (b *Builder) Propose(ctx context.Context, e *event.Event) ([]*Relationship, error) {
	var edges []*Relationship
	for i := range b.rules {
		rule := &b.rules[i]
		if !synthesis.MatchesAll(rule.Conditions, e) {
			continue
		}

		edge, err := b.propose(ctx, rule, e)
		if err != nil {
			if errors.IsSkip(err) || errors.Is(err, errors.ErrRelationshipSelfLoop) ||
				errors.Is(err, errors.ErrAmbiguousMatch) || errors.Is(err, errors.ErrResolutionUnavailable) {
				b.logger.Debug("skipping relationship",
					"rule", rule.Name,
					"reason", err)
				continue
			}
			return edges, err
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

func (b *Builder) propose(ctx context.Context, rule *Rule, e *event.Event) (*Relationship, error) {
	source, err := b.resolve(ctx, rule.Source, e)
	if err != nil {
		return nil, fmt.Errorf("rule %q source: %w", rule.Name, err)
	}
	target, err := b.resolve(ctx, rule.Target, e)
	if err != nil {
		return nil, fmt.Errorf("rule %q target: %w", rule.Name, err)
	}
	if source == target {
		return nil, fmt.Errorf("rule %q: %w: %s", rule.Name, errors.ErrRelationshipSelfLoop, source)
	}

	return &Relationship{
		SourceGUID:        source,
		TargetGUID:        target,
		Type:              rule.Type,
		State:             StateProposed,
		CreatedAt:         timestamp.Now(),
		LastSeenEventTime: e.Timestamp,
		ExpiresAt:         timestamp.Add(e.Timestamp, rule.TTL),
	}, nil
}

func (b *Builder) resolve(ctx context.Context, ep Endpoint, e *event.Event) (string, error) {
	switch ep.Strategy {
	case StrategyBuild:
		identifier, err := ep.Identifier.Resolve(e)
		if err != nil {
			return "", err
		}
		return synthesis.GUID(e.AccountID, ep.Domain, ep.Type, identifier, ep.EncodeIdentifierInGUID), nil

	case StrategyExtract:
		guid, ok := e.GetString(ep.Attribute)
		if !ok || guid == "" {
			return "", fmt.Errorf("%w: attribute %q missing", errors.ErrIdentifierUnresolved, ep.Attribute)
		}
		return guid, nil

	case StrategyLookup:
		return b.lookup(ctx, ep, e)

	default:
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: unknown strategy %q", errors.ErrInvalidRule, ep.Strategy),
			"relationship", "builder", "resolve endpoint")
	}
}

// lookup resolves an endpoint through the entity store: rate-limited,
// bounded by a per-query timeout, retried on transient failure. A miss or
// an ambiguous match skips the edge; the matching entity may simply not
// have been synthesized yet.
func (b *Builder) lookup(ctx context.Context, ep Endpoint, e *event.Event) (string, error) {
	match := make(map[string]string, len(ep.Match))
	for field, attr := range ep.Match {
		v, ok := e.GetString(attr)
		if !ok || v == "" {
			return "", fmt.Errorf("%w: lookup attribute %q missing", errors.ErrIdentifierUnresolved, attr)
		}
		match[field] = v
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return "", errors.WrapTransient(err, "relationship", "builder", "rate limit lookup")
	}

	found, err := retry.DoWithResult(ctx, b.retryCfg, func() ([]*entity.Entity, error) {
		lookupCtx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		return b.finder.FindByFields(lookupCtx, ep.Category, match)
	})
	if err != nil {
		return "", fmt.Errorf("%w: lookup in category %q: %v", errors.ErrResolutionUnavailable, ep.Category, err)
	}

	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: no entity in category %q matches", errors.ErrIdentifierUnresolved, ep.Category)
	case 1:
		return found[0].GUID, nil
	default:
		return "", fmt.Errorf("%w: %d entities in category %q match", errors.ErrAmbiguousMatch, len(found), ep.Category)
	}
}
