package relationship

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/entitysynth/errors"
)

// EdgeStore is the slice of the relationship store the validator needs:
// scan edges and update one under optimistic concurrency.
type EdgeStore interface {
	Each(ctx context.Context, fn func(*Relationship) error) error
	Update(ctx context.Context, key string, fn func(*Relationship) (*Relationship, error)) (*Relationship, error)
}

// EntityChecker answers existence queries against the entity store.
type EntityChecker interface {
	Has(ctx context.Context, guid string) (bool, error)
}

// Validator promotes proposed edges to validated once both endpoint
// entities exist. Proposed edges whose endpoints never materialize are
// left alone; the sweeper retires them when their TTL elapses, which
// bounds the retry horizon without any per-edge retry state.
type Validator struct {
	edges    EdgeStore
	entities EntityChecker
	logger   *slog.Logger
}

// NewValidator returns a validator over the given stores.
func NewValidator(edges EdgeStore, entities EntityChecker) *Validator {
	return &Validator{
		edges:    edges,
		entities: entities,
		logger:   slog.Default().With("component", "relationship-validator"),
	}
}

// ValidateOnce runs a single validation pass and returns how many edges
// it promoted. Transient store failures on individual edges are logged
// and skipped; the next pass retries them.
func (v *Validator) ValidateOnce(ctx context.Context) (int, error) {
	var candidates []string
	err := v.edges.Each(ctx, func(r *Relationship) error {
		if r.State == StateProposed {
			candidates = append(candidates, r.Key())
		}
		return nil
	})
	if err != nil {
		return 0, errors.WrapTransient(err, "validator", "validate", "scan proposed edges")
	}

	promoted := 0
	for _, key := range candidates {
		if ctx.Err() != nil {
			return promoted, ctx.Err()
		}
		ok, err := v.validateEdge(ctx, key)
		if err != nil {
			v.logger.Warn("edge validation failed", "key", key, "error", err)
			continue
		}
		if ok {
			promoted++
		}
	}
	return promoted, nil
}

func (v *Validator) validateEdge(ctx context.Context, key string) (bool, error) {
	promoted := false
	_, err := v.edges.Update(ctx, key, func(r *Relationship) (*Relationship, error) {
		if r == nil || r.State != StateProposed {
			// Raced with a concurrent pass or a delete; nothing to do.
			return r, nil
		}
		for _, guid := range []string{r.SourceGUID, r.TargetGUID} {
			exists, err := v.entities.Has(ctx, guid)
			if err != nil {
				return nil, err
			}
			if !exists {
				return r, nil
			}
		}
		next := r.Clone()
		if err := next.Advance(StateValidated); err != nil {
			return nil, err
		}
		promoted = true
		return next, nil
	})
	return promoted, err
}

// Run executes validation passes on the interval until ctx is done.
func (v *Validator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			promoted, err := v.ValidateOnce(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				v.logger.Error("validation pass failed", "error", err)
				continue
			}
			if promoted > 0 {
				v.logger.Info("promoted relationships", "count", promoted)
			}
		}
	}
}
