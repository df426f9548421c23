// Package engine wires the synthesis pipeline: rule matching, identity
// derivation, deduplication, event-time merging, relationship proposal
// and output publishing, scheduled on a key-sharded worker pool so every
// entity sees its updates in submission order.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/entitysynth/component"
	"github.com/c360/entitysynth/dedup"
	"github.com/c360/entitysynth/entity"
	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/event"
	"github.com/c360/entitysynth/metric"
	"github.com/c360/entitysynth/pkg/worker"
	"github.com/c360/entitysynth/relationship"
	"github.com/c360/entitysynth/store"
	"github.com/c360/entitysynth/synthesis"
)

// task is one unit of sharded work: either an entity mutation or the
// relationship pass for an event.
type task struct {
	event *event.Event
	match *synthesis.Match // nil for the relationship pass
	guid  string
}

// Engine is the synthesis pipeline component.
type Engine struct {
	config Config

	rules      *synthesis.Registry
	loader     *synthesis.Loader
	merger     *entity.Merger
	dedup      *dedup.Deduplicator
	relBuilder *relationship.Builder
	validator  *relationship.Validator

	entities      store.EntityStore
	relationships store.RelationshipStore
	publisher     Publisher

	pool     *worker.Pool[task]
	registry *metric.Registry
	metrics  *engineMetrics
	logger   *slog.Logger

	mu        sync.Mutex
	state     component.State
	startedAt time.Time
	lastErr   error
	errCount  int
	cancel    context.CancelFunc
	group     *errgroup.Group
}

// New assembles an engine over the given stores and publisher. publisher
// may be nil to discard output.
func New(cfg Config, entities store.EntityStore, relationships store.RelationshipStore,
	publisher Publisher, registry *metric.Registry) (*Engine, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if publisher == nil {
		publisher = NoopPublisher{}
	}

	metrics, err := newEngineMetrics(registry)
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:        cfg,
		rules:         synthesis.NewRegistry(),
		merger:        entity.NewMerger(),
		entities:      entities,
		relationships: relationships,
		publisher:     publisher,
		registry:      registry,
		metrics:       metrics,
		logger:        slog.Default().With("component", "engine"),
		state:         component.StateCreated,
	}, nil
}

// Meta implements component.Lifecycle.
func (e *Engine) Meta() component.Metadata {
	return component.Metadata{
		Name:        "engine",
		Type:        "engine",
		Description: "entity synthesis and relationship pipeline",
		Version:     "1.0.0",
	}
}

// Health implements component.Lifecycle.
func (e *Engine) Health() component.HealthStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := component.HealthStatus{
		Healthy:    e.state == component.StateStarted,
		LastCheck:  time.Now(),
		ErrorCount: e.errCount,
	}
	if e.lastErr != nil {
		h.LastError = e.lastErr.Error()
	}
	if !e.startedAt.IsZero() {
		h.Uptime = time.Since(e.startedAt)
	}
	return h
}

// Initialize loads rules and builds the processing stages. No goroutines
// start here.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loader, err := synthesis.NewLoader()
	if err != nil {
		return err
	}
	e.loader = loader

	snap, err := loader.LoadSnapshot(e.config.RuleDir)
	if err != nil {
		e.state = component.StateFailed
		return err
	}
	e.rules.Swap(snap)
	e.logger.Info("rules loaded",
		"snapshot", snap.ID,
		"types", len(snap.Types))

	var relRules []relationship.Rule
	if e.config.RelationshipRuleDir != "" {
		relRules, err = relationship.LoadRules(e.config.RelationshipRuleDir)
		if err != nil {
			e.state = component.StateFailed
			return err
		}
	}
	builder, err := relationship.NewBuilder(relRules, e.entities, e.config.Relationship)
	if err != nil {
		e.state = component.StateFailed
		return err
	}
	e.relBuilder = builder
	e.validator = relationship.NewValidator(e.relationships, e.entities)

	e.pool = worker.NewPool(e.config.Workers, e.config.QueueSize, e.process,
		worker.WithMetricsRegistry[task](e.registry, "engine"))

	e.state = component.StateInitialized
	return nil
}

// Start brings up the worker pool, the dedup caches and the relationship
// validation loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == component.StateStarted {
		return errors.ErrAlreadyStarted
	}
	if e.state != component.StateInitialized {
		return errors.ErrNotStarted
	}

	runCtx, cancel := context.WithCancel(ctx)

	var dedupOpts []dedup.Option
	if e.registry != nil {
		dedupOpts = append(dedupOpts, dedup.WithMetrics(e.registry))
	}
	dd, err := dedup.New(runCtx, e.config.Dedup, dedupOpts...)
	if err != nil {
		cancel()
		return err
	}
	e.dedup = dd

	if err := e.pool.Start(runCtx); err != nil {
		dd.Close()
		cancel()
		return err
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		e.validator.Run(groupCtx, e.config.ValidationInterval)
		return nil
	})

	e.cancel = cancel
	e.group = group
	e.state = component.StateStarted
	e.startedAt = time.Now()
	e.logger.Info("engine started", "workers", e.config.Workers)
	return nil
}

// Stop drains the pool and shuts down the background loops.
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	if e.state != component.StateStarted {
		e.mu.Unlock()
		return errors.ErrNotStarted
	}
	e.state = component.StateStopped
	cancel := e.cancel
	group := e.group
	e.mu.Unlock()

	poolErr := e.pool.Stop(timeout)
	cancel()
	if group != nil {
		_ = group.Wait()
	}
	e.dedup.Close()

	e.logger.Info("engine stopped")
	return poolErr
}

// ReloadRules loads a fresh snapshot from the rule directories and swaps
// it in atomically. In-flight events finish on the snapshot they started
// with.
func (e *Engine) ReloadRules() error {
	snap, err := e.loader.LoadSnapshot(e.config.RuleDir)
	if err != nil {
		return err
	}
	prev := e.rules.Swap(snap)
	prevID := ""
	if prev != nil {
		prevID = prev.ID
	}
	e.logger.Info("rules reloaded",
		"snapshot", snap.ID,
		"previous", prevID,
		"version", snap.Version)
	return nil
}

// Submit routes an event onto the worker pool: one task per matched
// entity, keyed by GUID so updates to the same entity are ordered, plus
// one relationship task. Returns worker.ErrQueueFull under backpressure.
func (e *Engine) Submit(ev *event.Event) error {
	if err := ev.Validate(); err != nil {
		e.metrics.outcome("error")
		return err
	}

	snap := e.rules.Active()
	if snap == nil {
		return errors.ErrNotStarted
	}

	matches := synthesis.MatchEvent(snap.Types, ev)
	if len(matches) == 0 {
		e.metrics.skip("no_rule")
		e.metrics.outcome("skipped")
		return nil
	}

	submitted := 0
	for i := range matches {
		m := &matches[i]
		guid, err := e.deriveGUID(m, ev)
		if err != nil {
			e.metrics.skip("identifier_unresolved")
			continue
		}
		if err := e.pool.SubmitKeyed(guid, task{event: ev, match: m, guid: guid}); err != nil {
			return err
		}
		submitted++
	}
	if submitted == 0 {
		e.metrics.outcome("skipped")
		return nil
	}

	// The relationship pass shards on the event's first entity so edge
	// renewals for an entity ride the same ordering as its updates.
	return e.pool.SubmitKeyed(matches[0].Type.Key(), task{event: ev})
}

func (e *Engine) deriveGUID(m *synthesis.Match, ev *event.Event) (string, error) {
	identifier, err := m.Rule.Identifier.Resolve(ev)
	if err != nil {
		return "", err
	}
	return synthesis.GUID(ev.AccountID, m.Type.Domain, m.Type.Type, identifier, m.Rule.EncodeIdentifierInGUID), nil
}

// process handles one sharded task on a pool worker.
func (e *Engine) process(ctx context.Context, t task) error {
	started := time.Now()
	var err error
	if t.match != nil {
		err = e.processMatch(ctx, t)
	} else {
		err = e.processRelationships(ctx, t.event)
	}
	if e.metrics != nil {
		e.metrics.processDuration.Observe(time.Since(started).Seconds())
	}
	if err != nil {
		e.recordError(err)
	}
	return err
}

// processMatch runs one matched rule end to end: dedup, tag extraction,
// merge, publish.
func (e *Engine) processMatch(ctx context.Context, t task) error {
	m := t.match
	ev := t.event

	if m.AmbiguousWith > 0 && e.metrics != nil {
		e.metrics.ambiguousRules.Add(float64(m.AmbiguousWith))
	}

	identifier, err := m.Rule.Identifier.Resolve(ev)
	if err != nil {
		e.metrics.skip("identifier_unresolved")
		return nil
	}

	window, dup := e.dedup.Observe(dedup.Mutation{
		GUID:        t.guid,
		PayloadHash: dedup.HashPayload(ev, ruleAttributes(m.Rule)),
		EventTime:   ev.Timestamp,
	})
	if dup {
		if e.metrics != nil {
			e.metrics.duplicatesSuppressed.WithLabelValues(string(window)).Inc()
		}
		e.metrics.outcome("skipped")
		return nil
	}

	name := identifier
	if m.Rule.NameAttribute != "" {
		if v, ok := ev.GetString(m.Rule.NameAttribute); ok && v != "" {
			name = v
		}
	}

	update := entity.Update{
		GUID:         t.guid,
		AccountID:    ev.AccountID,
		Domain:       m.Type.Domain,
		Type:         m.Type.Type,
		Identifier:   identifier,
		Name:         name,
		EventTime:    ev.Timestamp,
		Tags:         synthesis.ExtractTags(m.Rule, ev),
		Expiration:   m.Type.Config.EntityExpiration,
		NeverExpires: m.Type.Config.NeverExpires,
	}

	var created bool
	merged, err := e.entities.Update(ctx, t.guid, func(existing *entity.Entity) (*entity.Entity, error) {
		created = existing == nil
		next, _, err := e.merger.Apply(existing, update)
		return next, err
	})
	if err != nil {
		if errors.Is(err, errors.ErrGUIDCollision) {
			if e.metrics != nil {
				e.metrics.guidCollisions.Inc()
			}
			e.logger.Error("guid collision, record dropped",
				"guid", t.guid,
				"domain", m.Type.Domain,
				"type", m.Type.Type,
				"identifier", identifier)
			e.metrics.outcome("error")
			return nil
		}
		e.metrics.outcome("error")
		return fmt.Errorf("merge %s: %w", t.guid, err)
	}

	if e.metrics != nil {
		if created {
			e.metrics.entitiesCreated.Inc()
		} else {
			e.metrics.entitiesUpdated.Inc()
		}
	}

	snap := e.rules.Active()
	record := merged.ToRecord(m.Type.GoldenTags, snap.HealthRulesFor(m.Type.Domain, m.Type.Type))
	if err := e.publisher.PublishEntity(ctx, record); err != nil {
		return fmt.Errorf("publish %s: %w", t.guid, err)
	}
	e.metrics.outcome("synthesized")
	return nil
}

// processRelationships proposes and persists edges for an event. An edge
// re-observed before its TTL elapses is renewed in place, keeping its
// validation state.
func (e *Engine) processRelationships(ctx context.Context, ev *event.Event) error {
	edges, err := e.relBuilder.Propose(ctx, ev)
	if err != nil {
		return err
	}

	for _, edge := range edges {
		stored, err := e.relationships.Update(ctx, edge.Key(), func(existing *relationship.Relationship) (*relationship.Relationship, error) {
			if existing == nil {
				return edge, nil
			}
			next := existing.Clone()
			if edge.LastSeenEventTime > next.LastSeenEventTime {
				next.LastSeenEventTime = edge.LastSeenEventTime
			}
			if edge.ExpiresAt > next.ExpiresAt {
				next.ExpiresAt = edge.ExpiresAt
			}
			return next, nil
		})
		if err != nil {
			return fmt.Errorf("store edge %s: %w", edge.Key(), err)
		}
		if e.metrics != nil {
			e.metrics.relationshipsProposed.Inc()
		}
		if err := e.publisher.PublishRelationship(ctx, stored); err != nil {
			return fmt.Errorf("publish edge %s: %w", edge.Key(), err)
		}
	}
	return nil
}

// ruleAttributes lists every event attribute a rule can read, for dedup
// hashing: tag sources, identifier inputs and the name source.
func ruleAttributes(rule *synthesis.Rule) []string {
	var attrs []string
	seen := map[string]struct{}{}
	add := func(attr string) {
		if attr == "" {
			return
		}
		if _, ok := seen[attr]; ok {
			return
		}
		seen[attr] = struct{}{}
		attrs = append(attrs, attr)
	}

	add(rule.Identifier.Attribute)
	for _, a := range rule.Identifier.FallbackChain {
		add(a)
	}
	for _, f := range rule.Identifier.Fragments {
		add(f.Attribute)
	}
	add(rule.NameAttribute)
	for key, tm := range rule.Tags {
		switch {
		case tm.HasValue:
		case len(tm.FallbackChain) > 0:
			for _, a := range tm.FallbackChain {
				add(a)
			}
		case tm.SourceAttribute != "":
			add(tm.SourceAttribute)
		default:
			add(key)
		}
	}
	return attrs
}

func (e *Engine) recordError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = err
	e.errCount++
}

// Process runs the whole pipeline for one event synchronously, bypassing
// the pool. Synchronous ingestion paths and tests use it; Submit is the
// concurrent path.
func (e *Engine) Process(ctx context.Context, ev *event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	snap := e.rules.Active()
	if snap == nil {
		return errors.ErrNotStarted
	}

	matches := synthesis.MatchEvent(snap.Types, ev)
	if len(matches) == 0 {
		e.metrics.skip("no_rule")
		e.metrics.outcome("skipped")
		return nil
	}
	for i := range matches {
		m := &matches[i]
		guid, err := e.deriveGUID(m, ev)
		if err != nil {
			e.metrics.skip("identifier_unresolved")
			continue
		}
		if err := e.processMatch(ctx, task{event: ev, match: m, guid: guid}); err != nil {
			return err
		}
	}
	return e.processRelationships(ctx, ev)
}
