// Package sweeper retires expired entities, tags and relationships.
// Expiry is enforced by comparison, never by schedule alone: a record is
// removed only if its expiry is still in the past at deletion time, so a
// refresh racing the sweep always wins.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/c360/entitysynth/component"
	"github.com/c360/entitysynth/entity"
	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/metric"
	"github.com/c360/entitysynth/pkg/timestamp"
	"github.com/c360/entitysynth/relationship"
	"github.com/c360/entitysynth/store"
)

// Config controls sweep cadence.
type Config struct {
	// Schedule is a cron expression; the default runs every minute.
	Schedule string `yaml:"schedule"`
}

// DefaultConfig sweeps once a minute.
func DefaultConfig() Config {
	return Config{Schedule: "* * * * *"}
}

// OnEntityExpired is invoked after an entity is removed, with the entity
// as it was when the sweep observed it. Used to publish deletion records.
type OnEntityExpired func(ctx context.Context, e *entity.Entity)

// Sweeper is the expiration component. One sweep pass walks entities and
// relationships, removing what has expired and stripping expired tags
// from entities that live on.
type Sweeper struct {
	entities      store.EntityStore
	relationships store.RelationshipStore
	onExpired     OnEntityExpired

	config Config
	cron   *cron.Cron
	logger *slog.Logger

	mu        sync.Mutex
	state     component.State
	startedAt time.Time
	lastErr   error
	errCount  int
	cancel    context.CancelFunc

	metrics *sweeperMetrics
}

// New builds a sweeper over the given stores. onExpired may be nil.
func New(entities store.EntityStore, relationships store.RelationshipStore,
	cfg Config, registry *metric.Registry, onExpired OnEntityExpired) (*Sweeper, error) {

	if cfg.Schedule == "" {
		cfg.Schedule = DefaultConfig().Schedule
	}

	s := &Sweeper{
		entities:      entities,
		relationships: relationships,
		onExpired:     onExpired,
		config:        cfg,
		logger:        slog.Default().With("component", "sweeper"),
		state:         component.StateCreated,
	}

	if registry != nil {
		metrics, err := newSweeperMetrics(registry)
		if err != nil {
			return nil, err
		}
		s.metrics = metrics
	}
	return s, nil
}

// Meta implements component.Lifecycle.
func (s *Sweeper) Meta() component.Metadata {
	return component.Metadata{
		Name:        "sweeper",
		Type:        "sweeper",
		Description: "compare-and-expire sweep of entities, tags and relationships",
		Version:     "1.0.0",
	}
}

// Health implements component.Lifecycle.
func (s *Sweeper) Health() component.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := component.HealthStatus{
		Healthy:    s.state == component.StateStarted,
		LastCheck:  time.Now(),
		ErrorCount: s.errCount,
	}
	if s.lastErr != nil {
		h.LastError = s.lastErr.Error()
	}
	if !s.startedAt.IsZero() {
		h.Uptime = time.Since(s.startedAt)
	}
	return h
}

// Initialize validates the cron expression.
func (s *Sweeper) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := cron.ParseStandard(s.config.Schedule); err != nil {
		s.state = component.StateFailed
		return errors.WrapInvalid(
			fmt.Errorf("%w: schedule %q: %v", errors.ErrInvalidConfig, s.config.Schedule, err),
			"sweeper", "initialize", "parse schedule")
	}
	s.state = component.StateInitialized
	return nil
}

// Start schedules sweep passes until Stop or context cancellation.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == component.StateStarted {
		return errors.ErrAlreadyStarted
	}
	if s.state != component.StateInitialized {
		return errors.ErrNotStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.config.Schedule, func() {
		if err := s.Sweep(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.recordError(err)
			s.logger.Error("sweep pass failed", "error", err)
		}
	}); err != nil {
		cancel()
		s.state = component.StateFailed
		return errors.WrapFatal(err, "sweeper", "start", "schedule sweep")
	}
	s.cron.Start()

	s.state = component.StateStarted
	s.startedAt = time.Now()
	s.logger.Info("sweeper started", "schedule", s.config.Schedule)
	return nil
}

// Stop halts scheduling and waits up to timeout for a running pass.
func (s *Sweeper) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if s.state != component.StateStarted {
		s.mu.Unlock()
		return errors.ErrNotStarted
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.state = component.StateStopped
	done := s.cron.Stop().Done()
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("sweep pass still running after %s", timeout),
			"sweeper", "stop", "wait for pass")
	}
	s.logger.Info("sweeper stopped")
	return nil
}

func (s *Sweeper) recordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	s.errCount++
}

// Sweep runs one full pass. Exported so operators can trigger an
// out-of-schedule sweep and tests can drive passes directly.
func (s *Sweeper) Sweep(ctx context.Context) error {
	started := time.Now()
	scheduledAt := timestamp.Now()

	entities, tags, err := s.sweepEntities(ctx, scheduledAt)
	if err != nil {
		return err
	}
	edges, err := s.sweepRelationships(ctx, scheduledAt)
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.sweepDuration.Observe(time.Since(started).Seconds())
	}
	if entities+tags+edges > 0 {
		s.logger.Info("sweep pass complete",
			"entities_expired", entities,
			"tags_expired", tags,
			"relationships_expired", edges,
			"duration", time.Since(started))
	}
	return nil
}

// sweepEntities removes entities whose expiry elapsed before the pass
// started and strips expired tags from the survivors. The expiry observed
// during the scan guards the delete: an entity refreshed in between keeps
// living.
func (s *Sweeper) sweepEntities(ctx context.Context, scheduledAt int64) (int, int, error) {
	type candidate struct {
		snapshot  *entity.Entity
		expiresAt int64
	}
	var expired []candidate
	var tagged []string

	err := s.entities.Each(ctx, func(e *entity.Entity) error {
		switch {
		case e.Expired(scheduledAt):
			expired = append(expired, candidate{snapshot: e.Clone(), expiresAt: e.ExpiresAt})
		default:
			for _, tv := range e.Tags {
				if tv.Expired(scheduledAt) {
					tagged = append(tagged, e.GUID)
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, errors.WrapTransient(err, "sweeper", "sweep", "scan entities")
	}

	removedEntities := 0
	for _, c := range expired {
		if err := ctx.Err(); err != nil {
			return removedEntities, 0, err
		}
		deleted, err := s.entities.DeleteIfExpiresAt(ctx, c.snapshot.GUID, c.expiresAt)
		if err != nil {
			s.logger.Warn("entity expiry failed", "guid", c.snapshot.GUID, "error", err)
			continue
		}
		if deleted {
			removedEntities++
			if s.metrics != nil {
				s.metrics.entitiesExpired.Add(1)
			}
			if s.onExpired != nil {
				s.onExpired(ctx, c.snapshot)
			}
		}
	}

	removedTags := 0
	for _, guid := range tagged {
		if err := ctx.Err(); err != nil {
			return removedEntities, removedTags, err
		}
		_, err := s.entities.Update(ctx, guid, func(existing *entity.Entity) (*entity.Entity, error) {
			if existing == nil {
				return nil, nil
			}
			next := existing.Clone()
			removed := next.RemoveExpiredTags(scheduledAt)
			removedTags += removed
			if removed == 0 {
				return existing, nil
			}
			return next, nil
		})
		if err != nil {
			s.logger.Warn("tag expiry failed", "guid", guid, "error", err)
		}
	}
	if s.metrics != nil && removedTags > 0 {
		s.metrics.tagsExpired.Add(float64(removedTags))
	}
	return removedEntities, removedTags, nil
}

// sweepRelationships marks expired edges and removes them under the same
// compare-and-expire guard.
func (s *Sweeper) sweepRelationships(ctx context.Context, scheduledAt int64) (int, error) {
	type candidate struct {
		key       string
		expiresAt int64
	}
	var expired []candidate

	err := s.relationships.Each(ctx, func(r *relationship.Relationship) error {
		if r.Expired(scheduledAt) {
			expired = append(expired, candidate{key: r.Key(), expiresAt: r.ExpiresAt})
		}
		return nil
	})
	if err != nil {
		return 0, errors.WrapTransient(err, "sweeper", "sweep", "scan relationships")
	}

	removed := 0
	for _, c := range expired {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		// Mark the edge expired first so readers racing the delete see a
		// terminal state, then remove it guarded by the observed expiry.
		_, err := s.relationships.Update(ctx, c.key, func(existing *relationship.Relationship) (*relationship.Relationship, error) {
			if existing == nil || existing.ExpiresAt != c.expiresAt {
				return existing, nil
			}
			next := existing.Clone()
			if err := next.Advance(relationship.StateExpired); err != nil {
				return nil, err
			}
			return next, nil
		})
		if err != nil {
			s.logger.Warn("relationship expiry failed", "key", c.key, "error", err)
			continue
		}
		deleted, err := s.relationships.DeleteIfExpiresAt(ctx, c.key, c.expiresAt)
		if err != nil {
			s.logger.Warn("relationship delete failed", "key", c.key, "error", err)
			continue
		}
		if deleted {
			removed++
			if s.metrics != nil {
				s.metrics.relationshipsExpired.Add(1)
			}
		}
	}
	return removed, nil
}
