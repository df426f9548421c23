// Package dedup suppresses repeated mutations before they reach the
// merge path. Re-delivered events are routine under at-least-once
// transports; suppressing them here keeps replay harmless and the store
// write rate proportional to real change.
package dedup

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/event"
	"github.com/c360/entitysynth/metric"
	"github.com/c360/entitysynth/pkg/cache"
)

// Window names the three suppression scales. Short absorbs transport
// redelivery bursts, medium absorbs consumer restarts, long absorbs
// pipeline replays.
type Window string

const (
	WindowShort  Window = "short"
	WindowMedium Window = "medium"
	WindowLong   Window = "long"
)

// Config sets the span of each window. A mutation recurring inside a
// window, keyed by entity, payload and time bucket, is a duplicate.
type Config struct {
	Short  time.Duration `yaml:"short"`
	Medium time.Duration `yaml:"medium"`
	Long   time.Duration `yaml:"long"`
}

// DefaultConfig mirrors the windows events are typically re-delivered
// within: a minute, five minutes, an hour.
func DefaultConfig() Config {
	return Config{
		Short:  time.Minute,
		Medium: 5 * time.Minute,
		Long:   time.Hour,
	}
}

func (c Config) validate() error {
	if c.Short <= 0 || c.Medium <= c.Short || c.Long <= c.Medium {
		return errors.WrapInvalid(
			fmt.Errorf("%w: windows must be positive and strictly increasing (short=%s medium=%s long=%s)",
				errors.ErrInvalidConfig, c.Short, c.Medium, c.Long),
			"dedup", "config", "validate")
	}
	return nil
}

type window struct {
	name  Window
	span  time.Duration
	cache cache.Cache[struct{}]
}

// Deduplicator tracks recently applied mutations across three TTL caches.
// Safe for concurrent use.
type Deduplicator struct {
	windows []window
}

// Option configures a Deduplicator.
type Option func(*options)

type options struct {
	registry *metric.Registry
}

// WithMetrics registers per-window cache metrics on the registry.
func WithMetrics(registry *metric.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// New builds a deduplicator whose window caches evict on the window
// spans. The context bounds the background cleanup goroutines.
func New(ctx context.Context, cfg Config, opts ...Option) (*Deduplicator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d := &Deduplicator{}
	for _, def := range []struct {
		name Window
		span time.Duration
	}{
		{WindowShort, cfg.Short},
		{WindowMedium, cfg.Medium},
		{WindowLong, cfg.Long},
	} {
		var cacheOpts []cache.Option[struct{}]
		if o.registry != nil {
			cacheOpts = append(cacheOpts,
				cache.WithMetrics[struct{}](o.registry, "dedup_"+string(def.name)))
		}
		c, err := cache.NewTTL[struct{}](ctx, def.span, def.span/4, cacheOpts...)
		if err != nil {
			return nil, errors.WrapFatal(err, "dedup", "new", "create "+string(def.name)+" window")
		}
		d.windows = append(d.windows, window{name: def.name, span: def.span, cache: c})
	}
	return d, nil
}

// Mutation identifies one would-be entity change for dedup purposes: the
// target entity, a digest of the extracted payload, and the event time.
type Mutation struct {
	GUID        string
	PayloadHash uint64
	EventTime   int64
}

// Observe records the mutation and reports which window, if any, had
// already seen it. The first observation in all windows returns ok=false.
// Keys bucket the event time at each window's granularity, so the same
// payload observed in two different buckets is two distinct mutations.
func (d *Deduplicator) Observe(m Mutation) (Window, bool) {
	var dup Window
	seen := false
	for _, w := range d.windows {
		key := d.key(m, w)
		if !seen {
			if _, ok := w.cache.Get(key); ok {
				dup = w.name
				seen = true
			}
		}
		// Mark every window even after a hit so longer windows keep
		// their own record of the mutation.
		_, _ = w.cache.Set(key, struct{}{})
	}
	return dup, seen
}

func (d *Deduplicator) key(m Mutation, w window) string {
	bucket := m.EventTime / int64(w.span/time.Millisecond)
	return fmt.Sprintf("%s:%x:%d", m.GUID, m.PayloadHash, bucket)
}

// Close releases the window caches.
func (d *Deduplicator) Close() {
	for _, w := range d.windows {
		_ = w.cache.Close()
	}
}

// HashPayload digests the attributes a rule actually consumes from an
// event, in sorted attribute order so map iteration cannot perturb the
// result. Attributes outside the rule's reach do not affect dedup: two
// deliveries differing only in irrelevant fields are the same mutation.
func HashPayload(e *event.Event, attrs []string) uint64 {
	sorted := make([]string, len(attrs))
	copy(sorted, attrs)
	sort.Strings(sorted)

	h := fnv.New64a()
	for _, attr := range sorted {
		v, ok := e.Get(attr)
		if !ok {
			continue
		}
		h.Write([]byte(attr))
		h.Write([]byte{0})
		h.Write([]byte(event.Stringify(v)))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
