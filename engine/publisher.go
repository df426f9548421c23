package engine

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/c360/entitysynth/entity"
	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/relationship"
)

// Publisher receives the engine's output records. Implementations must be
// safe for concurrent use; the worker pool publishes from every shard.
type Publisher interface {
	PublishEntity(ctx context.Context, record entity.Record) error
	PublishEntityDeletion(ctx context.Context, record entity.Record) error
	PublishRelationship(ctx context.Context, rel *relationship.Relationship) error
}

// Subjects names the NATS subjects output records land on.
type Subjects struct {
	Entities        string `yaml:"entities"`
	EntityDeletions string `yaml:"entity_deletions"`
	Relationships   string `yaml:"relationships"`
}

// DefaultSubjects returns the conventional subject layout.
func DefaultSubjects() Subjects {
	return Subjects{
		Entities:        "entitysynth.entities",
		EntityDeletions: "entitysynth.entities.deleted",
		Relationships:   "entitysynth.relationships",
	}
}

// NATSPublisher publishes output records as JSON over core NATS.
type NATSPublisher struct {
	conn     *nats.Conn
	subjects Subjects
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(conn *nats.Conn, subjects Subjects) *NATSPublisher {
	return &NATSPublisher{conn: conn, subjects: subjects}
}

func (p *NATSPublisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WrapInvalid(err, "publisher", "publish", "marshal record")
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "publisher", "publish", "publish to "+subject)
	}
	return nil
}

func (p *NATSPublisher) PublishEntity(_ context.Context, record entity.Record) error {
	return p.publish(p.subjects.Entities, record)
}

func (p *NATSPublisher) PublishEntityDeletion(_ context.Context, record entity.Record) error {
	return p.publish(p.subjects.EntityDeletions, record)
}

func (p *NATSPublisher) PublishRelationship(_ context.Context, rel *relationship.Relationship) error {
	return p.publish(p.subjects.Relationships, rel)
}

// NoopPublisher discards records. Used when no downstream is wired, and
// in tests that only assert on store state.
type NoopPublisher struct{}

func (NoopPublisher) PublishEntity(context.Context, entity.Record) error { return nil }

func (NoopPublisher) PublishEntityDeletion(context.Context, entity.Record) error { return nil }

func (NoopPublisher) PublishRelationship(context.Context, *relationship.Relationship) error {
	return nil
}
