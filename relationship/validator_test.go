package relationship

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEdgeStore struct {
	mu    sync.Mutex
	edges map[string]*Relationship
}

func newFakeEdgeStore() *fakeEdgeStore {
	return &fakeEdgeStore{edges: map[string]*Relationship{}}
}

func (s *fakeEdgeStore) put(r *Relationship) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[r.Key()] = r.Clone()
}

func (s *fakeEdgeStore) Each(_ context.Context, fn func(*Relationship) error) error {
	s.mu.Lock()
	snapshot := make([]*Relationship, 0, len(s.edges))
	for _, r := range s.edges {
		snapshot = append(snapshot, r.Clone())
	}
	s.mu.Unlock()
	for _, r := range snapshot {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeEdgeStore) Update(_ context.Context, key string, fn func(*Relationship) (*Relationship, error)) (*Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var existing *Relationship
	if cur, ok := s.edges[key]; ok {
		existing = cur.Clone()
	}
	next, err := fn(existing)
	if err != nil {
		return nil, err
	}
	if next == nil {
		delete(s.edges, key)
		return nil, nil
	}
	s.edges[key] = next.Clone()
	return next, nil
}

type fakeChecker map[string]bool

func (f fakeChecker) Has(_ context.Context, guid string) (bool, error) {
	return f[guid], nil
}

func proposedEdge(source, target string) *Relationship {
	return &Relationship{
		SourceGUID: source, TargetGUID: target, Type: "CONTAINS",
		State: StateProposed, ExpiresAt: 9_999_999_999_999,
	}
}

func TestValidatorPromotesWhenBothEndpointsExist(t *testing.T) {
	edges := newFakeEdgeStore()
	edges.put(proposedEdge("g1", "g2"))

	v := NewValidator(edges, fakeChecker{"g1": true, "g2": true})
	promoted, err := v.ValidateOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	got, err := edges.Update(context.Background(), proposedEdge("g1", "g2").Key(),
		func(r *Relationship) (*Relationship, error) { return r, nil })
	require.NoError(t, err)
	assert.Equal(t, StateValidated, got.State)
}

func TestValidatorLeavesProposedWhenEndpointMissing(t *testing.T) {
	edges := newFakeEdgeStore()
	edge := proposedEdge("g1", "g2")
	edges.put(edge)

	v := NewValidator(edges, fakeChecker{"g1": true})
	promoted, err := v.ValidateOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, promoted)

	got, err := edges.Update(context.Background(), edge.Key(),
		func(r *Relationship) (*Relationship, error) { return r, nil })
	require.NoError(t, err)
	assert.Equal(t, StateProposed, got.State, "edge stays proposed until endpoints appear")
}

func TestValidatorIgnoresValidatedEdges(t *testing.T) {
	edges := newFakeEdgeStore()
	edge := proposedEdge("g1", "g2")
	edge.State = StateValidated
	edges.put(edge)

	v := NewValidator(edges, fakeChecker{"g1": true, "g2": true})
	promoted, err := v.ValidateOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, promoted)
}

func TestStateTransitions(t *testing.T) {
	r := proposedEdge("a", "b")

	require.NoError(t, r.Advance(StateValidated))
	assert.Equal(t, StateValidated, r.State)

	assert.Error(t, r.Advance(StateProposed), "validated edges never regress")

	require.NoError(t, r.Advance(StateExpired))
	assert.Error(t, r.Advance(StateValidated))
	assert.NoError(t, r.Advance(StateExpired), "same-state advance is a no-op")
}
