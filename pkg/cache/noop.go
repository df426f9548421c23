package cache

// NewNoop returns a cache that stores nothing. Useful where caching is
// disabled but the interface is still expected.
func NewNoop[V any]() Cache[V] {
	return &noopCache[V]{stats: NewStatistics()}
}

type noopCache[V any] struct {
	stats *Statistics
}

func (n *noopCache[V]) Get(string) (V, bool) {
	var zero V
	n.stats.Miss()
	return zero, false
}

func (n *noopCache[V]) Set(key string, _ V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	n.stats.Set()
	return true, nil
}

func (n *noopCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	return false, nil
}

func (n *noopCache[V]) Clear() error       { return nil }
func (n *noopCache[V]) Size() int          { return 0 }
func (n *noopCache[V]) Keys() []string     { return nil }
func (n *noopCache[V]) Stats() *Statistics { return n.stats }
func (n *noopCache[V]) Close() error       { return nil }
