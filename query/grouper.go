package query

// Grouper splits a stream into maximal runs of consecutive items sharing a
// key. Items with the same key that are not adjacent form separate groups.
type Grouper[T any, K comparable] struct {
	next func() (T, bool, error)
	key  func(T) K

	head    T
	headKey K
	hasHead bool
	done    bool
	err     error
}

// NewGrouper reads items from next until it reports false or an error. key
// is called exactly once per item, in stream order.
func NewGrouper[T any, K comparable](next func() (T, bool, error), key func(T) K) *Grouper[T, K] {
	return &Grouper[T, K]{next: next, key: key}
}

func (g *Grouper[T, K]) pull() bool {
	if g.hasHead {
		return true
	}
	if g.done {
		return false
	}
	item, ok, err := g.next()
	if err != nil {
		g.err = err
		g.done = true
		return false
	}
	if !ok {
		g.done = true
		return false
	}
	g.head, g.headKey, g.hasHead = item, g.key(item), true
	return true
}

func (g *Grouper[T, K]) take() (T, K) {
	g.hasHead = false
	return g.head, g.headKey
}

// Next returns the following group.
func (g *Grouper[T, K]) Next() ([]T, bool) {
	if !g.pull() {
		return nil, false
	}
	first, key := g.take()
	group := []T{first}
	for g.pull() && g.headKey == key {
		item, _ := g.take()
		group = append(group, item)
	}
	return group, g.err == nil
}

// Skip advances past the following group without collecting it.
func (g *Grouper[T, K]) Skip() bool {
	if !g.pull() {
		return false
	}
	_, key := g.take()
	for g.pull() && g.headKey == key {
		g.take()
	}
	return g.err == nil
}

// Err is the first error returned by the underlying stream.
func (g *Grouper[T, K]) Err() error {
	return g.err
}
