package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sliceSource[T any](items []T, failAt int) func() (T, bool, error) {
	i := 0
	return func() (T, bool, error) {
		var zero T
		if i == failAt {
			return zero, false, errors.New("boom")
		}
		if i >= len(items) {
			return zero, false, nil
		}
		i++
		return items[i-1], true, nil
	}
}

func identity(i int) int { return i }

func TestGrouperConsecutiveRuns(t *testing.T) {
	g := NewGrouper(sliceSource([]int{1, 1, 2, 1, 3, 3}, -1), identity)

	var groups [][]int
	for {
		group, ok := g.Next()
		if !ok {
			break
		}
		groups = append(groups, group)
	}

	require.NoError(t, g.Err())
	assert.Equal(t, [][]int{{1, 1}, {2}, {1}, {3, 3}}, groups)
}

func TestGrouperSkip(t *testing.T) {
	g := NewGrouper(sliceSource([]int{4, 4, 4, 5, 6, 6}, -1), identity)

	assert.True(t, g.Skip())
	group, ok := g.Next()
	assert.True(t, ok)
	assert.Equal(t, []int{5}, group)
	assert.True(t, g.Skip())
	assert.False(t, g.Skip())
	_, ok = g.Next()
	assert.False(t, ok)
}

func TestGrouperEmpty(t *testing.T) {
	g := NewGrouper(sliceSource([]int(nil), -1), identity)

	_, ok := g.Next()
	assert.False(t, ok)
	assert.NoError(t, g.Err())
}

func TestGrouperStopsOnError(t *testing.T) {
	g := NewGrouper(sliceSource([]int{1, 1, 2}, 1), identity)

	_, ok := g.Next()
	assert.False(t, ok)
	assert.EqualError(t, g.Err(), "boom")
	assert.False(t, g.Skip())
}

func TestGrouperCallsKeyOncePerItem(t *testing.T) {
	calls := 0
	g := NewGrouper(sliceSource([]int{7, 7, 7}, -1), func(int) int {
		calls++
		return calls
	})

	n := 0
	for g.Skip() {
		n++
	}
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, calls)
}
