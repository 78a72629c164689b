package core

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](q *WorkQueue[T]) []T {
	out := []T{}
	for {
		item, ok := q.TryDequeue()
		if !ok {
			return out
		}
		out = append(out, item)
	}
}

func TestWorkQueueRejectsDuplicates(t *testing.T) {
	q := NewComparableQueue[string]()
	require.True(t, q.Enqueue("a"))
	require.True(t, q.Enqueue("b"))
	require.False(t, q.Enqueue("a"))
	assert.Equal(t, 2, q.Count())
	assert.True(t, q.Contains("b"))
}

func TestWorkQueueCustomEquality(t *testing.T) {
	q := NewWorkQueue(strings.EqualFold)
	require.True(t, q.Enqueue("Widgets.Core"))
	require.False(t, q.Enqueue("widgets.core"))
	assert.Equal(t, 1, q.Count())
}

func TestWorkQueueFIFOWithWrapAround(t *testing.T) {
	q := NewComparableQueue[int]()
	for i := 1; i <= 3; i++ {
		require.True(t, q.Enqueue(i))
	}
	first, ok := q.TryDequeue()
	require.True(t, ok)
	require.Equal(t, 1, first)

	// Buffer has capacity 4 with head at 1; these wrap and then force growth.
	for i := 4; i <= 9; i++ {
		require.True(t, q.Enqueue(i))
	}
	if diff := cmp.Diff([]int{2, 3, 4, 5, 6, 7, 8, 9}, drain(q)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, q.Count())
}

func TestWorkQueueGrowthPolicy(t *testing.T) {
	q := NewComparableQueue[int]()
	assert.Equal(t, 0, q.capacity())
	q.Enqueue(1)
	assert.Equal(t, 4, q.capacity())
	for i := 2; i <= 5; i++ {
		q.Enqueue(i)
	}
	assert.Equal(t, 8, q.capacity())
}

func TestWorkQueueAllowsReenqueueAfterDequeue(t *testing.T) {
	q := NewComparableQueue[string]()
	require.True(t, q.Enqueue("x"))
	_, ok := q.TryDequeue()
	require.True(t, ok)
	assert.True(t, q.Enqueue("x"))
}

func TestWorkQueueDequeueCountTimesEmpties(t *testing.T) {
	q := NewComparableQueue[int]()
	for i := 0; i < 37; i++ {
		q.Enqueue(i)
	}
	n := q.Count()
	for i := 0; i < n; i++ {
		_, ok := q.TryDequeue()
		require.True(t, ok)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
	_, ok = q.Peek()
	assert.False(t, ok)
}

func TestWorkQueueAllSnapshot(t *testing.T) {
	q := NewComparableQueue[int]()
	for i := 1; i <= 3; i++ {
		q.Enqueue(i)
	}
	got := []int{}
	for item, err := range q.All() {
		require.NoError(t, err)
		got = append(got, item)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, got); diff != "" {
		t.Fatalf("unexpected items (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, q.Count())
}

func TestWorkQueueAllFailsFastOnMutation(t *testing.T) {
	q := NewComparableQueue[int]()
	q.Enqueue(1)
	q.Enqueue(2)

	var iterErr error
	seen := 0
	for _, err := range q.All() {
		if err != nil {
			iterErr = err
			break
		}
		seen++
		q.Enqueue(100 + seen)
	}
	require.ErrorIs(t, iterErr, ErrConcurrentModification)
	assert.Equal(t, 1, seen)
}

func TestWorkQueueClear(t *testing.T) {
	q := NewComparableQueue[int]()
	q.Enqueue(1)
	q.Enqueue(2)
	q.Clear()
	assert.Equal(t, 0, q.Count())
	assert.True(t, q.Enqueue(1))
}

func TestWorkQueueConcurrentEnqueue(t *testing.T) {
	q := NewComparableQueue[int]()
	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Enqueue(i)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, q.Count())
}
