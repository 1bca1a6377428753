package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObserverSet_AddRemoveIdempotent(t *testing.T) {
	set := newObserverSet[string]()

	assert.True(t, set.Add("a"))
	assert.False(t, set.Add("a"))
	assert.True(t, set.Add("b"))
	assert.Equal(t, 2, set.Len())

	assert.True(t, set.Remove("a"))
	assert.False(t, set.Remove("a"))
	assert.Equal(t, []string{"b"}, set.Snapshot())
}

func TestObserverSet_SnapshotSurvivesMutation(t *testing.T) {
	set := newObserverSet[int]()
	for i := 0; i < 4; i++ {
		set.Add(i)
	}

	snapshot := set.Snapshot()
	set.Remove(1)
	set.Add(9)

	assert.Equal(t, []int{0, 1, 2, 3}, snapshot)
	assert.Equal(t, []int{0, 2, 3, 9}, set.Snapshot())
}
