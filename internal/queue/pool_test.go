package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetNodeResetsFields(t *testing.T) {
	n := GetNode("payload")
	require.Equal(t, "payload", n.Data)
	assert.Equal(t, 0, n.Priority)
	assert.False(t, n.Enlisted())
	PutNode(n)
}

func TestPutNodeClearsData(t *testing.T) {
	n := GetNode(42)
	PutNode(n)

	// A subsequent GetNode may or may not return the same struct, but
	// whichever one it returns must not still carry the old payload.
	n2 := GetNode(nil)
	assert.Nil(t, n2.Data)
	PutNode(n2)
}

func TestPutNodeIgnoresEnlistedNode(t *testing.T) {
	q := New()
	n := GetNode("x")
	require.NoError(t, q.Push(n))

	// Returning an enlisted node to the pool must be a no-op: pooling it
	// would let a future GetNode hand out a node another queue still links.
	PutNode(n)
	assert.True(t, n.Enlisted())
	assert.Equal(t, n, q.Peek())

	require.NoError(t, q.Remove(n))
	PutNode(n)
}

func BenchmarkGetPutNode(b *testing.B) {
	for i := 0; i < b.N; i++ {
		n := GetNode(i)
		PutNode(n)
	}
}
