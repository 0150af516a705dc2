package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnboundedPushOrderPreserved(t *testing.T) {
	q := NewUnbounded[int]()
	for i := 0; i < 100; i++ {
		q.Push(i)
	}
	for i := 0; i < 100; i++ {
		select {
		case v := <-q.Out():
			assert.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for item %d", i)
		}
	}
}

func TestUnboundedCloseDrainsThenEnds(t *testing.T) {
	q := NewUnbounded[string]()
	q.Push("a")
	q.Push("b")
	q.Close()

	var got []string
	for v := range q.Out() {
		got = append(got, v)
	}
	require.Equal(t, []string{"a", "b"}, got)

	assert.False(t, q.Push("c"), "push after close should be rejected")
}

func TestUnboundedNeverBlocksPush(t *testing.T) {
	q := NewUnbounded[int]()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10_000; i++ {
			q.Push(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("push blocked with no consumer draining")
	}
}
