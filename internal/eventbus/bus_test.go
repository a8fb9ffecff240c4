package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixFilter(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	tasks, unsubTasks := b.Subscribe(4, "task.")
	defer unsubTasks()

	b.Publish(Event{Type: "charge.started"})
	b.Publish(Event{Type: "task.completed", Data: "t1"})

	require.Len(t, all, 2)
	require.Len(t, tasks, 1)
	e := <-tasks
	assert.Equal(t, "task.completed", e.Type)
	assert.Equal(t, "t1", e.Data)
	assert.False(t, e.Time.IsZero())
}

func TestFullSubscriberDrops(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	assert.Equal(t, uint64(1), b.Dropped())
	assert.Equal(t, "a", (<-ch).Type)
}

func TestUnsubscribeClosesWhilePublishing(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := 0; n < 1000; n++ {
			b.Publish(Event{Type: "x"})
		}
	}()
	unsub()
	unsub()
	wg.Wait()

	for range ch {
	}
	_, open := <-ch
	assert.False(t, open)
}
