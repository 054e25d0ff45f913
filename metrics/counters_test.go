package metrics

import (
	"sync"
	"testing"

	"ddcop/message"
)

func TestCountIncrementsPerTag(t *testing.T) {
	c := New()
	c.Count(message.TagPing)
	c.Count(message.TagPing)
	c.Count(message.TagAnnounce)

	snap := c.Snapshot()
	if snap[message.TagPing] != 2 {
		t.Fatalf("got %d, want 2", snap[message.TagPing])
	}
	if snap[message.TagAnnounce] != 1 {
		t.Fatalf("got %d, want 1", snap[message.TagAnnounce])
	}
}

func TestCountConcurrent(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	n := 500
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			c.Count(message.TagUtil)
		}()
	}
	wg.Wait()

	if got := c.Snapshot()[message.TagUtil]; got != int64(n) {
		t.Fatalf("got %d, want %d", got, n)
	}
}
