package stats

import (
	"sync"
	"testing"
)

func TestCollectorCounts(t *testing.T) {
	t.Parallel()

	var c Collector
	c.Hit()
	c.Hit()
	c.Miss()
	c.Download()
	c.Eviction()
	c.Eviction()
	c.Eviction()

	got := c.Snapshot()
	if got.Hits != 2 {
		t.Errorf("Hits = %d, want 2", got.Hits)
	}
	if got.Misses != 1 {
		t.Errorf("Misses = %d, want 1", got.Misses)
	}
	if got.Downloads != 1 {
		t.Errorf("Downloads = %d, want 1", got.Downloads)
	}
	if got.Evictions != 3 {
		t.Errorf("Evictions = %d, want 3", got.Evictions)
	}
}

func TestCollectorNilSafe(t *testing.T) {
	t.Parallel()

	var c *Collector
	c.Hit()
	c.Miss()
	c.Download()
	c.Eviction()

	if got := c.Snapshot(); got != (Stats{}) {
		t.Errorf("nil Snapshot() = %+v, want zero", got)
	}
}

func TestCollectorConcurrent(t *testing.T) {
	t.Parallel()

	var c Collector
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				c.Hit()
			}
		}()
	}
	wg.Wait()

	if got := c.Snapshot().Hits; got != 8000 {
		t.Errorf("Hits = %d, want 8000", got)
	}
}
