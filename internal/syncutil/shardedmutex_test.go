package syncutil

import (
	"sync"
	"testing"
)

func TestShardedMutex_SerializesSameKey(t *testing.T) {
	var sm ShardedMutex
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := sm.Lock("esc_1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
}

func TestShardedMutex_UnlockReleases(t *testing.T) {
	var sm ShardedMutex

	unlock := sm.Lock("esc_1")
	unlock()

	// Re-acquiring must not deadlock.
	done := make(chan struct{})
	go func() {
		unlock := sm.Lock("esc_1")
		unlock()
		close(done)
	}()
	<-done
}

func TestShardedMutex_SameKeySameShard(t *testing.T) {
	var sm ShardedMutex
	if sm.shard("esc_1") != sm.shard("esc_1") {
		t.Error("same key mapped to different shards")
	}
}
