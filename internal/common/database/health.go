package database

import (
	"context"
	"sync"
)

// Pinger is a backing store that can report its reachability.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// CheckAll pings every store concurrently and returns the failures keyed
// by store name. An empty map means everything answered.
func CheckAll(ctx context.Context, stores ...Pinger) map[string]string {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures = make(map[string]string)
	)
	for _, s := range stores {
		if s == nil {
			continue
		}
		wg.Add(1)
		go func(s Pinger) {
			defer wg.Done()
			if err := s.Ping(ctx); err != nil {
				mu.Lock()
				failures[s.Name()] = err.Error()
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	return failures
}
