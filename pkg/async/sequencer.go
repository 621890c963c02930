package async

import (
	"context"
	"sync"
)

// Sequencer runs jobs sharing a key one after another in submission order. Jobs with
// different keys run concurrently.
type Sequencer struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func NewSequencer() *Sequencer {
	return &Sequencer{tails: make(map[string]chan struct{})}
}

// Go schedules job behind every job previously submitted under any of keys.
func Go[T any](s *Sequencer, keys []string, job func(ctx context.Context) (T, error)) *JobHandle[T] {
	done := make(chan struct{})

	s.mu.Lock()
	var waits []chan struct{}
	for _, key := range keys {
		if tail, ok := s.tails[key]; ok {
			waits = append(waits, tail)
		}
		s.tails[key] = done
	}
	s.mu.Unlock()

	return Job(func(ctx context.Context) (T, error) {
		defer s.release(keys, done)

		for _, wait := range waits {
			<-wait
		}
		return job(ctx)
	})
}

func (s *Sequencer) release(keys []string, done chan struct{}) {
	s.mu.Lock()
	for _, key := range keys {
		if s.tails[key] == done {
			delete(s.tails, key)
		}
	}
	s.mu.Unlock()

	close(done)
}

// Pending returns the number of keys with queued or running jobs.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tails)
}
