package cache

import "time"

// janitor sweeps expired entries on a fixed interval so memory stays
// bounded even for keys that are never read again.
type janitor struct {
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// Start launches the janitor. interval <= 0 selects
// DefaultCleanupInterval. Calling Start on a running store is a no-op.
func (s *Store) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}

	s.mu.Lock()
	if s.closed || s.janitor != nil {
		s.mu.Unlock()
		return
	}
	j := &janitor{
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.janitor = j
	s.mu.Unlock()

	go s.runJanitor(j)
}

func (s *Store) runJanitor(j *janitor) {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-j.stop:
			return
		}
	}
}

// Running reports whether the janitor is active.
func (s *Store) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.janitor != nil
}

// Close stops the janitor, waits for it to exit and drops all entries.
// The store rejects new namespaces afterwards.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	j := s.janitor
	s.janitor = nil
	s.mu.Unlock()

	if j != nil {
		close(j.stop)
		<-j.done
	}
	s.Clear()
}
