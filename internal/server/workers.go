package server

import (
	"context"
	"log"
	"time"
)

// pruneInterval is how often expired sessions are removed.
const pruneInterval = time.Minute

// StartWorkers launches all background goroutines. Call with a cancellable
// context for graceful shutdown.
func (s *Server) StartWorkers(ctx context.Context) {
	go s.runSessionPrune(ctx)
	go s.limiter.Run(ctx)
}

// runSessionPrune periodically deletes expired sessions.
func (s *Server) runSessionPrune(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(pruneInterval):
			n := s.pruneExpired()
			if n > 0 {
				log.Printf("[worker] pruned %d expired sessions", n)
			}
		}
	}
}

// pruneExpired deletes expired sessions and returns how many were removed.
func (s *Server) pruneExpired() int {
	n, err := s.dir.PruneExpired()
	if err != nil {
		log.Printf("[worker] prune expired sessions: %v", err)
		return 0
	}
	return n
}
