package hostbridge

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

func (s *Server) runCleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupOnce()
		}
	}
}

func (s *Server) cleanupOnce() int {
	if s == nil || s.sweep == nil {
		return 0
	}
	n := s.sweep()
	if n > 0 {
		log.Info().Str("component", "hostbridge").Int("removed", n).Msg("removed expired sessions")
	}
	return n
}
