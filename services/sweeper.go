package services

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MANAHILFATIMA72/backend-LockTalk/utils"
)

// Sweeper is the backstop for liveness: it corrects users whose deadline
// never fired, and users left online in the store or the mirror by a
// previous process.
type Sweeper struct {
	presence  *PresenceService
	users     UserStore
	mirror    PresenceMirror
	clock     clock.Clock
	logger    *utils.Logger
	interval  time.Duration
	threshold time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SweepResult counts the corrections made by one pass
type SweepResult struct {
	Registry  int
	Persisted int
	Mirror    int
}

func NewSweeper(presence *PresenceService, users UserStore, mirror PresenceMirror, clk clock.Clock, interval, threshold time.Duration, logger *utils.Logger) *Sweeper {
	if mirror == nil {
		mirror = NopMirror
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		presence:  presence,
		users:     users,
		mirror:    mirror,
		clock:     clk,
		logger:    logger,
		interval:  interval,
		threshold: threshold,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start runs a pass immediately and then on every interval
func (s *Sweeper) Start() {
	s.logger.Info("Starting stale session sweeper", "interval", s.interval, "threshold", s.threshold)

	s.wg.Add(1)
	go s.run()
}

// Stop cancels the loop and waits for an in-flight pass to finish
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Stale session sweeper stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	s.Sweep(s.ctx)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.ctx)
		}
	}
}

// Sweep runs one correction pass
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	var result SweepResult
	cutoff := s.clock.Now().Add(-s.threshold)

	for _, userID := range s.presence.StaleUsers(cutoff) {
		if s.presence.ForceOffline(ctx, userID, cutoff) {
			result.Registry++
		}
	}

	staleUsers, err := s.users.ListStaleOnline(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to fetch stale online users", "error", err)
	}
	for _, user := range staleUsers {
		// still heartbeating here; the store's last_seen only moves on
		// online/offline transitions
		if s.presence.IsAvailable(user.ID) {
			continue
		}
		if err := s.presence.MarkOffline(ctx, user.ID); err != nil {
			s.logger.Error("Failed to clean up stale user", "user_id", user.ID, "error", err)
			continue
		}
		result.Persisted++
	}

	mirrored, err := s.mirror.OnlineUserIDs(ctx)
	if err != nil {
		s.logger.Error("Failed to list mirrored presence", "error", err)
	}
	for _, userID := range mirrored {
		if s.presence.IsAvailable(userID) {
			continue
		}
		if err := s.mirror.Remove(ctx, userID); err != nil {
			s.logger.Error("Failed to prune mirrored presence", "user_id", userID, "error", err)
			continue
		}
		result.Mirror++
	}

	if result.Registry+result.Persisted+result.Mirror > 0 {
		s.logger.Info("Cleaned up stale sessions", "registry", result.Registry, "persisted", result.Persisted, "mirror", result.Mirror)
	}
	return result
}
