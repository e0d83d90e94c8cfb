package reconnect

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-collab/internal/telemetry"
)

const DefaultDelay = 5 * time.Second

// ConnectFunc re-runs the whole connect sequence
type ConnectFunc func(ctx context.Context) error

// Supervisor retries a lost control connection after a fixed delay until an
// attempt succeeds or it is stopped. There is no backoff.
type Supervisor struct {
	delay   time.Duration
	connect ConnectFunc

	lock     sync.Mutex
	timer    *time.Timer
	ctx      context.Context
	cancel   context.CancelFunc
	attempts uint64
}

func NewSupervisor(delay time.Duration, connect ConnectFunc) *Supervisor {
	if delay <= 0 {
		delay = DefaultDelay
	}

	return &Supervisor{
		delay:   delay,
		connect: connect,
	}
}

// Schedule arms a single attempt. It is a no-op while one is pending.
func (s *Supervisor) Schedule() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.timer != nil {
		return
	}
	if s.ctx == nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	s.armLocked(s.ctx)
}

func (s *Supervisor) armLocked(ctx context.Context) {
	log.Info().Str("service", "reconnect").Dur("delay", s.delay).Msg("reconnect scheduled")

	s.timer = time.AfterFunc(s.delay, func() { s.attempt(ctx) })
}

// Stop cancels the pending attempt and any attempt in flight
func (s *Supervisor) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.ctx, s.cancel = nil, nil
	}
}

func (s *Supervisor) Pending() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.timer != nil
}

func (s *Supervisor) Attempts() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.attempts
}

func (s *Supervisor) attempt(ctx context.Context) {
	s.lock.Lock()
	if ctx.Err() != nil {
		s.lock.Unlock()
		return
	}
	s.timer = nil
	s.attempts++
	attempt := s.attempts
	s.lock.Unlock()

	err := s.connect(ctx)
	if ctx.Err() != nil {
		return
	}

	if err == nil {
		telemetry.ServiceOperationCounter.WithLabelValues("reconnect", "success", "").Add(1)
		log.Info().Str("service", "reconnect").Uint64("attempt", attempt).Msg("reconnected")

		s.lock.Lock()
		if s.ctx == ctx && s.timer == nil {
			s.cancel()
			s.ctx, s.cancel = nil, nil
		}
		s.lock.Unlock()
		return
	}

	telemetry.ServiceOperationCounter.WithLabelValues("reconnect", "error", "connect").Add(1)
	log.Warn().Err(err).Str("service", "reconnect").Uint64("attempt", attempt).Msg("reconnect failed")

	s.lock.Lock()
	defer s.lock.Unlock()

	// stopped or superseded meanwhile
	if s.ctx != ctx || s.timer != nil {
		return
	}
	s.armLocked(ctx)
}
