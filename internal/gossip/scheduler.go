package gossip

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"broadcast/internal/proto"
	"broadcast/internal/storage"
	"broadcast/internal/telemetry"
	"broadcast/internal/transport"
)

// DefaultInterval is the reference gossip period.
const DefaultInterval = 300 * time.Millisecond

// MinKickInterval spaces out eager ticks requested through Kick.
const MinKickInterval = 10 * time.Millisecond

// Source yields the replication work for one tick.
type Source interface {
	Pending() []storage.Outbound
}

// Scheduler periodically pushes unacknowledged log suffixes to peers.
type Scheduler struct {
	self     string
	source   Source
	sender   transport.Sender
	interval time.Duration
	logger   *zap.Logger
	metrics  *telemetry.Metrics

	kick     chan struct{}
	kickRate *rate.Limiter

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a scheduler for node self. A non-positive interval
// selects DefaultInterval; logger and metrics may be nil.
func NewScheduler(self string, source Source, sender transport.Sender, interval time.Duration, logger *zap.Logger, metrics *telemetry.Metrics) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		self:     self,
		source:   source,
		sender:   sender,
		interval: interval,
		logger:   logger.Named("gossip"),
		metrics:  metrics,
		kick:     make(chan struct{}, 1),
		kickRate: rate.NewLimiter(rate.Every(MinKickInterval), 1),
	}
}

// Start launches the tick loop. It runs until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick()
			case <-s.kick:
				if err := s.kickRate.Wait(ctx); err != nil {
					return
				}
				s.Tick()
			}
		}
	}()

	s.logger.Info("gossip scheduler started", zap.Duration("interval", s.interval))
}

// Stop stops the tick loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("gossip scheduler stopped")
}

// Kick requests an early tick. Requests made while one is already queued
// are coalesced, and eager ticks run at most once per MinKickInterval;
// Kick never blocks.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Tick sends one propagate per lagging peer and returns how many were sent.
// Send failures are logged and left for the next tick to repair.
func (s *Scheduler) Tick() int {
	start := time.Now()
	defer func() { s.metrics.Tick(time.Since(start)) }()

	sent := 0
	for _, o := range s.source.Pending() {
		msg := proto.Request(s.self, o.Peer, o.MsgID, proto.Propagate{
			Messages: o.Values,
			StartIdx: o.StartIdx,
		})
		if err := s.sender.Send(msg); err != nil {
			s.metrics.SendError()
			s.logger.Warn("propagate failed",
				zap.String("peer", o.Peer),
				zap.Int("msg_id", o.MsgID),
				zap.Error(err))
			continue
		}
		s.metrics.Sent(proto.TypePropagate)
		s.logger.Debug("propagate sent",
			zap.String("peer", o.Peer),
			zap.Int("start_idx", o.StartIdx),
			zap.Int("values", len(o.Values)),
			zap.Int("msg_id", o.MsgID))
		sent++
	}
	return sent
}
