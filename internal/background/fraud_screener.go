package background

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/estateguard/internal/fraud"
)

// Screener decides and records the reward status of one referral
type Screener interface {
	Screen(ctx context.Context, referrerID, subjectID string) (fraud.Decision, error)
}

type screenJob struct {
	referrerID string
	subjectID  string
}

// FraudScreener evaluates new referrals off the request path. Jobs that do
// not fit in the queue are dropped and their reward stays pending.
type FraudScreener struct {
	screener Screener
	queue    chan screenJob
	logger   *slog.Logger
	timeout  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	done     chan struct{}
}

func NewFraudScreener(screener Screener, queueSize int, timeout time.Duration, logger *slog.Logger) *FraudScreener {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &FraudScreener{
		screener: screener,
		queue:    make(chan screenJob, queueSize),
		logger:   logger,
		timeout:  timeout,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Submit enqueues a referral without blocking; false means the queue is full
// or the screener has stopped
func (s *FraudScreener) Submit(referrerID, subjectID string) bool {
	select {
	case <-s.stopCh:
		return false
	default:
	}

	select {
	case s.queue <- screenJob{referrerID: referrerID, subjectID: subjectID}:
		return true
	default:
		return false
	}
}

// Start runs the worker until ctx is cancelled or Stop is called. On Stop,
// jobs already queued are still screened.
func (s *FraudScreener) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(s.done)
		for {
			select {
			case job := <-s.queue:
				s.screen(ctx, job)
			case <-ctx.Done():
				return
			case <-s.stopCh:
				s.drain(ctx)
				return
			}
		}
	}()
}

func (s *FraudScreener) drain(ctx context.Context) {
	for {
		select {
		case job := <-s.queue:
			s.screen(ctx, job)
		default:
			return
		}
	}
}

func (s *FraudScreener) screen(ctx context.Context, job screenJob) {
	screenCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	decision, err := s.screener.Screen(screenCtx, job.referrerID, job.subjectID)
	if err != nil {
		s.logger.Error("referral screening failed",
			slog.String("referrer_id", job.referrerID),
			slog.String("user_id", job.subjectID),
			slog.Any("error", err))
		return
	}
	s.logger.Debug("referral screened",
		slog.String("referrer_id", job.referrerID),
		slog.String("user_id", job.subjectID),
		slog.Bool("fraud", decision.IsFraud),
		slog.Float64("score", decision.Score))
}

// Stop closes the queue to new work and waits for the worker to finish
func (s *FraudScreener) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.started.Load() {
		<-s.done
	}
}
