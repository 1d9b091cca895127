package gatewayws

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultHeartbeatJitterRatio bounds the first heartbeat delay to a tenth of the interval.
const DefaultHeartbeatJitterRatio = 0.1

type (
	// JitterFunc picks the delay before the first heartbeat of a session.
	JitterFunc func(interval time.Duration) time.Duration

	// HeartbeatMessageFactory builds the frame sent on every firing.
	HeartbeatMessageFactory func() (Message, error)
)

// RatioJitter draws the first delay uniformly from [0, min(interval, interval*ratio)), spreading
// the first heartbeat of many clients that share one interval.
func RatioJitter(ratio float64) JitterFunc {
	return func(interval time.Duration) time.Duration {
		window := min(interval, time.Duration(float64(interval)*ratio))
		if window <= 0 {
			return 0
		}
		return time.Duration(rand.Int63n(int64(window)))
	}
}

// NoJitter fires the first heartbeat right away.
func NoJitter(time.Duration) time.Duration { return 0 }

func newHeartbeatEnvelopeMessage() (Message, error) {
	return NewEnvelopeMessage(NewHeartbeatEnvelope())
}

// heartbeater sends a heartbeat through a channel at a fixed interval and flags when the previous
// one was never acknowledged. A missed ack is only reported: the heartbeater never closes the
// channel and never stops on its own.
type heartbeater struct {
	logger       Logger
	metrics      *Metrics
	send         func(Message) error
	interval     time.Duration
	jitter       JitterFunc
	factory      HeartbeatMessageFactory
	expectingAck *atomic.Bool

	startOnce  sync.Once
	cancelOnce sync.Once
	cancelC    chan struct{}
}

func newHeartbeater(
	logger Logger,
	metrics *Metrics,
	send func(Message) error,
	interval time.Duration,
	jitter JitterFunc,
	expectingAck *atomic.Bool,
) *heartbeater {
	if jitter == nil {
		jitter = RatioJitter(DefaultHeartbeatJitterRatio)
	}
	return &heartbeater{
		logger:       logger.WithField("type", "heartbeater"),
		metrics:      metrics,
		send:         send,
		interval:     interval,
		jitter:       jitter,
		factory:      newHeartbeatEnvelopeMessage,
		expectingAck: expectingAck,
		cancelC:      make(chan struct{}),
	}
}

// Start spawns the firing routine. It only executes once, subsequent calls have no effect.
// A non-positive interval never fires.
func (h *heartbeater) Start() {
	h.startOnce.Do(func() {
		if h.interval <= 0 {
			h.logger.Errorf("refusing to heartbeat every %s", h.interval)
			return
		}
		delay := h.jitter(h.interval)
		h.logger.Debugf("first heartbeat in %s, then every %s", delay, h.interval)
		go h.run(delay)
	})
}

// Cancel stops future firings without waiting for one in flight. Safe to call before Start and
// more than once.
func (h *heartbeater) Cancel() {
	h.cancelOnce.Do(func() {
		close(h.cancelC)
	})
}

func (h *heartbeater) run(delay time.Duration) {
	first := time.NewTimer(delay)
	defer first.Stop()

	select {
	case <-h.cancelC:
		return
	case <-first.C:
		h.fire()
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.cancelC:
			return
		case <-ticker.C:
			h.fire()
		}
	}
}

func (h *heartbeater) fire() {
	select {
	case <-h.cancelC:
		return
	default:
	}

	if h.expectingAck.Swap(true) {
		h.logger.Warnf("heartbeat window of %s elapsed but previous ack was not received", h.interval)
		h.metrics.MissedAck()
	}

	m, err := h.factory()
	if err != nil {
		h.logger.Errorf("cannot build heartbeat: %s", err)
		return
	}
	if err := h.send(m); err != nil {
		h.logger.Errorf("cannot send heartbeat: %s", err)
		return
	}
	h.metrics.HeartbeatSent()
}
