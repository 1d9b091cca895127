package gatewayws

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const missedAckLog = "previous ack was not received"

// sendRecorder collects the time of every heartbeat handed to the send function.
type sendRecorder struct {
	mu     sync.Mutex
	times  []time.Time
	err    error
	onSend func()
}

func (r *sendRecorder) send(m Message) error {
	env, err := DecodeEnvelope(m.Data())
	if err != nil || env.Op != OpHeartbeat {
		return errors.New("unexpected frame")
	}
	r.mu.Lock()
	r.times = append(r.times, time.Now())
	onSend := r.onSend
	r.mu.Unlock()
	if onSend != nil {
		onSend()
	}
	return r.err
}

func (r *sendRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.times)
}

func (r *sendRecorder) snapshot() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.times...)
}

func TestRatioJitter_Bounds(t *testing.T) {
	jitter := RatioJitter(DefaultHeartbeatJitterRatio)
	interval := time.Second

	for i := 0; i < 1000; i++ {
		d := jitter(interval)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.Less(t, d, 100*time.Millisecond)
	}

	assert.Equal(t, time.Duration(0), jitter(0))
	assert.Equal(t, time.Duration(0), RatioJitter(0)(interval))

	// A ratio above 1 is clamped to the interval itself.
	wide := RatioJitter(5)
	for i := 0; i < 1000; i++ {
		require.Less(t, wide(interval), interval)
	}
}

func TestHeartbeater_FirstFiringBeforeIntervalThenFixedSpacing(t *testing.T) {
	var (
		rec      sendRecorder
		ack      atomic.Bool
		interval = 100 * time.Millisecond
	)

	hb := newHeartbeater(NopLogger(), nil, rec.send, interval, nil, &ack)
	started := time.Now()
	hb.Start()
	defer hb.Cancel()

	require.Eventually(t, func() bool { return rec.count() >= 4 }, 2*time.Second, 5*time.Millisecond)
	hb.Cancel()

	times := rec.snapshot()
	assert.Less(t, times[0].Sub(started), interval)

	for i := 1; i < 4; i++ {
		gap := times[i].Sub(times[i-1])
		assert.InDelta(t, float64(interval), float64(gap), float64(40*time.Millisecond),
			"gap %d was %s", i, gap)
	}
}

func TestHeartbeater_MissedAckWarnsButKeepsSending(t *testing.T) {
	var (
		rec  sendRecorder
		ack  atomic.Bool
		logs syncBuffer
		reg  = prometheus.NewRegistry()
	)
	metrics := NewMetrics(reg)

	hb := newHeartbeater(NewWriterLogger(&logs, LevelDebug), metrics, rec.send, 20*time.Millisecond, NoJitter, &ack)
	hb.Start()
	defer hb.Cancel()

	require.Eventually(t, func() bool { return rec.count() >= 3 }, time.Second, 5*time.Millisecond)

	assert.True(t, ack.Load())
	assert.Contains(t, logs.String(), missedAckLog)
	assert.Contains(t, logs.String(), "WARN")
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.missedAcks), 2.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.heartbeatsSent), 2.0)
}

func TestHeartbeater_AcknowledgedHeartbeatsDoNotWarn(t *testing.T) {
	var (
		rec  sendRecorder
		ack  atomic.Bool
		logs syncBuffer
	)
	// The peer acknowledges every heartbeat as soon as it is sent.
	rec.onSend = func() { ack.Store(false) }

	hb := newHeartbeater(NewWriterLogger(&logs, LevelDebug), nil, rec.send, 10*time.Millisecond, NoJitter, &ack)
	hb.Start()
	defer hb.Cancel()

	require.Eventually(t, func() bool { return rec.count() >= 5 }, time.Second, 5*time.Millisecond)
	assert.NotContains(t, logs.String(), missedAckLog)
}

func TestHeartbeater_SendFailureDoesNotStopTimer(t *testing.T) {
	var (
		rec sendRecorder
		ack atomic.Bool
	)
	rec.err = ErrConnectionClosed

	hb := newHeartbeater(NopLogger(), nil, rec.send, 10*time.Millisecond, NoJitter, &ack)
	hb.Start()
	defer hb.Cancel()

	require.Eventually(t, func() bool { return rec.count() >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, ack.Load())
}

func TestHeartbeater_CancelStopsFirings(t *testing.T) {
	var (
		rec sendRecorder
		ack atomic.Bool
	)

	hb := newHeartbeater(NopLogger(), nil, rec.send, 10*time.Millisecond, NoJitter, &ack)
	hb.Start()
	require.Eventually(t, func() bool { return rec.count() >= 2 }, time.Second, 5*time.Millisecond)

	hb.Cancel()
	hb.Cancel()
	// At most one firing may already be in flight.
	time.Sleep(15 * time.Millisecond)
	after := rec.count()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, rec.count())
}

func TestHeartbeater_CancelBeforeStart(t *testing.T) {
	var (
		rec sendRecorder
		ack atomic.Bool
	)

	hb := newHeartbeater(NopLogger(), nil, rec.send, 5*time.Millisecond, NoJitter, &ack)
	hb.Cancel()
	hb.Start()
	hb.Start()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, rec.count())
	assert.False(t, ack.Load())
}

func TestHeartbeater_NonPositiveIntervalNeverFires(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		var (
			rec  sendRecorder
			ack  atomic.Bool
			logs syncBuffer
		)

		hb := newHeartbeater(NewWriterLogger(&logs, LevelDebug), nil, rec.send, interval, NoJitter, &ack)
		require.NotPanics(t, hb.Start)

		time.Sleep(20 * time.Millisecond)
		hb.Cancel()
		assert.Zero(t, rec.count())
		assert.Contains(t, logs.String(), "refusing to heartbeat")
	}
}
