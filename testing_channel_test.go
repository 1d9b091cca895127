package gatewayws

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeChannel is an in-memory Channel. Envelopes sent through it are decoded and queued on sent;
// tests inject inbound envelopes with deliver.
type fakeChannel struct {
	t *testing.T

	recv    chan<- Message
	sent    chan Envelope
	openErr error

	closeC     CloseChan
	closeOnce  sync.Once
	closeErr   error
	closeCalls atomic.Int32
	opened     atomic.Bool
}

func newFakeChannel(t *testing.T) *fakeChannel {
	return &fakeChannel{
		t:      t,
		sent:   make(chan Envelope, 128),
		closeC: make(CloseChan),
	}
}

func (f *fakeChannel) factory() ChannelFactory {
	return func(_ context.Context, recv chan<- Message) Channel {
		f.recv = recv
		return f
	}
}

func (f *fakeChannel) Open(context.Context) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.opened.Store(true)
	return nil
}

func (f *fakeChannel) Send(m Message) error {
	select {
	case <-f.closeC:
		return ErrConnectionClosed
	default:
	}
	env, err := DecodeEnvelope(m.Data())
	if err != nil {
		f.t.Errorf("session sent an undecodable frame %s: %s", m.Data(), err)
		return err
	}
	select {
	case f.sent <- env:
	default:
		// Nobody is reading; drop rather than block the heartbeat.
	}
	return nil
}

func (f *fakeChannel) Close() {
	f.closeCalls.Add(1)
	f.closeWith(ErrTerminated)
}

func (f *fakeChannel) closeWith(err error) {
	f.closeOnce.Do(func() {
		f.closeErr = err
		close(f.closeC)
	})
}

// remoteClose simulates the peer closing the connection.
func (f *fakeChannel) remoteClose(code int, text string) {
	f.closeWith(&CloseError{Code: code, Text: text})
}

func (f *fakeChannel) CloseChan() CloseChan { return f.closeC }

func (f *fakeChannel) CloseErr() error {
	select {
	case <-f.closeC:
		return f.closeErr
	default:
		return nil
	}
}

func (f *fakeChannel) deliver(env Envelope) {
	bts, err := EncodeEnvelope(env)
	require.NoError(f.t, err)
	f.deliverRaw(bts)
}

func (f *fakeChannel) deliverRaw(bts []byte) {
	f.recv <- NewDataMessage(bts)
}

// next waits for the next envelope the session sends.
func (f *fakeChannel) next(timeout time.Duration) (Envelope, bool) {
	select {
	case env := <-f.sent:
		return env, true
	case <-time.After(timeout):
		return Envelope{}, false
	}
}

// drainSent returns everything sent so far without waiting.
func (f *fakeChannel) drainSent() []Envelope {
	var out []Envelope
	for {
		select {
		case env := <-f.sent:
			out = append(out, env)
		default:
			return out
		}
	}
}

// syncBuffer is a bytes.Buffer safe to read while a logger writes to it from other goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
