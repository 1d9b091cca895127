package gatewayws

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

const writeWait = time.Second

type (
	ErrAdapter func(*websocket.Conn, *http.Response, error) error

	ErrorAdapters struct {
		OnDial ErrAdapter
	}

	// WsChannel is a Channel over a websocket connection. Reads and writes each run on their own
	// goroutine; Send hands frames to the writer so any number of goroutines may call it.
	WsChannel struct {
		errAdapters     ErrorAdapters
		dialParamsRepo  DialParamsRepo
		logger          Logger
		dialer          *websocket.Dialer
		connMu          sync.Mutex
		conn            *websocket.Conn
		opened          atomic.Bool
		closeSent       atomic.Bool
		closeChan       CloseChan
		closeOnce       sync.Once
		closeReason     error
		closeReasonOnce sync.Once
		recv            chan<- Message // recv frames received over the wire
		send            chan Message   // send frames to be written over the wire
	}
)

func NewWebsocketChannel(
	dialer *websocket.Dialer,
	dialParamsRepo DialParamsRepo,
	logger Logger,
	recv chan<- Message,
	errorAdapters ErrorAdapters,
) *WsChannel {
	return &WsChannel{
		errAdapters:    errorAdapters,
		dialer:         dialer,
		dialParamsRepo: dialParamsRepo,
		recv:           recv,
		send:           make(chan Message),
		closeChan:      make(CloseChan),
		logger:         logger.WithField("net", "ws_channel"),
	}
}

func NewWebsocketChannelFactory(
	logger Logger,
	dialer *websocket.Dialer,
	dialParamsRepo DialParamsRepo,
	errorAdapters ErrorAdapters,
) ChannelFactory {
	return func(_ context.Context, recv chan<- Message) Channel {
		return NewWebsocketChannel(
			dialer,
			dialParamsRepo,
			logger,
			recv,
			errorAdapters,
		)
	}
}

// Open dials the server. It returns once the connection is established or the dial failed.
func (w *WsChannel) Open(ctx context.Context) error {
	return w.start(ctx)
}

// Send hands m to the writer goroutine. It fails once the channel is closed or was never opened.
func (w *WsChannel) Send(m Message) error {
	if !w.opened.Load() {
		return errors.Wrap(ErrConnectionClosed, "channel is not open")
	}
	select {
	case <-w.closeChan:
		return ErrConnectionClosed
	default:
	}
	select {
	case w.send <- m:
		return nil
	case <-w.closeChan:
		return ErrConnectionClosed
	}
}

// Close sends a normal close frame when possible and releases the connection.
func (w *WsChannel) Close() {
	w.setCloseReason(ErrTerminated)
	w.safeClose()
}

func (w *WsChannel) CloseChan() CloseChan {
	return w.closeChan
}

// CloseErr is ErrTerminated for local closes, or a *CloseError describing the peer's close.
func (w *WsChannel) CloseErr() error {
	select {
	case <-w.closeChan:
		return w.closeReason
	default:
		return nil
	}
}

func (w *WsChannel) start(ctx context.Context) error {
	p, err := w.dialParamsRepo.Get(ctx)
	if err != nil {
		return errors.Wrap(ErrCannotConnect, err.Error())
	}

	conn, resp, err := w.dialer.DialContext(ctx, p.URL.String(), p.Header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}

	if err = w.handleDialError(conn, resp, err); err != nil {
		w.logger.Errorf("connection err to %s: %s", p.URL.String(), err)
		return err
	}

	w.logger.Debugf("success opening connection to %s", p.URL.String())

	w.connMu.Lock()
	select {
	case <-w.closeChan:
		// Closed while dialing.
		w.connMu.Unlock()
		_ = conn.Close()
		return ErrTerminated
	default:
	}
	w.conn = conn
	w.connMu.Unlock()

	conn.SetCloseHandler(func(code int, text string) error {
		w.logger.Debugf("<= [CLOSE] %d %s", code, text)
		w.push(NewCloseMessage(code, text))
		w.writeClose(conn, code)
		return nil
	})

	w.opened.Store(true)

	go w.read(ctx)
	go w.write(ctx)

	return nil
}

func (w *WsChannel) read(ctx context.Context) {
	defer w.safeClose()

	for {
		select {
		case <-w.closeChan:
			w.setCloseReason(ErrTerminated)
			return
		case <-ctx.Done():
			w.setCloseReason(ErrTerminated)
			return
		default:
			messageType, bts, err := w.conn.ReadMessage()
			if err != nil {
				select {
				case <-w.closeChan:
					w.setCloseReason(ErrTerminated)
				default:
					w.logger.Debugf("websocket read ended: %s", err)
					w.setCloseReason(newCloseError(err))
				}
				return
			}
			switch messageType {
			case websocket.BinaryMessage:
				w.logger.Debugln("<= [BIN]")
				w.push(NewBinaryMessage(bts))
			default:
				w.logger.Debugf("<= [DATA] %s", bts)
				w.push(NewDataMessage(bts))
			}
		}
	}
}

func (w *WsChannel) write(ctx context.Context) {
	defer w.safeClose()

	for {
		select {
		case <-w.closeChan:
			w.setCloseReason(ErrTerminated)
			return
		case <-ctx.Done():
			w.setCloseReason(ErrTerminated)
			return
		case msg := <-w.send:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))

			var err error

			switch msg.Type() {
			case DataMessage:
				w.logger.Debugf("=> [DATA] %s", msg.Data())
				err = w.conn.WriteMessage(websocket.TextMessage, msg.Data())
			case BinaryMessage:
				w.logger.Debugln("=> [BIN]")
				err = w.conn.WriteMessage(websocket.BinaryMessage, msg.Data())
			default:
				w.logger.Warnf("refusing to write %s frame", msg.Type())
			}

			if err != nil {
				w.logger.Errorf("error occurred on websocket write: %s", err)
				w.setCloseReason(newCloseError(err))
				return
			}
		}
	}
}

// push delivers m to the receiver unless the channel is closed first.
func (w *WsChannel) push(m Message) {
	select {
	case w.recv <- m:
	case <-w.closeChan:
	}
}

func (w *WsChannel) safeClose() {
	w.closeOnce.Do(w.close)
}

func (w *WsChannel) close() {
	w.connMu.Lock()
	defer w.connMu.Unlock()

	if w.conn != nil {
		w.writeClose(w.conn, websocket.CloseNormalClosure)
		_ = w.conn.Close()
	}
	close(w.closeChan)
}

// writeClose sends at most one close frame per connection, either the reply to the peer's close
// or our own.
func (w *WsChannel) writeClose(conn *websocket.Conn, code int) {
	if !w.closeSent.CompareAndSwap(false, true) {
		return
	}
	msg := websocket.FormatCloseMessage(code, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (w *WsChannel) setCloseReason(err error) {
	w.closeReasonOnce.Do(func() {
		w.closeReason = err
	})
}

func (w *WsChannel) handleDialError(conn *websocket.Conn, resp *http.Response, err error) error {
	if w.errAdapters.OnDial != nil {
		return w.errAdapters.OnDial(conn, resp, err)
	}

	// 1. Check HTTP errors first
	var msg string

	if resp != nil {
		if resp.Body != nil {
			bts, err := io.ReadAll(resp.Body)
			if err == nil {
				msg = string(bts)
			}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return errors.Wrap(ErrRateLimit, msg)
		}
	}

	// 2. Network errors
	if err != nil {
		return errors.Wrap(ErrCannotConnect, err.Error())
	}

	return nil
}
